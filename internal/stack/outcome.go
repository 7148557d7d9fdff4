package stack

// Outcome is the classified result of an apply or delete.
type Outcome int

const (
	// Unknown is returned together with a non-nil error.
	Unknown Outcome = iota
	// Succeeded means the create or update reached a completed status.
	Succeeded
	// Failed means the change was rejected or the remote operation ended in a failure status.
	Failed
	// NoUpdates means the stack already matches the template. Apply only.
	NoUpdates
	// Deleted means the stack was removed. Delete only.
	Deleted
	// Absent means there was no stack to delete. Delete only.
	Absent
	// Cancelled means local cancellation stopped the wait; the remote operation continues.
	Cancelled
	// TimedOut means the overall wait timeout elapsed; the remote operation continues.
	TimedOut
)

var outcomeNames = map[Outcome]string{
	Unknown:   "Unknown",
	Succeeded: "Succeeded",
	Failed:    "Failed",
	NoUpdates: "NoUpdates",
	Deleted:   "Deleted",
	Absent:    "Absent",
	Cancelled: "Cancelled",
	TimedOut:  "TimedOut",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "Unknown"
}

// OK reports whether the outcome leaves the stack in the requested state.
func (o Outcome) OK() bool {
	switch o {
	case Succeeded, NoUpdates, Deleted, Absent:
		return true
	default:
		return false
	}
}
