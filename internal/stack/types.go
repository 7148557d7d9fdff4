// Package stack reconciles a named infrastructure stack against a remote orchestration service.
//
// A Reconciler decides between create and update, submits the change, waits for the remote
// operation to settle and reduces everything it observed to a single Outcome.
package stack

import (
	"context"
	"strings"
	"time"
)

// Status is a value of the remote service's stack status enumeration.
type Status string

const (
	StatusCreateInProgress         Status = "CREATE_IN_PROGRESS"
	StatusCreateComplete           Status = "CREATE_COMPLETE"
	StatusCreateFailed             Status = "CREATE_FAILED"
	StatusRollbackInProgress       Status = "ROLLBACK_IN_PROGRESS"
	StatusRollbackComplete         Status = "ROLLBACK_COMPLETE"
	StatusRollbackFailed           Status = "ROLLBACK_FAILED"
	StatusUpdateInProgress         Status = "UPDATE_IN_PROGRESS"
	StatusUpdateComplete           Status = "UPDATE_COMPLETE"
	StatusUpdateFailed             Status = "UPDATE_FAILED"
	StatusUpdateRollbackInProgress Status = "UPDATE_ROLLBACK_IN_PROGRESS"
	StatusUpdateRollbackComplete   Status = "UPDATE_ROLLBACK_COMPLETE"
	StatusUpdateRollbackFailed     Status = "UPDATE_ROLLBACK_FAILED"
	StatusDeleteInProgress         Status = "DELETE_IN_PROGRESS"
	StatusDeleteComplete           Status = "DELETE_COMPLETE"
	StatusDeleteFailed             Status = "DELETE_FAILED"
	StatusImportComplete           Status = "IMPORT_COMPLETE"
	StatusReviewInProgress         Status = "REVIEW_IN_PROGRESS"
)

// Terminal reports whether the remote service will not change the status further
// without a new operation.
func (s Status) Terminal() bool {
	v := string(s)
	return strings.HasSuffix(v, "_COMPLETE") || strings.HasSuffix(v, "_FAILED")
}

// Failed reports whether s is a failure status, including completed rollbacks.
func (s Status) Failed() bool {
	v := string(s)
	return strings.HasSuffix(v, "_FAILED") || strings.Contains(v, "ROLLBACK")
}

func (s Status) String() string { return string(s) }

// Snapshot is a point-in-time view of a stack. A stack that does not exist has no status.
type Snapshot struct {
	Exists       bool
	Status       Status
	StatusReason string
	StackID      string
	Outputs      map[string]string
	LastUpdated  time.Time
}

// Event is a single record of the remote stack event log.
type Event struct {
	ID           string
	Timestamp    time.Time
	LogicalID    string
	PhysicalID   string
	ResourceType string
	Status       Status
	Reason       string
	// Token is the client request token of the operation that produced the event, if any.
	Token string
}

// Parameters maps template parameter names to values.
type Parameters map[string]string

// Template is opaque template content supplied by the caller.
type Template struct {
	// Source names where the body was loaded from, used only in logs.
	Source string
	Body   string
}

// Validation is the remote service's verdict on a template.
type Validation struct {
	Valid   bool
	Message string
	// Capabilities lists the capabilities the template requires to be acknowledged.
	Capabilities []string
}

// ChangeInput carries everything a create or update submission needs.
type ChangeInput struct {
	Template        Template
	Parameters      Parameters
	Capabilities    []string
	Tags            map[string]string
	DisableRollback bool
	Token           string
}

// Client is the contract of the remote orchestration service consumed by the reconciler.
//
// Create, Update and Delete fail with *ValidationError when the service rejects the request,
// including the benign "no updates" rejection. Any other error is treated as a transport problem.
// A Client must be safe for concurrent use across different stack names.
type Client interface {
	Exists(ctx context.Context, name string) (bool, error)
	Describe(ctx context.Context, name string) (Snapshot, error)
	// ListEvents returns events recorded at or after since, oldest first.
	ListEvents(ctx context.Context, name string, since time.Time) ([]Event, error)
	ValidateTemplate(ctx context.Context, tmpl Template) (Validation, error)
	Create(ctx context.Context, name string, in ChangeInput) error
	Update(ctx context.Context, name string, in ChangeInput) error
	Delete(ctx context.Context, name, token string) error
}
