package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-k8s/stackctl/internal/cfn"
	"github.com/codex-k8s/stackctl/internal/config"
	"github.com/codex-k8s/stackctl/internal/stack"
)

// fakeCloud is an in-memory stack.Client where every submitted change settles immediately.
type fakeCloud struct {
	mu sync.Mutex

	stacks   map[string]stack.Status
	outputs  map[string]map[string]string
	settleTo map[string]stack.Status
	rejectOn map[string]error
	invalid  map[string]string
	// onDescribe runs after every Describe, outside the lock.
	onDescribe func(name string, status stack.Status)

	created  []string
	updated  []string
	deleted  []string
	inputs   map[string]stack.ChangeInput
	sessions []cfn.Session
	buckets  []cfn.Bucket
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		stacks:   make(map[string]stack.Status),
		outputs:  make(map[string]map[string]string),
		settleTo: make(map[string]stack.Status),
		rejectOn: make(map[string]error),
		invalid:  make(map[string]string),
		inputs:   make(map[string]stack.ChangeInput),
	}
}

func (f *fakeCloud) factory(_ context.Context, s cfn.Session, b cfn.Bucket) (stack.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, s)
	f.buckets = append(f.buckets, b)
	return f, nil
}

func (f *fakeCloud) Exists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.stacks[name]
	return ok, nil
}

func (f *fakeCloud) Describe(_ context.Context, name string) (stack.Snapshot, error) {
	f.mu.Lock()
	status, ok := f.stacks[name]
	outputs := f.outputs[name]
	hook := f.onDescribe
	f.mu.Unlock()

	if hook != nil {
		hook(name, status)
	}
	if !ok {
		return stack.Snapshot{}, nil
	}
	return stack.Snapshot{
		Exists:      true,
		Status:      status,
		Outputs:     outputs,
		LastUpdated: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}, nil
}

func (f *fakeCloud) ListEvents(_ context.Context, name string, _ time.Time) ([]stack.Event, error) {
	return []stack.Event{{
		ID:           "e1",
		Timestamp:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		LogicalID:    name,
		ResourceType: "AWS::CloudFormation::Stack",
		Status:       stack.StatusCreateComplete,
	}}, nil
}

func (f *fakeCloud) ValidateTemplate(_ context.Context, tmpl stack.Template) (stack.Validation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for marker, msg := range f.invalid {
		if strings.Contains(tmpl.Body, marker) {
			return stack.Validation{Valid: false, Message: msg}, nil
		}
	}
	return stack.Validation{Valid: true}, nil
}

func (f *fakeCloud) submit(name string, in stack.ChangeInput, fallback stack.Status) error {
	if err := f.rejectOn[name]; err != nil {
		return err
	}
	f.inputs[name] = in
	status := fallback
	if s, ok := f.settleTo[name]; ok {
		status = s
	}
	f.stacks[name] = status
	return nil
}

func (f *fakeCloud) Create(_ context.Context, name string, in stack.ChangeInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, name)
	return f.submit(name, in, stack.StatusCreateComplete)
}

func (f *fakeCloud) Update(_ context.Context, name string, in stack.ChangeInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, name)
	return f.submit(name, in, stack.StatusUpdateComplete)
}

func (f *fakeCloud) Delete(_ context.Context, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	delete(f.stacks, name)
	return nil
}

const projectConfig = `project: orders
region: eu-west-1
templateBucket:
  name: orders-templates
  prefix: cfn
defaults:
  pollInterval: 1ms
  capabilities: [CAPABILITY_IAM]
  tags:
    project: orders
environments:
  staging:
    region: eu-central-1
    profile: staging
    roleArn: arn:aws:iam::123456789012:role/deployer
stacks:
  - name: network
    template: templates/network.yaml
  - name: queue
    template: templates/queue.yaml
    parameterFiles: [params/queue.json]
    parameters:
      Env: '{{ .Env }}'
    tags:
      team: orders
`

const networkTemplate = "Resources:\n  Vpc:\n    Type: AWS::EC2::VPC\n"
const queueTemplate = "Parameters:\n  Env:\n    Type: String\nResources:\n  Queue:\n    Type: AWS::SQS::Queue\n"

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"stacks.yaml":            projectConfig,
		"templates/network.yaml": networkTemplate,
		"templates/queue.yaml":   queueTemplate,
		"params/queue.json":      `{"Retention": "345600", "Env": "file"}`,
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return filepath.Join(dir, "stacks.yaml")
}

func run(t *testing.T, cloud *fakeCloud, args ...string) (string, error) {
	t.Helper()
	return runContext(context.Background(), t, cloud, args...)
}

func runContext(ctx context.Context, t *testing.T, cloud *fakeCloud, args ...string) (string, error) {
	t.Helper()
	opts := &Options{ConfigPath: defaultConfigPath, newClient: cloud.factory}
	cmd := newRootCommand(opts, nil)

	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestApply_AllCreatesStacks(t *testing.T) {
	cloud := newFakeCloud()
	path := writeProject(t)

	out, err := run(t, cloud, "apply", "--all", "--config", path, "--env", "staging", "--param", "Retention=60")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"network", "queue"}, cloud.created)
	assert.Contains(t, out, "network")
	assert.Contains(t, out, "Succeeded")

	in := cloud.inputs["queue"]
	assert.Equal(t, stack.Parameters{"Env": "staging", "Retention": "60"}, in.Parameters)
	assert.Equal(t, []string{"CAPABILITY_IAM"}, in.Capabilities)
	assert.Equal(t, map[string]string{"project": "orders", "team": "orders"}, in.Tags)
	assert.Equal(t, queueTemplate, in.Template.Body)

	require.Len(t, cloud.sessions, 1)
	assert.Equal(t, "eu-central-1", cloud.sessions[0].Region)
	assert.Equal(t, "staging", cloud.sessions[0].Profile)
	assert.Equal(t, "arn:aws:iam::123456789012:role/deployer", cloud.sessions[0].RoleARN)
	assert.Equal(t, 5, cloud.sessions[0].MaxAttempts)
	assert.Equal(t, cfn.Bucket{Name: "orders-templates", Prefix: "cfn"}, cloud.buckets[0])
}

func TestApply_WritesStepOutputs(t *testing.T) {
	outputFile := filepath.Join(t.TempDir(), "github_output")
	t.Setenv("GITHUB_OUTPUT", outputFile)

	cloud := newFakeCloud()
	cloud.outputs["network"] = map[string]string{"VpcId": "vpc-123"}

	_, err := run(t, cloud, "apply", "network", "--config", writeProject(t))
	require.NoError(t, err)

	data, err := os.ReadFile(outputFile)
	require.NoError(t, err)
	assert.Equal(t, "network_VpcId=vpc-123\nnetwork_outcome=Succeeded\n", string(data))
}

func TestApply_InterruptReportsCancelled(t *testing.T) {
	outputFile := filepath.Join(t.TempDir(), "github_output")
	t.Setenv("GITHUB_OUTPUT", outputFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cloud := newFakeCloud()
	cloud.settleTo["network"] = stack.StatusCreateInProgress
	cloud.onDescribe = func(_ string, status stack.Status) {
		if status == stack.StatusCreateInProgress {
			cancel()
		}
	}

	out, err := runContext(ctx, t, cloud, "apply", "--all", "--config", writeProject(t), "--concurrency", "1")
	require.Error(t, err)

	var outcomeErr *OutcomeError
	require.ErrorAs(t, err, &outcomeErr)
	assert.Equal(t, map[string]stack.Outcome{"network": stack.Cancelled, "queue": stack.Cancelled}, outcomeErr.Outcomes)
	assert.False(t, stack.IsFatal(err))
	assert.Equal(t, []string{"network"}, cloud.created, "queue is never submitted")
	assert.Regexp(t, `network\s+Cancelled`, out)
	assert.Regexp(t, `queue\s+Cancelled`, out)

	data, err := os.ReadFile(outputFile)
	require.NoError(t, err)
	assert.Equal(t, "network_outcome=Cancelled\nqueue_outcome=Cancelled\n", string(data))
}

func TestApply_NoUpdatesIsSuccess(t *testing.T) {
	cloud := newFakeCloud()
	cloud.stacks["network"] = stack.StatusCreateComplete
	cloud.rejectOn["network"] = &stack.ValidationError{Code: "ValidationError", Message: "No updates are to be performed."}

	out, err := run(t, cloud, "apply", "network", "--config", writeProject(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"network"}, cloud.updated)
	assert.Contains(t, out, "NoUpdates")
}

func TestApply_FailedOutcomeIsError(t *testing.T) {
	cloud := newFakeCloud()
	cloud.settleTo["queue"] = stack.StatusRollbackComplete

	out, err := run(t, cloud, "apply", "--all", "--config", writeProject(t))
	require.Error(t, err)

	var outcomeErr *OutcomeError
	require.True(t, errors.As(err, &outcomeErr))
	assert.Equal(t, map[string]stack.Outcome{"queue": stack.Failed}, outcomeErr.Outcomes)
	assert.Contains(t, out, "Failed")
	assert.Contains(t, err.Error(), "queue=Failed")
}

func TestApply_FatalErrorIsReported(t *testing.T) {
	cloud := newFakeCloud()
	cloud.rejectOn["network"] = errors.New("dial tcp: connection refused")

	_, err := run(t, cloud, "apply", "--all", "--config", writeProject(t), "--concurrency", "1")
	require.Error(t, err)
	assert.True(t, stack.IsFatal(err))
	assert.Contains(t, cloud.created, "queue", "other stacks keep running")
}

func TestApply_SelectionErrors(t *testing.T) {
	path := writeProject(t)

	_, err := run(t, newFakeCloud(), "apply", "--config", path)
	require.Error(t, err)

	_, err = run(t, newFakeCloud(), "apply", "network", "--all", "--config", path)
	require.Error(t, err)

	_, err = run(t, newFakeCloud(), "apply", "missing", "--config", path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrStackNotFound))

	_, err = run(t, newFakeCloud(), "apply", "network", "--config", path, "--param", "novalue")
	require.Error(t, err)
}

func TestApply_InvalidTemplateFails(t *testing.T) {
	cloud := newFakeCloud()
	cloud.invalid["AWS::SQS::Queue"] = "Unresolved resource dependencies"

	_, err := run(t, cloud, "apply", "queue", "--config", writeProject(t))
	var outcomeErr *OutcomeError
	require.True(t, errors.As(err, &outcomeErr))
	assert.Empty(t, cloud.created)
}

func TestDelete_RequiresYesForSeveralStacks(t *testing.T) {
	cloud := newFakeCloud()
	cloud.stacks["network"] = stack.StatusCreateComplete
	cloud.stacks["queue"] = stack.StatusCreateComplete
	path := writeProject(t)

	_, err := run(t, cloud, "delete", "--all", "--config", path)
	require.Error(t, err)
	assert.Empty(t, cloud.deleted)

	out, err := run(t, cloud, "destroy", "--all", "--yes", "--config", path, "--concurrency", "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"queue", "network"}, cloud.deleted)
	assert.Contains(t, out, "Deleted")
}

func TestDelete_AbsentStack(t *testing.T) {
	cloud := newFakeCloud()

	out, err := run(t, cloud, "delete", "queue", "--config", writeProject(t))
	require.NoError(t, err)
	assert.Empty(t, cloud.deleted)
	assert.Contains(t, out, "Absent")
}

func TestStatus_PrintsSnapshots(t *testing.T) {
	cloud := newFakeCloud()
	cloud.stacks["queue"] = stack.StatusUpdateComplete
	cloud.outputs["queue"] = map[string]string{"QueueUrl": "https://sqs/orders"}

	out, err := run(t, cloud, "status", "--outputs", "--config", writeProject(t))
	require.NoError(t, err)
	assert.Contains(t, out, "UPDATE_COMPLETE")
	assert.Contains(t, out, "2026-01-02T03:04:05Z")
	assert.Contains(t, out, "QueueUrl = https://sqs/orders")
	assert.Regexp(t, `network\s+false\s+-`, out)
}

func TestValidate_ReportsInvalid(t *testing.T) {
	cloud := newFakeCloud()
	cloud.invalid["AWS::EC2::VPC"] = "Template format error"

	out, err := run(t, cloud, "validate", "--config", writeProject(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network")
	assert.Contains(t, out, "Template format error")
	assert.Empty(t, cloud.created)
}

func TestEvents(t *testing.T) {
	out, err := run(t, newFakeCloud(), "events", "queue", "--since", "0", "--config", writeProject(t))
	require.NoError(t, err)
	assert.Contains(t, out, "CREATE_COMPLETE")

	_, err = run(t, newFakeCloud(), "events", "nope", "--config", writeProject(t))
	require.Error(t, err)
}

func TestRender_WithParams(t *testing.T) {
	cloud := newFakeCloud()

	out, err := run(t, cloud, "render", "queue", "--params", "--env", "staging", "--config", writeProject(t))
	require.NoError(t, err)
	assert.Contains(t, out, "AWS::SQS::Queue")
	assert.Contains(t, out, "Env=staging")
	assert.Contains(t, out, "Retention=345600")
	assert.Empty(t, cloud.sessions, "render must not contact AWS")
}

func TestEnvDefaults(t *testing.T) {
	path := writeProject(t)
	t.Setenv("STACKCTL_CONFIG", path)
	t.Setenv("STACKCTL_ENV", "staging")
	t.Setenv("STACKCTL_REGION", "us-west-2")
	t.Setenv("STACKCTL_MAX_ATTEMPTS", "9")
	t.Setenv("STACKCTL_AWS_ACCESS_KEY_ID", "AKIDEXAMPLE")
	t.Setenv("STACKCTL_AWS_SECRET_ACCESS_KEY", "secret")

	cloud := newFakeCloud()
	_, err := run(t, cloud, "status")
	require.NoError(t, err)
	require.Len(t, cloud.sessions, 1)
	assert.Equal(t, "us-west-2", cloud.sessions[0].Region)
	assert.Equal(t, 9, cloud.sessions[0].MaxAttempts)
	assert.Equal(t, "AKIDEXAMPLE", cloud.sessions[0].AccessKeyID)

	cloud = newFakeCloud()
	_, err = run(t, cloud, "status", "--region", "ap-south-1")
	require.NoError(t, err)
	assert.Equal(t, "ap-south-1", cloud.sessions[0].Region)
}

func TestResolveDuration(t *testing.T) {
	cases := []struct {
		name     string
		flag     time.Duration
		env      time.Duration
		stack    string
		defaults string
		want     time.Duration
	}{
		{"flag wins", time.Minute, 2 * time.Minute, "3m", "4m", time.Minute},
		{"env next", 0, 2 * time.Minute, "3m", "4m", 2 * time.Minute},
		{"stack next", 0, 0, "3m", "4m", 3 * time.Minute},
		{"defaults next", 0, 0, "", "4m", 4 * time.Minute},
		{"builtin", 0, 0, "", "", 30 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveDuration(tc.flag, tc.env, tc.stack, tc.defaults, stack.DefaultTimeout)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := resolveDuration(0, 0, "soon", "", time.Second)
	require.Error(t, err)
}

func TestResolveConcurrency(t *testing.T) {
	cfg := &config.StackConfig{}
	opts := &Options{}
	assert.Equal(t, defaultConcurrency, resolveConcurrency(opts, waitFlags{}, cfg))

	cfg.Defaults.Concurrency = 2
	assert.Equal(t, 2, resolveConcurrency(opts, waitFlags{}, cfg))

	opts.settings.Concurrency = 3
	assert.Equal(t, 3, resolveConcurrency(opts, waitFlags{}, cfg))
	assert.Equal(t, 1, resolveConcurrency(opts, waitFlags{concurrency: 1}, cfg))
}

func TestOutcomeError_Message(t *testing.T) {
	err := &OutcomeError{Op: "apply", Outcomes: map[string]stack.Outcome{"b": stack.TimedOut, "a": stack.Failed}}
	assert.Equal(t, "apply: 2 stack(s) not settled: a=Failed, b=TimedOut", err.Error())
}
