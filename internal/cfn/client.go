package cfn

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/codex-k8s/stackctl/internal/stack"
)

// Client adapts the CloudFormation API to stack.Client.
type Client struct {
	api    API
	stager *Stager
}

var _ stack.Client = (*Client)(nil)

// New constructs a Client. stager may be nil, in which case templates above
// TemplateBodyLimit are rejected.
func New(api API, stager *Stager) *Client {
	return &Client{api: api, stager: stager}
}

// Exists reports whether a live stack called name exists.
func (c *Client) Exists(ctx context.Context, name string) (bool, error) {
	snap, err := c.Describe(ctx, name)
	if err != nil {
		return false, err
	}
	return snap.Exists, nil
}

// Describe fetches the current snapshot. Unknown and deleted stacks yield Exists=false.
func (c *Client) Describe(ctx context.Context, name string) (stack.Snapshot, error) {
	out, err := c.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(name),
	})
	if err != nil {
		if isStackMissing(err) {
			return stack.Snapshot{}, nil
		}
		return stack.Snapshot{}, fmt.Errorf("cloudformation: describe stack %s: %w", name, err)
	}
	if len(out.Stacks) == 0 {
		return stack.Snapshot{}, nil
	}

	s := out.Stacks[0]
	status := stack.Status(s.StackStatus)
	if status == stack.StatusDeleteComplete {
		return stack.Snapshot{}, nil
	}

	snap := stack.Snapshot{
		Exists:       true,
		Status:       status,
		StatusReason: aws.ToString(s.StackStatusReason),
		StackID:      aws.ToString(s.StackId),
		Outputs:      make(map[string]string, len(s.Outputs)),
	}
	for _, o := range s.Outputs {
		snap.Outputs[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	switch {
	case s.LastUpdatedTime != nil:
		snap.LastUpdated = *s.LastUpdatedTime
	case s.CreationTime != nil:
		snap.LastUpdated = *s.CreationTime
	}
	return snap, nil
}

// ListEvents pages through the event log newest first and stops at the first event older
// than since. The result is ordered oldest first.
func (c *Client) ListEvents(ctx context.Context, name string, since time.Time) ([]stack.Event, error) {
	paginator := cloudformation.NewDescribeStackEventsPaginator(c.api, &cloudformation.DescribeStackEventsInput{
		StackName: aws.String(name),
	})

	var events []stack.Event
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isStackMissing(err) {
				break
			}
			return nil, fmt.Errorf("cloudformation: describe stack events %s: %w", name, err)
		}

		older := false
		for _, ev := range page.StackEvents {
			ts := aws.ToTime(ev.Timestamp)
			if !since.IsZero() && ts.Before(since) {
				older = true
				break
			}
			events = append(events, stack.Event{
				ID:           aws.ToString(ev.EventId),
				Timestamp:    ts,
				LogicalID:    aws.ToString(ev.LogicalResourceId),
				PhysicalID:   aws.ToString(ev.PhysicalResourceId),
				ResourceType: aws.ToString(ev.ResourceType),
				Status:       stack.Status(ev.ResourceStatus),
				Reason:       aws.ToString(ev.ResourceStatusReason),
				Token:        aws.ToString(ev.ClientRequestToken),
			})
		}
		if older {
			break
		}
	}

	slices.Reverse(events)
	return events, nil
}

// ValidateTemplate asks CloudFormation to validate tmpl. A rejected template is reported as
// Valid=false rather than as an error.
func (c *Client) ValidateTemplate(ctx context.Context, tmpl stack.Template) (stack.Validation, error) {
	body, url, err := c.templateSource(ctx, "validate", tmpl)
	if err != nil {
		return stack.Validation{}, err
	}

	out, err := c.api.ValidateTemplate(ctx, &cloudformation.ValidateTemplateInput{
		TemplateBody: body,
		TemplateURL:  url,
	})
	if err != nil {
		if rejection, ok := translate(err).(*stack.ValidationError); ok {
			return stack.Validation{Valid: false, Message: rejection.Message}, nil
		}
		return stack.Validation{}, fmt.Errorf("cloudformation: validate template: %w", err)
	}

	v := stack.Validation{Valid: true, Message: aws.ToString(out.CapabilitiesReason)}
	for _, capability := range out.Capabilities {
		v.Capabilities = append(v.Capabilities, string(capability))
	}
	return v, nil
}

// Create submits a new stack.
func (c *Client) Create(ctx context.Context, name string, in stack.ChangeInput) error {
	body, url, err := c.templateSource(ctx, name, in.Template)
	if err != nil {
		return err
	}

	_, err = c.api.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:          aws.String(name),
		TemplateBody:       body,
		TemplateURL:        url,
		Parameters:         toParameters(in.Parameters),
		Capabilities:       toCapabilities(in.Capabilities),
		Tags:               toTags(in.Tags),
		DisableRollback:    aws.Bool(in.DisableRollback),
		ClientRequestToken: optional(in.Token),
	})
	if err != nil {
		return wrap("create stack", name, err)
	}
	return nil
}

// Update submits a change to an existing stack. "No updates are to be performed" comes back
// as a *stack.ValidationError like any other rejection.
func (c *Client) Update(ctx context.Context, name string, in stack.ChangeInput) error {
	body, url, err := c.templateSource(ctx, name, in.Template)
	if err != nil {
		return err
	}

	_, err = c.api.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:          aws.String(name),
		TemplateBody:       body,
		TemplateURL:        url,
		Parameters:         toParameters(in.Parameters),
		Capabilities:       toCapabilities(in.Capabilities),
		Tags:               toTags(in.Tags),
		DisableRollback:    aws.Bool(in.DisableRollback),
		ClientRequestToken: optional(in.Token),
	})
	if err != nil {
		return wrap("update stack", name, err)
	}
	return nil
}

// Delete submits a stack deletion.
func (c *Client) Delete(ctx context.Context, name, token string) error {
	_, err := c.api.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName:          aws.String(name),
		ClientRequestToken: optional(token),
	})
	if err != nil {
		return wrap("delete stack", name, err)
	}
	return nil
}

// templateSource returns either an inline body or a staged URL for tmpl.
func (c *Client) templateSource(ctx context.Context, name string, tmpl stack.Template) (*string, *string, error) {
	if len(tmpl.Body) <= TemplateBodyLimit {
		return aws.String(tmpl.Body), nil, nil
	}
	if c.stager == nil {
		return nil, nil, &stack.ValidationError{
			Code:    "TemplateTooLarge",
			Message: fmt.Sprintf("template is %d bytes, inline limit is %d; configure templateBucket", len(tmpl.Body), TemplateBodyLimit),
		}
	}
	url, err := c.stager.Stage(ctx, name, tmpl.Body)
	if err != nil {
		return nil, nil, err
	}
	return nil, aws.String(url), nil
}

// wrap keeps rejections unwrapped-typed and annotates everything else.
func wrap(op, name string, err error) error {
	translated := translate(err)
	if _, ok := translated.(*stack.ValidationError); ok {
		return translated
	}
	return fmt.Errorf("cloudformation: %s %s: %w", op, name, err)
}

func toParameters(params stack.Parameters) []cftypes.Parameter {
	if len(params) == 0 {
		return nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]cftypes.Parameter, 0, len(keys))
	for _, k := range keys {
		out = append(out, cftypes.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(params[k]),
		})
	}
	return out
}

func toCapabilities(caps []string) []cftypes.Capability {
	out := make([]cftypes.Capability, 0, len(caps))
	for _, c := range caps {
		out = append(out, cftypes.Capability(c))
	}
	return out
}

func toTags(tags map[string]string) []cftypes.Tag {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]cftypes.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, cftypes.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
