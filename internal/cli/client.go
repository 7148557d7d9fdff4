package cli

import (
	"context"
	"log/slog"

	"github.com/codex-k8s/stackctl/internal/cfn"
	"github.com/codex-k8s/stackctl/internal/config"
	"github.com/codex-k8s/stackctl/internal/stack"
)

// clientFactory builds the remote client used by every command of one invocation.
type clientFactory func(ctx context.Context, session cfn.Session, bucket cfn.Bucket) (stack.Client, error)

// newAWSClient resolves AWS configuration and returns a CloudFormation-backed client.
func newAWSClient(ctx context.Context, session cfn.Session, bucket cfn.Bucket) (stack.Client, error) {
	cfg, err := cfn.LoadConfig(ctx, session)
	if err != nil {
		return nil, err
	}
	return cfn.NewFromConfig(cfg, bucket), nil
}

// session combines the resolved environment with flag and STACKCTL_* overrides.
func (p *project) session(opts *Options) cfn.Session {
	s := cfn.Session{
		Region:          p.env.Region,
		Profile:         p.env.Profile,
		RoleARN:         p.env.RoleARN,
		AccessKeyID:     opts.settings.AccessKeyID,
		SecretAccessKey: opts.settings.SecretAccessKey,
		SessionToken:    opts.settings.SessionToken,
		MaxAttempts:     opts.settings.MaxAttempts,
	}
	if opts.Region != "" {
		s.Region = opts.Region
	}
	if opts.Profile != "" {
		s.Profile = opts.Profile
	}
	return s
}

func bucketFrom(cfg *config.StackConfig) cfn.Bucket {
	if cfg.TemplateBucket == nil {
		return cfn.Bucket{}
	}
	return cfn.Bucket{Name: cfg.TemplateBucket.Name, Prefix: cfg.TemplateBucket.Prefix}
}

// client builds the remote client for p.
func (p *project) client(ctx context.Context, opts *Options, logger *slog.Logger) (stack.Client, error) {
	session := p.session(opts)
	logger.Debug("connecting to cloudformation",
		"region", session.Region,
		"profile", session.Profile,
		"assumeRole", session.RoleARN != "",
	)
	factory := opts.newClient
	if factory == nil {
		factory = newAWSClient
	}
	return factory(ctx, session, bucketFrom(p.cfg))
}
