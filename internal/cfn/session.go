package cfn

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

const roleSessionName = "stackctl"

// Session describes how to reach AWS.
type Session struct {
	Region  string
	Profile string
	// RoleARN, when set, is assumed on top of the base credentials.
	RoleARN string
	// AccessKeyID and SecretAccessKey select static credentials instead of the default chain.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// MaxAttempts bounds SDK-level retries of throttled or transient calls.
	MaxAttempts int
}

// Bucket configures template staging.
type Bucket struct {
	Name   string
	Prefix string
}

// LoadConfig resolves an aws.Config for s.
func LoadConfig(ctx context.Context, s Session) (aws.Config, error) {
	var opts []func(*awscfg.LoadOptions) error
	if s.Region != "" {
		opts = append(opts, awscfg.WithRegion(s.Region))
	}
	if s.Profile != "" {
		opts = append(opts, awscfg.WithSharedConfigProfile(s.Profile))
	}
	if s.AccessKeyID != "" && s.SecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKeyID, s.SecretAccessKey, s.SessionToken),
		))
	}
	if s.MaxAttempts > 0 {
		maxAttempts := s.MaxAttempts
		opts = append(opts, awscfg.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), maxAttempts)
		}))
	}

	cfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("aws: load config: %w", err)
	}

	if s.RoleARN != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), s.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = roleSessionName
		})
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}
	return cfg, nil
}

// NewFromConfig builds a Client backed by the real CloudFormation and S3 clients.
func NewFromConfig(cfg aws.Config, bucket Bucket) *Client {
	var stager *Stager
	if bucket.Name != "" {
		stager = NewStager(s3.NewFromConfig(cfg), bucket.Name, bucket.Prefix, cfg.Region)
	}
	return New(cloudformation.NewFromConfig(cfg), stager)
}
