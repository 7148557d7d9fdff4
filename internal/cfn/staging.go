package cfn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// TemplateBodyLimit is the largest template CloudFormation accepts inline.
const TemplateBodyLimit = 51200

// Stager uploads templates to S3 so they can be passed by URL.
type Stager struct {
	uploader ObjectUploader
	bucket   string
	prefix   string
	region   string
}

// NewStager constructs a Stager writing to bucket under prefix.
func NewStager(uploader ObjectUploader, bucket, prefix, region string) *Stager {
	return &Stager{
		uploader: uploader,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		region:   region,
	}
}

// Stage uploads body under a content-addressed key and returns its HTTPS URL.
func (s *Stager) Stage(ctx context.Context, stackName, body string) (string, error) {
	sum := sha256.Sum256([]byte(body))
	key := path.Join(s.prefix, stackName, hex.EncodeToString(sum[:])+".template")

	_, err := s.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(body),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return "", fmt.Errorf("upload template to s3://%s/%s: %w", s.bucket, key, err)
	}
	return s.url(key), nil
}

func (s *Stager) url(key string) string {
	if s.region == "" || s.region == "us-east-1" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
