package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/eon-neos/neosupdater/pkg/errors"
)

// ObjectGetter is the subset of the S3 API the getter needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Getter reads s3://bucket/key objects with ranged GetObject calls.
type S3Getter struct {
	client ObjectGetter
}

// NewS3Getter creates an S3 getter for anonymous access
func NewS3Getter(ctx context.Context, region string) (*S3Getter, error) {
	slog.Info("s3_client_init", "region", region)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return &S3Getter{client: s3.NewFromConfig(cfg)}, nil
}

// newS3GetterWithClient wraps an existing client.
func newS3GetterWithClient(client ObjectGetter) *S3Getter {
	return &S3Getter{client: client}
}

func (g *S3Getter) Get(ctx context.Context, rawURL string, offset int64, w io.Writer, progress ProgressFunc) error {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return err
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if offset > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}

	result, err := g.client.GetObject(ctx, input)
	if err != nil {
		if isInvalidRange(err) {
			return ErrRangeNotSatisfiable
		}
		slog.Error("s3_get_object_failed", "bucket", bucket, "s3_key", key, "error", err)
		return errors.Wrap(err, "failed to get object from S3")
	}
	defer result.Body.Close()

	total := int64(-1)
	if result.ContentLength != nil {
		total = offset + aws.ToInt64(result.ContentLength)
	}

	pw := &progressWriter{w: w, done: offset, total: total, progress: progress}
	if _, err := io.Copy(pw, result.Body); err != nil {
		return errors.Wrap(err, "s3 transfer interrupted")
	}
	return nil
}

func isInvalidRange(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange" {
		return true
	}
	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) && statusErr.HTTPStatusCode() == http.StatusRequestedRangeNotSatisfiable {
		return true
	}
	return false
}
