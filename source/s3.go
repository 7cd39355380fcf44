package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wudi/pdfstamp/annotation"
)

// GetObjectAPI is the part of the S3 client the reader needs.
type GetObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 reads "s3://bucket/key" locators.
type S3 struct {
	Client GetObjectAPI
	// MaxBytes bounds an object's size; zero means 32 MiB.
	MaxBytes int64
}

// NewS3 builds a reader from the default AWS configuration chain.
func NewS3(ctx context.Context) (*S3, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &S3{Client: s3.NewFromConfig(cfg)}, nil
}

// ParseS3URL splits "s3://bucket/key".
func ParseS3URL(locator string) (bucket, key string, err error) {
	u, err := url.Parse(locator)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 locator %q", locator)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3 locator %q has no key", locator)
	}
	return u.Host, key, nil
}

func (s *S3) ReadBytes(ctx context.Context, f annotation.File) ([]byte, error) {
	bucket, key, err := ParseS3URL(f.Locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	resp, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s not found", ErrIO, f.Locator)
		}
		return nil, fmt.Errorf("%w: get %s: %v", ErrIO, f.Locator, err)
	}
	defer resp.Body.Close()

	limit := s.MaxBytes
	if limit <= 0 {
		limit = 32 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrIO, f.Locator, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrIO, f.Locator, limit)
	}
	return data, nil
}
