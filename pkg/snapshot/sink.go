package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vango-dev/scopebind/pkg/scope"
)

// Sink stores encoded snapshots.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) error
}

// Common errors.
var (
	ErrInvalidName = errors.New("snapshot: invalid name")
	ErrNoBucket    = errors.New("snapshot: bucket is required")
)

// FileSink writes snapshots into a directory.
type FileSink struct {
	dir string
}

// NewFileSink creates a sink rooted at dir. The directory is created on the
// first Put.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Dir returns the sink directory.
func (s *FileSink) Dir() string {
	return s.dir
}

// Put writes data to dir/name.
func (s *FileSink) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", s.dir, err)
	}

	fn := filepath.Join(s.dir, name)
	if err := os.WriteFile(fn, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", fn, err)
	}
	return nil
}

// PutObjectAPI is the subset of *s3.Client used by S3Sink.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads snapshots to an S3 bucket.
//
// Example usage:
//
//	client := snapshot.NewS3Client(snapshot.S3ClientConfig{Region: "us-east-1"})
//	sink, _ := snapshot.NewS3Sink(client, "my-bucket", "trees/")
type S3Sink struct {
	client      PutObjectAPI
	bucket      string
	prefix      string
	contentType string
}

// NewS3Sink creates a sink writing to bucket under prefix.
func NewS3Sink(client PutObjectAPI, bucket, prefix string) (*S3Sink, error) {
	if bucket == "" {
		return nil, ErrNoBucket
	}
	return &S3Sink{
		client:      client,
		bucket:      bucket,
		prefix:      prefix,
		contentType: FormatJSON.ContentType(),
	}, nil
}

// WithContentType sets the Content-Type stored with each object.
func (s *S3Sink) WithContentType(ct string) *S3Sink {
	s.contentType = ct
	return s
}

// Put uploads data to prefix+name.
func (s *S3Sink) Put(ctx context.Context, name string, data []byte) error {
	if name == "" {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	key := s.prefix + name
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(s.contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// S3ClientConfig configures NewS3Client.
type S3ClientConfig struct {
	Region string

	// Endpoint overrides the S3 endpoint (MinIO, localstack). Path-style
	// addressing is used when it is set.
	Endpoint string

	// Credentials defaults to the AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY
	// and AWS_SESSION_TOKEN environment variables.
	Credentials aws.CredentialsProvider
}

// NewS3Client builds an S3 client without loading shared AWS config files.
func NewS3Client(cfg S3ClientConfig) *s3.Client {
	creds := cfg.Credentials
	if creds == nil {
		creds = aws.NewCredentialsCache(EnvCredentials())
	}
	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return s3.New(s3.Options{
		Region:      region,
		Credentials: creds,
	}, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
}

// EnvCredentials reads static credentials from the environment on each
// retrieval.
func EnvCredentials() aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		id := os.Getenv("AWS_ACCESS_KEY_ID")
		secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
		if id == "" || secret == "" {
			return aws.Credentials{}, errors.New("snapshot: AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
		}
		return aws.Credentials{
			AccessKeyID:     id,
			SecretAccessKey: secret,
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			Source:          "Environment",
		}, nil
	})
}

// Write takes a snapshot of n, encodes it and stores it in sink. It returns
// the object name used.
func Write(ctx context.Context, sink Sink, n *scope.Node, name string, f Format) (string, error) {
	data, err := Take(n).Encode(f)
	if err != nil {
		return "", err
	}
	key := Key(name, time.Now(), f)
	if err := sink.Put(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}
