// Package s3 implements the artifact store on an S3 bucket. It works
// against AWS proper and S3-compatible endpoints (MinIO et al.) via the
// BaseEndpoint override.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/MrWong99/castforge/internal/artifact"
)

// Client is the subset of the S3 API used by the store. *awss3.Client
// satisfies it.
type Client interface {
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
}

// Store is an artifact.Store backed by one S3 bucket.
type Store struct {
	client Client
	bucket string
}

var _ artifact.Store = (*Store)(nil)

// New creates a store on the given client and bucket.
func New(client Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// Options configure Connect.
type Options struct {
	// Bucket is the bucket holding all artifacts. Required.
	Bucket string

	// Endpoint optionally points at an S3-compatible service instead of
	// AWS. Path-style addressing is used when set.
	Endpoint string

	// AccessKeyID and SecretAccessKey optionally override the default AWS
	// credential chain with static credentials.
	AccessKeyID     string
	SecretAccessKey string
}

// Connect builds a client from the default AWS configuration chain
// (environment, shared config, instance role) plus the given overrides,
// and returns a store on it.
func Connect(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("artifact: s3 bucket must not be empty")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("artifact: load aws config: %w", err)
	}

	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return New(client, opts.Bucket), nil
}

// normalizeKey accepts a bare key or an s3:// URL previously returned by
// Put and reduces it to a key.
func (s *Store) normalizeKey(key string) string {
	return strings.TrimPrefix(key, "s3://"+s.bucket+"/")
}

func (s *Store) url(key string) string {
	return "s3://" + s.bucket + "/" + key
}

func (s *Store) PutBytes(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	key = s.normalizeKey(key)
	input := &awss3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("artifact: put %q: %w", key, err)
	}
	return s.url(key), nil
}

func (s *Store) PutText(ctx context.Context, key, text, contentType string) (string, error) {
	return s.PutBytes(ctx, key, []byte(text), contentType)
}

func (s *Store) GetBytes(ctx context.Context, key string) ([]byte, error) {
	key = s.normalizeKey(key)
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %q", artifact.ErrNotFound, key)
		}
		return nil, fmt.Errorf("artifact: get %q: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("artifact: read %q: %w", key, err)
	}
	return data, nil
}

func (s *Store) GetText(ctx context.Context, key string) (string, error) {
	data, err := s.GetBytes(ctx, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Delete removes the object. S3 treats deleting a missing key as success,
// so unlike the filesystem backend this never reports ErrNotFound.
func (s *Store) Delete(ctx context.Context, key string) error {
	key = s.normalizeKey(key)
	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("artifact: delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	paginator := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("artifact: list %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	return errors.As(err, &nsk)
}
