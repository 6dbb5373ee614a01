// Package blobstore provides kvstore.BlobStore implementations that keep large attachments outside
// of the document database.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3Config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/thinkparq/docfs/common/kvstore"
)

// S3Config describes the bucket attachments are stored in.
type S3Config struct {
	EndpointURL string `mapstructure:"endpoint-url"`
	PartitionID string `mapstructure:"partition-id"`
	Region      string `mapstructure:"region"`
	Bucket      string `mapstructure:"bucket"`
	// Prefix is prepended to every object key, for example "docfs/".
	Prefix    string `mapstructure:"prefix"`
	AccessKey string `mapstructure:"access-key"`
	SecretKey string `mapstructure:"secret-key"`
	// Required by most S3 compatible servers that are not AWS.
	PathStyle bool `mapstructure:"path-style"`
}

// s3API is the subset of the S3 client used by S3.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 stores blobs as objects in an S3 bucket.
type S3 struct {
	bucket string
	prefix string
	client s3API
}

var _ kvstore.BlobStore = &S3{}

// NewS3 returns a blob store for the configured bucket. Static credentials are used if provided,
// otherwise the default AWS credential chain applies.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("an S3 bucket must be specified")
	}

	loadOpts := []func(*s3Config.LoadOptions) error{
		s3Config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		loadOpts = append(loadOpts, s3Config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	if cfg.EndpointURL != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(string, string, ...any) (aws.Endpoint, error) {
			return aws.Endpoint{
				PartitionID:       cfg.PartitionID,
				URL:               cfg.EndpointURL,
				SigningRegion:     cfg.Region,
				HostnameImmutable: true,
			}, nil
		})
		loadOpts = append(loadOpts, s3Config.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := s3Config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load config for S3 blob store: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
	})
	return newS3WithClient(cfg, client), nil
}

func newS3WithClient(cfg S3Config, client s3API) *S3 {
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3{
		bucket: cfg.Bucket,
		prefix: prefix,
		client: client,
	}
}

func (b *S3) objectKey(key string) string {
	return b.prefix + key
}

func (b *S3) PutBlob(ctx context.Context, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("unable to upload object %s: %w", b.objectKey(key), err)
	}
	return nil
}

func (b *S3) GetBlob(ctx context.Context, key string) ([]byte, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", kvstore.ErrBlobNotFound, b.objectKey(key))
		}
		return nil, fmt.Errorf("unable to download object %s: %w", b.objectKey(key), err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read object %s: %w", b.objectKey(key), err)
	}
	return data, nil
}

func (b *S3) DeleteBlob(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("unable to delete object %s: %w", b.objectKey(key), err)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey"
	}
	return false
}
