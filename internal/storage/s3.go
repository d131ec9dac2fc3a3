package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/snarg/voxarchive/internal/config"
)

const objectScheme = "s3://"

// S3Store reads voice files from an S3-compatible object store.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	log    zerolog.Logger
}

// NewS3Store creates an S3 audio store from config.
func NewS3Store(cfg config.S3Config, log zerolog.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		log:    log.With().Str("component", "s3-store").Logger(),
	}, nil
}

// HeadBucket checks that the bucket exists and credentials are valid.
func (s *S3Store) HeadBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &s.bucket,
	})
	return err
}

func (s *S3Store) LocalPath(key string) string {
	return ""
}

func (s *S3Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	bucket, objKey := s.locate(key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &objKey,
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, objKey, err)
	}
	s.log.Debug().Str("bucket", bucket).Str("key", objKey).Msg("object fetched")
	return out.Body, nil
}

func (s *S3Store) Exists(ctx context.Context, key string) bool {
	bucket, objKey := s.locate(key)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &bucket,
		Key:    &objKey,
	})
	return err == nil
}

func (s *S3Store) Type() string { return "s3" }

// locate maps a key to bucket and object key. Object references carry
// their own bucket; plain keys live under the configured prefix.
func (s *S3Store) locate(key string) (string, string) {
	if bucket, objKey, ok := parseObjectRef(key); ok {
		return bucket, objKey
	}
	key = strings.TrimPrefix(key, "/")
	if s.prefix != "" {
		return s.bucket, s.prefix + "/" + key
	}
	return s.bucket, key
}

func isObjectRef(key string) bool {
	return strings.HasPrefix(key, objectScheme)
}

// parseObjectRef splits s3://bucket/key.
func parseObjectRef(ref string) (bucket, key string, ok bool) {
	if !isObjectRef(ref) {
		return "", "", false
	}
	bucket, key, found := strings.Cut(strings.TrimPrefix(ref, objectScheme), "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
