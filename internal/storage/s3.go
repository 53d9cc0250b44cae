package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"appbackup/internal/config"
	apperrors "appbackup/internal/errors"
	"appbackup/internal/logger"
)

// S3 stores backups in an S3 bucket, including S3-compatible services via
// a custom endpoint and path-style addressing.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	log      logger.Logger
}

// S3URIScheme marks a destination string as a bucket URI. Only a literal
// prefix counts; a filename that merely contains "s3://" further in is a
// local path.
const S3URIScheme = "s3://"

// ParseS3URI splits an s3://bucket/dir/file URI into its bucket and object
// key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, S3URIScheme)
	if !ok {
		return "", "", apperrors.NewConfigError(
			fmt.Sprintf("%q is not an S3 URI", uri),
			"Use the form s3://bucket/path/to/file.")
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", apperrors.NewConfigError(
			fmt.Sprintf("Malformed S3 URI %q", uri),
			"Use the form s3://bucket/path/to/file.")
	}
	return bucket, key, nil
}

// NewS3 builds an S3 backend from the process configuration. Explicit
// credentials win; otherwise the default AWS credential chain applies.
func NewS3(cfg *config.Config, log logger.Logger) (*S3, error) {
	if cfg.S3Bucket == "" {
		return nil, apperrors.NewConfigError("S3 storage needs a bucket",
			"Set S3_BUCKET to the bucket that should hold backups.")
	}
	return NewS3At(cfg, log, cfg.S3Bucket, cfg.S3Prefix)
}

// NewS3At builds an S3 backend bound to an explicit bucket and key prefix
// instead of the configured ones. Bucket-URI destinations resolve through
// here.
func NewS3At(cfg *config.Config, log logger.Logger, bucket, prefix string) (*S3, error) {
	ctx := context.Background()
	var (
		awsCfg aws.Config
		err    error
	)
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		provider := credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithCredentialsProvider(provider),
			awsconfig.WithRegion(cfg.S3Region),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		if cfg.S3PathStyle {
			o.UsePathStyle = true
		}
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 5
		u.LeavePartsOnError = false
	})

	return &S3{
		client:   client,
		uploader: uploader,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		log:      log,
	}, nil
}

func (s *S3) Name() string { return "s3" }

func (s *S3) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Save streams to the bucket through the multipart uploader. Seekable
// sources are rewound and retried on transient failures; one-shot streams
// get a single attempt.
func (s *S3) Save(ctx context.Context, name string, r io.Reader) error {
	key := s.key(name)
	upload := func() error {
		if seeker, ok := r.(io.Seeker); ok {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("failed to rewind upload source: %w", err)
			}
		}
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   r,
		})
		return err
	}

	var err error
	if _, seekable := r.(io.Seeker); seekable {
		err = retryOperation(ctx, s.log, "s3 upload "+name, defaultRetryConfig(), upload)
	} else {
		err = upload()
	}
	if err != nil {
		return apperrors.StorageFailed("save", name, err)
	}
	return nil
}

func (s *S3) ReadFile(ctx context.Context, name string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return nil, apperrors.StorageFailed("read", name, err)
	}
	return result.Body, nil
}

func (s *S3) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, apperrors.StorageFailed("stat", name, err)
	}
	return true, nil
}

// Size reports the object size from a head request.
func (s *S3) Size(ctx context.Context, name string) (int64, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return 0, apperrors.StorageFailed("stat", name, err)
	}
	return aws.ToInt64(head.ContentLength), nil
}

func (s *S3) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return apperrors.StorageFailed("delete", name, err)
	}
	return nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.key(prefix)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})

	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, apperrors.StorageFailed("list", fullPrefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			names = append(names, path.Base(*obj.Key))
		}
	}
	return names, nil
}
