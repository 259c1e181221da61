package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/richxcame/giftcard-ledger/pkg/config"
	"github.com/richxcame/giftcard-ledger/pkg/logger"
	"go.uber.org/zap"
)

// objectPutter is the part of the S3 API exports write through
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Storage writes ledger exports to a private, server-side encrypted bucket
type S3Storage struct {
	objects objectPutter
	presign *s3.PresignClient
	bucket  string
	baseURL string
	now     func() time.Time
}

// NewS3Storage builds the export store. Static keys are used when both are
// set, otherwise the default AWS credential chain. A custom endpoint (MinIO,
// localstack) switches to path style addressing.
func NewS3Storage(ctx context.Context, cfg config.StorageConfig) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Storage{
		objects: client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		baseURL: objectBaseURL(cfg),
		now:     time.Now,
	}, nil
}

func objectBaseURL(cfg config.StorageConfig) string {
	switch {
	case cfg.BaseURL != "":
		return strings.TrimRight(cfg.BaseURL, "/")
	case cfg.Endpoint != "":
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
}

// Upload writes an export. Browsers following the download link save it under
// the key's file name.
func (s *S3Storage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*UploadResult, error) {
	_, err := s.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 reader,
		ContentLength:        aws.Int64(size),
		ContentType:          aws.String(contentType),
		ContentDisposition:   aws.String(fmt.Sprintf("attachment; filename=%q", path.Base(key))),
		ACL:                  types.ObjectCannedACLPrivate,
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		logger.WithContext(ctx).Error("export upload failed",
			zap.String("bucket", s.bucket),
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to upload export %s: %w", key, err)
	}

	return &UploadResult{
		Key:        key,
		URL:        s.GetURL(key),
		Size:       size,
		MimeType:   contentType,
		UploadedAt: s.now().UTC(),
	}, nil
}

// GetURL returns the unsigned object URL. Exports are private, so the URL
// only works behind a CDN or bucket policy that grants access.
func (s *S3Storage) GetURL(key string) string {
	return s.baseURL + "/" + strings.TrimLeft(key, "/")
}

// GetPresignedDownloadURL returns a GET link valid for expiresIn
func (s *S3Storage) GetPresignedDownloadURL(ctx context.Context, key string, expiresIn time.Duration) (*PresignedURLResult, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiresIn))
	if err != nil {
		return nil, fmt.Errorf("failed to presign export %s: %w", key, err)
	}

	return &PresignedURLResult{
		URL:       req.URL,
		Method:    req.Method,
		ExpiresAt: s.now().UTC().Add(expiresIn),
	}, nil
}
