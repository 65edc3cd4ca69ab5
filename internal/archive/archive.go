// Package archive copies downloaded workbooks to S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ContentTypeXLSX is stored on every archived object.
const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Config locates the archive bucket.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Uploader is satisfied by *manager.Uploader.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Object describes an archived workbook.
type Object struct {
	Bucket   string
	Key      string
	Location string
	Size     int
}

// Archiver uploads raw workbook bytes.
type Archiver struct {
	uploader Uploader
	bucket   string
	prefix   string
	logger   *slog.Logger
}

// New builds an Archiver backed by the AWS SDK default credential chain, or
// static keys when both are configured. A custom endpoint switches to
// path-style addressing for MinIO/R2.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Archiver, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("archive: bucket required")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithUploader(manager.NewUploader(client), cfg.Bucket, cfg.Prefix, logger), nil
}

// NewWithUploader wires a custom uploader.
func NewWithUploader(uploader Uploader, bucket, prefix string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{uploader: uploader, bucket: bucket, prefix: prefix, logger: logger.With(slog.String("component", "archive"))}
}

// ObjectKey names the archived object: <prefix>dre_hitss_<unix>.xlsx.
func ObjectKey(prefix string, at time.Time) string {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + "dre_hitss_" + strconv.FormatInt(at.Unix(), 10) + ".xlsx"
}

// Store uploads body under a time-derived key.
func (a *Archiver) Store(ctx context.Context, body []byte, at time.Time) (Object, error) {
	key := ObjectKey(a.prefix, at)
	out, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(ContentTypeXLSX),
	})
	if err != nil {
		return Object{}, fmt.Errorf("archive: upload %s: %w", key, err)
	}
	obj := Object{Bucket: a.bucket, Key: key, Size: len(body)}
	if out != nil {
		obj.Location = out.Location
	}
	a.logger.Info("workbook archived", slog.String("bucket", a.bucket), slog.String("key", key), slog.Int("bytes", len(body)))
	return obj, nil
}
