package support

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oszuidwest/zwfm-audiodesk/internal/config"
	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
	"github.com/oszuidwest/zwfm-audiodesk/internal/util"
)

// Upload tuning.
const (
	UploadAttempts = 3
	UploadTimeout  = 2 * time.Minute
	KeyPrefix      = "support/"
)

// ErrUploadNotConfigured is returned when no upload destination is set.
var ErrUploadNotConfigured = errors.New("support upload is not configured")

// createS3Client creates an S3 client with static credentials. A custom
// endpoint switches to path-style addressing.
func createS3Client(cfg *config.SupportUploadConfig) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = cmp.Or(cfg.Region, "auto")
			// Attempts are driven by Upload so the backoff is ours.
			o.RetryMaxAttempts = 1
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// Uploader sends bundles to the configured bucket.
type Uploader struct {
	cfg     config.SupportUploadConfig
	client  *s3.Client
	backoff *util.Backoff
}

// NewUploader creates an Uploader for cfg.
func NewUploader(cfg config.SupportUploadConfig) (*Uploader, error) {
	if !cfg.Configured() {
		return nil, ErrUploadNotConfigured
	}
	return &Uploader{
		cfg:     cfg,
		client:  createS3Client(&cfg),
		backoff: util.NewBackoff(2*time.Second, 30*time.Second),
	}, nil
}

// Upload puts the bundle at path under support/<file name> and returns the key.
func (u *Uploader) Upload(ctx context.Context, path string) (string, error) {
	const op = "upload_support_bundle"
	data, err := os.ReadFile(path)
	if err != nil {
		return "", types.NewError(types.KindIO, op, err)
	}
	key := KeyPrefix + filepath.Base(path)

	u.backoff.Reset()
	err = util.Retry(ctx, u.backoff, UploadAttempts, func(attempt int) error {
		attemptCtx, cancel := context.WithTimeoutCause(ctx, UploadTimeout, errors.New("s3 upload timeout"))
		defer cancel()

		_, err := u.client.PutObject(attemptCtx, &s3.PutObjectInput{
			Bucket:        aws.String(u.cfg.Bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String("text/plain; charset=utf-8"),
		})
		if err != nil {
			slog.Warn("support bundle upload failed", "key", key, "attempt", attempt+1, "error", err)
		}
		return err
	})
	if err != nil {
		return "", types.NewError(types.KindIO, op, fmt.Errorf("upload %s: %w", key, err)).
			WithPublic("Upload failed. See logs.")
	}
	slog.Info("support bundle uploaded", "bucket", u.cfg.Bucket, "key", key)
	return key, nil
}
