package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"ykchat/internal/pkg/logx"
)

// presignedURLDuration is the lifetime of presigned download URLs (the SigV4 maximum).
const presignedURLDuration = 7 * 24 * time.Hour

// S3Store implements BlobStore on an S3-compatible bucket.
type S3Store struct {
	cfg      ServiceConfig
	client   *s3.Client
	presign  *s3.PresignClient
	uploader *manager.Uploader
	logger   zerolog.Logger
}

// NewS3Store configures a path-style client for cfg.S3Endpoint with static credentials.
func NewS3Store(ctx context.Context, cfg ServiceConfig) (*S3Store, error) {
	logger := logx.Component("storage.s3")

	sdkCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKeyID,
			cfg.S3SecretAccessKey,
			"",
		)),
		config.WithRegion("auto"),
	)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load AWS SDK config.")
		return nil, errors.New("failed to initialize S3 client configuration")
	}

	client := s3.NewFromConfig(sdkCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		o.UsePathStyle = true
	})

	cfg.PublicBaseURL = strings.TrimSuffix(cfg.PublicBaseURL, "/")

	return &S3Store{
		cfg:      cfg,
		client:   client,
		presign:  s3.NewPresignClient(client),
		uploader: manager.NewUploader(client),
		logger:   logger,
	}, nil
}

// Upload implements BlobStore.
func (s *S3Store) Upload(ctx context.Context, key string, data []byte, meta Metadata) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:   aws.String(s.cfg.S3BucketName),
		Key:      aws.String(key),
		Body:     bytes.NewReader(data),
		Metadata: meta.Extra,
	}
	if meta.ContentType != "" {
		input.ContentType = aws.String(meta.ContentType)
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("S3 upload failed.")
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	return s.urlFor(ctx, key)
}

// Delete implements BlobStore.
func (s *S3Store) Delete(ctx context.Context, rawURL string) error {
	key, err := s.keyFromURL(rawURL)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.S3BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NoSuchKey
		if errors.As(err, &nf) {
			return ErrNotFound
		}
		s.logger.Error().Err(err).Str("key", key).Msg("S3 delete failed.")
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	return nil
}

// urlFor returns the public URL of key, or a presigned GET URL when no public base is set.
func (s *S3Store) urlFor(ctx context.Context, key string) (string, error) {
	if s.cfg.PublicBaseURL != "" {
		return s.cfg.PublicBaseURL + "/" + key, nil
	}

	resp, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.S3BucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignedURLDuration))
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to presign download URL.")
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}

	return resp.URL, nil
}

// keyFromURL maps a URL produced by urlFor back to its object key.
func (s *S3Store) keyFromURL(rawURL string) (string, error) {
	if s.cfg.PublicBaseURL != "" {
		if key, ok := strings.CutPrefix(rawURL, s.cfg.PublicBaseURL+"/"); ok && key != "" {
			return key, nil
		}
		return "", ErrNotFound
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", ErrNotFound
	}

	// Path-style: /<bucket>/<key>
	key, ok := strings.CutPrefix(u.EscapedPath(), "/"+s.cfg.S3BucketName+"/")
	if !ok || key == "" {
		return "", ErrNotFound
	}

	unescaped, err := url.PathUnescape(key)
	if err != nil {
		return "", ErrNotFound
	}

	return unescaped, nil
}
