package api

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"

	"feedback-widget/internal/config"
)

type uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// ScreenshotStore normalizes uploaded screenshots (downscale oversized
// captures, re-encode) and writes them to S3 or local disk.
type ScreenshotStore struct {
	maxWidth int
	maxBytes int64
	dest     uploader
}

// NewScreenshotStore picks S3 when a bucket is configured, local disk otherwise.
func NewScreenshotStore(ctx context.Context, cfg config.Collector) (*ScreenshotStore, error) {
	maxWidth := cfg.ScreenshotMaxWidth
	if maxWidth <= 0 {
		maxWidth = 1280
	}
	maxBytes := cfg.ScreenshotMaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}

	var dest uploader
	if cfg.ScreenshotS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		dest = &s3Uploader{client: client, bucket: cfg.ScreenshotS3Bucket}
	} else {
		dest = &localUploader{baseDir: cfg.ScreenshotDir}
	}

	return &ScreenshotStore{maxWidth: maxWidth, maxBytes: maxBytes, dest: dest}, nil
}

func newS3Client(ctx context.Context, cfg config.Collector) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ScreenshotS3Region),
	}
	if cfg.ScreenshotS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ScreenshotS3Endpoint,
					HostnameImmutable: cfg.ScreenshotS3Path,
					SigningRegion:     cfg.ScreenshotS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ScreenshotS3Path
	}), nil
}

// Store decodes, downscales, and persists one screenshot, returning its URL.
func (s *ScreenshotStore) Store(ctx context.Context, feedbackID, filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read screenshot: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("screenshot too large (>%d bytes)", s.maxBytes)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode screenshot: %w", err)
	}

	if img.Bounds().Dx() > s.maxWidth {
		// Height 0 preserves the aspect ratio.
		img = imaging.Resize(img, s.maxWidth, 0, imaging.Lanczos)
	}

	outputFormat := chooseFormat(filename, format)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, outputFormat, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("encode screenshot: %w", err)
	}

	key := fmt.Sprintf("screenshots/%s.%s", feedbackID, formatExtension(outputFormat))
	url, err := s.dest.Upload(ctx, key, buf.Bytes(), mimeForFormat(outputFormat))
	if err != nil {
		return "", fmt.Errorf("upload screenshot: %w", err)
	}
	return url, nil
}

func chooseFormat(filename, decodeFormat string) imaging.Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return imaging.PNG
	case ".jpg", ".jpeg":
		return imaging.JPEG
	}
	switch strings.ToLower(decodeFormat) {
	case "png":
		return imaging.PNG
	case "gif":
		return imaging.GIF
	}
	return imaging.JPEG
}

func formatExtension(format imaging.Format) string {
	switch format {
	case imaging.PNG:
		return "png"
	case imaging.GIF:
		return "gif"
	default:
		return "jpg"
	}
}

func mimeForFormat(format imaging.Format) string {
	switch format {
	case imaging.PNG:
		return "image/png"
	case imaging.GIF:
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (u *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}
