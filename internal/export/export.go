// Package export stores rendered certificates outside the mail flow:
// in a local directory or an S3-compatible bucket.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/shineum/certmail-lite/internal/export")

const contentType = "image/png"

// Exporter saves one rendered image under name and returns where it went.
type Exporter interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// Dir writes images into a local directory.
type Dir struct {
	root string
}

// NewDir creates root if needed and returns a Dir exporter.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	return &Dir{root: root}, nil
}

// Save writes data to root/name.
func (d *Dir) Save(_ context.Context, name string, data []byte) (string, error) {
	clean, err := safeName(name)
	if err != nil {
		return "", err
	}
	p := filepath.Join(d.root, clean)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", p, err)
	}
	return p, nil
}

// S3Config configures an S3-compatible bucket.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
	Secure    bool
}

// S3 uploads images to an S3-compatible bucket.
type S3 struct {
	client *minio.Client
	cfg    S3Config
	logger *slog.Logger
}

// NewS3 creates an S3 exporter. No request is made until the first Save.
func NewS3(cfg S3Config, logger *slog.Logger) (*S3, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 export needs an endpoint and a bucket")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Region: cfg.Region,
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return &S3{client: client, cfg: cfg, logger: logger.WithGroup("s3")}, nil
}

// Save uploads data as prefix/name and returns the s3:// location.
func (s *S3) Save(ctx context.Context, name string, data []byte) (string, error) {
	clean, err := safeName(name)
	if err != nil {
		return "", err
	}
	key := path.Join(s.cfg.Prefix, clean)

	ctx, span := tracer.Start(ctx, "export.S3")
	defer span.End()
	span.SetAttributes(attribute.String("bucket", s.cfg.Bucket), attribute.String("key", key))

	info, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to put object %s/%s: %w", s.cfg.Bucket, key, err)
	}
	span.SetAttributes(attribute.Int64("size", info.Size))

	s.logger.Debug("object stored", "bucket", s.cfg.Bucket, "key", key, "size", info.Size)
	return "s3://" + s.cfg.Bucket + "/" + key, nil
}

// safeName rejects names that would escape the export root.
func safeName(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid export name %q", name)
	}
	return name, nil
}
