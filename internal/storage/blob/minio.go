package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/observability/log"
)

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint" toml:"endpoint"`
	AccessKey string `yaml:"access_key" toml:"access_key"`
	SecretKey string `yaml:"secret_key" toml:"secret_key"`
	Region    string `yaml:"region" toml:"region"`
	Bucket    string `yaml:"bucket" toml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl" toml:"use_ssl"`
}

var _ Store = (*MinioStore)(nil)

// MinioStore is a Store backed by an S3 compatible endpoint.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger log.Log
}

func NewMinioStore(cfg MinioConfig, logger log.Log) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With(log.String("component", "blob")),
	}, nil
}

func (s *MinioStore) Upload(ctx context.Context, location, path string, progress hub.ProgressFunc) error {
	loc, err := ParseLocation(location, s.bucket)
	if err != nil {
		return hub.Wrap(hub.FileUploadFailed, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return hub.Wrap(hub.FileNotFound, err)
	}

	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	if progress != nil {
		opts.Progress = &progressReader{total: info.Size(), fn: progress}
	}
	if _, err := s.client.FPutObject(ctx, loc.Bucket, loc.Key, path, opts); err != nil {
		s.logger.Error("upload failed", log.String("key", loc.Key), log.Error(err))
		return transferError(hub.FileUploadFailed, err)
	}
	s.logger.Debug("uploaded", log.String("key", loc.Key), log.Int64("bytes", info.Size()))
	return nil
}

func (s *MinioStore) Download(ctx context.Context, location, path string, progress hub.ProgressFunc) error {
	loc, err := ParseLocation(location, s.bucket)
	if err != nil {
		return hub.Wrap(hub.FileDownloadFailed, err)
	}

	obj, err := s.client.GetObject(ctx, loc.Bucket, loc.Key, minio.GetObjectOptions{})
	if err != nil {
		return transferError(hub.FileDownloadFailed, err)
	}
	defer obj.Close()

	stat, err := obj.Stat()
	if err != nil {
		return transferError(hub.FileDownloadFailed, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return hub.Wrap(hub.FileDownloadFailed, err)
	}
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return hub.Wrap(hub.FileDownloadFailed, err)
	}

	var dst io.Writer = f
	if progress != nil {
		dst = &progressWriter{w: f, total: stat.Size, fn: progress}
	}
	if _, err := io.Copy(dst, obj); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		s.logger.Error("download failed", log.String("key", loc.Key), log.Error(err))
		return transferError(hub.FileDownloadFailed, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return hub.Wrap(hub.FileDownloadFailed, err)
	}
	return os.Rename(tmp, path)
}

// transferError marks network failures temporary so callers may retry them.
func transferError(id hub.ErrorID, err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.StatusCode >= 500:
		return &hub.Error{ID: hub.ServiceUnavailable, Message: resp.Message, HTTPStatus: resp.StatusCode, Cause: err}
	case resp.StatusCode == 0:
		return &hub.Error{ID: hub.ConnectionError, Message: err.Error(), Cause: err}
	default:
		return &hub.Error{ID: id, Message: resp.Message, HTTPStatus: resp.StatusCode, Cause: err}
	}
}

// progressReader receives the uploaded byte counts from minio.
type progressReader struct {
	sent  atomic.Int64
	total int64
	fn    hub.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n := len(b)
	p.fn(p.sent.Add(int64(n)), p.total)
	return n, nil
}

type progressWriter struct {
	w       io.Writer
	written int64
	total   int64
	fn      hub.ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	p.fn(p.written, p.total)
	return n, err
}
