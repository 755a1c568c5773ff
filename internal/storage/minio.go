package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/joseph-ayodele/essay-grader/internal/common"
)

type MinioConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinioStore keeps images as objects in one bucket. Refs are object keys.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinio connects and makes sure the bucket exists.
func NewMinio(ctx context.Context, cfg MinioConfig, logger *slog.Logger) (*MinioStore, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("created image bucket", "bucket", cfg.Bucket)
	}

	return &MinioStore{client: cli, bucket: cfg.Bucket, logger: logger}, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		s.logger.Error("image upload failed", "key", key, "error", err)
		return "", fmt.Errorf("put image %s: %w", key, err)
	}
	s.logger.Debug("image stored", "key", key, "bytes", len(data))
	return key, nil
}

func (s *MinioStore) Get(ctx context.Context, ref string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr("get", ref, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapErr("read", ref, err)
	}
	return data, nil
}

func (s *MinioStore) Delete(ctx context.Context, ref string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		return s.mapErr("delete", ref, err)
	}
	return nil
}

func (s *MinioStore) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("minio ping: %w", err)
	}
	return nil
}

func (s *MinioStore) mapErr(op, ref string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return common.NotFoundf("image %s", ref)
	}
	s.logger.Error("image store error", "op", op, "key", ref, "error", err)
	return fmt.Errorf("%s image %s: %w", op, ref, err)
}
