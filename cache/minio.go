package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds the object storage settings of a MinioStore.
type MinioConfig struct {
	// Endpoint is the server address (e.g., "localhost:9000")
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	Bucket    string `yaml:"bucket" env:"BUCKET"`
	AccessKey string `yaml:"accessKey" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secretKey" env:"SECRET_KEY"`
	UseSSL    bool   `yaml:"useSSL" env:"USE_SSL"`
	// Prefix is prepended to every object name.
	Prefix string `yaml:"prefix" env:"PREFIX"`
	// Client is an optional pre-configured client.
	// If provided, Endpoint/AccessKey/SecretKey are ignored.
	Client *minio.Client `yaml:"-" env:"-"`
}

func (c MinioConfig) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Client != nil {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when client is not provided")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("access and secret keys are required when client is not provided")
	}
	return nil
}

// MinioStore keeps one object per entry.
// Object stores cannot rename, so Rename copies and then removes the source.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid minio config: %w", err)
	}
	client := cfg.Client
	if client == nil {
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio connection failed: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("could not create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func (s *MinioStore) Find(ctx context.Context, key string) ([]byte, bool, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.prefix+key, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("minio: %w", err)
	}
	defer obj.Close()
	// GetObject is lazy, errors surface on the first read
	value, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("minio: %w", err)
	}
	return value, true, nil
}

func (s *MinioStore) Save(ctx context.Context, key string, value []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.prefix+key, bytes.NewReader(value), int64(len(value)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("minio: %w", err)
	}
	return nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.prefix+key, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("minio: %w", err)
	}
	return nil
}

func (s *MinioStore) Rename(ctx context.Context, oldKey, newKey string) error {
	if _, err := s.client.StatObject(ctx, s.bucket, s.prefix+oldKey, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return ErrNotFound
		}
		return fmt.Errorf("minio: %w", err)
	}
	if oldKey == newKey {
		return nil
	}
	src := minio.CopySrcOptions{Bucket: s.bucket, Object: s.prefix + oldKey}
	dst := minio.CopyDestOptions{Bucket: s.bucket, Object: s.prefix + newKey}
	if _, err := s.client.CopyObject(ctx, dst, src); err != nil {
		if isNoSuchKey(err) {
			return ErrNotFound
		}
		return fmt.Errorf("minio: %w", err)
	}
	return s.Delete(ctx, oldKey)
}

func (s *MinioStore) Keys(ctx context.Context, prefix string, fn func(string) error) error {
	keys := make([]string, 0)
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix + prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return fmt.Errorf("minio: %w", object.Err)
		}
		keys = append(keys, strings.TrimPrefix(object.Key, s.prefix))
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}

func (s *MinioStore) Values(ctx context.Context, prefix string, fn func(string, []byte) error) error {
	return withValues(ctx, s, prefix, fn)
}

func (s *MinioStore) Close() error {
	return nil
}
