package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const digestMetaKey = "Digest"

type MinioConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	// Prefix is prepended to every object key, e.g. "menu/".
	Prefix string `toml:"prefix"`
}

// MinioStore keeps files in an S3 compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
	now    func() time.Time
}

// NormaliseEndpoint accepts either "minio:9000" or "http(s)://minio:9000".
func NormaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	// no scheme: host:port, insecure like a local MinIO
	return raw, false, nil
}

func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio configuration incomplete")
	}

	endpoint, secure, err := NormaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse endpoint: %w", err)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("minio bucket does not exist: %s", cfg.Bucket)
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		now:    time.Now,
	}, nil
}

func (s *MinioStore) Save(ctx context.Context, originalName, mimeType string, data []byte) (Object, error) {
	name := NewName(originalName, mimeType, s.now())
	digest := Digest(data)

	info, err := s.client.PutObject(
		ctx,
		s.bucket,
		s.prefix+name,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  MimeTypeOf(name),
			CacheControl: "public, max-age=31536000",
			UserMetadata: map[string]string{digestMetaKey: digest},
		},
	)
	if err != nil {
		return Object{}, fmt.Errorf("failed to put object: %w", err)
	}

	return Object{
		Name:     name,
		MimeType: MimeTypeOf(name),
		Size:     info.Size,
		Digest:   digest,
		ModTime:  s.now(),
	}, nil
}

func (s *MinioStore) Delete(ctx context.Context, name string) error {
	if err := ValidName(name); err != nil {
		return err
	}

	// RemoveObject succeeds for missing keys
	err := s.client.RemoveObject(ctx, s.bucket, s.prefix+name, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to remove object: %w", err)
	}

	return nil
}

func (s *MinioStore) List(ctx context.Context) ([]Object, error) {
	var objects []Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix}) {
		if info.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", info.Err)
		}

		name := strings.TrimPrefix(info.Key, s.prefix)
		if strings.Contains(name, "/") || !IsImageName(name) {
			continue
		}

		objects = append(objects, Object{
			Name:     name,
			MimeType: MimeTypeOf(name),
			Size:     info.Size,
			ModTime:  info.LastModified,
		})
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Name < objects[j].Name
	})

	return objects, nil
}

func (s *MinioStore) Open(ctx context.Context, name string) (io.ReadCloser, Object, error) {
	if err := ValidName(name); err != nil {
		return nil, Object{}, err
	}

	info, err := s.client.StatObject(ctx, s.bucket, s.prefix+name, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, Object{}, ErrNotFound
		}
		return nil, Object{}, fmt.Errorf("failed to stat object: %w", err)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.prefix+name, minio.GetObjectOptions{})
	if err != nil {
		return nil, Object{}, fmt.Errorf("failed to get object: %w", err)
	}

	return obj, Object{
		Name:     name,
		MimeType: MimeTypeOf(name),
		Size:     info.Size,
		Digest:   info.UserMetadata[digestMetaKey],
		ModTime:  info.LastModified,
	}, nil
}
