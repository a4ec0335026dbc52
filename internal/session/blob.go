package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/joshp123/gohome-aircloud/internal/config"
)

var ErrBlobNotFound = errors.New("session blob not found")

// BlobStore mirrors session state to object storage.
type BlobStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

// NewBlobStore returns the S3 store when blob storage is configured and an
// in-process store otherwise.
func NewBlobStore(cfg config.SessionConfig) (BlobStore, error) {
	if !cfg.BlobConfigured() {
		return NewMemoryStore(), nil
	}
	return NewS3Store(cfg)
}

type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3Store(cfg config.SessionConfig) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.BlobEndpoint)
	bucket := strings.TrimSpace(cfg.BlobBucket)
	prefix := strings.TrimSpace(cfg.BlobPrefix)
	region := strings.TrimSpace(cfg.BlobRegion)

	if endpoint == "" || bucket == "" || cfg.BlobAccessKeyFile == "" || cfg.BlobSecretKeyFile == "" {
		return nil, fmt.Errorf("missing blob configuration")
	}

	accessKey, err := config.ReadSecretFile(cfg.BlobAccessKeyFile)
	if err != nil {
		return nil, fmt.Errorf("blob access key: %w", err)
	}
	secretKey, err := config.ReadSecretFile(cfg.BlobSecretKeyFile)
	if err != nil {
		return nil, fmt.Errorf("blob secret key: %w", err)
	}

	host, secure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	if prefix == "" {
		prefix = config.DefaultSessionPrefix
	}

	return &S3Store{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *S3Store) Load(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrapError(err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		return nil, s.wrapError(err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (s *S3Store) Save(ctx context.Context, key string, data []byte) error {
	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, s.bucket, s.objectName(key), reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return s.wrapError(err)
	}
	return nil
}

func (s *S3Store) objectName(key string) string {
	return path.Join(s.prefix, key+".json")
}

func (s *S3Store) wrapError(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return ErrBlobNotFound
	}
	return err
}

func parseEndpoint(raw string) (string, bool, error) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint: %w", err)
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint: %q", raw)
		}
		return u.Host, u.Scheme == "https", nil
	}
	return raw, true, nil
}

// MemoryStore keeps blobs in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	return nil
}
