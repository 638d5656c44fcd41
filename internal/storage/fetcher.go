package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/quackql/quackql/internal/config"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectClient is the narrow slice of an object store the fetcher needs.
type ObjectClient interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Fetcher resolves data source locators to local filesystem paths. Plain
// paths pass through untouched; s3://bucket/key locators are downloaded once
// per process into a cache directory and reused afterwards.
type Fetcher struct {
	client   ObjectClient
	cacheDir string

	mu     sync.Mutex
	cached map[string]string
}

func NewFetcher(cfg config.ObjectStoreConfig, cacheDir string) (*Fetcher, error) {
	fetcher := &Fetcher{cacheDir: cacheDir, cached: map[string]string{}}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		// No object store configured; s3 locators will be rejected.
		return fetcher, nil
	}
	client, err := newMinioClient(cfg)
	if err != nil {
		return nil, err
	}
	fetcher.client = client
	return fetcher, nil
}

func NewFetcherWithClient(client ObjectClient, cacheDir string) *Fetcher {
	return &Fetcher{client: client, cacheDir: cacheDir, cached: map[string]string{}}
}

func IsRemote(locator string) bool {
	return strings.HasPrefix(locator, "s3://")
}

func (f *Fetcher) Resolve(ctx context.Context, locator string) (string, error) {
	if !IsRemote(locator) {
		return locator, nil
	}
	if f.client == nil {
		return "", fmt.Errorf("s3 locator %q requires an object store configuration", locator)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if local, ok := f.cached[locator]; ok {
		return local, nil
	}

	bucket, key, err := splitLocator(locator)
	if err != nil {
		return "", err
	}
	reader, err := f.client.Get(ctx, bucket, key)
	if err != nil {
		return "", fmt.Errorf("get object %q: %w", locator, err)
	}
	defer func() { _ = reader.Close() }()

	local := filepath.Join(f.cacheDir, sanitizeFileComponent(bucket)+"_"+sanitizeFileComponent(key))
	if err := writeFile(local, reader); err != nil {
		return "", fmt.Errorf("cache object %q: %w", locator, err)
	}
	f.cached[locator] = local
	return local, nil
}

func splitLocator(locator string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(locator, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid s3 locator: %q", locator)
	}
	return parts[0], parts[1], nil
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "object"
	}
	return value
}

func writeFile(path string, reader io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		return fmt.Errorf("copy object: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}

type minioClient struct {
	client *minio.Client
}

func newMinioClient(cfg config.ObjectStoreConfig) (*minioClient, error) {
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	impl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &minioClient{client: impl}, nil
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("endpoint is required")
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint URL: %w", err)
		}
		if parsed.Host == "" {
			return "", false, fmt.Errorf("endpoint host is required")
		}
		return parsed.Host, parsed.Scheme == "https", nil
	}
	return raw, useSSL, nil
}

func (m *minioClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapMinioErr(err)
	}
	return obj, nil
}

func mapMinioErr(err error) error {
	response := minio.ToErrorResponse(err)
	if response.Code == "NoSuchKey" || response.Code == "NoSuchBucket" {
		return ErrObjectNotFound
	}
	return err
}
