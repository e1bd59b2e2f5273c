package blob

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/utils"
)

type gcsStore struct {
	log           *logger.Logger
	storageClient *storage.Client
	bucketName    string
}

func NewGCSStore(log *logger.Logger) (Store, error) {
	storeLog := log.With("client", "GCSBlobStore")
	bucket := utils.GetEnv("GCS_BUCKET_NAME", "", log)
	if bucket == "" {
		return nil, fmt.Errorf("missing env var GCS_BUCKET_NAME")
	}
	saPath := utils.GetEnv("GOOGLE_APPLICATION_CREDENTIALS_JSON", "", log)
	if saPath == "" {
		storeLog.Warn("GOOGLE_APPLICATION_CREDENTIALS_JSON not set, relying on ambient ADC")
	}

	ctx := context.Background()
	var stClient *storage.Client
	var err error
	if saPath != "" {
		stClient, err = storage.NewClient(ctx, option.WithCredentialsFile(saPath), option.WithScopes(storage.ScopeReadWrite))
	} else {
		stClient, err = storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	}
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &gcsStore{
		log:           storeLog,
		storageClient: stClient,
		bucketName:    bucket,
	}, nil
}

func (s *gcsStore) Put(ctx context.Context, key string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	w := s.storageClient.Bucket(s.bucketName).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %q: %w", key, err)
	}
	return nil
}

func (s *gcsStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.storageClient.Bucket(s.bucketName).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object %q: %w", key, err)
	}
	return rc, nil
}

func (s *gcsStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.storageClient.Bucket(s.bucketName).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}
