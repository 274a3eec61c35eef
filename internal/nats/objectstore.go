package nats

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"livechat/internal/media"
)

// ObjectStorage keeps attachments in a JetStream object store bucket.
type ObjectStorage struct {
	store   jetstream.ObjectStore
	baseURL string
}

var (
	_ media.Storage = (*ObjectStorage)(nil)
	_ media.Opener  = (*ObjectStorage)(nil)
)

// NewObjectStorage opens bucket, creating it when it does not exist yet.
func NewObjectStorage(ctx context.Context, nc *nats.Conn, bucket, baseURL string) (*ObjectStorage, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// Try to get existing bucket first
	store, err := js.ObjectStore(ctx, bucket)
	if err != nil {
		store, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "Chat message attachments",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create object store bucket: %w", err)
		}
	}

	return &ObjectStorage{store: store, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *ObjectStorage) Save(ctx context.Context, name, contentType string, body io.Reader) (string, error) {
	meta := jetstream.ObjectMeta{
		Name: name,
		Headers: nats.Header{
			"Content-Type": []string{contentType},
		},
	}
	if _, err := s.store.Put(ctx, meta, body); err != nil {
		return "", fmt.Errorf("failed to store object: %w", err)
	}
	return s.baseURL + "/" + name, nil
}

func (s *ObjectStorage) Delete(ctx context.Context, ref string) error {
	err := s.store.Delete(ctx, path.Base(ref))
	if err != nil && !errors.Is(err, jetstream.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (s *ObjectStorage) Open(ctx context.Context, name string) (io.ReadCloser, string, error) {
	result, err := s.store.Get(ctx, path.Base(name))
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, "", media.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to get object: %w", err)
	}

	info, err := result.Info()
	if err != nil {
		result.Close()
		return nil, "", fmt.Errorf("failed to get object info: %w", err)
	}
	return result, contentType(info.Headers), nil
}

// contentType extracts Content-Type from headers with a default fallback.
func contentType(headers nats.Header) string {
	if headers != nil {
		if ct := headers.Get("Content-Type"); ct != "" {
			return ct
		}
	}
	return "application/octet-stream"
}
