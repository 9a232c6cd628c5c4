// Package filestore defines the storage interface for migration files.
//
// A Store is one flat namespace of objects addressed by slash-separated
// keys ("auth/0001_initial.yaml"). Providers: local (a directory, through
// afero) and minio (one bucket, optionally under a key prefix). Callers
// depend only on this package, never on a provider package.
//
// Usage:
//
//	store, err := local.New(filestore.DefaultConfig("migrations"))
//	if err != nil { ... }
//	defer store.Close()
//
//	files, err := store.List(ctx, "auth/")
package filestore

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/koustreak/orma/internal/errs"
)

// Store is the interface all storage providers implement.
type Store interface {
	// Ping verifies the backend is reachable and the namespace exists.
	Ping(ctx context.Context) error

	// Close releases any held resources.
	Close() error

	// List returns every object whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Get opens a streaming handle to the object at key. The caller MUST
	// call Object.Close() after reading.
	Get(ctx context.Context, key string) (Object, error)

	// Stat returns metadata for the object at key without reading it.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// Put writes data to key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
}

// ReadAll reads the whole object at key.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, error) {
	obj, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to read "+key, err)
	}
	return data, nil
}

// CleanKey validates a key and returns it in canonical form. Keys are
// relative and may not escape the store.
func CleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return "", errs.Newf(errs.ErrKindInvalidInput, "invalid object key %q", key)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errs.Newf(errs.ErrKindInvalidInput, "object key %q escapes the store", key)
	}
	return clean, nil
}
