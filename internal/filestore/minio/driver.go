// Package minio provides a MinIO implementation of filestore.Store. The
// store is one bucket, optionally narrowed to a key prefix.
//
// Usage:
//
//	cfg := filestore.MinIOConfig("localhost:9000", "minioadmin", "minioadmin", "orma")
//	cfg.Prefix = "migrations/"
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
package minio

import (
	"bytes"
	"context"
	"strings"

	"github.com/koustreak/orma/internal/errs"
	"github.com/koustreak/orma/internal/filestore"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const contentType = "application/yaml"

// Driver is a MinIO implementation of filestore.Store.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	client *miniogo.Client
	bucket string
	prefix string
}

// New connects to MinIO using the provided Config and returns a Driver.
// It calls Ping to validate the connection and the bucket before returning.
func New(ctx context.Context, cfg *filestore.Config) (*Driver, error) {
	if cfg.Bucket == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "minio bucket is required")
	}
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create minio client", err)
	}

	d := &Driver{client: client, bucket: cfg.Bucket, prefix: normalizePrefix(cfg.Prefix)}

	if err := d.Ping(ctx); err != nil {
		return nil, err
	}

	return d, nil
}

func normalizePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// --- filestore.Store implementation ---

// Ping verifies the MinIO server is reachable and the bucket exists.
func (d *Driver) Ping(ctx context.Context) error {
	ok, err := d.client.BucketExists(ctx, d.bucket)
	if err != nil {
		return mapError(err, "ping failed")
	}
	if !ok {
		return errs.Newf(errs.ErrKindNotFound, "bucket %q does not exist", d.bucket)
	}
	return nil
}

// Close is a no-op for MinIO: the SDK client holds no persistent connections.
func (d *Driver) Close() error {
	return nil
}

// List returns the objects under prefix. MinIO lists keys in lexical order.
func (d *Driver) List(ctx context.Context, prefix string) ([]filestore.ObjectInfo, error) {
	opts := miniogo.ListObjectsOptions{
		Prefix:    d.prefix + prefix,
		Recursive: true,
	}

	var results []filestore.ObjectInfo
	for obj := range d.client.ListObjects(ctx, d.bucket, opts) {
		if obj.Err != nil {
			return nil, mapError(obj.Err, "failed to list objects")
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		results = append(results, filestore.ObjectInfo{
			Key:          d.trim(obj.Key),
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	return results, nil
}

// Get opens a streaming handle to the object at key.
// The caller MUST call Object.Close() after reading.
func (d *Driver) Get(ctx context.Context, key string) (filestore.Object, error) {
	name, err := d.key(key)
	if err != nil {
		return nil, err
	}
	obj, err := d.client.GetObject(ctx, d.bucket, name, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to get object")
	}

	// GetObject is lazy; Stat surfaces a missing key before the first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, mapError(err, "failed to stat object after get")
	}
	return obj, nil
}

// Stat returns metadata for the object at key without downloading it.
func (d *Driver) Stat(ctx context.Context, key string) (*filestore.ObjectInfo, error) {
	name, err := d.key(key)
	if err != nil {
		return nil, err
	}
	stat, err := d.client.StatObject(ctx, d.bucket, name, miniogo.StatObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to stat object")
	}

	return &filestore.ObjectInfo{
		Key:          key,
		Size:         stat.Size,
		LastModified: stat.LastModified,
	}, nil
}

// Put uploads data to key.
func (d *Driver) Put(ctx context.Context, key string, data []byte) error {
	name, err := d.key(key)
	if err != nil {
		return err
	}
	_, err = d.client.PutObject(ctx, d.bucket, name, bytes.NewReader(data), int64(len(data)),
		miniogo.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return mapError(err, "failed to put object")
	}
	return nil
}

// Delete removes the object at key. S3 deletes are idempotent, so a missing
// key is checked first to report NotFound like the local store.
func (d *Driver) Delete(ctx context.Context, key string) error {
	if _, err := d.Stat(ctx, key); err != nil {
		return err
	}
	name, _ := d.key(key)
	if err := d.client.RemoveObject(ctx, d.bucket, name, miniogo.RemoveObjectOptions{}); err != nil {
		return mapError(err, "failed to delete object")
	}
	return nil
}

func (d *Driver) key(key string) (string, error) {
	clean, err := filestore.CleanKey(key)
	if err != nil {
		return "", err
	}
	return d.prefix + clean, nil
}

func (d *Driver) trim(name string) string {
	return strings.TrimPrefix(name, d.prefix)
}
