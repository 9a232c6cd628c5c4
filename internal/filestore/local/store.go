// Package local provides a directory-backed filestore.Store on top of afero.
//
// Usage:
//
//	store, err := local.New(filestore.DefaultConfig("migrations"))
//	if err != nil { ... }
//
//	// in tests
//	store := local.NewFs(afero.NewMemMapFs())
package local

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/koustreak/orma/internal/errs"
	"github.com/koustreak/orma/internal/filestore"
	"github.com/spf13/afero"
)

// Store keeps each object as a file under a root directory. It is safe for
// concurrent use; writes go through a temporary file and a rename.
type Store struct {
	fs afero.Fs
}

// New opens a store rooted at cfg.Dir, creating the directory if needed.
func New(cfg *filestore.Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "local store directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, mapError(err, "failed to create store directory")
	}
	return NewFs(afero.NewBasePathFs(afero.NewOsFs(), cfg.Dir)), nil
}

// NewFs returns a store over fsys; keys are paths from its root.
func NewFs(fsys afero.Fs) *Store {
	return &Store{fs: fsys}
}

// --- filestore.Store implementation ---

// Ping checks the root directory is readable.
func (s *Store) Ping(context.Context) error {
	if _, err := s.fs.Stat(string(filepath.Separator)); err != nil {
		return mapError(err, "store root is not accessible")
	}
	return nil
}

func (s *Store) Close() error { return nil }

// List walks the tree and returns the files under prefix, sorted by key.
func (s *Store) List(ctx context.Context, prefix string) ([]filestore.ObjectInfo, error) {
	var out []filestore.ObjectInfo
	root := string(filepath.Separator)
	err := afero.Walk(s.fs, root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".tmp-") {
			return nil
		}
		key := strings.TrimPrefix(filepath.ToSlash(p), "/")
		if strings.HasPrefix(key, prefix) {
			out = append(out, objectInfo(key, info))
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err, "failed to list objects")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Get opens the file at key.
func (s *Store) Get(_ context.Context, key string) (filestore.Object, error) {
	name, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(name)
	if err != nil {
		return nil, mapError(err, "failed to open "+key)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, mapError(err, "failed to stat "+key)
	}
	if info.IsDir() {
		f.Close()
		return nil, errs.Newf(errs.ErrKindNotFound, "%s is a directory", key)
	}
	return f, nil
}

// Stat returns the metadata of the file at key.
func (s *Store) Stat(_ context.Context, key string) (*filestore.ObjectInfo, error) {
	name, err := s.path(key)
	if err != nil {
		return nil, err
	}
	info, err := s.fs.Stat(name)
	if err != nil {
		return nil, mapError(err, "failed to stat "+key)
	}
	if info.IsDir() {
		return nil, errs.Newf(errs.ErrKindNotFound, "%s is a directory", key)
	}
	oi := objectInfo(key, info)
	return &oi, nil
}

// Put writes data next to the target and renames it into place, so readers
// never see a partial file.
func (s *Store) Put(_ context.Context, key string, data []byte) error {
	name, err := s.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(name)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return mapError(err, "failed to create "+dir)
	}
	tmp, err := afero.TempFile(s.fs, dir, ".tmp-")
	if err != nil {
		return mapError(err, "failed to create temporary file")
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = s.fs.Remove(tmp.Name())
		return mapError(werr, "failed to write "+key)
	}
	if err := s.fs.Rename(tmp.Name(), name); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return mapError(err, "failed to write "+key)
	}
	return nil
}

// Delete removes the file at key.
func (s *Store) Delete(_ context.Context, key string) error {
	name, err := s.path(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(name); err != nil {
		return mapError(err, "failed to delete "+key)
	}
	return nil
}

func (s *Store) path(key string) (string, error) {
	clean, err := filestore.CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(string(filepath.Separator), filepath.FromSlash(clean)), nil
}

func objectInfo(key string, info fs.FileInfo) filestore.ObjectInfo {
	return filestore.ObjectInfo{
		Key:          key,
		Size:         info.Size(),
		LastModified: info.ModTime(),
	}
}

func mapError(err error, msg string) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	case errors.Is(err, fs.ErrNotExist):
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	case errors.Is(err, fs.ErrPermission):
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
