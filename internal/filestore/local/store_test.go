package local

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/koustreak/orma/internal/errs"
	"github.com/koustreak/orma/internal/filestore"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutGetList(t *testing.T) {
	s := NewFs(afero.NewMemMapFs())
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Put(ctx, "blog/0001_initial.yaml", []byte("a")))
	require.NoError(t, s.Put(ctx, "auth/0002_email.yaml", []byte("bb")))
	require.NoError(t, s.Put(ctx, "auth/0001_initial.yaml", []byte("ccc")))

	data, err := filestore.ReadAll(ctx, s, "auth/0002_email.yaml")
	require.NoError(t, err)
	assert.Equal(t, "bb", string(data))

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	var keys []string
	for _, o := range all {
		keys = append(keys, o.Key)
	}
	assert.Equal(t, []string{"auth/0001_initial.yaml", "auth/0002_email.yaml", "blog/0001_initial.yaml"}, keys)

	auth, err := s.List(ctx, "auth/")
	require.NoError(t, err)
	require.Len(t, auth, 2)
	assert.Equal(t, int64(3), auth[0].Size)

	info, err := s.Stat(ctx, "blog/0001_initial.yaml")
	require.NoError(t, err)
	assert.Equal(t, "blog/0001_initial.yaml", info.Key)
	assert.Equal(t, int64(1), info.Size)
	assert.False(t, info.LastModified.IsZero())
}

func TestStore_GetStreams(t *testing.T) {
	s := NewFs(afero.NewMemMapFs())
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "blog/0001_initial.yaml", []byte("app: blog")))

	obj, err := s.Get(ctx, "blog/0001_initial.yaml")
	require.NoError(t, err)
	buf := make([]byte, 3)
	_, err = obj.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "app", string(buf))
	require.NoError(t, obj.Close())

	_, err = s.Get(ctx, "blog")
	assert.True(t, errs.IsNotFound(err), "directories are not objects")
}

func TestStore_PutReplaces(t *testing.T) {
	s := NewFs(afero.NewMemMapFs())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a/x.yaml", []byte("old")))
	require.NoError(t, s.Put(ctx, "a/x.yaml", []byte("new")))

	data, err := filestore.ReadAll(ctx, s, "a/x.yaml")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	all, err := s.List(ctx, "a/")
	require.NoError(t, err)
	assert.Len(t, all, 1, "no temporary files left behind")
}

func TestStore_Delete(t *testing.T) {
	s := NewFs(afero.NewMemMapFs())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a/x.yaml", []byte("x")))
	require.NoError(t, s.Delete(ctx, "a/x.yaml"))

	_, err := s.Stat(ctx, "a/x.yaml")
	assert.True(t, errs.IsNotFound(err))
	assert.True(t, errs.IsNotFound(s.Delete(ctx, "a/x.yaml")))
	_, err = s.Get(ctx, "a/x.yaml")
	assert.True(t, errs.IsNotFound(err))
}

func TestStore_InvalidKeys(t *testing.T) {
	s := NewFs(afero.NewMemMapFs())
	ctx := context.Background()

	for _, key := range []string{"", "/abs.yaml", "../up.yaml", "a/../../up.yaml", `a\b.yaml`} {
		err := s.Put(ctx, key, []byte("x"))
		assert.True(t, errs.IsInvalidInput(err), "key %q", key)
	}
	_, err := s.Stat(ctx, "a")
	assert.True(t, errs.IsNotFound(err))
}

func TestNew_OnDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "migrations")
	s, err := New(filestore.DefaultConfig(dir))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "auth/0001_initial.yaml", []byte("ops")))
	assert.FileExists(t, filepath.Join(dir, "auth", "0001_initial.yaml"))

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "auth/0001_initial.yaml", all[0].Key)

	_, err = New(filestore.DefaultConfig(""))
	assert.True(t, errs.IsInvalidInput(err))
}
