package diag

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/koustreak/orma/internal/database/dbtest"
	"github.com/koustreak/orma/internal/errs"
	"github.com/koustreak/orma/internal/logger"
	"github.com/koustreak/orma/internal/migrate"
	"github.com/koustreak/orma/internal/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMigrations struct {
	status []migrate.Status
	drift  migrate.Drift
	err    error
}

func (f *fakeMigrations) Status(context.Context) ([]migrate.Status, error) {
	return f.status, f.err
}

func (f *fakeMigrations) Verify(context.Context) (*migrate.Drift, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &f.drift, nil
}

func newPool(t *testing.T, drv *dbtest.Driver) *pool.Pool {
	t.Helper()
	cfg := pool.DefaultConfig()
	cfg.MinConns = 0
	cfg.MaxConns = 1
	cfg.HealthCheckPeriod = 0
	cfg.ConnectRetries = 0
	p, err := pool.New(context.Background(), drv, cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestHandler_HealthAndPool(t *testing.T) {
	drv := dbtest.New("postgres")
	p := newPool(t, drv)
	h := NewHandler(p, nil, logger.Nop())

	rec, body := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = get(t, h, "/pool")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["max_connections"])
	assert.EqualValues(t, 1, body["acquires"])
	assert.EqualValues(t, 1, body["idle_connections"])

	rec, _ = get(t, h, "/migrations")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_HealthFailure(t *testing.T) {
	drv := dbtest.New("postgres")
	drv.FailPing(func(int) error {
		return errs.New(errs.ErrKindConnectionFailed, "server closed the connection")
	})
	h := NewHandler(newPool(t, drv), nil, logger.Nop())

	rec, body := get(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, errs.ErrKindConnectionFailed.String(), body["kind"])
}

func TestHandler_Migrations(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	migs := &fakeMigrations{status: []migrate.Status{
		{ID: "auth/0001_initial", App: "auth", Applied: true, AppliedAt: at},
		{ID: "auth/0002_email", App: "auth"},
	}}
	h := NewHandler(newPool(t, dbtest.New("postgres")), migs, logger.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/migrations", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got []migrationStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.True(t, got[0].Applied)
	require.NotNil(t, got[0].AppliedAt)
	assert.True(t, at.Equal(*got[0].AppliedAt))
	assert.Nil(t, got[1].AppliedAt)

	migs.err = errs.New(errs.ErrKindMigrationConflict, "migration auth/0001_initial changed after it was applied")
	rec, body := get(t, h, "/migrations")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, body["error"], "changed after it was applied")
}

func TestHandler_Drift(t *testing.T) {
	migs := &fakeMigrations{}
	h := NewHandler(newPool(t, dbtest.New("postgres")), migs, logger.Nop())

	rec, body := get(t, h, "/drift")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["clean"])

	migs.drift.MissingTables = []string{"orders"}
	rec, body = get(t, h, "/drift")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["clean"])
	assert.Equal(t, map[string]any{"missing_tables": []any{"orders"}}, body["drift"])

	rec = httptest.NewRecorder()
	NewHandler(newPool(t, dbtest.New("postgres")), nil, logger.Nop()).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/drift", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe_StopsWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	h := NewHandler(newPool(t, dbtest.New("postgres")), nil, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, h, logger.Nop()) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
