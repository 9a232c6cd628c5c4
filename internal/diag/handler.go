// Package diag serves read-only diagnostics over HTTP: liveness, pool
// counters, migration status and schema drift. It exposes nothing that changes state.
package diag

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/koustreak/orma/internal/errs"
	"github.com/koustreak/orma/internal/logger"
	"github.com/koustreak/orma/internal/migrate"
	"github.com/koustreak/orma/internal/pool"
)

// Pool is the part of *pool.Pool the handler reads.
type Pool interface {
	Stat() pool.Stats
	Acquire(ctx context.Context) (*pool.Conn, error)
}

// Migrations is the part of *migrate.Engine the handler reads.
type Migrations interface {
	Status(ctx context.Context) ([]migrate.Status, error)
	Verify(ctx context.Context) (*migrate.Drift, error)
}

const pingTimeout = 2 * time.Second

type handler struct {
	pool Pool
	migs Migrations
	log  *logger.Logger
}

// NewHandler returns the diagnostics router. migs may be nil, in which case
// /migrations and /drift answer 404.
func NewHandler(p Pool, migs Migrations, log *logger.Logger) http.Handler {
	h := &handler{pool: p, migs: migs, log: log.Component("diag")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.health)
	r.Get("/pool", h.poolStats)
	if migs != nil {
		r.Get("/migrations", h.migrations)
		r.Get("/drift", h.drift)
	}
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	conn, err := h.pool.Acquire(ctx)
	if err == nil {
		err = conn.Ping(ctx)
		conn.Release()
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.write(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) poolStats(w http.ResponseWriter, _ *http.Request) {
	h.write(w, http.StatusOK, h.pool.Stat())
}

type migrationStatus struct {
	ID        string     `json:"id"`
	App       string     `json:"app"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	Changed   bool       `json:"changed,omitempty"`
	Missing   bool       `json:"missing,omitempty"`
}

func (h *handler) migrations(w http.ResponseWriter, r *http.Request) {
	status, err := h.migs.Status(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]migrationStatus, 0, len(status))
	for _, s := range status {
		ms := migrationStatus{ID: s.ID, App: s.App, Applied: s.Applied, Changed: s.Changed, Missing: s.Missing}
		if s.Applied {
			at := s.AppliedAt
			ms.AppliedAt = &at
		}
		out = append(out, ms)
	}
	h.write(w, http.StatusOK, out)
}

func (h *handler) drift(w http.ResponseWriter, r *http.Request) {
	drift, err := h.migs.Verify(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.write(w, http.StatusOK, map[string]any{"clean": drift.Empty(), "drift": drift})
}

// --- helpers ---

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errs.IsPoolExhausted(err), errs.IsTimeout(err), errs.IsConnectionFailed(err):
		code = http.StatusServiceUnavailable
	case errs.IsMigrationConflict(err):
		code = http.StatusConflict
	}
	logger.FromContext(r.Context()).WarnWith("diagnostics request failed", err, map[string]any{"path": r.URL.Path})
	h.write(w, code, map[string]string{"error": err.Error(), "kind": errs.KindOf(err).String()})
}

func (h *handler) write(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.WarnWith("failed to write response", err, nil)
	}
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := h.log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(log.WithContext(r.Context())))
		log.DebugWith("request", map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}
