package diag

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/koustreak/orma/internal/errs"
	"github.com/koustreak/orma/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// Serve listens on addr until ctx ends, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, log *logger.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errs.Wrap(errs.ErrKindConnectionFailed, "failed to listen on "+addr, err)
	}
	return serve(ctx, ln, h, log)
}

func serve(ctx context.Context, ln net.Listener, h http.Handler, log *logger.Logger) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ln)
	}()
	log.InfoWith("diagnostics listening", map[string]any{"addr": ln.Addr().String()})

	select {
	case err := <-done:
		return errs.Wrap(errs.ErrKindConnectionFailed, "diagnostics server stopped", err)
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return errs.Wrap(errs.ErrKindTimeout, "diagnostics shutdown timed out", err)
	}
	if err := <-done; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("diagnostics stopped")
	return nil
}
