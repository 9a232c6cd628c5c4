package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/dialect"
	"github.com/koustreak/orma/internal/errs"
	"github.com/koustreak/orma/internal/logger"
	"github.com/koustreak/orma/internal/pool"
)

// locker serializes migration runs across processes. Engines with an
// advisory lock take it on the migration connection. The others take a
// lease on the single row of the lock table, which expires after ttl so a
// crashed holder does not block forever.
type locker struct {
	d     dialect.Dialect
	key   string
	ttl   time.Duration
	poll  time.Duration
	owner string
	log   *logger.Logger
	now   func() time.Time
}

func newLocker(d dialect.Dialect, cfg Config, log *logger.Logger) *locker {
	return &locker{
		d:     d,
		key:   cfg.LockKey,
		ttl:   cfg.LockTTL,
		poll:  cfg.LockPoll,
		owner: uuid.NewString(),
		log:   log,
		now:   time.Now,
	}
}

func (l *locker) advisory() bool {
	_, _, ok := l.d.AdvisoryLock(l.key)
	return ok
}

// lockSession blocks until the advisory lock is held on conn or ctx ends.
// The lock belongs to the connection's session, so conn must stay leased
// until the returned function has run.
func (l *locker) lockSession(ctx context.Context, conn *pool.Conn) (func(context.Context) error, error) {
	lock, unlock, _ := l.d.AdvisoryLock(l.key)
	l.log.DebugWith("waiting for advisory lock", map[string]any{"key": l.key})
	if _, err := conn.Exec(ctx, lock.SQL, lock.Args...); err != nil {
		return nil, errs.Wrap(errs.KindOf(err), "failed to take migration lock", err)
	}
	return func(ctx context.Context) error {
		_, err := conn.Exec(ctx, unlock.SQL, unlock.Args...)
		return err
	}, nil
}

// lease claims the lock row, polling while another owner holds a fresh
// lease. Claims run on short leases from p: a busy database reports a
// timeout, which only means "try again".
func (l *locker) lease(ctx context.Context, p *pool.Pool) (func(context.Context) error, error) {
	if err := l.seed(ctx, p); err != nil {
		return nil, err
	}
	q, ph := l.d.Quote, l.d.Placeholder
	claim := fmt.Sprintf("UPDATE %s SET %s = %s, %s = %s WHERE %s = %d AND (%s IS NULL OR %s < %s)",
		q(lockTable), q("owner"), ph(1), q("locked_at"), ph(2),
		q("id"), lockRowID, q("owner"), q("locked_at"), ph(3))

	t := time.NewTicker(l.poll)
	defer t.Stop()
	for {
		now := l.now()
		n, err := p.Exec(ctx, claim, l.owner, stamp(now), stamp(now.Add(-l.ttl)))
		switch {
		case err == nil && n == 1:
			l.log.DebugWith("migration lock leased", map[string]any{"owner": l.owner})
			stop := l.heartbeat(p)
			return func(ctx context.Context) error {
				stop()
				release := fmt.Sprintf("UPDATE %s SET %s = NULL, %s = NULL WHERE %s = %d AND %s = %s",
					q(lockTable), q("owner"), q("locked_at"), q("id"), lockRowID, q("owner"), ph(1))
				_, err := p.Exec(ctx, release, l.owner)
				return err
			}, nil
		case err != nil && ctx.Err() != nil:
			return nil, errs.Wrap(errs.ErrKindTimeout, "timed out waiting for the migration lock", err)
		case err != nil && !errs.IsTimeout(err):
			return nil, errs.Wrap(errs.KindOf(err), "failed to take migration lock", err)
		}
		l.log.DebugWith("migration lock held elsewhere, waiting", map[string]any{"poll": l.poll.String()})
		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.ErrKindTimeout, "timed out waiting for the migration lock", ctx.Err())
		case <-t.C:
		}
	}
}

// seed inserts the lock row once. Losing an insert race is fine as long as
// the row exists afterwards.
func (l *locker) seed(ctx context.Context, ex database.Executor) error {
	q := l.d.Quote
	count := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %d", q(lockTable), q("id"), lockRowID)
	exists := func() (bool, error) {
		rows, err := ex.Query(ctx, count)
		if err != nil {
			return false, err
		}
		v, err := database.ScanValue(rows)
		if err != nil {
			return false, err
		}
		n, err := asInt(v)
		return n > 0, err
	}
	ok, err := exists()
	if err != nil || ok {
		return err
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%d)", q(lockTable), q("id"), lockRowID)
	if _, ierr := ex.Exec(ctx, insert); ierr != nil {
		if ok, err := exists(); err == nil && ok {
			return nil
		}
		return ierr
	}
	return nil
}

// heartbeat keeps the lease fresh while a long migration runs.
func (l *locker) heartbeat(p *pool.Pool) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	q, ph := l.d.Quote, l.d.Placeholder
	refresh := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %d AND %s = %s",
		q(lockTable), q("locked_at"), ph(1), q("id"), lockRowID, q("owner"), ph(2))

	go func() {
		defer close(done)
		t := time.NewTicker(l.ttl / 3)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := p.Exec(ctx, refresh, stamp(l.now()), l.owner); err != nil && ctx.Err() == nil {
					l.log.WarnWith("failed to refresh migration lock", err, nil)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
