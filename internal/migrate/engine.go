// Package migrate diffs the registered models against the schema recorded
// in migration files, writes new migration files, and applies or rolls them
// back against a database while keeping a ledger of what ran.
//
// Usage:
//
//	eng := migrate.New(p, dialect.NewPostgres(), reg, store, migrate.DefaultConfig(), log)
//	ops, err := eng.DiffSchema(ctx)
//	if err != nil { ... }
//	if _, err := eng.WriteMigration(ctx, ops, "add_email"); err != nil { ... }
//	applied, err := eng.Migrate(ctx)
package migrate

import (
	"context"
	"errors"
	"slices"
	"sort"
	"time"

	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/ddl"
	"github.com/koustreak/orma/internal/dialect"
	"github.com/koustreak/orma/internal/errs"
	"github.com/koustreak/orma/internal/filestore"
	"github.com/koustreak/orma/internal/logger"
	"github.com/koustreak/orma/internal/pool"
	"github.com/koustreak/orma/internal/schema"
)

// Config tunes locking.
type Config struct {
	// LockKey names the advisory lock shared by every migrating process.
	LockKey string

	// LockTTL is how long a lease on the lock row stays valid without a
	// heartbeat. Only engines without advisory locks use leases.
	LockTTL time.Duration

	// LockPoll is the delay between attempts to take a held lease.
	LockPoll time.Duration
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		LockKey:  "orma_migrations",
		LockTTL:  10 * time.Minute,
		LockPoll: 500 * time.Millisecond,
	}
}

// Engine applies migrations stored in a filestore to one database.
type Engine struct {
	pool   *pool.Pool
	d      dialect.Dialect
	reg    *schema.Registry
	repo   *Repository
	ledger *ledger
	lock   *locker
	log    *logger.Logger
	now    func() time.Time
}

// New returns an engine. reg must be initialised; it may be nil when only
// existing migrations are applied, in which case diffing fails.
func New(p *pool.Pool, d dialect.Dialect, reg *schema.Registry, store filestore.Store, cfg Config, log *logger.Logger) *Engine {
	def := DefaultConfig()
	if cfg.LockKey == "" {
		cfg.LockKey = def.LockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.LockPoll <= 0 {
		cfg.LockPoll = def.LockPoll
	}
	log = log.Component("migrate")
	return &Engine{
		pool:   p,
		d:      d,
		reg:    reg,
		repo:   NewRepository(store),
		ledger: &ledger{d: d},
		lock:   newLocker(d, cfg, log),
		log:    log,
		now:    time.Now,
	}
}

// Repository returns the migration file repository.
func (e *Engine) Repository() *Repository { return e.repo }

// DiffSchema compares the registered models with the schema the migration
// files produce and returns the operations that bring the files up to date.
func (e *Engine) DiffSchema(ctx context.Context) ([]ddl.Operation, error) {
	migs, err := e.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	state, err := State(migs)
	if err != nil {
		return nil, err
	}
	if e.reg == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "no models registered to diff against")
	}
	return Diff(state, FromRegistry(e.reg)), nil
}

// WriteMigration stores ops as new migrations named name, one per app, each
// taking the next sequence of its app. A migration referencing a table of
// another app depends on the migration of that app which creates it.
// It returns nil when ops is empty.
func (e *Engine) WriteMigration(ctx context.Context, ops []ddl.Operation, name string) ([]*Migration, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	if name == "" {
		name = "auto"
	}
	migs, err := e.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	state, err := State(migs)
	if err != nil {
		return nil, err
	}
	target := ddl.NewSchema()
	if e.reg != nil {
		target = FromRegistry(e.reg)
	}

	appOf := func(table string) string {
		for _, s := range []*ddl.Schema{target, state} {
			if t, ok := s.Table(table); ok && t.App != "" {
				return t.App
			}
		}
		return ""
	}

	batch := map[string]*Migration{}
	var apps []string
	for _, op := range ops {
		app := opApp(op, appOf)
		if app == "" {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "cannot tell which app owns table %q", op.TableName())
		}
		m, ok := batch[app]
		if !ok {
			m = &Migration{App: app, Name: name, Sequence: lastSequence(migs, app) + 1}
			batch[app] = m
			apps = append(apps, app)
		}
		m.Operations = append(m.Operations, op)
	}
	sort.Strings(apps)

	for _, app := range apps {
		m := batch[app]
		m.Reverse = ddl.ReverseAll(m.Operations)
		deps := map[string]bool{}
		for _, op := range m.Operations {
			for _, table := range referencedTables(op) {
				other := appOf(table)
				if other == "" || other == app {
					continue
				}
				if dep := creator(batch[other], table); dep != nil {
					deps[dep.ID()] = true
				} else if last := latest(migs, other); last != nil {
					deps[last.ID()] = true
				}
			}
		}
		for id := range deps {
			m.Dependencies = append(m.Dependencies, id)
		}
		sort.Strings(m.Dependencies)
	}

	out := make([]*Migration, 0, len(apps))
	for _, app := range apps {
		out = append(out, batch[app])
	}
	if _, err := Plan(append(slices.Clone(migs), out...)); err != nil {
		return nil, err
	}
	for _, m := range out {
		if err := e.repo.Write(ctx, m); err != nil {
			return nil, err
		}
		e.log.InfoWith("wrote migration", map[string]any{"id": m.ID(), "operations": len(m.Operations)})
	}
	return out, nil
}

// PendingMigrations returns the migrations not in the ledger, in the order
// Migrate would apply them.
func (e *Engine) PendingMigrations(ctx context.Context) ([]*Migration, error) {
	plan, err := e.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.ensure(ctx, e.pool); err != nil {
		return nil, err
	}
	applied, err := e.ledger.list(ctx, e.pool)
	if err != nil {
		return nil, err
	}
	done := appliedSet(applied)
	var out []*Migration
	for _, m := range plan {
		if _, ok := done[m.ID()]; !ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Migrate applies every pending migration in plan order and returns the ids
// it applied. It refuses to run when an applied migration file changed
// since it was applied.
func (e *Engine) Migrate(ctx context.Context) ([]string, error) {
	var ran []string
	err := e.session(ctx, func(conn *pool.Conn) error {
		plan, applied, err := e.snapshot(ctx, conn)
		if err != nil {
			return err
		}
		done := appliedSet(applied)
		for _, m := range plan {
			rec, ok := done[m.ID()]
			if !ok {
				continue
			}
			sum, err := m.Checksum()
			if err != nil {
				return err
			}
			if sum != rec.Checksum {
				return errs.Newf(errs.ErrKindMigrationConflict,
					"migration %s changed after it was applied", m.ID())
			}
		}
		for _, m := range plan {
			if _, ok := done[m.ID()]; ok {
				continue
			}
			if err := e.apply(ctx, conn, plan, done, m); err != nil {
				return err
			}
			done[m.ID()] = Applied{ID: m.ID()}
			ran = append(ran, m.ID())
		}
		return nil
	})
	if len(ran) == 0 && err == nil {
		e.log.Info("no migrations to apply")
	}
	return ran, err
}

// ApplyMigration applies one migration. Its predecessor and dependencies
// must already be applied.
func (e *Engine) ApplyMigration(ctx context.Context, id string) error {
	return e.session(ctx, func(conn *pool.Conn) error {
		plan, applied, err := e.snapshot(ctx, conn)
		if err != nil {
			return err
		}
		m, err := find(plan, id)
		if err != nil {
			return err
		}
		done := appliedSet(applied)
		if _, ok := done[id]; ok {
			return errs.Newf(errs.ErrKindMigrationConflict, "migration %s is already applied", id)
		}
		return e.apply(ctx, conn, plan, done, m)
	})
}

// RollbackMigration reverts one applied migration. It must be the latest
// applied migration of its app, and no applied migration may depend on it.
func (e *Engine) RollbackMigration(ctx context.Context, id string) error {
	return e.session(ctx, func(conn *pool.Conn) error {
		plan, applied, err := e.snapshot(ctx, conn)
		if err != nil {
			return err
		}
		m, err := find(plan, id)
		if err != nil {
			return err
		}
		done := appliedSet(applied)
		if _, ok := done[id]; !ok {
			return errs.Newf(errs.ErrKindMigrationConflict, "migration %s is not applied", id)
		}
		for _, other := range plan {
			if _, ok := done[other.ID()]; !ok || other == m {
				continue
			}
			if other.App == m.App && other.Sequence > m.Sequence {
				return errs.Newf(errs.ErrKindMigrationConflict,
					"migration %s must be rolled back before %s", other.ID(), id)
			}
			if slices.Contains(other.Dependencies, id) {
				return errs.Newf(errs.ErrKindMigrationConflict,
					"applied migration %s depends on %s", other.ID(), id)
			}
		}
		state, err := stateOf(plan, done)
		if err != nil {
			return err
		}
		return e.run(ctx, conn, m, m.Reverse, state, func(ex database.Executor) error {
			return e.ledger.remove(ctx, ex, id)
		})
	})
}

// RenderSQL returns the statements migration id runs, forwards or, with
// reverse, when rolled back. It needs no database: the schema it renders
// against is replayed from the migration files.
func (e *Engine) RenderSQL(ctx context.Context, id string, reverse bool) ([]string, error) {
	plan, err := e.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	m, err := find(plan, id)
	if err != nil {
		return nil, err
	}
	i := slices.Index(plan, m)
	ops := m.Operations
	prefix := plan[:i]
	if reverse {
		ops = m.Reverse
		prefix = plan[:i+1]
	}
	state, err := State(prefix)
	if err != nil {
		return nil, err
	}
	steps, err := e.compile(m, ops, state)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, s := range steps {
		out = append(out, s.stmts...)
	}
	return out, nil
}

// Status is the state of one migration.
type Status struct {
	ID        string
	App       string
	Applied   bool
	AppliedAt time.Time

	// Changed is set when the file no longer matches the checksum
	// recorded when it was applied.
	Changed bool

	// Missing is set for ledger rows with no migration file.
	Missing bool
}

// Status reports every migration file and every ledger row, in plan order
// followed by ledger rows without a file.
func (e *Engine) Status(ctx context.Context) ([]Status, error) {
	plan, err := e.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.ensure(ctx, e.pool); err != nil {
		return nil, err
	}
	applied, err := e.ledger.list(ctx, e.pool)
	if err != nil {
		return nil, err
	}
	done := appliedSet(applied)
	out := make([]Status, 0, len(plan))
	for _, m := range plan {
		st := Status{ID: m.ID(), App: m.App}
		if rec, ok := done[m.ID()]; ok {
			sum, err := m.Checksum()
			if err != nil {
				return nil, err
			}
			st.Applied = true
			st.AppliedAt = rec.AppliedAt
			st.Changed = sum != rec.Checksum
			delete(done, m.ID())
		}
		out = append(out, st)
	}
	for _, rec := range applied {
		if _, ok := done[rec.ID]; ok {
			out = append(out, Status{ID: rec.ID, App: rec.App, Applied: true, AppliedAt: rec.AppliedAt, Missing: true})
		}
	}
	return out, nil
}

// --- internals ---

// session takes the migration lock, leases the migration connection and
// runs fn between the dialect's session statements. An advisory lock lives
// on the migration connection; a lease is taken before it.
func (e *Engine) session(ctx context.Context, fn func(conn *pool.Conn) error) error {
	if err := e.ledger.ensure(ctx, e.pool); err != nil {
		return err
	}
	// Cleanup runs even when ctx has ended.
	cleanup := context.WithoutCancel(ctx)
	release := func(unlock func(context.Context) error, conn *pool.Conn) {
		if err := unlock(cleanup); err != nil {
			e.log.WarnWith("failed to release migration lock", err, nil)
			if conn != nil {
				conn.Discard()
			}
		}
	}

	var conn *pool.Conn
	var err error
	if e.lock.advisory() {
		if conn, err = e.pool.Acquire(ctx); err != nil {
			return err
		}
		defer conn.Release()
		unlock, err := e.lock.lockSession(ctx, conn)
		if err != nil {
			return err
		}
		defer release(unlock, conn)
	} else {
		unlock, err := e.lock.lease(ctx, e.pool)
		if err != nil {
			return err
		}
		defer release(unlock, nil)
		if conn, err = e.pool.Acquire(ctx); err != nil {
			return err
		}
		defer conn.Release()
	}

	before, after := e.d.MigrationSession()
	for _, s := range before {
		if _, err := conn.Exec(ctx, s); err != nil {
			return err
		}
	}
	defer func() {
		for _, s := range after {
			if _, err := conn.Exec(cleanup, s); err != nil {
				e.log.WarnWith("failed to restore session", err, map[string]any{"statement": s})
				conn.Discard()
				return
			}
		}
	}()
	return fn(conn)
}

// snapshot reads the files and the ledger under the lock.
func (e *Engine) snapshot(ctx context.Context, ex database.Executor) ([]*Migration, []Applied, error) {
	plan, err := e.repo.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	applied, err := e.ledger.list(ctx, ex)
	if err != nil {
		return nil, nil, err
	}
	return plan, applied, nil
}

// apply checks m can run next and runs it.
func (e *Engine) apply(ctx context.Context, conn *pool.Conn, plan []*Migration, done map[string]Applied, m *Migration) error {
	if m.Sequence > 1 {
		if !slices.ContainsFunc(plan, func(o *Migration) bool {
			_, ok := done[o.ID()]
			return ok && o.App == m.App && o.Sequence == m.Sequence-1
		}) {
			return errs.Newf(errs.ErrKindMigrationConflict,
				"migration %s needs migration %04d of %s applied first", m.ID(), m.Sequence-1, m.App)
		}
	}
	for _, dep := range m.Dependencies {
		if _, ok := done[dep]; !ok {
			return errs.Newf(errs.ErrKindMigrationConflict,
				"migration %s depends on unapplied migration %s", m.ID(), dep)
		}
	}
	state, err := stateOf(plan, done)
	if err != nil {
		return err
	}
	sum, err := m.Checksum()
	if err != nil {
		return err
	}
	return e.run(ctx, conn, m, m.Operations, state, func(ex database.Executor) error {
		return e.ledger.insert(ctx, ex, m, sum, e.now())
	})
}

type step struct {
	op    ddl.Operation
	stmts []string
	after *ddl.Schema
}

// compile renders every operation before anything runs, so a migration the
// dialect cannot express fails without touching the database.
func (e *Engine) compile(m *Migration, ops []ddl.Operation, state *ddl.Schema) ([]step, error) {
	cur := state.Clone()
	steps := make([]step, 0, len(ops))
	for _, op := range ops {
		stmts, err := e.d.CompileDDL(op, cur)
		if err != nil {
			return nil, wrapOp(err, m, op)
		}
		next := cur.Clone()
		if err := next.Apply(op); err != nil {
			return nil, wrapOp(err, m, op)
		}
		steps = append(steps, step{op: op, stmts: stmts, after: next})
		cur = next
	}
	return steps, nil
}

// run executes ops and records the result. With transactional DDL the
// statements and the ledger change commit together. Otherwise each
// statement commits on its own and a failure is undone by running the
// reverse of the operations that completed.
func (e *Engine) run(ctx context.Context, conn *pool.Conn, m *Migration, ops []ddl.Operation, state *ddl.Schema, record func(database.Executor) error) error {
	steps, err := e.compile(m, ops, state)
	if err != nil {
		return err
	}
	start := e.now()
	log := e.log.With().Str("migration", m.ID()).Logger()

	if e.pool.Driver().SupportsTransactionalDDL() {
		err = e.runTx(ctx, conn, m, steps, record)
	} else {
		err = e.runCompensated(ctx, conn, m, state, steps, record)
	}
	if err != nil {
		log.ErrorWith("migration failed", err, map[string]any{"partial": errs.IsPartial(err)})
		return err
	}
	log.InfoWith("migration done", map[string]any{
		"operations":  len(steps),
		"duration_ms": e.now().Sub(start).Milliseconds(),
	})
	return nil
}

func (e *Engine) runTx(ctx context.Context, conn *pool.Conn, m *Migration, steps []step, record func(database.Executor) error) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		if rerr := tx.Rollback(context.WithoutCancel(ctx)); rerr != nil {
			e.log.WarnWith("rollback failed, evicting connection", rerr, nil)
			conn.Discard()
		}
		return err
	}
	for _, s := range steps {
		for _, stmt := range s.stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fail(applyErr(m, s.op, err))
			}
		}
	}
	if err := record(tx); err != nil {
		return fail(errs.Wrap(errs.ErrKindMigrationApply, "failed to record migration "+m.ID(), err))
	}
	if err := tx.Commit(ctx); err != nil {
		conn.Discard()
		return errs.Wrap(errs.ErrKindMigrationApply, "failed to commit migration "+m.ID(), err)
	}
	return nil
}

func (e *Engine) runCompensated(ctx context.Context, conn *pool.Conn, m *Migration, state *ddl.Schema, steps []step, record func(database.Executor) error) error {
	for i, s := range steps {
		for j, stmt := range s.stmts {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				failed := applyErr(m, s.op, err)
				// Statements of the failing operation that already ran
				// cannot be undone by reversing whole operations.
				failed.Partial = j > 0
				if cerr := e.compensate(ctx, conn, m, state, steps[:i]); cerr != nil {
					e.log.ErrorWith("compensation failed", cerr, map[string]any{"migration": m.ID()})
					failed.Partial = true
				}
				return failed
			}
		}
	}
	if err := record(conn); err != nil {
		failed := errs.Wrap(errs.ErrKindMigrationApply, "failed to record migration "+m.ID(), err)
		if cerr := e.compensate(ctx, conn, m, state, steps); cerr != nil {
			e.log.ErrorWith("compensation failed", cerr, map[string]any{"migration": m.ID()})
			failed.Partial = true
		}
		return failed
	}
	return nil
}

// compensate reverts done, last first.
func (e *Engine) compensate(ctx context.Context, conn *pool.Conn, m *Migration, state *ddl.Schema, done []step) error {
	ctx = context.WithoutCancel(ctx)
	for k := len(done) - 1; k >= 0; k-- {
		rev := done[k].op.Reverse()
		stmts, err := e.d.CompileDDL(rev, done[k].after)
		if err != nil {
			return wrapOp(err, m, rev)
		}
		for _, stmt := range stmts {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return applyErr(m, rev, err)
			}
		}
		e.log.InfoWith("reverted operation", map[string]any{"migration": m.ID(), "op": done[k].op.Describe()})
	}
	return nil
}

func applyErr(m *Migration, op ddl.Operation, err error) *errs.Error {
	e := errs.Wrap(errs.ErrKindMigrationApply, "migration "+m.ID()+" failed", err).WithOp(op.Describe())
	var be *errs.Error
	if errors.As(err, &be) && be.Code != "" {
		e = e.WithCode(be.Code)
	}
	return e
}

// stateOf replays the applied migrations of plan.
func stateOf(plan []*Migration, done map[string]Applied) (*ddl.Schema, error) {
	var applied []*Migration
	for _, m := range plan {
		if _, ok := done[m.ID()]; ok {
			applied = append(applied, m)
		}
	}
	return State(applied)
}

func appliedSet(applied []Applied) map[string]Applied {
	out := make(map[string]Applied, len(applied))
	for _, a := range applied {
		out[a.ID] = a
	}
	return out
}

func find(plan []*Migration, id string) (*Migration, error) {
	for _, m := range plan {
		if m.ID() == id {
			return m, nil
		}
	}
	return nil, errs.Newf(errs.ErrKindNotFound, "migration %s not found", id)
}

func lastSequence(migs []*Migration, app string) int {
	if m := latest(migs, app); m != nil {
		return m.Sequence
	}
	return 0
}

func latest(migs []*Migration, app string) *Migration {
	var out *Migration
	for _, m := range migs {
		if m.App == app && (out == nil || m.Sequence > out.Sequence) {
			out = m
		}
	}
	return out
}

// creator returns m when it creates table.
func creator(m *Migration, table string) *Migration {
	if m == nil {
		return nil
	}
	for _, op := range m.Operations {
		if ct, ok := op.(*ddl.CreateTable); ok && ct.Table.Name == table {
			return m
		}
	}
	return nil
}

func opApp(op ddl.Operation, appOf func(string) string) string {
	switch o := op.(type) {
	case *ddl.CreateTable:
		if o.Table.App != "" {
			return o.Table.App
		}
	case *ddl.DropTable:
		if o.Table.App != "" {
			return o.Table.App
		}
	}
	return appOf(op.TableName())
}

func referencedTables(op ddl.Operation) []string {
	var out []string
	switch o := op.(type) {
	case *ddl.CreateTable:
		for _, c := range o.Table.Columns {
			if c.References != nil {
				out = append(out, c.References.Table)
			}
		}
	case *ddl.AddForeignKey:
		if o.Column.References != nil {
			out = append(out, o.Column.References.Table)
		}
	}
	return out
}
