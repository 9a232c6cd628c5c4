// Package pool manages a bounded set of live backend connections.
//
// Callers lease a connection with Acquire and hand it back with Release.
// Waiters are served strictly first come, first served: a released
// connection goes to the oldest waiter before it is parked idle, and a
// freed slot becomes a permission for the oldest waiter to dial.
package pool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/errs"
	"github.com/koustreak/orma/internal/logger"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of a pooled connection.
type State int

const (
	StateIdle State = iota
	StateLeased
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLeased:
		return "leased"
	default:
		return "closed"
	}
}

// pooledConn is one physical connection tracked by the pool.
type pooledConn struct {
	id        uuid.UUID
	raw       database.Conn
	createdAt time.Time
	idleSince time.Time
	state     State // guarded by Pool.mu
	broken    bool  // guarded by Pool.mu
}

// grant is what a waiter receives: a connection, a reserved slot to dial
// into, or an error when the pool closed.
type grant struct {
	conn *pooledConn
	dial bool
	err  error
}

type waiter struct {
	ch     chan grant
	served bool // guarded by Pool.mu
}

// Pool is safe for concurrent use.
type Pool struct {
	cfg Config
	drv database.Driver
	log *logger.Logger

	mu      sync.Mutex
	idle    []*pooledConn // most recently used last
	waiters *list.List    // of *waiter, oldest first
	total   int           // open connections plus reserved dial slots
	leased  int
	closed  bool
	stats   counters

	stop chan struct{}
	done chan struct{}
}

type counters struct {
	acquires        int64
	acquireTimeouts int64
	acquireCancels  int64
	dials           int64
	dialFailures    int64
	evictions       int64
	waitTime        time.Duration
}

// New validates cfg, opens MinConns connections and starts the background
// sweeper. The driver stays owned by the caller.
func New(ctx context.Context, drv database.Driver, cfg Config, log *logger.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	p := &Pool{
		cfg:     cfg,
		drv:     drv,
		log:     log.Component("pool"),
		waiters: list.New(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if err := p.refill(ctx); err != nil {
		close(p.done)
		p.Close()
		return nil, err
	}

	if every := cfg.sweepInterval(); every > 0 {
		go p.sweepLoop(every)
	} else {
		close(p.done)
	}

	p.log.With().
		Str("driver", drv.Name()).
		Int("min_conns", cfg.MinConns).
		Int("max_conns", cfg.MaxConns).
		Logger().Info("connection pool ready")
	return p, nil
}

// Driver returns the backend driver the pool dials through.
func (p *Pool) Driver() database.Driver { return p.drv }

// Config returns the pool configuration.
func (p *Pool) Config() Config { return p.cfg }

// --- acquire / release ---

// Acquire leases a connection. It reuses an idle connection, dials a new one
// while below MaxConns, or queues behind earlier callers. It fails with
// PoolExhausted after AcquireTimeout and with Timeout when ctx ends first.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	start := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errPoolClosed()
	}

	// Only take the fast path when nobody is queued ahead of us.
	if p.waiters.Len() == 0 {
		if pc := p.popIdleLocked(); pc != nil {
			p.leaseLocked(pc, start)
			p.mu.Unlock()
			return newConn(p, pc), nil
		}
		if p.total < p.cfg.MaxConns {
			p.total++
			p.mu.Unlock()
			return p.dialLeased(ctx, start)
		}
	}

	w := &waiter{ch: make(chan grant, 1)}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	var timeout <-chan time.Time
	if p.cfg.AcquireTimeout > 0 {
		t := time.NewTimer(p.cfg.AcquireTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case g := <-w.ch:
		return p.take(ctx, g, start)

	case <-timeout:
		if g, ok := p.abandon(elem, w); ok {
			p.giveBack(g)
		}
		p.mu.Lock()
		p.stats.acquireTimeouts++
		p.mu.Unlock()
		return nil, errs.Newf(errs.ErrKindPoolExhausted,
			"no connection available within %s (max_connections=%d)", p.cfg.AcquireTimeout, p.cfg.MaxConns)

	case <-ctx.Done():
		if g, ok := p.abandon(elem, w); ok {
			p.giveBack(g)
		}
		p.mu.Lock()
		p.stats.acquireCancels++
		p.mu.Unlock()
		return nil, errs.Wrap(errs.ErrKindTimeout, "acquire cancelled", ctx.Err())
	}
}

// take turns a grant received while waiting into a lease.
func (p *Pool) take(ctx context.Context, g grant, start time.Time) (*Conn, error) {
	switch {
	case g.err != nil:
		return nil, g.err
	case g.dial:
		return p.dialLeased(ctx, start)
	default:
		p.mu.Lock()
		p.leaseLocked(g.conn, start)
		p.mu.Unlock()
		return newConn(p, g.conn), nil
	}
}

// abandon removes w from the queue. When the waiter was already served it
// returns the grant so the caller can hand it on.
func (p *Pool) abandon(elem *list.Element, w *waiter) (grant, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !w.served {
		p.waiters.Remove(elem)
		return grant{}, false
	}
	// Grants are sent under mu, so it is already buffered.
	return <-w.ch, true
}

// giveBack passes an unused grant to the next waiter.
func (p *Pool) giveBack(g grant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case g.err != nil:
	case g.dial:
		p.freeSlotLocked()
	default:
		p.parkLocked(g.conn)
	}
}

// release returns pc to the pool. It is called exactly once per lease.
func (p *Pool) release(pc *pooledConn) {
	p.mu.Lock()
	p.leased--
	if pc.broken || p.closed {
		p.evictLocked(pc)
		p.mu.Unlock()
		p.closeRaw(pc)
		return
	}
	p.parkLocked(pc)
	p.mu.Unlock()
}

// parkLocked hands pc to the oldest waiter, or parks it idle.
func (p *Pool) parkLocked(pc *pooledConn) {
	if w := p.popWaiterLocked(); w != nil {
		w.ch <- grant{conn: pc}
		return
	}
	pc.state = StateIdle
	pc.idleSince = time.Now()
	p.idle = append(p.idle, pc)
}

// evictLocked forgets pc and frees its slot. The caller closes pc.raw
// outside the lock.
func (p *Pool) evictLocked(pc *pooledConn) {
	pc.state = StateClosed
	p.stats.evictions++
	p.freeSlotLocked()
}

// freeSlotLocked gives a freed slot to the oldest waiter as permission to
// dial, or shrinks the pool.
func (p *Pool) freeSlotLocked() {
	if !p.closed {
		if w := p.popWaiterLocked(); w != nil {
			w.ch <- grant{dial: true}
			return
		}
	}
	p.total--
}

func (p *Pool) popWaiterLocked() *waiter {
	e := p.waiters.Front()
	if e == nil {
		return nil
	}
	p.waiters.Remove(e)
	w := e.Value.(*waiter)
	w.served = true
	return w
}

func (p *Pool) popIdleLocked() *pooledConn {
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	pc := p.idle[n-1]
	p.idle[n-1] = nil
	p.idle = p.idle[:n-1]
	return pc
}

func (p *Pool) leaseLocked(pc *pooledConn, start time.Time) {
	pc.state = StateLeased
	p.leased++
	p.stats.acquires++
	p.stats.waitTime += time.Since(start)
}

// --- dialing ---

// dialLeased opens a connection into an already reserved slot.
func (p *Pool) dialLeased(ctx context.Context, start time.Time) (*Conn, error) {
	pc, err := p.dial(ctx)
	if err != nil {
		p.mu.Lock()
		p.freeSlotLocked()
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.freeSlotLocked()
		p.mu.Unlock()
		p.closeRaw(pc)
		return nil, errPoolClosed()
	}
	p.leaseLocked(pc, start)
	p.mu.Unlock()
	return newConn(p, pc), nil
}

// dial opens one connection, retrying connection failures with exponential
// backoff up to ConnectRetries times.
func (p *Pool) dial(ctx context.Context) (*pooledConn, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.ConnectRetries; attempt++ {
		if attempt > 0 {
			delay := p.cfg.backoff(attempt)
			p.log.WarnWith("dial failed, retrying", lastErr, map[string]any{
				"attempt": attempt,
				"backoff": delay.String(),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, errs.Wrap(errs.ErrKindTimeout, "dial cancelled", ctx.Err())
			}
		}

		raw, err := p.drv.Open(ctx)
		p.mu.Lock()
		p.stats.dials++
		if err != nil {
			p.stats.dialFailures++
		}
		p.mu.Unlock()

		if err == nil {
			now := time.Now()
			return &pooledConn{id: uuid.New(), raw: raw, createdAt: now, idleSince: now}, nil
		}
		lastErr = err
		if !errs.IsConnectionFailed(err) {
			break
		}
	}
	if errs.KindOf(lastErr) == errs.ErrKindUnknown {
		lastErr = errs.Wrap(errs.ErrKindConnectionFailed, "dial failed", lastErr)
	}
	return nil, lastErr
}

func (p *Pool) closeRaw(pc *pooledConn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pc.raw.Close(ctx); err != nil {
		p.log.DebugWith("close connection", map[string]any{"conn": pc.id.String(), "error": err.Error()})
	}
}

// --- maintenance ---

func (p *Pool) sweepLoop(every time.Duration) {
	defer close(p.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			p.sweep(ctx)
			cancel()
		}
	}
}

// sweep evicts stale idle connections, health checks the rest and refills
// to MinConns.
func (p *Pool) sweep(ctx context.Context) {
	now := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	var stale, check []*pooledConn
	keep := p.idle[:0]
	for _, pc := range p.idle {
		switch {
		case p.cfg.IdleTimeout > 0 && now.Sub(pc.idleSince) > p.cfg.IdleTimeout && p.total-len(stale) > p.cfg.MinConns:
			stale = append(stale, pc)
		case p.cfg.HealthCheckPeriod > 0:
			// Checked connections count as leased while pinged.
			pc.state = StateLeased
			p.leased++
			check = append(check, pc)
		default:
			keep = append(keep, pc)
		}
	}
	clear(p.idle[len(keep):])
	p.idle = keep
	for _, pc := range stale {
		p.evictLocked(pc)
	}
	p.mu.Unlock()

	for _, pc := range stale {
		p.closeRaw(pc)
	}
	if len(stale) > 0 {
		p.log.DebugWith("evicted idle connections", map[string]any{"count": len(stale)})
	}

	for _, pc := range check {
		if err := pc.raw.Ping(ctx); err != nil {
			p.log.WarnWith("health check failed, evicting connection", err, map[string]any{"conn": pc.id.String()})
			p.mu.Lock()
			pc.broken = true
			p.mu.Unlock()
		}
		p.release(pc)
	}

	if err := p.refill(ctx); err != nil {
		p.log.WarnWith("refill failed", err, nil)
	}
}

// refill dials concurrently until MinConns connections are open.
func (p *Pool) refill(ctx context.Context) error {
	p.mu.Lock()
	need := p.cfg.MinConns - p.total
	if p.closed || need <= 0 {
		p.mu.Unlock()
		return nil
	}
	p.total += need
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for range need {
		g.Go(func() error {
			pc, err := p.dial(gctx)
			p.mu.Lock()
			defer p.mu.Unlock()
			if err != nil {
				p.freeSlotLocked()
				return err
			}
			if p.closed {
				p.freeSlotLocked()
				go p.closeRaw(pc)
				return nil
			}
			p.parkLocked(pc)
			return nil
		})
	}
	return g.Wait()
}

// Close stops the sweeper, fails queued waiters and closes idle
// connections. Leased connections are closed when released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	for w := p.popWaiterLocked(); w != nil; w = p.popWaiterLocked() {
		w.ch <- grant{err: errPoolClosed()}
	}
	for _, pc := range idle {
		p.evictLocked(pc)
	}
	p.mu.Unlock()

	close(p.stop)
	<-p.done

	for _, pc := range idle {
		p.closeRaw(pc)
	}
	p.log.Info("connection pool closed")
}

func errPoolClosed() error {
	return errs.New(errs.ErrKindConnectionFailed, "pool is closed")
}

// --- stats ---

// Stats is a point-in-time snapshot of pool state.
type Stats struct {
	MinConns        int           `json:"min_connections"`
	MaxConns        int           `json:"max_connections"`
	TotalConns      int           `json:"total_connections"`
	IdleConns       int           `json:"idle_connections"`
	LeasedConns     int           `json:"leased_connections"`
	Waiting         int           `json:"waiting"`
	Acquires        int64         `json:"acquires"`
	AcquireTimeouts int64         `json:"acquire_timeouts"`
	AcquireCancels  int64         `json:"acquire_cancels"`
	Dials           int64         `json:"dials"`
	DialFailures    int64         `json:"dial_failures"`
	Evictions       int64         `json:"evictions"`
	WaitTime        time.Duration `json:"wait_time_ns"`
}

// Stat returns current counters.
func (p *Pool) Stat() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		MinConns:        p.cfg.MinConns,
		MaxConns:        p.cfg.MaxConns,
		TotalConns:      p.total,
		IdleConns:       len(p.idle),
		LeasedConns:     p.leased,
		Waiting:         p.waiters.Len(),
		Acquires:        p.stats.acquires,
		AcquireTimeouts: p.stats.acquireTimeouts,
		AcquireCancels:  p.stats.acquireCancels,
		Dials:           p.stats.dials,
		DialFailures:    p.stats.dialFailures,
		Evictions:       p.stats.evictions,
		WaitTime:        p.stats.waitTime,
	}
}
