package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("resilience: connection pool closed")

// ErrAcquireTimeout is returned when no connection becomes available
// before AcquireTimeout elapses.
var ErrAcquireTimeout = errors.New("resilience: acquire timeout")

// Factory creates and validates/destroys pooled connections. Conn is
// left as `any` so the pool can hold DB connections, probe transports,
// or anything else with a lifecycle.
type Factory interface {
	Create(ctx context.Context) (any, error)
	Validate(conn any) bool
	Destroy(conn any)
}

// PoolConfig configures a ConnPool.
type PoolConfig struct {
	Min                 int
	Max                 int
	AcquireTimeout      time.Duration
	MaxLifetime         time.Duration
	IdleTimeout         time.Duration
	HealthCheckInterval time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Min:                 1,
		Max:                 10,
		AcquireTimeout:      5 * time.Second,
		MaxLifetime:         30 * time.Minute,
		IdleTimeout:         5 * time.Minute,
		HealthCheckInterval: time.Minute,
	}
}

type pooledConn struct {
	conn      any
	createdAt time.Time
	idleSince time.Time
}

// PoolMetrics snapshots the pool's resource usage.
type PoolMetrics struct {
	Active             int
	Idle               int
	Waiting            int
	AverageAcquireTime time.Duration
	Errors             int64
}

// ConnPool keeps [Min, Max] live connections per Factory.
type ConnPool struct {
	factory Factory
	cfg     PoolConfig

	mu      sync.Mutex
	idle    []*pooledConn
	active  int
	waiters []chan *pooledConn
	closed  bool

	acquireSamples int64
	acquireTotal   time.Duration
	errs           int64

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewConnPool creates a pool and fills it to Min, then starts the
// background idle-connection sweep.
func NewConnPool(ctx context.Context, factory Factory, cfg PoolConfig) (*ConnPool, error) {
	if cfg.Max <= 0 {
		cfg.Max = 10
	}
	if cfg.Min > cfg.Max {
		cfg.Min = cfg.Max
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 5 * time.Second
	}
	p := &ConnPool{
		factory:   factory,
		cfg:       cfg,
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	for i := 0; i < cfg.Min; i++ {
		conn, err := factory.Create(ctx)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		p.idle = append(p.idle, &pooledConn{conn: conn, createdAt: now, idleSince: now})
	}
	if cfg.HealthCheckInterval > 0 {
		go p.sweepLoop()
	} else {
		close(p.sweepDone)
	}
	return p, nil
}

// Acquire returns an idle (optionally validated) connection, creates a
// new one up to Max, or waits until AcquireTimeout.
func (p *ConnPool) Acquire(ctx context.Context) (any, error) {
	start := time.Now()
	conn, err := p.acquire(ctx)
	if err == nil {
		p.mu.Lock()
		p.acquireSamples++
		p.acquireTotal += time.Since(start)
		p.mu.Unlock()
	} else {
		p.mu.Lock()
		p.errs++
		p.mu.Unlock()
	}
	return conn, err
}

func (p *ConnPool) acquire(ctx context.Context) (any, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	for len(p.idle) > 0 {
		pc := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.factory.Validate(pc.conn) {
			p.active++
			p.mu.Unlock()
			return pc.conn, nil
		}
		p.factory.Destroy(pc.conn)
	}

	if p.active < p.cfg.Max {
		p.active++
		p.mu.Unlock()
		conn, err := p.factory.Create(ctx)
		if err != nil {
			p.mu.Lock()
			p.active--
			p.mu.Unlock()
			return nil, err
		}
		return conn, nil
	}

	wait := make(chan *pooledConn, 1)
	p.waiters = append(p.waiters, wait)
	p.mu.Unlock()

	timeout := time.NewTimer(p.cfg.AcquireTimeout)
	defer timeout.Stop()
	select {
	case pc := <-wait:
		if pc == nil {
			return nil, ErrPoolClosed
		}
		return pc.conn, nil
	case <-timeout.C:
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns conn to the pool. Connections past MaxLifetime are
// destroyed instead of recycled; the pool then tops back up to Min.
func (p *ConnPool) Release(conn any) {
	p.mu.Lock()
	p.active--

	now := time.Now()
	pc := &pooledConn{conn: conn, createdAt: now, idleSince: now}

	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.active++
		p.mu.Unlock()
		w <- pc
		return
	}

	p.idle = append(p.idle, pc)
	p.mu.Unlock()
}

// Metrics returns a snapshot of pool usage.
func (p *ConnPool) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	var avg time.Duration
	if p.acquireSamples > 0 {
		avg = p.acquireTotal / time.Duration(p.acquireSamples)
	}
	return PoolMetrics{
		Active:             p.active,
		Idle:                len(p.idle),
		Waiting:            len(p.waiters),
		AverageAcquireTime: avg,
		Errors:             p.errs,
	}
}

// Close drains the pool, destroying every idle connection and refusing
// further acquisitions.
func (p *ConnPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, pc := range idle {
		p.factory.Destroy(pc.conn)
	}
	for _, w := range waiters {
		close(w)
	}
	close(p.stopSweep)
	<-p.sweepDone
}

func (p *ConnPool) sweepLoop() {
	defer close(p.sweepDone)
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopSweep:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *ConnPool) sweep() {
	p.mu.Lock()
	now := time.Now()
	kept := p.idle[:0]
	var destroyed []any
	for _, pc := range p.idle {
		expiredLifetime := p.cfg.MaxLifetime > 0 && now.Sub(pc.createdAt) > p.cfg.MaxLifetime
		expiredIdle := p.cfg.IdleTimeout > 0 && now.Sub(pc.idleSince) > p.cfg.IdleTimeout
		if expiredLifetime || expiredIdle || !p.factory.Validate(pc.conn) {
			destroyed = append(destroyed, pc.conn)
			continue
		}
		kept = append(kept, pc)
	}
	p.idle = kept

	// Refill to Min.
	deficit := p.cfg.Min - (len(p.idle) + p.active)
	p.mu.Unlock()

	for _, c := range destroyed {
		p.factory.Destroy(c)
	}

	for i := 0; i < deficit; i++ {
		conn, err := p.factory.Create(context.Background())
		if err != nil {
			p.mu.Lock()
			p.errs++
			p.mu.Unlock()
			continue
		}
		now := time.Now()
		p.mu.Lock()
		p.idle = append(p.idle, &pooledConn{conn: conn, createdAt: now, idleSince: now})
		p.mu.Unlock()
	}
}
