// Package storage implements the tenant-isolated storage adapter: a
// typed façade over a content-addressed Backend with a write-through
// Cache, envelope-based tenant isolation, and a Sync pass that flushes
// entries the backend did not accept.
// Grounded on the teacher's pkg/storage + infrastructure/cache split
// (typed store interfaces over a pluggable backend) generalized from
// per-domain CRUD into one isolation-key-addressed façade.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/guardant/sentinel/internal/domain/nest"
	"github.com/guardant/sentinel/internal/eventbus"
	"github.com/guardant/sentinel/internal/logger"
)

var errBackendUnavailable = errors.New("storage: backend unavailable")

const (
	EventInitialized   eventbus.Kind = "storage.initialized"
	EventDataStored    eventbus.Kind = "storage.data-stored"
	EventDataDeleted   eventbus.Kind = "storage.data-deleted"
	EventSyncCompleted eventbus.Kind = "storage.sync-completed"
)

// Config controls adapter-wide behavior.
type Config struct {
	BatchSize           int
	BatchThrottle       time.Duration
	CompressionThreshold int
	EncryptionMasterKey []byte
}

func DefaultConfig() Config {
	return Config{BatchSize: 25, BatchThrottle: 10 * time.Millisecond, CompressionThreshold: 4096}
}

// StoreOptions customize one Store call.
type StoreOptions struct {
	Key      string // defaults to "default"
	TTL      time.Duration // 0 uses DefaultTTL(dataType)
	Metadata map[string]any
}

// SyncReport summarizes a Sync() pass.
type SyncReport struct {
	Synced int
	Failed int
}

// Adapter is the tenant storage adapter.
type Adapter struct {
	cfg     Config
	cache   *Cache
	backend Backend
	codec   *Codec
	bus     *eventbus.Bus
	log     *logger.Logger

	keyLocks sync.Map // string -> *sync.Mutex, single-writer-per-key
}

// New creates an Adapter and publishes an "initialized" event.
func New(cfg Config, backend Backend, bus *eventbus.Bus, log *logger.Logger) *Adapter {
	if log == nil {
		log = logger.NewDefault("storage-adapter")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	a := &Adapter{
		cfg:     cfg,
		cache:   NewCache(10 * time.Minute),
		backend: backend,
		codec:   NewCodec(cfg.EncryptionMasterKey, cfg.CompressionThreshold),
		bus:     bus,
		log:     log,
	}
	if bus != nil {
		bus.Publish(eventbus.Event{Kind: EventInitialized})
	}
	return a
}

func (a *Adapter) lockFor(key string) *sync.Mutex {
	v, _ := a.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Store computes the isolation key, wraps payload, writes through to
// the cache, and enqueues (synchronously attempts, falling back to
// cache-only) a backend write. It returns the backend entity key, or
// empty when only cached.
func (a *Adapter) Store(ctx context.Context, nestID nest.ID, dt DataType, payload []byte, opts StoreOptions) (string, error) {
	if err := nestID.Validate(); err != nil {
		return "", err
	}
	key := IsolationKey(nestID, dt, opts.Key)
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL(dt)
	}

	lock := a.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	wrapped, _, _, err := a.codec.Wrap(nestID, payload)
	if err != nil {
		return "", fmt.Errorf("wrap payload: %w", err)
	}

	entityKey, werr := a.backend.Write(ctx, key, wrapped)
	hasEntity := werr == nil
	if werr != nil {
		a.log.WithField("isolation_key", key).WithError(werr).Warn("backend write failed, caching unsynced")
	}
	a.cache.Set(key, wrapped, entityKey, hasEntity, ttl)

	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Kind: EventDataStored, Payload: key})
	}

	if !hasEntity {
		return "", nil
	}
	return entityKey, nil
}

// Retrieve reads key (cache-first), unwraps the envelope, and rejects
// the result if the embedded nest id does not match nestID.
func (a *Adapter) Retrieve(ctx context.Context, nestID nest.ID, dt DataType, key string) ([]byte, bool, error) {
	if err := nestID.Validate(); err != nil {
		return nil, false, err
	}
	isolationKey := IsolationKey(nestID, dt, key)

	wrapped, _, _, found := a.cache.Get(isolationKey)
	if !found {
		backendWrapped, _, ok, err := a.backend.Read(ctx, isolationKey)
		if err != nil {
			return nil, false, nil // degrade to cache-miss, not an error: backend may be offline
		}
		if !ok {
			return nil, false, nil
		}
		wrapped = backendWrapped
		found = true
	}
	if !found {
		return nil, false, nil
	}

	payload, err := a.codec.Unwrap(nestID, wrapped)
	if err != nil {
		if errors.Is(err, ErrNestMismatch) {
			return nil, false, ErrNestMismatch
		}
		return nil, false, fmt.Errorf("unwrap payload: %w", err)
	}
	return payload, true, nil
}

// BatchOp is one operation in a BatchStore call.
type BatchOp struct {
	NestID  nest.ID
	DataType DataType
	Payload []byte
	Opts    StoreOptions
}

// BatchResult is the per-op outcome of BatchStore.
type BatchResult struct {
	EntityKey string
	Err       error
}

// BatchStore chunks ops into cfg.BatchSize groups, runs each batch
// concurrently with settle semantics (every op resolves, none aborts
// the batch), and throttles between batches.
func (a *Adapter) BatchStore(ctx context.Context, ops []BatchOp) []BatchResult {
	results := make([]BatchResult, len(ops))
	batchSize := a.cfg.BatchSize

	for start := 0; start < len(ops); start += batchSize {
		end := start + batchSize
		if end > len(ops) {
			end = len(ops)
		}
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				entityKey, err := a.Store(ctx, ops[i].NestID, ops[i].DataType, ops[i].Payload, ops[i].Opts)
				results[i] = BatchResult{EntityKey: entityKey, Err: err}
			}(i)
		}
		wg.Wait()

		if end < len(ops) && a.cfg.BatchThrottle > 0 {
			select {
			case <-ctx.Done():
				for i := end; i < len(ops); i++ {
					results[i] = BatchResult{Err: ctx.Err()}
				}
				return results
			case <-time.After(a.cfg.BatchThrottle):
			}
		}
	}
	return results
}

// GetByType runs a pattern query nestId:dataType:* over the cache,
// falling back to the backend for keys not (yet) cached.
func (a *Adapter) GetByType(ctx context.Context, nestID nest.ID, dt DataType) (map[string][]byte, error) {
	if err := nestID.Validate(); err != nil {
		return nil, err
	}
	prefix := Prefix(nestID, dt)
	out := make(map[string][]byte)

	for _, k := range a.cache.Keys(prefix) {
		wrapped, _, _, ok := a.cache.Get(k)
		if !ok {
			continue
		}
		payload, err := a.codec.Unwrap(nestID, wrapped)
		if err != nil {
			continue
		}
		out[k] = payload
	}

	backendKeys, err := a.backend.QueryPrefix(ctx, prefix)
	if err == nil {
		for _, k := range backendKeys {
			if _, already := out[k]; already {
				continue
			}
			wrapped, _, found, rerr := a.backend.Read(ctx, k)
			if rerr != nil || !found {
				continue
			}
			payload, uerr := a.codec.Unwrap(nestID, wrapped)
			if uerr != nil {
				continue
			}
			out[k] = payload
		}
	}
	return out, nil
}

// Delete removes key from both cache and backend.
func (a *Adapter) Delete(ctx context.Context, nestID nest.ID, dt DataType, key string) error {
	if err := nestID.Validate(); err != nil {
		return err
	}
	isolationKey := IsolationKey(nestID, dt, key)
	lock := a.lockFor(isolationKey)
	lock.Lock()
	defer lock.Unlock()

	a.cache.Delete(isolationKey)
	err := a.backend.Delete(ctx, isolationKey)

	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Kind: EventDataDeleted, Payload: isolationKey})
	}
	if err != nil {
		a.log.WithField("isolation_key", isolationKey).WithError(err).Warn("backend delete failed")
	}
	return nil
}

// Sync flushes unsynced cache entries to the backend and reports
// {synced, failed}.
func (a *Adapter) Sync(ctx context.Context) SyncReport {
	var report SyncReport
	for _, key := range a.cache.Unsynced() {
		wrapped, _, _, ok := a.cache.Get(key)
		if !ok {
			continue
		}
		lock := a.lockFor(key)
		lock.Lock()
		entityKey, err := a.backend.Write(ctx, key, wrapped)
		if err != nil {
			report.Failed++
			lock.Unlock()
			continue
		}
		a.cache.MarkSynced(key, entityKey)
		lock.Unlock()
		report.Synced++
	}
	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Kind: EventSyncCompleted, Payload: report})
	}
	return report
}

// Health reports whether the backend is reachable, with the number of
// cache entries still unsynced.
func (a *Adapter) Health(ctx context.Context) (bool, map[string]any) {
	healthy := a.backend.Healthy(ctx)
	return healthy, map[string]any{"backend_healthy": healthy, "unsynced": len(a.cache.Unsynced())}
}

// Name implements system.Service for lifecycle purposes even though the
// adapter has no background loop of its own beyond the cache sweep.
func (a *Adapter) Name() string { return "storage-adapter" }

func (a *Adapter) Start(context.Context) error { return nil }

func (a *Adapter) Stop(context.Context) error {
	a.cache.Close()
	return nil
}
