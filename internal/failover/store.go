package failover

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/guardant/sentinel/internal/domain/endpoint"
	"github.com/guardant/sentinel/internal/domain/failoverevent"
	"github.com/guardant/sentinel/internal/domain/failoverrule"
	"github.com/guardant/sentinel/internal/domain/nest"
	"github.com/guardant/sentinel/internal/storage"
)

// Store persists endpoints, rules and failover events, each keyed by
// (nestID, id). Events are append-only: a Store implementation must
// never expose an update or delete path for them, only Get/List.
type Store interface {
	AddEndpoint(ctx context.Context, nestID nest.ID, ep endpoint.Endpoint) error
	RemoveEndpoint(ctx context.Context, nestID nest.ID, id string) error
	ListEndpoints(ctx context.Context, nestID nest.ID) ([]endpoint.Endpoint, error)

	AddRule(ctx context.Context, nestID nest.ID, rule failoverrule.Rule) error
	RemoveRule(ctx context.Context, nestID nest.ID, id string) error
	ListRules(ctx context.Context, nestID nest.ID) ([]failoverrule.Rule, error)

	AppendEvent(ctx context.Context, nestID nest.ID, ev failoverevent.Event) error
	ListEvents(ctx context.Context, nestID nest.ID) ([]failoverevent.Event, error)
}

// MemoryStore is an in-process Store, used for tests and single-node
// deployments without a storage adapter wired in.
type MemoryStore struct {
	mu        sync.RWMutex
	endpoints map[nest.ID]map[string]endpoint.Endpoint
	rules     map[nest.ID]map[string]failoverrule.Rule
	events    map[nest.ID][]failoverevent.Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		endpoints: make(map[nest.ID]map[string]endpoint.Endpoint),
		rules:     make(map[nest.ID]map[string]failoverrule.Rule),
		events:    make(map[nest.ID][]failoverevent.Event),
	}
}

func (m *MemoryStore) AddEndpoint(_ context.Context, nestID nest.ID, ep endpoint.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.endpoints[nestID] == nil {
		m.endpoints[nestID] = make(map[string]endpoint.Endpoint)
	}
	m.endpoints[nestID][ep.ID] = ep
	return nil
}

func (m *MemoryStore) RemoveEndpoint(_ context.Context, nestID nest.ID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.endpoints[nestID], id)
	return nil
}

func (m *MemoryStore) ListEndpoints(_ context.Context, nestID nest.ID) ([]endpoint.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]endpoint.Endpoint, 0, len(m.endpoints[nestID]))
	for _, e := range m.endpoints[nestID] {
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) AddRule(_ context.Context, nestID nest.ID, rule failoverrule.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rules[nestID] == nil {
		m.rules[nestID] = make(map[string]failoverrule.Rule)
	}
	m.rules[nestID][rule.ID] = rule
	return nil
}

func (m *MemoryStore) RemoveRule(_ context.Context, nestID nest.ID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules[nestID], id)
	return nil
}

func (m *MemoryStore) ListRules(_ context.Context, nestID nest.ID) ([]failoverrule.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]failoverrule.Rule, 0, len(m.rules[nestID]))
	for _, r := range m.rules[nestID] {
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, nestID nest.ID, ev failoverevent.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[nestID] = append(m.events[nestID], ev)
	return nil
}

func (m *MemoryStore) ListEvents(_ context.Context, nestID nest.ID) ([]failoverevent.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]failoverevent.Event, len(m.events[nestID]))
	copy(out, m.events[nestID])
	return out, nil
}

// StorageStore persists endpoints, rules and events through the
// tenant storage adapter, under DataTypeFailoverConfig, keyed so
// operators can replay recent decisions (DefaultTTL(DataTypeFailoverConfig)
// bounds how long that replay window lasts).
type StorageStore struct {
	adapter *storage.Adapter
}

func NewStorageStore(adapter *storage.Adapter) *StorageStore {
	return &StorageStore{adapter: adapter}
}

func (s *StorageStore) AddEndpoint(ctx context.Context, nestID nest.ID, ep endpoint.Endpoint) error {
	return s.put(ctx, nestID, "endpoint:"+ep.ID, ep)
}

func (s *StorageStore) RemoveEndpoint(ctx context.Context, nestID nest.ID, id string) error {
	return s.adapter.Delete(ctx, nestID, storage.DataTypeFailoverConfig, "endpoint:"+id)
}

func (s *StorageStore) ListEndpoints(ctx context.Context, nestID nest.ID) ([]endpoint.Endpoint, error) {
	var out []endpoint.Endpoint
	err := s.listPrefix(ctx, nestID, "endpoint:", func(payload []byte) error {
		var e endpoint.Endpoint
		if err := json.Unmarshal(payload, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

func (s *StorageStore) AddRule(ctx context.Context, nestID nest.ID, rule failoverrule.Rule) error {
	return s.put(ctx, nestID, "rule:"+rule.ID, rule)
}

func (s *StorageStore) RemoveRule(ctx context.Context, nestID nest.ID, id string) error {
	return s.adapter.Delete(ctx, nestID, storage.DataTypeFailoverConfig, "rule:"+id)
}

func (s *StorageStore) ListRules(ctx context.Context, nestID nest.ID) ([]failoverrule.Rule, error) {
	var out []failoverrule.Rule
	err := s.listPrefix(ctx, nestID, "rule:", func(payload []byte) error {
		var r failoverrule.Rule
		if err := json.Unmarshal(payload, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

func (s *StorageStore) AppendEvent(ctx context.Context, nestID nest.ID, ev failoverevent.Event) error {
	return s.put(ctx, nestID, fmt.Sprintf("event:%s:%d", ev.ID, ev.Timestamp.UnixNano()), ev)
}

func (s *StorageStore) ListEvents(ctx context.Context, nestID nest.ID) ([]failoverevent.Event, error) {
	var out []failoverevent.Event
	err := s.listPrefix(ctx, nestID, "event:", func(payload []byte) error {
		var e failoverevent.Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

func (s *StorageStore) put(ctx context.Context, nestID nest.ID, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_, err = s.adapter.Store(ctx, nestID, storage.DataTypeFailoverConfig, payload, storage.StoreOptions{Key: key})
	return err
}

func (s *StorageStore) listPrefix(ctx context.Context, nestID nest.ID, subPrefix string, decode func([]byte) error) error {
	entries, err := s.adapter.GetByType(ctx, nestID, storage.DataTypeFailoverConfig)
	if err != nil {
		return err
	}
	full := storage.Prefix(nestID, storage.DataTypeFailoverConfig) + subPrefix
	for k, payload := range entries {
		if !strings.HasPrefix(k, full) {
			continue
		}
		if err := decode(payload); err != nil {
			continue
		}
	}
	return nil
}
