package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/guardant/sentinel/internal/domain/nest"
	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/storage"
)

// Store persists service definitions. Both implementations are keyed
// by (nestID, definition id).
type Store interface {
	Add(ctx context.Context, def servicedef.Definition) error
	Update(ctx context.Context, def servicedef.Definition) error
	Remove(ctx context.Context, nestID nest.ID, id string) error
	Get(ctx context.Context, nestID nest.ID, id string) (servicedef.Definition, bool, error)
	List(ctx context.Context, nestID nest.ID) ([]servicedef.Definition, error)
}

// MemoryStore is an in-process Store, used for tests and single-node
// deployments without a storage adapter wired in.
type MemoryStore struct {
	mu   sync.RWMutex
	defs map[nest.ID]map[string]servicedef.Definition
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{defs: make(map[nest.ID]map[string]servicedef.Definition)}
}

func (m *MemoryStore) Add(_ context.Context, def servicedef.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	nestID := nest.ID(def.NestID)
	if m.defs[nestID] == nil {
		m.defs[nestID] = make(map[string]servicedef.Definition)
	}
	m.defs[nestID][def.ID] = def
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, def servicedef.Definition) error {
	return m.Add(ctx, def)
}

func (m *MemoryStore) Remove(_ context.Context, nestID nest.ID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.defs[nestID], id)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, nestID nest.ID, id string) (servicedef.Definition, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.defs[nestID][id]
	return def, ok, nil
}

func (m *MemoryStore) List(_ context.Context, nestID nest.ID) ([]servicedef.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]servicedef.Definition, 0, len(m.defs[nestID]))
	for _, def := range m.defs[nestID] {
		out = append(out, def)
	}
	return out, nil
}

// StorageStore persists definitions through the tenant storage
// adapter, under DataTypeServiceDefinition, one isolation key per
// definition id.
type StorageStore struct {
	adapter *storage.Adapter
}

func NewStorageStore(adapter *storage.Adapter) *StorageStore {
	return &StorageStore{adapter: adapter}
}

func (s *StorageStore) Add(ctx context.Context, def servicedef.Definition) error {
	payload, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.adapter.Store(ctx, nest.ID(def.NestID), storage.DataTypeServiceDefinition, payload, storage.StoreOptions{Key: def.ID})
	return err
}

func (s *StorageStore) Update(ctx context.Context, def servicedef.Definition) error {
	return s.Add(ctx, def)
}

func (s *StorageStore) Remove(ctx context.Context, nestID nest.ID, id string) error {
	return s.adapter.Delete(ctx, nestID, storage.DataTypeServiceDefinition, id)
}

func (s *StorageStore) Get(ctx context.Context, nestID nest.ID, id string) (servicedef.Definition, bool, error) {
	payload, found, err := s.adapter.Retrieve(ctx, nestID, storage.DataTypeServiceDefinition, id)
	if err != nil || !found {
		return servicedef.Definition{}, found, err
	}
	var def servicedef.Definition
	if err := json.Unmarshal(payload, &def); err != nil {
		return servicedef.Definition{}, false, fmt.Errorf("unmarshal definition: %w", err)
	}
	return def, true, nil
}

func (s *StorageStore) List(ctx context.Context, nestID nest.ID) ([]servicedef.Definition, error) {
	entries, err := s.adapter.GetByType(ctx, nestID, storage.DataTypeServiceDefinition)
	if err != nil {
		return nil, err
	}
	out := make([]servicedef.Definition, 0, len(entries))
	for _, payload := range entries {
		var def servicedef.Definition
		if err := json.Unmarshal(payload, &def); err != nil {
			continue
		}
		out = append(out, def)
	}
	return out, nil
}
