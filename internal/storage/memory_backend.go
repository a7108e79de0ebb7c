package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryBackend is an in-process Backend used for tests and for
// offline/cache-only operation fallback testing.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	down    bool
}

type memEntry struct {
	wrapped   []byte
	entityKey string
}

// NewMemoryBackend creates an empty in-memory Backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memEntry)}
}

// SetDown simulates the backend being unreachable
// "Storage-backend unavailable" error handling.
func (m *MemoryBackend) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

func (m *MemoryBackend) Write(_ context.Context, isolationKey string, wrapped []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return "", errBackendUnavailable
	}
	entityKey := uuid.NewString()
	m.entries[isolationKey] = memEntry{wrapped: wrapped, entityKey: entityKey}
	return entityKey, nil
}

func (m *MemoryBackend) Read(_ context.Context, isolationKey string) ([]byte, string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down {
		return nil, "", false, errBackendUnavailable
	}
	e, ok := m.entries[isolationKey]
	if !ok {
		return nil, "", false, nil
	}
	return e.wrapped, e.entityKey, true, nil
}

func (m *MemoryBackend) Delete(_ context.Context, isolationKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errBackendUnavailable
	}
	delete(m.entries, isolationKey)
	return nil
}

func (m *MemoryBackend) QueryPrefix(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down {
		return nil, errBackendUnavailable
	}
	var keys []string
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryBackend) Healthy(context.Context) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.down
}
