package storage

import "context"

// Backend is the content-addressed decentralized store the adapter
// fronts. Only its contract matters here; a client for the actual
// decentralized store is assumed to exist elsewhere.
type Backend interface {
	// Write persists wrapped bytes under isolationKey and returns a
	// backend-assigned entity key.
	Write(ctx context.Context, isolationKey string, wrapped []byte) (entityKey string, err error)
	// Read fetches the wrapped bytes for isolationKey.
	Read(ctx context.Context, isolationKey string) (wrapped []byte, entityKey string, found bool, err error)
	// Delete removes isolationKey from the backend.
	Delete(ctx context.Context, isolationKey string) error
	// QueryPrefix lists isolation keys starting with prefix.
	QueryPrefix(ctx context.Context, prefix string) ([]string, error)
	// Healthy reports whether the backend is currently reachable.
	Healthy(ctx context.Context) bool
}
