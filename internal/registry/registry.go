package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guardant/sentinel/internal/domain/nest"
	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/eventbus"
	"github.com/guardant/sentinel/internal/logger"
)

const (
	EventServiceAdded   eventbus.Kind = "registry.service-added"
	EventServiceUpdated eventbus.Kind = "registry.service-updated"
	EventServiceRemoved eventbus.Kind = "registry.service-removed"
)

// ServiceEvent is the payload for every registry.* event kind.
type ServiceEvent struct {
	NestID string
	ID     string
	Def    servicedef.Definition
}

// Config controls registry-wide behavior.
type Config struct {
	MaxPerTenant int
}

func DefaultConfig() Config {
	return Config{MaxPerTenant: 500}
}

// Registry validates, persists, and broadcasts changes to service
// definitions. It serializes add/update/remove so the per-tenant cap
// check and the store write are atomic with respect to each other.
type Registry struct {
	cfg   Config
	store Store
	bus   *eventbus.Bus
	log   *logger.Logger
	mu    sync.Mutex
}

func New(cfg Config, store Store, bus *eventbus.Bus, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewDefault("registry")
	}
	if cfg.MaxPerTenant <= 0 {
		cfg.MaxPerTenant = 500
	}
	return &Registry{cfg: cfg, store: store, bus: bus, log: log}
}

// Add validates def, assigns an id and timestamps if absent, enforces
// the per-tenant cap, persists it, and publishes EventServiceAdded.
func (r *Registry) Add(ctx context.Context, def servicedef.Definition) (servicedef.Definition, error) {
	if err := Validate(def); err != nil {
		return servicedef.Definition{}, fmt.Errorf("validate: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.store.List(ctx, nest.ID(def.NestID))
	if err != nil {
		return servicedef.Definition{}, fmt.Errorf("list existing: %w", err)
	}
	if len(existing) >= r.cfg.MaxPerTenant {
		return servicedef.Definition{}, fmt.Errorf("nest %s already has %d services, at the cap of %d", def.NestID, len(existing), r.cfg.MaxPerTenant)
	}

	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now

	if err := r.store.Add(ctx, def); err != nil {
		return servicedef.Definition{}, fmt.Errorf("store: %w", err)
	}

	r.log.WithField("nest_id", def.NestID).WithField("service_id", def.ID).Info("service added")
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Kind: EventServiceAdded, Payload: ServiceEvent{NestID: def.NestID, ID: def.ID, Def: def}})
	}
	return def, nil
}

// Update validates def, requires it to already exist, persists it, and
// publishes EventServiceUpdated.
func (r *Registry) Update(ctx context.Context, def servicedef.Definition) (servicedef.Definition, error) {
	if err := Validate(def); err != nil {
		return servicedef.Definition{}, fmt.Errorf("validate: %w", err)
	}
	if def.ID == "" {
		return servicedef.Definition{}, fmt.Errorf("update requires a definition id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, found, err := r.store.Get(ctx, nest.ID(def.NestID), def.ID)
	if err != nil {
		return servicedef.Definition{}, fmt.Errorf("get existing: %w", err)
	}
	if !found {
		return servicedef.Definition{}, fmt.Errorf("service %s not found in nest %s", def.ID, def.NestID)
	}

	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now()

	if err := r.store.Update(ctx, def); err != nil {
		return servicedef.Definition{}, fmt.Errorf("store: %w", err)
	}

	r.log.WithField("nest_id", def.NestID).WithField("service_id", def.ID).Info("service updated")
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Kind: EventServiceUpdated, Payload: ServiceEvent{NestID: def.NestID, ID: def.ID, Def: def}})
	}
	return def, nil
}

// Remove deletes a definition and publishes EventServiceRemoved.
func (r *Registry) Remove(ctx context.Context, nestID nest.ID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, found, err := r.store.Get(ctx, nestID, id)
	if err != nil {
		return fmt.Errorf("get existing: %w", err)
	}
	if !found {
		return nil
	}
	if err := r.store.Remove(ctx, nestID, id); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	r.log.WithField("nest_id", string(nestID)).WithField("service_id", id).Info("service removed")
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Kind: EventServiceRemoved, Payload: ServiceEvent{NestID: string(nestID), ID: id, Def: def}})
	}
	return nil
}

// Get returns one definition by id.
func (r *Registry) Get(ctx context.Context, nestID nest.ID, id string) (servicedef.Definition, bool, error) {
	return r.store.Get(ctx, nestID, id)
}

// List returns the live set of definitions for a nest, the engine's
// source of truth for which services to schedule.
func (r *Registry) List(ctx context.Context, nestID nest.ID) ([]servicedef.Definition, error) {
	return r.store.List(ctx, nestID)
}

// Subscribe registers handler for one of the registry event kinds,
// used by the monitoring engine to react to add/update/remove without
// polling List.
func (r *Registry) Subscribe(kind eventbus.Kind, handler eventbus.Handler) func() {
	if r.bus == nil {
		return func() {}
	}
	return r.bus.Subscribe(kind, handler)
}
