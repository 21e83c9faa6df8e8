// ABOUTME: Store interface and data types for nlweb-gateway persistence.
// ABOUTME: Defines the ProviderRecord struct and catalog operations backed by a database.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateProvider is returned when inserting a provider whose id
// already exists in the catalog.
var ErrDuplicateProvider = errors.New("provider already exists")

// ProviderRecord is the persisted form of a registered provider. Health is
// deliberately not persisted: it is advisory runtime state and resets to
// UNKNOWN on restart.
type ProviderRecord struct {
	ID           string
	Name         string
	Capabilities []string
	Endpoint     string
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// Store defines catalog persistence for the provider registry.
type Store interface {
	SaveProvider(ctx context.Context, rec *ProviderRecord) error
	DeleteProvider(ctx context.Context, id string) error
	ListProviders(ctx context.Context) ([]*ProviderRecord, error)
	Close() error
}
