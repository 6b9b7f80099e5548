// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/groupmind/internal/domain"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Repository persists the incident ledger.
type Repository interface {
	// InsertIncident records a correlated failure. Inserting an existing
	// error ID is a no-op.
	InsertIncident(ctx context.Context, inc *domain.Incident) error

	// GetIncident retrieves an incident by error ID, or ErrNotFound.
	GetIncident(ctx context.Context, errorID string) (*domain.Incident, error)

	// CleanupIncidents removes incidents older than ttl.
	CleanupIncidents(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
