// Package storage defines the unified Store interface that abstracts all persistence operations.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL (production/multi-tenant).
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/jkaninda/ngao/internal/security"
)

// Store is the unified persistence interface for Ngao.
// Both SQLite and PostgreSQL backends implement this interface.
//
// Call order: Migrate creates the schema, EnsureOrg resolves the org
// row every stored record is scoped to, and only then are sub-stores
// usable. The composition root does this once at startup.
type Store interface {
	// Audit returns the audit event sub-store. The returned store is
	// scoped to the org resolved by EnsureOrg.
	Audit() security.AuditStore

	// EnsureOrg creates the named org if it does not exist and binds
	// its ID as the scope for all subsequent sub-store access.
	EnsureOrg(ctx context.Context, name string) (uuid.UUID, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
