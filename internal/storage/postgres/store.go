package postgres

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jkaninda/ngao/internal/security"
	"github.com/jkaninda/ngao/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
// It wraps the existing DB and lazily creates sub-store repositories.
type Store struct {
	pgDB *DB

	mu    sync.Mutex
	orgID uuid.UUID
	audit security.AuditStore
}

// NewStore wraps an existing DB as a unified Store.
func NewStore(pgDB *DB) *Store {
	return &Store{pgDB: pgDB}
}

func (s *Store) Migrate(_ context.Context) error {
	// PostgreSQL migration is done in Open() via autoMigrate.
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pgDB.Ping(ctx)
}

func (s *Store) Close() error {
	return s.pgDB.Close()
}

func (s *Store) Driver() string {
	return storage.DriverPostgres
}

// GormDB returns the underlying GORM DB for direct access when needed.
func (s *Store) GormDB() *DB {
	return s.pgDB
}

// EnsureOrg creates or retrieves the org by name and binds its ID as
// the scope for sub-stores created afterwards.
func (s *Store) EnsureOrg(ctx context.Context, name string) (uuid.UUID, error) {
	repo := NewOrgRepository(s.pgDB.GormDB())
	id, err := repo.EnsureDefaultOrg(ctx, name)
	if err != nil {
		return uuid.Nil, err
	}
	s.mu.Lock()
	s.orgID = id
	s.mu.Unlock()
	return id, nil
}

// Audit returns the audit sub-store, scoped to the org bound by EnsureOrg.
func (s *Store) Audit() security.AuditStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		s.audit = NewAuditRepository(s.pgDB.GormDB(), s.orgID)
	}
	return s.audit
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)
