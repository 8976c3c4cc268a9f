package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

// OrgRepository manages organization records.
type OrgRepository struct {
	db *gorm.DB
}

// NewOrgRepository creates an OrgRepository.
func NewOrgRepository(db *gorm.DB) *OrgRepository {
	return &OrgRepository{db: db}
}

// EnsureDefaultOrg creates the default org if it doesn't exist and returns its ID.
func (r *OrgRepository) EnsureDefaultOrg(ctx context.Context, name string) (uuid.UUID, error) {
	if name == "" {
		name = "default"
	}
	slug := toSlug(name)

	var org OrgModel
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&org).Error
	if err == nil {
		return org.ID, nil
	}
	if err != gorm.ErrRecordNotFound {
		return uuid.Nil, fmt.Errorf("looking up org %q: %w", slug, err)
	}

	org = OrgModel{
		ID:   uuid.New(),
		Name: name,
		Slug: slug,
	}
	if err := r.db.WithContext(ctx).Create(&org).Error; err != nil {
		// A concurrent startup can win the race between the lookup and
		// the insert; the unique violation means the row exists now.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if lookupErr := r.db.WithContext(ctx).Where("slug = ?", slug).First(&org).Error; lookupErr == nil {
				return org.ID, nil
			}
		}
		return uuid.Nil, fmt.Errorf("creating org %q: %w", name, err)
	}
	return org.ID, nil
}

func toSlug(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
}
