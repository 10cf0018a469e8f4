package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/ambi/internal/catalog"
	"github.com/desertthunder/ambi/internal/models"
	"github.com/desertthunder/ambi/internal/shared"
)

// OverrideRepository implements [models.Repository] for [models.Override] persistence.
type OverrideRepository struct {
	db *sql.DB
}

// NewOverrideRepository creates a new [OverrideRepository] with the given database connection
func NewOverrideRepository(db *sql.DB) *OverrideRepository {
	return &OverrideRepository{db: db}
}

// Create inserts a new override. A second override for the same name is an error; use [OverrideRepository.Set].
func (r *OverrideRepository) Create(o *models.Override) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO sound_overrides (name, local_path, created_at, updated_at) VALUES (?, ?, ?, ?)
	`

	if _, err := r.db.Exec(query, o.Name(), o.LocalPath(), o.CreatedAt(), o.UpdatedAt()); err != nil {
		return fmt.Errorf("failed to insert override: %w", err)
	}
	return nil
}

// Get retrieves the override for a sound name
func (r *OverrideRepository) Get(name string) (*models.Override, error) {
	query := `
		SELECT name, local_path, created_at, updated_at
		FROM sound_overrides
		WHERE name = ?
	`

	o, err := scanOverride(r.db.QueryRow(query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: override %s", shared.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query override: %w", err)
	}
	return o, nil
}

// Update points an existing override at a new path
func (r *OverrideRepository) Update(o *models.Override) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	o.SetUpdatedAt(now)

	result, err := r.db.Exec(`UPDATE sound_overrides SET local_path = ?, updated_at = ? WHERE name = ?`, o.LocalPath(), now, o.Name())
	if err != nil {
		return fmt.Errorf("failed to update override: %w", err)
	}
	return mustAffect(result, "override", o.Name())
}

// Set creates or replaces the override for o's name.
func (r *OverrideRepository) Set(o *models.Override) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO sound_overrides (name, local_path, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET local_path = excluded.local_path, updated_at = excluded.updated_at
	`

	if _, err := r.db.Exec(query, o.Name(), o.LocalPath(), o.CreatedAt(), o.UpdatedAt()); err != nil {
		return fmt.Errorf("failed to save override: %w", err)
	}
	return nil
}

// Delete removes the override so the catalog path is used again
func (r *OverrideRepository) Delete(name string) error {
	result, err := r.db.Exec(`DELETE FROM sound_overrides WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete override: %w", err)
	}
	return mustAffect(result, "override", name)
}

// List retrieves every override ordered by name
func (r *OverrideRepository) List() ([]*models.Override, error) {
	query := `
		SELECT name, local_path, created_at, updated_at
		FROM sound_overrides
		ORDER BY name ASC
	`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	var out []*models.Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		out = append(out, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

// Index returns the overrides in the shape the catalog resolver consumes.
func (r *OverrideRepository) Index() (catalog.Overrides, error) {
	list, err := r.List()
	if err != nil {
		return nil, err
	}
	idx := make(catalog.Overrides, len(list))
	for _, o := range list {
		idx[o.Name()] = o.LocalPath()
	}
	return idx, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOverride(s scanner) (*models.Override, error) {
	var (
		name, localPath      string
		createdAt, updatedAt time.Time
	)
	if err := s.Scan(&name, &localPath, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	o := models.NewOverride(name, localPath)
	o.SetCreatedAt(createdAt)
	o.SetUpdatedAt(updatedAt)
	return o, nil
}
