package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/ambi/internal/models"
)

// PreferencesRepository persists the single saved-mix row and its playing set.
type PreferencesRepository struct {
	db *sql.DB
}

// NewPreferencesRepository creates a new [PreferencesRepository] with the given database connection
func NewPreferencesRepository(db *sql.DB) *PreferencesRepository {
	return &PreferencesRepository{db: db}
}

// Load returns the saved mix, or [models.DefaultPreferences] when nothing has been saved yet.
func (r *PreferencesRepository) Load() (*models.Preferences, error) {
	p := models.DefaultPreferences()

	err := r.db.QueryRow(`SELECT master_volume, active_mode, updated_at FROM preferences WHERE id = 1`).
		Scan(&p.MasterVolume, &p.ActiveMode, &p.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query preferences: %w", err)
	}

	rows, err := r.db.Query(`SELECT name, volume FROM preference_sounds ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query playing sounds: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.SoundLevel
		if err := rows.Scan(&s.Name, &s.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan playing sound: %w", err)
		}
		p.Playing = append(p.Playing, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return p, nil
}

// Save replaces the saved mix atomically.
func (r *PreferencesRepository) Save(p *models.Preferences) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	p.Updated = time.Now().UTC()

	return inTx(r.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO preferences (id, master_volume, active_mode, updated_at) VALUES (1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				master_volume = excluded.master_volume,
				active_mode = excluded.active_mode,
				updated_at = excluded.updated_at
		`
		if _, err := tx.Exec(query, p.MasterVolume, p.ActiveMode, p.Updated); err != nil {
			return fmt.Errorf("failed to save preferences: %w", err)
		}

		if _, err := tx.Exec(`DELETE FROM preference_sounds`); err != nil {
			return fmt.Errorf("failed to clear playing sounds: %w", err)
		}

		stmt, err := tx.Prepare(`INSERT INTO preference_sounds (name, volume, position) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, s := range p.Playing {
			if _, err := stmt.Exec(s.Name, s.Volume, i); err != nil {
				return fmt.Errorf("failed to save playing sound %s: %w", s.Name, err)
			}
		}
		return nil
	})
}
