package models

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrEmptyName   = errors.New("name is required")
	ErrRelPath     = errors.New("local path must be absolute")
	ErrVolumeRange = errors.New("volume must be within [0,1]")
	ErrDuplicate   = errors.New("sound listed twice")
)

// Model defines the base interface for all persistent models.
type Model interface {
	ID() string           // ID returns the unique identifier for this model
	CreatedAt() time.Time // CreatedAt returns when this model was created
	UpdatedAt() time.Time // UpdatedAt returns when this model was last updated
	Validate() error      // Validate checks if the model's data is valid and returns an error if not
}

// Repository defines the interface for data access operations.
type Repository[T Model] interface {
	Create(model T) error
	Get(id string) (T, error)
	Update(model T) error
	Delete(id string) error
	List() ([]T, error)
}

// Override points a catalog sound name at a file on local disk.
// Its ID is the sound name.
type Override struct {
	name      string
	localPath string
	createdAt time.Time
	updatedAt time.Time
}

// NewOverride creates an [Override] stamped with the current time.
func NewOverride(name, localPath string) *Override {
	now := time.Now().UTC()
	return &Override{
		name:      strings.TrimSpace(name),
		localPath: localPath,
		createdAt: now,
		updatedAt: now,
	}
}

func (o *Override) ID() string           { return o.name }
func (o *Override) Name() string         { return o.name }
func (o *Override) LocalPath() string    { return o.localPath }
func (o *Override) CreatedAt() time.Time { return o.createdAt }
func (o *Override) UpdatedAt() time.Time { return o.updatedAt }

func (o *Override) SetLocalPath(p string)    { o.localPath = p }
func (o *Override) SetCreatedAt(t time.Time) { o.createdAt = t }
func (o *Override) SetUpdatedAt(t time.Time) { o.updatedAt = t }

func (o *Override) Validate() error {
	if o.name == "" {
		return ErrEmptyName
	}
	if !filepath.IsAbs(o.localPath) {
		return fmt.Errorf("%w: %q", ErrRelPath, o.localPath)
	}
	return nil
}

// SoundLevel is one entry of a saved mix.
type SoundLevel struct {
	Name   string  `json:"name"`
	Volume float64 `json:"volume"`
}

// Preferences is the single saved-mix row.
type Preferences struct {
	MasterVolume float64      `json:"master_volume"`
	ActiveMode   string       `json:"active_mode"`
	Playing      []SoundLevel `json:"playing"`
	Updated      time.Time    `json:"updated_at"`
}

// DefaultPreferences is what an empty database yields.
func DefaultPreferences() *Preferences {
	return &Preferences{MasterVolume: 0.8}
}

func (p *Preferences) ID() string           { return "1" }
func (p *Preferences) CreatedAt() time.Time { return p.Updated }
func (p *Preferences) UpdatedAt() time.Time { return p.Updated }

func (p *Preferences) Validate() error {
	if p.MasterVolume < 0 || p.MasterVolume > 1 {
		return fmt.Errorf("%w: master %v", ErrVolumeRange, p.MasterVolume)
	}
	seen := make(map[string]bool, len(p.Playing))
	for _, s := range p.Playing {
		if s.Name == "" {
			return ErrEmptyName
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicate, s.Name)
		}
		seen[s.Name] = true
		if s.Volume < 0 || s.Volume > 1 {
			return fmt.Errorf("%w: %s=%v", ErrVolumeRange, s.Name, s.Volume)
		}
	}
	return nil
}
