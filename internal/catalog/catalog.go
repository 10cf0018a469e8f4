// Package catalog maps logical sound names to their assets per mode.
package catalog

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/desertthunder/ambi/internal/shared"
)

//go:embed catalog.toml
var embedded []byte

// Sound is one catalog entry.
type Sound struct {
	Name        string `toml:"name" json:"name"`
	DisplayName string `toml:"display_name" json:"display_name"`
	Icon        string `toml:"icon" json:"icon"`
	Path        string `toml:"path" json:"path"`
	Looping     bool   `toml:"looping" json:"looping"`
}

// Mode groups the sounds offered together.
type Mode struct {
	Name        string  `toml:"-" json:"name"`
	DisplayName string  `toml:"display_name" json:"display_name"`
	Sounds      []Sound `toml:"sounds" json:"sounds"`
}

type document struct {
	DefaultMode string           `toml:"default_mode"`
	Modes       map[string]*Mode `toml:"modes"`
}

// Catalog is the immutable set of modes.
type Catalog struct {
	defaultMode string
	modes       map[string]*Mode
	baseURL     string
}

// Load parses the catalog at path, or the embedded catalog when path is empty.
func Load(path, baseURL string) (*Catalog, error) {
	data := embedded
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog: %w", err)
		}
		data = b
	}
	return Parse(data, baseURL)
}

// Parse decodes a TOML catalog document.
func Parse(data []byte, baseURL string) (*Catalog, error) {
	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse catalog: %v", shared.ErrInvalidConfig, err)
	}
	if len(doc.Modes) == 0 {
		return nil, fmt.Errorf("%w: catalog has no modes", shared.ErrInvalidConfig)
	}

	seen := make(map[string]string)
	for name, m := range doc.Modes {
		m.Name = name
		for _, s := range m.Sounds {
			if s.Name == "" || s.Path == "" {
				return nil, fmt.Errorf("%w: sound in mode %s is missing name or path", shared.ErrInvalidConfig, name)
			}
			if other, ok := seen[s.Name]; ok && other != name {
				return nil, fmt.Errorf("%w: sound %s appears in modes %s and %s", shared.ErrInvalidConfig, s.Name, other, name)
			}
			seen[s.Name] = name
		}
	}

	if _, ok := doc.Modes[doc.DefaultMode]; !ok {
		return nil, fmt.Errorf("%w: default mode %q not in catalog", shared.ErrUnknownMode, doc.DefaultMode)
	}

	return &Catalog{defaultMode: doc.DefaultMode, modes: doc.Modes, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (c *Catalog) DefaultMode() string { return c.defaultMode }

// Modes returns mode names sorted alphabetically.
func (c *Catalog) Modes() []string {
	names := make([]string, 0, len(c.modes))
	for name := range c.modes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Mode returns the named mode.
func (c *Catalog) Mode(name string) (*Mode, error) {
	m, ok := c.modes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrUnknownMode, name)
	}
	return m, nil
}

// Sound finds name within mode.
func (c *Catalog) Sound(mode, name string) (Sound, bool) {
	m, ok := c.modes[mode]
	if !ok {
		return Sound{}, false
	}
	for _, s := range m.Sounds {
		if s.Name == name {
			return s, true
		}
	}
	return Sound{}, false
}

// Locate joins a catalog path onto the base URL. Absolute URLs and paths pass through.
func (c *Catalog) Locate(p string) string {
	if u, err := url.Parse(p); err == nil && u.Scheme != "" {
		return p
	}
	if filepath.IsAbs(p) || c.baseURL == "" {
		return p
	}
	if u, err := url.Parse(c.baseURL); err == nil && u.Scheme != "" && u.Scheme != "file" {
		u.Path = path.Join(u.Path, p)
		return u.String()
	}
	return filepath.Join(strings.TrimPrefix(c.baseURL, "file://"), filepath.FromSlash(p))
}

// Ref is a resolved, fetchable sound.
type Ref struct {
	Name    string
	Display string
	URL     string
	Local   bool // user-substituted local file
	Looping bool
}

// Overrides maps sound names to local files.
type Overrides map[string]string

// Resolver resolves names against the active mode and the user's overrides.
type Resolver struct {
	cat       *Catalog
	mu        sync.RWMutex
	mode      string
	overrides Overrides
}

// NewResolver creates a [Resolver] on mode.
func NewResolver(c *Catalog, mode string, overrides Overrides) (*Resolver, error) {
	if mode == "" {
		mode = c.defaultMode
	}
	if _, err := c.Mode(mode); err != nil {
		return nil, err
	}
	if overrides == nil {
		overrides = Overrides{}
	}
	return &Resolver{cat: c, mode: mode, overrides: overrides}, nil
}

func (r *Resolver) Mode() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// SetMode switches the active mode.
func (r *Resolver) SetMode(mode string) error {
	if _, err := r.cat.Mode(mode); err != nil {
		return err
	}
	r.mu.Lock()
	r.mode = mode
	r.mu.Unlock()
	return nil
}

// SetOverride registers or, with an empty path, removes a local file for name.
func (r *Resolver) SetOverride(name, localPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if localPath == "" {
		delete(r.overrides, name)
		return
	}
	r.overrides[name] = localPath
}

// Names lists the active mode's sounds followed by override-only names.
func (r *Resolver) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := r.cat.modes[r.mode]
	names := make([]string, 0, len(m.Sounds)+len(r.overrides))
	inMode := make(map[string]bool, len(m.Sounds))
	for _, s := range m.Sounds {
		names = append(names, s.Name)
		inMode[s.Name] = true
	}

	var extra []string
	for name := range r.overrides {
		if !inMode[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// Resolve maps name to a [Ref]. Overrides win over the catalog.
func (r *Resolver) Resolve(name string) (Ref, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, inMode := r.cat.Sound(r.mode, name)
	if p, ok := r.overrides[name]; ok {
		display := name
		if inMode {
			display = s.DisplayName
		}
		return Ref{Name: name, Display: display, URL: p, Local: true, Looping: true}, nil
	}
	if !inMode {
		return Ref{}, fmt.Errorf("%w: %s in mode %s", shared.ErrUnknownSound, name, r.mode)
	}
	return Ref{Name: name, Display: s.DisplayName, URL: r.cat.Locate(s.Path), Looping: s.Looping}, nil
}
