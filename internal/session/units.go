package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/ambi/internal/startup"
)

// units returns the session's own work for each phase.
func (s *Session) units(restore bool) map[startup.Phase][]startup.Unit {
	units := map[startup.Phase][]startup.Unit{
		startup.Skeleton: {
			{Name: "config", Message: "checking configuration", Run: s.checkConfig},
		},
		startup.BasicUI: {
			{Name: "preferences", Weight: 2, Message: "loading saved mix", Run: s.loadPreferences},
		},
		startup.Interactive: {
			{Name: "overrides", Message: "loading custom sounds", Run: s.loadOverrides},
		},
	}
	if restore {
		units[startup.Background] = []startup.Unit{
			{Name: "restore", Weight: 3, Message: "restoring last mix", Run: s.restoreMix},
		}
	}
	return units
}

func (s *Session) checkConfig(context.Context) error {
	return s.cfg.Validate()
}

// loadPreferences applies the saved master volume and mode and remembers the playing set.
func (s *Session) loadPreferences(context.Context) error {
	p, err := s.prefs.Load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.prefsRead = true
	s.mu.Unlock()
	if p.Updated.IsZero() {
		// nothing saved yet; keep the configured defaults
		return nil
	}

	s.engine.SetMasterVolume(p.MasterVolume)
	if p.ActiveMode != "" && p.ActiveMode != s.resolver.Mode() {
		if err := s.resolver.SetMode(p.ActiveMode); err != nil {
			s.logger.Warn("saved mode no longer exists", "mode", p.ActiveMode, "err", err)
		}
	}

	s.mu.Lock()
	s.restored = p.Playing
	s.mu.Unlock()
	return nil
}

// ApplyOverrides loads stored overrides into the resolver outside of a startup run.
func (s *Session) ApplyOverrides() error {
	return s.loadOverrides(context.Background())
}

func (s *Session) loadOverrides(context.Context) error {
	idx, err := s.overrides.Index()
	if err != nil {
		return err
	}
	for name, path := range idx {
		s.resolver.SetOverride(name, path)
	}
	return nil
}

// restoreMix replays the saved playing set. One sound failing does not stop the rest.
func (s *Session) restoreMix(ctx context.Context) error {
	s.mu.Lock()
	levels := append(s.restored[:0:0], s.restored...)
	s.mu.Unlock()

	var errs []error
	for _, l := range levels {
		if ctx.Err() != nil {
			return errors.Join(append(errs, ctx.Err())...)
		}
		if !s.engine.PlaySound(ctx, l.Name, l.Volume) {
			errs = append(errs, fmt.Errorf("could not restore %s", l.Name))
		}
	}
	return errors.Join(errs...)
}
