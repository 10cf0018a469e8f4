// Package session composes the mixer: configuration, event bus, recovery policy, catalog,
// playback engine, startup orchestrator and persistence, with one explicit lifecycle.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/ambi/internal/catalog"
	"github.com/desertthunder/ambi/internal/events"
	"github.com/desertthunder/ambi/internal/models"
	"github.com/desertthunder/ambi/internal/playback"
	"github.com/desertthunder/ambi/internal/recovery"
	"github.com/desertthunder/ambi/internal/repositories"
	"github.com/desertthunder/ambi/internal/shared"
	"github.com/desertthunder/ambi/internal/startup"
)

// Options overrides the collaborators a [Session] would otherwise build from Config.
type Options struct {
	Config *shared.Config
	Logger *log.Logger

	Sink         playback.Sink     // nil opens the system speaker
	Fetcher      playback.Fetcher  // nil uses HTTP and local files
	Platform     playback.Platform // nil is the desktop platform from config capabilities
	Connectivity recovery.Connectivity
	Catalog      *catalog.Catalog
	DB           *sql.DB // nil opens Config.Database; a supplied DB is not closed by the session
}

// Session owns every long-lived component for one run of the mixer.
type Session struct {
	cfg    *shared.Config
	logger *log.Logger

	bus       *events.Bus
	policy    *recovery.Policy
	conn      recovery.Connectivity
	catalog   *catalog.Catalog
	resolver  *catalog.Resolver
	engine    *playback.Engine
	startup   *startup.Orchestrator
	countdown *playback.Countdown

	db        *sql.DB
	ownsDB    bool
	overrides *repositories.OverrideRepository
	prefs     *repositories.PreferencesRepository

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	restored  []models.SoundLevel
	prefsRead bool
	closed    bool
}

// New builds a session. Nothing plays and nothing is fetched until [Session.Start].
func New(opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = shared.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	cat := opts.Catalog
	if cat == nil {
		var err error
		if cat, err = catalog.Load(cfg.Catalog.Path, cfg.Catalog.BaseURL); err != nil {
			return nil, err
		}
	}
	resolver, err := catalog.NewResolver(cat, cfg.Playback.DefaultMode, nil)
	if err != nil {
		return nil, err
	}

	db, ownsDB := opts.DB, false
	if db == nil {
		if db, err = shared.OpenDatabase(cfg.Database); err != nil {
			return nil, err
		}
		ownsDB = true
	}

	sink := opts.Sink
	if sink == nil {
		if sink, err = playback.NewSpeakerSink(cfg.Audio.SampleRate, shared.Millis(cfg.Audio.BufferMS)); err != nil {
			if ownsDB {
				db.Close()
			}
			return nil, err
		}
	}

	s := &Session{
		cfg:       cfg,
		logger:    logger,
		bus:       events.NewBus(),
		catalog:   cat,
		resolver:  resolver,
		db:        db,
		ownsDB:    ownsDB,
		overrides: repositories.NewOverrideRepository(db),
		prefs:     repositories.NewPreferencesRepository(db),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.conn = opts.Connectivity
	if s.conn == nil {
		s.conn = s.startProbe()
	}
	s.watchConnectivity()

	s.policy = recovery.NewPolicy(s.bus,
		recovery.WithLogger(shared.WithLogger(logger, "component", "recovery")),
		recovery.WithConnectivity(s.conn),
		recovery.WithRingSize(cfg.Startup.ErrorRingSize),
	)

	platform := opts.Platform
	if platform == nil {
		platform = playback.NewDesktopPlatform(playback.Capabilities{
			NativeStreaming: cfg.Playback.NativeStreaming,
			MediaSource:     cfg.Playback.MediaSourceStream,
		})
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = playback.NewHTTPFetcher(cfg.Network.UserAgent)
	}

	s.engine = playback.NewEngine(playback.Options{
		Config:   playback.ConfigFrom(cfg),
		Sink:     sink,
		Resolver: resolver,
		Policy:   s.policy,
		Fetcher:  fetcher,
		Platform: platform,
		Events:   s.bus,
		Logger:   shared.WithLogger(logger, "component", "playback"),
	})
	s.engine.SetMasterVolume(cfg.Playback.MasterVolume)
	s.startup = startup.New(s.policy, s.bus, shared.WithLogger(logger, "component", "startup"))
	s.countdown = playback.NewCountdown(s.engine.StopAll, s.bus)
	return s, nil
}

// startProbe polls the configured health URL, or assumes a permanent connection without one.
func (s *Session) startProbe() recovery.Connectivity {
	if s.cfg.Network.ProbeURL == "" {
		return recovery.NewManual(true)
	}
	probe := recovery.NewHTTPProbe(s.cfg.Network.ProbeURL, shared.Millis(s.cfg.Network.ProbeIntervalMS),
		shared.WithLogger(s.logger, "component", "probe"))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		probe.Run(s.ctx)
	}()
	return probe
}

// watchConnectivity republishes transitions on the bus.
func (s *Session) watchConnectivity() {
	ch := s.conn.Watch(s.ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for online := range ch {
			s.bus.Publish(events.Connectivity{Online: online})
		}
	}()
}

// StartOptions tunes one [Session.Start].
type StartOptions struct {
	// Units are appended after the session's own units for each phase.
	Units map[startup.Phase][]startup.Unit
	// Progress receives every unit's update; see [startup.Options].
	Progress func(events.Progress)
	// Restore replays the saved mix during Background; defaults to the [startup] config section.
	Restore *bool
}

// Start runs the blocking startup phases and returns; Background continues on its own.
func (s *Session) Start(ctx context.Context, opts StartOptions) (startup.Summary, error) {
	restore := s.cfg.Startup.RestoreLast
	if opts.Restore != nil {
		restore = *opts.Restore
	}

	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)

	units := s.units(restore)
	for p, extra := range opts.Units {
		units[p] = append(units[p], extra...)
	}

	summary, err := s.startup.StartLoading(runCtx, startup.Options{
		Units:        units,
		Loader:       s.engine,
		WarmStart:    s.restoredNames,
		Prefetch:     s.prefetchList,
		PrefetchRate: s.cfg.Startup.PrefetchRate,
		Progress:     opts.Progress,
		OnComplete: func(startup.Summary) {
			stop()
			cancel()
		},
	})
	if errors.Is(err, startup.ErrAlreadyRunning) {
		stop()
		cancel()
	}
	return summary, err
}

// Wait blocks until the current startup run has fully settled.
func (s *Session) Wait(ctx context.Context) (startup.Summary, error) {
	return s.startup.Wait(ctx)
}

func (s *Session) restoredNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.restored))
	for _, l := range s.restored {
		names = append(names, l.Name)
	}
	return names
}

// prefetchList warms the default sound unless the restore will load it anyway.
func (s *Session) prefetchList() []string {
	name := s.cfg.Playback.DefaultSound
	if name == "" {
		return nil
	}
	for _, r := range s.restoredNames() {
		if r == name {
			return nil
		}
	}
	return []string{name}
}

// Close saves the current mix and tears everything down. It is safe to call more than once.
// A session whose startup never read the saved mix leaves it untouched.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	save := s.prefsRead
	s.mu.Unlock()

	var errs []error
	if save {
		if err := s.SavePreferences(); err != nil {
			errs = append(errs, err)
		}
	}

	s.countdown.Cancel()
	s.cancel()
	s.engine.Teardown()
	if _, err := s.startup.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("startup did not settle: %w", err))
	}
	s.policy.Teardown()
	s.wg.Wait()
	s.bus.Close()

	if s.ownsDB {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// SavePreferences persists master volume, mode and the playing set.
func (s *Session) SavePreferences() error {
	playing := s.engine.Playing()
	p := &models.Preferences{
		MasterVolume: s.engine.MasterVolume(),
		ActiveMode:   s.resolver.Mode(),
		Playing:      make([]models.SoundLevel, 0, len(playing)),
	}
	for name, v := range playing {
		p.Playing = append(p.Playing, models.SoundLevel{Name: name, Volume: v})
	}
	sort.Slice(p.Playing, func(i, j int) bool { return p.Playing[i].Name < p.Playing[j].Name })
	return s.prefs.Save(p)
}

// Events subscribes to the session's event stream.
func (s *Session) Events(buffer int) *events.Subscription { return s.bus.Subscribe(buffer) }

func (s *Session) Engine() *playback.Engine                    { return s.engine }
func (s *Session) Policy() *recovery.Policy                    { return s.policy }
func (s *Session) Startup() *startup.Orchestrator              { return s.startup }
func (s *Session) Overrides() *repositories.OverrideRepository { return s.overrides }
func (s *Session) Config() *shared.Config                      { return s.cfg }

// Play starts name at volume.
func (s *Session) Play(ctx context.Context, name string, volume float64) bool {
	return s.engine.PlaySound(ctx, name, volume)
}

// Toggle stops name if it is playing and otherwise plays it at its last volume.
func (s *Session) Toggle(ctx context.Context, name string) bool {
	info, ok := s.engine.Source(name)
	if ok && info.Play == playback.Playing.String() {
		s.engine.StopSound(name)
		return true
	}
	volume := 1.0
	if ok {
		volume = info.Volume
	}
	return s.engine.PlaySound(ctx, name, volume)
}

func (s *Session) Stop(name string) { s.engine.StopSound(name) }

func (s *Session) StopAll() { s.engine.StopAll() }

func (s *Session) SetVolume(name string, v float64) error { return s.engine.SetVolume(name, v) }

func (s *Session) SetMasterVolume(v float64) { s.engine.SetMasterVolume(v) }

// Mode returns the active catalog mode.
func (s *Session) Mode() string { return s.resolver.Mode() }

// Modes lists the catalog's modes.
func (s *Session) Modes() []string { return s.catalog.Modes() }

// SetMode stops everything, switches the catalog mode and drops sources the new mode does not carry.
func (s *Session) SetMode(mode string) error {
	if _, err := s.catalog.Mode(mode); err != nil {
		return err
	}
	s.engine.StopAll()
	if err := s.resolver.SetMode(mode); err != nil {
		return err
	}
	if gone := s.engine.Prune(); len(gone) > 0 {
		s.logger.Debug("released sources outside mode", "mode", mode, "sources", gone)
	}
	return nil
}

// SetOverride stores a local file for name and drops any loaded asset so the next play uses it.
func (s *Session) SetOverride(name, localPath string) error {
	if err := s.overrides.Set(models.NewOverride(name, localPath)); err != nil {
		return err
	}
	s.resolver.SetOverride(name, localPath)
	s.engine.Forget(name)
	return nil
}

// RemoveOverride restores the catalog asset for name.
func (s *Session) RemoveOverride(name string) error {
	if err := s.overrides.Delete(name); err != nil {
		return err
	}
	s.resolver.SetOverride(name, "")
	s.engine.Forget(name)
	return nil
}

// StartTimer stops all playback after d.
func (s *Session) StartTimer(d time.Duration) { s.countdown.Start(d) }

// CancelTimer reports whether a timer was running.
func (s *Session) CancelTimer() bool { return s.countdown.Cancel() }

// TimerRemaining returns the time left on the sleep timer.
func (s *Session) TimerRemaining() (time.Duration, bool) { return s.countdown.Remaining() }

// SoundView is one row of the active mode for display.
type SoundView struct {
	Name    string `json:"name"`
	Display string `json:"display_name"`
	Icon    string `json:"icon,omitempty"`
	Local   bool   `json:"local"`
	playback.SourceInfo
}

// Sounds lists the active mode with each sound's current state.
func (s *Session) Sounds() []SoundView {
	mode := s.resolver.Mode()
	names := s.resolver.Names()
	out := make([]SoundView, 0, len(names))
	for _, name := range names {
		ref, err := s.resolver.Resolve(name)
		if err != nil {
			continue
		}
		v := SoundView{Name: name, Display: ref.Display, Local: ref.Local}
		if snd, ok := s.catalog.Sound(mode, name); ok {
			v.Icon = snd.Icon
		}
		if info, ok := s.engine.Source(name); ok {
			v.SourceInfo = info
		} else {
			v.SourceInfo = playback.SourceInfo{Name: name, Load: playback.Idle.String(), Play: playback.Stopped.String(), Volume: 1}
		}
		v.SourceInfo.Disabled = v.SourceInfo.Disabled || !s.engine.Available(name)
		out = append(out, v)
	}
	return out
}

// Status is a point-in-time report for the status endpoint.
type Status struct {
	Mode         string                `json:"mode"`
	MasterVolume float64               `json:"master_volume"`
	Online       bool                  `json:"online"`
	Capabilities playback.Capabilities `json:"capabilities"`
	Phases       map[string]string     `json:"phases"`
	Sources      []playback.SourceInfo `json:"sources"`
	TimerSeconds float64               `json:"timer_seconds,omitempty"`
	Errors       int                   `json:"errors"`
}

func (s *Session) Status() Status {
	st := Status{
		Mode:         s.resolver.Mode(),
		MasterVolume: s.engine.MasterVolume(),
		Online:       s.conn.Online(),
		Capabilities: s.engine.Capabilities(),
		Phases:       make(map[string]string, len(startup.Phases)),
		Sources:      s.engine.Sources(),
		Errors:       len(s.policy.Records()),
	}
	for _, p := range startup.Phases {
		st.Phases[p.String()] = s.startup.Status(p).String()
	}
	if left, ok := s.countdown.Remaining(); ok {
		st.TimerSeconds = left.Seconds()
	}
	return st
}
