package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/ambi/internal/catalog"
	"github.com/desertthunder/ambi/internal/events"
	"github.com/desertthunder/ambi/internal/flight"
	"github.com/desertthunder/ambi/internal/metrics"
	"github.com/desertthunder/ambi/internal/recovery"
	"github.com/desertthunder/ambi/internal/shared"
)

var (
	ErrEngineClosed = errors.New("playback engine closed")
	errNotLoaded    = fmt.Errorf("%w: source not loaded", recovery.ErrPlayback)
)

// Config holds engine timing and capacity.
type Config struct {
	LazyTimeout   time.Duration
	BulkTimeout   time.Duration
	Fade          time.Duration
	Ramp          time.Duration
	MaxLoaded     int
	SegmentsAhead int
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		LazyTimeout:   10 * time.Second,
		BulkTimeout:   15 * time.Second,
		Fade:          100 * time.Millisecond,
		Ramp:          50 * time.Millisecond,
		MaxLoaded:     8,
		SegmentsAhead: 3,
	}
}

// ConfigFrom maps the [shared.Config] playback and audio sections.
func ConfigFrom(c *shared.Config) Config {
	return Config{
		LazyTimeout:   shared.Millis(c.Playback.LazyTimeoutMS),
		BulkTimeout:   shared.Millis(c.Playback.BulkTimeoutMS),
		Fade:          shared.Millis(c.Audio.FadeMS),
		Ramp:          shared.Millis(c.Audio.RampMS),
		MaxLoaded:     c.Playback.MaxLoaded,
		SegmentsAhead: c.Playback.SegmentsAhead,
	}
}

// Resolver maps a logical name to a fetchable reference.
type Resolver interface {
	Resolve(name string) (catalog.Ref, error)
}

// Recoverer is the part of the recovery policy the engine depends on.
type Recoverer interface {
	Handle(ctx context.Context, err error, c recovery.Context) bool
	Reset(c recovery.Category, origin string)
}

// Options are the engine's collaborators. Sink and Resolver are required.
type Options struct {
	Config   Config
	Sink     Sink
	Resolver Resolver
	Policy   Recoverer
	Fetcher  Fetcher
	Platform Platform
	Events   events.Publisher
	Logger   *log.Logger
}

// Engine owns every [Source] for the session.
type Engine struct {
	cfg      Config
	sink     Sink
	resolver Resolver
	policy   Recoverer
	fetch    Fetcher
	platform Platform
	pub      events.Publisher
	logger   *log.Logger

	loads flight.Group[struct{}]
	wg    sync.WaitGroup

	mu      sync.Mutex
	sources map[string]*Source
	master  float64
	tick    uint64
	closed  bool

	root   context.Context
	cancel context.CancelFunc
}

// NewEngine creates an [Engine] with master volume 1.
func NewEngine(opts Options) *Engine {
	if opts.Events == nil {
		opts.Events = events.Discard
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Policy == nil {
		opts.Policy = recovery.NewPolicy(opts.Events, recovery.WithLogger(opts.Logger))
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewHTTPFetcher("")
	}
	if opts.Platform == nil {
		opts.Platform = NewDesktopPlatform(Capabilities{MediaSource: true})
	}

	root, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:      opts.Config,
		sink:     opts.Sink,
		resolver: opts.Resolver,
		policy:   opts.Policy,
		fetch:    opts.Fetcher,
		platform: opts.Platform,
		pub:      opts.Events,
		logger:   opts.Logger,
		sources:  make(map[string]*Source),
		master:   1,
		root:     root,
		cancel:   cancel,
	}
}

// source returns the record for name, creating it on first reference. A name the resolver no
// longer knows fails even when a record is cached.
func (e *Engine) source(name string) (*Source, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}
	ref, err := e.resolver.Resolve(name)
	if err != nil {
		return nil, err
	}
	if s, ok := e.sources[name]; ok {
		return s, nil
	}
	s := &Source{name: name, ref: ref, backend: e.selectBackend(name, ref), volume: 1}
	e.sources[name] = s
	return s, nil
}

func (e *Engine) lookup(name string) *Source {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sources[name]
}

func (e *Engine) snapshot() []*Source {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Source, 0, len(e.sources))
	for _, s := range e.sources {
		out = append(out, s)
	}
	return out
}

// selectBackend applies the priority order: local override, native streaming, segmented streaming.
func (e *Engine) selectBackend(name string, ref catalog.Ref) backend {
	switch {
	case ref.Local || !isManifest(ref.URL):
		return newBufferBackend(ref.URL, e.fetch, e.sink)
	case e.platform.Capabilities().NativeStreaming:
		return newNativeBackend(ref.URL, e.platform)
	default:
		return e.newSegmented(name, ref.URL)
	}
}

func (e *Engine) newSegmented(name, url string) *segmentedBackend {
	return newSegmentedBackend(name, url, e.fetch, e.sink, e.cfg.SegmentsAhead, shared.WithLogger(e.logger, "source", name))
}

// EnsureLoaded returns once name is Loaded. Concurrent callers share one acquisition.
func (e *Engine) EnsureLoaded(ctx context.Context, name string) error {
	return e.ensure(ctx, name, e.cfg.LazyTimeout)
}

// LoadBulk loads names concurrently under the initial bulk timeout. One failure does not stop the rest.
func (e *Engine) LoadBulk(ctx context.Context, names []string) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(4)
	for _, name := range names {
		g.Go(func() error {
			if err := e.ensure(ctx, name, e.cfg.BulkTimeout); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

func (e *Engine) ensure(ctx context.Context, name string, timeout time.Duration) error {
	src, err := e.source(name)
	if err != nil {
		return err
	}
	if src.loadState() == Loaded {
		return nil
	}

	_, joined, err := e.loads.Do(ctx, name, func(work context.Context) (struct{}, error) {
		if !e.track() {
			return struct{}{}, ErrEngineClosed
		}
		defer e.wg.Done()

		work, cancel := context.WithCancel(work)
		defer cancel()
		stop := context.AfterFunc(e.root, cancel)
		defer stop()

		return struct{}{}, e.acquire(work, src, timeout)
	})
	if joined {
		metrics.RecordDedup()
	}
	return err
}

// track registers in-flight work unless the engine is closed.
func (e *Engine) track() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	return true
}

func (e *Engine) acquire(ctx context.Context, src *Source, timeout time.Duration) error {
	if src.loadState() == Loaded {
		return nil
	}
	e.setLoad(src, Loading)

	err := e.attempt(ctx, src, timeout)
	if err != nil && errors.Is(err, recovery.ErrUnsupportedFormat) && e.rebuild(src) {
		e.logger.Info("rebuilding stream backend", "source", src.name, "err", err)
		err = e.attempt(ctx, src, timeout)
	}
	if err == nil {
		e.loaded(src)
		return nil
	}

	e.setLoad(src, Failed)
	e.logger.Warn("load failed", "source", src.name, "err", err)
	if ctx.Err() != nil {
		return err
	}

	cat := recovery.Audio
	if recovery.Classify(err) == recovery.Network {
		cat = recovery.Network
	}
	recovered := e.policy.Handle(ctx, err, recovery.Context{
		Category: cat,
		Resource: src.name,
		Retry: func(ctx context.Context) error {
			if e.root.Err() != nil {
				return ErrEngineClosed
			}
			e.setLoad(src, Retrying)
			if err := e.attempt(ctx, src, timeout); err != nil {
				e.setLoad(src, Failed)
				return err
			}
			e.loaded(src)
			return nil
		},
	})
	if recovered {
		return nil
	}

	e.disable(src, err)
	return err
}

func (e *Engine) attempt(ctx context.Context, src *Source, timeout time.Duration) error {
	b := src.currentBackend()
	_, err := flight.Race(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.load(ctx)
	})

	result := "ok"
	switch {
	case errors.Is(err, flight.ErrTimeout):
		result = "timeout"
	case err != nil:
		result = "error"
	}
	metrics.RecordLoad(b.kind().String(), result)
	return err
}

// rebuild swaps a streaming backend for a fresh segmented one, once per load cycle.
func (e *Engine) rebuild(src *Source) bool {
	src.mu.Lock()
	old := src.backend
	if src.rebuilt || old.kind() == DecodedBuffer {
		src.mu.Unlock()
		return false
	}
	src.backend = e.newSegmented(src.name, src.ref.URL)
	src.rebuilt = true
	src.mu.Unlock()

	old.release()
	return true
}

func (e *Engine) loaded(src *Source) {
	tick := e.touch()

	src.mu.Lock()
	wasDisabled := src.disabled
	src.load = Loaded
	src.rebuilt = false
	src.disabled = false
	src.lastUsed = tick
	info := src.infoLocked()
	src.mu.Unlock()

	if wasDisabled {
		e.policy.Reset(recovery.Network, src.name)
		e.policy.Reset(recovery.Audio, src.name)
	}
	e.pub.Publish(info.event())
	e.evict()
}

func (e *Engine) setLoad(src *Source, st LoadState) {
	src.mu.Lock()
	src.load = st
	info := src.infoLocked()
	src.mu.Unlock()
	e.pub.Publish(info.event())
}

func (e *Engine) disable(src *Source, err error) {
	src.mu.Lock()
	src.disabled = true
	info := src.infoLocked()
	src.mu.Unlock()

	e.pub.Publish(events.ControlDisabled{Name: src.name, Reason: err.Error()})
	e.pub.Publish(info.event())
}

func (e *Engine) touch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tick++
	return e.tick
}

// PlaySound loads name if needed and starts it from the beginning at volume, stopping any
// existing playback of name first. It reports false on failure and never panics.
func (e *Engine) PlaySound(ctx context.Context, name string, volume float64) bool {
	volume = shared.ClampUnit(volume)

	if err := e.EnsureLoaded(ctx, name); err != nil {
		// unresolvable or never created: the policy never saw it
		if errors.Is(err, shared.ErrUnknownSound) || e.lookup(name) == nil {
			e.notifyFailure(name, err)
		}
		return false
	}

	src := e.lookup(name)
	if src == nil {
		return false
	}

	src.op.Lock()
	defer src.op.Unlock()

	e.stopLocked(src, e.cfg.Fade)

	if src.loadState() != Loaded {
		if err := e.EnsureLoaded(ctx, name); err != nil {
			return false
		}
	}

	gain := volume * e.MasterVolume()
	h, err := src.currentBackend().start(ctx, gain, e.cfg.Ramp)
	if err != nil {
		e.notifyFailure(name, err)
		return false
	}

	tick := e.touch()
	src.mu.Lock()
	src.handle = h
	src.play = Playing
	src.volume = volume
	src.lastUsed = tick
	info := src.infoLocked()
	src.mu.Unlock()

	e.logger.Debug("playing", "source", name, "backend", info.Backend, "gain", gain)
	e.pub.Publish(info.event())
	e.updatePlaying()
	e.evict()
	return true
}

// notifyFailure reports a failure that did not go through the recovery policy.
func (e *Engine) notifyFailure(name string, err error) {
	e.logger.Error("playback failed", "source", name, "err", err)
	e.pub.Publish(events.Notification{
		Category: recovery.Audio.String(),
		Kind:     "failed",
		Resource: name,
		Message:  fmt.Sprintf("could not play %s", name),
	})
}

// StopSound fades name out and releases its handle. Stopping a silent source is a no-op.
func (e *Engine) StopSound(name string) {
	src := e.lookup(name)
	if src == nil {
		return
	}
	src.op.Lock()
	defer src.op.Unlock()
	e.stopLocked(src, e.cfg.Fade)
}

func (e *Engine) stopLocked(src *Source, fade time.Duration) {
	src.mu.Lock()
	h := src.handle
	if h == nil {
		src.mu.Unlock()
		return
	}
	src.play = FadingOut
	info := src.infoLocked()
	src.mu.Unlock()
	e.pub.Publish(info.event())

	h.stop(fade)

	src.mu.Lock()
	src.handle = nil
	src.play = Stopped
	info = src.infoLocked()
	src.mu.Unlock()
	e.pub.Publish(info.event())
	e.updatePlaying()
}

// StopAll fades every playing source out in parallel.
func (e *Engine) StopAll() {
	var g errgroup.Group
	for _, src := range e.snapshot() {
		g.Go(func() error {
			e.StopSound(src.name)
			return nil
		})
	}
	g.Wait()
}

// SetVolume sets name's own volume; a playing source ramps to the new gain.
func (e *Engine) SetVolume(name string, v float64) error {
	src, err := e.source(name)
	if err != nil {
		return err
	}
	v = shared.ClampUnit(v)

	src.mu.Lock()
	src.volume = v
	h := src.handle
	info := src.infoLocked()
	src.mu.Unlock()

	if h != nil {
		h.setGain(v*e.MasterVolume(), e.cfg.Ramp)
	}
	e.pub.Publish(info.event())
	return nil
}

// SetMasterVolume scales every source; playing sources ramp without restarting.
func (e *Engine) SetMasterVolume(v float64) {
	v = shared.ClampUnit(v)
	e.mu.Lock()
	e.master = v
	e.mu.Unlock()

	for _, src := range e.snapshot() {
		src.mu.Lock()
		h, vol := src.handle, src.volume
		src.mu.Unlock()
		if h != nil {
			h.setGain(vol*v, e.cfg.Ramp)
		}
	}
}

func (e *Engine) MasterVolume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.master
}

// Prebuffer acquires name under the bulk timeout and warms its backend without playing it.
func (e *Engine) Prebuffer(ctx context.Context, name string) error {
	if err := e.ensure(ctx, name, e.cfg.BulkTimeout); err != nil {
		return err
	}
	src := e.lookup(name)
	if src == nil {
		return ErrEngineClosed
	}
	return src.currentBackend().prebuffer(ctx)
}

// Available reports whether name can be attempted without fetching anything.
func (e *Engine) Available(name string) bool {
	if src := e.lookup(name); src != nil && src.info().Disabled {
		return false
	}
	ref, err := e.resolver.Resolve(name)
	if err != nil {
		return false
	}
	if isLocal(ref.URL) {
		_, err := os.Stat(strings.TrimPrefix(ref.URL, "file://"))
		return err == nil
	}
	return true
}

// Capabilities returns the platform report.
func (e *Engine) Capabilities() Capabilities {
	return e.platform.Capabilities()
}

// Sources returns every known source sorted by name.
func (e *Engine) Sources() []SourceInfo {
	srcs := e.snapshot()
	out := make([]SourceInfo, 0, len(srcs))
	for _, s := range srcs {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Source returns the state of name, if it has been referenced.
func (e *Engine) Source(name string) (SourceInfo, bool) {
	src := e.lookup(name)
	if src == nil {
		return SourceInfo{}, false
	}
	return src.info(), true
}

// Playing returns the names currently playing and their volumes.
func (e *Engine) Playing() map[string]float64 {
	out := make(map[string]float64)
	for _, info := range e.Sources() {
		if info.Play == Playing.String() {
			out[info.Name] = info.Volume
		}
	}
	return out
}

// Forget stops and drops name so its next reference re-resolves it.
func (e *Engine) Forget(name string) {
	src := e.lookup(name)
	if src == nil {
		return
	}

	src.op.Lock()
	e.stopLocked(src, 0)
	src.currentBackend().release()
	src.op.Unlock()

	e.mu.Lock()
	delete(e.sources, name)
	e.mu.Unlock()
	e.loads.Forget(name)
}

// Prune forgets every source whose name no longer resolves to the location it was loaded from
// and returns the forgotten names.
func (e *Engine) Prune() []string {
	var gone []string
	for _, src := range e.snapshot() {
		ref, err := e.resolver.Resolve(src.name)
		if err == nil && ref.URL == src.ref.URL {
			continue
		}
		e.Forget(src.name)
		gone = append(gone, src.name)
	}
	sort.Strings(gone)
	return gone
}

func (e *Engine) updatePlaying() {
	n := 0
	for _, src := range e.snapshot() {
		src.mu.Lock()
		if src.play == Playing {
			n++
		}
		src.mu.Unlock()
	}
	metrics.SetPlaying(n)
}

// evict releases least recently used, silent sources while more than MaxLoaded hold decoded audio.
func (e *Engine) evict() {
	if e.cfg.MaxLoaded <= 0 {
		return
	}

	type candidate struct {
		src  *Source
		used uint64
	}
	var (
		held       int
		candidates []candidate
	)
	for _, src := range e.snapshot() {
		b := src.currentBackend()
		src.mu.Lock()
		holding := src.load == Loaded && b.footprint() > 0
		silent := src.handle == nil
		used := src.lastUsed
		src.mu.Unlock()

		if !holding {
			continue
		}
		held++
		if silent {
			candidates = append(candidates, candidate{src, used})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].used < candidates[j].used })

	for _, c := range candidates {
		if held <= e.cfg.MaxLoaded {
			return
		}
		if !c.src.op.TryLock() {
			continue
		}
		if e.loads.InFlight(c.src.name) || c.src.info().Play != Stopped.String() {
			c.src.op.Unlock()
			continue
		}
		c.src.currentBackend().release()
		e.setLoad(c.src, Idle)
		c.src.op.Unlock()

		held--
		metrics.RecordEviction()
		e.logger.Debug("evicted", "source", c.src.name)
	}
}

// Teardown stops everything immediately, cancels in-flight loads and releases every backend.
func (e *Engine) Teardown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()

	for _, src := range e.snapshot() {
		src.op.Lock()
		e.stopLocked(src, 0)
		src.currentBackend().release()
		src.op.Unlock()
	}
	metrics.SetPlaying(0)
}
