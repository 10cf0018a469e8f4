package playback

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/ambi/internal/catalog"
	"github.com/desertthunder/ambi/internal/events"
	"github.com/desertthunder/ambi/internal/recovery"
	"github.com/desertthunder/ambi/internal/shared"
	tu "github.com/desertthunder/ambi/internal/testing"
)

const testRate = 8000

// makeWAV builds a constant-signal PCM file at the test rate.
func makeWAV(frames int) []byte {
	return tu.ToneWAV(testRate, frames)
}

type fakeFetcher struct {
	mu      sync.Mutex
	files   map[string][]byte
	fails   map[string]int // remaining failures per resource
	calls   map[string]int
	gate    map[string]chan struct{}
	failErr error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		files:   make(map[string][]byte),
		fails:   make(map[string]int),
		calls:   make(map[string]int),
		gate:    make(map[string]chan struct{}),
		failErr: recovery.ErrNetwork,
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, resource string) ([]byte, error) {
	f.mu.Lock()
	f.calls[resource]++
	gate := f.gate[resource]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails[resource] > 0 {
		f.fails[resource]--
		return nil, recovery.NewOpError("fetch", resource, f.failErr)
	}
	data, ok := f.files[resource]
	if !ok {
		return nil, recovery.NewOpError("fetch", resource, fmt.Errorf("%w: status 404", recovery.ErrNetwork))
	}
	return data, nil
}

func (f *fakeFetcher) count(resource string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[resource]
}

type fakeResolver map[string]catalog.Ref

func (r fakeResolver) Resolve(name string) (catalog.Ref, error) {
	ref, ok := r[name]
	if !ok {
		return catalog.Ref{}, fmt.Errorf("%w: %s", shared.ErrUnknownSound, name)
	}
	return ref, nil
}

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, e)
}

func (r *recorder) notifications(kind string) []events.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Notification
	for _, e := range r.evs {
		if n, ok := e.(events.Notification); ok && n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func (r *recorder) disabled(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.evs {
		if d, ok := e.(events.ControlDisabled); ok && d.Name == name {
			return true
		}
	}
	return false
}

type fixture struct {
	engine  *Engine
	sink    *MixerSink
	fetch   *fakeFetcher
	events  *recorder
	policy  *recovery.Policy
	refs    fakeResolver
	options Options
}

func testConfig() Config {
	return Config{
		LazyTimeout:   2 * time.Second,
		BulkTimeout:   2 * time.Second,
		MaxLoaded:     8,
		SegmentsAhead: 2,
	}
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()

	f := &fixture{
		sink:   NewMixerSink(testRate),
		fetch:  newFakeFetcher(),
		events: &recorder{},
		refs: fakeResolver{
			"waves":  {Name: "waves", URL: "https://cdn.test/waves.wav", Looping: true},
			"rain":   {Name: "rain", URL: "https://cdn.test/rain.wav", Looping: true},
			"fire":   {Name: "fire", URL: "https://cdn.test/fire.wav", Looping: true},
			"forest": {Name: "forest", URL: "https://cdn.test/forest.wav", Looping: true},
			"stream": {Name: "stream", URL: "https://cdn.test/stream/master.m3u8", Looping: true},
		},
	}
	for _, name := range []string{"waves", "rain", "fire", "forest"} {
		f.fetch.files[f.refs[name].URL] = makeWAV(testRate / 2)
	}

	logger := log.New(io.Discard)
	f.policy = recovery.NewPolicy(f.events, recovery.WithSleep(noSleep), recovery.WithLogger(logger))
	f.options = Options{
		Config:   testConfig(),
		Sink:     f.sink,
		Resolver: f.refs,
		Policy:   f.policy,
		Fetcher:  f.fetch,
		Platform: NewDesktopPlatform(Capabilities{MediaSource: true}),
		Events:   f.events,
		Logger:   logger,
	}
	if mutate != nil {
		mutate(&f.options)
	}
	f.engine = NewEngine(f.options)

	t.Cleanup(func() {
		f.engine.Teardown()
		f.policy.Teardown()
	})
	return f
}

func (f *fixture) handle(name string) handle {
	src := f.engine.lookup(name)
	if src == nil {
		return nil
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	return src.handle
}
