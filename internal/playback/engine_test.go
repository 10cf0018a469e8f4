package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/desertthunder/ambi/internal/catalog"
	"github.com/desertthunder/ambi/internal/recovery"
	"github.com/desertthunder/ambi/internal/shared"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEnsureLoaded(t *testing.T) {
	t.Run("concurrent callers share one fetch", func(t *testing.T) {
		f := newFixture(t, nil)
		url := f.refs["fire"].URL
		gate := make(chan struct{})
		f.fetch.gate[url] = gate

		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = f.engine.EnsureLoaded(context.Background(), "fire")
			}()
		}

		require.Eventually(t, func() bool { return f.fetch.count(url) == 1 }, time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		close(gate)
		wg.Wait()

		for _, err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, 1, f.fetch.count(url))

		info, ok := f.engine.Source("fire")
		require.True(t, ok)
		assert.Equal(t, "loaded", info.Load)
		assert.Equal(t, "buffer", info.Backend)
	})

	t.Run("loaded source returns immediately", func(t *testing.T) {
		f := newFixture(t, nil)
		require.NoError(t, f.engine.EnsureLoaded(context.Background(), "waves"))
		require.NoError(t, f.engine.EnsureLoaded(context.Background(), "waves"))
		assert.Equal(t, 1, f.fetch.count(f.refs["waves"].URL))
	})

	t.Run("caller cancellation does not cancel the shared load", func(t *testing.T) {
		f := newFixture(t, nil)
		url := f.refs["forest"].URL
		gate := make(chan struct{})
		f.fetch.gate[url] = gate

		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() { errc <- f.engine.EnsureLoaded(ctx, "forest") }()

		require.Eventually(t, func() bool { return f.fetch.count(url) == 1 }, time.Second, time.Millisecond)
		cancel()
		assert.ErrorIs(t, <-errc, context.Canceled)

		close(gate)
		require.NoError(t, f.engine.EnsureLoaded(context.Background(), "forest"))
		assert.Equal(t, 1, f.fetch.count(url))
	})

	t.Run("unknown name", func(t *testing.T) {
		f := newFixture(t, nil)
		err := f.engine.EnsureLoaded(context.Background(), "nope")
		assert.ErrorIs(t, err, shared.ErrUnknownSound)
	})

	t.Run("timeout classifies as network", func(t *testing.T) {
		f := newFixture(t, func(o *Options) { o.Config.LazyTimeout = 20 * time.Millisecond })
		f.fetch.gate[f.refs["rain"].URL] = make(chan struct{})

		err := f.engine.EnsureLoaded(context.Background(), "rain")
		assert.ErrorIs(t, err, recovery.ErrTimeout)

		fallbacks := f.events.notifications(recovery.KindFallback)
		require.Len(t, fallbacks, 1)
		assert.Equal(t, "network", fallbacks[0].Category)
	})
}

func TestPlaySound(t *testing.T) {
	t.Run("recovers within the network budget", func(t *testing.T) {
		f := newFixture(t, nil)
		f.fetch.fails[f.refs["waves"].URL] = 2

		assert.True(t, f.engine.PlaySound(context.Background(), "waves", 0.7))
		assert.Len(t, f.events.notifications(recovery.KindRetry), 2)
		assert.Empty(t, f.events.notifications(recovery.KindFallback))

		info, _ := f.engine.Source("waves")
		assert.Equal(t, "playing", info.Play)
		assert.Equal(t, 0.7, info.Volume)
	})

	t.Run("exhausted budget disables the control", func(t *testing.T) {
		f := newFixture(t, nil)
		f.fetch.fails[f.refs["rain"].URL] = 4

		assert.False(t, f.engine.PlaySound(context.Background(), "rain", 1))
		assert.Len(t, f.events.notifications(recovery.KindRetry), 3)
		assert.Len(t, f.events.notifications(recovery.KindFallback), 1)
		assert.True(t, f.events.disabled("rain"))
		assert.Equal(t, 4, f.fetch.count(f.refs["rain"].URL))

		info, _ := f.engine.Source("rain")
		assert.True(t, info.Disabled)
		assert.Equal(t, "error", info.Load)
		assert.False(t, f.engine.Available("rain"))
	})

	t.Run("decode failures use the audio budget", func(t *testing.T) {
		f := newFixture(t, nil)
		f.fetch.files[f.refs["fire"].URL] = []byte("RIFF\x00\x00\x00\x00WAVEjunk")

		assert.False(t, f.engine.PlaySound(context.Background(), "fire", 1))
		retries := f.events.notifications(recovery.KindRetry)
		assert.Len(t, retries, 2)
		for _, n := range retries {
			assert.Equal(t, "audio", n.Category)
		}
	})

	t.Run("playing twice keeps one handle", func(t *testing.T) {
		f := newFixture(t, nil)
		require.True(t, f.engine.PlaySound(context.Background(), "fire", 1))
		first := f.handle("fire")
		f.sink.Pull(100)

		require.True(t, f.engine.PlaySound(context.Background(), "fire", 1))
		second := f.handle("fire")
		f.sink.Pull(100)

		assert.NotSame(t, first, second)
		assert.Equal(t, 1, f.sink.Len())
		assert.Equal(t, 100, second.position(), "restart begins at position 0")
	})

	t.Run("unknown name reports one failure", func(t *testing.T) {
		f := newFixture(t, nil)
		assert.False(t, f.engine.PlaySound(context.Background(), "nope", 1))
		assert.Len(t, f.events.notifications("failed"), 1)
	})

	t.Run("volume is clamped", func(t *testing.T) {
		f := newFixture(t, nil)
		require.True(t, f.engine.PlaySound(context.Background(), "fire", 3))
		assert.Equal(t, 1.0, f.handle("fire").gain())
	})
}

func TestStopSound(t *testing.T) {
	f := newFixture(t, nil)

	f.engine.StopSound("fire")
	f.engine.StopSound("never-referenced")

	require.True(t, f.engine.PlaySound(context.Background(), "fire", 1))
	require.True(t, f.engine.PlaySound(context.Background(), "forest", 1))
	f.engine.StopSound("fire")
	f.engine.StopSound("fire")

	info, _ := f.engine.Source("fire")
	assert.Equal(t, "stopped", info.Play)
	assert.Nil(t, f.handle("fire"))

	f.engine.StopAll()
	assert.Empty(t, f.engine.Playing())
	f.sink.Pull(10)
	assert.Zero(t, f.sink.Len())
}

func TestMasterVolume(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.True(t, f.engine.PlaySound(ctx, "fire", 1))
	require.True(t, f.engine.PlaySound(ctx, "forest", 1))
	fire, forest := f.handle("fire"), f.handle("forest")

	out := f.sink.Pull(200)
	assert.InDelta(t, 1.0, out[199][0], 1e-3)
	firePos := fire.position()

	f.engine.SetMasterVolume(0.3)
	out = f.sink.Pull(200)

	assert.Same(t, fire, f.handle("fire"), "no restart")
	assert.Same(t, forest, f.handle("forest"), "no restart")
	assert.Equal(t, firePos+200, fire.position(), "play position continues")
	assert.InDelta(t, 0.3, fire.gain(), 1e-9)
	assert.InDelta(t, 0.3, forest.gain(), 1e-9)
	assert.InDelta(t, 0.3, out[199][0], 1e-3)

	require.NoError(t, f.engine.SetVolume("fire", 0.5))
	assert.InDelta(t, 0.15, fire.gain(), 1e-9)
}

func TestPrebuffer(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.engine.Prebuffer(context.Background(), "waves"))

	info, _ := f.engine.Source("waves")
	assert.Equal(t, "loaded", info.Load)
	assert.Equal(t, "stopped", info.Play)
	assert.Zero(t, f.sink.Len())
}

func TestEviction(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Config.MaxLoaded = 1 })
	ctx := context.Background()

	require.NoError(t, f.engine.EnsureLoaded(ctx, "fire"))
	require.NoError(t, f.engine.EnsureLoaded(ctx, "forest"))

	info, _ := f.engine.Source("fire")
	assert.Equal(t, "idle", info.Load, "least recently used source released")

	require.True(t, f.engine.PlaySound(ctx, "fire", 1))
	assert.Equal(t, 2, f.fetch.count(f.refs["fire"].URL))

	info, _ = f.engine.Source("forest")
	assert.Equal(t, "idle", info.Load)
}

func TestAvailable(t *testing.T) {
	f := newFixture(t, nil)
	f.refs["missing"] = catalog.Ref{Name: "missing", URL: "/nonexistent/missing.wav", Local: true}

	assert.True(t, f.engine.Available("fire"))
	assert.False(t, f.engine.Available("missing"))
	assert.False(t, f.engine.Available("nope"))
}

func TestPrune(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.True(t, f.engine.PlaySound(ctx, "fire", 1))
	require.NoError(t, f.engine.EnsureLoaded(ctx, "rain"))
	require.NoError(t, f.engine.EnsureLoaded(ctx, "waves"))

	delete(f.refs, "fire")
	f.refs["rain"] = catalog.Ref{Name: "rain", URL: "https://cdn.test/storm.wav", Looping: true}
	f.fetch.files["https://cdn.test/storm.wav"] = makeWAV(testRate / 2)

	err := f.engine.EnsureLoaded(ctx, "fire")
	assert.ErrorIs(t, err, shared.ErrUnknownSound, "a cached source is rejected once its name stops resolving")
	assert.False(t, f.engine.PlaySound(ctx, "fire", 1))

	assert.Equal(t, []string{"fire", "rain"}, f.engine.Prune())
	f.sink.Pull(10)
	assert.Equal(t, 0, f.sink.Len())
	_, ok := f.engine.Source("fire")
	assert.False(t, ok)
	info, ok := f.engine.Source("waves")
	require.True(t, ok)
	assert.Equal(t, "loaded", info.Load)

	require.True(t, f.engine.PlaySound(ctx, "rain", 1))
	assert.Equal(t, 1, f.fetch.count("https://cdn.test/storm.wav"))
}

func TestTeardown(t *testing.T) {
	f := newFixture(t, nil)
	require.True(t, f.engine.PlaySound(context.Background(), "fire", 1))

	f.fetch.gate[f.refs["forest"].URL] = make(chan struct{})
	errc := make(chan error, 1)
	go func() { errc <- f.engine.EnsureLoaded(context.Background(), "forest") }()
	require.Eventually(t, func() bool { return f.fetch.count(f.refs["forest"].URL) == 1 }, time.Second, time.Millisecond)

	f.engine.Teardown()
	assert.Error(t, <-errc)
	assert.Empty(t, f.engine.Playing())
	assert.True(t, errors.Is(f.engine.EnsureLoaded(context.Background(), "fire"), ErrEngineClosed))
}
