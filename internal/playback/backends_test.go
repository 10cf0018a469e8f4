package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/ambi/internal/recovery"
)

const streamBase = "https://cdn.test/stream/"

// addStream registers a two-variant stream of three segments, segFrames each.
func addStream(f *fakeFetcher, segFrames int) {
	f.files[streamBase+"master.m3u8"] = []byte(`#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=64000
low.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=256000
high.m3u8
`)
	for _, v := range []string{"low", "high"} {
		media := "#EXTM3U\n#EXT-X-TARGETDURATION:1\n"
		for i := range 3 {
			media += fmt.Sprintf("#EXTINF:0.1,\n%s/seg%d.wav\n", v, i)
			f.files[fmt.Sprintf("%s%s/seg%d.wav", streamBase, v, i)] = makeWAV(segFrames)
		}
		f.files[streamBase+v+".m3u8"] = []byte(media + "#EXT-X-ENDLIST\n")
	}
}

// stepClock advances by step on every reading.
func stepClock(step time.Duration) func() time.Time {
	var (
		mu  sync.Mutex
		now = time.Unix(0, 0)
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

func TestPickVariant(t *testing.T) {
	variants := []variant{{bandwidth: 64000}, {bandwidth: 128000}, {bandwidth: 256000}}
	tests := []struct {
		name     string
		estimate ewma
		want     int
	}{
		{"no samples yet", ewma{}, 0},
		{"slow link", ewma{value: 50000, primed: true}, 0},
		{"headroom excludes exact fit", ewma{value: 128000, primed: true}, 0},
		{"middle", ewma{value: 200000, primed: true}, 1},
		{"fast link", ewma{value: 10_000_000, primed: true}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickVariant(variants, tt.estimate))
		})
	}
}

func TestEWMA(t *testing.T) {
	e := ewma{alpha: 0.5}
	e.add(100)
	assert.Equal(t, 100.0, e.value)
	e.add(200)
	assert.Equal(t, 150.0, e.value)
}

func TestSegmentedBackend(t *testing.T) {
	newBackend := func(t *testing.T) (*segmentedBackend, *fakeFetcher, *MixerSink) {
		fetch := newFakeFetcher()
		addStream(fetch, 800)
		sink := NewMixerSink(testRate)
		b := newSegmentedBackend("stream", streamBase+"master.m3u8", fetch, sink, 2, log.New(io.Discard))
		b.now = stepClock(10 * time.Millisecond)
		t.Cleanup(b.release)
		return b, fetch, sink
	}

	t.Run("load decodes the first segment of the lowest variant", func(t *testing.T) {
		b, fetch, _ := newBackend(t)
		require.NoError(t, b.load(context.Background()))

		assert.Equal(t, 3, b.segments())
		assert.Equal(t, 800, b.footprint())
		assert.Equal(t, 1, fetch.count(streamBase+"low/seg0.wav"))
		assert.Zero(t, fetch.count(streamBase+"high.m3u8"), "other variants are fetched lazily")
	})

	t.Run("fill switches up when throughput allows", func(t *testing.T) {
		b, fetch, _ := newBackend(t)
		require.NoError(t, b.load(context.Background()))

		b.fill(context.Background())

		assert.Equal(t, 1, b.current)
		assert.Equal(t, 1, fetch.count(streamBase+"high/seg1.wav"))
		assert.Zero(t, fetch.count(streamBase+"low/seg1.wav"))
		assert.Len(t, b.cache, 2)
	})

	t.Run("fill evicts segments behind the playhead", func(t *testing.T) {
		b, _, _ := newBackend(t)
		require.NoError(t, b.load(context.Background()))
		b.fill(context.Background())

		b.take(2)
		b.fill(context.Background())

		b.mu.Lock()
		defer b.mu.Unlock()
		assert.Contains(t, b.cache, 2)
		assert.Contains(t, b.cache, 0, "window wraps for looping")
		assert.NotContains(t, b.cache, 1)
	})

	t.Run("underrun plays silence", func(t *testing.T) {
		b, _, _ := newBackend(t)
		require.NoError(t, b.load(context.Background()))

		s := &segmentStream{b: b}
		out := make([][2]float64, 900)
		n, ok := s.Stream(out)

		assert.True(t, ok)
		assert.Equal(t, 900, n)
		assert.InDelta(t, 0.5, out[799][0], 1e-3)
		assert.Zero(t, out[899][0])
		assert.Equal(t, 1, b.underrun)
	})

	t.Run("media playlist without variants", func(t *testing.T) {
		fetch := newFakeFetcher()
		addStream(fetch, 400)
		b := newSegmentedBackend("low", streamBase+"low.m3u8", fetch, NewMixerSink(testRate), 2, log.New(io.Discard))
		t.Cleanup(b.release)

		require.NoError(t, b.load(context.Background()))
		assert.Equal(t, 3, b.segments())
		assert.Len(t, b.variants, 1)
	})

	t.Run("garbage manifest is unsupported", func(t *testing.T) {
		fetch := newFakeFetcher()
		fetch.files["https://cdn.test/bad.m3u8"] = []byte("<html></html>")
		b := newSegmentedBackend("bad", "https://cdn.test/bad.m3u8", fetch, NewMixerSink(testRate), 2, log.New(io.Discard))

		err := b.load(context.Background())
		assert.ErrorIs(t, err, recovery.ErrUnsupportedFormat)
	})
}

func TestEngineSegmented(t *testing.T) {
	f := newFixture(t, nil)
	addStream(f.fetch, 800)

	require.True(t, f.engine.PlaySound(context.Background(), "stream", 1))
	info, _ := f.engine.Source("stream")
	assert.Equal(t, "segmented", info.Backend)

	out := f.sink.Pull(800)
	assert.InDelta(t, 0.5, out[0][0], 1e-3)

	b := f.engine.lookup("stream").currentBackend().(*segmentedBackend)
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.cache[1] != nil
	}, time.Second, time.Millisecond)

	out = f.sink.Pull(800)
	assert.InDelta(t, 0.5, out[400][0], 1e-3)
}

func TestNativeRebuild(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Platform = NewDesktopPlatform(Capabilities{NativeStreaming: true})
	})
	addStream(f.fetch, 400)

	require.NoError(t, f.engine.EnsureLoaded(context.Background(), "stream"))

	info, _ := f.engine.Source("stream")
	assert.Equal(t, "segmented", info.Backend)
	assert.Empty(t, f.events.notifications(recovery.KindRetry), "rebuild happens before the policy")
}

type fakeElement struct {
	mu      sync.Mutex
	ready   chan struct{}
	err     error
	playErr error
	calls   []string
	volume  float64
	playing bool
}

func newFakeElement() *fakeElement {
	ready := make(chan struct{})
	close(ready)
	return &fakeElement{ready: ready}
}

func (e *fakeElement) record(call string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
}

func (e *fakeElement) Ready() <-chan struct{} { return e.ready }
func (e *fakeElement) Err() error             { return e.err }
func (e *fakeElement) SetLoop(bool)           { e.record("loop") }
func (e *fakeElement) Close() error           { e.record("close"); return nil }

func (e *fakeElement) Play(context.Context) error {
	e.record("play")
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playErr != nil {
		return e.playErr
	}
	e.playing = true
	return nil
}

func (e *fakeElement) Pause() {
	e.record("pause")
	e.mu.Lock()
	e.playing = false
	e.mu.Unlock()
}

func (e *fakeElement) Seek(time.Duration) error {
	e.record("seek")
	return nil
}

func (e *fakeElement) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
}

func (e *fakeElement) snapshot() ([]string, float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...), e.volume, e.playing
}

type bufferingElement struct {
	*fakeElement
	buffered int
}

func (e *bufferingElement) Buffer(context.Context) error {
	e.buffered++
	return nil
}

type fakePlatform struct {
	el MediaElement
}

func (p *fakePlatform) Capabilities() Capabilities {
	return Capabilities{NativeStreaming: true, MediaSource: true}
}

func (p *fakePlatform) OpenNative(context.Context, string) (MediaElement, error) {
	return p.el, nil
}

func TestNativeBackend(t *testing.T) {
	t.Run("play and stop", func(t *testing.T) {
		el := newFakeElement()
		f := newFixture(t, func(o *Options) { o.Platform = &fakePlatform{el: el} })

		require.True(t, f.engine.PlaySound(context.Background(), "stream", 0.6))
		info, _ := f.engine.Source("stream")
		assert.Equal(t, "native", info.Backend)

		_, vol, playing := el.snapshot()
		assert.True(t, playing)
		assert.InDelta(t, 0.6, vol, 1e-9)

		f.engine.SetMasterVolume(0.5)
		_, vol, _ = el.snapshot()
		assert.InDelta(t, 0.3, vol, 1e-9)

		f.engine.StopSound("stream")
		_, vol, playing = el.snapshot()
		assert.False(t, playing)
		assert.Zero(t, vol)
	})

	t.Run("prebuffer without a buffering hook cycles muted", func(t *testing.T) {
		el := newFakeElement()
		f := newFixture(t, func(o *Options) { o.Platform = &fakePlatform{el: el} })

		require.NoError(t, f.engine.Prebuffer(context.Background(), "stream"))

		calls, vol, playing := el.snapshot()
		assert.Equal(t, []string{"play", "pause", "seek"}, calls)
		assert.Zero(t, vol)
		assert.False(t, playing)

		info, _ := f.engine.Source("stream")
		assert.Equal(t, "stopped", info.Play)
	})

	t.Run("prebuffer prefers the buffering hook", func(t *testing.T) {
		el := &bufferingElement{fakeElement: newFakeElement()}
		f := newFixture(t, func(o *Options) { o.Platform = &fakePlatform{el: el} })

		require.NoError(t, f.engine.Prebuffer(context.Background(), "stream"))

		calls, _, _ := el.snapshot()
		assert.Empty(t, calls)
		assert.Equal(t, 1, el.buffered)
	})

	t.Run("start failure is reported once without retry", func(t *testing.T) {
		el := newFakeElement()
		el.playErr = errors.New("autoplay blocked")
		f := newFixture(t, func(o *Options) { o.Platform = &fakePlatform{el: el} })

		assert.False(t, f.engine.PlaySound(context.Background(), "stream", 1))
		assert.Len(t, f.events.notifications("failed"), 1)
		assert.Empty(t, f.events.notifications(recovery.KindRetry))

		info, _ := f.engine.Source("stream")
		assert.Equal(t, "loaded", info.Load)
		assert.Equal(t, "stopped", info.Play)
	})
}
