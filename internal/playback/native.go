package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/ambi/internal/recovery"
)

// ErrBackendUnavailable means the platform cannot provide the requested backend.
var ErrBackendUnavailable = fmt.Errorf("%w: backend unavailable on this platform", recovery.ErrUnsupportedFormat)

// Capabilities is the platform report consulted once per source at backend selection.
type Capabilities struct {
	NativeStreaming bool `json:"native_streaming"`
	MediaSource     bool `json:"media_source"`
}

// Platform provides native media elements for adaptive streams.
type Platform interface {
	Capabilities() Capabilities
	OpenNative(ctx context.Context, url string) (MediaElement, error)
}

// MediaElement is a platform player bound to one manifest URL.
type MediaElement interface {
	// Ready is closed once the element can play, or failed (see Err).
	Ready() <-chan struct{}
	Err() error
	Play(ctx context.Context) error
	Pause()
	Seek(pos time.Duration) error
	SetLoop(loop bool)
	SetVolume(v float64)
	Close() error
}

// Bufferer is implemented by elements that can be told to buffer without playing.
type Bufferer interface {
	Buffer(ctx context.Context) error
}

// DesktopPlatform has no native HLS element; segmented streams are decoded in-process.
type DesktopPlatform struct {
	caps Capabilities
}

func NewDesktopPlatform(caps Capabilities) *DesktopPlatform {
	return &DesktopPlatform{caps: caps}
}

func (p *DesktopPlatform) Capabilities() Capabilities { return p.caps }

func (p *DesktopPlatform) OpenNative(context.Context, string) (MediaElement, error) {
	return nil, ErrBackendUnavailable
}

// nativeBackend hands the manifest to a platform element.
type nativeBackend struct {
	url      string
	platform Platform

	mu sync.Mutex
	el MediaElement
}

func newNativeBackend(url string, platform Platform) *nativeBackend {
	return &nativeBackend{url: url, platform: platform}
}

func (b *nativeBackend) kind() Backend { return NativeStream }

func (b *nativeBackend) load(ctx context.Context) error {
	el, err := b.platform.OpenNative(ctx, b.url)
	if err != nil {
		return recovery.NewOpError("manifest", b.url, err)
	}

	select {
	case <-el.Ready():
	case <-ctx.Done():
		el.Close()
		return ctx.Err()
	}
	if err := el.Err(); err != nil {
		el.Close()
		return recovery.NewOpError("manifest", b.url, err)
	}

	b.mu.Lock()
	old := b.el
	b.el = el
	b.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

func (b *nativeBackend) element() MediaElement {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.el
}

func (b *nativeBackend) start(ctx context.Context, gain float64, ramp time.Duration) (handle, error) {
	el := b.element()
	if el == nil {
		return nil, errNotLoaded
	}

	if err := el.Seek(0); err != nil {
		return nil, fmt.Errorf("%w: %v", recovery.ErrPlayback, err)
	}
	el.SetLoop(true)
	el.SetVolume(0)
	if err := el.Play(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", recovery.ErrPlayback, err)
	}

	h := &elementHandle{el: el}
	h.setGain(gain, ramp)
	return h, nil
}

// prebuffer uses the element's buffering hook, or a muted play/pause cycle when it has none.
func (b *nativeBackend) prebuffer(ctx context.Context) error {
	el := b.element()
	if el == nil {
		return errNotLoaded
	}
	if bf, ok := el.(Bufferer); ok {
		return bf.Buffer(ctx)
	}

	el.SetVolume(0)
	if err := el.Play(ctx); err != nil {
		return fmt.Errorf("%w: %v", recovery.ErrPlayback, err)
	}
	el.Pause()
	return el.Seek(0)
}

func (b *nativeBackend) release() {
	b.mu.Lock()
	el := b.el
	b.el = nil
	b.mu.Unlock()
	if el != nil {
		el.Close()
	}
}

func (b *nativeBackend) footprint() int { return 0 }

const rampSteps = 10

// elementHandle ramps an element's volume in steps on a goroutine.
type elementHandle struct {
	el MediaElement

	mu      sync.Mutex
	current float64
	target  float64
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

func (h *elementHandle) setGain(g float64, ramp time.Duration) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	if h.cancel != nil {
		h.cancel()
	}
	h.target = g
	from := h.current

	if ramp <= 0 {
		h.current = g
		h.cancel = nil
		h.mu.Unlock()
		h.el.SetVolume(g)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(ramp / rampSteps)
		defer ticker.Stop()
		for i := 1; i <= rampSteps; i++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			v := from + (g-from)*float64(i)/rampSteps
			h.mu.Lock()
			if ctx.Err() != nil {
				h.mu.Unlock()
				return
			}
			h.current = v
			h.mu.Unlock()
			h.el.SetVolume(v)
		}
	}()
}

func (h *elementHandle) gain() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.target
}

func (h *elementHandle) position() int { return 0 }

func (h *elementHandle) stop(fade time.Duration) {
	h.setGain(0, fade)
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	h.wg.Wait()
	h.el.Pause()
	h.el.Seek(0)
}
