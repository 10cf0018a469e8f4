package playback

import (
	"context"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
)

// backend is the closed set of delivery mechanisms. Implementations: *bufferBackend,
// *nativeBackend, *segmentedBackend.
type backend interface {
	kind() Backend
	// load acquires the asset; it must be safe to call again after release.
	load(ctx context.Context) error
	// start begins playback from position 0 ramping up to gain.
	start(ctx context.Context, gain float64, ramp time.Duration) (handle, error)
	// prebuffer warms the backend without producing audible output.
	prebuffer(ctx context.Context) error
	release()
	// footprint is the number of decoded frames held in memory.
	footprint() int
}

// bufferBackend fetches the full file, decodes it once and loops it from memory.
type bufferBackend struct {
	resource string
	fetch    Fetcher
	sink     Sink

	mu  sync.Mutex
	buf *beep.Buffer
}

func newBufferBackend(resource string, fetch Fetcher, sink Sink) *bufferBackend {
	return &bufferBackend{resource: resource, fetch: fetch, sink: sink}
}

func (b *bufferBackend) kind() Backend { return DecodedBuffer }

func (b *bufferBackend) load(ctx context.Context) error {
	data, err := b.fetch.Fetch(ctx, b.resource)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	buf, err := decodeAll(b.resource, data, b.sink.Format())
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.buf = buf
	b.mu.Unlock()
	return nil
}

func (b *bufferBackend) start(_ context.Context, gain float64, ramp time.Duration) (handle, error) {
	b.mu.Lock()
	buf := b.buf
	b.mu.Unlock()
	if buf == nil {
		return nil, errNotLoaded
	}

	src := &loop{s: buf.Streamer(0, buf.Len())}
	return playVoice(b.sink, src, gain, ramp), nil
}

func (b *bufferBackend) prebuffer(context.Context) error { return nil }

func (b *bufferBackend) release() {
	b.mu.Lock()
	b.buf = nil
	b.mu.Unlock()
}

func (b *bufferBackend) footprint() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf == nil {
		return 0
	}
	return b.buf.Len()
}
