package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gopxl/beep/v2"

	"github.com/desertthunder/ambi/internal/metrics"
)

// ewma is an exponentially weighted throughput estimate in bits per second.
type ewma struct {
	alpha  float64
	value  float64
	primed bool
}

func (e *ewma) add(sample float64) {
	if !e.primed {
		e.value, e.primed = sample, true
		return
	}
	e.value = e.alpha*sample + (1-e.alpha)*e.value
}

// headroom is the share of the throughput estimate a variant may use.
const headroom = 0.8

// pickVariant returns the index of the richest variant that fits the estimate, or 0.
func pickVariant(variants []variant, estimate ewma) int {
	if !estimate.primed {
		return 0
	}
	best := 0
	for i, v := range variants {
		if float64(v.bandwidth) <= estimate.value*headroom {
			best = i
		}
	}
	return best
}

type variant struct {
	bandwidth int
	uri       string
	segments  []Segment
}

// segmentedBackend pulls playlist segments ahead of the playhead, decodes them into a
// cache, and adapts the variant per segment to measured throughput.
type segmentedBackend struct {
	name   string
	url    string
	fetch  Fetcher
	sink   Sink
	ahead  int
	logger *log.Logger
	now    func() time.Time

	mu       sync.Mutex
	variants []variant
	count    int
	estimate ewma
	current  int
	playhead int
	cache    map[int]*beep.Buffer
	underrun int

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSegmentedBackend(name, url string, fetch Fetcher, sink Sink, ahead int, logger *log.Logger) *segmentedBackend {
	return &segmentedBackend{
		name:     name,
		url:      url,
		fetch:    fetch,
		sink:     sink,
		ahead:    max(ahead, 1),
		logger:   logger,
		now:      time.Now,
		estimate: ewma{alpha: 0.3},
	}
}

func (b *segmentedBackend) kind() Backend { return SegmentedStream }

// load parses the manifest and decodes the first segment, which is the readiness signal.
func (b *segmentedBackend) load(ctx context.Context) error {
	data, err := b.fetch.Fetch(ctx, b.url)
	if err != nil {
		return err
	}
	pl, err := ParsePlaylist(data, b.url)
	if err != nil {
		return fmt.Errorf("manifest %s: %w", b.url, err)
	}

	var variants []variant
	if pl.IsMaster() {
		for _, v := range pl.Variants {
			variants = append(variants, variant{bandwidth: v.Bandwidth, uri: v.URI})
		}
		if variants[0].segments, err = b.mediaSegments(ctx, variants[0].uri); err != nil {
			return err
		}
	} else {
		variants = []variant{{uri: b.url, segments: pl.Segments}}
	}

	first, err := b.decodeSegment(ctx, variants[0].segments[0])
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.variants = variants
	b.count = len(variants[0].segments)
	b.current = 0
	b.playhead = 0
	b.cache = map[int]*beep.Buffer{0: first}
	b.mu.Unlock()
	return nil
}

func (b *segmentedBackend) mediaSegments(ctx context.Context, uri string) ([]Segment, error) {
	data, err := b.fetch.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	pl, err := ParsePlaylist(data, uri)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", uri, err)
	}
	if pl.IsMaster() || len(pl.Segments) == 0 {
		return nil, fmt.Errorf("manifest %s: %w", uri, ErrEmptyPlaylist)
	}
	return pl.Segments, nil
}

// decodeSegment fetches one segment, records throughput and decodes it.
func (b *segmentedBackend) decodeSegment(ctx context.Context, seg Segment) (*beep.Buffer, error) {
	began := b.now()
	data, err := b.fetch.Fetch(ctx, seg.URI)
	if err != nil {
		return nil, err
	}
	if elapsed := b.now().Sub(began); elapsed > 0 {
		b.mu.Lock()
		b.estimate.add(float64(len(data)*8) / elapsed.Seconds())
		b.mu.Unlock()
	}
	return decodeAll(seg.URI, data, b.sink.Format())
}

// ensureLoader starts the prefetch goroutine once per load.
func (b *segmentedBackend) ensureLoader() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.kick != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.kick = make(chan struct{}, 1)
	kick := b.kick

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-kick:
			}
			b.fill(ctx)
		}
	}()
}

func (b *segmentedBackend) kickLoader() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.kick == nil {
		return
	}
	select {
	case b.kick <- struct{}{}:
	default:
	}
}

// fill decodes the window [playhead, playhead+ahead) and drops everything outside it.
func (b *segmentedBackend) fill(ctx context.Context) {
	for i := 0; i < b.ahead; i++ {
		b.mu.Lock()
		if b.count == 0 {
			b.mu.Unlock()
			return
		}
		idx := (b.playhead + i) % b.count
		_, cached := b.cache[idx]
		b.mu.Unlock()
		if cached {
			continue
		}

		seg, err := b.nextSegment(ctx, idx)
		if err == nil {
			var buf *beep.Buffer
			if buf, err = b.decodeSegment(ctx, seg); err == nil {
				b.mu.Lock()
				if b.cache != nil {
					b.cache[idx] = buf
				}
				b.mu.Unlock()
			}
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				b.logger.Warn("segment prefetch failed", "source", b.name, "segment", idx, "err", err)
			}
			return
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return
	}
	for idx := range b.cache {
		if (idx-b.playhead+b.count)%b.count >= b.ahead {
			delete(b.cache, idx)
		}
	}
}

// nextSegment picks the variant for idx from the throughput estimate.
func (b *segmentedBackend) nextSegment(ctx context.Context, idx int) (Segment, error) {
	b.mu.Lock()
	choice := pickVariant(b.variants, b.estimate)
	v := b.variants[choice]
	b.mu.Unlock()

	if v.segments == nil {
		segs, err := b.mediaSegments(ctx, v.uri)
		if err != nil || len(segs) != b.count {
			b.logger.Debug("variant unusable, keeping current", "source", b.name, "bandwidth", v.bandwidth, "err", err)
			b.mu.Lock()
			choice = b.current
			v = b.variants[choice]
			b.mu.Unlock()
		} else {
			b.mu.Lock()
			b.variants[choice].segments = segs
			v = b.variants[choice]
			b.mu.Unlock()
		}
	}

	b.mu.Lock()
	if choice != b.current {
		b.logger.Debug("switching variant", "source", b.name, "bandwidth", v.bandwidth)
		b.current = choice
	}
	b.mu.Unlock()
	metrics.SetVariantBandwidth(b.name, v.bandwidth)
	return v.segments[idx], nil
}

// take returns the decoded segment at idx without blocking, moving the playhead there.
func (b *segmentedBackend) take(idx int) *beep.Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.playhead = idx
	buf := b.cache[idx]
	if buf == nil {
		b.underrun++
	}
	return buf
}

func (b *segmentedBackend) segments() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *segmentedBackend) start(_ context.Context, gain float64, ramp time.Duration) (handle, error) {
	if b.segments() == 0 {
		return nil, errNotLoaded
	}
	b.ensureLoader()
	b.kickLoader()
	return playVoice(b.sink, &segmentStream{b: b}, gain, ramp), nil
}

func (b *segmentedBackend) prebuffer(context.Context) error {
	if b.segments() == 0 {
		return errNotLoaded
	}
	b.ensureLoader()
	b.kickLoader()
	return nil
}

func (b *segmentedBackend) release() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel, b.kick = nil, nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()

	b.mu.Lock()
	b.cache, b.variants, b.count = nil, nil, 0
	b.mu.Unlock()
}

func (b *segmentedBackend) footprint() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, buf := range b.cache {
		n += buf.Len()
	}
	return n
}

// segmentStream plays segments in order, looping at the end. A segment that is not decoded yet
// plays as silence instead of blocking the output.
type segmentStream struct {
	b   *segmentedBackend
	idx int
	cur beep.StreamSeeker
}

func (s *segmentStream) Stream(samples [][2]float64) (int, bool) {
	count := s.b.segments()
	if count == 0 {
		return 0, false
	}

	filled, advances := 0, 0
	for filled < len(samples) {
		if s.cur == nil {
			buf := s.b.take(s.idx)
			if buf == nil || advances > count {
				clear(samples[filled:])
				s.b.kickLoader()
				return len(samples), true
			}
			s.cur = buf.Streamer(0, buf.Len())
			s.b.kickLoader()
		}

		n, ok := s.cur.Stream(samples[filled:])
		filled += n
		if !ok || n == 0 {
			s.cur = nil
			s.idx = (s.idx + 1) % count
			advances++
		}
	}
	return len(samples), true
}

func (s *segmentStream) Err() error { return nil }
