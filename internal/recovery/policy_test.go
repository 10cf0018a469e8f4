package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/desertthunder/ambi/internal/events"
)

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, e)
}

func (r *recorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.evs {
		if note, ok := e.(events.Notification); ok && note.Kind == kind {
			n++
		}
	}
	return n
}

type sleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleeps) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleeps) all() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func newTestPolicy(t *testing.T, opts ...Option) (*Policy, *recorder, *sleeps) {
	t.Helper()
	rec := &recorder{}
	sl := &sleeps{}
	p := NewPolicy(rec, append([]Option{WithSleep(sl.sleep)}, opts...)...)
	t.Cleanup(p.Teardown)
	return p, rec, sl
}

// failing returns a RetryFunc that fails n times, then succeeds.
func failing(n int, calls *atomic.Int32) RetryFunc {
	return func(context.Context) error {
		if int(calls.Add(1)) <= n {
			return fmt.Errorf("fetch: %w", ErrNetwork)
		}
		return nil
	}
}

func TestRuleDelay(t *testing.T) {
	rules := DefaultRules()
	tc := []struct {
		name string
		cat  Category
		n    int
		want time.Duration
	}{
		{"network first", Network, 1, 2 * time.Second},
		{"network second", Network, 2, 4 * time.Second},
		{"network third", Network, 3, 8 * time.Second},
		{"network capped", Network, 4, 10 * time.Second},
		{"audio first", Audio, 1, 2 * time.Second},
		{"audio second", Audio, 2, 4 * time.Second},
		{"audio capped", Audio, 9, 8 * time.Second},
		{"ui immediate", UI, 1, 0},
		{"skeleton immediate", Skeleton, 1, 0},
	}
	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rules[tt.cat].Delay(tt.n))
		})
	}
}

func TestClassify(t *testing.T) {
	tc := []struct {
		name string
		err  error
		want Category
	}{
		{"network kind", NewOpError("fetch", "rain", ErrNetwork), Network},
		{"timeout kind", fmt.Errorf("load: %w", ErrTimeout), Network},
		{"deadline", context.DeadlineExceeded, Network},
		{"decode kind", NewOpError("decode", "rain", ErrDecode), Audio},
		{"unsupported", ErrUnsupportedFormat, Audio},
		{"skeleton kind", ErrSkeleton, Skeleton},
		{"ui kind", ErrUI, UI},
		{"message network", errors.New("Network unreachable"), Network},
		{"message timeout", errors.New("read timeout"), Network},
		{"message decode", errors.New("could not decode frame"), Audio},
		{"message skeleton", errors.New("skeleton css missing"), Skeleton},
		{"other", errors.New("button missing"), UI},
	}
	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRing(t *testing.T) {
	r := NewRing(3)
	base := time.Now()
	for i := range 5 {
		r.Add(ErrorRecord{Origin: fmt.Sprint(i), Category: Network, Time: base.Add(time.Duration(i) * time.Second)})
	}

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "2", snap[0].Origin)
	assert.Equal(t, "4", snap[2].Origin)

	assert.Len(t, r.Since(Network, base.Add(2500*time.Millisecond)), 2)
	assert.Empty(t, r.Since(Audio, base))
}

func TestPolicy(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	t.Run("recovers within the network budget", func(t *testing.T) {
		p, rec, sl := newTestPolicy(t)
		var calls atomic.Int32

		ok := p.Handle(context.Background(), fmt.Errorf("fetch: %w", ErrNetwork), Context{
			Resource: "waves",
			Retry:    failing(1, &calls),
		})

		assert.True(t, ok)
		assert.Equal(t, 2, rec.count(KindRetry))
		assert.Equal(t, 1, rec.count(KindRecovered))
		assert.Equal(t, 0, rec.count(KindFallback))
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sl.all())

		attempts, exhausted := p.State(Network, "waves")
		assert.Zero(t, attempts)
		assert.False(t, exhausted)
	})

	t.Run("exhaustion runs one fallback then skips retries", func(t *testing.T) {
		p, rec, sl := newTestPolicy(t)
		var calls atomic.Int32
		retry := failing(100, &calls)

		ok := p.Handle(context.Background(), ErrNetwork, Context{Resource: "rain", Retry: retry})
		assert.False(t, ok)
		assert.Equal(t, int32(3), calls.Load())
		assert.Equal(t, 3, rec.count(KindRetry))
		assert.Equal(t, 1, rec.count(KindFallback))

		_, exhausted := p.State(Network, "rain")
		assert.True(t, exhausted)

		ok = p.Handle(context.Background(), ErrNetwork, Context{Resource: "rain", Retry: retry})
		assert.False(t, ok)
		assert.Equal(t, int32(3), calls.Load(), "no retries after exhaustion")
		assert.Len(t, sl.all(), 3, "no further backoff after exhaustion")
		assert.Equal(t, 2, rec.count(KindFallback))

		p.Reset(Network, "rain")
		_, exhausted = p.State(Network, "rain")
		assert.False(t, exhausted)
	})

	t.Run("skeleton never retries", func(t *testing.T) {
		p, rec, _ := newTestPolicy(t)
		var calls atomic.Int32

		out := p.Resolve(context.Background(), errors.New("skeleton styles missing"), Context{
			Phase: "skeleton",
			Retry: failing(0, &calls),
		})

		assert.False(t, out.Recovered)
		assert.Equal(t, Skeleton, out.Category)
		assert.Zero(t, out.Retries)
		assert.Zero(t, calls.Load())
		require.NotNil(t, out.Fallback)
		assert.True(t, out.Fallback.OK)
		assert.Equal(t, 0, rec.count(KindRetry))
	})

	t.Run("explicit category wins", func(t *testing.T) {
		p, _, _ := newTestPolicy(t)
		out := p.Resolve(context.Background(), ErrNetwork, Context{Category: UI, Phase: "basic-ui"})
		assert.Equal(t, UI, out.Category)
	})

	t.Run("concurrent failures share one retry run", func(t *testing.T) {
		p, rec, _ := newTestPolicy(t)
		var calls atomic.Int32
		gate := make(chan struct{})
		retry := func(context.Context) error {
			calls.Add(1)
			<-gate
			return nil
		}

		var wg sync.WaitGroup
		results := make([]bool, 4)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = p.Handle(context.Background(), ErrDecode, Context{Resource: "fire", Retry: retry})
			}()
		}

		require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		close(gate)
		wg.Wait()

		for _, r := range results {
			assert.True(t, r)
		}
		assert.LessOrEqual(t, rec.count(KindRetry), 2)
		assert.LessOrEqual(t, calls.Load(), int32(2))
	})

	t.Run("fallback panic is swallowed", func(t *testing.T) {
		p, rec, _ := newTestPolicy(t, WithFallback(Audio, func(context.Context, Failure) FallbackResult {
			panic("boom")
		}))

		var ok bool
		assert.NotPanics(t, func() {
			ok = p.Handle(context.Background(), ErrDecode, Context{Resource: "forest"})
		})
		assert.False(t, ok)
		assert.Equal(t, 1, rec.count(KindFallback))
	})

	t.Run("records are bounded", func(t *testing.T) {
		p, _, _ := newTestPolicy(t, WithRingSize(2))
		for i := range 5 {
			p.Handle(context.Background(), ErrUI, Context{Phase: fmt.Sprint("p", i)})
		}
		assert.Len(t, p.Records(), 2)
	})

	t.Run("teardown cancels pending backoff", func(t *testing.T) {
		p := NewPolicy(nil, WithRule(Network, Rule{MaxRetries: 3, Backoff: Linear, Base: time.Hour}))
		done := make(chan bool, 1)
		go func() {
			done <- p.Handle(context.Background(), ErrNetwork, Context{Resource: "rain", Retry: func(context.Context) error { return nil }})
		}()

		time.Sleep(20 * time.Millisecond)
		p.Teardown()

		select {
		case ok := <-done:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("backoff not cancelled by teardown")
		}
		assert.False(t, p.Handle(context.Background(), ErrNetwork, Context{Resource: "rain"}))
	})
}

func TestNetworkReplay(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	conn := NewManual(true)
	now := time.Now()
	p, rec, _ := newTestPolicy(t, WithConnectivity(conn), WithClock(func() time.Time { return now }))

	var calls atomic.Int32
	var online atomic.Bool
	retry := func(context.Context) error {
		calls.Add(1)
		if !online.Load() {
			return ErrNetwork
		}
		return nil
	}

	conn.Set(false)
	require.False(t, p.Handle(context.Background(), ErrNetwork, Context{Resource: "waves", Retry: retry}))
	require.Equal(t, 1, rec.count(KindFallback))
	before := calls.Load()

	online.Store(true)
	conn.Set(true)

	require.Eventually(t, func() bool { return rec.count(KindRecovered) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, before+1, calls.Load(), "one replay per key")

	_, exhausted := p.State(Network, "waves")
	assert.False(t, exhausted)

	p.Teardown()
}

func TestHTTPProbe(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	probe := NewHTTPProbe(srv.URL, 10*time.Millisecond, log.New(io.Discard))
	ctx, cancel := context.WithCancel(context.Background())
	ch := probe.Watch(ctx)

	done := make(chan struct{})
	go func() {
		probe.Run(ctx)
		close(done)
	}()

	assert.False(t, <-ch)
	healthy.Store(true)
	assert.True(t, <-ch)
	assert.True(t, probe.Online())

	cancel()
	<-done
	for range ch {
	}
}
