package recovery

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/ambi/internal/events"
	"github.com/desertthunder/ambi/internal/flight"
	"github.com/desertthunder/ambi/internal/metrics"
	"github.com/desertthunder/ambi/internal/shared"
)

// Notification kinds.
const (
	KindRetry     = "retry"
	KindRecovered = "recovered"
	KindFallback  = "fallback"
)

// Context tells the policy where a failure came from and how to re-run it.
type Context struct {
	Category Category // Infer to classify from the error
	Phase    string
	Resource string
	Retry    RetryFunc
}

func (c Context) origin() string {
	switch {
	case c.Resource != "":
		return c.Resource
	case c.Phase != "":
		return c.Phase
	default:
		return "global"
	}
}

// Outcome is the full result of [Policy.Resolve].
type Outcome struct {
	Category  Category
	Recovered bool
	Retries   int
	Fallback  *FallbackResult
}

type retryState struct {
	attempts  int
	lastDelay time.Duration
	exhausted bool
}

// Policy decides what to do about a failure: retry with backoff up to the category budget,
// then run the category fallback.
type Policy struct {
	rules        map[Category]Rule
	fallbacks    map[Category]Fallback
	pub          events.Publisher
	logger       *log.Logger
	conn         Connectivity
	ring         *Ring
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	replayWindow time.Duration

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	runs      flight.Group[Outcome]
	mu        sync.Mutex
	states    map[string]*retryState
	watchOnce sync.Once
}

// Option configures a [Policy].
type Option func(*Policy)

func WithLogger(l *log.Logger) Option { return func(p *Policy) { p.logger = l } }

func WithConnectivity(c Connectivity) Option { return func(p *Policy) { p.conn = c } }

func WithClock(now func() time.Time) Option { return func(p *Policy) { p.now = now } }

func WithRingSize(n int) Option { return func(p *Policy) { p.ring = NewRing(n) } }

// WithSleep replaces the backoff wait; tests pass one that returns immediately.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) { p.sleep = sleep }
}

func WithRule(c Category, r Rule) Option { return func(p *Policy) { p.rules[c] = r } }

func WithFallback(c Category, fb Fallback) Option { return func(p *Policy) { p.fallbacks[c] = fb } }

// NewPolicy creates a [Policy] with the default table and fallbacks.
func NewPolicy(pub events.Publisher, opts ...Option) *Policy {
	if pub == nil {
		pub = events.Discard
	}
	root, cancel := context.WithCancel(context.Background())
	p := &Policy{
		rules:        DefaultRules(),
		fallbacks:    defaultFallbacks(),
		pub:          pub,
		logger:       log.New(io.Discard),
		ring:         NewRing(100),
		now:          time.Now,
		sleep:        sleepCtx,
		replayWindow: time.Minute,
		root:         root,
		cancel:       cancel,
		states:       make(map[string]*retryState),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle reports whether err was recovered; false means the caller must apply its permanent fallback.
// It never panics or returns an error.
func (p *Policy) Handle(ctx context.Context, err error, c Context) bool {
	return p.Resolve(ctx, err, c).Recovered
}

// Resolve is [Policy.Handle] with the full [Outcome].
//
// Concurrent failures on the same (category, origin) key share a single retry run.
func (p *Policy) Resolve(ctx context.Context, err error, c Context) Outcome {
	if err == nil {
		return Outcome{Recovered: true}
	}

	cat := c.Category
	if cat == Infer {
		cat = Classify(err)
	}
	origin := c.origin()
	key := retryKey(cat, origin)
	p.record(cat, origin, key, err, c.Retry)

	if p.root.Err() != nil {
		return Outcome{Category: cat}
	}

	out, _, runErr := p.runs.Do(ctx, key, func(detached context.Context) (Outcome, error) {
		runCtx, cancel := context.WithCancel(detached)
		defer cancel()
		stop := context.AfterFunc(p.root, cancel)
		defer stop()

		return p.run(runCtx, cat, key, origin, err, c.Retry), nil
	})
	if runErr != nil {
		return Outcome{Category: cat}
	}
	return out
}

func (p *Policy) run(ctx context.Context, cat Category, key, origin string, err error, retry RetryFunc) Outcome {
	rule := p.rules[cat]
	out := Outcome{Category: cat}

	if p.isExhausted(key) || retry == nil {
		out.Fallback = p.runFallback(ctx, Failure{Category: cat, Origin: origin, Err: err})
		return out
	}

	for {
		n, delay, ok := p.nextAttempt(key, rule)
		if !ok {
			break
		}
		out.Retries = n

		p.logger.Warn("retrying", "category", cat, "origin", origin, "attempt", n, "delay", delay, "err", err)
		metrics.RecordRetry(cat.String())
		p.pub.Publish(events.Notification{
			Category:   cat.String(),
			Kind:       KindRetry,
			Resource:   origin,
			Message:    fmt.Sprintf("retrying %s (attempt %d of %d)", origin, n, rule.MaxRetries),
			RetryCount: n,
		})

		if err := p.sleep(ctx, delay); err != nil {
			return out
		}

		if err = retry(ctx); err == nil {
			p.clear(key)
			metrics.RecordRecovered(cat.String())
			p.pub.Publish(events.Notification{
				Category:   cat.String(),
				Kind:       KindRecovered,
				Resource:   origin,
				Message:    fmt.Sprintf("%s recovered", origin),
				RetryCount: n,
			})
			out.Recovered = true
			return out
		}
		if ctx.Err() != nil {
			return out
		}
		p.record(cat, origin, key, err, retry)
	}

	p.markExhausted(key)
	out.Fallback = p.runFallback(ctx, Failure{Category: cat, Origin: origin, Err: err, Retries: out.Retries})
	return out
}

func (p *Policy) runFallback(ctx context.Context, f Failure) *FallbackResult {
	res := p.safeFallback(ctx, f)

	p.logger.Error("recovery exhausted", "category", f.Category, "origin", f.Origin, "retries", f.Retries, "fallback", res.Message, "err", f.Err)
	metrics.RecordFallback(f.Category.String(), res.OK)
	p.pub.Publish(events.Notification{
		Category:   f.Category.String(),
		Kind:       KindFallback,
		Resource:   f.Origin,
		Message:    res.Message,
		RetryCount: f.Retries,
	})

	if f.Category == Network {
		p.watchOnce.Do(p.watchConnectivity)
	}
	return &res
}

func (p *Policy) safeFallback(ctx context.Context, f Failure) (res FallbackResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("fallback panicked", "category", f.Category, "origin", f.Origin, "panic", r)
			res = FallbackResult{Message: fmt.Sprintf("fallback for %s failed", f.Origin)}
		}
	}()

	fb, ok := p.fallbacks[f.Category]
	if !ok || fb == nil {
		return FallbackResult{Message: fmt.Sprintf("%s failed", f.Origin)}
	}
	return fb(ctx, f)
}

// nextAttempt reserves the next retry slot for key, if the budget allows one.
func (p *Policy) nextAttempt(key string, rule Rule) (n int, delay time.Duration, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.stateLocked(key)
	if st.attempts >= rule.MaxRetries {
		return 0, 0, false
	}
	st.attempts++
	st.lastDelay = rule.Delay(st.attempts)
	return st.attempts, st.lastDelay, true
}

func (p *Policy) stateLocked(key string) *retryState {
	st, ok := p.states[key]
	if !ok {
		st = &retryState{}
		p.states[key] = st
	}
	return st
}

func (p *Policy) isExhausted(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[key]
	return ok && st.exhausted
}

func (p *Policy) markExhausted(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[key] = &retryState{exhausted: true}
}

func (p *Policy) clear(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.states, key)
}

// Reset forgets retry state for (c, origin) so the next failure gets a fresh budget.
func (p *Policy) Reset(c Category, origin string) {
	p.clear(retryKey(c, origin))
}

// State reports the retry counter and exhaustion flag for (c, origin).
func (p *Policy) State(c Category, origin string) (attempts int, exhausted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[retryKey(c, origin)]; ok {
		return st.attempts, st.exhausted
	}
	return 0, false
}

// Records returns the error ring oldest first.
func (p *Policy) Records() []ErrorRecord {
	return p.ring.Snapshot()
}

func (p *Policy) record(cat Category, origin, key string, err error, retry RetryFunc) {
	online := true
	if p.conn != nil {
		online = p.conn.Online()
	}
	p.ring.Add(ErrorRecord{
		ID:       shared.GenerateID(),
		Time:     p.now(),
		Category: cat,
		Origin:   origin,
		Err:      err,
		Online:   online,
		key:      key,
		retry:    retry,
	})
}

func (p *Policy) watchConnectivity() {
	if p.conn == nil {
		return
	}
	ch := p.conn.Watch(p.root)
	last := p.conn.Online()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for online := range ch {
			if online && !last {
				p.replay()
			}
			last = online
		}
	}()
}

// replay re-attempts, once per key, every replayable Network record inside the replay window.
func (p *Policy) replay() {
	recent := p.ring.Since(Network, p.now().Add(-p.replayWindow))

	latest := make(map[string]ErrorRecord)
	for _, rec := range recent {
		if rec.Replayable() {
			latest[rec.key] = rec
		}
	}
	p.logger.Info("connection restored, replaying", "records", len(latest))

	for key, rec := range latest {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := rec.retry(p.root); err != nil {
				p.logger.Debug("replay failed", "origin", rec.Origin, "err", err)
				return
			}
			p.clear(key)
			metrics.RecordRecovered(Network.String())
			p.pub.Publish(events.Notification{
				Category: Network.String(),
				Kind:     KindRecovered,
				Resource: rec.Origin,
				Message:  fmt.Sprintf("%s recovered after reconnect", rec.Origin),
			})
		}()
	}
}

// Teardown cancels pending backoff waits and network replays and waits for them to exit.
func (p *Policy) Teardown() {
	p.cancel()
	p.wg.Wait()
}

func retryKey(c Category, origin string) string {
	return c.String() + ":" + origin
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
