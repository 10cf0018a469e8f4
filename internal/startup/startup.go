package startup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/ambi/internal/events"
	"github.com/desertthunder/ambi/internal/metrics"
	"github.com/desertthunder/ambi/internal/recovery"
	"github.com/desertthunder/ambi/internal/shared"
)

var ErrAlreadyRunning = fmt.Errorf("startup %w", shared.ErrAlreadyRunning)

// Loader is the narrow slice of the playback engine the orchestrator drives.
type Loader interface {
	EnsureLoaded(ctx context.Context, name string) error
	Prebuffer(ctx context.Context, name string) error
	Available(name string) bool
}

// Recoverer is the part of the recovery policy phase failures are handed to.
type Recoverer interface {
	Handle(ctx context.Context, err error, c recovery.Context) bool
	Reset(c recovery.Category, origin string)
	Records() []recovery.ErrorRecord
}

// Options describes one startup run.
type Options struct {
	// Units are the externally supplied work units per phase, run in order.
	Units map[Phase][]Unit

	Loader Loader
	// WarmStart lists the names checked for availability at the end of Interactive. It is
	// called when the check runs, so earlier phases may have loaded the saved state it reads.
	WarmStart func() []string
	// Prefetch lists the names prebuffered during Background, paced by PrefetchRate per second.
	Prefetch     func() []string
	PrefetchRate float64

	// Progress is called synchronously after every unit, on the goroutine running the phase, so
	// Background updates arrive after StartLoading has returned. Nil discards.
	Progress func(events.Progress)
	// OnComplete is called once with the final summary after Background settles.
	OnComplete func(Summary)
}

// Summary reports a run. A summary returned by StartLoading has Background and OnDemand still
// pending; the one from Wait is final.
type Summary struct {
	Phases      []PhaseResult
	Errors      []recovery.ErrorRecord
	Unavailable []string
	Duration    time.Duration
	Final       bool
}

// Result returns the entry for p.
func (s Summary) Result(p Phase) PhaseResult {
	for _, r := range s.Phases {
		if r.Phase == p {
			return r
		}
	}
	return PhaseResult{Phase: p}
}

// Event converts s for the event bus.
func (s Summary) Event() events.StartupComplete {
	out := events.StartupComplete{Duration: s.Duration}
	for _, r := range s.Phases {
		row := events.PhaseSummary{
			Phase:     r.Phase.String(),
			Status:    r.Status.String(),
			Recovered: r.Recovered,
			Duration:  r.Duration,
		}
		if r.Err != nil {
			row.Err = r.Err.Error()
		}
		out.Phases = append(out.Phases, row)
	}
	return out
}

// Orchestrator sequences the startup phases.
type Orchestrator struct {
	policy Recoverer
	pub    events.Publisher
	logger *log.Logger
	now    func() time.Time

	mu          sync.Mutex
	results     map[Phase]*PhaseResult
	unavailable []string
	started     time.Time
	running     bool
	done        chan struct{}
	final       Summary
}

// New creates an [Orchestrator]. A nil pub discards events.
func New(policy Recoverer, pub events.Publisher, logger *log.Logger) *Orchestrator {
	if pub == nil {
		pub = events.Discard
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	o := &Orchestrator{policy: policy, pub: pub, logger: logger, now: time.Now}
	o.reset()
	return o
}

func (o *Orchestrator) reset() {
	o.results = make(map[Phase]*PhaseResult, len(Phases))
	for _, p := range Phases {
		o.results[p] = &PhaseResult{Phase: p}
	}
	o.unavailable = nil
}

// StartLoading runs Skeleton, BasicUI and Interactive in order, launches Background without
// waiting for it and returns. A phase failure never stops the next phase from running.
//
// It may be called again only after the previous run has fully settled; every phase then
// starts over from Pending.
func (o *Orchestrator) StartLoading(ctx context.Context, opts Options) (Summary, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return Summary{}, ErrAlreadyRunning
	}
	o.running = true
	o.reset()
	o.started = o.now()
	done := make(chan struct{})
	o.done = done
	o.mu.Unlock()

	o.forgetRetries()

	for _, p := range []Phase{Skeleton, BasicUI, Interactive} {
		units := opts.Units[p]
		if p == Interactive && opts.Loader != nil && opts.WarmStart != nil {
			units = append(units[:len(units):len(units)], o.warmStartUnit(opts))
		}
		o.runBlocking(ctx, p, units, opts.Progress)
	}
	blocking := o.summary(false)

	if err := ctx.Err(); err != nil {
		o.abandon(Background, err)
		o.abandon(OnDemand, err)
		o.finish(done, opts)
		return blocking, err
	}

	go func() {
		units := opts.Units[Background]
		if opts.Loader != nil && opts.Prefetch != nil {
			units = append(units[:len(units):len(units)], o.prefetchUnit(opts))
		}
		o.runBackground(ctx, units, opts.Progress)

		// lazy loading is live from here on
		o.move(OnDemand, Running)
		o.settle(OnDemand, nil, false, 0)
		o.finish(done, opts)
	}()

	return blocking, nil
}

// Wait blocks until the current run settles and returns its final summary.
func (o *Orchestrator) Wait(ctx context.Context) (Summary, error) {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done == nil {
		return Summary{}, nil
	}

	select {
	case <-done:
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.final, nil
}

// Status returns the current status of p.
func (o *Orchestrator) Status(p Phase) Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.results[p]; ok {
		return r.Status
	}
	return Pending
}

// Running reports whether a run is in progress.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) runBlocking(ctx context.Context, p Phase, units []Unit, progress func(events.Progress)) {
	if !o.move(p, Running) {
		return
	}
	began := o.now()

	err := o.runUnits(ctx, p, units, progress)
	if err == nil {
		o.settle(p, nil, false, o.now().Sub(began))
		return
	}

	o.logger.Warn("phase failed", "phase", p, "err", err)
	if ctx.Err() != nil {
		o.settle(p, err, false, o.now().Sub(began))
		return
	}
	cat := recovery.Infer
	if p == Skeleton {
		cat = recovery.Skeleton
	}
	recovered := o.policy.Handle(ctx, err, recovery.Context{
		Category: cat,
		Phase:    p.String(),
		Retry: func(ctx context.Context) error {
			return o.runUnits(ctx, p, units, progress)
		},
	})
	if recovered {
		o.settle(p, nil, true, o.now().Sub(began))
		return
	}
	o.settle(p, err, false, o.now().Sub(began))
}

// runBackground runs every unit even when one fails; failures are logged only.
func (o *Orchestrator) runBackground(ctx context.Context, units []Unit, progress func(events.Progress)) {
	if !o.move(Background, Running) {
		return
	}
	began := o.now()

	var (
		total = totalWeight(units)
		doneW float64
		errs  []error
	)
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := o.runUnit(ctx, u); err != nil {
			o.logger.Warn("background work failed", "unit", u.Name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", u.Name, err))
		}
		doneW += u.weight()
		o.sendProgress(progress, events.Progress{Phase: Background.String(), Percent: percent(doneW, total), Message: u.message()})
	}
	if len(units) == 0 {
		o.sendProgress(progress, events.Progress{Phase: Background.String(), Percent: 100})
	}

	o.settle(Background, errors.Join(errs...), false, o.now().Sub(began))
}

// runUnits runs units in order and stops at the first failure.
func (o *Orchestrator) runUnits(ctx context.Context, p Phase, units []Unit, progress func(events.Progress)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	total := totalWeight(units)
	var doneW float64
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.runUnit(ctx, u); err != nil {
			return fmt.Errorf("%s: %w", u.Name, err)
		}
		doneW += u.weight()
		o.sendProgress(progress, events.Progress{Phase: p.String(), Percent: percent(doneW, total), Message: u.message()})
	}
	if len(units) == 0 {
		o.sendProgress(progress, events.Progress{Phase: p.String(), Percent: 100})
	}
	return nil
}

// runUnit converts a panicking unit into an error.
func (o *Orchestrator) runUnit(ctx context.Context, u Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if u.Run == nil {
		return nil
	}
	return u.Run(ctx)
}

// sendProgress publishes update on the bus and hands it to the caller's sink.
func (o *Orchestrator) sendProgress(progress func(events.Progress), update events.Progress) {
	o.pub.Publish(update)
	if progress != nil {
		progress(update)
	}
}

func (o *Orchestrator) move(p Phase, to Status) bool {
	o.mu.Lock()
	r := o.results[p]
	if !canMove(r.Status, to) {
		o.mu.Unlock()
		o.logger.Error("invalid phase transition", "phase", p, "from", r.Status, "to", to)
		return false
	}
	r.Status = to
	o.mu.Unlock()

	o.pub.Publish(events.PhaseChanged{Phase: p.String(), Status: to.String()})
	return true
}

func (o *Orchestrator) settle(p Phase, err error, recovered bool, d time.Duration) {
	status := Completed
	if err != nil {
		status = Failed
	}

	o.mu.Lock()
	r := o.results[p]
	if !canMove(r.Status, status) {
		o.mu.Unlock()
		return
	}
	r.Status, r.Err, r.Recovered, r.Duration = status, err, recovered, d
	o.mu.Unlock()

	metrics.ObservePhase(p.String(), status.String(), d)
	o.logger.Debug("phase settled", "phase", p, "status", status, "recovered", recovered, "took", d)
	o.pub.Publish(events.PhaseChanged{Phase: p.String(), Status: status.String(), Recovered: recovered, Err: err})
}

// abandon fails a phase that never got to run.
func (o *Orchestrator) abandon(p Phase, err error) {
	if o.move(p, Running) {
		o.settle(p, err, false, 0)
	}
}

func (o *Orchestrator) finish(done chan struct{}, opts Options) {
	final := o.summary(true)

	o.mu.Lock()
	o.final = final
	o.running = false
	o.mu.Unlock()

	o.logger.Info("startup complete", "took", final.Duration, "errors", len(final.Errors))
	o.pub.Publish(final.Event())
	if opts.OnComplete != nil {
		opts.OnComplete(final)
	}
	close(done)
}

func (o *Orchestrator) summary(final bool) Summary {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Summary{
		Unavailable: append([]string(nil), o.unavailable...),
		Duration:    o.now().Sub(o.started),
		Final:       final,
	}
	for _, p := range Phases {
		s.Phases = append(s.Phases, *o.results[p])
	}
	for _, rec := range o.policy.Records() {
		if !rec.Time.Before(o.started) {
			s.Errors = append(s.Errors, rec)
		}
	}
	return s
}

// forgetRetries gives every phase a fresh retry budget for a new run.
func (o *Orchestrator) forgetRetries() {
	for _, p := range Phases {
		for _, c := range []recovery.Category{recovery.Network, recovery.Audio, recovery.UI, recovery.Skeleton} {
			o.policy.Reset(c, p.String())
		}
	}
}

// warmStartUnit checks that the sounds restored at startup can be attempted. Unavailable
// names are dropped from the prefetch list and reported in the summary.
func (o *Orchestrator) warmStartUnit(opts Options) Unit {
	return Unit{
		Name:    "warm-start",
		Message: "checking saved sounds",
		Run: func(context.Context) error {
			var missing []string
			for _, name := range opts.WarmStart() {
				if !opts.Loader.Available(name) {
					missing = append(missing, name)
				}
			}
			if len(missing) > 0 {
				o.logger.Warn("saved sounds unavailable", "names", missing)
			}
			o.mu.Lock()
			o.unavailable = missing
			o.mu.Unlock()
			return nil
		},
	}
}

// prefetchUnit prebuffers the prefetch list at a bounded rate.
func (o *Orchestrator) prefetchUnit(opts Options) Unit {
	return Unit{
		Name:    "prefetch",
		Weight:  2,
		Message: "prefetching sounds",
		Run: func(ctx context.Context) error {
			limit := rate.Inf
			if opts.PrefetchRate > 0 {
				limit = rate.Limit(opts.PrefetchRate)
			}
			limiter := rate.NewLimiter(limit, 1)

			o.mu.Lock()
			skip := make(map[string]bool, len(o.unavailable))
			for _, name := range o.unavailable {
				skip[name] = true
			}
			o.mu.Unlock()

			var errs []error
			for _, name := range opts.Prefetch() {
				if skip[name] {
					continue
				}
				if err := limiter.Wait(ctx); err != nil {
					return errors.Join(append(errs, err)...)
				}
				if err := opts.Loader.Prebuffer(ctx, name); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
				}
			}
			return errors.Join(errs...)
		},
	}
}

func totalWeight(units []Unit) float64 {
	var t float64
	for _, u := range units {
		t += u.weight()
	}
	return t
}

func percent(done, total float64) float64 {
	if total <= 0 {
		return 100
	}
	return min(done/total*100, 100)
}
