// Package flight de-duplicates concurrent work per key and races work against a deadline.
package flight

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrTimeout is returned by [Race] when the deadline wins.
var ErrTimeout = errors.New("timeout")

// Group runs at most one call per key at a time; concurrent callers for the same key share its result.
//
// The shared call runs on a context detached from the callers, so a caller that gives up
// does not cancel work other callers are still waiting for.
type Group[T any] struct {
	sf   singleflight.Group
	mu   sync.Mutex
	live map[string]struct{}
}

// Do runs fn once for key while a call is in flight. shared reports whether the result
// was delivered to more than one caller.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (v T, shared bool, err error) {
	detached := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(key, func() (any, error) {
		g.mark(key, true)
		defer g.mark(key, false)
		return fn(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// InFlight reports whether a call for key is currently running.
func (g *Group[T]) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.live[key]
	return ok
}

// Forget drops key so the next Do starts a fresh call even if one is still running.
func (g *Group[T]) Forget(key string) {
	g.sf.Forget(key)
}

func (g *Group[T]) mark(key string, on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.live == nil {
		g.live = make(map[string]struct{})
	}
	if on {
		g.live[key] = struct{}{}
	} else {
		delete(g.live, key)
	}
}

// Race runs fn against a timer; whichever settles first wins. A result arriving after the
// deadline is discarded. fn's context is cancelled when Race returns.
func Race[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.v, r.err
	case <-timer.C:
		return zero, fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
