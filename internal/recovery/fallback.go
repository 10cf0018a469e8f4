package recovery

import (
	"context"
	"fmt"
)

// Failure describes an exhausted key handed to a [Fallback].
type Failure struct {
	Category Category
	Origin   string
	Err      error
	Retries  int
}

// FallbackResult is the outcome of a degraded terminal action.
type FallbackResult struct {
	OK      bool
	Message string
}

// Fallback runs once per exhaustion. Panics are recovered by the policy.
type Fallback func(ctx context.Context, f Failure) FallbackResult

func defaultFallbacks() map[Category]Fallback {
	return map[Category]Fallback{
		Network: func(_ context.Context, f Failure) FallbackResult {
			return FallbackResult{Message: fmt.Sprintf("offline: %s will be retried when the connection returns", f.Origin)}
		},
		Audio: func(_ context.Context, f Failure) FallbackResult {
			return FallbackResult{Message: fmt.Sprintf("%s is unavailable", f.Origin)}
		},
		UI: func(context.Context, Failure) FallbackResult {
			return FallbackResult{OK: true, Message: "running with reduced functionality"}
		},
		Skeleton: func(_ context.Context, f Failure) FallbackResult {
			return FallbackResult{OK: true, Message: fmt.Sprintf("skipped %s", f.Origin)}
		},
	}
}
