// Package recovery implements the table-driven error classification, retry and fallback policy
// shared by the playback engine and the startup orchestrator.
package recovery

import (
	"time"
)

// Category is the failure taxonomy the policy table is keyed by.
type Category int

const (
	// Infer asks the policy to classify the error itself.
	Infer Category = iota
	Network
	Audio
	UI
	Skeleton
)

func (c Category) String() string {
	switch c {
	case Network:
		return "network"
	case Audio:
		return "audio"
	case UI:
		return "ui"
	case Skeleton:
		return "skeleton"
	default:
		return "infer"
	}
}

// Backoff is the delay growth between retries.
type Backoff int

const (
	Immediate Backoff = iota
	Linear
	Exponential
)

// Rule is one row of the policy table.
type Rule struct {
	MaxRetries int
	Backoff    Backoff
	Base       time.Duration
	Cap        time.Duration
}

// Delay returns the wait before retry n (1-based).
func (r Rule) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}

	var d time.Duration
	switch r.Backoff {
	case Exponential:
		d = r.Base << n
	case Linear:
		d = r.Base * time.Duration(n)
	default:
		return 0
	}
	if r.Cap > 0 && (d > r.Cap || d < 0) {
		d = r.Cap
	}
	return d
}

// DefaultRules returns the fixed policy table.
func DefaultRules() map[Category]Rule {
	return map[Category]Rule{
		Network:  {MaxRetries: 3, Backoff: Exponential, Base: time.Second, Cap: 10 * time.Second},
		Audio:    {MaxRetries: 2, Backoff: Linear, Base: 2 * time.Second, Cap: 8 * time.Second},
		UI:       {MaxRetries: 1, Backoff: Immediate},
		Skeleton: {MaxRetries: 0, Backoff: Immediate},
	}
}
