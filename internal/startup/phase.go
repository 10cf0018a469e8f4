package startup

import (
	"context"
	"time"
)

// Phase is one ordered stage of the startup sequence.
type Phase int

const (
	Skeleton Phase = iota
	BasicUI
	Interactive
	Background
	OnDemand
)

// Phases lists every phase in execution order.
var Phases = []Phase{Skeleton, BasicUI, Interactive, Background, OnDemand}

func (p Phase) String() string {
	switch p {
	case Skeleton:
		return "skeleton"
	case BasicUI:
		return "basic_ui"
	case Interactive:
		return "interactive"
	case Background:
		return "background"
	case OnDemand:
		return "on_demand"
	default:
		return "unknown"
	}
}

// Blocking reports whether StartLoading waits for the phase.
func (p Phase) Blocking() bool { return p <= Interactive }

// Status is a phase's position in Pending → Running → {Completed | Failed}.
type Status int

const (
	Pending Status = iota
	Running
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Settled reports whether s is terminal.
func (s Status) Settled() bool { return s == Completed || s == Failed }

// canMove enforces the forward-only status machine.
func canMove(from, to Status) bool {
	switch from {
	case Pending:
		return to == Running
	case Running:
		return to == Completed || to == Failed
	default:
		return false
	}
}

// Unit is a named, weighted piece of phase work.
type Unit struct {
	Name    string
	Weight  float64 // relative share of the phase; <= 0 counts as 1
	Message string  // shown while the unit runs; defaults to Name
	Run     func(ctx context.Context) error
}

func (u Unit) weight() float64 {
	if u.Weight <= 0 {
		return 1
	}
	return u.Weight
}

func (u Unit) message() string {
	if u.Message != "" {
		return u.Message
	}
	return u.Name
}

// PhaseResult is the settled outcome of one phase.
type PhaseResult struct {
	Phase     Phase
	Status    Status
	Recovered bool
	Err       error
	Duration  time.Duration
}
