// Package events carries typed notifications between the engine, the policy, the orchestrator and
// whatever surface is rendering them.
package events

import (
	"time"
)

// Event is anything published on a [Bus].
type Event interface {
	Topic() string
}

// Progress reports a weighted phase percentage after each work unit.
type Progress struct {
	Phase   string
	Percent float64
	Message string
}

// PhaseChanged reports a phase status transition.
type PhaseChanged struct {
	Phase     string
	Status    string
	Recovered bool
	Err       error
}

// SourceState mirrors the observable state of one audio source.
type SourceState struct {
	Name     string
	Backend  string
	Load     string
	Play     string
	Volume   float64
	Disabled bool
}

// Notification is the user-facing outcome of the recovery policy or a playback failure.
type Notification struct {
	Category   string
	Kind       string // retry, recovered, fallback or failed
	Resource   string
	Message    string
	RetryCount int
}

// ControlDisabled marks one sound's control unusable after its recovery was exhausted.
type ControlDisabled struct {
	Name   string
	Reason string
}

// Connectivity reports an online/offline transition.
type Connectivity struct {
	Online bool
}

// PhaseSummary is one row of a [StartupComplete].
type PhaseSummary struct {
	Phase     string
	Status    string
	Recovered bool
	Err       string
	Duration  time.Duration
}

// StartupComplete is published once after the background phase settles.
type StartupComplete struct {
	Phases   []PhaseSummary
	Duration time.Duration
}

// TimerFired is published when a sleep timer stops playback.
type TimerFired struct {
	After time.Duration
}

func (Progress) Topic() string        { return "progress" }
func (PhaseChanged) Topic() string    { return "phase" }
func (SourceState) Topic() string     { return "source" }
func (Notification) Topic() string    { return "notification" }
func (ControlDisabled) Topic() string { return "control" }
func (Connectivity) Topic() string    { return "connectivity" }
func (StartupComplete) Topic() string { return "startup" }
func (TimerFired) Topic() string      { return "timer" }
