// Package startup sequences application startup into weighted phases.
//
// Skeleton, BasicUI and Interactive run one after another and block [Orchestrator.StartLoading].
// Background runs after it returns; OnDemand completes when Background settles and marks the point
// from which sounds load lazily on first use.
//
// A failing blocking phase is handed to the recovery policy with a retry that re-runs the whole
// phase. Recovered phases complete with Recovered set; the rest fail, and the next phase runs anyway.
// Background failures are only logged.
//
// Progress is published after every unit as an [events.Progress] whose percentage is the share of
// the phase's unit weight completed so far.
package startup
