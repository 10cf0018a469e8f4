// Package ui implements the interactive mixer using bubbletea's Elm architecture.
//
// The [Model] has two views:
//  1. [LoadingView] : per-phase progress bars while the blocking startup phases run
//  2. [MixerView] : the active mode's sounds with play state, volume and the sleep timer
//
// Session events arrive through a subscription channel that a command re-arms after every message,
// so the render loop never blocks on the engine.
package ui
