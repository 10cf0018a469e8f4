package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/ambi/internal/events"
	"github.com/desertthunder/ambi/internal/startup"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgEvent MsgKind = iota
	MsgEventsClosed
	MsgStarted
	MsgToggled
	MsgTick
)

// eventMsg is the constructor for [MsgEvent]
func eventMsg(e events.Event) Msg {
	return Msg{kind: MsgEvent, data: e}
}

func eventsClosedMsg() Msg {
	return Msg{kind: MsgEventsClosed}
}

// startedMsg is the constructor for [MsgStarted], sent once the blocking phases return.
func startedMsg(summary startup.Summary, err error) Msg {
	return Msg{
		kind: MsgStarted,
		data: struct {
			summary startup.Summary
			err     error
		}{summary, err},
	}
}

// toggledMsg is the constructor for [MsgToggled]
func toggledMsg(name string, ok bool) Msg {
	return Msg{
		kind: MsgToggled,
		data: struct {
			name string
			ok   bool
		}{name, ok},
	}
}

func tickMsg() Msg {
	return Msg{kind: MsgTick}
}
