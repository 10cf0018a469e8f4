package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the mixer.
type keyMap struct {
	up         key.Binding
	down       key.Binding
	toggle     key.Binding
	louder     key.Binding
	quieter    key.Binding
	masterUp   key.Binding
	masterDown key.Binding
	timer      key.Binding
	stopAll    key.Binding
	mode       key.Binding
	quit       key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		up:         key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		down:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		toggle:     key.NewBinding(key.WithKeys("enter", " ", "space"), key.WithHelp("enter", "play/stop")),
		louder:     key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "louder")),
		quieter:    key.NewBinding(key.WithKeys("-", "_"), key.WithHelp("-", "quieter")),
		masterUp:   key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "master up")),
		masterDown: key.NewBinding(key.WithKeys("["), key.WithHelp("[", "master down")),
		timer:      key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "sleep timer")),
		stopAll:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop all")),
		mode:       key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "next mode")),
		quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.toggle, k.louder, k.quieter, k.timer, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.up, k.down, k.toggle},
		{k.louder, k.quieter, k.masterUp, k.masterDown},
		{k.timer, k.stopAll, k.mode, k.quit},
	}
}
