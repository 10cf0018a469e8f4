package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/ambi/internal/session"
)

var _ list.Item = soundItem{}

// soundItem wraps [session.SoundView] to implement [list.Item].
type soundItem struct {
	sound session.SoundView
}

func (i soundItem) FilterValue() string { return i.sound.Name }
func (i soundItem) Title() string {
	title := i.sound.Display
	if i.sound.Icon != "" {
		title = i.sound.Icon + " " + title
	}
	if i.sound.Play == "playing" {
		title = styles.ok.Render(title)
	}
	return title
}
func (i soundItem) Description() string {
	if i.sound.Disabled {
		return styles.err.Render("unavailable")
	}
	desc := fmt.Sprintf("%s • %d%%", i.sound.Play, int(i.sound.Volume*100+0.5))
	if i.sound.Load == "loading" || i.sound.Load == "retrying" {
		desc = fmt.Sprintf("%s • %s", desc, i.sound.Load)
	}
	if i.sound.Local {
		desc += " • local file"
	}
	return desc
}

func soundItems(sounds []session.SoundView) []list.Item {
	items := make([]list.Item, len(sounds))
	for i, s := range sounds {
		items[i] = soundItem{sound: s}
	}
	return items
}
