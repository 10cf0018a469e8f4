package ui

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/ambi/internal/events"
	"github.com/desertthunder/ambi/internal/session"
	"github.com/desertthunder/ambi/internal/startup"
)

const (
	volumeStep = 0.1
	tickEvery  = time.Second
)

var timerPresets = []time.Duration{15 * time.Minute, 30 * time.Minute, time.Hour}

// ViewState represents the current view in the TUI.
type ViewState int

const (
	LoadingView ViewState = iota
	MixerView
)

// Mixer is the part of a session the TUI drives.
type Mixer interface {
	Sounds() []session.SoundView
	Status() session.Status
	Toggle(ctx context.Context, name string) bool
	SetVolume(name string, v float64) error
	SetMasterVolume(v float64)
	StopAll()
	Mode() string
	Modes() []string
	SetMode(mode string) error
	StartTimer(d time.Duration)
	CancelTimer() bool
	TimerRemaining() (time.Duration, bool)
}

// StartFunc runs the blocking startup phases.
type StartFunc func(ctx context.Context) (startup.Summary, error)

// Model represents the TUI application state.
type Model struct {
	ctx      context.Context
	view     ViewState
	mixer    Mixer
	events   <-chan events.Event
	start    StartFunc
	width    int
	height   int
	sounds   list.Model
	bar      progress.Model
	percent  map[string]float64
	phases   map[string]string
	message  string
	notice   string
	online   bool
	master   float64
	timer    time.Duration
	timerIdx int
	done     bool
	err      error
	help     help.Model
	keys     keyMap
}

// NewModel creates a TUI model; sub should be subscribed before start runs so no progress is missed.
func NewModel(ctx context.Context, mixer Mixer, sub <-chan events.Event, start StartFunc) *Model {
	sounds := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	sounds.SetFilteringEnabled(false)
	sounds.SetShowHelp(false)
	sounds.DisableQuitKeybindings()

	return &Model{
		ctx:      ctx,
		view:     LoadingView,
		mixer:    mixer,
		events:   sub,
		start:    start,
		sounds:   sounds,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		percent:  make(map[string]float64),
		phases:   make(map[string]string),
		online:   true,
		timerIdx: -1,
		help:     help.New(),
		keys:     newKeyMap(),
	}
}

// Init starts the blocking phases and begins listening for session events.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.runStartup(), m.waitForEvent(), tick())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.sounds.SetSize(msg.Width-4, msg.Height-10)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.quit) {
			return m, tea.Quit
		}
		if m.view == MixerView {
			return m.handleMixerKeys(msg)
		}
		return m, nil

	case Msg:
		return m.handleMsg(msg)
	}

	return m, nil
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgEvent:
		m.apply(msg.data.(events.Event))
		return m, m.waitForEvent()

	case MsgEventsClosed:
		m.events = nil
		return m, nil

	case MsgStarted:
		res := msg.data.(struct {
			summary startup.Summary
			err     error
		})
		m.err = res.err
		for _, r := range res.summary.Phases {
			m.phases[r.Phase.String()] = r.Status.String()
		}
		m.view = MixerView
		m.refresh()
		return m, nil

	case MsgToggled:
		res := msg.data.(struct {
			name string
			ok   bool
		})
		if !res.ok {
			m.notice = fmt.Sprintf("%s could not start", res.name)
		}
		m.refresh()
		return m, nil

	case MsgTick:
		m.timer, _ = m.mixer.TimerRemaining()
		if m.timer == 0 {
			m.timerIdx = -1
		}
		return m, tick()
	}
	return m, nil
}

// apply folds one session event into the model.
func (m *Model) apply(e events.Event) {
	switch e := e.(type) {
	case events.Progress:
		m.percent[e.Phase] = e.Percent
		m.message = e.Message
	case events.PhaseChanged:
		m.phases[e.Phase] = e.Status
	case events.SourceState:
		m.refresh()
	case events.ControlDisabled:
		m.notice = fmt.Sprintf("%s disabled: %s", e.Name, e.Reason)
		m.refresh()
	case events.Notification:
		m.notice = notification(e)
	case events.Connectivity:
		m.online = e.Online
	case events.StartupComplete:
		m.done = true
	case events.TimerFired:
		m.notice = fmt.Sprintf("sleep timer stopped playback after %s", e.After)
		m.timer, m.timerIdx = 0, -1
		m.refresh()
	}
}

func notification(n events.Notification) string {
	switch n.Kind {
	case "retry":
		return fmt.Sprintf("%s: retrying %s (%d)", n.Category, n.Resource, n.RetryCount)
	case "recovered":
		return fmt.Sprintf("%s: %s recovered", n.Category, n.Resource)
	default:
		if n.Message != "" {
			return n.Message
		}
		return fmt.Sprintf("%s: %s %s", n.Category, n.Resource, n.Kind)
	}
}

func (m *Model) handleMixerKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.toggle):
		if s, ok := m.selected(); ok {
			return m, m.toggle(s.Name)
		}
		return m, nil
	case key.Matches(msg, m.keys.louder):
		m.nudge(volumeStep)
	case key.Matches(msg, m.keys.quieter):
		m.nudge(-volumeStep)
	case key.Matches(msg, m.keys.masterUp):
		m.mixer.SetMasterVolume(clamp(m.master + volumeStep))
	case key.Matches(msg, m.keys.masterDown):
		m.mixer.SetMasterVolume(clamp(m.master - volumeStep))
	case key.Matches(msg, m.keys.stopAll):
		m.mixer.StopAll()
	case key.Matches(msg, m.keys.timer):
		m.cycleTimer()
	case key.Matches(msg, m.keys.mode):
		m.nextMode()
	default:
		var cmd tea.Cmd
		m.sounds, cmd = m.sounds.Update(msg)
		return m, cmd
	}
	m.refresh()
	return m, nil
}

func (m *Model) selected() (session.SoundView, bool) {
	item, ok := m.sounds.SelectedItem().(soundItem)
	if !ok {
		return session.SoundView{}, false
	}
	return item.sound, true
}

// toggle plays or stops name off the update loop; loads can take seconds.
func (m *Model) toggle(name string) tea.Cmd {
	return func() tea.Msg {
		return toggledMsg(name, m.mixer.Toggle(m.ctx, name))
	}
}

func (m *Model) nudge(delta float64) {
	s, ok := m.selected()
	if !ok || s.Disabled {
		return
	}
	if err := m.mixer.SetVolume(s.Name, clamp(s.Volume+delta)); err != nil {
		m.notice = err.Error()
	}
}

// cycleTimer steps through the presets and then off.
func (m *Model) cycleTimer() {
	m.timerIdx++
	if m.timerIdx >= len(timerPresets) {
		m.mixer.CancelTimer()
		m.timerIdx, m.timer = -1, 0
		m.notice = "sleep timer off"
		return
	}
	d := timerPresets[m.timerIdx]
	m.mixer.StartTimer(d)
	m.timer = d
	m.notice = fmt.Sprintf("sleep timer set for %s", d)
}

func (m *Model) nextMode() {
	modes := m.mixer.Modes()
	if len(modes) < 2 {
		return
	}
	i := slices.Index(modes, m.mixer.Mode())
	next := modes[(i+1)%len(modes)]
	if err := m.mixer.SetMode(next); err != nil {
		m.notice = err.Error()
		return
	}
	m.notice = "mode: " + next
}

func (m *Model) refresh() {
	st := m.mixer.Status()
	m.master = st.MasterVolume
	m.online = st.Online
	m.sounds.Title = fmt.Sprintf("ambi · %s", m.mixer.Mode())
	m.sounds.SetItems(soundItems(m.mixer.Sounds()))
}

func (m *Model) runStartup() tea.Cmd {
	return func() tea.Msg {
		summary, err := m.start(m.ctx)
		return startedMsg(summary, err)
	}
}

func (m *Model) waitForEvent() tea.Cmd {
	c := m.events
	return func() tea.Msg {
		if c == nil {
			return eventsClosedMsg()
		}
		e, ok := <-c
		if !ok {
			return eventsClosedMsg()
		}
		return eventMsg(e)
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickEvery, func(time.Time) tea.Msg { return tickMsg() })
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case LoadingView:
		return m.renderLoading()
	case MixerView:
		return m.renderMixer()
	default:
		return ""
	}
}

func (m *Model) renderLoading() string {
	var b strings.Builder
	b.WriteString(styles.title.Render("Starting ambi"))
	b.WriteString("\n")
	for _, p := range startup.Phases {
		if !p.Blocking() {
			continue
		}
		name := p.String()
		status := m.phases[name]
		if status == "" {
			status = "pending"
		}
		fmt.Fprintf(&b, "%s %s %s\n", styles.phase.Render(name), m.bar.ViewAs(m.percent[name]/100), statusStyle(status).Render(status))
	}
	if m.message != "" {
		fmt.Fprintf(&b, "\n%s\n", styles.help.Render(m.message))
	}
	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView([]key.Binding{m.keys.quit}))
	return b.String()
}

func (m *Model) renderMixer() string {
	var b strings.Builder
	b.WriteString(m.sounds.View())
	b.WriteString("\n\n")

	line := fmt.Sprintf("master %d%%", int(m.master*100+0.5))
	if m.timer > 0 {
		line += fmt.Sprintf(" • sleep in %s", m.timer.Round(time.Second))
	}
	if !m.online {
		line += " • " + styles.warn.Render("offline")
	}
	if !m.done {
		line += " • " + styles.help.Render("loading in background")
	}
	b.WriteString(line)
	b.WriteString("\n")

	if m.err != nil {
		fmt.Fprintf(&b, "%s\n", styles.err.Render(fmt.Sprintf("Startup error: %v", m.err)))
	}
	if failed := m.failedPhases(); len(failed) > 0 {
		fmt.Fprintf(&b, "%s\n", styles.warn.Render("degraded: "+strings.Join(failed, ", ")))
	}
	if m.notice != "" {
		fmt.Fprintf(&b, "%s\n", styles.warn.Render(m.notice))
	}

	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView(m.keys.ShortHelp()))
	return b.String()
}

func (m *Model) failedPhases() []string {
	var out []string
	for _, p := range startup.Phases {
		if m.phases[p.String()] == "failed" {
			out = append(out, p.String())
		}
	}
	return out
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}

// Run drives the TUI until the user quits or ctx ends.
func Run(ctx context.Context, m *Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
