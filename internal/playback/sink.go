package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

// Sink is the audio output voices are mixed into.
//
// Lock guards every field a playing streamer reads; Play must not be called while holding it.
type Sink interface {
	Format() beep.Format
	Play(s beep.Streamer)
	Lock()
	Unlock()
}

type speakerSink struct {
	format beep.Format
}

// NewSpeakerSink initializes the system audio device.
func NewSpeakerSink(rate int, buffer time.Duration) (Sink, error) {
	sr := beep.SampleRate(rate)
	if err := speaker.Init(sr, sr.N(buffer)); err != nil {
		return nil, fmt.Errorf("failed to initialize speaker: %w", err)
	}
	return &speakerSink{format: beep.Format{SampleRate: sr, NumChannels: 2, Precision: 2}}, nil
}

func (s *speakerSink) Format() beep.Format   { return s.format }
func (s *speakerSink) Play(st beep.Streamer) { speaker.Play(st) }
func (s *speakerSink) Lock()                 { speaker.Lock() }
func (s *speakerSink) Unlock()               { speaker.Unlock() }

// MixerSink mixes voices in memory. It backs headless runs and tests; samples only advance
// when something pulls them.
type MixerSink struct {
	mu     sync.Mutex
	format beep.Format
	mixer  beep.Mixer
}

// NewMixerSink creates a stereo in-memory sink at rate.
func NewMixerSink(rate int) *MixerSink {
	return &MixerSink{format: beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: 2, Precision: 2}}
}

func (m *MixerSink) Format() beep.Format { return m.format }
func (m *MixerSink) Lock()               { m.mu.Lock() }
func (m *MixerSink) Unlock()             { m.mu.Unlock() }

func (m *MixerSink) Play(s beep.Streamer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mixer.Add(s)
}

// Pull mixes the next n frames.
func (m *MixerSink) Pull(n int) [][2]float64 {
	buf := make([][2]float64, n)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mixer.Stream(buf)
	return buf
}

// Len returns how many streamers are still mixed.
func (m *MixerSink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mixer.Len()
}

// Run pulls samples at real-time rate until ctx ends and discards them.
func (m *MixerSink) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	n := m.format.SampleRate.N(tick)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Pull(n)
		}
	}
}
