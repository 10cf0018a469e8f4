package playback

import (
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
)

// voice applies a linearly ramped gain to a source streamer. All fields are guarded by the sink lock.
type voice struct {
	src    beep.Streamer
	gain   float64
	target float64
	step   float64
	pos    int
	done   bool
}

func newVoice(src beep.Streamer, target float64, rampSamples int) *voice {
	v := &voice{src: src}
	v.setTarget(target, rampSamples)
	return v
}

// setTarget ramps to target over n samples; n <= 0 jumps immediately.
func (v *voice) setTarget(target float64, n int) {
	v.target = target
	if n <= 0 {
		v.gain = target
		v.step = 0
		return
	}
	v.step = (target - v.gain) / float64(n)
	if v.step < 0 {
		v.step = -v.step
	}
}

func (v *voice) Stream(samples [][2]float64) (int, bool) {
	if v.done {
		return 0, false
	}

	n, ok := v.src.Stream(samples)
	for i := range samples[:n] {
		switch {
		case v.gain < v.target:
			v.gain = min(v.gain+v.step, v.target)
		case v.gain > v.target:
			v.gain = max(v.gain-v.step, v.target)
		}
		samples[i][0] *= v.gain
		samples[i][1] *= v.gain
	}
	v.pos += n

	if !ok {
		v.done = true
	}
	return n, ok
}

func (v *voice) Err() error { return v.src.Err() }

// loop replays a seekable streamer from the start whenever it runs out.
type loop struct {
	s beep.StreamSeeker
}

func (l *loop) Stream(samples [][2]float64) (n int, ok bool) {
	if l.s.Len() == 0 {
		return 0, false
	}
	for n < len(samples) {
		m, ok := l.s.Stream(samples[n:])
		n += m
		if !ok || m == 0 {
			if err := l.s.Seek(0); err != nil {
				return n, n > 0
			}
		}
	}
	return n, true
}

func (l *loop) Err() error { return l.s.Err() }

// handle is a live playback resource owned by exactly one source.
type handle interface {
	setGain(g float64, ramp time.Duration)
	gain() float64
	// stop ramps to silence over fade and then releases the output.
	stop(fade time.Duration)
	position() int
}

type voiceHandle struct {
	sink Sink
	v    *voice
	once sync.Once
}

func playVoice(sink Sink, src beep.Streamer, g float64, ramp time.Duration) *voiceHandle {
	v := newVoice(src, 0, 0)
	v.setTarget(g, sink.Format().SampleRate.N(ramp))
	sink.Play(v)
	return &voiceHandle{sink: sink, v: v}
}

func (h *voiceHandle) setGain(g float64, ramp time.Duration) {
	h.sink.Lock()
	defer h.sink.Unlock()
	h.v.setTarget(g, h.sink.Format().SampleRate.N(ramp))
}

func (h *voiceHandle) gain() float64 {
	h.sink.Lock()
	defer h.sink.Unlock()
	return h.v.target
}

func (h *voiceHandle) position() int {
	h.sink.Lock()
	defer h.sink.Unlock()
	return h.v.pos
}

func (h *voiceHandle) stop(fade time.Duration) {
	h.once.Do(func() {
		if fade > 0 {
			h.setGain(0, fade)
			time.Sleep(fade)
		}
		h.sink.Lock()
		h.v.done = true
		h.sink.Unlock()
	})
}
