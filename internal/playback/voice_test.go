package playback

import (
	"testing"

	"github.com/gopxl/beep/v2"
)

// constant streams n frames of value v.
func constant(n int, v float64) beep.StreamSeeker {
	buf := beep.NewBuffer(beep.Format{SampleRate: testRate, NumChannels: 2, Precision: 2})
	samples := make([][2]float64, n)
	for i := range samples {
		samples[i] = [2]float64{v, v}
	}
	buf.Append(beep.StreamerFunc(func(out [][2]float64) (int, bool) {
		if len(samples) == 0 {
			return 0, false
		}
		k := copy(out, samples)
		samples = samples[k:]
		return k, true
	}))
	return buf.Streamer(0, buf.Len())
}

func TestLoop(t *testing.T) {
	l := &loop{s: constant(3, 1)}
	out := make([][2]float64, 10)
	n, ok := l.Stream(out)
	if n != 10 || !ok {
		t.Fatalf("Stream() = %d, %v; want 10, true", n, ok)
	}
	for i, s := range out {
		if s[0] != 1 {
			t.Fatalf("sample %d = %v, want 1", i, s[0])
		}
	}

	empty := &loop{s: constant(0, 1)}
	if n, ok := empty.Stream(out); n != 0 || ok {
		t.Errorf("empty loop Stream() = %d, %v; want 0, false", n, ok)
	}
}

func TestVoiceRamp(t *testing.T) {
	tests := []struct {
		name   string
		from   float64
		to     float64
		steps  int
		checks map[int]float64
	}{
		{"jump", 0, 0.5, 0, map[int]float64{0: 0.5, 9: 0.5}},
		{"up", 0, 1, 4, map[int]float64{0: 0.25, 1: 0.5, 3: 1, 9: 1}},
		{"down", 1, 0, 2, map[int]float64{0: 0.5, 1: 0, 5: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVoice(&loop{s: constant(4, 1)}, tt.from, 0)
			v.setTarget(tt.to, tt.steps)

			out := make([][2]float64, 10)
			v.Stream(out)
			for i, want := range tt.checks {
				if got := out[i][0]; got < want-1e-9 || got > want+1e-9 {
					t.Errorf("sample %d = %v, want %v", i, got, want)
				}
			}
			if v.pos != 10 {
				t.Errorf("pos = %d, want 10", v.pos)
			}
		})
	}
}

func TestVoiceHandleStop(t *testing.T) {
	sink := NewMixerSink(testRate)
	h := playVoice(sink, &loop{s: constant(4, 1)}, 1, 0)

	sink.Pull(8)
	if h.position() != 8 {
		t.Fatalf("position = %d, want 8", h.position())
	}

	h.stop(0)
	h.stop(0)
	sink.Pull(8)
	if sink.Len() != 0 {
		t.Errorf("stopped voice still mixed")
	}
}

func TestVoiceEndsWithSource(t *testing.T) {
	sink := NewMixerSink(testRate)
	h := playVoice(sink, constant(4, 1), 1, 0)

	sink.Pull(8)
	sink.Pull(8)
	if sink.Len() != 0 {
		t.Errorf("finished voice still mixed")
	}
	if h.position() != 4 {
		t.Errorf("position = %d, want 4", h.position())
	}
	h.stop(0)
}
