package playback

import (
	"sync"

	"github.com/desertthunder/ambi/internal/catalog"
	"github.com/desertthunder/ambi/internal/events"
)

// Backend is the delivery mechanism chosen for a source.
type Backend int

const (
	DecodedBuffer Backend = iota
	NativeStream
	SegmentedStream
)

func (b Backend) String() string {
	switch b {
	case DecodedBuffer:
		return "buffer"
	case NativeStream:
		return "native"
	case SegmentedStream:
		return "segmented"
	default:
		return "unknown"
	}
}

// LoadState tracks acquisition of a source's asset.
type LoadState int

const (
	Idle LoadState = iota
	Loading
	Loaded
	Retrying
	Failed
)

func (s LoadState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Retrying:
		return "retrying"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

// PlayState tracks output of a source.
type PlayState int

const (
	Stopped PlayState = iota
	Playing
	FadingOut
)

func (s PlayState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case FadingOut:
		return "fading"
	default:
		return "unknown"
	}
}

// Source is the engine's record for one logical sound name.
//
// op serializes play and stop so a restart always tears the old handle down first.
type Source struct {
	name string
	op   sync.Mutex

	mu       sync.Mutex
	ref      catalog.Ref
	backend  backend
	load     LoadState
	play     PlayState
	volume   float64
	handle   handle
	disabled bool
	rebuilt  bool
	lastUsed uint64
}

// SourceInfo is a point-in-time copy of a [Source].
type SourceInfo struct {
	Name     string  `json:"name"`
	Backend  string  `json:"backend"`
	Load     string  `json:"load"`
	Play     string  `json:"play"`
	Volume   float64 `json:"volume"`
	Disabled bool    `json:"disabled"`
}

func (s *Source) info() SourceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

func (s *Source) infoLocked() SourceInfo {
	return SourceInfo{
		Name:     s.name,
		Backend:  s.backend.kind().String(),
		Load:     s.load.String(),
		Play:     s.play.String(),
		Volume:   s.volume,
		Disabled: s.disabled,
	}
}

func (i SourceInfo) event() events.SourceState {
	return events.SourceState{Name: i.Name, Backend: i.Backend, Load: i.Load, Play: i.Play, Volume: i.Volume, Disabled: i.Disabled}
}

func (s *Source) loadState() LoadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load
}

func (s *Source) currentBackend() backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}
