package recovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/desertthunder/ambi/internal/flight"
)

// Error kinds used for category inference. Wrap them with %w or [OpError].
var (
	ErrNetwork           = errors.New("network failure")
	ErrTimeout           = flight.ErrTimeout
	ErrDecode            = errors.New("audio decode failed")
	ErrUnsupportedFormat = errors.New("audio format not supported")
	ErrPlayback          = errors.New("audio playback rejected")
	ErrUI                = errors.New("ui initialization failed")
	ErrSkeleton          = errors.New("skeleton render failed")
)

// OpError records the operation and resource a failure happened on.
type OpError struct {
	Op       string // fetch, decode, manifest, play, phase
	Resource string
	Err      error
}

func (e *OpError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Resource, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// NewOpError creates a new [OpError].
func NewOpError(op, resource string, err error) *OpError {
	return &OpError{Op: op, Resource: resource, Err: err}
}

// Classify infers a category from err: first its kind, then its message.
func Classify(err error) Category {
	if err == nil {
		return UI
	}
	if c, ok := classifyKind(err); ok {
		return c
	}
	return classifyMessage(err.Error())
}

func classifyKind(err error) (Category, bool) {
	switch {
	case errors.Is(err, ErrNetwork), errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return Network, true
	case errors.Is(err, ErrDecode), errors.Is(err, ErrUnsupportedFormat), errors.Is(err, ErrPlayback):
		return Audio, true
	case errors.Is(err, ErrSkeleton):
		return Skeleton, true
	case errors.Is(err, ErrUI):
		return UI, true
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return Network, true
	}
	return 0, false
}

func classifyMessage(msg string) Category {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "network"), strings.Contains(msg, "timeout"):
		return Network
	case strings.Contains(msg, "audio"), strings.Contains(msg, "decode"):
		return Audio
	case strings.Contains(msg, "skeleton"):
		return Skeleton
	default:
		return UI
	}
}
