package playback

import (
	"sync"
	"time"

	"github.com/desertthunder/ambi/internal/events"
)

// Countdown is a sleep timer that stops playback when it fires.
type Countdown struct {
	stop func()
	pub  events.Publisher
	now  func() time.Time

	mu       sync.Mutex
	timer    *time.Timer
	deadline time.Time
	length   time.Duration
}

// NewCountdown creates a timer that calls stop when it fires.
func NewCountdown(stop func(), pub events.Publisher) *Countdown {
	if pub == nil {
		pub = events.Discard
	}
	return &Countdown{stop: stop, pub: pub, now: time.Now}
}

// Start arms the timer for d, replacing any running countdown.
func (c *Countdown) Start(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}
	c.length = d
	c.deadline = c.now().Add(d)

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		c.mu.Lock()
		if c.timer != t {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.mu.Unlock()

		c.stop()
		c.pub.Publish(events.TimerFired{After: d})
	})
	c.timer = t
}

// Cancel disarms the timer and reports whether one was running.
func (c *Countdown) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == nil {
		return false
	}
	c.timer.Stop()
	c.timer = nil
	return true
}

// Remaining returns the time left, if a countdown is running.
func (c *Countdown) Remaining() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == nil {
		return 0, false
	}
	return max(c.deadline.Sub(c.now()), 0), true
}
