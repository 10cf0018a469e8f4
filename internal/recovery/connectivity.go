package recovery

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Connectivity reports the current network state and streams transitions.
type Connectivity interface {
	Online() bool
	// Watch delivers every online/offline transition until ctx ends, then closes the channel.
	Watch(ctx context.Context) <-chan bool
}

// watchers fans state transitions out to Watch subscribers.
type watchers struct {
	mu     sync.Mutex
	online bool
	subs   map[chan bool]struct{}
}

func (w *watchers) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

func (w *watchers) Watch(ctx context.Context) <-chan bool {
	ch := make(chan bool, 4)
	w.mu.Lock()
	if w.subs == nil {
		w.subs = make(map[chan bool]struct{})
	}
	w.subs[ch] = struct{}{}
	w.mu.Unlock()

	go func() {
		<-ctx.Done()
		w.mu.Lock()
		delete(w.subs, ch)
		w.mu.Unlock()
		close(ch)
	}()
	return ch
}

// set records the new state and reports whether it changed.
func (w *watchers) set(online bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.online == online {
		return false
	}
	w.online = online
	for ch := range w.subs {
		select {
		case ch <- online:
		default:
		}
	}
	return true
}

// Manual is a [Connectivity] driven by explicit Set calls. Its zero value is offline.
type Manual struct {
	watchers
}

// NewManual creates a [Manual] in the given state.
func NewManual(online bool) *Manual {
	m := &Manual{}
	m.online = online
	return m
}

func (m *Manual) Set(online bool) { m.set(online) }

// HTTPProbe polls a URL and treats any response below 500 as online.
type HTTPProbe struct {
	watchers
	url      string
	interval time.Duration
	client   *http.Client
	logger   *log.Logger
}

// NewHTTPProbe creates a probe that assumes online until the first poll says otherwise.
func NewHTTPProbe(url string, interval time.Duration, logger *log.Logger) *HTTPProbe {
	p := &HTTPProbe{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: max(interval/2, time.Second)},
		logger:   logger,
	}
	p.online = true
	return p
}

// Run polls until ctx ends.
func (p *HTTPProbe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	defer p.client.CloseIdleConnections()

	for {
		online := p.check(ctx)
		if ctx.Err() != nil {
			return
		}
		if p.set(online) {
			p.logger.Info("connectivity changed", "online", online)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *HTTPProbe) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
