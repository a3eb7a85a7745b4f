// Package throttle limits how many API requests one client may make per
// fixed time window.
package throttle

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type entry struct {
	count int
	start time.Time
}

// Window is a fixed-window request counter keyed by client identity.
// A client's window starts with its first admitted request; once window
// has elapsed the next request starts a new one.
type Window struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*entry
}

// New creates a Window admitting max requests per window per client.
func New(limit int, window time.Duration) *Window {
	return &Window{
		max:     limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*entry),
	}
}

// SetClock overrides the time source. Tests only.
func (w *Window) SetClock(now func() time.Time) {
	w.mu.Lock()
	w.now = now
	w.mu.Unlock()
}

// Allow records a request from id and reports whether it is admitted.
func (w *Window) Allow(id string) bool {
	ok, _ := w.allow(id)
	return ok
}

// allow also returns, for a denied request, how long until the window
// resets.
func (w *Window) allow(id string) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for k, e := range w.clients {
		if now.Sub(e.start) >= w.window {
			delete(w.clients, k)
		}
	}

	e, ok := w.clients[id]
	if !ok {
		w.clients[id] = &entry{count: 1, start: now}
		return true, 0
	}
	if e.count < w.max {
		e.count++
		return true, 0
	}
	return false, e.start.Add(w.window).Sub(now)
}

// Len returns the number of tracked clients.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.clients)
}

// Middleware wraps handlers with the window. Rejected requests get 429
// with a JSON error body and Retry-After in whole seconds.
func Middleware(w *Window, trustProxy bool, onReject func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			ok, wait := w.allow(ClientID(r, trustProxy))
			if ok {
				next.ServeHTTP(rw, r)
				return
			}
			if onReject != nil {
				onReject()
			}
			secs := int((wait + time.Second - 1) / time.Second)
			rw.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusTooManyRequests)
			_, _ = rw.Write([]byte(`{"error":"rate limit exceeded"}` + "\n"))
		})
	}
}

// ClientID identifies the caller. Proxy headers are only honoured when
// trustProxy is set; otherwise the connection address is used.
func ClientID(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
