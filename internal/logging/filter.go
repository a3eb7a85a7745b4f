package logging

import (
	"context"
	"log/slog"
	"sync"
)

// ComponentFilterHandler filters records by a per-component minimum level.
// The component is read from the "component" attribute, either attached via
// Logger.With or passed on the record itself. Components without an explicit
// level use the default level.
type ComponentFilterHandler struct {
	next   slog.Handler
	state  *filterState
	preset string // component captured through WithAttrs
}

type filterState struct {
	mu       sync.RWMutex
	def      slog.Level
	levels   map[string]slog.Level
	minLevel slog.Level // lowest level across default and overrides
}

// NewComponentFilterHandler wraps next with per-component level filtering.
func NewComponentFilterHandler(next slog.Handler, defaultLevel slog.Level) *ComponentFilterHandler {
	return &ComponentFilterHandler{
		next: next,
		state: &filterState{
			def:      defaultLevel,
			levels:   make(map[string]slog.Level),
			minLevel: defaultLevel,
		},
	}
}

// SetLevel overrides the minimum level for one component.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	h.state.levels[component] = level
	h.state.recompute()
}

// ClearLevel removes a component override.
func (h *ComponentFilterHandler) ClearLevel(component string) {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	delete(h.state.levels, component)
	h.state.recompute()
}

// Level returns the effective level for component.
func (h *ComponentFilterHandler) Level(component string) slog.Level {
	h.state.mu.RLock()
	defer h.state.mu.RUnlock()
	return h.state.levelFor(component)
}

// DefaultLevel returns the level used for components without an override.
func (h *ComponentFilterHandler) DefaultLevel() slog.Level {
	h.state.mu.RLock()
	defer h.state.mu.RUnlock()
	return h.state.def
}

func (s *filterState) levelFor(component string) slog.Level {
	if l, ok := s.levels[component]; ok {
		return l
	}
	return s.def
}

func (s *filterState) recompute() {
	s.minLevel = s.def
	for _, l := range s.levels {
		s.minLevel = min(s.minLevel, l)
	}
}

// Enabled is a cheap pre-check. The component attribute is not known yet
// for record-level attributes, so the lowest configured level is used and
// Handle does the precise check.
func (h *ComponentFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	h.state.mu.RLock()
	threshold := h.state.minLevel
	if h.preset != "" {
		threshold = h.state.levelFor(h.preset)
	}
	h.state.mu.RUnlock()
	if level < threshold {
		return false
	}
	return h.next == nil || h.next.Enabled(ctx, level)
}

func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.preset
	if component == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "component" {
				component = a.Value.String()
				return false
			}
			return true
		})
	}
	if r.Level < h.Level(component) {
		return nil
	}
	if h.next == nil {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	preset := h.preset
	for _, a := range attrs {
		if a.Key == "component" {
			preset = a.Value.String()
		}
	}
	next := h.next
	if next != nil {
		next = next.WithAttrs(attrs)
	}
	return &ComponentFilterHandler{next: next, state: h.state, preset: preset}
}

func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	next := h.next
	if next != nil {
		next = next.WithGroup(name)
	}
	return &ComponentFilterHandler{next: next, state: h.state, preset: h.preset}
}
