package aside

import (
	"fmt"
	"sync"
)

// Panel is a side panel.
type Panel int

const (
	PanelClosed Panel = iota
	PanelSearch
	PanelCart
	PanelMobile
)

func (p Panel) String() string {
	switch p {
	case PanelClosed:
		return "closed"
	case PanelSearch:
		return "search"
	case PanelCart:
		return "cart"
	case PanelMobile:
		return "mobile"
	}
	return fmt.Sprintf("panel(%d)", int(p))
}

// ParsePanel parses a panel name as produced by String.
func ParsePanel(s string) (Panel, error) {
	for _, p := range []Panel{PanelClosed, PanelSearch, PanelCart, PanelMobile} {
		if p.String() == s {
			return p, nil
		}
	}
	return PanelClosed, fmt.Errorf("unknown panel %q", s)
}

// Service tracks the open panel. At most one panel is open at a time.
//
// Thread-safety: safe for concurrent use. Subscribers run without the
// lock held.
type Service struct {
	mu      sync.Mutex
	current Panel
	subs    map[int]func(Panel)
	nextSub int
}

// NewService creates a service with every panel closed.
func NewService() *Service {
	return &Service{subs: make(map[int]func(Panel))}
}

// Open shows p, replacing any open panel. Open(PanelClosed) closes.
func (s *Service) Open(p Panel) {
	s.set(p)
}

// Close closes the open panel.
func (s *Service) Close() {
	s.set(PanelClosed)
}

// Opener returns a func that opens p, for use as a callback.
func (s *Service) Opener(p Panel) func() {
	return func() { s.Open(p) }
}

// Current returns the open panel, PanelClosed if none.
func (s *Service) Current() Panel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// IsOpen reports whether p is the open panel.
func (s *Service) IsOpen(p Panel) bool {
	return p != PanelClosed && s.Current() == p
}

// Subscribe registers fn for panel changes. The returned func unregisters it.
func (s *Service) Subscribe(fn func(Panel)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Service) set(p Panel) {
	s.mu.Lock()
	if s.current == p {
		s.mu.Unlock()
		return
	}
	s.current = p
	fns := make([]func(Panel), 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}
