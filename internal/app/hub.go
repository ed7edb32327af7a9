package app

import (
	"sync"

	"quizbook-tracker/internal/domain"
)

// hub fans out fresh analytics to subscribers of a quiz book.
type hub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.Analytics]struct{}
}

func newHub() *hub {
	return &hub{subscribers: make(map[string]map[chan domain.Analytics]struct{})}
}

func (h *hub) subscribe(key string) (chan domain.Analytics, func()) {
	ch := make(chan domain.Analytics, 8)

	h.mu.Lock()
	subs, ok := h.subscribers[key]
	if !ok {
		subs = make(map[chan domain.Analytics]struct{})
		h.subscribers[key] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[key]
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(h.subscribers, key)
		}
	}
	return ch, cancel
}

// prime hands ch its first snapshot unless a publish already got there with a newer one.
func (h *hub) prime(key string, ch chan domain.Analytics, initial domain.Analytics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[key][ch]; !ok {
		return
	}
	if len(ch) == 0 {
		ch <- initial
	}
}

func (h *hub) hasSubscribers(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[key]) > 0
}

func (h *hub) publish(key string, a domain.Analytics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[key] {
		select {
		case ch <- a:
		default:
			// Drop the oldest snapshot so a slow reader never blocks a mutation.
			select {
			case <-ch:
			default:
			}
			ch <- a
		}
	}
}
