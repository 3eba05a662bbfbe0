package http

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event is one entry on the dashboard's SSE stream.
type Event struct {
	Type    string `json:"type"`
	Project string `json:"project,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

type subscriber struct {
	ch      chan string
	project string // "" subscribes to everything
}

// StreamManager fans lifecycle events out to connected SSE clients.
type StreamManager struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

func NewStreamManager() *StreamManager {
	return &StreamManager{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a client, optionally filtered to one project's
// events. The returned cancel func must be called on disconnect.
func (sm *StreamManager) Subscribe(project string) (<-chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sub := &subscriber{ch: make(chan string, 16), project: project}
	sm.subs[sub] = struct{}{}

	return sub.ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if _, ok := sm.subs[sub]; ok {
			delete(sm.subs, sub)
			close(sub.ch)
		}
	}
}

// Broadcast delivers an event to every matching subscriber. Slow clients
// have the message dropped rather than stalling the operation that
// produced it.
func (sm *StreamManager) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("cannot marshal stream event", "type", event.Type, "error", err)
		return
	}
	msg := string(data)

	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for sub := range sm.subs {
		if sub.project != "" && event.Project != "" && sub.project != event.Project {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			slog.Warn("sse client buffer full, dropping event", "type", event.Type)
		}
	}
}
