package ws

import (
	"sync"

	"github.com/victornm/codelive/internal/channel"
)

// Sender is what the registry needs from a subscriber connection.
type Sender interface {
	Send(m channel.Message) error
	Done() <-chan struct{}
}

// Registry tracks which connections subscribed to which session's public
// broadcast.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[Sender]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[Sender]struct{}),
	}
}

// Subscribe attaches conn to a session's broadcast. The subscription is
// removed automatically when the connection closes.
func (r *Registry) Subscribe(sessionID string, conn Sender) {
	r.mu.Lock()
	subs, ok := r.sessions[sessionID]
	if !ok {
		subs = make(map[Sender]struct{})
		r.sessions[sessionID] = subs
	}
	subs[conn] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-conn.Done()
		r.Unsubscribe(sessionID, conn)
	}()
}

func (r *Registry) Unsubscribe(sessionID string, conn Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if subs, ok := r.sessions[sessionID]; ok {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(r.sessions, sessionID)
		}
	}
}

// Broadcast sends a message to every subscriber of the session. A slow or
// dead subscriber only loses its own frames.
func (r *Registry) Broadcast(sessionID string, m channel.Message) {
	r.mu.RLock()
	subs := make([]Sender, 0, len(r.sessions[sessionID]))
	for conn := range r.sessions[sessionID] {
		subs = append(subs, conn)
	}
	r.mu.RUnlock()

	for _, conn := range subs {
		_ = conn.Send(m)
	}
}

// Count reports the number of subscribers for a session.
func (r *Registry) Count(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID])
}
