package app

import "sync"

// streamGuard serializes response generation per conversation so two
// concurrent requests cannot interleave assistant messages. Acquire fails
// fast instead of queueing; the caller surfaces a busy error.
type streamGuard struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func newStreamGuard() *streamGuard {
	return &streamGuard{busy: make(map[string]struct{})}
}

func (g *streamGuard) acquire(conversationID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, taken := g.busy[conversationID]; taken {
		return false
	}
	g.busy[conversationID] = struct{}{}
	return true
}

func (g *streamGuard) isBusy(conversationID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, taken := g.busy[conversationID]
	return taken
}

func (g *streamGuard) release(conversationID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, conversationID)
}
