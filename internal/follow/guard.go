package follow

import (
	"sync"

	"agent-follower/internal/errors"
)

// Guard admits at most one pass per agent at a time.
type Guard struct {
	mu      sync.Mutex
	running map[string]struct{}
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{running: make(map[string]struct{})}
}

// Do runs fn unless a pass for agentID is already running, in which case it
// returns ErrPassInFlight without calling fn.
func (g *Guard) Do(agentID string, fn func() error) error {
	g.mu.Lock()
	if _, busy := g.running[agentID]; busy {
		g.mu.Unlock()
		return errors.Wrapf(errors.ErrPassInFlight, "agent %s", agentID)
	}
	g.running[agentID] = struct{}{}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.running, agentID)
		g.mu.Unlock()
	}()
	return fn()
}

// Running reports whether a pass for agentID is in progress.
func (g *Guard) Running(agentID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.running[agentID]
	return ok
}
