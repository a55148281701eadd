/*
Package core provides in-flight turn tracking for the chat proxy.

Turns are never cancelled once started, so the tracker only records which
turns are running. It feeds the /status endpoint and lets shutdown wait for
running turns to reach their terminal payload.
*/
package core

import (
	"context"
	"sort"
	"sync"
	"time"
)

// TurnTracker keeps a thread-safe registry of running turns.
type TurnTracker struct {
	turns map[string]trackedTurn // Turn ID to turn details
	mutex sync.RWMutex
	idle  *sync.Cond // Signalled whenever a turn finishes
}

type trackedTurn struct {
	agentID   string
	startedAt time.Time
}

// NewTurnTracker creates an empty tracker.
func NewTurnTracker() *TurnTracker {
	t := &TurnTracker{turns: make(map[string]trackedTurn)}
	t.idle = sync.NewCond(&t.mutex)
	return t
}

// Start registers a running turn.
func (t *TurnTracker) Start(turnID, agentID string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.turns[turnID] = trackedTurn{agentID: agentID, startedAt: time.Now()}
}

// Finish removes a turn. Finishing an unknown turn is a no-op.
func (t *TurnTracker) Finish(turnID string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	delete(t.turns, turnID)
	t.idle.Broadcast()
}

// Active returns the IDs of the running turns, sorted.
func (t *TurnTracker) Active() []string {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	ids := make([]string, 0, len(t.turns))
	for id := range t.turns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wait blocks until no turn is running or ctx is done.
func (t *TurnTracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.mutex.Lock()
		for len(t.turns) > 0 && ctx.Err() == nil {
			t.idle.Wait()
		}
		t.mutex.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// Wake the waiter so it observes ctx.Err and exits.
		t.mutex.Lock()
		t.idle.Broadcast()
		t.mutex.Unlock()
		return ctx.Err()
	}
}
