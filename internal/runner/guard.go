package runner

import (
	"context"
	"sync"
)

// runGuard tracks in-flight runs per integration
type runGuard struct {
	mu      sync.Mutex
	running map[int64]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// enter registers an in-flight run. It reports false once wait has begun,
// so no run is added to the wait group while it is being waited on.
func (g *runGuard) enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.wg.Add(1)
	return true
}

func (g *runGuard) leave() {
	g.wg.Done()
}

// tryLock marks id as running and reports false when it already is
func (g *runGuard) tryLock(id int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[int64]struct{})
	}
	if _, ok := g.running[id]; ok {
		return false
	}
	g.running[id] = struct{}{}
	return true
}

func (g *runGuard) unlock(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, id)
}

// wait refuses new runs, then blocks until every tracked run has returned
// or ctx is done
func (g *runGuard) wait(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
