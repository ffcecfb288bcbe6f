package coordinator

import (
	"context"
	"sync"
)

// judgeTaskGate is the "at-most-one outstanding request" primitive from
// spec.md §9: the request loop arms it before sending
// request_judge_task, then blocks until the receive loop notifies it that
// a judge_task frame arrived. It is generalized from pkg/sync.OnceErr's
// sync.Once-backed one-shot-result idea into a one-shot-per-cycle signal:
// each Arm call opens a fresh channel so the gate can be waited on
// repeatedly across the connection's lifetime, rather than only once.
type judgeTaskGate struct {
	mu sync.Mutex
	ch chan struct{}
}

func newJudgeTaskGate() *judgeTaskGate {
	return &judgeTaskGate{}
}

// Arm opens a new waiting window, discarding any previous one.
func (g *judgeTaskGate) Arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ch = make(chan struct{})
}

// Notify signals the currently armed window, if any. Safe to call when
// unarmed (a nil channel here means no one is waiting).
func (g *judgeTaskGate) Notify() {
	g.mu.Lock()
	ch := g.ch
	g.ch = nil
	g.mu.Unlock()

	if ch != nil {
		close(ch)
	}
}

// Wait blocks until the next Notify after Arm, or ctx is done.
func (g *judgeTaskGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()

	if ch == nil {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
