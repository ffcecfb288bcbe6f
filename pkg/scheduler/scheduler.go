// Package scheduler implements the Task Scheduler (spec.md §4.4): a
// single-worker FIFO executor with an idle gate and a done stream.
//
// Grounded on original_source/saiblo_worker/task_scheduler.py, translated
// from asyncio.Queue to Go channels plus a small mutex-guarded counter for
// the idle check (an unbuffered asyncio.Queue.empty() has no direct
// channel equivalent).
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/saiblo/judge-worker/pkg/concurrent"
)

// maxHistory bounds the in-memory record of recently completed tasks kept
// for History, so a long-running worker's memory footprint doesn't grow
// without bound.
const maxHistory = 50

// Task is the uniform capability the scheduler needs from a task: it runs
// once when executed. Concrete task types (task.BuildTask, task.JudgeTask)
// satisfy this with an Execute method that returns nothing; each caches
// its typed result, which callers read through that type's Result method.
type Task interface {
	Execute()
}

// Scheduler is a single-worker strict-FIFO executor.
type Scheduler struct {
	pending chan Task
	done    chan Task

	mu           sync.Mutex
	pendingCount int

	// history is a bounded, concurrency-safe record of recently completed
	// tasks (rendered via fmt.Stringer), exposed through History for
	// operator-facing debugging of a long-running worker.
	history *concurrent.Slice[string]
}

// New builds a Scheduler. The pending and done queues are buffered
// channels of 4096 entries each; they are not unbounded: Schedule blocks
// once 4096 tasks are pending, and Start blocks once 4096 finished tasks
// have not been popped.
func New() *Scheduler {
	return &Scheduler{
		pending: make(chan Task, 4096),
		done:    make(chan Task, 4096),
		history: concurrent.NewSlice[string](),
	}
}

// Schedule enqueues a task. It does not block on capacity in normal
// operation (see New's buffer sizing); callers are expected to gate on
// Idle when backpressure matters.
func (s *Scheduler) Schedule(task Task) {
	s.mu.Lock()
	s.pendingCount++
	s.mu.Unlock()

	s.pending <- task
}

// Idle reports whether the pending queue was empty at the instant of the
// call.
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingCount == 0
}

// Start runs the blocking FIFO executor loop. Nothing closes the pending
// channel (Clean only drains it), so Start runs until the process exits.
func (s *Scheduler) Start() {
	for task := range s.pending {
		s.mu.Lock()
		s.pendingCount--
		s.mu.Unlock()

		slog.Debug("executing task", "task", task)

		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("task panicked", "task", task, "recovered", r)
				}
			}()
			task.Execute()
		}()

		slog.Info("task done", "task", task)

		s.recordHistory(task)
		s.done <- task
	}
}

// recordHistory appends task's description to the bounded history, dropping
// the oldest entry once at capacity.
func (s *Scheduler) recordHistory(task Task) {
	s.history.Append(fmt.Sprintf("%v", task))
	if s.history.Length() <= maxHistory {
		return
	}
	all := s.history.All()
	s.history.Clear()
	for _, entry := range all[len(all)-maxHistory:] {
		s.history.Append(entry)
	}
}

// History returns the descriptions of up to the last maxHistory completed
// tasks, oldest first.
func (s *Scheduler) History() []string {
	return s.history.All()
}

// PopDoneTask blocks until the next finished task is available, in
// completion order.
func (s *Scheduler) PopDoneTask() Task {
	return <-s.done
}

// Clean drains both queues without executing anything.
func (s *Scheduler) Clean() {
	s.mu.Lock()
	s.pendingCount = 0
	s.mu.Unlock()

	s.history.Clear()

	for drained := false; !drained; {
		select {
		case <-s.pending:
		default:
			drained = true
		}
	}
	for drained := false; !drained; {
		select {
		case <-s.done:
		default:
			drained = true
		}
	}
}
