//  executor.go
//  ZoneClient Core
//
//  Copyright (c) 2025 Relative Companies, Inc.
//  Personal, non-commercial use only.
//
//  Serialized execution contexts. All core state is touched only from tasks
//  posted to one executor, and listener callbacks are handed to a second one
//  owned by the host.

package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/relativeprotocol/zoneclient/log"
)

// Executor runs posted tasks one at a time in posting order. Post never
// blocks on the task itself.
type Executor interface {
	Post(task func())
}

// ExecutorFunc adapts a function to Executor, for example a host main-thread
// dispatcher.
type ExecutorFunc func(task func())

// Post implements Executor.
func (f ExecutorFunc) Post(task func()) {
	f(task)
}

// Queue is an unbounded executor backed by a single goroutine.
type Queue struct {
	logger *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	done    chan struct{}
}

// NewQueue starts a queue. Call Close to stop its goroutine.
func NewQueue(logger *zap.Logger) *Queue {
	q := &Queue{
		logger: log.Or(logger).Named("queue"),
		done:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Post appends task to the queue. Tasks posted after Close are dropped.
func (q *Queue) Post(task func()) {
	if task == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, task)
	q.cond.Signal()
}

// Close stops accepting tasks. Tasks already queued still run; Done is closed
// once they have.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
}

// Done is closed when the queue goroutine has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		task := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.invoke(task)
	}
}

func (q *Queue) invoke(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	task()
}

// Trampoline runs tasks synchronously on the posting goroutine. A task posted
// from inside another task is deferred until the outer one returns, so
// ordering and mutual exclusion still hold.
type Trampoline struct {
	mu      sync.Mutex
	running bool
	pending []func()
}

// Post implements Executor.
func (t *Trampoline) Post(task func()) {
	if task == nil {
		return
	}
	t.mu.Lock()
	t.pending = append(t.pending, task)
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	for len(t.pending) > 0 {
		next := t.pending[0]
		t.pending[0] = nil
		t.pending = t.pending[1:]
		t.mu.Unlock()
		next()
		t.mu.Lock()
	}
	t.running = false
	t.mu.Unlock()
}

// Call runs fn on exec and waits for it to finish. It reports false if exec
// shut down before fn ran. It must not be called from a task running on exec.
// On an idle Trampoline fn runs before Post returns; while another goroutine
// drains it, fn waits its turn.
func Call(exec Executor, fn func()) bool {
	var stopped <-chan struct{}
	if d, ok := exec.(interface{ Done() <-chan struct{} }); ok {
		stopped = d.Done()
	}
	done := make(chan struct{})
	exec.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return true
	case <-stopped:
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}
