// Package mainthread provides the UI-safe execution context that every
// channel write is funnelled through.
package mainthread

import (
	"context"
	"log/slog"
	"sync"
)

// Executor runs tasks serially on a single context. Post returns false if
// the task was dropped because the executor has shut down.
type Executor interface {
	Post(task func()) bool
}

// Looper is an Executor backed by one goroutine. Its queue is unbounded so
// tasks may post further tasks without blocking.
type Looper struct {
	logger *slog.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func NewLooper(logger *slog.Logger) *Looper {
	return &Looper{
		logger: logger.With("component", "looper"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (l *Looper) Post(task func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run executes tasks until ctx is cancelled or Close is called. Tasks
// queued at that point are drained before Run returns.
func (l *Looper) Run(ctx context.Context) {
	defer close(l.done)
	for {
		l.drain()

		select {
		case <-l.wake:
		case <-ctx.Done():
			l.shutdown()
			l.drain()
			return
		}

		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			l.drain()
			return
		}
	}
}

// Close stops accepting tasks and wakes Run so it can exit.
func (l *Looper) Close() {
	l.shutdown()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run has returned.
func (l *Looper) Done() <-chan struct{} {
	return l.done
}

func (l *Looper) shutdown() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *Looper) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.run(task)
	}
}

func (l *Looper) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Task panicked on looper", "panic", r)
		}
	}()
	task()
}
