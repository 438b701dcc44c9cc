package host

import "sync"

// Loop serializes everything the broker does onto a single goroutine,
// standing in for the host main-loop thread spec.md §5 assumes ("single-
// threaded cooperative... no locks are required"). Real hook invocations
// already arrive on that thread; the two things that don't — a websocket
// read-pump goroutine delivering a portal response, and a timer firing on
// Go's own runtime timer goroutine — must hand their work to Loop.Post
// instead of touching broker state directly. This lets the rest of the
// broker (engine, portal, lifecycle) stay lock-free exactly as spec.md
// intends, despite being embedded in an inherently concurrent runtime.
type Loop struct {
	jobs chan func()
	done chan struct{}
	once sync.Once
}

// NewLoop creates a Loop with the given job buffer depth.
func NewLoop(buffer int) *Loop {
	return &Loop{
		jobs: make(chan func(), buffer),
		done: make(chan struct{}),
	}
}

// Run drains jobs on the calling goroutine until Close is called. The
// broker's owning goroutine (or test) calls this.
func (l *Loop) Run() {
	for {
		select {
		case fn := <-l.jobs:
			fn()
		case <-l.done:
			return
		}
	}
}

// Post enqueues fn to run on the loop goroutine. Safe to call from any
// goroutine, including Close races (Post after Close is a silent no-op,
// matching spec.md §5's "in-flight arbitrations are cancelled").
func (l *Loop) Post(fn func()) {
	select {
	case l.jobs <- fn:
	case <-l.done:
	}
}

// Call runs fn on the loop goroutine and blocks until it has completed,
// useful in tests that need a synchronization point.
func (l *Loop) Call(fn func()) {
	result := make(chan struct{})
	l.Post(func() {
		fn()
		close(result)
	})
	<-result
}

// Close stops Run and causes any further Post to be dropped.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.done) })
}
