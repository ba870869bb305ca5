package async

import "sync"

// An Executor is a [Coroutine] spawner, and a Coroutine runner.
//
// When a Coroutine is spawned or resumed, it is added into an internal
// queue. The Run method then pops and runs each of them from the queue
// until the queue is emptied. It is done in a single-threaded manner.
// If one Coroutine blocks, no other Coroutines can run.
// The best practice is not to block.
//
// The internal queue is a priority queue. Coroutines added in the queue are
// sorted by their weight, then by their level (spawn depth). Popping the
// queue removes the first Coroutine with the greatest weight and the least
// level.
//
// Manually calling the Run method is usually not desired.
// One would instead use the Autorun method to set up an autorun function to
// calling the Run method automatically whenever a Coroutine is spawned or
// resumed.
// The Executor never calls the autorun function twice at the same time.
//
// A panic that escapes a root Coroutine (one with no parent) is collected
// and re-raised from the Run call that drove it, after every other
// Coroutine in the queue has had a chance to run.
type Executor struct {
	mu      sync.Mutex
	pq      priorityqueue[*Coroutine]
	running bool
	autorun func()
	pool    sync.Pool
	ps      panicstack
}

func (e *Executor) coroutinePool() *sync.Pool {
	return &e.pool
}

// Autorun sets up an autorun function to calling the Run method automatically
// whenever a [Coroutine] is spawned or resumed.
//
// One must pass a function that calls the Run method.
//
// If f blocks, the Spawn method may block too.
// The best practice is not to block.
func (e *Executor) Autorun(f func()) {
	e.autorun = f
}

// Run pops and runs every [Coroutine] in the queue until the queue is
// emptied.
//
// Run must not be called twice at the same time. If any root Coroutine
// panicked while running, Run panics after the queue is drained.
func (e *Executor) Run() {
	e.mu.Lock()
	e.running = true

	for !e.pq.Empty() {
		co := e.pq.Pop()
		e.runCoroutine(co)
	}

	e.running = false
	ps := e.ps
	e.ps = nil
	e.mu.Unlock()

	ps.Repanic()
}

// Spawn creates a root [Coroutine] to work on t.
//
// The Coroutine is added in a queue. To run it, either call the Run method,
// or call the Autorun method to set up an autorun function beforehand.
//
// Spawn is safe for concurrent use.
func (e *Executor) Spawn(t Task) {
	co := e.newCoroutine().init(e, t).recyclable()
	co.Resume()
}
