package async

import "context"

// An Awaitable is anything a Task can suspend a [Coroutine] on and later
// read a result from. [Future] is the concrete type this package provides;
// it is the type [AwaitFromSync] and the driver created by [RunSync] work
// with.
type Awaitable[T any] interface {
	awaitable
}

// A Future is a one-shot result slot: something resolves it exactly once,
// with either a value or a panic, and anything watching it through
// [Coroutine.Await] resumes when that happens.
//
// A Future's zero value is not ready to use; create one with [NewFuture].
type Future[T any] struct {
	sig      Signal
	done     bool
	value    T
	panicked bool
	panicVal any
}

// NewFuture returns a new, unresolved [Future].
func NewFuture[T any]() *Future[T] {
	return new(Future[T])
}

// Resolve resolves f with v. Resolve panics if f is already resolved.
//
// One should only call this method in a [Task] function.
func (f *Future[T]) Resolve(v T) {
	if f.done {
		panic("async: future already resolved")
	}
	f.value = v
	f.done = true
	f.sig.Notify()
}

// Reject resolves f with a panic value of v. Reject panics if f is already
// resolved.
//
// One should only call this method in a [Task] function.
func (f *Future[T]) Reject(v any) {
	if f.done {
		panic("async: future already resolved")
	}
	f.panicked = true
	f.panicVal = v
	f.done = true
	f.sig.Notify()
}

// Wait returns f's value once resolved, or re-panics f's panic value.
//
// Wait is meant to be called from a [Task] running in the same [Coroutine]
// that is already watching f (e.g. returned from [Coroutine.Await]), or
// from plain synchronous code via [AwaitFromSync]. Calling it before f is
// resolved from anywhere else panics.
func (f *Future[T]) Wait() T {
	if !f.done {
		panic("async: future not yet resolved")
	}
	if f.panicked {
		panic(f.panicVal)
	}
	return f.value
}

// Ready reports whether f has been resolved or rejected.
func (f *Future[T]) Ready() bool { return f.done }

func (f *Future[T]) ready() bool { return f.done }

func (f *Future[T]) signal() *Signal { return &f.sig }

func (f *Future[T]) addListener(co *Coroutine) { f.sig.addListener(co) }

func (f *Future[T]) removeListener(co *Coroutine) { f.sig.removeListener(co) }

func (f *Future[T]) outcome() (value any, panicked bool, panicVal any) {
	if f.panicked {
		return nil, true, f.panicVal
	}
	return f.value, false, nil
}

// An Option configures [RunSync].
type Option func(*bridgeConfig)

type bridgeConfig struct {
	requireSuspension bool
}

// RequireSuspension makes the [Future] returned by [RunSync] reject with
// [ErrNoSuspension] if the bridged function returns without ever calling
// [AwaitFromSync].
func RequireSuspension() Option {
	return func(c *bridgeConfig) { c.requireSuspension = true }
}

// FiberContext returns the [context.Context] that was passed to the
// [RunSync] call driving the fiber on which it is called, without fn having
// to thread a context.Context parameter through every intervening call.
//
// FiberContext panics with [ErrIllegalContext] when called outside a
// RunSync fiber, exactly like [AwaitFromSync].
func FiberContext() context.Context {
	f, ok := currentFiber()
	if !ok {
		panic(ErrIllegalContext)
	}
	return f.ctx
}

// RunSync adopts fn, an ordinary synchronous function, into co's enclosing
// asynchronous runtime.
//
// RunSync runs fn on its own goroutine (a fiber). Each time fn calls
// [AwaitFromSync], the returned Task awaits the given [Future] on co's
// behalf without blocking co's [Executor], then resumes fn with the
// Future's outcome. fn's own return value, or its panic, resolves the
// returned Future.
//
// The returned Task must be run by a Coroutine, typically via
// [Executor.Spawn] or [Coroutine.Spawn]; RunSync itself performs no
// scheduling.
func RunSync[R any](ctx context.Context, fn func() R, opts ...Option) (*Future[R], Task) {
	var cfg bridgeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	result := NewFuture[R]()
	fb := newFiber(ctx)

	var (
		started    bool
		suspended  bool
		fiberDone  bool
		pendingAw  awaitable
		cancelSig  Signal
		cancelOnce bool
	)

	watchCancellation := func(co *Coroutine) {
		if cancelOnce {
			return
		}
		cancelOnce = true
		executor := co.Executor()
		go func() {
			select {
			case <-ctx.Done():
				executor.Spawn(Do(cancelSig.Notify))
			case <-fb.doneCh:
			}
		}()
	}

	// finish resolves result from fb's terminal yieldMsg, and turns an
	// uncaught panic from fn into a panic of co itself, so it propagates
	// the same way any other uncaught Coroutine panic does: to co's parent
	// Coroutine, or to its Executor if co is a root Coroutine (see doc.go,
	// "Panic Propagation").
	finish := func(co *Coroutine, msg yieldMsg) Result {
		if msg.panicked {
			result.Reject(msg.panicVal)
			return co.Throw(msg.panicVal)
		}
		if cfg.requireSuspension && !suspended {
			result.Reject(ErrNoSuspension)
			return co.End()
		}
		v, _ := msg.value.(R)
		result.Resolve(v)
		return co.End()
	}

	deliverPending := func() {
		value, panicked, panicVal := pendingAw.outcome()
		fb.resumeWith(value, panicked, panicVal)
		pendingAw = nil
	}

	// abortFiber runs, via co.Defer, whenever co ends without fb having
	// finished on its own: not just the ctx-cancellation case waitForChild
	// and afterAwait already watch for, but also the case where co itself
	// is canceled by the host runtime (e.g. it loses a Select, or its
	// parent ends), which bypasses both of those tasks entirely. It pumps
	// fb with ErrCoroutineCanceled until fn actually returns or panics,
	// guaranteeing fb's goroutine exits before co finishes ending, and
	// before result is left permanently unresolved.
	abortFiber := func(co *Coroutine) Result {
		if !started || fiberDone {
			return co.End()
		}
		for pendingAw != nil {
			fb.resumeWith(nil, true, ErrCoroutineCanceled)
			pendingAw = nil
			msg := fb.receiveYield()
			if msg.done {
				break
			}
			pendingAw = msg.awaitable
		}
		<-fb.doneCh
		fiberDone = true
		result.Reject(ErrCoroutineCanceled)
		return co.End()
	}

	var waitForChild, afterAwait Task

	waitForChild = func(co *Coroutine) Result {
		if !started {
			started = true
			fb.driver = co
			watchCancellation(co)
			fb.start(func() any { return fn() })
		}

		msg := fb.receiveYield()

		if msg.done {
			<-fb.doneCh
			fiberDone = true
			return finish(co, msg)
		}

		suspended = true
		pendingAw = msg.awaitable

		if ctx.Err() != nil {
			fb.resumeWith(nil, true, ctx.Err())
			pendingAw = nil
			return co.Transition(waitForChild)
		}

		if pendingAw.ready() {
			deliverPending()
			return co.Transition(waitForChild)
		}

		return co.Await(pendingAw.signal(), &cancelSig).Then(afterAwait)
	}

	afterAwait = func(co *Coroutine) Result {
		if ctx.Err() != nil {
			fb.resumeWith(nil, true, ctx.Err())
			pendingAw = nil
		} else {
			deliverPending()
		}
		return co.Transition(waitForChild)
	}

	entry := func(co *Coroutine) Result {
		co.Defer(abortFiber)
		return co.Transition(waitForChild)
	}

	return result, entry
}

// AwaitFromSync suspends the calling synchronous function until aw
// resolves, and returns its value, or re-panics its panic value.
//
// AwaitFromSync must be called from a goroutine that [RunSync] created for
// this purpose (directly, or many calls deep through ordinary synchronous
// code); calling it from any other goroutine panics with [ErrIllegalContext].
func AwaitFromSync[T any](aw *Future[T]) T {
	if aw == nil {
		panic(ErrIllegalContext)
	}

	f, ok := currentFiber()
	if !ok || f.driver == nil {
		panic(ErrIllegalContext)
	}

	value, panicked, panicVal := f.switchOut(aw)
	if panicked {
		panic(panicVal)
	}

	v, _ := value.(T)
	return v
}
