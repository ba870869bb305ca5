package async

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gather bridges every function in fns with [RunSync], using the same ctx
// and opts for each, and returns their Futures alongside a single [Task]
// that runs every fiber concurrently as children of whichever Coroutine
// runs it, and ends once all of them have finished.
//
// Each Future resolves as soon as its own fiber finishes, so all of them are
// resolved once the returned Task ends; reading one any earlier may observe
// an unresolved [Future].
func Gather[R any](ctx context.Context, fns []func() R, opts ...Option) ([]*Future[R], Task) {
	futures := make([]*Future[R], len(fns))
	tasks := make([]Task, len(fns))

	for i, fn := range fns {
		future, task := RunSync(ctx, fn, opts...)
		futures[i] = future
		tasks[i] = task
	}

	return futures, Join(tasks...)
}

// BoundedRunSync behaves like [RunSync], except that the fiber's goroutine
// is not started until a weight of 1 has been acquired from sem, and that
// weight is released as soon as fn returns or panics.
//
// Spawning fibers has no built-in backpressure: nothing stops a caller from
// starting far more of them than can usefully run at once. BoundedRunSync
// is the bounded alternative, for callers who would otherwise need a
// semaphore of their own at every such hot spot.
func BoundedRunSync[R any](ctx context.Context, sem *semaphore.Weighted, fn func() R, opts ...Option) (*Future[R], Task) {
	wrapped := func() R {
		defer sem.Release(1)
		return fn()
	}

	result, inner := RunSync(ctx, wrapped, opts...)

	gated := func(co *Coroutine) Result {
		executor := co.Executor()
		acquired := NewFuture[error]()

		go func() {
			err := sem.Acquire(ctx, 1)
			executor.Spawn(Do(func() { acquired.Resolve(err) }))
		}()

		return co.Await(acquired.signal()).Then(func(co *Coroutine) Result {
			if err := acquired.Wait(); err != nil {
				result.Reject(err)
				return co.End()
			}
			return co.Transition(inner)
		})
	}

	return result, gated
}
