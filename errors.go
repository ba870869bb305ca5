package async

import "errors"

// ErrIllegalContext is the panic value raised by [AwaitFromSync] when it is
// called from a goroutine that is not the fiber of a [RunSync] call, or from
// a fiber that has no driving Coroutine, or when it is passed a nil Future.
//
// There is no implicit way to await from an arbitrary goroutine: without a
// driving Coroutine to hand the Future to, there is nothing to pump it.
var ErrIllegalContext = errors.New("async: await_from_sync called outside a RunSync fiber")

// ErrNoSuspension is the panic value raised by [Future.Wait] when the
// function passed to [RunSync] was started with [RequireSuspension] and
// returned without ever calling [AwaitFromSync].
var ErrNoSuspension = errors.New("async: function returned without suspending")

// ErrCoroutineCanceled is delivered into a fiber's suspended [AwaitFromSync]
// call, and rejects its [RunSync] Future, when the Coroutine driving it is
// canceled through the host runtime itself (e.g. it loses a [Select], or its
// parent ends) rather than through the context.Context passed to RunSync.
var ErrCoroutineCanceled = errors.New("async: coroutine driving fiber was canceled")
