package async

import (
	"bytes"
	"context"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// awaitable is the type-erased shape [RunSync]'s driver needs in order to
// pump an [Awaitable] on behalf of a suspended fiber, without knowing its
// result type. [Future] is the only implementation.
type awaitable interface {
	ready() bool
	signal() *Signal
	outcome() (value any, panicked bool, panicVal any)
}

// A fiber is a stackful coroutine: a dedicated goroutine, paired with two
// unbuffered channels, that lets a driving [Coroutine] and a plain
// synchronous function transfer control back and forth one value at a time.
//
// Go goroutines already have their own stack; a fiber's only job is to
// impose the strict request/response discipline a greenlet-style coroutine
// facility provides, and to make "which Coroutine is driving the goroutine
// I'm running on" answerable without a language-level parent pointer.
type fiber struct {
	id       uuid.UUID
	goid     int64
	parent   *fiber
	driver   *Coroutine
	ctx      context.Context
	resumeCh chan resumeMsg
	yieldCh  chan yieldMsg
	doneCh   chan struct{}
	finished *atomic.Bool
	catcher  panics.Catcher
}

// yieldMsg travels from the fiber's goroutine to the driver.
type yieldMsg struct {
	done      bool
	value     any
	panicked  bool
	panicVal  any
	awaitable awaitable
}

// resumeMsg travels from the driver to the fiber's goroutine.
type resumeMsg struct {
	value    any
	panicked bool
	panicVal any
}

var (
	fiberRegistryMu sync.Mutex
	fiberRegistry   = make(map[int64]*fiber)
)

func registerFiber(goid int64, f *fiber) {
	fiberRegistryMu.Lock()
	fiberRegistry[goid] = f
	fiberRegistryMu.Unlock()
}

func unregisterFiber(goid int64) {
	fiberRegistryMu.Lock()
	delete(fiberRegistry, goid)
	fiberRegistryMu.Unlock()
}

// currentFiber reports the fiber running on the calling goroutine, if any.
//
// There is no portable "current coroutine" handle in Go, so this resolves
// the calling goroutine's numeric id from its own stack trace and looks it
// up in the process-wide fiber registry, as sanctioned for implementations
// that would rather keep an explicit registry than walk parent pointers.
func currentFiber() (*fiber, bool) {
	id := currentGoroutineID()
	fiberRegistryMu.Lock()
	f, ok := fiberRegistry[id]
	fiberRegistryMu.Unlock()
	return f, ok
}

func currentGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	const prefix = "goroutine "
	b = bytes.TrimPrefix(b, []byte(prefix))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseInt(string(b), 10, 64)
	return id
}

// newFiber creates a fiber whose parent, if any, is the fiber currently
// running on the calling goroutine (the case where a [RunSync] call is made
// from inside a function already bridged by another RunSync call).
func newFiber(ctx context.Context) *fiber {
	f := &fiber{
		id:       uuid.New(),
		ctx:      ctx,
		resumeCh: make(chan resumeMsg),
		yieldCh:  make(chan yieldMsg),
		doneCh:   make(chan struct{}),
		finished: new(atomic.Bool),
	}
	if parent, ok := currentFiber(); ok {
		f.parent = parent
	}

	runtime.AddCleanup(f, warnIfFiberAbandoned, fiberCleanupArgs{id: f.id, finished: f.finished})

	return f
}

type fiberCleanupArgs struct {
	id       uuid.UUID
	finished *atomic.Bool
}

func warnIfFiberAbandoned(a fiberCleanupArgs) {
	if !a.finished.Load() {
		logger().Warn("async: fiber garbage collected before completing",
			zap.String("fiber_id", a.id.String()))
	}
}

// start launches the fiber's goroutine to run target, and blocks until the
// goroutine has registered itself, so that a [RunSync] caller cannot race
// with [AwaitFromSync] being called from inside target before registration
// completes.
func (f *fiber) start(target func() any) {
	ready := make(chan struct{})

	go func() {
		goid := currentGoroutineID()
		f.goid = goid
		registerFiber(goid, f)
		close(ready)

		defer unregisterFiber(goid)
		defer close(f.doneCh)
		defer f.finished.Store(true)

		var value any

		f.catcher.Try(func() { value = target() })

		if rec := f.catcher.Recovered(); rec != nil {
			f.yieldCh <- yieldMsg{done: true, panicked: true, panicVal: rec.Value}
			return
		}

		f.yieldCh <- yieldMsg{done: true, value: value}
	}()

	<-ready
}

// receiveYield blocks until the fiber either yields an awaitable or finishes.
// Called from the driver's goroutine.
func (f *fiber) receiveYield() yieldMsg {
	return <-f.yieldCh
}

// resumeWith delivers a value, or panics v into the fiber at its suspended
// [AwaitFromSync] call, and blocks until the fiber receives it.
// Called from the driver's goroutine.
func (f *fiber) resumeWith(value any, panicked bool, panicVal any) {
	f.resumeCh <- resumeMsg{value: value, panicked: panicked, panicVal: panicVal}
}

// switchOut hands aw to the driver and blocks until the driver resumes this
// fiber with aw's outcome. Called from the fiber's own goroutine, i.e. from
// inside [AwaitFromSync].
func (f *fiber) switchOut(aw awaitable) (value any, panicked bool, panicVal any) {
	f.yieldCh <- yieldMsg{awaitable: aw}
	msg := <-f.resumeCh
	return msg.value, msg.panicked, msg.panicVal
}

var pkgLogger atomic.Pointer[zap.Logger]

func init() {
	pkgLogger.Store(zap.NewNop())
}

// SetLogger installs l as the logger used for the module's diagnostics,
// currently limited to a warning emitted when a fiber created by [RunSync]
// is garbage collected before its function returned or panicked.
// Passing nil restores the no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	pkgLogger.Store(l)
}

func logger() *zap.Logger {
	return pkgLogger.Load()
}
