package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler is the external collaborator a worker exposes for timer and
// task scheduling. The transport thread itself owns the real
// implementation; this core only needs to pass the handle through.
type Scheduler interface {
	// Schedule arranges for fn to run after d. Which goroutine runs fn is up
	// to the implementation: timerScheduler runs it on a timer goroutine,
	// not on the worker's command loop.
	Schedule(d time.Duration, fn func())
}

// TimeSampler is the single-thread-mode collaborator used to drive the
// event loop's notion of "now" from the caller's own thread.
type TimeSampler interface {
	Now() time.Time
}

// Streamer and ServerAdapter are opaque, out-of-scope collaborators per
// spec.md §1 ("packet streamers and server adapters"). The facade and
// worker pass them through to the connection/listener without interpreting
// them.
type Streamer interface{}
type ServerAdapter interface{}

// AdminHandler receives out-of-band notifications about a Connect attempt
// (e.g. handshake progress); also an opaque, out-of-scope collaborator.
type AdminHandler interface{}

// Worker is the required contract of a transport thread (§6). The facade
// never touches a worker's private state directly; every operation here
// must be safe to call from any goroutine.
type Worker interface {
	// Index is this worker's fixed position in the pool's WorkerList.
	Index() int

	Listen(spec string, streamer Streamer, adapter ServerAdapter) (Connector, error)
	Connect(spec string, streamer Streamer, adminHandler AdminHandler, adminCtx any, adapter ServerAdapter, connCtx any) (Connection, error)

	GetNumIOComponents() int

	SetIOCTimeOut(d time.Duration)
	SetMaxInputBufferSize(n int)
	SetMaxOutputBufferSize(n int)
	SetDirectWrite(on bool)
	SetTCPNoDelay(on bool)
	SetLogStats(on bool)

	Sync(ctx context.Context) error
	GetScheduler() Scheduler
	Execute(fn func()) bool

	Start() bool
	ShutDown(wait bool)
	WaitFinished()

	// Add registers a newly created component with its owner; Enable/Disable
	// and Close route here from the facade via IOComponent.Owner().
	Add(c IOComponent) error
	EnableRead(c IOComponent) error
	DisableRead(c IOComponent) error
	EnableWrite(c IOComponent) error
	DisableWrite(c IOComponent) error
	CloseComponent(c IOComponent) error

	// Single-thread-mode hooks. Valid only when the pool has exactly one
	// worker; the facade asserts that before delegating.
	GetTimeSampler() TimeSampler
	InitEventLoop() bool
	EventLoopIteration() bool
	Main()
}

type workerState int32

const (
	workerCreated workerState = iota
	workerRunning
	workerShuttingDown
	workerTerminated
)

// tuning holds the mutable settings a worker accepts via the facade's
// broadcast tuning setters (§4.3). Plain fields guarded by mu: these are
// expected to be set before Start or at quiescent moments, never on a hot
// path, so a mutex is appropriate even though the rest of the loop avoids
// one.
type tuning struct {
	ioTimeout      time.Duration
	maxInputBytes  int
	maxOutputBytes int
	directWrite    bool
	tcpNoDelay     bool
	logStats       bool
}

// tcpWorker is the one concrete Worker implementation this module ships:
// a single goroutine running a command loop over real net.Listener /
// net.Conn primitives. It exists so Transport is exercisable end to end;
// callers needing a different I/O backend implement Worker themselves.
type tcpWorker struct {
	idx int
	log *slog.Logger

	mu       sync.Mutex
	tuning   tuning
	state    workerState
	started  atomic.Bool
	shutdown atomic.Bool

	components map[IOComponent]struct{}

	cmds chan func()
	done chan struct{}
	wg   sync.WaitGroup

	scheduler Scheduler
}

// newTCPWorker constructs a worker in the "created" state; it does not run
// until Start is called, matching §3's lifecycle invariant.
func newTCPWorker(idx int, log *slog.Logger) *tcpWorker {
	return &tcpWorker{
		idx:        idx,
		log:        log.With("worker", idx),
		components: make(map[IOComponent]struct{}),
		cmds:       make(chan func(), 64),
		done:       make(chan struct{}),
		scheduler:  &timerScheduler{},
	}
}

func (w *tcpWorker) Index() int { return w.idx }

func (w *tcpWorker) Listen(spec string, streamer Streamer, adapter ServerAdapter) (Connector, error) {
	ln, err := net.Listen("tcp", spec)
	if err != nil {
		w.log.Warn("listen failed", "spec", spec, "error", err)
		return nil, nil //nolint:nilerr // worker-level failures are a nil result, per spec.md §4.2
	}
	c := &tcpListener{owner: w, ln: ln, streamer: streamer, adapter: adapter}
	w.register(c)
	go c.acceptLoop()
	return c, nil
}

func (w *tcpWorker) Connect(spec string, streamer Streamer, adminHandler AdminHandler, adminCtx any, adapter ServerAdapter, connCtx any) (Connection, error) {
	conn, err := net.Dial("tcp", spec)
	if err != nil {
		w.log.Warn("connect failed", "spec", spec, "error", err)
		return nil, nil //nolint:nilerr // see Listen
	}
	c := &tcpConn{owner: w, conn: conn, streamer: streamer, adapter: adapter, ctx: connCtx}
	w.register(c)
	return c, nil
}

func (w *tcpWorker) register(c IOComponent) {
	w.mu.Lock()
	w.components[c] = struct{}{}
	w.mu.Unlock()
}

func (w *tcpWorker) unregister(c IOComponent) {
	w.mu.Lock()
	delete(w.components, c)
	w.mu.Unlock()
}

func (w *tcpWorker) GetNumIOComponents() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.components)
}

func (w *tcpWorker) SetIOCTimeOut(d time.Duration) {
	w.mu.Lock()
	w.tuning.ioTimeout = d
	w.mu.Unlock()
}

func (w *tcpWorker) SetMaxInputBufferSize(n int) {
	w.mu.Lock()
	w.tuning.maxInputBytes = n
	w.mu.Unlock()
}

func (w *tcpWorker) SetMaxOutputBufferSize(n int) {
	w.mu.Lock()
	w.tuning.maxOutputBytes = n
	w.mu.Unlock()
}

func (w *tcpWorker) SetDirectWrite(on bool) {
	w.mu.Lock()
	w.tuning.directWrite = on
	w.mu.Unlock()
}

func (w *tcpWorker) SetTCPNoDelay(on bool) {
	w.mu.Lock()
	w.tuning.tcpNoDelay = on
	w.mu.Unlock()
}

func (w *tcpWorker) SetLogStats(on bool) {
	w.mu.Lock()
	w.tuning.logStats = on
	w.mu.Unlock()
}

// Sync blocks until a round-trip marker has been processed by the worker's
// command loop, i.e. every command enqueued before Sync was called has run.
func (w *tcpWorker) Sync(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case w.cmds <- func() { close(ack) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return nil
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return nil
	}
}

func (w *tcpWorker) GetScheduler() Scheduler { return w.scheduler }

// Execute enqueues fn on the worker's command loop. It returns false
// without running fn if the worker has already shut down (§4.4, §7).
func (w *tcpWorker) Execute(fn func()) bool {
	if w.shutdown.Load() {
		return false
	}
	select {
	case w.cmds <- fn:
		return true
	case <-w.done:
		return false
	}
}

func (w *tcpWorker) Start() bool {
	if !w.started.CompareAndSwap(false, true) {
		return false
	}
	w.mu.Lock()
	w.state = workerRunning
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop()
	}()
	return true
}

func (w *tcpWorker) loop() {
	for {
		select {
		case fn := <-w.cmds:
			fn()
		case <-w.done:
			// Drain remaining enqueued commands before exiting so Sync
			// callers waiting on an ack already in the channel unblock.
			for {
				select {
				case fn := <-w.cmds:
					fn()
				default:
					return
				}
			}
		}
	}
}

func (w *tcpWorker) ShutDown(wait bool) {
	if w.shutdown.CompareAndSwap(false, true) {
		w.mu.Lock()
		w.state = workerShuttingDown
		comps := make([]IOComponent, 0, len(w.components))
		for c := range w.components {
			comps = append(comps, c)
		}
		w.mu.Unlock()

		for _, c := range comps {
			_ = c.Close()
		}
		close(w.done)
	}
	if wait {
		w.WaitFinished()
	}
}

func (w *tcpWorker) WaitFinished() {
	w.wg.Wait()
	w.mu.Lock()
	w.state = workerTerminated
	w.mu.Unlock()
}

func (w *tcpWorker) Add(c IOComponent) error {
	if c.Owner() != Worker(w) {
		return fmt.Errorf("transport: component owned by a different worker")
	}
	w.register(c)
	return nil
}

func (w *tcpWorker) EnableRead(c IOComponent) error { return w.withComponent(c, func() {}) }
func (w *tcpWorker) DisableRead(c IOComponent) error { return w.withComponent(c, func() {}) }

func (w *tcpWorker) EnableWrite(c IOComponent) error { return w.withComponent(c, func() {}) }
func (w *tcpWorker) DisableWrite(c IOComponent) error { return w.withComponent(c, func() {}) }

func (w *tcpWorker) CloseComponent(c IOComponent) error {
	w.unregister(c)
	return c.Close()
}

// withComponent is the common guard for the tuning-style I/O component
// operations: verify ownership, then run fn (a no-op placeholder here,
// since read/write enabling is a property of the concrete net.Conn-backed
// components which expose no interrupt-the-select hook from outside the
// event loop without the real selector this core excludes — see
// spec.md §1's "out of scope" list).
func (w *tcpWorker) withComponent(c IOComponent, fn func()) error {
	if c.Owner() != Worker(w) {
		return fmt.Errorf("transport: component not owned by this worker")
	}
	fn()
	return nil
}

func (w *tcpWorker) GetTimeSampler() TimeSampler { return realTimeSampler{} }

// InitEventLoop marks the worker ready to be driven by the caller's own
// thread via EventLoopIteration/Main, without spawning the background
// goroutine Start would. Only valid in single-thread mode; the facade
// asserts that before calling through.
func (w *tcpWorker) InitEventLoop() bool {
	if !w.started.CompareAndSwap(false, true) {
		return false
	}
	w.mu.Lock()
	w.state = workerRunning
	w.mu.Unlock()
	return true
}

func (w *tcpWorker) EventLoopIteration() bool {
	select {
	case fn := <-w.cmds:
		fn()
		return true
	default:
		return false
	}
}

func (w *tcpWorker) Main() {
	w.loop()
}

type realTimeSampler struct{}

func (realTimeSampler) Now() time.Time { return time.Now() }

// timerScheduler is a minimal Scheduler backed by time.AfterFunc. It is not
// wired into the worker's own command loop (that integration belongs to
// the real event loop this core treats as out of scope), but it lets
// GetScheduler() return something callers can actually use.
type timerScheduler struct{}

func (timerScheduler) Schedule(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}
