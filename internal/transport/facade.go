package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Transport is the public facade (spec.md §2.4): it holds the resolver
// handle and an ordered, fixed-at-construction list of worker threads. It
// dispatches endpoint operations via the shard selector and broadcasts
// tuning and lifecycle operations to every worker. Transport itself is
// stateless on the hot path — Listen/Connect/Execute only hash and
// forward — so calls from multiple goroutines proceed without a facade
// level lock.
type Transport struct {
	workers  []Worker
	resolver *Resolver
	log      *slog.Logger

	// started and the mutex guarding it are the facade's only piece of
	// shared state; everything else either lives on a worker (mutated only
	// by that worker) or is read-only after construction (the worker
	// slice itself).
	started bool
	mu      sync.Mutex
}

// New constructs a Transport with n eagerly-constructed workers sharing
// resolver. Workers do not run until Start succeeds (spec.md §3). n must
// be >= 1.
func New(n int, resolver *Resolver, log *slog.Logger) (*Transport, error) {
	if n < 1 {
		return nil, ErrInvalidPoolSize
	}
	if log == nil {
		log = slog.Default()
	}
	if resolver == nil {
		resolver = NewResolver(log, nil, 0)
	}

	workers := make([]Worker, n)
	for i := 0; i < n; i++ {
		workers[i] = newTCPWorker(i, log)
	}

	return &Transport{
		workers:  workers,
		resolver: resolver,
		log:      log,
	}, nil
}

// -- Endpoint operations (spec.md §4.2) --------------------------------

// Listen computes the shard key from spec and forwards to the selected
// worker. The worker's result (including a nil Connector on failure) is
// returned verbatim; the facade never translates it.
func (t *Transport) Listen(spec string, streamer Streamer, adapter ServerAdapter) (Connector, error) {
	w := t.workers[selectWorker(keyFromSpec([]byte(spec)), len(t.workers))]
	return w.Listen(spec, streamer, adapter)
}

// Connect computes the shard key from spec and forwards to the selected
// worker.
func (t *Transport) Connect(spec string, streamer Streamer, adminHandler AdminHandler, adminCtx any, adapter ServerAdapter, connCtx any) (Connection, error) {
	w := t.workers[selectWorker(keyFromSpec([]byte(spec)), len(t.workers))]
	return w.Connect(spec, streamer, adminHandler, adminCtx, adapter, connCtx)
}

// ResolveAsync forwards unchanged to the resolver handle. handler is held
// weakly by the resolver; see Resolver.ResolveAsync.
func (t *Transport) ResolveAsync(ctx context.Context, spec string, handler *ResultHandler) {
	t.resolver.ResolveAsync(ctx, spec, handler)
}

// -- Non-endpoint dispatch (spec.md §4.4) -------------------------------

// GetScheduler returns the scheduler of an arbitrary worker, selected via
// the sentinel key. Callers must not assume a particular worker.
func (t *Transport) GetScheduler() Scheduler {
	w := t.workers[selectWorker(sentinelKey(), len(t.workers))]
	return w.GetScheduler()
}

// Execute runs fn on an arbitrary worker's command loop and reports
// whether that worker accepted it (false if it has already shut down).
func (t *Transport) Execute(fn func()) bool {
	w := t.workers[selectWorker(sentinelKey(), len(t.workers))]
	return w.Execute(fn)
}

// -- I/O component router (spec.md §4.5) --------------------------------
//
// These never consult the selector: a component is manipulated only by
// the worker that created it, reached via its own Owner() back-reference,
// regardless of which goroutine calls the facade.

func (t *Transport) Add(c IOComponent) error { return c.Owner().Add(c) }
func (t *Transport) EnableRead(c IOComponent) error { return c.Owner().EnableRead(c) }
func (t *Transport) DisableRead(c IOComponent) error { return c.Owner().DisableRead(c) }
func (t *Transport) EnableWrite(c IOComponent) error { return c.Owner().EnableWrite(c) }
func (t *Transport) DisableWrite(c IOComponent) error { return c.Owner().DisableWrite(c) }
func (t *Transport) CloseComponent(c IOComponent) error {
	return c.Owner().CloseComponent(c)
}

// -- Broadcast tuning (spec.md §4.3) ------------------------------------
//
// Each of these visits every worker in index order. The facade does not
// serialize them against concurrent callers; see spec.md §9 on broadcast
// ordering.

func (t *Transport) SetIOCTimeOut(d time.Duration) {
	for _, w := range t.workers {
		w.SetIOCTimeOut(d)
	}
}

func (t *Transport) SetMaxInputBufferSize(n int) {
	for _, w := range t.workers {
		w.SetMaxInputBufferSize(n)
	}
}

func (t *Transport) SetMaxOutputBufferSize(n int) {
	for _, w := range t.workers {
		w.SetMaxOutputBufferSize(n)
	}
}

func (t *Transport) SetDirectWrite(on bool) {
	for _, w := range t.workers {
		w.SetDirectWrite(on)
	}
}

func (t *Transport) SetTCPNoDelay(on bool) {
	for _, w := range t.workers {
		w.SetTCPNoDelay(on)
	}
}

func (t *Transport) SetLogStats(on bool) {
	for _, w := range t.workers {
		w.SetLogStats(on)
	}
}

// GetNumIOComponents returns the sum of every worker's component count.
// The result is a non-atomic snapshot: workers are not frozen while it is
// computed (spec.md §3, §7).
func (t *Transport) GetNumIOComponents() int {
	total := 0
	for _, w := range t.workers {
		total += w.GetNumIOComponents()
	}
	return total
}

// Sync invokes Sync on every worker in order and returns only once every
// worker has acknowledged.
func (t *Transport) Sync(ctx context.Context) error {
	for _, w := range t.workers {
		if err := w.Sync(ctx); err != nil {
			return fmt.Errorf("transport: sync worker %d: %w", w.Index(), err)
		}
	}
	return nil
}

// -- Lifecycle (spec.md §4.3, §3) ---------------------------------------

// Start starts every worker and returns the logical AND of per-worker
// successes. It continues starting the remaining workers even if one
// fails (spec.md §4.3, §7, §8 scenario 4).
func (t *Transport) Start() bool {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return false
	}
	t.started = true
	t.mu.Unlock()

	ok := true
	for _, w := range t.workers {
		if !w.Start() {
			ok = false
		}
	}
	return ok
}

// ShutDown signals every worker. If wait is true, each call blocks until
// its worker is quiesced before moving to the next.
func (t *Transport) ShutDown(wait bool) {
	for _, w := range t.workers {
		w.ShutDown(wait)
	}
}

// WaitFinished joins every worker.
func (t *Transport) WaitFinished() {
	for _, w := range t.workers {
		w.WaitFinished()
	}
}

// Close performs the caller contract spec.md §4.7 requires before
// releasing the facade: ShutDown(true), then WaitFinished, then drain the
// resolver. Callers that need the split-phase shutdown can call ShutDown
// and WaitFinished directly instead and skip Close.
func (t *Transport) Close() error {
	t.ShutDown(true)
	t.WaitFinished()
	t.resolver.Drain()
	return nil
}

// -- Single-thread mode (spec.md §4.6) -----------------------------------

func (t *Transport) assertSingleThreaded() error {
	if len(t.workers) != 1 {
		return ErrNotSingleThreaded
	}
	return nil
}

func (t *Transport) GetTimeSampler() (TimeSampler, error) {
	if err := t.assertSingleThreaded(); err != nil {
		return nil, err
	}
	return t.workers[0].GetTimeSampler(), nil
}

func (t *Transport) InitEventLoop() (bool, error) {
	if err := t.assertSingleThreaded(); err != nil {
		return false, err
	}
	return t.workers[0].InitEventLoop(), nil
}

func (t *Transport) EventLoopIteration() (bool, error) {
	if err := t.assertSingleThreaded(); err != nil {
		return false, err
	}
	return t.workers[0].EventLoopIteration(), nil
}

func (t *Transport) Main() error {
	if err := t.assertSingleThreaded(); err != nil {
		return err
	}
	t.workers[0].Main()
	return nil
}

// -- prometheus.Collector -------------------------------------------------

var (
	ioComponentsDesc = prometheus.NewDesc(
		"transport_io_components",
		"Number of live I/O components owned by a worker.",
		[]string{"worker"}, nil,
	)
	poolSizeDesc = prometheus.NewDesc(
		"transport_pool_size",
		"Number of workers in the pool.",
		nil, nil,
	)
)

func (t *Transport) Describe(ch chan<- *prometheus.Desc) {
	ch <- ioComponentsDesc
	ch <- poolSizeDesc
}

func (t *Transport) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(poolSizeDesc, prometheus.GaugeValue, float64(len(t.workers)))
	for _, w := range t.workers {
		ch <- prometheus.MustNewConstMetric(
			ioComponentsDesc, prometheus.GaugeValue,
			float64(w.GetNumIOComponents()),
			fmt.Sprintf("%d", w.Index()),
		)
	}
}
