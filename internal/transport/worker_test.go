package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPWorkerListenAndConnectRegisterComponents(t *testing.T) {
	w := newTCPWorker(0, discardLogger())
	require.True(t, w.Start())
	defer w.ShutDown(true)

	ln, err := w.Listen("127.0.0.1:0", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, ln)
	assert.Same(t, Worker(w), ln.Owner())
	assert.Equal(t, 1, w.GetNumIOComponents())

	conn, err := w.Connect(ln.Addr().String(), nil, nil, nil, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Same(t, Worker(w), conn.Owner())

	// give the listener's acceptLoop a moment to register the accepted side
	require.Eventually(t, func() bool {
		return w.GetNumIOComponents() == 3
	}, time.Second, 10*time.Millisecond)
}

func TestTCPWorkerListenOnBadSpecReturnsNilNotError(t *testing.T) {
	w := newTCPWorker(0, discardLogger())
	require.True(t, w.Start())
	defer w.ShutDown(true)

	ln, err := w.Listen("not-a-valid-address", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, ln)
}

func TestTCPWorkerCloseComponentUnregisters(t *testing.T) {
	w := newTCPWorker(0, discardLogger())
	require.True(t, w.Start())
	defer w.ShutDown(true)

	ln, err := w.Listen("127.0.0.1:0", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, w.GetNumIOComponents())

	require.NoError(t, w.CloseComponent(ln))
	assert.Equal(t, 0, w.GetNumIOComponents())
}

func TestTCPWorkerAddRejectsForeignComponent(t *testing.T) {
	w1 := newTCPWorker(0, discardLogger())
	w2 := newTCPWorker(1, discardLogger())

	foreign := &tcpListener{owner: w2}

	err := w1.Add(foreign)
	assert.Error(t, err)
}

func TestTCPWorkerExecuteRunsOnTheLoop(t *testing.T) {
	w := newTCPWorker(0, discardLogger())
	require.True(t, w.Start())
	defer w.ShutDown(true)

	done := make(chan struct{})
	ok := w.Execute(func() { close(done) })
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Execute did not run fn on the worker's loop")
	}
}

func TestTCPWorkerExecuteFalseAfterShutdown(t *testing.T) {
	w := newTCPWorker(0, discardLogger())
	require.True(t, w.Start())
	w.ShutDown(true)

	ok := w.Execute(func() {})
	assert.False(t, ok)
}

func TestTCPWorkerSyncWaitsForQueuedCommands(t *testing.T) {
	w := newTCPWorker(0, discardLogger())
	require.True(t, w.Start())
	defer w.ShutDown(true)

	var ran bool
	require.True(t, w.Execute(func() { ran = true }))

	require.NoError(t, w.Sync(context.Background()))
	assert.True(t, ran)
}

func TestTCPWorkerSyncRespectsContextCancellation(t *testing.T) {
	w := newTCPWorker(0, discardLogger())
	// not started: nothing ever drains w.cmds, so Sync must honor ctx.

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := w.Sync(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTCPWorkerShutDownClosesRegisteredComponents(t *testing.T) {
	w := newTCPWorker(0, discardLogger())
	require.True(t, w.Start())

	ln, err := w.Listen("127.0.0.1:0", nil, nil)
	require.NoError(t, err)

	w.ShutDown(true)

	_, err = net.Dial("tcp", ln.Addr().String())
	assert.Error(t, err, "listener should be closed once the worker shuts down")
}

func TestTCPWorkerTuningSettersAreIndependentPerWorker(t *testing.T) {
	w1 := newTCPWorker(0, discardLogger())
	w2 := newTCPWorker(1, discardLogger())

	w1.SetTCPNoDelay(true)
	w1.SetIOCTimeOut(5 * time.Second)

	assert.True(t, w1.tuning.tcpNoDelay)
	assert.False(t, w2.tuning.tcpNoDelay)
	assert.Equal(t, 5*time.Second, w1.tuning.ioTimeout)
	assert.Zero(t, w2.tuning.ioTimeout)
}

func TestTCPWorkerInitEventLoopDoesNotSpawnGoroutine(t *testing.T) {
	w := newTCPWorker(0, discardLogger())
	require.True(t, w.InitEventLoop())

	// a second InitEventLoop (or Start) must be rejected: the worker is
	// already marked started, proving InitEventLoop flips the same flag
	// Start does without handing the loop to a background goroutine.
	assert.False(t, w.Start())
}

func TestTCPWorkerEventLoopIterationDrainsOneCommandAtATime(t *testing.T) {
	w := newTCPWorker(0, discardLogger())
	require.True(t, w.InitEventLoop())

	assert.False(t, w.EventLoopIteration(), "no command queued yet")

	ran := false
	require.True(t, w.Execute(func() { ran = true }))

	assert.True(t, w.EventLoopIteration())
	assert.True(t, ran)
}

func TestTCPWorkerGetTimeSamplerReflectsRealTime(t *testing.T) {
	w := newTCPWorker(0, discardLogger())
	before := time.Now()
	now := w.GetTimeSampler().Now()
	assert.False(t, now.Before(before))
}
