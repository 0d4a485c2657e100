package transport

import "errors"

// Precondition errors returned by constructors and single-thread-mode
// entrypoints. The facade never returns these from the hot dispatch path;
// they only guard construction and mode-specific calls.
var (
	// ErrInvalidPoolSize is returned by New when the requested worker count
	// is less than one.
	ErrInvalidPoolSize = errors.New("transport: pool size must be >= 1")

	// ErrNotSingleThreaded is returned by the single-thread-mode delegates
	// (InitEventLoop, EventLoopIteration, Main, GetTimeSampler) when the
	// pool has more than one worker.
	ErrNotSingleThreaded = errors.New("transport: single-thread-mode call requires a pool of size 1")

	// ErrAlreadyStarted names the case of Start being called a second time.
	// Start detects that case and reports it by returning false without
	// restarting any worker; it does not return this error value.
	ErrAlreadyStarted = errors.New("transport: pool already started")

	// ErrClosed names the state of a facade that has completed ShutDown.
	// Neither the facade nor tcpWorker returns it: endpoint operations
	// issued after ShutDown are forwarded to the selected worker as usual.
	ErrClosed = errors.New("transport: pool is shut down")
)
