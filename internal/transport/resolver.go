package transport

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"
	"weak"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ResultHandler receives the outcome of an asynchronous resolution.
// Callers hand the Resolver a pointer they still own; the Resolver never
// takes a strong reference to it (see ResolveAsync).
type ResultHandler struct {
	OnResolved func(addr string, err error)
}

// Resolver is the Async Resolver Handle (spec.md §2.1, §4.7): an
// externally-constructed, shared resolver that accepts (spec, weak result
// handler) pairs and eventually invokes the handler with the resolved
// address or a failure. Transport holds it by shared ownership; Drain
// blocks until every in-flight resolution has been delivered or dropped.
type Resolver struct {
	log      *slog.Logger
	net      *net.Resolver
	cache    *redis.Client
	cacheTTL time.Duration

	wg sync.WaitGroup
}

// NewResolver builds a Resolver. cache may be nil, in which case every
// resolution goes to the network; when set, successful resolutions are
// cached under their spec for cacheTTL, matching internal/gvisor's
// StateCloner pattern of Redis as a shared, TTL'd state cache rather than a
// queue.
func NewResolver(log *slog.Logger, cache *redis.Client, cacheTTL time.Duration) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{log: log, net: net.DefaultResolver, cache: cache, cacheTTL: cacheTTL}
}

// ResolveAsync enqueues spec for resolution and returns immediately.
// handler is tracked only via a weak.Pointer: if the caller's own strong
// reference to handler goes away before resolution completes, the
// eventual callback is silently skipped rather than keeping handler (and
// anything it closes over) alive past its owner's lifetime (spec.md §9).
func (r *Resolver) ResolveAsync(ctx context.Context, spec string, handler *ResultHandler) {
	reqID := uuid.NewString()
	weakHandler := weak.Make(handler)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		addr, err := r.resolve(ctx, spec, reqID)
		deliverWeak(weakHandler, addr, err, r.log, reqID, spec)
	}()
}

// deliverWeak resolves the weak reference at delivery time and invokes the
// handler iff the caller still holds a strong reference to it. Split out
// from ResolveAsync's goroutine so the drop-before-delivery behavior is
// unit-testable without racing a real resolution.
func deliverWeak(wp weak.Pointer[ResultHandler], addr string, err error, log *slog.Logger, reqID, spec string) {
	h := wp.Value()
	if h == nil {
		log.Debug("resolution delivered to a dropped handler", "request_id", reqID, "spec", spec)
		return
	}
	if h.OnResolved != nil {
		h.OnResolved(addr, err)
	}
}

func (r *Resolver) resolve(ctx context.Context, spec, reqID string) (string, error) {
	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, cacheKey(spec)).Result(); err == nil && cached != "" {
			r.log.Debug("resolution cache hit", "request_id", reqID, "spec", spec)
			return cached, nil
		}
	}

	host, port, err := net.SplitHostPort(spec)
	if err != nil {
		// spec may already be a bare host or a non-host-port endpoint
		// (e.g. a unix socket path); pass it through unresolved.
		return spec, nil
	}

	addrs, err := r.net.LookupHost(ctx, host)
	if err != nil {
		r.log.Warn("resolution failed", "request_id", reqID, "spec", spec, "error", err)
		return "", err
	}

	resolved := net.JoinHostPort(addrs[0], port)

	if r.cache != nil {
		if err := r.cache.Set(ctx, cacheKey(spec), resolved, r.cacheTTL).Err(); err != nil {
			r.log.Debug("resolution cache write failed", "request_id", reqID, "error", err)
		}
	}

	return resolved, nil
}

func cacheKey(spec string) string {
	return "transport:resolve:" + spec
}

// Drain blocks until every resolution enqueued before this call has been
// delivered or dropped. The facade calls this during teardown, after the
// caller has already shut down and joined every worker (spec.md §4.7).
func (r *Resolver) Drain() {
	r.wg.Wait()
}
