package transport

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// shardKey is the input to the worker selector: either the bytes of an
// endpoint spec, or the sentinel (nil, 0) for non-endpoint dispatch such as
// GetScheduler and execute.
type shardKey struct {
	spec []byte
}

// sentinelKey is used for operations with no endpoint affinity.
func sentinelKey() shardKey {
	return shardKey{}
}

// keyFromSpec derives a shard key from an endpoint spec.
func keyFromSpec(spec []byte) shardKey {
	return shardKey{spec: spec}
}

// callSeq is the per-call identity component of the selector hash. It plays
// the role the original fragment assigns to "a stable pointer to a local
// structure that differs between calls": a value that is unique-enough per
// call and costs nothing to produce. An atomic counter satisfies that
// without allocating, which a heap-escaping local or a UUID would not.
var callSeq atomic.Uint64

// selectWorker maps key to a worker index in [0, n). It deliberately does
// not depend solely on key: a second hash is computed over a call-local
// salt (an incrementing counter and a timestamp) mixed with the hash of
// key, so repeated calls with the same key may land on different workers.
// This avoids one endpoint pinning all its traffic to a single worker while
// still consuming the entropy of the endpoint spec. It is a pure function
// with no allocation and no I/O.
func selectWorker(key shardKey, n int) int {
	if n <= 1 {
		return 0
	}

	h1 := xxhash.Sum64(key.spec)

	seq := callSeq.Add(1)
	ts := uint64(time.Now().UnixNano())

	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:8], seq)
	binary.LittleEndian.PutUint64(buf[8:16], ts)
	binary.LittleEndian.PutUint64(buf[16:24], h1)

	h2 := xxhash.Sum64(buf[:])
	return int(h2 % uint64(n))
}
