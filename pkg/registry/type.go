package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shuliakovsky/wax-node-directory/pkg/nodes"
)

// Registry keeps the raw candidate lists and the published healthy snapshot.
// Candidates are written by directory refreshes; the snapshot pointer is
// replaced wholesale by the scheduler and never mutated afterwards.
type Registry struct {
	mu         sync.RWMutex
	candidates map[nodes.Bucket][]nodes.Node

	healthy atomic.Pointer[Snapshot]
}

// Snapshot is one health cycle's result for every bucket. Treat it as read-only.
type Snapshot struct {
	ID      string
	TakenAt time.Time
	buckets map[nodes.Bucket][]nodes.Node
}
