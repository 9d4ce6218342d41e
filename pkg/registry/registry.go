package registry

import (
	"time"

	"github.com/shuliakovsky/wax-node-directory/pkg/nodes"
)

func New() *Registry {
	r := &Registry{candidates: map[nodes.Bucket][]nodes.Node{}}
	r.healthy.Store(NewSnapshot("", time.Time{}, nil))
	return r
}

// NewSnapshot copies the given lists so later changes to them are not visible to readers.
func NewSnapshot(id string, at time.Time, buckets map[nodes.Bucket][]nodes.Node) *Snapshot {
	s := &Snapshot{ID: id, TakenAt: at, buckets: make(map[nodes.Bucket][]nodes.Node, len(buckets))}
	for b, list := range buckets {
		cp := make([]nodes.Node, len(list))
		copy(cp, list)
		s.buckets[b] = cp
	}
	return s
}

// Nodes returns the healthy list of a bucket; nil when the bucket is absent.
// The returned slice is shared, callers that reorder it must copy first.
func (s *Snapshot) Nodes(b nodes.Bucket) []nodes.Node {
	if s == nil {
		return nil
	}
	list := s.buckets[b]
	return list[:len(list):len(list)]
}

func (s *Snapshot) Len(b nodes.Bucket) int {
	if s == nil {
		return 0
	}
	return len(s.buckets[b])
}

// KindTotal counts healthy nodes of a kind across both networks.
func (s *Snapshot) KindTotal(k nodes.Kind) int {
	total := 0
	for _, n := range nodes.Networks {
		total += s.Len(nodes.Bucket{Kind: k, Network: n})
	}
	return total
}

// Snapshot returns the currently published snapshot. It is never nil.
func (r *Registry) Snapshot() *Snapshot {
	return r.healthy.Load()
}

// Publish swaps in a new snapshot for all buckets at once.
func (r *Registry) Publish(s *Snapshot) {
	if s == nil {
		return
	}
	r.healthy.Store(s)
}

func (r *Registry) SetCandidates(b nodes.Bucket, list []nodes.Node) {
	cp := make([]nodes.Node, len(list))
	copy(cp, list)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates[b] = cp
}

func (r *Registry) Candidates(b nodes.Bucket) []nodes.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.candidates[b]
	if len(list) == 0 {
		return nil
	}
	out := make([]nodes.Node, len(list))
	copy(out, list)
	return out
}

// AllCandidates returns a copy of every candidate bucket.
func (r *Registry) AllCandidates() map[nodes.Bucket][]nodes.Node {
	out := make(map[nodes.Bucket][]nodes.Node, len(nodes.Buckets()))
	for _, b := range nodes.Buckets() {
		out[b] = r.Candidates(b)
	}
	return out
}

// EmptyBuckets lists buckets that have no candidates yet.
func (r *Registry) EmptyBuckets() []nodes.Bucket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []nodes.Bucket
	for _, b := range nodes.Buckets() {
		if len(r.candidates[b]) == 0 {
			out = append(out, b)
		}
	}
	return out
}

func (r *Registry) CandidateTotal() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, list := range r.candidates {
		total += len(list)
	}
	return total
}
