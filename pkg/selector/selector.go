// Package selector picks the healthy nodes a client should use: it filters a
// snapshot bucket by capability, ranks it by proximity to the caller and
// truncates it to the requested count.
package selector

import (
	"sort"

	"github.com/shuliakovsky/wax-node-directory/pkg/nodes"
	"github.com/shuliakovsky/wax-node-directory/pkg/registry"
)

const DefaultLimit = 3

type Query struct {
	Kind    nodes.Kind
	Network nodes.Network
	Limit   int

	// Hyperion filters.
	HistoryFull bool
	Streaming   bool

	// Atomic filters. When both are false no capability filtering is applied.
	AtomicAssets bool
	AtomicMarket bool

	// Caller location; empty or unknown values never match.
	Country string
	Region  string
}

// DefaultQuery requires every capability, like a request without parameters.
func DefaultQuery() Query {
	return Query{
		Kind:         nodes.Hyperion,
		Network:      nodes.Mainnet,
		Limit:        DefaultLimit,
		HistoryFull:  true,
		Streaming:    true,
		AtomicAssets: true,
		AtomicMarket: true,
	}
}

// Select reads one bucket of snap. An absent bucket or no match yields an empty result.
func Select(snap *registry.Snapshot, q Query) []nodes.Node {
	list := Filter(snap.Nodes(nodes.Bucket{Kind: q.Kind, Network: q.Network}), q)
	Rank(list, q.Country, q.Region)

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}

// Filter returns a new slice with the nodes matching q's capability filters.
func Filter(list []nodes.Node, q Query) []nodes.Node {
	out := make([]nodes.Node, 0, len(list))
	for _, n := range list {
		if matches(n, q) {
			out = append(out, n)
		}
	}
	return out
}

func matches(n nodes.Node, q Query) bool {
	switch q.Kind {
	case nodes.Hyperion:
		return n.HistoryFull == q.HistoryFull && n.Streaming.Enable == q.Streaming
	case nodes.Atomic:
		switch {
		case q.AtomicAssets && q.AtomicMarket:
			return n.Atomic.AtomicAssets && n.Atomic.AtomicMarket
		case q.AtomicAssets:
			return n.Atomic.AtomicAssets
		case q.AtomicMarket:
			return n.Atomic.AtomicMarket
		}
	}
	return true
}

// Rank stably orders list: same country first, then same region; ties keep their order.
func Rank(list []nodes.Node, country, region string) {
	if country == nodes.Unknown {
		country = ""
	}
	if region == nodes.Unknown {
		region = ""
	}
	score := func(n nodes.Node) int {
		s := 0
		if country == "" || n.Country != country {
			s += 2
		}
		if region == "" || n.Region != region {
			s++
		}
		return s
	}
	sort.SliceStable(list, func(i, j int) bool { return score(list[i]) < score(list[j]) })
}
