package directory

import (
	"context"
	"errors"

	"go.uber.org/multierr"

	"github.com/shuliakovsky/wax-node-directory/pkg/nodes"
)

var ErrUnknownKind = errors.New("unknown node kind")

// Source supplies the unfiltered candidate list for one kind, both networks.
type Source interface {
	Fetch(ctx context.Context, kind nodes.Kind) ([]nodes.Node, error)
}

// Multi queries sources in order and merges their lists. The first occurrence
// of a (network, url) pair wins. Nodes from sources that succeeded are
// returned together with the combined error of those that failed.
type Multi []Source

func (m Multi) Fetch(ctx context.Context, kind nodes.Kind) ([]nodes.Node, error) {
	type key struct {
		network nodes.Network
		url     string
	}
	var (
		out  []nodes.Node
		errs error
		seen = map[key]struct{}{}
	)
	for _, src := range m {
		list, err := src.Fetch(ctx, kind)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, n := range list {
			k := key{n.Network, n.URL}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, n)
		}
	}
	return out, errs
}

// ByNetwork splits a kind's list into its network buckets, preserving order.
func ByNetwork(kind nodes.Kind, list []nodes.Node) map[nodes.Bucket][]nodes.Node {
	out := make(map[nodes.Bucket][]nodes.Node, len(nodes.Networks))
	for _, net := range nodes.Networks {
		out[nodes.Bucket{Kind: kind, Network: net}] = nil
	}
	for _, n := range list {
		b := nodes.Bucket{Kind: kind, Network: n.Network}
		out[b] = append(out[b], n)
	}
	return out
}
