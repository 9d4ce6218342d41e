package nodes

import "strings"

type Kind string

const (
	Hyperion Kind = "hyperion"
	Atomic   Kind = "atomic"
)

var Kinds = []Kind{Hyperion, Atomic}

func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case Hyperion:
		return Hyperion, true
	case Atomic:
		return Atomic, true
	}
	return "", false
}

type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

var Networks = []Network{Mainnet, Testnet}

func ParseNetwork(s string) (Network, bool) {
	switch Network(strings.ToLower(strings.TrimSpace(s))) {
	case Mainnet:
		return Mainnet, true
	case Testnet:
		return Testnet, true
	}
	return "", false
}

// Bucket addresses one (kind, network) partition of the directory.
type Bucket struct {
	Kind    Kind
	Network Network
}

func (b Bucket) String() string { return string(b.Kind) + "/" + string(b.Network) }

// Buckets lists every bucket in a fixed order.
func Buckets() []Bucket {
	out := make([]Bucket, 0, len(Kinds)*len(Networks))
	for _, k := range Kinds {
		for _, n := range Networks {
			out = append(out, Bucket{Kind: k, Network: n})
		}
	}
	return out
}

const Unknown = "unknown"

type Geo struct {
	Region   string `json:"region"`
	Country  string `json:"country"`
	Timezone string `json:"timezone"`
}

func UnknownGeo() Geo {
	return Geo{Region: Unknown, Country: Unknown, Timezone: Unknown}
}

// Normalize replaces empty fields with Unknown.
func (g Geo) Normalize() Geo {
	if g.Region == "" {
		g.Region = Unknown
	}
	if g.Country == "" {
		g.Country = Unknown
	}
	if g.Timezone == "" {
		g.Timezone = Unknown
	}
	return g
}

type Streaming struct {
	Enable bool `json:"enable"`
	Traces bool `json:"traces"`
	Deltas bool `json:"deltas"`
}

type AtomicFeatures struct {
	AtomicAssets bool `json:"atomicassets"`
	AtomicMarket bool `json:"atomicmarket"`
}

type Node struct {
	URL     string  `json:"url" yaml:"url"`
	Network Network `json:"network" yaml:"network"`
	Kind    Kind    `json:"-" yaml:"-"`
	Geo     `yaml:"-"`

	// Hyperion
	HistoryFull bool      `json:"historyfull" yaml:"historyfull"`
	Streaming   Streaming `json:"streaming" yaml:"-"`

	// Atomic
	Atomic AtomicFeatures `json:"atomic" yaml:"-"`
}

// NewCandidate returns a directory entry with geo fields unresolved.
func NewCandidate(kind Kind, network Network, url string, historyFull bool) Node {
	return Node{
		URL:         url,
		Network:     network,
		Kind:        kind,
		Geo:         UnknownGeo(),
		HistoryFull: historyFull,
	}
}

func (n Node) Bucket() Bucket { return Bucket{Kind: n.Kind, Network: n.Network} }
