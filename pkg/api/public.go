package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/shuliakovsky/wax-node-directory/pkg/geo"
	"github.com/shuliakovsky/wax-node-directory/pkg/metrics"
	"github.com/shuliakovsky/wax-node-directory/pkg/nodes"
	"github.com/shuliakovsky/wax-node-directory/pkg/registry"
	"github.com/shuliakovsky/wax-node-directory/pkg/selector"
)

// MinHealthyPerKind is the number of healthy nodes (mainnet and testnet
// combined) each kind needs for the service to report itself healthy.
const MinHealthyPerKind = 3

type Public struct {
	Reg     *registry.Registry
	Geo     geo.Resolver
	Proxies TrustedProxies
	Version string
	Logger  *zap.Logger
}

func NewPublic(reg *registry.Registry, resolver geo.Resolver, proxies TrustedProxies, version string, logger *zap.Logger) *Public {
	return &Public{Reg: reg, Geo: resolver, Proxies: proxies, Version: version, Logger: logger}
}

// NodeView is one entry of a /nodes response.
type NodeView struct {
	URL         string                `json:"url"`
	Region      string                `json:"region"`
	Country     string                `json:"country"`
	Timezone    string                `json:"timezone"`
	HistoryFull *bool                 `json:"historyfull,omitempty"`
	Streaming   *nodes.Streaming      `json:"streaming,omitempty"`
	Atomic      *nodes.AtomicFeatures `json:"atomic,omitempty"`
}

func viewOf(n nodes.Node) NodeView {
	v := NodeView{URL: n.URL, Region: n.Region, Country: n.Country, Timezone: n.Timezone}
	switch n.Kind {
	case nodes.Hyperion:
		hf, st := n.HistoryFull, n.Streaming
		v.HistoryFull, v.Streaming = &hf, &st
	case nodes.Atomic:
		af := n.Atomic
		v.Atomic = &af
	}
	return v
}

func views(list []nodes.Node) []NodeView {
	out := make([]NodeView, len(list))
	for i, n := range list {
		out[i] = viewOf(n)
	}
	return out
}

// GET /nodes
func (p *Public) Nodes(w http.ResponseWriter, r *http.Request) {
	q := ParseQuery(r)
	if p.Geo != nil {
		caller := p.Geo.Lookup(p.Proxies.ClientIP(r))
		q.Country, q.Region = caller.Country, caller.Region
	}

	started := LogRequest(p.Logger, "nodes", q)
	list := selector.Select(p.Reg.Snapshot(), q)
	if len(list) == 0 {
		metrics.Selections.WithLabelValues(string(q.Kind), "empty").Inc()
		msg := fmt.Sprintf("No healthy %s nodes available for %s with the specified filters.", q.Kind, q.Network)
		LogResponse(p.Logger, "nodes", http.StatusServiceUnavailable, 0, started)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": msg})
		return
	}
	metrics.Selections.WithLabelValues(string(q.Kind), "ok").Inc()
	LogResponse(p.Logger, "nodes", http.StatusOK, len(list), started)
	writeJSON(w, http.StatusOK, views(list))
}

type healthStatus struct {
	Version string         `json:"version"`
	Status  string         `json:"status"`
	Nodes   map[string]int `json:"nodes"`
}

// GET /health
func (p *Public) Health(w http.ResponseWriter, _ *http.Request) {
	snap := p.Reg.Snapshot()
	res := healthStatus{Version: p.Version, Status: "healthy", Nodes: map[string]int{}}
	for _, k := range nodes.Kinds {
		total := snap.KindTotal(k)
		res.Nodes[string(k)] = total
		if total < MinHealthyPerKind {
			res.Status = "unhealthy"
		}
	}
	writeJSON(w, http.StatusOK, res)
}

type activeNodes struct {
	Cycle   string                           `json:"cycle"`
	TakenAt *time.Time                       `json:"taken_at,omitempty"`
	Nodes   map[string]map[string][]NodeView `json:"nodes"`
}

// GET /active-nodes
func (p *Public) ActiveNodes(w http.ResponseWriter, _ *http.Request) {
	snap := p.Reg.Snapshot()
	res := activeNodes{Cycle: snap.ID, Nodes: map[string]map[string][]NodeView{}}
	if !snap.TakenAt.IsZero() {
		at := snap.TakenAt.UTC()
		res.TakenAt = &at
	}
	for _, b := range nodes.Buckets() {
		if res.Nodes[string(b.Kind)] == nil {
			res.Nodes[string(b.Kind)] = map[string][]NodeView{}
		}
		res.Nodes[string(b.Kind)][string(b.Network)] = views(snap.Nodes(b))
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
