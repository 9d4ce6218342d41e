package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shuliakovsky/wax-node-directory/pkg/nodes"
	"github.com/shuliakovsky/wax-node-directory/pkg/secrets"
)

// MaxIndexLag is how far the last indexed block may trail the wall clock.
const MaxIndexLag = 120 * time.Second

const elasticsearchService = "Elasticsearch"

type HyperionProbe struct {
	*Checker
}

type actionsResponse struct {
	LastIndexedBlockTime string `json:"last_indexed_block_time"`
}

type healthResponse struct {
	Health   []serviceHealth `json:"health"`
	Features struct {
		Streaming *struct {
			Enable bool `json:"enable"`
			Traces bool `json:"traces"`
			Deltas bool `json:"deltas"`
		} `json:"streaming"`
	} `json:"features"`
}

type serviceHealth struct {
	Service     string `json:"service"`
	Status      string `json:"status"`
	ServiceData *struct {
		MissingBlocks float64 `json:"missing_blocks"`
	} `json:"service_data"`
}

func (p *HyperionProbe) Probe(ctx context.Context, n nodes.Node) (nodes.Node, bool) {
	var (
		actions actionsResponse
		report  healthResponse
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(guarded(func() error { return p.getJSON(gctx, n.URL, "/v2/history/get_actions?limit=1", &actions) }))
	g.Go(guarded(func() error { return p.getJSON(gctx, n.URL, "/v2/health", &report) }))
	if err := g.Wait(); err != nil {
		p.Logger.Debug("hyperion_probe_request_failed", secrets.URL("url", n.URL), zap.Error(err))
		return n, false
	}

	indexed, err := parseIndexedTime(actions.LastIndexedBlockTime)
	if err != nil {
		p.Logger.Debug("hyperion_probe_bad_block_time", secrets.URL("url", n.URL), zap.Error(err))
		return n, false
	}
	if lag := p.Clock.Now().UTC().Sub(indexed); lag > MaxIndexLag {
		p.Logger.Debug("hyperion_probe_index_lag",
			secrets.URL("url", n.URL),
			zap.Duration("lag", lag),
		)
		return n, false
	}

	if report.Health == nil {
		p.Logger.Debug("hyperion_probe_no_health_report", secrets.URL("url", n.URL))
		return n, false
	}
	for _, s := range report.Health {
		if s.Status != "OK" {
			p.Logger.Debug("hyperion_probe_service_not_ok",
				secrets.URL("url", n.URL),
				zap.String("service", s.Service),
				zap.String("status", s.Status),
			)
			return n, false
		}
	}
	if missing := missingBlocks(report.Health); missing != 0 {
		p.Logger.Debug("hyperion_probe_missing_blocks", secrets.URL("url", n.URL), zap.Float64("missing_blocks", missing))
		return n, false
	}

	n.Streaming = nodes.Streaming{}
	if s := report.Features.Streaming; s != nil {
		n.Streaming = nodes.Streaming{Enable: s.Enable, Traces: s.Traces, Deltas: s.Deltas}
	}
	n = p.enrichGeo(ctx, n)

	p.Logger.Debug("hyperion_probe_healthy",
		secrets.URL("url", n.URL),
		zap.String("country", n.Country),
		zap.String("region", n.Region),
	)
	return n, true
}

// missingBlocks reads the Elasticsearch service counter; absent means zero.
func missingBlocks(services []serviceHealth) float64 {
	for _, s := range services {
		if s.Service == elasticsearchService {
			if s.ServiceData == nil {
				return 0
			}
			return s.ServiceData.MissingBlocks
		}
	}
	return 0
}

var indexedTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseIndexedTime reads the naive indexer timestamp as UTC. Values that do
// carry a zone are honoured.
func parseIndexedTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("last_indexed_block_time: %w", ErrMalformed)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range indexedTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("last_indexed_block_time %q: %w", s, ErrMalformed)
}
