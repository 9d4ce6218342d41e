package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shuliakovsky/wax-node-directory/pkg/nodes"
	"github.com/shuliakovsky/wax-node-directory/pkg/secrets"
)

const (
	DefaultCollection  = "kogsofficial"
	DefaultMarketOwner = "sentnlagents"
)

// AtomicOptions names the reference data every AtomicAssets indexer is expected to serve.
type AtomicOptions struct {
	Collection  string
	MarketOwner string
}

func (o AtomicOptions) withDefaults() AtomicOptions {
	if o.Collection == "" {
		o.Collection = DefaultCollection
	}
	if o.MarketOwner == "" {
		o.MarketOwner = DefaultMarketOwner
	}
	return o
}

type AtomicProbe struct {
	*Checker
	Options AtomicOptions
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// apiID accepts ids encoded either as JSON strings or numbers.
type apiID string

func (id *apiID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = apiID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = apiID(n.String())
	return nil
}

type listedItem struct {
	TemplateID apiID `json:"template_id"`
	AssetID    apiID `json:"asset_id"`
}

// firstItem decodes the head of a list response; ok is false for an empty or non-list payload.
func (e apiEnvelope) firstItem() (listedItem, bool) {
	var items []listedItem
	if err := json.Unmarshal(e.Data, &items); err != nil || len(items) == 0 {
		return listedItem{}, false
	}
	return items[0], true
}

func (p *AtomicProbe) Probe(ctx context.Context, n nodes.Node) (nodes.Node, bool) {
	var (
		wg       sync.WaitGroup
		features nodes.AtomicFeatures
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		features.AtomicAssets = p.checkAssets(ctx, n.URL)
	}()
	go func() {
		defer wg.Done()
		features.AtomicMarket = p.checkMarket(ctx, n.URL)
	}()
	wg.Wait()

	n.Atomic = features
	if !features.AtomicAssets && !features.AtomicMarket {
		p.Logger.Debug("atomic_probe_unhealthy", secrets.URL("url", n.URL))
		return n, false
	}
	n = p.enrichGeo(ctx, n)

	p.Logger.Debug("atomic_probe_healthy",
		secrets.URL("url", n.URL),
		zap.Bool("atomicassets", features.AtomicAssets),
		zap.Bool("atomicmarket", features.AtomicMarket),
		zap.String("country", n.Country),
	)
	return n, true
}

// checkAssets verifies the atomicassets API: the reference collection, its
// newest template and the newest asset must be listed, and both the template
// and the asset must then be retrievable by id.
func (p *AtomicProbe) checkAssets(ctx context.Context, base string) (ok bool) {
	defer p.recoverFlag("atomicassets", base, &ok)

	collection := url.PathEscape(p.Options.Collection)
	var collectionResp, templatesResp, assetsResp apiEnvelope

	g, gctx := errgroup.WithContext(ctx)
	g.Go(guarded(func() error {
		return p.getJSON(gctx, base, "/atomicassets/v1/collections/"+collection, &collectionResp)
	}))
	g.Go(guarded(func() error {
		q := url.Values{}
		q.Set("collection_name", p.Options.Collection)
		q.Set("has_assets", "true")
		q.Set("page", "1")
		q.Set("limit", "1")
		q.Set("order", "desc")
		q.Set("sort", "created")
		return p.getJSON(gctx, base, "/atomicassets/v1/templates?"+q.Encode(), &templatesResp)
	}))
	g.Go(guarded(func() error {
		return p.getJSON(gctx, base, "/atomicassets/v1/assets?page=1&limit=1&order=desc&sort=asset_id", &assetsResp)
	}))
	if err := g.Wait(); err != nil {
		p.Logger.Debug("atomicassets_list_failed", secrets.URL("url", base), zap.Error(err))
		return false
	}
	if !collectionResp.Success || !templatesResp.Success || !assetsResp.Success {
		p.Logger.Debug("atomicassets_list_unsuccessful",
			secrets.URL("url", base),
			zap.Bool("collections", collectionResp.Success),
			zap.Bool("templates", templatesResp.Success),
			zap.Bool("assets", assetsResp.Success),
		)
		return false
	}

	template, _ := templatesResp.firstItem()
	asset, _ := assetsResp.firstItem()
	if template.TemplateID == "" || asset.AssetID == "" {
		p.Logger.Debug("atomicassets_no_ids", secrets.URL("url", base))
		return false
	}

	var templateResp, assetResp apiEnvelope
	g, gctx = errgroup.WithContext(ctx)
	g.Go(guarded(func() error {
		path := fmt.Sprintf("/atomicassets/v1/templates/%s/%s", collection, url.PathEscape(string(template.TemplateID)))
		return p.getJSON(gctx, base, path, &templateResp)
	}))
	g.Go(guarded(func() error {
		return p.getJSON(gctx, base, "/atomicassets/v1/assets/"+url.PathEscape(string(asset.AssetID)), &assetResp)
	}))
	if err := g.Wait(); err != nil {
		p.Logger.Debug("atomicassets_detail_failed", secrets.URL("url", base), zap.Error(err))
		return false
	}
	return templateResp.Success && assetResp.Success
}

// checkMarket verifies the atomicmarket API using the reference owner's newest asset.
func (p *AtomicProbe) checkMarket(ctx context.Context, base string) (ok bool) {
	defer p.recoverFlag("atomicmarket", base, &ok)

	q := url.Values{}
	q.Set("owner", p.Options.MarketOwner)
	q.Set("limit", "1")

	var listResp apiEnvelope
	if err := p.getJSON(ctx, base, "/atomicmarket/v1/assets?"+q.Encode(), &listResp); err != nil {
		p.Logger.Debug("atomicmarket_list_failed", secrets.URL("url", base), zap.Error(err))
		return false
	}
	item, found := listResp.firstItem()
	if !listResp.Success || !found || item.AssetID == "" {
		p.Logger.Debug("atomicmarket_list_empty", secrets.URL("url", base), zap.Bool("success", listResp.Success))
		return false
	}

	var detail apiEnvelope
	if err := p.getJSON(ctx, base, "/atomicmarket/v1/assets/"+url.PathEscape(string(item.AssetID)), &detail); err != nil {
		p.Logger.Debug("atomicmarket_detail_failed", secrets.URL("url", base), zap.Error(err))
		return false
	}
	return detail.Success
}
