package main

import (
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/shuliakovsky/wax-node-directory/pkg/api"
	"github.com/shuliakovsky/wax-node-directory/pkg/docs"
	"github.com/shuliakovsky/wax-node-directory/pkg/geo"
	"github.com/shuliakovsky/wax-node-directory/pkg/metrics"
	"github.com/shuliakovsky/wax-node-directory/pkg/registry"
)

func registerRoutes(mux *http.ServeMux, reg *registry.Registry, resolver geo.Resolver, ws *api.WS, cfg config, logger *zap.Logger) {
	proxies, err := api.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Fatal("trusted_proxies_invalid", zap.String("value", cfg.TrustedProxies), zap.Error(err))
	}
	public := api.NewPublic(reg, resolver, proxies, APIVersion, logger.Named("api"))
	limiter := api.NewRateLimiter(cfg.ClientRateLimit, cfg.ClientRateBurst, proxies)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	// Swagger
	mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/swagger.json"),
		httpSwagger.InstanceName("swagger"),
	))
	mux.HandleFunc("/swagger/swagger.json", docs.JSONHandler)

	// Public routes
	mux.HandleFunc("/nodes", limiter.Wrap(public.Nodes))
	mux.HandleFunc("/health", public.Health)
	mux.HandleFunc("/active-nodes", public.ActiveNodes)

	// WebSocket
	mux.HandleFunc("/ws/snapshots", ws.ServeWS)

	// Metrics
	metrics.Init()
	mux.Handle("/metrics", metrics.Handler())
}
