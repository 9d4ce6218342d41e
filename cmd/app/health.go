package main

import (
	"go.uber.org/zap"

	"github.com/shuliakovsky/wax-node-directory/pkg/directory"
	"github.com/shuliakovsky/wax-node-directory/pkg/geo"
	"github.com/shuliakovsky/wax-node-directory/pkg/health"
	"github.com/shuliakovsky/wax-node-directory/pkg/registry"
	"github.com/shuliakovsky/wax-node-directory/pkg/scheduler"
)

func initScheduler(cfg config, reg *registry.Registry, src directory.Source, resolver geo.Resolver, logger *zap.Logger) *scheduler.Scheduler {
	checker, err := health.New(cfg.ProbeTimeout, cfg.ProbeSocks5, resolver, logger.Named("probe"))
	if err != nil {
		logger.Fatal("probe_client_init_failed", zap.String("socks5", cfg.ProbeSocks5), zap.Error(err))
	}
	probes := checker.Probes(health.AtomicOptions{
		Collection:  cfg.AtomicCollection,
		MarketOwner: cfg.AtomicMarketOwner,
	})
	return scheduler.New(scheduler.Config{
		HealthInterval:    cfg.HealthInterval,
		RefreshInterval:   cfg.RefreshInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxInFlight:       cfg.MaxInFlight,
	}, reg, src, probes, logger.Named("scheduler"))
}
