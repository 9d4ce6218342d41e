package main

import (
	"go.uber.org/zap"

	"github.com/shuliakovsky/wax-node-directory/pkg/directory"
	"github.com/shuliakovsky/wax-node-directory/pkg/geo"
	"github.com/shuliakovsky/wax-node-directory/pkg/registry"
)

func initRegistry() *registry.Registry {
	return registry.New()
}

// initDirectory prefers the public directory and adds local seed files.
func initDirectory(cfg config, logger *zap.Logger) directory.Source {
	return directory.Multi{
		directory.NewHTTPSource(cfg.DirectoryHost, cfg.ProbeTimeout, logger.Named("directory")),
		&directory.FileSource{Dir: cfg.SeedDir, Logger: logger.Named("seeds")},
	}
}

// initGeo returns the resolver and a close func for the GeoIP database.
// Without a database every lookup is unknown.
func initGeo(cfg config, logger *zap.Logger) (*geo.Locator, func()) {
	var hosts geo.HostResolver = geo.SystemResolver{}
	if cfg.DNSServer != "" {
		hosts = geo.NewDNSResolver(cfg.DNSServer, cfg.ProbeTimeout)
	}

	if cfg.GeoIPDB == "" {
		logger.Warn("geoip_db_not_configured")
		return geo.NewLocator(nil, hosts, logger.Named("geo")), func() {}
	}
	db, err := geo.OpenMaxMind(cfg.GeoIPDB)
	if err != nil {
		logger.Warn("geoip_db_open_failed", zap.String("path", cfg.GeoIPDB), zap.Error(err))
		return geo.NewLocator(nil, hosts, logger.Named("geo")), func() {}
	}
	logger.Info("geoip_db_loaded", zap.String("path", cfg.GeoIPDB))
	return geo.NewLocator(db, hosts, logger.Named("geo")), func() { _ = db.Close() }
}
