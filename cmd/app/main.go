package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shuliakovsky/wax-node-directory/pkg/api"
)

func main() {
	PrintVersion()

	cfg := loadConfig()
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger = logger.With(zap.String("instance", uuid.NewString()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver, closeGeo := initGeo(cfg, logger)
	defer closeGeo()

	reg := initRegistry()
	src := initDirectory(cfg, logger)
	sched := initScheduler(cfg, reg, src, resolver, logger)

	ws := api.NewWS(reg, logger.Named("ws"))
	sched.OnPublish(ws.Publish)

	mux := http.NewServeMux()
	registerRoutes(mux, reg, resolver, ws, cfg, logger)

	go sched.Run(ctx)

	startServer(ctx, cfg.Host, cfg.Port, mux, logger)
}
