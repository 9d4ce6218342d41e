package api

import (
	"time"

	"go.uber.org/zap"

	"github.com/shuliakovsky/wax-node-directory/pkg/selector"
)

func LogRequest(logger *zap.Logger, tag string, q selector.Query) time.Time {
	logger.Debug(tag+"_request",
		zap.String("type", string(q.Kind)),
		zap.String("network", string(q.Network)),
		zap.Int("count", q.Limit),
		zap.Bool("historyfull", q.HistoryFull),
		zap.Bool("streaming", q.Streaming),
		zap.Bool("atomicassets", q.AtomicAssets),
		zap.Bool("atomicmarket", q.AtomicMarket),
		zap.String("country", q.Country),
		zap.String("region", q.Region),
	)
	return time.Now()
}

func LogResponse(logger *zap.Logger, tag string, status, nodes int, started time.Time) {
	logger.Info(tag+"_response",
		zap.Int("status", status),
		zap.Int("nodes", nodes),
		zap.Int64("latency_ms", time.Since(started).Milliseconds()),
	)
}
