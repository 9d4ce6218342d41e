// Package scheduler drives the periodic re-evaluation of every candidate node.
//
// A health cycle probes all candidates of every bucket and publishes one new
// registry snapshot. A directory refresh replaces the candidate lists and is
// followed by a health cycle. Both run under a single in-flight guard so two
// cycles never interleave their registry writes; a tick that arrives while a
// cycle is running is skipped.
package scheduler

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/shuliakovsky/wax-node-directory/pkg/directory"
	"github.com/shuliakovsky/wax-node-directory/pkg/health"
	"github.com/shuliakovsky/wax-node-directory/pkg/metrics"
	"github.com/shuliakovsky/wax-node-directory/pkg/nodes"
	"github.com/shuliakovsky/wax-node-directory/pkg/registry"
)

var (
	ErrCycleInFlight = errors.New("a cycle is already running")
	ErrNoCandidates  = errors.New("no candidate nodes")
	// ErrRefreshDeferred is returned when a refresh arrives during a cycle;
	// the next cycle fetches the directory before probing.
	ErrRefreshDeferred = errors.New("directory refresh deferred to the next cycle")
)

type Config struct {
	HealthInterval    time.Duration
	RefreshInterval   time.Duration
	HeartbeatInterval time.Duration
	MaxInFlight       int64
}

func (c Config) withDefaults() Config {
	if c.HealthInterval <= 0 {
		c.HealthInterval = 520 * time.Second
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 24 * time.Hour
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 64
	}
	return c
}

type Scheduler struct {
	cfg    Config
	reg    *registry.Registry
	source directory.Source
	probes map[nodes.Kind]health.Probe
	logger *zap.Logger
	clock  clock.Clock
	sem    *semaphore.Weighted

	running        atomic.Bool
	refreshPending atomic.Bool
	phase          atomic.Int32
	nextCheck      atomic.Int64

	mu          sync.Mutex
	subscribers []func(*registry.Snapshot)
}

func New(cfg Config, reg *registry.Registry, source directory.Source, probes map[nodes.Kind]health.Probe, logger *zap.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg:    cfg,
		reg:    reg,
		source: source,
		probes: probes,
		logger: logger,
		clock:  clock.New(),
		sem:    semaphore.NewWeighted(cfg.MaxInFlight),
	}
}

// WithClock replaces the wall clock, for tests.
func (s *Scheduler) WithClock(c clock.Clock) *Scheduler {
	s.clock = c
	return s
}

// OnPublish registers fn to be called with every newly published snapshot.
func (s *Scheduler) OnPublish(fn func(*registry.Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *Scheduler) Phase() Phase { return Phase(s.phase.Load()) }

// NextCheckIn reports the time left until the next scheduled health cycle.
func (s *Scheduler) NextCheckIn() time.Duration {
	next := s.nextCheck.Load()
	if next == 0 {
		return 0
	}
	d := time.Unix(0, next).Sub(s.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

// Run performs an initial refresh and health cycle, then keeps both on their
// intervals until ctx is done. Cycles run on their own goroutine so the
// heartbeat keeps ticking while probes are in flight.
func (s *Scheduler) Run(ctx context.Context) {
	healthTicker := s.clock.Ticker(s.cfg.HealthInterval)
	defer healthTicker.Stop()
	refreshTicker := s.clock.Ticker(s.cfg.RefreshInterval)
	defer refreshTicker.Stop()
	heartbeat := s.clock.Ticker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.logResult(name, fn(ctx))
		}()
	}

	s.scheduleNext()
	spawn("initial", s.RefreshAndCheck)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler_stopped")
			return
		case <-healthTicker.C:
			s.scheduleNext()
			spawn("health", s.RunCycle)
		case <-refreshTicker.C:
			spawn("refresh", s.RefreshAndCheck)
		case <-heartbeat.C:
			s.logger.Info("health_check_countdown",
				zap.Int64("seconds_remaining", int64(math.Ceil(s.NextCheckIn().Seconds()))),
				zap.String("phase", s.Phase().String()),
			)
		}
	}
}

func (s *Scheduler) scheduleNext() {
	s.nextCheck.Store(s.clock.Now().Add(s.cfg.HealthInterval).UnixNano())
}

func (s *Scheduler) logResult(name string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrRefreshDeferred):
		metrics.CyclesSkipped.WithLabelValues("refresh_deferred").Inc()
		s.logger.Warn("refresh_deferred_in_flight", zap.String("trigger", name))
	case errors.Is(err, ErrCycleInFlight):
		metrics.CyclesSkipped.WithLabelValues("in_flight").Inc()
		s.logger.Warn("cycle_skipped_in_flight", zap.String("trigger", name))
	case errors.Is(err, context.Canceled):
	default:
		s.logger.Error("cycle_failed", zap.String("trigger", name), zap.Error(err))
	}
}

// RunCycle runs one health cycle unless another cycle is in flight.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrCycleInFlight
	}
	defer s.running.Store(false)
	defer s.setPhase(Idle)
	return s.cycle(ctx)
}

// RefreshAndCheck replaces the candidate lists from the directory and then
// runs a health cycle. A failed refresh keeps the previous lists. When a cycle
// is already running the refresh is queued for the next one.
func (s *Scheduler) RefreshAndCheck(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.refreshPending.Store(true)
		return ErrRefreshDeferred
	}
	defer s.running.Store(false)
	defer s.setPhase(Idle)

	s.refreshPending.Store(false)
	s.setPhase(FetchingCandidates)
	refreshErr := s.refresh(ctx)
	return multierr.Append(refreshErr, s.cycle(ctx))
}

func (s *Scheduler) setPhase(p Phase) { s.phase.Store(int32(p)) }
