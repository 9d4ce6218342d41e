package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/shuliakovsky/wax-node-directory/pkg/directory"
	"github.com/shuliakovsky/wax-node-directory/pkg/health"
	"github.com/shuliakovsky/wax-node-directory/pkg/metrics"
	"github.com/shuliakovsky/wax-node-directory/pkg/nodes"
	"github.com/shuliakovsky/wax-node-directory/pkg/registry"
	"github.com/shuliakovsky/wax-node-directory/pkg/secrets"
)

func (s *Scheduler) cycle(ctx context.Context) error {
	id := uuid.NewString()
	started := s.clock.Now()
	logger := s.logger.With(zap.String("cycle", id))

	if s.refreshPending.CompareAndSwap(true, false) {
		s.setPhase(FetchingCandidates)
		logger.Info("deferred_refresh_running")
		if err := s.refresh(ctx); err != nil {
			logger.Warn("candidate_fetch_failed", zap.Error(err))
		}
	} else if empty := s.reg.EmptyBuckets(); len(empty) > 0 {
		s.setPhase(FetchingCandidates)
		logger.Warn("candidate_buckets_empty_fetching", zap.Int("empty_buckets", len(empty)))
		if err := s.refresh(ctx); err != nil {
			logger.Warn("candidate_fetch_failed", zap.Error(err))
		}
	}

	candidates := s.reg.AllCandidates()
	total := 0
	for _, list := range candidates {
		total += len(list)
	}
	if total == 0 {
		metrics.CyclesSkipped.WithLabelValues("no_candidates").Inc()
		return ErrNoCandidates
	}

	s.setPhase(Probing)
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[nodes.Bucket][]nodes.Node, len(candidates))
	)
	for b, list := range candidates {
		wg.Add(1)
		go func(b nodes.Bucket, list []nodes.Node) {
			defer wg.Done()
			healthy := s.probeBucket(ctx, b, list)
			mu.Lock()
			results[b] = healthy
			mu.Unlock()
		}(b, list)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		metrics.CyclesSkipped.WithLabelValues("cancelled").Inc()
		return err
	}

	s.setPhase(Swapping)
	snap := registry.NewSnapshot(id, s.clock.Now(), results)
	s.reg.Publish(snap)

	elapsed := s.clock.Since(started)
	metrics.CycleDuration.Observe(elapsed.Seconds())
	fields := []zap.Field{zap.Duration("elapsed", elapsed), zap.Int("candidates", total)}
	for _, b := range nodes.Buckets() {
		metrics.HealthyNodes.WithLabelValues(string(b.Kind), string(b.Network)).Set(float64(snap.Len(b)))
		fields = append(fields, zap.Int(b.String(), snap.Len(b)))
	}
	logger.Info("health_cycle_done", fields...)

	s.notify(snap)
	return nil
}

// probeBucket probes every candidate concurrently, bounded by the shared
// semaphore, and returns the passing nodes in candidate order.
func (s *Scheduler) probeBucket(ctx context.Context, b nodes.Bucket, list []nodes.Node) []nodes.Node {
	probe, ok := s.probes[b.Kind]
	if !ok {
		s.logger.Error("no_probe_for_kind", zap.String("kind", string(b.Kind)))
		return nil
	}

	var (
		wg     sync.WaitGroup
		passed = make([]bool, len(list))
		out    = make([]nodes.Node, len(list))
	)
	for i, n := range list {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, n nodes.Node) {
			defer wg.Done()
			defer s.sem.Release(1)
			out[i], passed[i] = s.safeProbe(ctx, probe, n)
		}(i, n)
	}
	wg.Wait()

	healthy := make([]nodes.Node, 0, len(list))
	for i := range list {
		if passed[i] {
			healthy = append(healthy, out[i])
		}
	}
	metrics.ProbeResults.WithLabelValues(string(b.Kind), "healthy").Add(float64(len(healthy)))
	metrics.ProbeResults.WithLabelValues(string(b.Kind), "unhealthy").Add(float64(len(list) - len(healthy)))
	return healthy
}

// safeProbe turns a panicking probe into an unhealthy result.
func (s *Scheduler) safeProbe(ctx context.Context, p health.Probe, n nodes.Node) (res nodes.Node, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("probe_panic", secrets.URL("url", n.URL), zap.Any("panic", r))
			res, ok = n, false
		}
	}()
	return p.Probe(ctx, n)
}

// refresh replaces each kind's candidates. When a kind's fetch fails its
// previous lists are kept; a partial result only fills buckets that are empty.
func (s *Scheduler) refresh(ctx context.Context) error {
	var errs error
	for _, kind := range nodes.Kinds {
		list, err := s.source.Fetch(ctx, kind)
		if err != nil {
			metrics.DirectoryErrors.WithLabelValues(string(kind)).Inc()
			errs = multierr.Append(errs, fmt.Errorf("refresh %s: %w", kind, err))
		}
		if err != nil && len(list) == 0 {
			s.logger.Warn("directory_refresh_failed_keeping_previous", zap.String("kind", string(kind)), zap.Error(err))
			continue
		}
		for b, bucket := range directory.ByNetwork(kind, list) {
			if err != nil && len(s.reg.Candidates(b)) > 0 {
				continue
			}
			s.reg.SetCandidates(b, bucket)
			metrics.CandidateNodes.WithLabelValues(string(b.Kind), string(b.Network)).Set(float64(len(bucket)))
		}
		s.logger.Info("directory_refreshed", zap.String("kind", string(kind)), zap.Int("nodes", len(list)))
	}
	return errs
}

func (s *Scheduler) notify(snap *registry.Snapshot) {
	s.mu.Lock()
	subs := make([]func(*registry.Snapshot), len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}
