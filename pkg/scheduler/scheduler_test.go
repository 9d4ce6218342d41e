package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shuliakovsky/wax-node-directory/pkg/health"
	"github.com/shuliakovsky/wax-node-directory/pkg/nodes"
	"github.com/shuliakovsky/wax-node-directory/pkg/registry"
	"github.com/shuliakovsky/wax-node-directory/pkg/selector"
)

var (
	hyperionMain = nodes.Bucket{Kind: nodes.Hyperion, Network: nodes.Mainnet}
	atomicTest   = nodes.Bucket{Kind: nodes.Atomic, Network: nodes.Testnet}
)

type fakeSource struct {
	mu    sync.Mutex
	lists map[nodes.Kind][]nodes.Node
	err   error
	calls int
}

func (f *fakeSource) Fetch(_ context.Context, kind nodes.Kind) ([]nodes.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.lists[kind], nil
}

type fakeProbe struct {
	mu      sync.Mutex
	healthy map[string]bool
	country map[string]string
	block   chan struct{}
	gate    chan struct{}

	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (p *fakeProbe) set(url string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy[url] = ok
}

// hold makes later probes wait until the returned func is called.
func (p *fakeProbe) hold() (release func()) {
	ch := make(chan struct{})
	p.mu.Lock()
	p.gate = ch
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.gate = nil
		p.mu.Unlock()
		close(ch)
	}
}

func (p *fakeProbe) Probe(ctx context.Context, n nodes.Node) (nodes.Node, bool) {
	cur := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		max := p.maxSeen.Load()
		if cur <= max || p.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return n, false
		}
	}
	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return n, false
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.country[n.URL]; ok {
		n.Country = c
	}
	n.Streaming.Enable = true
	return n, p.healthy[n.URL]
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{healthy: map[string]bool{}, country: map[string]string{}}
}

func hyperionList(count int) []nodes.Node {
	out := make([]nodes.Node, count)
	for i := range out {
		out[i] = nodes.NewCandidate(nodes.Hyperion, nodes.Mainnet, fmt.Sprintf("https://h%d.example", i), true)
	}
	return out
}

func newTestScheduler(src *fakeSource, probe *fakeProbe, maxInFlight int64) (*Scheduler, *registry.Registry) {
	reg := registry.New()
	probes := map[nodes.Kind]health.Probe{nodes.Hyperion: probe, nodes.Atomic: probe}
	s := New(Config{MaxInFlight: maxInFlight}, reg, src, probes, zap.NewNop())
	return s, reg
}

func TestRunCycle_FetchesEmptyBucketsAndPublishes(t *testing.T) {
	list := hyperionList(5)
	src := &fakeSource{lists: map[nodes.Kind][]nodes.Node{nodes.Hyperion: list}}
	probe := newFakeProbe()
	for _, i := range []int{0, 2, 4} {
		probe.set(list[i].URL, true)
	}
	probe.country[list[4].URL] = "DE"

	s, reg := newTestScheduler(src, probe, 0)
	require.NoError(t, s.RunCycle(context.Background()))
	require.Equal(t, 2, src.calls, "one fetch per kind")

	snap := reg.Snapshot()
	require.NotEmpty(t, snap.ID)
	healthy := snap.Nodes(hyperionMain)
	require.Len(t, healthy, 3)
	require.Equal(t, []string{list[0].URL, list[2].URL, list[4].URL},
		[]string{healthy[0].URL, healthy[1].URL, healthy[2].URL}, "candidate order is preserved")

	q := selector.DefaultQuery()
	q.Limit = 2
	q.Country = "DE"
	got := selector.Select(snap, q)
	require.Len(t, got, 2)
	require.Equal(t, list[4].URL, got[0].URL)
	require.Equal(t, list[0].URL, got[1].URL)
	require.Equal(t, Idle, s.Phase())
}

func TestRunCycle_MembershipIsPerCycle(t *testing.T) {
	list := hyperionList(2)
	src := &fakeSource{lists: map[nodes.Kind][]nodes.Node{
		nodes.Hyperion: append(list, nodes.NewCandidate(nodes.Hyperion, nodes.Testnet, "https://ht.example", true)),
		nodes.Atomic: {
			nodes.NewCandidate(nodes.Atomic, nodes.Mainnet, "https://am.example", false),
			nodes.NewCandidate(nodes.Atomic, nodes.Testnet, "https://at.example", false),
		},
	}}
	probe := newFakeProbe()
	probe.set(list[0].URL, true)
	probe.set(list[1].URL, true)

	s, reg := newTestScheduler(src, probe, 0)
	require.NoError(t, s.RunCycle(context.Background()))
	require.Equal(t, 2, reg.Snapshot().Len(hyperionMain))
	first := reg.Snapshot().ID

	probe.set(list[0].URL, false)
	require.NoError(t, s.RunCycle(context.Background()))
	snap := reg.Snapshot()
	require.NotEqual(t, first, snap.ID)
	require.Len(t, snap.Nodes(hyperionMain), 1)
	require.Equal(t, list[1].URL, snap.Nodes(hyperionMain)[0].URL)
	require.Zero(t, snap.Len(atomicTest))
	require.Equal(t, 2, src.calls, "full buckets are not refetched")
}

func TestRunCycle_NoCandidatesKeepsSnapshot(t *testing.T) {
	src := &fakeSource{err: errors.New("directory down")}
	s, reg := newTestScheduler(src, newFakeProbe(), 0)
	before := reg.Snapshot()

	err := s.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrNoCandidates)
	require.Same(t, before, reg.Snapshot())

	q := selector.DefaultQuery()
	require.Empty(t, selector.Select(reg.Snapshot(), q))
}

func TestRefreshAndCheck_FailureKeepsPreviousCandidates(t *testing.T) {
	list := hyperionList(3)
	src := &fakeSource{lists: map[nodes.Kind][]nodes.Node{nodes.Hyperion: list}}
	probe := newFakeProbe()
	probe.set(list[1].URL, true)
	s, reg := newTestScheduler(src, probe, 0)

	require.NoError(t, s.RefreshAndCheck(context.Background()))
	require.Len(t, reg.Candidates(hyperionMain), 3)

	src.mu.Lock()
	src.err = errors.New("directory down")
	src.mu.Unlock()

	err := s.RefreshAndCheck(context.Background())
	require.Error(t, err)
	require.Len(t, reg.Candidates(hyperionMain), 3)
	require.Equal(t, 1, reg.Snapshot().Len(hyperionMain))
}

func TestRunCycle_InFlightGuard(t *testing.T) {
	list := hyperionList(1)
	src := &fakeSource{lists: map[nodes.Kind][]nodes.Node{nodes.Hyperion: list}}
	probe := newFakeProbe()
	probe.set(list[0].URL, true)
	probe.block = make(chan struct{})
	s, reg := newTestScheduler(src, probe, 0)

	done := make(chan error, 1)
	go func() { done <- s.RunCycle(context.Background()) }()
	require.Eventually(t, func() bool { return s.Phase() == Probing }, time.Second, 5*time.Millisecond)

	require.ErrorIs(t, s.RunCycle(context.Background()), ErrCycleInFlight)
	require.ErrorIs(t, s.RefreshAndCheck(context.Background()), ErrRefreshDeferred)

	close(probe.block)
	require.NoError(t, <-done)
	require.Equal(t, 1, reg.Snapshot().Len(hyperionMain))
}

func TestRunCycle_CancelledSkipsSwap(t *testing.T) {
	list := hyperionList(2)
	src := &fakeSource{lists: map[nodes.Kind][]nodes.Node{nodes.Hyperion: list}}
	probe := newFakeProbe()
	probe.block = make(chan struct{})
	s, reg := newTestScheduler(src, probe, 0)
	before := reg.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunCycle(ctx) }()
	require.Eventually(t, func() bool { return s.Phase() == Probing }, time.Second, 5*time.Millisecond)
	cancel()

	require.ErrorIs(t, <-done, context.Canceled)
	require.Same(t, before, reg.Snapshot())
}

func TestProbeBucket_BoundedFanOut(t *testing.T) {
	list := hyperionList(12)
	src := &fakeSource{lists: map[nodes.Kind][]nodes.Node{nodes.Hyperion: list}}
	probe := newFakeProbe()
	probe.block = make(chan struct{})
	s, _ := newTestScheduler(src, probe, 3)

	done := make(chan error, 1)
	go func() { done <- s.RunCycle(context.Background()) }()
	require.Eventually(t, func() bool { return probe.inFlight.Load() == 3 }, time.Second, 5*time.Millisecond)
	close(probe.block)
	require.NoError(t, <-done)
	require.LessOrEqual(t, probe.maxSeen.Load(), int32(3))
}

func (f *fakeSource) setLists(lists map[nodes.Kind][]nodes.Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists = lists
}

func (f *fakeSource) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// allBuckets gives every bucket one candidate whose url carries tag.
func allBuckets(tag string) map[nodes.Kind][]nodes.Node {
	out := map[nodes.Kind][]nodes.Node{}
	for _, b := range nodes.Buckets() {
		url := fmt.Sprintf("https://%s-%s/%s", tag, b.Kind, b.Network)
		out[b.Kind] = append(out[b.Kind], nodes.NewCandidate(b.Kind, b.Network, url, b.Kind == nodes.Hyperion))
	}
	return out
}

func TestRefreshAndCheck_DeferredWhileCycleRuns(t *testing.T) {
	src := &fakeSource{lists: allBuckets("v1")}
	probe := newFakeProbe()
	s, reg := newTestScheduler(src, probe, 0)
	require.NoError(t, s.RefreshAndCheck(context.Background()))
	require.Equal(t, 2, src.fetches())

	release := probe.hold()
	done := make(chan error, 1)
	go func() { done <- s.RunCycle(context.Background()) }()
	require.Eventually(t, func() bool { return s.Phase() == Probing }, time.Second, 5*time.Millisecond)

	src.setLists(allBuckets("v2"))
	require.ErrorIs(t, s.RefreshAndCheck(context.Background()), ErrRefreshDeferred)
	release()
	require.NoError(t, <-done)
	require.Equal(t, "https://v1-hyperion/mainnet", reg.Candidates(hyperionMain)[0].URL)

	require.NoError(t, s.RunCycle(context.Background()))
	require.Equal(t, 4, src.fetches())
	require.Equal(t, "https://v2-hyperion/mainnet", reg.Candidates(hyperionMain)[0].URL)

	require.NoError(t, s.RunCycle(context.Background()))
	require.Equal(t, 4, src.fetches(), "the deferred refresh runs once")
}

func TestRun_RefreshTickDuringCycleIsNotLost(t *testing.T) {
	src := &fakeSource{lists: allBuckets("v1")}
	probe := newFakeProbe()

	mock := clock.NewMock()
	mock.Set(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	cfg := Config{HealthInterval: 100 * time.Second, RefreshInterval: 150 * time.Second, HeartbeatInterval: time.Hour}
	reg := registry.New()
	s := New(cfg, reg, src, map[nodes.Kind]health.Probe{nodes.Hyperion: probe, nodes.Atomic: probe}, zap.NewNop()).WithClock(mock)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()
	require.Eventually(t, func() bool { return reg.Snapshot().ID != "" && !s.running.Load() }, time.Second, 5*time.Millisecond)
	require.Equal(t, 2, src.fetches())

	// t=100: health cycle starts and hangs in probing
	release := probe.hold()
	mock.Add(100 * time.Second)
	require.Eventually(t, func() bool { return s.Phase() == Probing }, time.Second, 5*time.Millisecond)

	// t=150: the refresh tick lands while that cycle still runs
	src.setLists(allBuckets("v2"))
	mock.Add(50 * time.Second)
	require.Eventually(t, s.refreshPending.Load, time.Second, 5*time.Millisecond)
	release()
	require.Eventually(t, func() bool { return !s.running.Load() }, time.Second, 5*time.Millisecond)

	// t=200: the next health cycle picks up the deferred refresh
	mock.Add(50 * time.Second)
	require.Eventually(t, func() bool {
		list := reg.Candidates(hyperionMain)
		return len(list) == 1 && list[0].URL == "https://v2-hyperion/mainnet"
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 4, src.fetches())

	cancel()
	<-stopped
}

type panicProbe struct{}

func (panicProbe) Probe(context.Context, nodes.Node) (nodes.Node, bool) { panic("boom") }

func TestRunCycle_PanickingProbeIsUnhealthy(t *testing.T) {
	src := &fakeSource{lists: map[nodes.Kind][]nodes.Node{nodes.Hyperion: hyperionList(2)}}
	reg := registry.New()
	s := New(Config{}, reg, src, map[nodes.Kind]health.Probe{nodes.Hyperion: panicProbe{}}, zap.NewNop())
	require.NoError(t, s.RunCycle(context.Background()))
	require.Zero(t, reg.Snapshot().Len(hyperionMain))
}

func TestOnPublish(t *testing.T) {
	list := hyperionList(1)
	src := &fakeSource{lists: map[nodes.Kind][]nodes.Node{nodes.Hyperion: list}}
	probe := newFakeProbe()
	probe.set(list[0].URL, true)
	s, reg := newTestScheduler(src, probe, 0)

	var got *registry.Snapshot
	s.OnPublish(func(snap *registry.Snapshot) { got = snap })
	require.NoError(t, s.RunCycle(context.Background()))
	require.Same(t, reg.Snapshot(), got)
}

func TestRun_InitialCycleTicksAndCountdown(t *testing.T) {
	list := hyperionList(1)
	src := &fakeSource{lists: map[nodes.Kind][]nodes.Node{nodes.Hyperion: list}}
	probe := newFakeProbe()
	probe.set(list[0].URL, true)

	mock := clock.NewMock()
	mock.Set(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	cfg := Config{HealthInterval: time.Minute, RefreshInterval: time.Hour, HeartbeatInterval: 10 * time.Second}
	reg := registry.New()
	s := New(cfg, reg, src, map[nodes.Kind]health.Probe{nodes.Hyperion: probe, nodes.Atomic: probe}, zap.NewNop()).WithClock(mock)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return reg.Snapshot().ID != "" }, time.Second, 5*time.Millisecond)
	require.Equal(t, time.Minute, s.NextCheckIn())
	mock.Add(20 * time.Second)
	require.Equal(t, 40*time.Second, s.NextCheckIn())

	first := reg.Snapshot().ID
	require.Eventually(t, func() bool {
		mock.Add(time.Minute)
		return reg.Snapshot().ID != first
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-stopped
}

func TestPhase_String(t *testing.T) {
	require.Equal(t, "idle", Idle.String())
	require.Equal(t, "fetching_candidates", FetchingCandidates.String())
	require.Equal(t, "probing", Probing.String())
	require.Equal(t, "swapping", Swapping.String())
	require.Equal(t, "unknown", Phase(42).String())
}
