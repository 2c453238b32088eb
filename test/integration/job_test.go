package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphscale/internal/cluster"
	"github.com/dreamware/graphscale/internal/config"
	"github.com/dreamware/graphscale/internal/edgefile"
	"github.com/dreamware/graphscale/internal/heartbeat"
	"github.com/dreamware/graphscale/internal/launch"
	"github.com/dreamware/graphscale/internal/master"
	"github.com/dreamware/graphscale/internal/message"
	"github.com/dreamware/graphscale/internal/worker"
)

// testCluster runs a master with in-process workers and records every launch.
type testCluster struct {
	t   *testing.T
	cfg config.MasterConfig

	mu       sync.Mutex
	handles  map[int]launch.Handle
	args     map[int][][]string
	launches map[int]int
}

func newTestCluster(t *testing.T, graph string, workers int) *testCluster {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.txt")
	require.NoError(t, os.WriteFile(path, []byte(graph), 0o644))

	cfg := config.DefaultMaster()
	cfg.Workers = workers
	cfg.GraphPath = path
	cfg.OutputPath = filepath.Join(dir, "scaled.txt")
	cfg.TempDir = dir
	cfg.InProcess = true
	cfg.AdvertiseHost = "127.0.0.1"
	cfg.Scale = 1
	cfg.WalkersPerWorker = 2
	cfg.BackupSize = 2
	cfg.ProgressInterval = 1
	cfg.PollInterval = 10 * time.Millisecond
	cfg.HeartbeatInterval = 50 * time.Millisecond

	return &testCluster{
		t:        t,
		cfg:      cfg,
		handles:  map[int]launch.Handle{},
		args:     map[int][][]string{},
		launches: map[int]int{},
	}
}

// launcher wraps the in-process launcher. configure receives the worker's
// options and how many times that worker was launched before.
func (c *testCluster) launcher(configure func(o *worker.Options, incarnation int)) launch.Launcher {
	inner := worker.Launcher(func(o *worker.Options) {
		c.mu.Lock()
		n := c.launches[o.Config.ID]
		c.launches[o.Config.ID]++
		c.mu.Unlock()
		if configure != nil {
			configure(o, n)
		}
	})
	return launch.LauncherFunc(func(ctx context.Context, spec launch.Spec) (launch.Handle, error) {
		h, err := inner.Launch(ctx, spec)
		if err != nil {
			return nil, err
		}
		cfg, err := worker.ParseArgs(spec.Args)
		require.NoError(c.t, err)
		c.mu.Lock()
		c.handles[cfg.ID] = h
		c.args[cfg.ID] = append(c.args[cfg.ID], spec.Args)
		c.mu.Unlock()
		return h, nil
	})
}

func (c *testCluster) handle(id int) launch.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[id]
}

func (c *testCluster) start(l launch.Launcher) (*master.Master, <-chan error) {
	c.t.Helper()
	m, err := master.New(c.cfg, master.Options{Launcher: l})
	require.NoError(c.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	c.t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	return m, done
}

func (c *testCluster) output() []string {
	c.t.Helper()
	lines, err := edgefile.ReadAll(c.cfg.OutputPath)
	require.NoError(c.t, err)
	return lines
}

func undirected(t *testing.T, lines []string) map[edgefile.Edge]bool {
	t.Helper()
	set := map[edgefile.Edge]bool{}
	for _, l := range lines {
		e, err := edgefile.ParseEdge(l)
		require.NoError(t, err)
		set[e.Undirected()] = true
	}
	return set
}

func ring(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(edgefile.FormatEdge(edgefile.Edge{Source: int64(i), Target: int64((i + 1) % n)}))
		b.WriteByte('\n')
	}
	return b.String()
}

func TestRandomWalkReproducesGraph(t *testing.T) {
	c := newTestCluster(t, "0 1\n1 2\n2 3\n", 2)
	m, done := c.start(c.launcher(nil))

	require.NoError(t, <-done)
	assert.Equal(t, master.PhaseDone, m.Phase())
	assert.Equal(t, []string{"0 1", "1 2", "2 3"}, c.output())

	for id := 0; id < 2; id++ {
		assert.False(t, c.handle(id).Alive(), "worker %d exited after TERMINATE", id)
	}
	_, err := os.Stat(filepath.Join(c.cfg.TempDir, "graphscale-"+m.JobID()))
	assert.True(t, os.IsNotExist(err), "partition files are removed")
}

func TestRandomEdgeDownscales(t *testing.T) {
	graph := ring(20)
	c := newTestCluster(t, graph, 3)
	c.cfg.Method = "random_edge"
	c.cfg.Scale = 0.5
	_, done := c.start(c.launcher(nil))
	require.NoError(t, <-done)

	orig := map[edgefile.Edge]bool{}
	for _, l := range strings.Split(strings.TrimSpace(graph), "\n") {
		e, err := edgefile.ParseEdge(l)
		require.NoError(t, err)
		orig[e.Undirected()] = true
	}
	out := c.output()
	require.NotEmpty(t, out)
	assert.LessOrEqual(t, len(out), len(orig))
	for e := range undirected(t, out) {
		assert.True(t, orig[e], "sampled edge %s is from the input", e)
	}
}

func TestDegreeGrowthUpscales(t *testing.T) {
	graph := ring(12)
	c := newTestCluster(t, graph, 2)
	c.cfg.Method = "degree_growth"
	c.cfg.Scale = 1.5
	_, done := c.start(c.launcher(nil))
	require.NoError(t, <-done)

	out := undirected(t, c.output())
	for _, l := range strings.Split(strings.TrimSpace(graph), "\n") {
		e, err := edgefile.ParseEdge(l)
		require.NoError(t, err)
		assert.True(t, out[e.Undirected()], "original edge %s is kept", e)
	}
	assert.Greater(t, len(out), 12, "new edges were added")
}

func TestSharedStorage(t *testing.T) {
	c := newTestCluster(t, "0 1\n1 2\n2 3\n3 4\n", 2)
	c.cfg.SharedStorage = true
	_, done := c.start(c.launcher(nil))
	require.NoError(t, <-done)

	assert.Equal(t, []string{"0 1", "1 2", "2 3", "3 4"}, c.output())
	for _, args := range c.args {
		assert.Contains(t, args[0], "-graph-file")
	}
}

// TestWorkerCrashRecovery crashes worker 1 once it has pushed a backup and
// reported progress, and checks that the job still completes with the
// restarted worker resuming from its backup.
func TestWorkerCrashRecovery(t *testing.T) {
	c := newTestCluster(t, "0 1\n1 2\n2 3\n", 2)

	reported := make(chan struct{})
	var gate sync.Once
	resumed := make(chan int, 1)

	l := c.launcher(func(o *worker.Options, incarnation int) {
		if o.Config.ID != 1 {
			return
		}
		if incarnation == 0 {
			// stall forever on the first progress report of two or more edges
			o.Send = func(ctx context.Context, addr cluster.Address, payload []byte) error {
				if p, ok := decodeProgress(payload); ok && p.Edges >= 2 {
					gate.Do(func() { close(reported) })
					<-ctx.Done()
					return ctx.Err()
				}
				return cluster.Send(ctx, addr, payload)
			}
			return
		}
		var first sync.Once
		o.Send = func(ctx context.Context, addr cluster.Address, payload []byte) error {
			if p, ok := decodeProgress(payload); ok {
				first.Do(func() { resumed <- p.Edges })
			}
			return cluster.Send(ctx, addr, payload)
		}
	})
	m, done := c.start(l)

	select {
	case <-reported:
	case err := <-done:
		t.Fatalf("job ended before the crash: %v", err)
	case <-time.After(30 * time.Second):
		t.Fatal("worker 1 never reported progress")
	}
	require.Eventually(t, func() bool {
		snap := m.Snapshot()
		return len(snap) == 2 && snap[1].BackupLines > 0
	}, 10*time.Second, 10*time.Millisecond, "master holds a backup of worker 1")

	require.NoError(t, c.handle(1).Kill())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(60 * time.Second):
		t.Fatal("job did not finish after the crash")
	}

	c.mu.Lock()
	require.Len(t, c.args[1], 2, "worker 1 was relaunched once")
	assert.NotContains(t, c.args[1][0], "-load-backup")
	assert.Contains(t, c.args[1][1], "-load-backup")
	require.Len(t, c.args[0], 1, "worker 0 was never relaunched")
	c.mu.Unlock()

	select {
	case edges := <-resumed:
		assert.GreaterOrEqual(t, edges, 2, "the restarted worker resumes from its backup")
	default:
		t.Fatal("restarted worker never reported progress")
	}

	snap := m.Snapshot()
	assert.Equal(t, 1, snap[1].Restarts)
	assert.Equal(t, 0, snap[0].Restarts)
	assert.Equal(t, []string{"0 1", "1 2", "2 3"}, c.output())
}

func decodeProgress(payload []byte) (message.Progress, bool) {
	m, err := message.Decode(payload)
	if err != nil {
		return message.Progress{}, false
	}
	p, ok := m.(message.Progress)
	return p, ok
}

// TestCascadingFailureAbortsJob kills the only survivor while the master is
// collecting walker counts for a recovery. That is not recoverable and the
// job must fail instead of hanging.
func TestCascadingFailureAbortsJob(t *testing.T) {
	c := newTestCluster(t, "0 1\n1 2\n2 3\n", 2)

	reported := make(chan struct{})
	var gate, suicide sync.Once
	l := c.launcher(func(o *worker.Options, incarnation int) {
		switch o.Config.ID {
		case 0:
			o.Send = func(ctx context.Context, addr cluster.Address, payload []byte) error {
				if m, err := message.Decode(payload); err == nil {
					if _, ok := m.(message.RandomWalkerCount); ok {
						suicide.Do(func() { go func() { _ = c.handle(0).Kill() }() })
						<-ctx.Done()
						return ctx.Err()
					}
				}
				return cluster.Send(ctx, addr, payload)
			}
		case 1:
			if incarnation > 0 {
				return
			}
			o.Send = func(ctx context.Context, addr cluster.Address, payload []byte) error {
				if p, ok := decodeProgress(payload); ok && p.Edges >= 2 {
					gate.Do(func() { close(reported) })
					<-ctx.Done()
					return ctx.Err()
				}
				return cluster.Send(ctx, addr, payload)
			}
		}
	})
	m, done := c.start(l)

	select {
	case <-reported:
	case err := <-done:
		t.Fatalf("job ended before the crash: %v", err)
	case <-time.After(30 * time.Second):
		t.Fatal("worker 1 never reported progress")
	}
	require.NoError(t, c.handle(1).Kill())

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, master.ErrCascadingFailure)
	case <-time.After(30 * time.Second):
		t.Fatal("master did not give up after the cascading failure")
	}
	assert.Equal(t, master.PhaseFailed, m.Phase())
	c.mu.Lock()
	assert.Len(t, c.args[1], 1, "no restart was attempted")
	c.mu.Unlock()
}

// TestStalledHeartbeatRestartsWorker silences worker 1's heartbeat while its
// process and listener stay up, so only the heartbeat delay can expose it.
func TestStalledHeartbeatRestartsWorker(t *testing.T) {
	c := newTestCluster(t, "0 1\n1 2\n2 3\n", 2)
	c.cfg.MaxHeartbeatDelay = 500 * time.Millisecond

	silenced := make(chan struct{})
	var gate sync.Once
	l := c.launcher(func(o *worker.Options, incarnation int) {
		if o.Config.ID != 1 || incarnation > 0 {
			return
		}
		// progress is withheld so the job cannot reach its goal first
		o.Send = func(ctx context.Context, addr cluster.Address, payload []byte) error {
			if _, ok := decodeProgress(payload); ok {
				return nil
			}
			return cluster.Send(ctx, addr, payload)
		}
		o.Heartbeat = func(ctx context.Context, hb heartbeat.Config) (func(), error) {
			beats := 0
			hb.Send = func(ctx context.Context, addr cluster.Address, payload []byte) error {
				beats++
				if beats > 2 {
					gate.Do(func() { close(silenced) })
					return nil
				}
				return cluster.Send(ctx, addr, payload)
			}
			return worker.GoroutineHeartbeat(ctx, hb)
		}
	})
	m, done := c.start(l)

	select {
	case <-silenced:
	case err := <-done:
		t.Fatalf("job ended before the heartbeat stalled: %v", err)
	case <-time.After(30 * time.Second):
		t.Fatal("worker 1 never started its heartbeat")
	}
	first := c.handle(1)
	require.True(t, cluster.Probe(context.Background(), mustAddress(t, m, 1)), "the silent worker still accepts connections")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(60 * time.Second):
		t.Fatal("job did not finish after the heartbeat stalled")
	}

	assert.False(t, first.Alive(), "the silent incarnation was killed")
	c.mu.Lock()
	require.Len(t, c.args[1], 2, "worker 1 was relaunched once")
	assert.Contains(t, c.args[1][1], "-load-backup")
	assert.Len(t, c.args[0], 1, "worker 0 kept running")
	c.mu.Unlock()
	assert.Equal(t, 1, m.Snapshot()[1].Restarts)
	assert.Equal(t, []string{"0 1", "1 2", "2 3"}, c.output())
}

func mustAddress(t *testing.T, m *master.Master, id int) cluster.Address {
	t.Helper()
	var addr *cluster.Address
	require.Eventually(t, func() bool {
		snap := m.Snapshot()
		if len(snap) <= id || snap[id].Address == nil {
			return false
		}
		addr = snap[id].Address
		return true
	}, 10*time.Second, 10*time.Millisecond, "worker %d registered", id)
	return *addr
}
