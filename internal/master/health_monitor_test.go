package master

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphscale/internal/cluster"
)

func addr(port int) cluster.Address {
	return cluster.Address{Host: "127.0.0.1", Port: port}
}

// TestNewHealthMonitor verifies the defaults of a fresh monitor.
func TestNewHealthMonitor(t *testing.T) {
	monitor := NewHealthMonitor(2 * time.Second)

	assert.NotNil(t, monitor)
	assert.Equal(t, 2*time.Second, monitor.maxHeartbeatDelay)
	assert.Equal(t, time.Second, monitor.timeout)
	assert.Equal(t, 1, monitor.maxFailures)
	assert.Len(t, monitor.workers, 0)
}

// TestHealthMonitorCheck verifies that healthy workers are tracked and a
// failing one is reported exactly once.
func TestHealthMonitorCheck(t *testing.T) {
	monitor := NewHealthMonitor(0)

	var mu sync.Mutex
	down := map[int]bool{}
	monitor.SetCheckFunction(func(a cluster.Address) error {
		mu.Lock()
		defer mu.Unlock()
		if down[a.Port] {
			return fmt.Errorf("worker is down")
		}
		return nil
	})

	targets := []Target{
		{WorkerID: 0, Address: addr(9000)},
		{WorkerID: 1, Address: addr(9001)},
	}

	assert.Empty(t, monitor.Check(targets))
	assert.True(t, monitor.IsHealthy(0))
	assert.True(t, monitor.IsHealthy(1))

	mu.Lock()
	down[9001] = true
	mu.Unlock()

	assert.Equal(t, []int{1}, monitor.Check(targets))
	assert.Empty(t, monitor.Check(targets), "an unhealthy worker is only reported when it becomes unhealthy")

	health := monitor.GetWorkerHealth(1)
	require.NotNil(t, health)
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, 2, health.ConsecutiveFails)
	assert.True(t, monitor.IsHealthy(0))
}

// TestHealthMonitorMaxFailures verifies the failure threshold.
func TestHealthMonitorMaxFailures(t *testing.T) {
	monitor := NewHealthMonitor(0)
	monitor.SetMaxFailures(3)
	monitor.SetCheckFunction(func(cluster.Address) error { return fmt.Errorf("down") })

	targets := []Target{{WorkerID: 0, Address: addr(9000)}}
	assert.Empty(t, monitor.Check(targets))
	assert.Empty(t, monitor.Check(targets))
	assert.Equal(t, []int{0}, monitor.Check(targets))

	monitor.SetMaxFailures(0)
	assert.Equal(t, 1, monitor.maxFailures)
}

// TestHealthMonitorRecovery verifies that an unhealthy worker becomes
// healthy again once checks succeed.
func TestHealthMonitorRecovery(t *testing.T) {
	monitor := NewHealthMonitor(0)
	healthy := false
	monitor.SetCheckFunction(func(cluster.Address) error {
		if !healthy {
			return fmt.Errorf("down")
		}
		return nil
	})

	targets := []Target{{WorkerID: 3, Address: addr(9003)}}
	assert.Equal(t, []int{3}, monitor.Check(targets))
	assert.False(t, monitor.IsHealthy(3))

	healthy = true
	assert.Empty(t, monitor.Check(targets))
	assert.True(t, monitor.IsHealthy(3))
	assert.Equal(t, 0, monitor.GetWorkerHealth(3).ConsecutiveFails)
}

// TestHealthMonitorHeartbeatDelay verifies that a stale heartbeat fails a
// worker whose listener still answers.
func TestHealthMonitorHeartbeatDelay(t *testing.T) {
	monitor := NewHealthMonitor(time.Second)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	monitor.now = func() time.Time { return now }
	monitor.SetCheckFunction(func(cluster.Address) error { return nil })

	fresh := Target{WorkerID: 0, Address: addr(9000), LastHeartbeat: now.Add(-500 * time.Millisecond)}
	stale := Target{WorkerID: 1, Address: addr(9001), LastHeartbeat: now.Add(-3 * time.Second)}
	never := Target{WorkerID: 2, Address: addr(9002)}

	assert.Equal(t, []int{1}, monitor.Check([]Target{fresh, stale, never}))
	assert.True(t, monitor.IsHealthy(2), "a worker without heartbeats yet is judged by its probe")
}

// TestHealthMonitorForgetsUnregistered verifies cleanup of workers that left
// the target list and explicit Forget.
func TestHealthMonitorForgetsUnregistered(t *testing.T) {
	monitor := NewHealthMonitor(0)
	monitor.SetCheckFunction(func(cluster.Address) error { return fmt.Errorf("down") })

	monitor.Check([]Target{{WorkerID: 0, Address: addr(9000)}, {WorkerID: 1, Address: addr(9001)}})
	require.Len(t, monitor.GetAllWorkerHealth(), 2)

	monitor.Check([]Target{{WorkerID: 1, Address: addr(9001)}})
	assert.Nil(t, monitor.GetWorkerHealth(0))

	monitor.Forget(1)
	assert.Nil(t, monitor.GetWorkerHealth(1))
	assert.Equal(t, []int{1}, monitor.Check([]Target{{WorkerID: 1, Address: addr(9001)}}),
		"a forgotten worker is reported again when its next incarnation fails")
}

// TestHealthMonitorDefaultProbe verifies the default check against a real
// listener and a closed port.
func TestHealthMonitorDefaultProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	monitor := NewHealthMonitor(0)
	targets := []Target{{WorkerID: 0, Address: addr(port)}}
	assert.Empty(t, monitor.Check(targets))

	require.NoError(t, ln.Close())
	assert.Equal(t, []int{0}, monitor.Check(targets))
	assert.False(t, monitor.IsHealthy(0))
}
