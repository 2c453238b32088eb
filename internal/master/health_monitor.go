package master

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dreamware/graphscale/internal/cluster"
)

// Target is one registered worker to check.
type Target struct {
	WorkerID      int
	Address       cluster.Address
	LastHeartbeat time.Time
}

// WorkerHealth tracks the health status of a single worker.
// It maintains the current status, last successful check time, and failure count.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type WorkerHealth struct {
	LastCheck        time.Time // Timestamp of the last health check attempt
	LastHealthy      time.Time // Timestamp of the last successful health check
	WorkerID         int       // Worker the record belongs to
	Status           string    // Current status: "healthy", "unhealthy", "unknown"
	ConsecutiveFails int       // Number of consecutive failed health checks
}

// HealthMonitor decides which registered workers have failed.
//
// Unlike a background prober it runs synchronously: the master calls Check
// once per poll cycle, so failure detection and recovery happen on the same
// loop that owns the worker table. A check fails when the worker's listener
// refuses a probe connection, or when heartbeats are enabled and the last
// ALIVE is older than the configured delay.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	workers           map[int]*WorkerHealth       // Current health status per worker
	checkFunc         func(cluster.Address) error // Function to perform health check
	now               func() time.Time            // Clock, replaceable in tests
	timeout           time.Duration               // Probe timeout
	maxHeartbeatDelay time.Duration               // Zero disables the heartbeat check
	mu                sync.RWMutex                // Protects workers map
	maxFailures       int                         // Failures before marking unhealthy
}

// NewHealthMonitor creates a health monitor.
// Workers are marked unhealthy on their first failed check; a refused probe
// is conclusive because workers never close their listener while running.
//
// Parameters:
//   - maxHeartbeatDelay: Maximum age of the last ALIVE, zero to rely on probes only
//
// Returns:
//   - *HealthMonitor: Configured health monitor
//
// Example:
//
//	monitor := NewHealthMonitor(2 * time.Second)
//	failed := monitor.Check(table.Targets())
func NewHealthMonitor(maxHeartbeatDelay time.Duration) *HealthMonitor {
	return &HealthMonitor{
		workers:           make(map[int]*WorkerHealth),
		now:               time.Now,
		timeout:           time.Second,
		maxHeartbeatDelay: maxHeartbeatDelay,
		maxFailures:       1,
	}
}

// SetCheckFunction allows overriding the default probe.
// This is useful for testing or custom health check implementations.
//
// Parameters:
//   - checkFunc: Function that takes an address and returns an error
//
// Example:
//
//	monitor.SetCheckFunction(func(addr cluster.Address) error {
//	    return nil
//	})
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr cluster.Address) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkFunc = checkFunc
}

// SetMaxFailures sets how many consecutive failed checks mark a worker unhealthy.
func (h *HealthMonitor) SetMaxFailures(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n < 1 {
		n = 1
	}
	h.maxFailures = n
}

// Check performs one round of health checks and returns the ids of workers
// that became unhealthy in this round. Workers absent from targets are
// dropped from tracking, so a restarted worker starts over as "unknown".
//
// Implementation:
//  1. Check every target, updating its record
//  2. Collect targets that crossed the failure threshold
//  3. Clean up workers that are no longer registered
func (h *HealthMonitor) Check(targets []Target) []int {
	var failed []int
	current := make(map[int]bool, len(targets))
	for _, t := range targets {
		current[t.WorkerID] = true
		if h.checkWorker(t) {
			failed = append(failed, t.WorkerID)
		}
	}

	h.mu.Lock()
	for id := range h.workers {
		if !current[id] {
			delete(h.workers, id)
		}
	}
	h.mu.Unlock()
	return failed
}

// checkWorker checks a single worker and reports whether it just became unhealthy.
func (h *HealthMonitor) checkWorker(t Target) bool {
	h.mu.Lock()
	health, exists := h.workers[t.WorkerID]
	if !exists {
		health = &WorkerHealth{
			WorkerID:    t.WorkerID,
			Status:      "unknown",
			LastCheck:   h.now(),
			LastHealthy: h.now(),
		}
		h.workers[t.WorkerID] = health
	}
	check := h.checkFunc
	if check == nil {
		check = h.defaultHealthCheck
	}
	h.mu.Unlock()

	err := check(t.Address)
	if err == nil && h.maxHeartbeatDelay > 0 && !t.LastHeartbeat.IsZero() {
		if age := h.now().Sub(t.LastHeartbeat); age > h.maxHeartbeatDelay {
			err = fmt.Errorf("no heartbeat for %v", age.Round(time.Millisecond))
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = h.now()
	entry := log.WithFields(log.Fields{"component": "health", "worker_id": t.WorkerID})

	if err != nil {
		health.ConsecutiveFails++
		entry.WithError(err).Debugf("health check failed (attempt %d/%d)", health.ConsecutiveFails, h.maxFailures)
		if health.ConsecutiveFails >= h.maxFailures && health.Status != "unhealthy" {
			health.Status = "unhealthy"
			entry.Warnf("worker marked as failed after %d failed checks", health.ConsecutiveFails)
			return true
		}
		return false
	}

	if health.Status == "unhealthy" {
		entry.Info("worker recovered and is now healthy")
	}
	health.Status = "healthy"
	health.ConsecutiveFails = 0
	health.LastHealthy = h.now()
	return false
}

// defaultHealthCheck probes the worker's listener without sending data.
func (h *HealthMonitor) defaultHealthCheck(addr cluster.Address) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if !cluster.Probe(ctx, addr) {
		return fmt.Errorf("probe %s: %w", addr, cluster.ErrConnectionRefused)
	}
	return nil
}

// GetWorkerHealth returns the current health status of a specific worker.
// Returns nil if the worker is not being monitored.
func (h *HealthMonitor) GetWorkerHealth(workerID int) *WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.workers[workerID]
	if !exists {
		return nil
	}
	c := *health
	return &c
}

// GetAllWorkerHealth returns a copy of every monitored worker's health.
func (h *HealthMonitor) GetAllWorkerHealth() map[int]*WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[int]*WorkerHealth, len(h.workers))
	for id, health := range h.workers {
		c := *health
		result[id] = &c
	}
	return result
}

// IsHealthy returns whether a specific worker is currently healthy.
// Returns false if the worker is not being monitored.
func (h *HealthMonitor) IsHealthy(workerID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.workers[workerID]
	return exists && health.Status == "healthy"
}

// Forget drops a worker's record so its next incarnation starts as "unknown".
func (h *HealthMonitor) Forget(workerID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.workers, workerID)
}
