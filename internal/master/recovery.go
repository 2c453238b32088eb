package master

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/dreamware/graphscale/internal/message"
)

// failureControl checks every registered worker once and recovers the ones
// that failed. finishing is set once FINISH_JOB went out, so that restarted
// workers of a goal-driven job are told to finish as well.
func (m *Master) failureControl(ctx context.Context, finishing bool) error {
	failed := m.health.Check(m.table.Load().Targets())
	if len(failed) == 0 {
		return nil
	}
	return m.recover(ctx, failed, finishing)
}

// detectCascade fails when a registered worker fails during recovery.
func (m *Master) detectCascade() error {
	if failed := m.health.Check(m.table.Load().Targets()); len(failed) > 0 {
		return fmt.Errorf("%w: workers %v", ErrCascadingFailure, failed)
	}
	return nil
}

// recover restarts the failed workers in one synchronous round:
//
//  1. unregister the failed workers and kill what is left of them
//  2. pause the survivors with WORKER_FAILED
//  3. collect every survivor's walker count
//  4. compute the walkers lost with the failed workers
//  5. relaunch each failed worker with its share, loading its backup
//  6. wait for the new incarnations to register
//  7. broadcast the updated partition table
//  8. stream graph partitions and backups to the new incarnations
//  9. resume everyone with CONTINUE
func (m *Master) recover(ctx context.Context, failed []int, finishing bool) error {
	table := m.table.Load()
	failed = slices.Clone(failed)
	slices.Sort(failed)
	entry := m.log.WithField("failed", failed)
	entry.Warn("workers failed, recovering")

	for _, id := range failed {
		h, err := table.MarkFailed(id)
		if err != nil {
			return err
		}
		if wh := m.health.GetWorkerHealth(id); wh != nil {
			entry.WithFields(log.Fields{"worker_id": id, "failed_checks": wh.ConsecutiveFails, "last_healthy": wh.LastHealthy}).Info("unregistering worker")
		}
		m.health.Forget(id)
		if h != nil && h.Alive() {
			_ = h.Kill()
		}
	}

	survivors := table.Registered()
	table.ResetWalkerCounts(survivors)
	if err := m.broadcast(ctx, survivors, message.WorkerFailed{}, true); err != nil {
		return err
	}

	var counts map[int]int
	err := m.waitFor(ctx, func() (bool, error) {
		if err := m.detectCascade(); err != nil {
			return false, err
		}
		c, ok := table.WalkerCounts(survivors)
		counts = c
		return ok, nil
	})
	if err != nil {
		return fmt.Errorf("collect walker counts: %w", err)
	}

	shares := Redistribute(table.Len(), m.walkersPerWorker(), counts, failed)
	entry.WithFields(log.Fields{"reported": counts, "shares": shares}).Info("redistributing walkers")

	for _, id := range failed {
		rec, _ := table.Get(id)
		h, err := m.launchWorker(ctx, id, shares[id], len(rec.Backup) > 0)
		if err != nil {
			return err
		}
		if err := table.Restarted(id, h); err != nil {
			return err
		}
	}
	if err := m.waitRegistered(ctx, failed, true); err != nil {
		return fmt.Errorf("re-register: %w", err)
	}

	if err := m.broadcast(ctx, table.Registered(), m.metadata(), false); err != nil {
		return fmt.Errorf("%w: %v", ErrCascadingFailure, err)
	}
	if err := m.sendFiles(ctx, failed, true, true); err != nil {
		return fmt.Errorf("restore restarted workers: %w", err)
	}
	if err := m.broadcast(ctx, table.Registered(), message.Continue{}, false); err != nil {
		return fmt.Errorf("%w: %v", ErrCascadingFailure, err)
	}
	if finishing && m.method.GoalDriven() {
		if err := m.broadcast(ctx, failed, message.FinishJob{}, false); err != nil {
			return fmt.Errorf("%w: %v", ErrCascadingFailure, err)
		}
	}
	entry.Info("recovery complete")
	return nil
}

// Redistribute splits the walkers that vanished with the failed workers among
// their restarted incarnations. The job started with totalWorkers times
// walkersPerWorker walkers; whatever the survivors did not report is lost.
// Failed workers are served in id order, each getting
// ceil(lost / len(failed)) until the lost walkers run out, so the shares
// always sum to exactly the lost count.
func Redistribute(totalWorkers, walkersPerWorker int, reported map[int]int, failed []int) map[int]int {
	ids := slices.Clone(failed)
	slices.Sort(ids)
	shares := make(map[int]int, len(ids))
	if len(ids) == 0 {
		return shares
	}

	alive := 0
	for _, c := range reported {
		alive += c
	}
	remaining := max(0, totalWorkers*walkersPerWorker-alive)
	each := (remaining + len(ids) - 1) / len(ids)
	for _, id := range ids {
		share := min(each, remaining)
		shares[id] = share
		remaining -= share
	}
	return shares
}
