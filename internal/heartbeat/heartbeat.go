// Package heartbeat sends periodic ALIVE messages to the master. It is run
// from a process separate from the worker's main loop so that a wedged
// worker cannot fake liveness and heartbeat I/O never blocks computation.
package heartbeat

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dreamware/graphscale/internal/cluster"
	"github.com/dreamware/graphscale/internal/message"
)

// Config describes one heartbeat loop.
type Config struct {
	Master   cluster.Address
	WorkerID int
	Interval time.Duration

	// Send delivers one payload; defaults to cluster.Send.
	Send func(ctx context.Context, addr cluster.Address, payload []byte) error

	// Orphaned, when set, is polled every beat; the loop exits once it
	// reports true (the worker process it beats for has gone away).
	Orphaned func() bool
}

// Run beats until the master refuses a connection, ctx is cancelled or the
// loop is orphaned. It never reports back to the worker; it only stops.
// The number of beats delivered is returned for diagnostics.
func Run(ctx context.Context, cfg Config) int {
	send := cfg.Send
	if send == nil {
		send = cluster.Send
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	payload := message.MustEncode(message.Alive{WorkerID: cfg.WorkerID})
	logger := log.WithFields(log.Fields{"component": "heartbeat", "worker_id": cfg.WorkerID})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	beats := 0
	for {
		if cfg.Orphaned != nil && cfg.Orphaned() {
			logger.Debug("worker process gone, stopping heartbeat")
			return beats
		}
		err := send(ctx, cfg.Master, payload)
		switch {
		case err == nil:
			beats++
		case cluster.IsRefused(err):
			logger.Debug("master unreachable, stopping heartbeat")
			return beats
		default:
			logger.WithError(err).Debug("heartbeat not delivered")
		}

		select {
		case <-ctx.Done():
			return beats
		case <-ticker.C:
		}
	}
}
