package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/dreamware/graphscale/internal/algorithm"
	"github.com/dreamware/graphscale/internal/cluster"
	"github.com/dreamware/graphscale/internal/edgefile"
	"github.com/dreamware/graphscale/internal/message"
)

// burst runs one bounded slice of computation, then services the inbound
// queue, pushes a backup when enough new edges piled up and periodically
// reports progress.
func (w *Worker) burst(ctx context.Context) error {
	var err error
	switch w.method {
	case algorithm.RandomWalk:
		err = w.walk(ctx)
	case algorithm.RandomEdge:
		w.sampleEdges()
	case algorithm.DegreeGrowth:
		w.growEdges()
	}
	if err != nil {
		return err
	}
	w.bursts++

	if err := w.drain(ctx); err != nil {
		return err
	}
	if w.state != Running {
		return nil
	}
	if !w.method.GoalDriven() && len(w.produced) >= w.quota {
		w.log.WithField("quota", w.quota).Info("quota reached")
		w.state = Finalizing
		return w.reportProgress(ctx)
	}
	if w.cfg.BackupSize > 0 && len(w.pending) >= w.cfg.BackupSize && !w.sessions.Sending(message.FileBackup) {
		if err := w.flushBackup(ctx); err != nil {
			return err
		}
	}
	if w.bursts%w.cfg.ProgressInterval == 0 {
		if err := w.reportProgress(ctx); err != nil {
			return err
		}
	}
	if w.method.UsesWalkers() && len(w.walkers) == 0 {
		// nothing to compute until a walker is handed over
		return w.listener.Inbox().Wait(ctx, w.waitInterval())
	}
	return nil
}

// walk advances every local walker WalkingIterations steps. Walkers that
// reach a foreign vertex are handed to its owner.
func (w *Worker) walk(ctx context.Context) error {
	for i := 0; i < w.cfg.WalkingIterations && len(w.walkers) > 0; i++ {
		kept := w.walkers[:0]
		for _, wk := range w.walkers {
			if w.graph.Local(wk.Vertex) && w.rng.Float64() < algorithm.RestartProbability {
				w.graph.Restart(&wk, w.rng)
			}
			e, err := w.graph.Step(&wk, w.rng)
			var foreign *algorithm.ForeignVertexError
			switch {
			case err == nil:
				w.record(e)
				if !w.graph.Local(wk.Vertex) {
					if err := w.handOff(ctx, wk.Vertex); err != nil {
						return err
					}
					continue
				}
			case errors.As(err, &foreign):
				if err := w.handOff(ctx, foreign.Vertex); err != nil {
					return err
				}
				continue
			case errors.Is(err, algorithm.ErrDeadEnd):
				if !w.graph.Restart(&wk, w.rng) {
					if err := w.relocate(ctx); err != nil {
						return err
					}
					continue
				}
			default:
				return err
			}
			kept = append(kept, wk)
		}
		w.walkers = kept
		w.settle()
	}
	return nil
}

// settle moves walkers bounced back during a pass into the walker list.
func (w *Worker) settle() {
	w.walkers = append(w.walkers, w.bounced...)
	w.bounced = w.bounced[:0]
}

// spawn places a new walker on a random local vertex, or on another
// partition when this one has no edges.
func (w *Worker) spawn(ctx context.Context) error {
	var wk algorithm.Walker
	if w.graph.Restart(&wk, w.rng) {
		w.walkers = append(w.walkers, wk)
		return nil
	}
	return w.relocate(ctx)
}

// relocate sends a walker to the first vertex of a random non-empty foreign
// partition.
func (w *Worker) relocate(ctx context.Context) error {
	var candidates []int64
	for _, p := range w.registry.All() {
		if p.WorkerID != w.cfg.ID && !p.Empty() {
			candidates = append(candidates, p.MinVertex)
		}
	}
	if len(candidates) == 0 {
		w.log.Warn("no partition can take the walker, dropping it")
		return nil
	}
	return w.handOff(ctx, candidates[w.rng.IntN(len(candidates))])
}

// handOff sends a walker standing on v to the worker that owns v. A peer that
// refuses the connection has crashed; the walker is dropped and recovered by
// the master's redistribution.
func (w *Worker) handOff(ctx context.Context, v int64) error {
	owner, err := w.registry.ResolveOwner(v)
	if err != nil {
		return fmt.Errorf("hand off walker: %w", err)
	}
	if owner == w.cfg.ID {
		wk := algorithm.Walker{Vertex: v}
		if w.graph.Restart(&wk, w.rng) {
			w.bounced = append(w.bounced, wk)
		}
		return nil
	}
	addr, err := w.registry.ResolveConnection(v)
	if err != nil {
		return fmt.Errorf("hand off walker: %w", err)
	}
	if err := w.sendPeer(ctx, addr, message.RandomWalker{Vertex: v}); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		entry := w.log.WithField("peer", owner).WithField("vertex", v)
		if cluster.IsRefused(err) {
			entry.Warn("peer unreachable, dropping walker")
		} else {
			entry.WithError(err).Warn("walker not delivered, dropping it")
		}
	}
	return nil
}

// sampleEdges takes the next local edges of a random permutation. Once the
// permutation is used up the quota is whatever was reached.
func (w *Worker) sampleEdges() {
	for i := 0; i < w.cfg.WalkingIterations && w.cursor < len(w.order) && len(w.produced) < w.quota; i++ {
		w.record(w.graph.Edge(w.order[w.cursor]))
		w.cursor++
	}
	if w.cursor >= len(w.order) {
		w.quota = min(w.quota, len(w.produced))
	}
}

// growEdges proposes new degree-weighted edges. After maxGrowMisses
// proposals in a row are rejected the quota is lowered to what was reached.
func (w *Worker) growEdges() {
	for i := 0; i < w.cfg.WalkingIterations && len(w.produced) < w.quota; i++ {
		e, ok := w.graph.GrowEdge(w.rng)
		if ok {
			if _, dup := w.produced[e]; !dup {
				w.record(e)
				w.growMisses = 0
				continue
			}
		}
		w.growMisses++
		if w.growMisses >= maxGrowMisses {
			w.log.WithField("edges", len(w.produced)).Warn("partition saturated, stopping growth below quota")
			w.quota = len(w.produced)
			return
		}
	}
}

// record keeps e if it is new and queues it for the next backup.
func (w *Worker) record(e edgefile.Edge) {
	if _, dup := w.produced[e]; dup {
		return
	}
	w.produced[e] = struct{}{}
	w.pending = append(w.pending, edgefile.FormatEdge(e))
}

// flushBackup hands every pending edge to a new BACKUP transfer.
func (w *Worker) flushBackup(ctx context.Context) error {
	lines := w.pending
	w.pending = nil
	if _, err := w.sessions.StartSend(message.FileBackup, lines, cluster.MaxMessageSize); err != nil {
		return fmt.Errorf("start backup: %w", err)
	}
	w.log.WithField("lines", len(lines)).Debug("pushing backup")
	return w.pump(ctx, message.FileBackup)
}

// pump transmits everything the sender of fileType has ready.
func (w *Worker) pump(ctx context.Context, fileType message.FileType) error {
	snd := w.sessions.Sender(fileType)
	if snd == nil {
		return nil
	}
	for {
		m, ok := snd.Next()
		if !ok {
			return nil
		}
		if err := w.sendMaster(ctx, m); err != nil {
			return err
		}
	}
}

func (w *Worker) reportProgress(ctx context.Context) error {
	if len(w.produced) == w.reported {
		return nil
	}
	w.reported = len(w.produced)
	return w.sendMaster(ctx, message.Progress{WorkerID: w.cfg.ID, Edges: w.reported})
}
