package worker

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/dreamware/graphscale/internal/algorithm"
	"github.com/dreamware/graphscale/internal/edgefile"
	"github.com/dreamware/graphscale/internal/message"
	"github.com/dreamware/graphscale/internal/partition"
	"github.com/dreamware/graphscale/internal/transfer"
)

// dispatch routes m to the handler of the current state.
func (w *Worker) dispatch(ctx context.Context, m message.Message) error {
	if _, ok := m.(message.Terminate); ok {
		w.state = Terminated
		return nil
	}
	switch w.state {
	case AwaitingMetadata:
		return w.handleAwaitingMetadata(ctx, m)
	case AwaitingGraph:
		return w.handleAwaitingGraph(ctx, m)
	case Running:
		return w.handleRunning(ctx, m)
	case Paused:
		return w.handlePaused(ctx, m)
	case Finalizing:
		return w.handleFinalizing(ctx, m)
	}
	return w.unexpected(m)
}

func (w *Worker) handleAwaitingMetadata(ctx context.Context, m message.Message) error {
	switch msg := m.(type) {
	case message.MetaData:
		if err := w.applyMetadata(msg); err != nil {
			return err
		}
		w.state = AwaitingGraph
		if w.cfg.GraphFile != "" {
			lines, err := edgefile.ReadAll(w.cfg.GraphFile)
			if err != nil {
				return fmt.Errorf("read partition: %w", err)
			}
			w.graphLines, w.graphReady = lines, true
		}
		return w.startIfReady(ctx)
	case message.RandomWalker:
		w.enqueue(msg.Vertex)
		return nil
	}
	return w.unexpected(m)
}

func (w *Worker) handleAwaitingGraph(ctx context.Context, m message.Message) error {
	switch msg := m.(type) {
	case message.StartSendFile, message.FileChunk, message.EndSendFile:
		if err := w.handleTransfer(ctx, m); err != nil {
			return err
		}
		return w.startIfReady(ctx)
	case message.MetaData:
		return w.applyMetadata(msg)
	case message.RandomWalker:
		w.enqueue(msg.Vertex)
		return nil
	}
	return w.unexpected(m)
}

func (w *Worker) handleRunning(ctx context.Context, m message.Message) error {
	switch msg := m.(type) {
	case message.RandomWalker:
		w.enqueue(msg.Vertex)
		return nil
	case message.WorkerFailed:
		w.state = Paused
		w.log.WithField("walkers", len(w.walkers)).Warn("another worker failed, pausing")
		return w.reportWalkers(ctx)
	case message.FinishJob:
		w.state = Finalizing
		return nil
	case message.MetaData:
		return w.applyMetadata(msg)
	case message.Continue:
		return nil
	case message.MissingChunk, message.ReceivedFile, message.StartSendFile, message.FileChunk, message.EndSendFile:
		return w.handleTransfer(ctx, m)
	}
	return w.unexpected(m)
}

func (w *Worker) handlePaused(ctx context.Context, m message.Message) error {
	switch msg := m.(type) {
	case message.Continue:
		w.state = Running
		w.log.Info("resuming")
		return nil
	case message.MetaData:
		return w.applyMetadata(msg)
	case message.WorkerFailed:
		return w.reportWalkers(ctx)
	case message.RandomWalker:
		w.enqueue(msg.Vertex)
		return nil
	case message.FinishJob:
		w.state = Finalizing
		return nil
	case message.MissingChunk, message.ReceivedFile, message.StartSendFile, message.FileChunk, message.EndSendFile:
		return w.handleTransfer(ctx, m)
	}
	return w.unexpected(m)
}

func (w *Worker) handleFinalizing(ctx context.Context, m message.Message) error {
	switch msg := m.(type) {
	case message.WorkerFailed:
		return w.reportWalkers(ctx)
	case message.FinishJob, message.Continue:
		return nil
	case message.MetaData:
		return w.applyMetadata(msg)
	case message.RandomWalker:
		w.log.WithField("vertex", msg.Vertex).Debug("job finishing, dropping walker")
		return nil
	case message.MissingChunk, message.ReceivedFile, message.StartSendFile, message.FileChunk, message.EndSendFile:
		return w.handleTransfer(ctx, m)
	}
	return w.unexpected(m)
}

func (w *Worker) unexpected(m message.Message) error {
	w.log.WithField("status", m.Status().String()).Warnf("unexpected message in state %s, dropping", w.state)
	return nil
}

// handleTransfer applies a chunked transfer message, answers the master and
// keeps the outgoing backup moving after a repair request.
func (w *Worker) handleTransfer(ctx context.Context, m message.Message) error {
	reply, done, err := w.sessions.Handle(m)
	if err != nil {
		w.log.WithError(err).Warn("dropping transfer message")
		return nil
	}
	if reply != nil {
		if err := w.sendMaster(ctx, reply); err != nil {
			return err
		}
	}
	if msg, ok := m.(message.MissingChunk); ok {
		w.log.WithFields(log.Fields{"file": msg.FileType.String(), "index": msg.Index}).Warn("master missed a chunk, resending")
		if err := w.pump(ctx, msg.FileType); err != nil {
			return err
		}
	}
	if done != nil {
		w.completed(done)
	}
	return nil
}

func (w *Worker) completed(done *transfer.Completed) {
	switch done.FileType {
	case message.FileGraph:
		w.graphLines, w.graphReady = done.Lines, true
		w.log.WithField("lines", len(done.Lines)).Info("received graph partition")
	case message.FileBackup:
		w.backupLines, w.backupReady = done.Lines, true
		w.log.WithField("lines", len(done.Lines)).Info("received backup")
	}
}

// applyMetadata replaces the routing table with the one just received.
func (w *Worker) applyMetadata(msg message.MetaData) error {
	reg := partition.NewRegistry(msg.Partitions)
	owned, ok := reg.Get(w.cfg.ID)
	if !ok {
		return fmt.Errorf("metadata has no partition for worker %d", w.cfg.ID)
	}
	if w.registry == nil {
		w.owned = owned
		w.log.WithFields(log.Fields{"min": owned.MinVertex, "max": owned.MaxVertex}).Info("received metadata")
	}
	w.registry = reg
	return nil
}

func (w *Worker) reportWalkers(ctx context.Context) error {
	return w.sendMaster(ctx, message.RandomWalkerCount{WorkerID: w.cfg.ID, Count: len(w.walkers)})
}

func (w *Worker) enqueue(v int64) {
	w.walkers = append(w.walkers, algorithm.Walker{Vertex: v})
}

// startIfReady moves to Running once the partition, and the backup when one
// is expected, have arrived.
func (w *Worker) startIfReady(ctx context.Context) error {
	if !w.graphReady || (w.cfg.LoadBackup && !w.backupReady) {
		return nil
	}
	g, err := algorithm.NewGraph(w.graphLines, w.owned)
	if err != nil {
		return fmt.Errorf("load partition: %w", err)
	}
	w.graph = g
	w.graphLines = nil

	for _, l := range w.backupLines {
		e, err := edgefile.ParseEdge(l)
		if err != nil {
			return fmt.Errorf("load backup: %w", err)
		}
		w.produced[e] = struct{}{}
	}
	if len(w.backupLines) > 0 {
		if err := w.debug(ctx, "resumed from backup with %d edges", len(w.produced)); err != nil {
			return err
		}
	}
	w.backupLines = nil

	switch w.method {
	case algorithm.RandomEdge:
		w.quota = min(w.method.Quota(g.EdgeCount(), w.cfg.Scale), g.EdgeCount())
		w.order = w.rng.Perm(g.EdgeCount())
	case algorithm.DegreeGrowth:
		w.quota = w.method.Quota(g.EdgeCount(), w.cfg.Scale)
	}

	w.state = Running
	w.log.WithFields(log.Fields{
		"edges":    g.EdgeCount(),
		"vertices": g.VertexCount(),
		"resumed":  len(w.produced),
	}).Info("running")

	if w.method.UsesWalkers() {
		for i := 0; i < w.cfg.WalkersPerWorker; i++ {
			if err := w.spawn(ctx); err != nil {
				return err
			}
		}
		w.settle()
	}
	if len(w.produced) > 0 {
		return w.reportProgress(ctx)
	}
	return nil
}
