package master

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dreamware/graphscale/internal/cluster"
	"github.com/dreamware/graphscale/internal/edgefile"
	"github.com/dreamware/graphscale/internal/message"
)

// drain dispatches every queued message. Undecodable messages and messages
// naming unknown workers are dropped.
func (m *Master) drain(ctx context.Context) error {
	for {
		payload, ok := m.listener.Inbox().TryPop()
		if !ok {
			return nil
		}
		msg, err := message.Decode(payload)
		if err != nil {
			m.log.WithError(err).Warn("dropping message")
			continue
		}
		if err := m.dispatch(ctx, msg); err != nil {
			return err
		}
	}
}

func (m *Master) dispatch(ctx context.Context, msg message.Message) error {
	table := m.table.Load()
	now := time.Now()
	var err error
	switch msg := msg.(type) {
	case message.Register:
		addr := cluster.Address{Host: msg.Host, Port: msg.Port}
		if err = table.Register(msg.WorkerID, addr, now); err == nil {
			m.log.WithFields(log.Fields{"worker_id": msg.WorkerID, "addr": addr.String()}).Info("worker registered")
		}
	case message.Alive:
		err = table.Heartbeat(msg.WorkerID, now)
	case message.Debug:
		m.log.WithField("worker_id", msg.WorkerID).Infof("worker: %s", msg.Text)
	case message.Progress:
		err = table.Progress(msg.WorkerID, msg.Edges)
	case message.JobComplete:
		if err = table.SetComplete(msg.WorkerID); err == nil {
			m.log.WithField("worker_id", msg.WorkerID).Info("worker completed its job")
		}
	case message.RandomWalkerCount:
		err = table.SetWalkerCount(msg.WorkerID, msg.Count)
	case message.StartSendFile:
		return m.handleTransfer(ctx, msg.WorkerID, msg)
	case message.FileChunk:
		return m.handleTransfer(ctx, msg.WorkerID, msg)
	case message.EndSendFile:
		return m.handleTransfer(ctx, msg.WorkerID, msg)
	case message.MissingChunk:
		return m.handleTransfer(ctx, msg.WorkerID, msg)
	case message.ReceivedFile:
		return m.handleTransfer(ctx, msg.WorkerID, msg)
	default:
		m.log.WithField("status", msg.Status().String()).Warn("unexpected message")
	}
	if err != nil {
		m.log.WithError(err).Warnf("dropping %s", msg.Status())
	}
	return nil
}

// handleTransfer feeds a transfer message into the sessions of the worker it
// names. Messages from workers that are not registered belong to a dead
// incarnation and are dropped.
func (m *Master) handleTransfer(ctx context.Context, id int, msg message.Message) error {
	table := m.table.Load()
	rec, ok := table.Get(id)
	if !ok || !rec.Meta.Registered() {
		m.log.WithField("worker_id", id).Debugf("dropping %s from unregistered worker", msg.Status())
		return nil
	}

	reply, done, err := rec.Sessions.Handle(msg)
	if err != nil {
		m.log.WithField("worker_id", id).WithError(err).Warn("transfer")
		return nil
	}
	if reply != nil {
		if err := m.sendTo(ctx, id, reply, true); err != nil {
			return err
		}
	}
	if missing, ok := msg.(message.MissingChunk); ok {
		return m.pump(ctx, id, missing.FileType, true)
	}
	if done == nil {
		return nil
	}
	if done.FileType != message.FileBackup {
		m.log.WithFields(log.Fields{"worker_id": id, "file_type": done.FileType.String()}).Warn("unexpected file from worker")
		return nil
	}
	if err := table.AppendBackup(id, done.Lines); err != nil {
		return err
	}
	m.log.WithFields(log.Fields{"worker_id": id, "lines": len(done.Lines), "total": len(rec.Backup)}).Debug("backup received")
	return nil
}

// pump sends every chunk the open sender of a type still has queued.
func (m *Master) pump(ctx context.Context, id int, ft message.FileType, tolerateRefusal bool) error {
	rec, _ := m.table.Load().Get(id)
	snd := rec.Sessions.Sender(ft)
	if snd == nil {
		return nil
	}
	for {
		next, ok := snd.Next()
		if !ok {
			return nil
		}
		if err := m.sendTo(ctx, id, next, tolerateRefusal); err != nil {
			return err
		}
	}
}

// sendFiles streams the graph partition (unless workers read it from shared
// storage) and, with withBackup, any accumulated backup to each listed
// worker, then waits until every worker acknowledged every file.
func (m *Master) sendFiles(ctx context.Context, ids []int, withBackup, cascade bool) error {
	table := m.table.Load()
	type stream struct {
		id int
		ft message.FileType
	}
	var streams []stream
	for _, id := range ids {
		rec, _ := table.Get(id)
		if !m.cfg.SharedStorage {
			lines, err := edgefile.ReadAll(rec.PartitionPath)
			if err != nil {
				return fmt.Errorf("read partition %d: %w", id, err)
			}
			if _, err := rec.Sessions.StartSend(message.FileGraph, lines, cluster.MaxMessageSize); err != nil {
				return err
			}
			streams = append(streams, stream{id, message.FileGraph})
		}
		if withBackup && len(rec.Backup) > 0 {
			if _, err := rec.Sessions.StartSend(message.FileBackup, rec.Backup, cluster.MaxMessageSize); err != nil {
				return err
			}
			streams = append(streams, stream{id, message.FileBackup})
		}
	}
	for _, s := range streams {
		if err := m.pump(ctx, s.id, s.ft, false); err != nil {
			return err
		}
		m.log.WithFields(log.Fields{"worker_id": s.id, "file_type": s.ft.String()}).Debug("file sent")
	}

	return m.waitFor(ctx, func() (bool, error) {
		if cascade {
			if err := m.detectCascade(); err != nil {
				return false, err
			}
		}
		for _, s := range streams {
			rec, _ := table.Get(s.id)
			if rec.Sessions.Sending(s.ft) {
				return false, nil
			}
		}
		return true, nil
	})
}
