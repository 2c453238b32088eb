package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dreamware/graphscale/internal/algorithm"
	"github.com/dreamware/graphscale/internal/cluster"
	"github.com/dreamware/graphscale/internal/config"
	"github.com/dreamware/graphscale/internal/edgefile"
	"github.com/dreamware/graphscale/internal/heartbeat"
	"github.com/dreamware/graphscale/internal/message"
	"github.com/dreamware/graphscale/internal/partition"
	"github.com/dreamware/graphscale/internal/transfer"
)

// State is a stage of the worker lifecycle.
type State int

const (
	Initializing State = iota
	AwaitingMetadata
	AwaitingGraph
	Running
	Paused
	Finalizing
	Terminated
)

var stateNames = [...]string{
	Initializing:     "initializing",
	AwaitingMetadata: "awaiting_metadata",
	AwaitingGraph:    "awaiting_graph",
	Running:          "running",
	Paused:           "paused",
	Finalizing:       "finalizing",
	Terminated:       "terminated",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrMasterGone is returned by Run when the master refuses a connection.
var ErrMasterGone = errors.New("master unreachable")

// SendFunc delivers one payload to addr.
type SendFunc func(ctx context.Context, addr cluster.Address, payload []byte) error

// HeartbeatStarter starts the heartbeat for a worker and returns a function
// that stops it.
type HeartbeatStarter func(ctx context.Context, cfg heartbeat.Config) (stop func(), err error)

// Options configure a Worker. Only Config is required.
type Options struct {
	Config config.WorkerConfig

	// Heartbeat starts the ALIVE loop; defaults to GoroutineHeartbeat.
	Heartbeat HeartbeatStarter
	// Send delivers every outbound message; defaults to cluster.Send.
	Send SendFunc
	// Retry bounds resends on transient errors; defaults to cluster.DefaultRetryPolicy.
	Retry *cluster.RetryPolicy
	// Rand drives the scaling method; defaults to a randomly seeded source.
	Rand *rand.Rand
	// Logger defaults to the standard logger with worker fields.
	Logger *log.Entry
}

// maxGrowMisses bounds consecutive rejected proposals before degree growth
// gives up on its quota.
const maxGrowMisses = 10000

// Worker runs one partition of a scaling job.
type Worker struct {
	cfg       config.WorkerConfig
	method    algorithm.Method
	master    cluster.Address
	heartbeat HeartbeatStarter
	send      SendFunc
	retry     cluster.RetryPolicy
	rng       *rand.Rand
	log       *log.Entry

	state         State
	listener      *cluster.Listener
	stopHeartbeat func()
	sessions      *transfer.Sessions

	registry    *partition.Registry
	owned       partition.Metadata
	graphLines  []string
	graphReady  bool
	backupLines []string
	backupReady bool
	graph       *algorithm.Graph

	walkers      []algorithm.Walker
	bounced      []algorithm.Walker
	produced     map[edgefile.Edge]struct{}
	pending      []string
	quota        int
	order        []int
	cursor       int
	growMisses   int
	bursts       int
	reported     int
	completeSent bool
}

// New validates the configuration and prepares a worker in Initializing.
func New(opts Options) (*Worker, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("worker config: %w", err)
	}
	master, err := cfg.MasterAddress()
	if err != nil {
		return nil, err
	}
	w := &Worker{
		cfg:       cfg,
		method:    cfg.ParsedMethod(),
		master:    master,
		heartbeat: opts.Heartbeat,
		send:      opts.Send,
		retry:     cluster.DefaultRetryPolicy,
		rng:       opts.Rand,
		log:       opts.Logger,
		sessions:  transfer.NewSessions(cfg.ID),
		produced:  make(map[edgefile.Edge]struct{}),
		reported:  -1,
	}
	if w.heartbeat == nil {
		w.heartbeat = GoroutineHeartbeat
	}
	if w.send == nil {
		w.send = cluster.Send
	}
	if opts.Retry != nil {
		w.retry = *opts.Retry
	}
	if w.rng == nil {
		w.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if w.log == nil {
		w.log = log.WithFields(log.Fields{"component": "worker", "worker_id": cfg.ID})
	}
	return w, nil
}

// ID returns the worker id.
func (w *Worker) ID() int {
	return w.cfg.ID
}

// Run drives the state machine until TERMINATE arrives, ctx is cancelled or a
// fatal error occurs. The listener and heartbeat are always shut down.
func (w *Worker) Run(ctx context.Context) error {
	defer w.shutdown()
	for w.state != Terminated {
		var err error
		switch w.state {
		case Initializing:
			err = w.initialize(ctx)
		case AwaitingMetadata, AwaitingGraph, Paused:
			err = w.idle(ctx)
		case Running:
			err = w.burst(ctx)
		case Finalizing:
			err = w.finalize(ctx)
		}
		if err != nil {
			return err
		}
	}
	w.log.Info("terminated")
	return nil
}

func (w *Worker) initialize(ctx context.Context) error {
	ln, err := cluster.Listen(w.cfg.AdvertiseHost)
	if err != nil {
		return err
	}
	w.listener = ln
	w.log = w.log.WithField("addr", ln.Address().String())

	stop, err := w.heartbeat(ctx, heartbeat.Config{
		Master:   w.master,
		WorkerID: w.cfg.ID,
		Interval: w.cfg.HeartbeatInterval,
	})
	if err != nil {
		return fmt.Errorf("start heartbeat: %w", err)
	}
	w.stopHeartbeat = stop

	addr := ln.Address()
	if err := w.sendMaster(ctx, message.Register{WorkerID: w.cfg.ID, Host: addr.Host, Port: addr.Port}); err != nil {
		return err
	}
	w.log.Info("registered with master")
	w.state = AwaitingMetadata
	return nil
}

func (w *Worker) shutdown() {
	if w.stopHeartbeat != nil {
		w.stopHeartbeat()
	}
	if w.listener != nil {
		_ = w.listener.Close()
	}
}

// idle services the inbound queue of a waiting state.
func (w *Worker) idle(ctx context.Context) error {
	if err := w.drain(ctx); err != nil {
		return err
	}
	if w.state == Terminated {
		return nil
	}
	return w.listener.Inbox().Wait(ctx, w.cfg.PollInterval)
}

// drain dispatches every queued message. Undecodable messages are dropped.
func (w *Worker) drain(ctx context.Context) error {
	for w.state != Terminated {
		payload, ok := w.listener.Inbox().TryPop()
		if !ok {
			return nil
		}
		m, err := message.Decode(payload)
		if err != nil {
			w.log.WithError(err).Warn("dropping message")
			continue
		}
		if err := w.dispatch(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// finalize pushes whatever is left as a final backup, announces JOB_COMPLETE
// once the master holds every edge, then idles until TERMINATE.
func (w *Worker) finalize(ctx context.Context) error {
	if !w.completeSent && !w.sessions.Sending(message.FileBackup) {
		if len(w.pending) > 0 {
			if err := w.flushBackup(ctx); err != nil {
				return err
			}
		} else {
			if err := w.sendMaster(ctx, message.JobComplete{WorkerID: w.cfg.ID}); err != nil {
				return err
			}
			w.completeSent = true
			w.log.WithField("edges", len(w.produced)).Info("job complete")
		}
	}
	return w.idle(ctx)
}

// sendMaster delivers m to the master, retrying transient failures. A refused
// connection means the master is gone and is fatal.
func (w *Worker) sendMaster(ctx context.Context, m message.Message) error {
	payload, err := message.Encode(m)
	if err != nil {
		return err
	}
	err = cluster.Retry(ctx, w.retry, func() error {
		return w.send(ctx, w.master, payload)
	})
	if cluster.IsRefused(err) {
		return fmt.Errorf("%w: %v", ErrMasterGone, err)
	}
	if err != nil {
		return fmt.Errorf("send %s to master: %w", m.Status(), err)
	}
	return nil
}

// sendPeer delivers m to another worker, retrying transient failures.
func (w *Worker) sendPeer(ctx context.Context, addr cluster.Address, m message.Message) error {
	payload, err := message.Encode(m)
	if err != nil {
		return err
	}
	return cluster.Retry(ctx, w.retry, func() error {
		return w.send(ctx, addr, payload)
	})
}

func (w *Worker) debug(ctx context.Context, format string, args ...any) error {
	return w.sendMaster(ctx, message.Debug{WorkerID: w.cfg.ID, Text: fmt.Sprintf(format, args...)})
}

func (w *Worker) waitInterval() time.Duration {
	return w.cfg.PollInterval
}
