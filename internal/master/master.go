package master

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dreamware/graphscale/internal/algorithm"
	"github.com/dreamware/graphscale/internal/cluster"
	"github.com/dreamware/graphscale/internal/config"
	"github.com/dreamware/graphscale/internal/launch"
	"github.com/dreamware/graphscale/internal/message"
	"github.com/dreamware/graphscale/internal/partition"
)

// Phase is a job-level stage of the master.
type Phase int

const (
	PhasePartitioning Phase = iota
	PhaseLaunching
	PhaseRegistering
	PhaseDistributing
	PhaseRunning
	PhaseFinalizing
	PhaseAssembling
	PhaseDone
	PhaseFailed
)

var phaseNames = [...]string{
	PhasePartitioning: "partitioning",
	PhaseLaunching:    "launching",
	PhaseRegistering:  "registering",
	PhaseDistributing: "distributing",
	PhaseRunning:      "running",
	PhaseFinalizing:   "finalizing",
	PhaseAssembling:   "assembling",
	PhaseDone:         "done",
	PhaseFailed:       "failed",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

var (
	// ErrCascadingFailure is returned when a worker fails while another
	// failure is being recovered. Recovery is a single synchronous round and
	// does not handle this case.
	ErrCascadingFailure = errors.New("worker failed during recovery")
	// ErrWorkerExited is returned when a launched worker stops before registering.
	ErrWorkerExited = errors.New("worker exited before registering")
)

// Options configure a Master. Launcher is required.
type Options struct {
	Launcher launch.Launcher
	// Health decides which workers failed; defaults to probing plus the
	// configured heartbeat delay.
	Health *HealthMonitor
	// Probe replaces the listener probe of the default health monitor.
	Probe func(cluster.Address) error
	// Retry bounds resends on transient errors; defaults to cluster.DefaultRetryPolicy.
	Retry *cluster.RetryPolicy
	// Logger defaults to the standard logger with job fields.
	Logger *log.Entry
}

// Master runs one job.
type Master struct {
	cfg      config.MasterConfig
	method   algorithm.Method
	launcher launch.Launcher
	health   *HealthMonitor
	retry    cluster.RetryPolicy
	jobID    string
	log      *log.Entry

	listener *cluster.Listener
	table    atomic.Pointer[WorkerTable]
	workDir  string

	mu    sync.RWMutex
	phase Phase
	goal  float64
}

// New validates the configuration and prepares a job.
func New(cfg config.MasterConfig, opts Options) (*Master, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("master config: %w", err)
	}
	if opts.Launcher == nil {
		return nil, errors.New("master: a launcher is required")
	}
	m := &Master{
		cfg:      cfg,
		method:   cfg.ParsedMethod(),
		launcher: opts.Launcher,
		health:   opts.Health,
		retry:    cluster.DefaultRetryPolicy,
		jobID:    uuid.NewString(),
		log:      opts.Logger,
	}
	if m.health == nil {
		m.health = NewHealthMonitor(cfg.MaxHeartbeatDelay)
		m.health.SetMaxFailures(cfg.MaxFailures)
		if opts.Probe != nil {
			m.health.SetCheckFunction(opts.Probe)
		}
	}
	if opts.Retry != nil {
		m.retry = *opts.Retry
	}
	if m.log == nil {
		m.log = log.WithFields(log.Fields{"component": "master", "job_id": m.jobID})
	}
	return m, nil
}

// JobID identifies this run in logs and temporary paths.
func (m *Master) JobID() string {
	return m.jobID
}

// Phase returns the current phase.
func (m *Master) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

func (m *Master) setPhase(p Phase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
	m.log.WithField("phase", p.String()).Info("entering phase")
}

// Goal returns the total progress at which a goal-driven job finishes.
func (m *Master) Goal() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.goal
}

// Snapshot returns the status of every worker, or nil before partitioning.
func (m *Master) Snapshot() []WorkerStatus {
	t := m.table.Load()
	if t == nil {
		return nil
	}
	snap := t.Snapshot()
	health := m.health.GetAllWorkerHealth()
	for i := range snap {
		if h, ok := health[snap[i].WorkerID]; ok {
			snap[i].Health = h.Status
			snap[i].FailedChecks = h.ConsecutiveFails
		}
	}
	return snap
}

// Run executes the job to completion. Workers still running when Run
// returns with an error are killed.
func (m *Master) Run(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			m.setPhase(PhaseFailed)
			m.killAll()
		}
		if m.listener != nil {
			_ = m.listener.Close()
		}
		if m.workDir != "" {
			_ = os.RemoveAll(m.workDir)
		}
	}()

	m.setPhase(PhasePartitioning)
	if err := m.partition(); err != nil {
		return err
	}

	ln, err := cluster.Listen(m.cfg.AdvertiseHost)
	if err != nil {
		return err
	}
	m.listener = ln
	m.log.WithField("addr", ln.Address().String()).Info("listening")

	m.setPhase(PhaseLaunching)
	table := m.table.Load()
	for _, id := range table.IDs() {
		h, err := m.launchWorker(ctx, id, m.walkersPerWorker(), false)
		if err != nil {
			return err
		}
		if err := table.SetHandle(id, h); err != nil {
			return err
		}
	}

	m.setPhase(PhaseRegistering)
	if err := m.waitRegistered(ctx, table.IDs(), false); err != nil {
		return err
	}

	m.setPhase(PhaseDistributing)
	if err := m.broadcast(ctx, table.Registered(), m.metadata(), false); err != nil {
		return err
	}
	if err := m.sendFiles(ctx, table.IDs(), false, false); err != nil {
		return err
	}

	m.setPhase(PhaseRunning)
	if err := m.run(ctx); err != nil {
		return err
	}

	m.setPhase(PhaseFinalizing)
	if err := m.finalize(ctx); err != nil {
		return err
	}

	m.setPhase(PhaseAssembling)
	n, err := m.assemble()
	if err != nil {
		return err
	}
	m.log.WithFields(log.Fields{"edges": n, "output": m.cfg.OutputPath}).Info("scaled graph written")
	m.setPhase(PhaseDone)
	return nil
}

// partition splits the input graph and creates the worker table.
func (m *Master) partition() error {
	m.workDir = filepath.Join(m.cfg.TempDir, "graphscale-"+m.jobID)
	parts, err := partition.Split(m.cfg.GraphPath, m.cfg.WorkerCount(), m.workDir)
	if err != nil {
		return fmt.Errorf("partition graph: %w", err)
	}
	table := NewWorkerTable(parts)
	m.table.Store(table)

	total := table.Registry().TotalEdges()
	m.mu.Lock()
	m.goal = algorithm.Goal(total, m.cfg.Scale)
	m.mu.Unlock()

	for _, p := range parts {
		m.log.WithFields(log.Fields{
			"worker_id": p.WorkerID,
			"min":       p.MinVertex,
			"max":       p.MaxVertex,
			"edges":     p.EdgeCount,
		}).Debug("partition ready")
	}
	m.log.WithFields(log.Fields{"workers": len(parts), "edges": total, "goal": m.Goal()}).Info("graph partitioned")
	return nil
}

func (m *Master) walkersPerWorker() int {
	if !m.method.UsesWalkers() {
		return 0
	}
	return m.cfg.WalkersPerWorker
}

// launchWorker starts the process of worker id with the given walker count.
func (m *Master) launchWorker(ctx context.Context, id, walkers int, loadBackup bool) (launch.Handle, error) {
	table := m.table.Load()
	rec, _ := table.Get(id)

	wc := config.WorkerConfig{
		ID:         id,
		Master:     m.listener.Address().String(),
		Method:     m.cfg.Method,
		Scale:      m.cfg.Scale,
		LoadBackup: loadBackup,
		Tuning:     m.cfg.Tuning,
		LogLevel:   m.cfg.LogLevel,
	}
	wc.WalkersPerWorker = walkers
	if m.cfg.SharedStorage {
		wc.GraphFile = rec.PartitionPath
	}
	host := m.cfg.HostFor(id)
	if launch.IsLocal(host) {
		wc.AdvertiseHost = m.cfg.AdvertiseHost
	}

	spec := launch.Spec{
		Name:   fmt.Sprintf("worker-%d", id),
		Host:   host,
		Binary: m.cfg.WorkerBinary,
		Args:   wc.Args(),
	}
	h, err := m.launcher.Launch(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("launch worker %d: %w", id, err)
	}
	m.log.WithFields(log.Fields{"worker_id": id, "host": host, "walkers": walkers, "load_backup": loadBackup}).Info("worker launched")
	return h, nil
}

// waitRegistered blocks until every listed worker registered. With cascade
// set, a failure of an already registered worker aborts the wait.
func (m *Master) waitRegistered(ctx context.Context, ids []int, cascade bool) error {
	table := m.table.Load()
	return m.waitFor(ctx, func() (bool, error) {
		if cascade {
			if err := m.detectCascade(); err != nil {
				return false, err
			}
		}
		for _, id := range ids {
			rec, _ := table.Get(id)
			if !rec.Meta.Registered() && rec.Handle != nil && !rec.Handle.Alive() {
				return false, fmt.Errorf("worker %d: %w", id, ErrWorkerExited)
			}
		}
		return table.AllRegistered(ids), nil
	})
}

// run polls until the goal is reached (goal-driven methods) or every worker
// completed its quota, running failure control on every cycle.
func (m *Master) run(ctx context.Context) error {
	table := m.table.Load()
	goal := m.Goal()
	last := -1
	err := m.waitFor(ctx, func() (bool, error) {
		if err := m.failureControl(ctx, false); err != nil {
			return false, err
		}
		total := table.TotalProgress()
		if total != last {
			m.log.WithFields(log.Fields{"progress": total, "goal": goal}).Info("progress")
			last = total
		}
		if m.method.GoalDriven() {
			return float64(total) >= goal, nil
		}
		return table.AllComplete(), nil
	})
	if err != nil {
		return err
	}
	if m.method.GoalDriven() {
		return m.broadcast(ctx, table.Registered(), message.FinishJob{}, true)
	}
	return nil
}

// finalize waits for every JOB_COMPLETE, then tears the workers down.
func (m *Master) finalize(ctx context.Context) error {
	table := m.table.Load()
	err := m.waitFor(ctx, func() (bool, error) {
		if err := m.failureControl(ctx, true); err != nil {
			return false, err
		}
		return table.AllComplete(), nil
	})
	if err != nil {
		return err
	}
	if err := m.broadcast(ctx, table.Registered(), message.Terminate{}, true); err != nil {
		return err
	}
	m.reap(ctx)
	return nil
}

// reap gives workers the grace period to exit and kills the rest.
func (m *Master) reap(ctx context.Context) {
	table := m.table.Load()
	deadline := time.Now().Add(m.cfg.TerminateGrace)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		alive := false
		for _, id := range table.IDs() {
			rec, _ := table.Get(id)
			if rec.Handle != nil && rec.Handle.Alive() {
				alive = true
				break
			}
		}
		if !alive {
			return
		}
		time.Sleep(m.cfg.PollInterval)
	}
	for _, id := range table.IDs() {
		rec, _ := table.Get(id)
		if rec.Handle != nil && rec.Handle.Alive() {
			m.log.WithField("worker_id", id).Warn("worker did not exit after TERMINATE, killing it")
			_ = rec.Handle.Kill()
		}
	}
}

func (m *Master) killAll() {
	table := m.table.Load()
	if table == nil {
		return
	}
	for _, id := range table.IDs() {
		rec, _ := table.Get(id)
		if rec.Handle != nil && rec.Handle.Alive() {
			_ = rec.Handle.Kill()
		}
	}
}

// waitFor services the inbound queue until done reports true or fails.
func (m *Master) waitFor(ctx context.Context, done func() (bool, error)) error {
	for {
		if err := m.drain(ctx); err != nil {
			return err
		}
		ok, err := done()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := m.listener.Inbox().Wait(ctx, m.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (m *Master) metadata() message.MetaData {
	return message.MetaData{Partitions: m.table.Load().Registry().All()}
}

// sendTo delivers msg to a registered worker. With tolerateRefusal set, an
// unreachable or unregistered worker is logged and skipped; failure control
// deals with it.
func (m *Master) sendTo(ctx context.Context, id int, msg message.Message, tolerateRefusal bool) error {
	addr, ok := m.table.Load().Address(id)
	if !ok {
		if tolerateRefusal {
			m.log.WithField("worker_id", id).Debugf("worker unregistered, skipping %s", msg.Status())
			return nil
		}
		return fmt.Errorf("send %s: worker %d is not registered", msg.Status(), id)
	}
	payload, err := message.Encode(msg)
	if err != nil {
		return err
	}
	err = cluster.SendWithRetry(ctx, addr, payload, m.retry)
	if err == nil {
		return nil
	}
	if tolerateRefusal && ctx.Err() == nil {
		m.log.WithField("worker_id", id).WithError(err).Debugf("%s not delivered", msg.Status())
		return nil
	}
	return fmt.Errorf("send %s to worker %d: %w", msg.Status(), id, err)
}

// broadcast sends msg to every listed worker.
func (m *Master) broadcast(ctx context.Context, ids []int, msg message.Message, tolerateRefusal bool) error {
	for _, id := range ids {
		if err := m.sendTo(ctx, id, msg, tolerateRefusal); err != nil {
			return err
		}
	}
	return nil
}
