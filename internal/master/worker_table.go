package master

import (
	"fmt"
	"sync"
	"time"

	"github.com/dreamware/graphscale/internal/cluster"
	"github.com/dreamware/graphscale/internal/launch"
	"github.com/dreamware/graphscale/internal/partition"
	"github.com/dreamware/graphscale/internal/transfer"
)

// WorkerRecord is the master's view of one worker.
type WorkerRecord struct {
	ID            int
	Meta          partition.Metadata
	PartitionPath string
	Handle        launch.Handle
	LastHeartbeat time.Time
	Progress      int
	JobComplete   bool
	WalkerCount   int
	CountReported bool
	Backup        []string
	Sessions      *transfer.Sessions
	Restarts      int
}

// WorkerStatus is a point-in-time copy of a record, safe to hand out.
type WorkerStatus struct {
	WorkerID      int              `json:"worker_id"`
	MinVertex     int64            `json:"min_vertex"`
	MaxVertex     int64            `json:"max_vertex"`
	EdgeCount     int              `json:"edge_count"`
	Address       *cluster.Address `json:"address,omitempty"`
	Registered    bool             `json:"registered"`
	Progress      int              `json:"progress"`
	JobComplete   bool             `json:"job_complete"`
	WalkerCount   int              `json:"walker_count"`
	BackupLines   int              `json:"backup_lines"`
	Restarts      int              `json:"restarts"`
	LastHeartbeat time.Time        `json:"last_heartbeat,omitempty"`
	// Health is the monitor's verdict, empty until the first check.
	Health       string `json:"health,omitempty"`
	FailedChecks int    `json:"failed_checks,omitempty"`
}

// WorkerTable owns every WorkerRecord of a job, indexed by worker id.
//
// Only the master's poll loop mutates the table. The lock exists so that
// status readers (the HTTP handlers) can take snapshots while the loop runs;
// the loop itself reads without locking.
type WorkerTable struct {
	mu      sync.RWMutex
	records []*WorkerRecord
}

// NewWorkerTable creates one unregistered record per partition.
func NewWorkerTable(parts []partition.Part) *WorkerTable {
	t := &WorkerTable{records: make([]*WorkerRecord, len(parts))}
	for i, p := range parts {
		meta := p.Metadata
		meta.WorkerID = i
		meta.ClearAddress()
		t.records[i] = &WorkerRecord{
			ID:            i,
			Meta:          meta,
			PartitionPath: p.Path,
			Sessions:      transfer.NewSessions(i),
		}
	}
	return t
}

// Len returns the number of workers.
func (t *WorkerTable) Len() int {
	return len(t.records)
}

// Get returns the record of a worker. Callers other than the poll loop must
// not mutate it.
func (t *WorkerTable) Get(id int) (*WorkerRecord, bool) {
	if id < 0 || id >= len(t.records) {
		return nil, false
	}
	return t.records[id], true
}

func (t *WorkerTable) must(id int) (*WorkerRecord, error) {
	r, ok := t.Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown worker %d", id)
	}
	return r, nil
}

// IDs returns every worker id in order.
func (t *WorkerTable) IDs() []int {
	ids := make([]int, len(t.records))
	for i := range t.records {
		ids[i] = i
	}
	return ids
}

// Registered returns the ids of workers with a known address.
func (t *WorkerTable) Registered() []int {
	var ids []int
	for _, r := range t.records {
		if r.Meta.Registered() {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// AllRegistered reports whether every listed worker has an address.
func (t *WorkerTable) AllRegistered(ids []int) bool {
	for _, id := range ids {
		r, ok := t.Get(id)
		if !ok || !r.Meta.Registered() {
			return false
		}
	}
	return true
}

// Address returns the listener address of a registered worker.
func (t *WorkerTable) Address(id int) (cluster.Address, bool) {
	r, ok := t.Get(id)
	if !ok || r.Meta.Address == nil {
		return cluster.Address{}, false
	}
	return *r.Meta.Address, true
}

// SetHandle records the process handle of a freshly launched worker.
func (t *WorkerTable) SetHandle(id int, h launch.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.must(id)
	if err != nil {
		return err
	}
	r.Handle = h
	return nil
}

// Register stores the address a worker announced. The registration also
// counts as a heartbeat.
func (t *WorkerTable) Register(id int, addr cluster.Address, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.must(id)
	if err != nil {
		return err
	}
	r.Meta.SetAddress(addr)
	r.LastHeartbeat = now
	return nil
}

// Heartbeat records an ALIVE message.
func (t *WorkerTable) Heartbeat(id int, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.must(id)
	if err != nil {
		return err
	}
	r.LastHeartbeat = now
	return nil
}

// Progress records a worker's reported edge count. A report lower than the
// one already recorded (a restarted worker that lost unflushed edges) does
// not lower it, so total progress never decreases.
func (t *WorkerTable) Progress(id, edges int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.must(id)
	if err != nil {
		return err
	}
	r.Progress = max(r.Progress, edges)
	return nil
}

// TotalProgress sums the progress of every worker.
func (t *WorkerTable) TotalProgress() int {
	total := 0
	for _, r := range t.records {
		total += r.Progress
	}
	return total
}

// SetComplete marks a worker's JOB_COMPLETE.
func (t *WorkerTable) SetComplete(id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.must(id)
	if err != nil {
		return err
	}
	r.JobComplete = true
	return nil
}

// AllComplete reports whether every worker sent JOB_COMPLETE.
func (t *WorkerTable) AllComplete() bool {
	for _, r := range t.records {
		if !r.JobComplete {
			return false
		}
	}
	return true
}

// ResetWalkerCounts forgets the counts of the listed workers before a new
// WORKER_FAILED round.
func (t *WorkerTable) ResetWalkerCounts(ids []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if r, ok := t.Get(id); ok {
			r.CountReported = false
		}
	}
}

// SetWalkerCount records a RANDOM_WALKER_COUNT reply.
func (t *WorkerTable) SetWalkerCount(id, count int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.must(id)
	if err != nil {
		return err
	}
	r.WalkerCount = count
	r.CountReported = true
	return nil
}

// WalkerCounts returns the reported counts of the listed workers, and false
// while any of them has not replied yet.
func (t *WorkerTable) WalkerCounts(ids []int) (map[int]int, bool) {
	counts := make(map[int]int, len(ids))
	for _, id := range ids {
		r, ok := t.Get(id)
		if !ok || !r.CountReported {
			return nil, false
		}
		counts[id] = r.WalkerCount
	}
	return counts, true
}

// AppendBackup adds the lines of a completed BACKUP transfer.
func (t *WorkerTable) AppendBackup(id int, lines []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.must(id)
	if err != nil {
		return err
	}
	r.Backup = append(r.Backup, lines...)
	return nil
}

// MarkFailed unregisters a crashed worker: its address is cleared, its
// transfer sessions dropped and its completion forgotten. The accumulated
// backup is kept for the restart. The old process handle is returned.
func (t *WorkerTable) MarkFailed(id int) (launch.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.must(id)
	if err != nil {
		return nil, err
	}
	h := r.Handle
	r.Handle = nil
	r.Meta.ClearAddress()
	r.Sessions.Reset()
	r.JobComplete = false
	r.CountReported = false
	r.WalkerCount = 0
	r.LastHeartbeat = time.Time{}
	return h, nil
}

// Restarted records the handle of a relaunched worker.
func (t *WorkerTable) Restarted(id int, h launch.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.must(id)
	if err != nil {
		return err
	}
	r.Handle = h
	r.Restarts++
	return nil
}

// Registry builds the partition table broadcast in META_DATA.
func (t *WorkerTable) Registry() *partition.Registry {
	metas := make([]partition.Metadata, len(t.records))
	for i, r := range t.records {
		metas[i] = r.Meta
	}
	return partition.NewRegistry(metas)
}

// Targets lists the registered workers for a health check.
func (t *WorkerTable) Targets() []Target {
	var out []Target
	for _, r := range t.records {
		if r.Meta.Address == nil {
			continue
		}
		out = append(out, Target{WorkerID: r.ID, Address: *r.Meta.Address, LastHeartbeat: r.LastHeartbeat})
	}
	return out
}

// Snapshot copies every record for status readers.
func (t *WorkerTable) Snapshot() []WorkerStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]WorkerStatus, len(t.records))
	for i, r := range t.records {
		s := WorkerStatus{
			WorkerID:      r.ID,
			MinVertex:     r.Meta.MinVertex,
			MaxVertex:     r.Meta.MaxVertex,
			EdgeCount:     r.Meta.EdgeCount,
			Registered:    r.Meta.Registered(),
			Progress:      r.Progress,
			JobComplete:   r.JobComplete,
			WalkerCount:   r.WalkerCount,
			BackupLines:   len(r.Backup),
			Restarts:      r.Restarts,
			LastHeartbeat: r.LastHeartbeat,
		}
		if r.Meta.Address != nil {
			a := *r.Meta.Address
			s.Address = &a
		}
		out[i] = s
	}
	return out
}
