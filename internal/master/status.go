package master

import (
	"encoding/json"
	"net/http"
)

// ProgressStatus is the body of GET /progress.
type ProgressStatus struct {
	Phase    string  `json:"phase"`
	JobID    string  `json:"job_id"`
	Method   string  `json:"method"`
	Goal     float64 `json:"goal"`
	Progress int     `json:"progress"`
	Workers  int     `json:"workers"`
	Healthy  int     `json:"healthy"`
	Complete int     `json:"complete"`
}

// Handler serves the read-only status endpoints:
//
//	GET /health    200 while the master runs
//	GET /workers   the worker table
//	GET /progress  job phase and aggregate progress
func (m *Master) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/workers", m.handleWorkers)
	mux.HandleFunc("/progress", m.handleProgress)
	return mux
}

func (m *Master) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	workers := m.Snapshot()
	if workers == nil {
		workers = []WorkerStatus{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Workers []WorkerStatus `json:"workers"`
	}{workers})
}

func (m *Master) handleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Progress())
}

// Progress summarizes the job for status readers.
func (m *Master) Progress() ProgressStatus {
	st := ProgressStatus{
		Phase:  m.Phase().String(),
		JobID:  m.jobID,
		Method: string(m.method),
		Goal:   m.Goal(),
	}
	for _, ws := range m.Snapshot() {
		st.Workers++
		st.Progress += ws.Progress
		if m.health.IsHealthy(ws.WorkerID) {
			st.Healthy++
		}
		if ws.JobComplete {
			st.Complete++
		}
	}
	return st
}
