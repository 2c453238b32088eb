// Package config holds the master and worker settings. Values come from
// defaults, then an optional YAML file, then environment overrides, then
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/graphscale/internal/algorithm"
	"github.com/dreamware/graphscale/internal/cluster"
)

// Tuning shared by master and workers. The master forwards its values to
// every worker it launches.
type Tuning struct {
	WalkersPerWorker  int           `yaml:"walkers_per_worker"`
	BackupSize        int           `yaml:"backup_size"`
	WalkingIterations int           `yaml:"walking_iterations"`
	ProgressInterval  int           `yaml:"progress_interval"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DefaultTuning mirrors the defaults of the worker command line.
func DefaultTuning() Tuning {
	return Tuning{
		WalkersPerWorker:  1,
		BackupSize:        100,
		WalkingIterations: 1,
		ProgressInterval:  1000,
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 100 * time.Millisecond,
	}
}

func (t Tuning) validate() error {
	var errs []error
	if t.WalkersPerWorker < 0 {
		errs = append(errs, fmt.Errorf("walkers per worker must be non-negative, got %d", t.WalkersPerWorker))
	}
	if t.BackupSize < 0 {
		errs = append(errs, fmt.Errorf("backup size must be non-negative, got %d", t.BackupSize))
	}
	if t.WalkingIterations < 1 {
		errs = append(errs, fmt.Errorf("walking iterations must be positive, got %d", t.WalkingIterations))
	}
	if t.ProgressInterval < 1 {
		errs = append(errs, fmt.Errorf("progress interval must be positive, got %d", t.ProgressInterval))
	}
	if t.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %v", t.PollInterval))
	}
	if t.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat interval must be positive, got %v", t.HeartbeatInterval))
	}
	return errors.Join(errs...)
}

// MasterConfig configures one job run by the master.
type MasterConfig struct {
	Workers      int      `yaml:"workers"`
	WorkerHosts  []string `yaml:"worker_hosts"`
	GraphPath    string   `yaml:"graph"`
	WorkerBinary string   `yaml:"worker_binary"`

	// InProcess runs every worker on a goroutine of the master process.
	InProcess     bool    `yaml:"in_process"`
	SharedStorage bool    `yaml:"shared_storage"`
	OutputPath    string  `yaml:"output"`
	Scale         float64 `yaml:"scale"`
	Method        string  `yaml:"method"`

	Tuning `yaml:",inline"`

	// MaxHeartbeatDelay marks a worker failed when no ALIVE arrived for this
	// long. Zero relies on probing alone.
	MaxHeartbeatDelay time.Duration `yaml:"max_heartbeat_delay"`
	// MaxFailures is how many failed checks in a row mark a worker failed.
	MaxFailures int `yaml:"max_failures"`
	// TerminateGrace is how long workers get to exit after TERMINATE.
	TerminateGrace time.Duration `yaml:"terminate_grace"`

	StatusAddr    string `yaml:"status_addr"`
	TempDir       string `yaml:"temp_dir"`
	AdvertiseHost string `yaml:"advertise_host"`
	LogLevel      string `yaml:"log_level"`
}

// DefaultMaster returns a master configuration with every default applied.
func DefaultMaster() MasterConfig {
	return MasterConfig{
		Method:            string(algorithm.RandomWalk),
		OutputPath:        "graph_scaled.txt",
		Tuning:            DefaultTuning(),
		MaxHeartbeatDelay: time.Second,
		MaxFailures:       1,
		TerminateGrace:    500 * time.Millisecond,
		TempDir:           os.TempDir(),
		LogLevel:          "info",
	}
}

// LoadMaster applies the YAML file at path (if any) and environment
// overrides on top of the defaults.
func LoadMaster(path string) (MasterConfig, error) {
	cfg := DefaultMaster()
	if err := loadYAML(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.AdvertiseHost = getenv("GRAPHSCALE_ADVERTISE_HOST", cfg.AdvertiseHost)
	cfg.LogLevel = getenv("GRAPHSCALE_LOG_LEVEL", cfg.LogLevel)
	return cfg, nil
}

// WorkerCount is the number of workers the job launches.
func (c MasterConfig) WorkerCount() int {
	if len(c.WorkerHosts) > 0 {
		return len(c.WorkerHosts)
	}
	return c.Workers
}

// HostFor returns the host worker id runs on; empty means this machine.
func (c MasterConfig) HostFor(workerID int) string {
	if len(c.WorkerHosts) == 0 {
		return ""
	}
	return c.WorkerHosts[workerID%len(c.WorkerHosts)]
}

// ParsedMethod returns the validated method.
func (c MasterConfig) ParsedMethod() algorithm.Method {
	m, _ := algorithm.ParseMethod(c.Method)
	return m
}

// Validate reports every problem with the configuration.
func (c MasterConfig) Validate() error {
	var errs []error
	if c.WorkerCount() < 1 {
		errs = append(errs, errors.New("need at least one worker (-workers or -worker-hosts)"))
	}
	if c.GraphPath == "" {
		errs = append(errs, errors.New("graph path is required"))
	} else if st, err := os.Stat(c.GraphPath); err != nil || st.IsDir() {
		errs = append(errs, fmt.Errorf("graph %q is not a readable file", c.GraphPath))
	}
	if c.OutputPath == "" {
		errs = append(errs, errors.New("output path is required"))
	}
	if c.WorkerBinary == "" && !c.InProcess {
		errs = append(errs, errors.New("worker binary is required unless workers run in process"))
	}
	m, err := algorithm.ParseMethod(c.Method)
	if err != nil {
		errs = append(errs, err)
	} else {
		if err := m.ValidateScale(c.Scale); err != nil {
			errs = append(errs, err)
		}
		// a goal-driven job without walkers never produces an edge
		if m.UsesWalkers() && c.WalkersPerWorker < 1 {
			errs = append(errs, fmt.Errorf("%s needs at least one walker per worker, got %d", m, c.WalkersPerWorker))
		}
	}
	if c.MaxHeartbeatDelay < 0 {
		errs = append(errs, fmt.Errorf("max heartbeat delay must be non-negative, got %v", c.MaxHeartbeatDelay))
	}
	if c.MaxFailures < 1 {
		errs = append(errs, fmt.Errorf("max failures must be positive, got %d", c.MaxFailures))
	}
	if c.TerminateGrace < 0 {
		errs = append(errs, fmt.Errorf("terminate grace must be non-negative, got %v", c.TerminateGrace))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, c.Tuning.validate())
	return errors.Join(errs...)
}

// WorkerConfig configures one worker process.
type WorkerConfig struct {
	ID         int     `yaml:"id"`
	Master     string  `yaml:"master"`
	Method     string  `yaml:"method"`
	Scale      float64 `yaml:"scale"`
	LoadBackup bool    `yaml:"load_backup"`
	// GraphFile, when set, is read directly instead of receiving the
	// partition over the network.
	GraphFile string `yaml:"graph_file"`

	Tuning `yaml:",inline"`

	AdvertiseHost string `yaml:"advertise_host"`
	LogLevel      string `yaml:"log_level"`

	// Heartbeat runs the process as the worker's heartbeat instead of the worker itself.
	Heartbeat bool `yaml:"-"`
}

// DefaultWorker returns a worker configuration with every default applied.
func DefaultWorker() WorkerConfig {
	return WorkerConfig{
		Method:   string(algorithm.RandomWalk),
		Tuning:   DefaultTuning(),
		LogLevel: "info",
	}
}

// LoadWorker applies the YAML file at path (if any) and environment overrides.
func LoadWorker(path string) (WorkerConfig, error) {
	cfg := DefaultWorker()
	if err := loadYAML(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.AdvertiseHost = getenv("GRAPHSCALE_ADVERTISE_HOST", cfg.AdvertiseHost)
	cfg.LogLevel = getenv("GRAPHSCALE_LOG_LEVEL", cfg.LogLevel)
	return cfg, nil
}

// MasterAddress parses the master's address.
func (c WorkerConfig) MasterAddress() (cluster.Address, error) {
	return cluster.ParseAddress(c.Master)
}

// ParsedMethod returns the validated method.
func (c WorkerConfig) ParsedMethod() algorithm.Method {
	m, _ := algorithm.ParseMethod(c.Method)
	return m
}

// Validate reports every problem with the configuration.
func (c WorkerConfig) Validate() error {
	var errs []error
	if c.ID < 0 {
		errs = append(errs, fmt.Errorf("worker id must be non-negative, got %d", c.ID))
	}
	if _, err := c.MasterAddress(); err != nil {
		errs = append(errs, fmt.Errorf("master address %q: %w", c.Master, err))
	}
	if !c.Heartbeat {
		m, err := algorithm.ParseMethod(c.Method)
		if err != nil {
			errs = append(errs, err)
		} else if err := m.ValidateScale(c.Scale); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, c.Tuning.validate())
	return errors.Join(errs...)
}

func loadYAML(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// getenv retrieves an environment variable with a default fallback value.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
