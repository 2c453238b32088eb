package config

import (
	"flag"
	"strconv"
	"strings"
)

// hostList is a comma separated flag value.
type hostList struct{ hosts *[]string }

func (h hostList) String() string {
	if h.hosts == nil {
		return ""
	}
	return strings.Join(*h.hosts, ",")
}

func (h hostList) Set(v string) error {
	*h.hosts = nil
	for _, host := range strings.Split(v, ",") {
		if host = strings.TrimSpace(host); host != "" {
			*h.hosts = append(*h.hosts, host)
		}
	}
	return nil
}

func bindTuning(fs *flag.FlagSet, t *Tuning) {
	fs.IntVar(&t.WalkersPerWorker, "walkers", t.WalkersPerWorker, "random walkers per worker")
	fs.IntVar(&t.BackupSize, "backup-size", t.BackupSize, "new edges collected before a backup is pushed to the master, 0 disables backups during the run")
	fs.IntVar(&t.WalkingIterations, "walking-iterations", t.WalkingIterations, "steps per walker between inbound queue checks")
	fs.IntVar(&t.ProgressInterval, "progress-interval", t.ProgressInterval, "computation bursts between progress reports")
	fs.DurationVar(&t.PollInterval, "poll-interval", t.PollInterval, "interval of wait loops")
	fs.DurationVar(&t.HeartbeatInterval, "heartbeat-interval", t.HeartbeatInterval, "interval between ALIVE messages")
}

// BindMaster registers the master's flags on fs, defaulting to cfg's values.
func BindMaster(fs *flag.FlagSet, cfg *MasterConfig) {
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "number of local workers")
	fs.Var(hostList{&cfg.WorkerHosts}, "worker-hosts", "comma separated worker hostnames, overrides -workers")
	fs.StringVar(&cfg.GraphPath, "graph", cfg.GraphPath, "edge list to scale")
	fs.StringVar(&cfg.WorkerBinary, "worker-bin", cfg.WorkerBinary, "worker executable")
	fs.BoolVar(&cfg.InProcess, "in-process", cfg.InProcess, "run workers on goroutines of this process")
	fs.BoolVar(&cfg.SharedStorage, "shared-storage", cfg.SharedStorage, "workers read partitions from shared storage instead of receiving them")
	fs.StringVar(&cfg.OutputPath, "output", cfg.OutputPath, "file for the scaled graph")
	fs.Float64Var(&cfg.Scale, "scale", cfg.Scale, "target size relative to the input graph")
	fs.StringVar(&cfg.Method, "method", cfg.Method, "random_walk, random_edge or degree_growth")
	bindTuning(fs, &cfg.Tuning)
	fs.DurationVar(&cfg.MaxHeartbeatDelay, "max-heartbeat-delay", cfg.MaxHeartbeatDelay, "mark a worker failed after this long without ALIVE, 0 to rely on probing")
	fs.IntVar(&cfg.MaxFailures, "max-failures", cfg.MaxFailures, "failed health checks in a row before a worker is restarted")
	fs.DurationVar(&cfg.TerminateGrace, "terminate-grace", cfg.TerminateGrace, "time workers get to exit after TERMINATE")
	fs.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "serve job status over HTTP on this address")
	fs.StringVar(&cfg.TempDir, "temp-dir", cfg.TempDir, "directory for partition files")
	fs.StringVar(&cfg.AdvertiseHost, "advertise-host", cfg.AdvertiseHost, "host workers use to reach the master")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
}

// BindWorker registers the worker's flags on fs, defaulting to cfg's values.
func BindWorker(fs *flag.FlagSet, cfg *WorkerConfig) {
	fs.IntVar(&cfg.ID, "id", cfg.ID, "worker id")
	fs.StringVar(&cfg.Master, "master", cfg.Master, "master address host:port")
	fs.StringVar(&cfg.Method, "method", cfg.Method, "random_walk, random_edge or degree_growth")
	fs.Float64Var(&cfg.Scale, "scale", cfg.Scale, "target size relative to the input graph")
	fs.BoolVar(&cfg.LoadBackup, "load-backup", cfg.LoadBackup, "resume from the backup the master sends")
	fs.StringVar(&cfg.GraphFile, "graph-file", cfg.GraphFile, "read the partition from this file instead of receiving it")
	bindTuning(fs, &cfg.Tuning)
	fs.StringVar(&cfg.AdvertiseHost, "advertise-host", cfg.AdvertiseHost, "host peers use to reach this worker")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.BoolVar(&cfg.Heartbeat, "heartbeat", cfg.Heartbeat, "run as the heartbeat process of worker -id")
}

// Args renders the configuration as worker command-line arguments.
func (c WorkerConfig) Args() []string {
	args := []string{
		"-id", strconv.Itoa(c.ID),
		"-master", c.Master,
		"-method", c.Method,
		"-scale", strconv.FormatFloat(c.Scale, 'g', -1, 64),
		"-walkers", strconv.Itoa(c.WalkersPerWorker),
		"-backup-size", strconv.Itoa(c.BackupSize),
		"-walking-iterations", strconv.Itoa(c.WalkingIterations),
		"-progress-interval", strconv.Itoa(c.ProgressInterval),
		"-poll-interval", c.PollInterval.String(),
		"-heartbeat-interval", c.HeartbeatInterval.String(),
		"-log-level", c.LogLevel,
	}
	if c.LoadBackup {
		args = append(args, "-load-backup")
	}
	if c.GraphFile != "" {
		args = append(args, "-graph-file", c.GraphFile)
	}
	if c.AdvertiseHost != "" {
		args = append(args, "-advertise-host", c.AdvertiseHost)
	}
	if c.Heartbeat {
		args = append(args, "-heartbeat")
	}
	return args
}

// ConfigPath returns the value of a -config flag in args, or "". It is read
// before the other flags so that they override the file.
func ConfigPath(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
