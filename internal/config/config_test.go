package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphscale/internal/algorithm"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func validMaster(t *testing.T) MasterConfig {
	cfg := DefaultMaster()
	cfg.Workers = 2
	cfg.GraphPath = writeTemp(t, "graph.txt", "0 1\n")
	cfg.WorkerBinary = "/usr/local/bin/graphscale-worker"
	cfg.Scale = 0.5
	return cfg
}

func TestMasterValidate(t *testing.T) {
	assert.NoError(t, validMaster(t).Validate())

	tests := []struct {
		name   string
		mutate func(*MasterConfig)
		want   string
	}{
		{"no workers", func(c *MasterConfig) { c.Workers = 0 }, "at least one worker"},
		{"no graph", func(c *MasterConfig) { c.GraphPath = "" }, "graph path is required"},
		{"graph is a directory", func(c *MasterConfig) { c.GraphPath = t.TempDir() }, "not a readable file"},
		{"no binary", func(c *MasterConfig) { c.WorkerBinary = "" }, "worker binary is required"},
		{"unknown method", func(c *MasterConfig) { c.Method = "magic" }, "unknown method"},
		{"upscale below one", func(c *MasterConfig) { c.Method = "degree_growth"; c.Scale = 0.5 }, "above 1"},
		{"bad log level", func(c *MasterConfig) { c.LogLevel = "loud" }, "not a valid logrus Level"},
		{"zero poll interval", func(c *MasterConfig) { c.PollInterval = 0 }, "poll interval"},
		{"negative grace", func(c *MasterConfig) { c.TerminateGrace = -time.Second }, "terminate grace"},
		{"random walk without walkers", func(c *MasterConfig) { c.Method = "random_walk"; c.WalkersPerWorker = 0 }, "at least one walker"},
		{"no failure threshold", func(c *MasterConfig) { c.MaxFailures = 0 }, "max failures"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validMaster(t)
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := validMaster(t)
	cfg.WorkerBinary = ""
	cfg.InProcess = true
	assert.NoError(t, cfg.Validate(), "in-process workers need no binary")

	cfg = validMaster(t)
	cfg.Method = "random_edge"
	cfg.WalkersPerWorker = 0
	assert.NoError(t, cfg.Validate(), "quota methods run without walkers")
}

func TestDefaultMasterDetectsStalledHeartbeats(t *testing.T) {
	cfg := DefaultMaster()
	assert.Positive(t, cfg.MaxHeartbeatDelay)
	assert.Greater(t, cfg.MaxHeartbeatDelay, cfg.HeartbeatInterval, "a few missed beats are tolerated")
	assert.Equal(t, 1, cfg.MaxFailures)
}

func TestMasterValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultMaster()
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"at least one worker", "graph path", "worker binary", "scale"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestWorkerHosts(t *testing.T) {
	cfg := DefaultMaster()
	cfg.Workers = 5
	assert.Equal(t, 5, cfg.WorkerCount())
	assert.Equal(t, "", cfg.HostFor(3))

	cfg.WorkerHosts = []string{"a", "b"}
	assert.Equal(t, 2, cfg.WorkerCount(), "hosts override the count")
	assert.Equal(t, "b", cfg.HostFor(1))
	assert.Equal(t, algorithm.RandomWalk, cfg.ParsedMethod())
}

func TestLoadMaster(t *testing.T) {
	path := writeTemp(t, "master.yaml", `
workers: 3
graph: /data/graph.txt
method: random_edge
scale: 0.25
worker_hosts: [node-a, node-b]
walkers_per_worker: 8
poll_interval: 5ms
max_heartbeat_delay: 2s
log_level: debug
`)
	t.Setenv("GRAPHSCALE_LOG_LEVEL", "warn")
	t.Setenv("GRAPHSCALE_ADVERTISE_HOST", "master.internal")

	cfg, err := LoadMaster(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, "/data/graph.txt", cfg.GraphPath)
	assert.Equal(t, "random_edge", cfg.Method)
	assert.Equal(t, 0.25, cfg.Scale)
	assert.Equal(t, []string{"node-a", "node-b"}, cfg.WorkerHosts)
	assert.Equal(t, 8, cfg.WalkersPerWorker)
	assert.Equal(t, 5*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.MaxHeartbeatDelay)
	assert.Equal(t, DefaultTuning().BackupSize, cfg.BackupSize, "unset keys keep defaults")
	assert.Equal(t, "warn", cfg.LogLevel, "environment overrides the file")
	assert.Equal(t, "master.internal", cfg.AdvertiseHost)
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadMaster(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadWorker(writeTemp(t, "bad.yaml", "id: [not, a, number]\n"))
	assert.Error(t, err)

	cfg, err := LoadMaster("")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaster().OutputPath, cfg.OutputPath)
}

func TestBindMaster(t *testing.T) {
	cfg := DefaultMaster()
	cfg.Workers = 4
	fs := flag.NewFlagSet("master", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	BindMaster(fs, &cfg)

	err := fs.Parse([]string{
		"-worker-hosts", "x, y,,z",
		"-graph", "g.txt",
		"-in-process",
		"-scale", "1.5",
		"-method", "degree_growth",
		"-walkers", "3",
		"-heartbeat-interval", "250ms",
		"-max-failures", "3",
		"-status-addr", ":8080",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, cfg.WorkerHosts)
	assert.Equal(t, 4, cfg.Workers, "unset flags keep earlier values")
	assert.Equal(t, "g.txt", cfg.GraphPath)
	assert.True(t, cfg.InProcess)
	assert.Equal(t, 1.5, cfg.Scale)
	assert.Equal(t, 3, cfg.WalkersPerWorker)
	assert.Equal(t, 250*time.Millisecond, cfg.HeartbeatInterval)
	assert.Equal(t, 3, cfg.MaxFailures)
	assert.Equal(t, ":8080", cfg.StatusAddr)
	assert.Equal(t, "x,y,z", fs.Lookup("worker-hosts").Value.String())
}

func TestWorkerValidate(t *testing.T) {
	cfg := DefaultWorker()
	cfg.Master = "master:4000"
	cfg.Scale = 1
	assert.NoError(t, cfg.Validate())
	addr, err := cfg.MasterAddress()
	require.NoError(t, err)
	assert.Equal(t, 4000, addr.Port)

	bad := cfg
	bad.ID = -1
	bad.Master = "master"
	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker id")
	assert.Contains(t, err.Error(), "master address")

	hb := cfg
	hb.Heartbeat = true
	hb.Scale = 0
	assert.NoError(t, hb.Validate(), "a heartbeat process ignores the method")
}

func TestConfigPath(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{nil, ""},
		{[]string{"-workers", "2"}, ""},
		{[]string{"-config", "a.yaml"}, "a.yaml"},
		{[]string{"--config", "b.yaml", "-workers", "2"}, "b.yaml"},
		{[]string{"-workers", "2", "-config=c.yaml"}, "c.yaml"},
		{[]string{"--config=d.yaml"}, "d.yaml"},
		{[]string{"-config"}, ""},
		{[]string{"--", "-config", "e.yaml"}, ""},
		{[]string{"config", "f.yaml"}, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ConfigPath(tt.args), "%q", tt.args)
	}
}
