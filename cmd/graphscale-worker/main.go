// Package main implements the graphscale worker. The master launches one per
// partition; it is not meant to be started by hand.
//
// The same binary also runs as the worker's heartbeat: started with
// -heartbeat, it sends ALIVE to the master until the master goes away or the
// worker process that started it exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/dreamware/graphscale/internal/config"
	"github.com/dreamware/graphscale/internal/heartbeat"
	"github.com/dreamware/graphscale/internal/launch"
	"github.com/dreamware/graphscale/internal/worker"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	cfg, err := loadConfig(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	setupLogging(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	if cfg.Heartbeat {
		runHeartbeat(ctx, cfg)
		return
	}

	self, err := os.Executable()
	if err != nil {
		logFatal("locate executable: %v", err)
		return
	}
	w, err := worker.New(worker.Options{
		Config:    cfg,
		Heartbeat: processHeartbeat(self, cfg, &launch.ProcessLauncher{}),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logFatal("worker %d: %v", cfg.ID, err)
	}
}

// loadConfig reads the YAML file named by -config, applies the remaining
// flags on top and validates the result.
func loadConfig(args []string, output io.Writer) (config.WorkerConfig, error) {
	path := config.ConfigPath(args)
	cfg, err := config.LoadWorker(path)
	if err != nil {
		return cfg, err
	}
	fs := flag.NewFlagSet("graphscale-worker", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.String("config", path, "YAML configuration file")
	config.BindWorker(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		fs.Usage()
		return cfg, err
	}
	return cfg, nil
}

// processHeartbeat starts the heartbeat as a child process running this
// binary with -heartbeat, so a wedged worker loop cannot keep beating.
func processHeartbeat(self string, cfg config.WorkerConfig, l launch.Launcher) worker.HeartbeatStarter {
	return func(ctx context.Context, hb heartbeat.Config) (func(), error) {
		child := cfg
		child.Heartbeat = true
		child.LoadBackup = false
		child.GraphFile = ""
		h, err := l.Launch(ctx, launch.Spec{
			Name:   fmt.Sprintf("heartbeat-%d", hb.WorkerID),
			Binary: self,
			Args:   child.Args(),
		})
		if err != nil {
			return nil, err
		}
		return func() { _ = h.Terminate() }, nil
	}
}

// runHeartbeat beats until the master is gone or the parent worker exits.
func runHeartbeat(ctx context.Context, cfg config.WorkerConfig) {
	addr, err := cfg.MasterAddress()
	if err != nil {
		logFatal("master address: %v", err)
		return
	}
	parent := os.Getppid()
	beats := heartbeat.Run(ctx, heartbeat.Config{
		Master:   addr,
		WorkerID: cfg.ID,
		Interval: cfg.HeartbeatInterval,
		Orphaned: func() bool { return os.Getppid() != parent },
	})
	log.WithFields(log.Fields{"worker_id": cfg.ID, "beats": beats}).Debug("heartbeat stopped")
}

func setupLogging(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
