// Package main implements the graphscale master: it splits an edge list
// across a set of workers, drives a scaling method to completion while
// restarting workers that crash, and writes the scaled graph.
//
// Example usage:
//
//	# four local worker processes, double the graph
//	graphscale-master -workers 4 -worker-bin ./graphscale-worker \
//	  -graph input.txt -method degree_growth -scale 2 -output scaled.txt
//
//	# workers on remote hosts reading partitions from an NFS mount
//	graphscale-master -worker-hosts node1,node2 -shared-storage \
//	  -temp-dir /mnt/shared -worker-bin /opt/graphscale/graphscale-worker \
//	  -graph /mnt/shared/input.txt -method random_edge -scale 0.5
//
//	# everything in one process, with status served on :8080
//	graphscale-master -in-process -workers 4 -graph input.txt \
//	  -method degree_growth -scale 2 -status-addr :8080
//
// Flags override values read from the -config YAML file.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dreamware/graphscale/internal/config"
	"github.com/dreamware/graphscale/internal/launch"
	"github.com/dreamware/graphscale/internal/master"
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

	m, err := master.New(cfg, master.Options{Launcher: launcherFor(cfg)})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-stop
		log.WithField("signal", sig.String()).Warn("shutting down")
		cancel()
	}()

	if cfg.StatusAddr != "" {
		srv := &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           m.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Infof("status listening on %s", cfg.StatusAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logFatal("status listen: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	start := time.Now()
	if err := m.Run(ctx); err != nil {
		logFatal("job %s failed: %v", m.JobID(), err)
		return
	}
	log.WithFields(log.Fields{"job_id": m.JobID(), "elapsed": time.Since(start).Round(time.Millisecond)}).Info("job done")
}

// loadConfig reads the YAML file named by -config, applies the remaining
// flags on top and validates the result.
func loadConfig(args []string, output io.Writer) (config.MasterConfig, error) {
	path := config.ConfigPath(args)
	cfg, err := config.LoadMaster(path)
	if err != nil {
		return cfg, err
	}
	fs := flag.NewFlagSet("graphscale-master", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.String("config", path, "YAML configuration file")
	config.BindMaster(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return cfg, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if err := cfg.Validate(); err != nil {
		fs.Usage()
		return cfg, err
	}
	return cfg, nil
}

func launcherFor(cfg config.MasterConfig) launch.Launcher {
	if cfg.InProcess {
		return worker.Launcher(nil)
	}
	return &launch.ProcessLauncher{}
}

func setupLogging(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
