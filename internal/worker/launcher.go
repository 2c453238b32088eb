package worker

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dreamware/graphscale/internal/config"
	"github.com/dreamware/graphscale/internal/heartbeat"
	"github.com/dreamware/graphscale/internal/launch"
)

// GoroutineHeartbeat runs the heartbeat loop on a goroutine of the calling
// process. The worker binary runs it in a separate process instead.
func GoroutineHeartbeat(ctx context.Context, cfg heartbeat.Config) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		heartbeat.Run(ctx, cfg)
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

// ParseArgs reads worker command-line arguments on top of the defaults.
func ParseArgs(args []string) (config.WorkerConfig, error) {
	cfg := config.DefaultWorker()
	fs := flag.NewFlagSet("graphscale-worker", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	config.BindWorker(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Launcher returns a launcher that runs each worker on a goroutine of the
// calling process, parsing the same arguments the worker binary takes.
// configure, when set, adjusts each worker's options before it starts.
func Launcher(configure func(*Options)) launch.Launcher {
	return launch.LauncherFunc(func(ctx context.Context, spec launch.Spec) (launch.Handle, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cfg, err := ParseArgs(spec.Args)
		if err != nil {
			return nil, fmt.Errorf("launch %s: %w", spec.Name, err)
		}
		opts := Options{Config: cfg}
		if configure != nil {
			configure(&opts)
		}
		w, err := New(opts)
		if err != nil {
			return nil, fmt.Errorf("launch %s: %w", spec.Name, err)
		}

		runCtx, cancel := context.WithCancel(context.Background())
		h := &goroutineHandle{cancel: cancel, done: make(chan struct{})}
		go func() {
			defer close(h.done)
			err := w.Run(runCtx)
			h.mu.Lock()
			h.err = err
			h.mu.Unlock()
			if err != nil && runCtx.Err() == nil {
				log.WithFields(log.Fields{"component": "launch", "process": spec.Name}).WithError(err).Warn("worker exited")
			}
		}()
		return h, nil
	})
}

// goroutineHandle controls a worker started by Launcher. Terminate and Kill
// both cancel the worker's context, which closes its listener at once.
type goroutineHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
	err    error
}

func (h *goroutineHandle) Terminate() error {
	h.cancel()
	return nil
}

func (h *goroutineHandle) Kill() error {
	h.cancel()
	<-h.done
	return nil
}

func (h *goroutineHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Err returns the worker's exit error once it stopped.
func (h *goroutineHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}
