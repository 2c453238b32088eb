// Package launch starts worker processes, locally or on remote hosts over ssh.
// The master only relies on the Handle contract.
package launch

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// Spec describes one process to start.
type Spec struct {
	Name   string   // used in logs
	Host   string   // remote host, empty or local name for this machine
	Binary string   // executable path on the target host
	Args   []string // arguments passed to Binary
}

// Handle controls a started process.
type Handle interface {
	// Terminate asks the process to exit.
	Terminate() error
	// Kill stops the process immediately.
	Kill() error
	// Alive reports whether the process has not exited yet.
	Alive() bool
}

// Launcher starts processes.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Handle, error)
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, spec Spec) (Handle, error)

func (f LauncherFunc) Launch(ctx context.Context, spec Spec) (Handle, error) {
	return f(ctx, spec)
}

// ProcessLauncher runs specs as OS processes. Specs naming a remote host are
// wrapped in an ssh invocation.
type ProcessLauncher struct {
	SSH    string    // ssh binary, "ssh" when empty
	Stdout io.Writer // defaults to os.Stdout
	Stderr io.Writer // defaults to os.Stderr
}

// Command returns the argv that runs spec.
func (l *ProcessLauncher) Command(spec Spec) []string {
	argv := append([]string{spec.Binary}, spec.Args...)
	if IsLocal(spec.Host) {
		return argv
	}
	ssh := l.SSH
	if ssh == "" {
		ssh = "ssh"
	}
	return []string{ssh, spec.Host, shellJoin(argv)}
}

// Launch starts the process. The context only bounds the start itself; the
// process outlives it and is controlled through the Handle.
func (l *ProcessLauncher) Launch(ctx context.Context, spec Spec) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	argv := l.Command(spec)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = l.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = l.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch %s: %w", spec.Name, err)
	}
	h := &processHandle{cmd: cmd, name: spec.Name, done: make(chan struct{})}
	go h.wait()
	log.WithFields(log.Fields{"component": "launch", "process": spec.Name, "pid": cmd.Process.Pid}).Debug("process started")
	return h, nil
}

type processHandle struct {
	cmd  *exec.Cmd
	name string
	done chan struct{}
	once sync.Once
}

func (h *processHandle) wait() {
	err := h.cmd.Wait()
	if err != nil {
		log.WithFields(log.Fields{"component": "launch", "process": h.name}).WithError(err).Debug("process exited")
	}
	h.once.Do(func() { close(h.done) })
}

func (h *processHandle) Terminate() error {
	if !h.Alive() {
		return nil
	}
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

func (h *processHandle) Kill() error {
	if !h.Alive() {
		return nil
	}
	return h.cmd.Process.Kill()
}

func (h *processHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// IsLocal reports whether host names this machine.
func IsLocal(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	name, err := os.Hostname()
	return err == nil && host == name
}

func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}
