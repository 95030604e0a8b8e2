// Package server runs a cache server binary in the foreground so the test
// runner can start, stop and restart it.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Defaults for [Process] timeouts.
const (
	DefaultReadyTimeout = 10 * time.Second
	DefaultStopTimeout  = 5 * time.Second

	dialInterval = 50 * time.Millisecond
)

var (
	ErrAlreadyRunning = errors.New("server already running")
	ErrExitedEarly    = errors.New("server exited before accepting connections")
	ErrNotReady       = errors.New("server did not accept connections in time")
)

// Process is one foreground server instance, started as "Binary ConfigPath"
// in Dir. Relative paths inside the config resolve against Dir.
type Process struct {
	Binary     string
	ConfigPath string
	Dir        string

	// Addr is the host:port dialed to decide the server is ready.
	Addr string

	ReadyTimeout time.Duration
	StopTimeout  time.Duration

	// Output receives the server's stdout and stderr. Nil discards them.
	Output io.Writer

	mu  sync.Mutex
	cur *run
}

// run is one started process. err is written before done is closed.
type run struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// Start launches the binary and blocks until Addr accepts a TCP connection.
// If the process exits or the ready timeout passes first, Start returns an
// error and no process is left running.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()

	if p.cur != nil {
		p.mu.Unlock()

		return ErrAlreadyRunning
	}

	cmd := exec.Command(p.Binary, p.ConfigPath)
	cmd.Dir = p.Dir
	cmd.Stdout = p.Output
	cmd.Stderr = p.Output

	if err := cmd.Start(); err != nil {
		p.mu.Unlock()

		return fmt.Errorf("start %s: %w", p.Binary, err)
	}

	r := &run{cmd: cmd, done: make(chan struct{})}

	go func() {
		r.err = cmd.Wait()
		close(r.done)
	}()

	p.cur = r
	p.mu.Unlock()

	if err := p.waitReady(ctx, r); err != nil {
		_ = p.Stop()

		return err
	}

	return nil
}

func (p *Process) waitReady(ctx context.Context, r *run) error {
	timeout := p.ReadyTimeout
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(dialInterval)
	defer ticker.Stop()

	var dialer net.Dialer

	for {
		conn, err := dialer.DialContext(ctx, "tcp", p.Addr)
		if err == nil {
			_ = conn.Close()

			return nil
		}

		select {
		case <-r.done:
			return fmt.Errorf("%w: %s %s: %v", ErrExitedEarly, p.Binary, p.ConfigPath, r.err)
		case <-ctx.Done():
			return fmt.Errorf("%w: %s after %s", ErrNotReady, p.Addr, timeout)
		case <-ticker.C:
		}
	}
}

// Stop sends SIGTERM and waits for the process to exit, killing it after the
// stop timeout. Stopping a process that is not running is a no-op.
func (p *Process) Stop() error {
	p.mu.Lock()
	r := p.cur
	p.cur = nil
	p.mu.Unlock()

	if r == nil {
		return nil
	}

	timeout := p.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	select {
	case <-r.done:
		return nil
	default:
	}

	if err := r.cmd.Process.Signal(unix.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			<-r.done

			return nil
		}

		return fmt.Errorf("signal %s: %w", p.Binary, err)
	}

	select {
	case <-r.done:
	case <-time.After(timeout):
		_ = r.cmd.Process.Kill()

		<-r.done
	}

	return nil
}

// Restart stops and starts the process.
func (p *Process) Restart(ctx context.Context) error {
	if err := p.Stop(); err != nil {
		return err
	}

	return p.Start(ctx)
}

// Running reports whether the process was started and has not exited.
func (p *Process) Running() bool {
	p.mu.Lock()
	r := p.cur
	p.mu.Unlock()

	if r == nil {
		return false
	}

	select {
	case <-r.done:
		return false
	default:
		return true
	}
}
