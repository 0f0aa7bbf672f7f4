package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcplink/mcpcfg"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcplink", "transport")

// DefaultKillGrace is how long Close waits for a graceful exit before
// forcing termination.
const DefaultKillGrace = 2 * time.Second

// StdioOption configures a Stdio transport.
type StdioOption func(*Stdio)

// WithKillGrace overrides the graceful-termination wait used by Close.
func WithKillGrace(d time.Duration) StdioOption {
	return func(s *Stdio) {
		s.killGrace = d
	}
}

// Stdio owns one child process and frames messages over its standard input
// and output. Standard error is passed through for diagnostics and is not
// part of the protocol. The process handles are exclusively owned by this
// value; nothing else may read or write them.
type Stdio struct {
	name      string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	killGrace time.Duration

	writeMu sync.Mutex

	lines  chan []byte
	done   chan struct{} // closed by Close, releases the reader
	exited chan struct{} // closed once the process is reaped

	closeOnce sync.Once
}

// StartStdio spawns the configured command with its arguments, working
// directory, and environment merged over the inherited one. The returned
// transport is ready for I/O; callers decide how long to let the process
// settle before trusting it.
func StartStdio(cfg *mcpcfg.ServerConfig, opts ...StdioOption) (*Stdio, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Cwd
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.WithMessage(err, "failed to open stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.WithMessage(err, "failed to open stdout pipe")
	}

	s := &Stdio{
		name:      cfg.Name,
		cmd:       cmd,
		stdin:     stdin,
		killGrace: DefaultKillGrace,
		lines:     make(chan []byte, 1),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Mark(errors.WithMessagef(err, "failed to start %q", cfg.Command), ErrTransport)
	}

	readerDone := make(chan struct{})
	go s.readLoop(stdout, readerDone)
	go func() {
		<-readerDone
		if err := cmd.Wait(); err != nil {
			logger.KV(xlog.DEBUG, "server", s.name, "pid", cmd.Process.Pid, "exit", err.Error())
		}
		close(s.exited)
	}()

	logger.KV(xlog.DEBUG, "server", s.name, "command", cfg.Command, "pid", cmd.Process.Pid)
	return s, nil
}

// readLoop feeds complete lines into the line channel until end-of-stream.
func (s *Stdio) readLoop(stdout io.Reader, readerDone chan struct{}) {
	defer close(readerDone)
	defer close(s.lines)

	r := bufio.NewReader(stdout)
	for {
		line, err := r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			select {
			case s.lines <- line:
			case <-s.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Pid returns the child process ID.
func (s *Stdio) Pid() int {
	return s.cmd.Process.Pid
}

// Alive reports whether the child process has not yet been reaped.
func (s *Stdio) Alive() bool {
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// WriteMessage implements Transport.WriteMessage. Writes are serialized so a
// message is never interleaved with another.
func (s *Stdio) WriteMessage(msg any) error {
	bs, err := json.Marshal(msg)
	if err != nil {
		return errors.WithMessage(err, "failed to marshal message")
	}
	bs = append(bs, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.exited:
		return errors.Mark(errors.Errorf("server %q process exited", s.name), ErrClosed)
	default:
	}
	if _, err := s.stdin.Write(bs); err != nil {
		return errors.Mark(errors.WithMessagef(err, "failed to write to server %q", s.name), ErrTransport)
	}
	return nil
}

// ReadLine implements Transport.ReadLine.
func (s *Stdio) ReadLine(ctx context.Context, deadline time.Duration) ([]byte, error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case line, ok := <-s.lines:
		if !ok {
			return nil, errors.Mark(errors.Errorf("server %q closed the stream", s.name), ErrClosed)
		}
		return line, nil
	case <-ctx.Done():
		return nil, errors.Mark(ctx.Err(), ErrTimeout)
	case <-timer.C:
		return nil, errors.Mark(errors.Errorf("no response from server %q within %v", s.name, deadline), ErrTimeout)
	}
}

// Close implements Transport.Close: graceful termination first, forced kill
// after the grace period. It is idempotent and never fails on best-effort
// cleanup errors.
func (s *Stdio) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.stdin.Close(); err != nil {
			logger.KV(xlog.WARNING, "server", s.name, "reason", "stdin close failed", "err", err.Error())
		}
		if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.KV(xlog.DEBUG, "server", s.name, "reason", "signal failed", "err", err.Error())
		}

		select {
		case <-s.exited:
		case <-time.After(s.killGrace):
			logger.KV(xlog.WARNING, "server", s.name, "pid", s.cmd.Process.Pid, "reason", "grace period expired, killing")
			if err := s.cmd.Process.Kill(); err != nil {
				logger.KV(xlog.WARNING, "server", s.name, "reason", "kill failed", "err", err.Error())
			}
			<-s.exited
		}
		logger.KV(xlog.DEBUG, "server", s.name, "status", "terminated")
	})
	return nil
}
