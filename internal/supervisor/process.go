// ABOUTME: Worker subprocess lifecycle: spawn, ready handshake, exit watch.
// ABOUTME: stdout is decoded as ipc messages, stderr is logged line by line.

package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/micktaiwan/eko/internal/ipc"
	"github.com/micktaiwan/eko/internal/metrics"
)

// process is one running worker.
type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	enc   *ipc.Encoder
	pid   int

	ready     chan struct{}
	readyOnce sync.Once
	exited    chan struct{}
}

func (p *process) alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// ensureWorker returns the live worker, spawning one if needed.
func (s *Supervisor) ensureWorker(ctx context.Context) (*process, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.proc != nil && s.proc.alive() {
		p := s.proc
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	ch := s.spawns.DoChan("worker", func() (any, error) {
		return s.spawn()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*process), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Supervisor) spawn() (*process, error) {
	s.mu.Lock()
	if s.proc != nil && s.proc.alive() {
		p := s.proc
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	if len(s.opts.Command) == 0 {
		return nil, errors.New("no worker command configured")
	}
	cmd := exec.Command(s.opts.Command[0], s.opts.Command[1:]...)
	cmd.Env = s.opts.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	metrics.WorkerRestartsTotal.Inc()

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		enc:    ipc.NewEncoder(stdin),
		pid:    cmd.Process.Pid,
		ready:  make(chan struct{}),
		exited: make(chan struct{}),
	}
	log := s.logger.With("pid", p.pid)
	log.Info("worker spawned", "command", s.opts.Command)

	var streams sync.WaitGroup
	streams.Add(2)
	go func() {
		defer streams.Done()
		s.readLoop(p, stdout)
	}()
	go func() {
		defer streams.Done()
		s.logStderr(log, stderr)
	}()
	go func() {
		// Wait closes the pipes, so drain them first.
		streams.Wait()
		err := cmd.Wait()
		close(p.exited)
		s.onExit(p, err)
	}()

	timer := time.NewTimer(s.opts.ReadyTimeout)
	defer timer.Stop()
	select {
	case <-p.ready:
	case <-p.exited:
		return nil, fmt.Errorf("worker exited before ready: %w", ErrWorkerExited)
	case <-timer.C:
		log.Error("worker ready timeout", "timeout", s.opts.ReadyTimeout)
		_ = cmd.Process.Kill()
		return nil, ErrSpawnTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = stdin.Close()
		return nil, ErrClosed
	}
	s.proc = p
	log.Info("worker ready")
	return p, nil
}

func (s *Supervisor) readLoop(p *process, stdout io.Reader) {
	dec := ipc.NewDecoder(stdout)
	for {
		msg, err := dec.Next()
		if errors.Is(err, ipc.ErrMalformed) {
			s.logger.Warn("malformed worker line", "pid", p.pid, "error", err)
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				// Nothing reads stdout any more, so the worker would block on
				// its next write. Kill it; onExit rejects what is pending.
				s.logger.Error("worker stdout read failed, killing worker", "pid", p.pid, "error", err)
				_ = p.cmd.Process.Kill()
			}
			return
		}
		s.dispatch(p, msg)
	}
}

func (s *Supervisor) logStderr(log *slog.Logger, stderr io.Reader) {
	sc := bufio.NewScanner(stderr)
	sc.Buffer(make([]byte, 0, 64*1024), ipc.MaxLineSize)
	for sc.Scan() {
		log.Warn("worker stderr", "line", sc.Text())
	}
	if err := sc.Err(); err != nil {
		log.Warn("worker stderr unreadable, discarding the rest", "error", err)
		_, _ = io.Copy(io.Discard, stderr)
	}
}

// onExit settles everything that was waiting on p.
func (s *Supervisor) onExit(p *process, err error) {
	s.mu.Lock()
	if s.proc == p {
		s.proc = nil
	}
	var orphans []*pending
	for id, pr := range s.pending {
		if pr.proc == p {
			orphans = append(orphans, pr)
			delete(s.pending, id)
			metrics.PendingRequests.Dec()
		}
	}
	pings := s.pings[p]
	delete(s.pings, p)
	closed := s.closed
	s.mu.Unlock()

	if closed {
		s.logger.Info("worker stopped", "pid", p.pid)
	} else {
		s.logger.Warn("worker exited", "pid", p.pid, "error", err, "pending", len(orphans))
	}
	for _, pr := range orphans {
		pr.settle(result{err: ErrWorkerExited})
	}
	for _, ch := range pings {
		close(ch)
	}
}

// logWorker routes a worker log line to the supervisor's logger.
func (s *Supervisor) logWorker(msg *ipc.Message) {
	attrs := make([]any, 0, 2+2*len(msg.Data))
	attrs = append(attrs, "source", "worker")
	for k, v := range msg.Data {
		attrs = append(attrs, k, v)
	}
	s.logger.Log(context.Background(), ipc.ParseLevel(msg.Level), msg.Message, attrs...)
}
