// ABOUTME: Supervisor multiplexes Ask/Reset/Ping callers onto one worker.
// ABOUTME: Pending requests settle on done, error, timeout or worker exit.

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/micktaiwan/eko/internal/ipc"
	"github.com/micktaiwan/eko/internal/metrics"
	"github.com/micktaiwan/eko/internal/query"
	"github.com/micktaiwan/eko/internal/store"
)

const (
	DefaultReadyTimeout   = 30 * time.Second
	DefaultRequestTimeout = 2 * time.Minute
)

// Remembered receives finished exchanges for fact extraction. Remember
// runs after the caller has its answer; its failures are only logged.
type Remembered interface {
	Remember(ctx context.Context, ex Exchange) error
}

// Exchange is one completed question and answer.
type Exchange struct {
	RequestID string
	UserID    string
	Message   string
	Response  string
}

// Options configures a Supervisor.
type Options struct {
	// Command is the worker argv, usually the running binary plus "worker".
	Command        []string
	Env            []string
	ReadyTimeout   time.Duration
	RequestTimeout time.Duration

	Facts  Remembered       // optional
	Usage  store.UsageStore // optional
	Logger *slog.Logger
}

// AskRequest is one caller query.
type AskRequest struct {
	Prompt query.Prompt
	// OnText is called with each partial response. It runs on the
	// supervisor's read goroutine and must not block.
	OnText func(text string)
}

// Answer is the worker's final reply.
type Answer struct {
	RequestID    string
	SessionID    string
	Response     string
	Expression   string
	InputTokens  int
	OutputTokens int
}

type result struct {
	answer *Answer
	err    error
}

// pending is a request awaiting its worker reply.
type pending struct {
	id     string
	proc   *process
	onText func(string)
	timer  *time.Timer

	// Owned by the read goroutine.
	sessionID string
	text      strings.Builder

	once sync.Once
	done chan result
}

func (p *pending) settle(r result) {
	p.once.Do(func() {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.done <- r
	})
}

// Supervisor owns the worker process.
type Supervisor struct {
	opts   Options
	logger *slog.Logger
	spawns singleflight.Group
	seq    atomic.Uint64
	bg     sync.WaitGroup

	mu      sync.Mutex
	proc    *process
	pending map[string]*pending
	pings   map[*process][]chan struct{}
	closed  bool
}

// New creates a Supervisor. No process is started until first use.
func New(opts Options) *Supervisor {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{
		opts:    opts,
		logger:  opts.Logger.With("component", "supervisor"),
		pending: make(map[string]*pending),
		pings:   make(map[*process][]chan struct{}),
	}
}

func (s *Supervisor) nextID() string {
	return fmt.Sprintf("req-%d-%d", s.seq.Add(1), time.Now().UnixMilli())
}

// register tracks a new request on proc and arms its timeout.
func (s *Supervisor) register(proc *process, onText func(string)) *pending {
	pr := &pending{
		id:     s.nextID(),
		proc:   proc,
		onText: onText,
		done:   make(chan result, 1),
	}
	pr.timer = time.AfterFunc(s.opts.RequestTimeout, func() {
		if s.forget(pr.id) {
			s.logger.Warn("request timed out", "request_id", pr.id, "timeout", s.opts.RequestTimeout)
			metrics.QueriesTotal.WithLabelValues(metrics.StatusTimeout).Inc()
			pr.settle(result{err: ErrRequestTimeout})
		}
	})

	s.mu.Lock()
	s.pending[pr.id] = pr
	s.mu.Unlock()
	metrics.PendingRequests.Inc()
	return pr
}

// abandon drops a request that never reached the worker and stops its timer.
func (s *Supervisor) abandon(pr *pending) {
	s.forget(pr.id)
	pr.settle(result{})
}

// forget removes id from the pending map and reports whether it was there.
func (s *Supervisor) forget(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return false
	}
	delete(s.pending, id)
	metrics.PendingRequests.Dec()
	return true
}

func (s *Supervisor) lookup(id string) (*pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.pending[id]
	return pr, ok
}

// await waits for pr or ctx.
func (s *Supervisor) await(ctx context.Context, pr *pending) (*Answer, error) {
	select {
	case r := <-pr.done:
		return r.answer, r.err
	case <-ctx.Done():
		if s.forget(pr.id) {
			pr.settle(result{err: ctx.Err()})
		}
		return nil, ctx.Err()
	}
}

// Ask sends a query to the worker and waits for its answer.
func (s *Supervisor) Ask(ctx context.Context, req AskRequest) (*Answer, error) {
	proc, err := s.ensureWorker(ctx)
	if err != nil {
		return nil, err
	}
	pr := s.register(proc, req.OnText)
	log := s.logger.With("request_id", pr.id, "user_id", req.Prompt.From)

	if err := proc.enc.Encode(ipc.Prompt(pr.id, req.Prompt.Encode())); err != nil {
		s.abandon(pr)
		return nil, fmt.Errorf("sending prompt: %w", err)
	}
	log.Debug("prompt sent")

	answer, err := s.await(ctx, pr)
	if err != nil {
		log.Warn("ask failed", "error", err)
		return nil, err
	}

	s.afterDone(req.Prompt, answer)
	return answer, nil
}

// Reset evicts userID's session in the worker, or all sessions when
// userID is empty. It does not spawn a worker that is not running.
func (s *Supervisor) Reset(ctx context.Context, userID string) error {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil || !proc.alive() {
		return nil
	}

	pr := s.register(proc, nil)
	if err := proc.enc.Encode(ipc.Reset(pr.id, userID)); err != nil {
		s.abandon(pr)
		return fmt.Errorf("sending reset: %w", err)
	}
	_, err := s.await(ctx, pr)
	return err
}

// Ping checks that the worker answers, spawning it if necessary.
func (s *Supervisor) Ping(ctx context.Context) error {
	proc, err := s.ensureWorker(ctx)
	if err != nil {
		return err
	}
	ch := make(chan struct{})
	s.mu.Lock()
	s.pings[proc] = append(s.pings[proc], ch)
	s.mu.Unlock()

	if err := proc.enc.Encode(ipc.Ping()); err != nil {
		return fmt.Errorf("sending ping: %w", err)
	}
	select {
	case <-ch:
		if !proc.alive() {
			return ErrWorkerExited
		}
		return nil
	case <-proc.exited:
		return ErrWorkerExited
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of requests awaiting the worker.
func (s *Supervisor) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close stops the worker and waits for background fact extraction.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	proc := s.proc
	s.mu.Unlock()

	if proc != nil {
		// Closing stdin lets the worker finish queued turns and exit.
		_ = proc.stdin.Close()
		select {
		case <-proc.exited:
		case <-time.After(5 * time.Second):
			s.logger.Warn("worker did not exit, killing", "pid", proc.pid)
			_ = proc.cmd.Process.Kill()
			<-proc.exited
		}
	}
	s.bg.Wait()
	return nil
}

// dispatch routes one worker message. It runs on the read goroutine.
func (s *Supervisor) dispatch(p *process, msg *ipc.Message) {
	switch msg.Type {
	case ipc.TypeReady:
		p.readyOnce.Do(func() { close(p.ready) })

	case ipc.TypeLog:
		s.logWorker(msg)

	case ipc.TypePong:
		s.mu.Lock()
		waiting := s.pings[p]
		delete(s.pings, p)
		s.mu.Unlock()
		for _, ch := range waiting {
			close(ch)
		}

	case ipc.TypeSession:
		if pr, ok := s.lookup(msg.RequestID); ok {
			pr.sessionID = msg.SessionID
		}

	case ipc.TypeText:
		if pr, ok := s.lookup(msg.RequestID); ok {
			pr.text.WriteString(msg.Text)
			if pr.onText != nil {
				pr.onText(msg.Text)
			}
		}

	case ipc.TypeDone:
		pr, ok := s.lookup(msg.RequestID)
		if !ok || !s.forget(msg.RequestID) {
			s.logger.Debug("dropping late done", "request_id", msg.RequestID)
			return
		}
		response := msg.Response
		if response == "" {
			response = pr.text.String()
		}
		pr.settle(result{answer: &Answer{
			RequestID:    msg.RequestID,
			SessionID:    pr.sessionID,
			Response:     response,
			Expression:   msg.Expression,
			InputTokens:  msg.InputTokens,
			OutputTokens: msg.OutputTokens,
		}})

	case ipc.TypeResetDone:
		if pr, ok := s.lookup(msg.RequestID); ok && s.forget(msg.RequestID) {
			pr.settle(result{})
		}

	case ipc.TypeError:
		pr, ok := s.lookup(msg.RequestID)
		if !ok || !s.forget(msg.RequestID) {
			s.logger.Debug("dropping late error", "request_id", msg.RequestID, "message", msg.Message)
			return
		}
		pr.settle(result{err: fmt.Errorf("%w: %s", ErrWorkerError, msg.Message)})

	default:
		s.logger.Warn("unexpected worker message", "type", msg.Type)
	}
}

// afterDone persists usage and starts fact extraction for a finished ask.
func (s *Supervisor) afterDone(p query.Prompt, a *Answer) {
	if s.opts.Usage == nil && s.opts.Facts == nil {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if s.opts.Usage != nil {
			err := s.opts.Usage.SaveUsage(ctx, &store.TokenUsage{
				RequestID:    a.RequestID,
				UserID:       p.From,
				Source:       "query",
				InputTokens:  a.InputTokens,
				OutputTokens: a.OutputTokens,
			})
			if err != nil {
				s.logger.Warn("saving usage failed", "request_id", a.RequestID, "error", err)
			}
		}
		if s.opts.Facts != nil && a.Response != "" {
			err := s.opts.Facts.Remember(ctx, Exchange{
				RequestID: a.RequestID,
				UserID:    p.From,
				Message:   p.Message,
				Response:  a.Response,
			})
			if err != nil {
				s.logger.Warn("fact extraction failed", "request_id", a.RequestID, "error", err)
			}
		}
	}()
}
