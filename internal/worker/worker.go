// ABOUTME: Read loop of the worker process.
// ABOUTME: Announces ready, queues prompts and answers control messages inline.

package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/micktaiwan/eko/internal/ipc"
	"github.com/micktaiwan/eko/internal/query"
)

// Runner executes one turn and emits its events.
type Runner interface {
	Run(ctx context.Context, requestID, prompt string) (*query.Outcome, error)
}

// Sessions is the reset surface of the session store.
type Sessions interface {
	Reset(userID string) bool
	ResetAll() int
}

// Worker serves the ipc protocol on a reader and an encoder.
type Worker struct {
	runner   Runner
	sessions Sessions
	out      *ipc.Encoder
	queue    *Queue
	logger   *slog.Logger
}

// New creates a Worker.
func New(runner Runner, sessions Sessions, out *ipc.Encoder, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		runner:   runner,
		sessions: sessions,
		out:      out,
		logger:   logger.With("component", "worker"),
	}
	w.queue = NewQueue(w.runJob)
	return w
}

// Queue exposes the job queue.
func (w *Worker) Queue() *Queue { return w.queue }

func (w *Worker) runJob(ctx context.Context, job Job) {
	// Errors have already been emitted to the supervisor.
	_, _ = w.runner.Run(ctx, job.RequestID, job.Prompt)
}

// Serve writes ready, then reads messages from in until EOF or ctx ends.
// Queued queries finish before Serve returns on EOF.
func (w *Worker) Serve(ctx context.Context, in io.Reader) error {
	if err := w.out.Encode(ipc.Ready()); err != nil {
		return err
	}
	w.logger.Info("worker ready")

	dec := ipc.NewDecoder(in)
	msgs := make(chan *ipc.Message)
	errc := make(chan error, 1)
	go func() {
		for {
			msg, err := dec.Next()
			if errors.Is(err, ipc.ErrMalformed) {
				w.logger.Warn("skipping malformed line", "error", err)
				continue
			}
			if err != nil {
				errc <- err
				return
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			w.queue.Wait()
			if errors.Is(err, io.EOF) {
				w.logger.Info("stdin closed, worker exiting")
				return nil
			}
			return err
		case msg := <-msgs:
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg *ipc.Message) {
	switch msg.Type {
	case ipc.TypePrompt:
		w.logger.Debug("query enqueued", "request_id", msg.RequestID, "queued", w.queue.Len())
		w.queue.Enqueue(ctx, Job{RequestID: msg.RequestID, Prompt: msg.Prompt}, nil)

	case ipc.TypeReset:
		if msg.UserID != "" {
			w.sessions.Reset(msg.UserID)
			w.logger.Info("session reset", "user_id", msg.UserID)
		} else {
			n := w.sessions.ResetAll()
			w.logger.Info("all sessions reset", "count", n)
		}
		w.emit(ipc.ResetDone(msg.RequestID))

	case ipc.TypePing:
		w.emit(ipc.Pong())

	default:
		w.logger.Warn("unexpected message type", "type", msg.Type)
	}
}

func (w *Worker) emit(msg *ipc.Message) {
	if err := w.out.Encode(msg); err != nil {
		w.logger.Error("write failed", "type", msg.Type, "error", err)
	}
}

