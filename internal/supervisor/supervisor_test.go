// ABOUTME: Tests for worker lifecycle and request correlation
// ABOUTME: Covers spawn, timeouts, crashes, respawn, reset, ping and close

package supervisor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micktaiwan/eko/internal/ipc"
	"github.com/micktaiwan/eko/internal/query"
	"github.com/micktaiwan/eko/internal/store"
)

func newSupervisor(t *testing.T, mode string, mutate ...func(*Options)) *Supervisor {
	t.Helper()
	cmd, env := helperCommand(t, mode)
	opts := Options{Command: cmd, Env: env, ReadyTimeout: 10 * time.Second, RequestTimeout: 10 * time.Second}
	for _, m := range mutate {
		m(&opts)
	}
	s := New(opts)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ask(from, message string) AskRequest {
	return AskRequest{Prompt: query.Prompt{From: from, Message: message}}
}

func TestAsk_Success(t *testing.T) {
	s := newSupervisor(t, "ok")

	var mu sync.Mutex
	var partial []string
	req := ask("Mickael", "Salut !")
	req.OnText = func(text string) {
		mu.Lock()
		partial = append(partial, text)
		mu.Unlock()
	}

	a, err := s.Ask(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, a.Response, "echo: Salut !")
	assert.Equal(t, "happy", a.Expression)
	assert.Equal(t, "sess-Mickael", a.SessionID)
	assert.Equal(t, 10, a.InputTokens)
	assert.Equal(t, 5, a.OutputTokens)
	assert.Regexp(t, `^req-\d+-\d+$`, a.RequestID)

	mu.Lock()
	assert.Len(t, partial, 1)
	mu.Unlock()
	assert.Zero(t, s.Pending())
}

func TestAsk_ConcurrentCallersShareOneSpawn(t *testing.T) {
	s := newSupervisor(t, "ok")

	const n = 8
	answers := make([]*Answer, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			answers[i], errs[i] = s.Ask(context.Background(), ask("u", "hi"))
		}()
	}
	wg.Wait()

	ids := map[string]bool{}
	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, pidOf(t, answers[0].Response), pidOf(t, answers[i].Response))
		ids[answers[i].RequestID] = true
	}
	assert.Len(t, ids, n, "request ids are unique")
}

func TestAsk_WorkerExitRejectsAndRespawns(t *testing.T) {
	s := newSupervisor(t, "ok")

	first, err := s.Ask(context.Background(), ask("u", "before"))
	require.NoError(t, err)

	_, err = s.Ask(context.Background(), ask("u", "crash"))
	require.ErrorIs(t, err, ErrWorkerExited)
	assert.Contains(t, err.Error(), "Worker exited")

	second, err := s.Ask(context.Background(), ask("u", "after"))
	require.NoError(t, err)
	assert.NotEqual(t, pidOf(t, first.Response), pidOf(t, second.Response))
}

func TestAsk_OversizedWorkerLineIsSkipped(t *testing.T) {
	s := newSupervisor(t, "ok", func(o *Options) { o.RequestTimeout = 5 * time.Second })

	big, err := s.Ask(context.Background(), ask("u", "biglog"))
	require.NoError(t, err)
	assert.Contains(t, big.Response, "echo: biglog")

	after, err := s.Ask(context.Background(), ask("u", "hello"))
	require.NoError(t, err)
	assert.Equal(t, pidOf(t, big.Response), pidOf(t, after.Response))
	require.NoError(t, s.Ping(context.Background()))
}

func TestReadLoop_ReadErrorKillsWorker(t *testing.T) {
	s := New(Options{})
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	cmd.Env = append(os.Environ(), helperEnv+"=noready")
	require.NoError(t, cmd.Start())
	p := &process{cmd: cmd, pid: cmd.Process.Pid, ready: make(chan struct{}), exited: make(chan struct{})}

	s.readLoop(p, iotest.ErrReader(errors.New("pipe broken")))

	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()
	select {
	case err := <-waited:
		var exitErr *exec.ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.False(t, exitErr.Success())
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		t.Fatal("worker was not killed after the read error")
	}
}

func TestAsk_Timeout(t *testing.T) {
	s := newSupervisor(t, "ok", func(o *Options) { o.RequestTimeout = 100 * time.Millisecond })

	_, err := s.Ask(context.Background(), ask("u", "hang"))
	require.ErrorIs(t, err, ErrRequestTimeout)
	assert.Zero(t, s.Pending())
}

func TestAsk_WorkerError(t *testing.T) {
	s := newSupervisor(t, "ok")

	_, err := s.Ask(context.Background(), ask("u", "fail"))
	require.ErrorIs(t, err, ErrWorkerError)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestAsk_SpawnTimeout(t *testing.T) {
	s := newSupervisor(t, "noready", func(o *Options) { o.ReadyTimeout = 200 * time.Millisecond })

	_, err := s.Ask(context.Background(), ask("u", "hi"))
	require.ErrorIs(t, err, ErrSpawnTimeout)
}

func TestAsk_ContextCancelled(t *testing.T) {
	s := newSupervisor(t, "ok")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := s.Ask(ctx, ask("u", "hang"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, s.Pending())
}

func TestPingAndReset(t *testing.T) {
	s := newSupervisor(t, "ok")

	// Reset before any worker exists is a no-op.
	require.NoError(t, s.Reset(context.Background(), "u"))

	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Reset(context.Background(), "u"))
	require.NoError(t, s.Reset(context.Background(), ""))
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestReset_SendFailureSettlesRequest(t *testing.T) {
	s := newSupervisor(t, "ok")
	require.NoError(t, s.Ping(context.Background()))

	s.mu.Lock()
	proc := s.proc
	healthy := proc.enc
	proc.enc = ipc.NewEncoder(brokenWriter{})
	s.mu.Unlock()

	err := s.Reset(context.Background(), "u")
	require.ErrorContains(t, err, "sending reset")
	assert.Zero(t, s.Pending())

	s.mu.Lock()
	proc.enc = healthy
	s.mu.Unlock()
	require.NoError(t, s.Reset(context.Background(), "u"))
}

func TestAbandon_StopsTimerAndSettles(t *testing.T) {
	s := New(Options{RequestTimeout: time.Hour})
	pr := s.register(&process{}, nil)
	require.Equal(t, 1, s.Pending())

	s.abandon(pr)

	assert.False(t, pr.timer.Stop(), "timer should already be stopped")
	assert.Zero(t, s.Pending())
	select {
	case <-pr.done:
	default:
		t.Fatal("request was not settled")
	}
}

func TestClosedSupervisorRefuses(t *testing.T) {
	s := newSupervisor(t, "ok")
	require.NoError(t, s.Close())
	_, err := s.Ask(context.Background(), ask("u", "hi"))
	assert.ErrorIs(t, err, ErrClosed)
}

type recordingFacts struct {
	mu  sync.Mutex
	got []Exchange
}

func (r *recordingFacts) Remember(_ context.Context, ex Exchange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ex)
	return nil
}

type recordingUsage struct {
	mu  sync.Mutex
	got []*store.TokenUsage
}

func (r *recordingUsage) SaveUsage(_ context.Context, u *store.TokenUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, u)
	return nil
}

func (r *recordingUsage) GetUsageStats(context.Context, store.UsageFilter) (*store.UsageStats, error) {
	return &store.UsageStats{}, nil
}

func TestAsk_PersistsUsageAndFacts(t *testing.T) {
	facts := &recordingFacts{}
	usage := &recordingUsage{}
	s := newSupervisor(t, "ok", func(o *Options) {
		o.Facts = facts
		o.Usage = usage
	})

	a, err := s.Ask(context.Background(), ask("Mickael", "j'adore le ski"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.Len(t, usage.got, 1)
	assert.Equal(t, a.RequestID, usage.got[0].RequestID)
	assert.Equal(t, "query", usage.got[0].Source)
	assert.Equal(t, 10, usage.got[0].InputTokens)

	require.Len(t, facts.got, 1)
	assert.Equal(t, "Mickael", facts.got[0].UserID)
	assert.Equal(t, "j'adore le ski", facts.got[0].Message)
}
