// ABOUTME: Helper worker for supervisor tests: the test binary re-executed
// ABOUTME: Message text selects crash, hang, failure or oversized output

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/micktaiwan/eko/internal/ipc"
	"github.com/micktaiwan/eko/internal/query"
	"github.com/micktaiwan/eko/internal/worker"
)

const helperEnv = "EKO_SUPERVISOR_HELPER"

// TestMain turns the test binary into a fake worker when helperEnv is set.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		runHelper(mode)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func helperCommand(t *testing.T, mode string) ([]string, []string) {
	t.Helper()
	return []string{os.Args[0], "-test.run=^$"}, append(os.Environ(), helperEnv+"="+mode)
}

// helperRunner answers prompts according to their message text.
type helperRunner struct {
	out *ipc.Encoder
}

func (r *helperRunner) Run(_ context.Context, requestID, raw string) (*query.Outcome, error) {
	p := query.ParsePrompt(raw)
	switch p.Message {
	case "crash":
		os.Exit(3)
	case "hang":
		time.Sleep(time.Second)
		return nil, nil
	case "biglog":
		// Written raw so it is not clipped by the log handler.
		_ = r.out.Encode(ipc.Log("info", "oversized", map[string]any{"blob": strings.Repeat("x", 2*ipc.MaxLineSize)}))
	case "fail":
		_ = r.out.Encode(ipc.Error(requestID, "model unavailable"))
		return nil, fmt.Errorf("model unavailable")
	}
	reply := fmt.Sprintf("echo: %s (pid %d)", p.Message, os.Getpid())
	_ = r.out.Encode(ipc.Session(requestID, "sess-"+p.From))
	_ = r.out.Encode(ipc.Text(requestID, reply))
	_ = r.out.Encode(ipc.Done(requestID, reply, "happy", 10, 5))
	return &query.Outcome{}, nil
}

type nopSessions struct{}

func (nopSessions) Reset(string) bool { return true }
func (nopSessions) ResetAll() int     { return 0 }

func runHelper(mode string) {
	if mode == "noready" {
		time.Sleep(10 * time.Second)
		return
	}
	enc := ipc.NewEncoder(os.Stdout)
	logger := slog.New(ipc.NewLogHandler(enc, slog.LevelDebug))
	logger.Info("helper worker starting", "mode", mode)
	fmt.Fprintln(os.Stderr, "helper stderr line")

	w := worker.New(&helperRunner{out: enc}, nopSessions{}, enc, logger)
	_ = w.Serve(context.Background(), os.Stdin)
}

func pidOf(t *testing.T, response string) string {
	t.Helper()
	i := strings.Index(response, "(pid ")
	if i < 0 {
		t.Fatalf("no pid in %q", response)
	}
	return response[i:]
}
