// ABOUTME: worker command: the agent process driven by the supervisor
// ABOUTME: Speaks the line protocol on stdin/stdout; logs travel as log messages

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/micktaiwan/eko/internal/agent"
	"github.com/micktaiwan/eko/internal/ipc"
	"github.com/micktaiwan/eko/internal/query"
	"github.com/micktaiwan/eko/internal/session"
	"github.com/micktaiwan/eko/internal/store"
	"github.com/micktaiwan/eko/internal/tools"
	"github.com/micktaiwan/eko/internal/worker"
)

func newWorkerCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Run the agent worker on stdin/stdout (started by serve)",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer cancel()
			// SIGINT reaches the whole process group; the supervisor decides
			// when the worker stops by closing stdin.
			signal.Ignore(syscall.SIGINT)
			return runWorker(ctx, flags)
		},
	}
}

func runWorker(ctx context.Context, flags *rootFlags) error {
	enc := ipc.NewEncoder(os.Stdout)

	cfg, _, err := flags.load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(ipc.NewLogHandler(enc, ipc.ParseLevel(cfg.Logging.Level)))
	slog.SetDefault(logger)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	vs := newVectorStack(cfg, logger)
	defer vs.Close()

	model, err := newChatModel(cfg.LLM, cfg.LLM.Model)
	if err != nil {
		return fmt.Errorf("creating model: %w", err)
	}

	sessions := session.New(cfg.Sessions.IdleTimeout, cfg.Sessions.SweepInterval)
	defer sessions.Close()

	col := cfg.Vector.Collections
	registry := tools.NewRegistry(tools.Deps{
		Vectors: vs.client,
		Notes:   st,
		Collections: tools.Collections{
			Facts: col.Facts,
			Self:  col.Self,
			Goals: col.Goals,
		},
		Logger: logger,
	})

	rt := agent.NewLLMRuntime(model,
		agent.WithLogger(logger),
		agent.WithSessionTTL(cfg.Sessions.IdleTimeout),
	)

	runner := query.NewRunner(rt, registry, sessions, vs.client, query.EmitterFunc(enc.Encode), query.Config{
		MaxTurns:       cfg.LLM.MaxTurns,
		MaxTokens:      cfg.LLM.MaxTokens,
		LiveCollection: col.Live,
	}, logger)

	logger.Info("worker starting", "pid", os.Getpid(), "model", cfg.LLM.Model)
	return worker.New(runner, sessions, enc, logger).Serve(ctx, os.Stdin)
}
