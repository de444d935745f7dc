// ABOUTME: ask command: one question through a private worker, without the API
// ABOUTME: Prints the final response, expression and token counts

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/micktaiwan/eko/internal/query"
	"github.com/micktaiwan/eko/internal/store"
	"github.com/micktaiwan/eko/internal/supervisor"
)

type askFlags struct {
	from     string
	location string
	status   string
}

func newAskCmd(flags *rootFlags) *cobra.Command {
	af := &askFlags{}
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Ask eko a question from the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runAsk(ctx, cmd, flags, af, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&af.from, "from", os.Getenv("USER"), "user id the question comes from")
	cmd.Flags().StringVar(&af.location, "location", "", "location shown to the agent")
	cmd.Flags().StringVar(&af.status, "status", "", "status message shown to the agent")
	return cmd
}

func runAsk(ctx context.Context, cmd *cobra.Command, flags *rootFlags, af *askFlags, message string) error {
	cfg, configPath, err := flags.load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	vs := newVectorStack(cfg, logger)
	defer vs.Close()

	sup, err := newSupervisor(cfg, configPath, st, vs.client, logger)
	if err != nil {
		return err
	}
	// Close waits for usage and fact extraction to finish.
	defer sup.Close()

	from := af.from
	if from == "" {
		from = query.UnknownUser
	}
	answer, err := sup.Ask(ctx, supervisor.AskRequest{
		Prompt: query.Prompt{
			From:          from,
			Message:       message,
			Time:          time.Now().Format(time.RFC3339),
			Location:      af.location,
			StatusMessage: af.status,
		},
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, answer.Response)
	gray := color.New(color.FgHiBlack)
	gray.Fprintf(out, "[%s] %d in / %d out\n", answer.Expression, answer.InputTokens, answer.OutputTokens)
	return nil
}
