// ABOUTME: reflect command: run one reflection now and print its outcome
// ABOUTME: Flags mirror the trigger options of the HTTP API

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/micktaiwan/eko/internal/reflection"
	"github.com/micktaiwan/eko/internal/rooms"
	"github.com/micktaiwan/eko/internal/store"
)

func newReflectCmd(flags *rootFlags) *cobra.Command {
	opts := reflection.TriggerOptions{}
	cmd := &cobra.Command{
		Use:   "reflect",
		Short: "Run one reflection and print the decision as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runReflect(ctx, cmd, flags, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Force, "force", false, "run even when reflection is disabled")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "decide without posting or consuming a goal")
	cmd.Flags().BoolVar(&opts.BypassRateLimit, "bypass-rate-limit", false, "ignore the cooldown and the daily cap")
	cmd.Flags().StringVar(&opts.RoomID, "room", "", "room to speak in (default the lobby)")
	return cmd
}

func runReflect(ctx context.Context, cmd *cobra.Command, flags *rootFlags, opts reflection.TriggerOptions) error {
	cfg, _, err := flags.load()
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

	roomSvc := rooms.New(st, vs.client, cfg.Vector.Collections.Live, logger)
	sched, err := newScheduler(cfg, st, vs.client, roomSvc, logger)
	if err != nil {
		return err
	}

	res := sched.Trigger(ctx, opts)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
