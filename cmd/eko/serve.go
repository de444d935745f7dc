// ABOUTME: serve command: HTTP API, worker supervisor and reflection scheduler
// ABOUTME: Prints the startup banner and runs until SIGINT or SIGTERM

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/micktaiwan/eko/internal/api"
	"github.com/micktaiwan/eko/internal/rooms"
	"github.com/micktaiwan/eko/internal/store"
)

const banner = `
       _
   ___| | _____
  / _ \ |/ / _ \
 |  __/   < (_) |
  \___|_|\_\___/
`

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the worker supervisor and the reflection scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, flags)
		},
	}
}

func runServe(ctx context.Context, flags *rootFlags) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := flags.load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	if configPath == "" {
		fmt.Print("Config:    ")
		yellow.Println("(defaults)")
	} else {
		fmt.Printf("Config:    %s\n", configPath)
	}
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Vectors:   %s\n", cfg.Vector.URL)
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
	if cfg.Dedup.RedisAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("Dedup:     ")
		cyan.Println(cfg.Dedup.RedisAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Reflect:   %s", cfg.Reflection.Schedule)
	if !cfg.Reflection.Enabled {
		yellow.Print(" [disabled]")
	}
	fmt.Println()
	fmt.Println()

	logger.Info("starting eko",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	vs := newVectorStack(cfg, logger)
	defer vs.Close()
	if err := ensureCollections(ctx, vs.client, cfg); err != nil {
		// The store may come up later; reads of a missing collection are empty.
		logger.Warn("ensuring vector collections", "error", err)
	}

	sup, err := newSupervisor(cfg, configPath, st, vs.client, logger)
	if err != nil {
		return err
	}
	defer sup.Close()

	roomSvc := rooms.New(st, vs.client, cfg.Vector.Collections.Live, logger)

	sched, err := newScheduler(cfg, st, vs.client, roomSvc, logger)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting reflection: %w", err)
	}
	defer sched.Stop()

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	srv := api.New(api.Config{
		Addr:        cfg.Server.HTTPAddr,
		MetricsPath: metricsPath,
	}, api.Deps{
		Agent:     sup,
		Reflector: sched,
		Rooms:     roomSvc,
		Usage:     st,
		Logger:    logger,
	})

	return srv.Run(ctx)
}
