// ABOUTME: Builders shared by the commands: store, vector client, models
// ABOUTME: and the supervisor with its fact extractor

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/llms"

	"github.com/micktaiwan/eko/internal/agent"
	"github.com/micktaiwan/eko/internal/config"
	"github.com/micktaiwan/eko/internal/reflection"
	"github.com/micktaiwan/eko/internal/rooms"
	"github.com/micktaiwan/eko/internal/store"
	"github.com/micktaiwan/eko/internal/supervisor"
	"github.com/micktaiwan/eko/internal/vector"
)

const dedupLockPrefix = "eko:dedup:"

// vectorStack is the vector client plus the resources backing it.
type vectorStack struct {
	client *vector.Client
	redis  *redis.Client
}

func (v *vectorStack) Close() error {
	if v.redis != nil {
		return v.redis.Close()
	}
	return nil
}

// newVectorStack builds the Qdrant client. A configured Redis address moves
// the dedup lock out of process.
func newVectorStack(cfg *config.Config, logger *slog.Logger) *vectorStack {
	embedder := vector.NewOpenAICompatEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Model)

	opts := vector.Options{
		URL:            cfg.Vector.URL,
		APIKey:         cfg.Vector.APIKey,
		DedupThreshold: cfg.Vector.DedupThreshold,
		Logger:         logger,
	}

	vs := &vectorStack{}
	if cfg.Dedup.RedisAddr != "" {
		vs.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Dedup.RedisAddr,
			Password: cfg.Dedup.RedisPassword,
			DB:       cfg.Dedup.RedisDB,
		})
		opts.Locker = vector.NewRedisLocker(vs.redis, dedupLockPrefix)
	}
	vs.client = vector.NewClient(embedder, opts)
	return vs
}

// ensureCollections creates every configured collection that is missing.
func ensureCollections(ctx context.Context, c *vector.Client, cfg *config.Config) error {
	col := cfg.Vector.Collections
	var errs []error
	for _, name := range []string{col.Facts, col.Self, col.Goals, col.Live} {
		if err := c.EnsureCollection(ctx, name, cfg.Embedding.Dimensions); err != nil {
			errs = append(errs, fmt.Errorf("collection %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func newChatModel(cfg config.LLMConfig, name string) (llms.Model, error) {
	return agent.NewModel(agent.ModelConfig{
		Provider: cfg.Provider,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Model:    name,
	})
}

// workerCommand returns the worker argv: the configured command, or this
// binary re-executed with the worker subcommand.
func workerCommand(cfg *config.Config, configPath string) ([]string, error) {
	if len(cfg.Worker.Command) > 0 {
		return cfg.Worker.Command, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating executable: %w", err)
	}
	argv := []string{exe, "worker"}
	if configPath != "" {
		argv = append(argv, "--config", configPath)
	}
	return argv, nil
}

// newSupervisor wires the worker supervisor with usage accounting and fact
// extraction through the reflection model.
func newSupervisor(cfg *config.Config, configPath string, st store.Store, vectors *vector.Client, logger *slog.Logger) (*supervisor.Supervisor, error) {
	argv, err := workerCommand(cfg, configPath)
	if err != nil {
		return nil, err
	}
	extractModel, err := newChatModel(cfg.LLM, cfg.LLM.ReflectionModelName())
	if err != nil {
		return nil, fmt.Errorf("creating extraction model: %w", err)
	}
	facts := supervisor.NewFactExtractor(extractModel, vectors, cfg.Vector.Collections.Facts, st, logger)

	return supervisor.New(supervisor.Options{
		Command:        argv,
		Env:            os.Environ(),
		ReadyTimeout:   cfg.Worker.ReadyTimeout,
		RequestTimeout: cfg.Worker.RequestTimeout,
		Facts:          facts,
		Usage:          st,
		Logger:         logger,
	}), nil
}

// newScheduler wires the reflection scheduler over the room service.
func newScheduler(cfg *config.Config, st store.Store, vectors *vector.Client, roomSvc *rooms.Service, logger *slog.Logger) (*reflection.Scheduler, error) {
	model, err := newChatModel(cfg.LLM, cfg.LLM.ReflectionModelName())
	if err != nil {
		return nil, fmt.Errorf("creating reflection model: %w", err)
	}
	rc := cfg.Reflection
	col := cfg.Vector.Collections
	return reflection.New(reflection.Config{
		Enabled:          rc.Enabled,
		Schedule:         rc.Schedule,
		LobbyRoomID:      rc.LobbyRoomID,
		AgentUserID:      rc.AgentUserID,
		MaxPerDay:        rc.MaxPerDay,
		Cooldown:         rc.Cooldown,
		GoalRepeatWindow: rc.GoalRepeatWindow,
		HistorySize:      rc.HistorySize,
		MaxTokens:        rc.MaxTokens,
		Collections: reflection.Collections{
			Facts: col.Facts,
			Self:  col.Self,
			Goals: col.Goals,
		},
	}, reflection.Deps{
		Model:   model,
		Vectors: vectors,
		Rooms:   roomSvc,
		Log:     st,
		Usage:   st,
		Logger:  logger,
	}), nil
}
