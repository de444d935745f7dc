// ABOUTME: Cron-driven reflection scheduler with rate limits and history.
// ABOUTME: Triggers are serialized; each produces exactly one log entry.

package reflection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tmc/langchaingo/llms"

	"github.com/micktaiwan/eko/internal/agent"
	"github.com/micktaiwan/eko/internal/metrics"
	"github.com/micktaiwan/eko/internal/store"
	"github.com/micktaiwan/eko/internal/vector"
)

// State is the scheduler's activity.
type State string

const (
	StateIdle      State = "idle"
	StateObserving State = "observing"
	StateThinking  State = "thinking"
)

// StateEvent is published on every transition.
type StateEvent struct {
	State State                  `json:"state"`
	At    time.Time              `json:"at"`
	Entry *store.ReflectionEntry `json:"entry,omitempty"` // set when returning to idle after a run
}

// Vectors is what the scheduler needs from the vector client.
type Vectors interface {
	Search(ctx context.Context, collection string, q vector.Query) ([]vector.Point, error)
	Scroll(ctx context.Context, collection string, limit int) ([]vector.Point, error)
	Delete(ctx context.Context, collection, id string) error
}

// Rooms reads and posts room messages.
type Rooms interface {
	Post(ctx context.Context, roomID, author, content string) (*store.RoomMessage, error)
	Recent(ctx context.Context, roomID string, limit int) ([]*store.RoomMessage, error)
	Last(ctx context.Context, roomID string) (*store.RoomMessage, error)
}

// Collections names the vector collections read by a reflection.
type Collections struct {
	Facts string
	Self  string
	Goals string
}

// Config tunes the scheduler.
type Config struct {
	Enabled          bool
	Schedule         string
	LobbyRoomID      string
	AgentUserID      string
	MaxPerDay        int // zero means the default of 5
	Cooldown         time.Duration
	GoalRepeatWindow time.Duration
	HistorySize      int
	MaxTokens        int
	RecentMessages   int
	ContextLimit     int
	Collections      Collections
}

func (c *Config) setDefaults() {
	if c.Schedule == "" {
		c.Schedule = "0 */3 * * *"
	}
	if c.LobbyRoomID == "" {
		c.LobbyRoomID = "lobby"
	}
	if c.MaxPerDay <= 0 {
		c.MaxPerDay = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Minute
	}
	if c.GoalRepeatWindow <= 0 {
		c.GoalRepeatWindow = 30 * 24 * time.Hour
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 50
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 500
	}
	if c.RecentMessages <= 0 {
		c.RecentMessages = 20
	}
	if c.ContextLimit <= 0 {
		c.ContextLimit = 10
	}
}

// TriggerOptions adjust one run.
type TriggerOptions struct {
	Force           bool   // run even when disabled
	DryRun          bool   // decide but never post nor delete
	BypassRateLimit bool   // ignore cooldown and daily cap
	RoomID          string // defaults to the lobby
}

// Result is the outcome of a trigger.
type Result struct {
	Action      string                 `json:"action"`
	Reason      string                 `json:"reason"`
	Message     string                 `json:"message,omitempty"`
	GoalID      string                 `json:"goalId,omitempty"`
	RateLimited bool                   `json:"rateLimited"`
	DryRun      bool                   `json:"dryRun"`
	Skipped     bool                   `json:"skipped,omitempty"`
	Entry       *store.ReflectionEntry `json:"entry,omitempty"`
}

// Stats summarizes the reflection log.
type Stats struct {
	Enabled       bool       `json:"enabled"`
	State         State      `json:"state"`
	Schedule      string     `json:"schedule"`
	NextRun       *time.Time `json:"nextRun,omitempty"`
	TotalRuns     int64      `json:"totalRuns"`
	Passes        int64      `json:"passes"`
	Messages      int64      `json:"messages"`
	RateLimited   int64      `json:"rateLimited"`
	MessagesToday int        `json:"messagesToday"`
	MaxPerDay     int        `json:"maxPerDay"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	InputTokens   int64      `json:"inputTokens"`
	OutputTokens  int64      `json:"outputTokens"`
}

// Scheduler runs reflections.
type Scheduler struct {
	cfg     Config
	model   llms.Model
	vectors Vectors
	rooms   Rooms
	log     store.ReflectionStore
	usage   store.UsageStore
	logger  *slog.Logger
	now     func() time.Time
	events  *broadcaster

	runMu sync.Mutex // one reflection at a time

	mu      sync.Mutex
	enabled bool
	state   State
	history []*store.ReflectionEntry // newest first
	cron    *cron.Cron
	entryID cron.EntryID
}

// Deps are the scheduler's collaborators. Usage may be nil.
type Deps struct {
	Model   llms.Model
	Vectors Vectors
	Rooms   Rooms
	Log     store.ReflectionStore
	Usage   store.UsageStore
	Logger  *slog.Logger
}

// New creates a Scheduler. Call Start to arm the cron schedule.
func New(cfg Config, deps Deps) *Scheduler {
	cfg.setDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reflection")
	return &Scheduler{
		cfg:     cfg,
		model:   deps.Model,
		vectors: deps.Vectors,
		rooms:   deps.Rooms,
		log:     deps.Log,
		usage:   deps.Usage,
		logger:  logger,
		now:     time.Now,
		events:  newBroadcaster(logger),
		enabled: cfg.Enabled,
		state:   StateIdle,
	}
}

// Start seeds the history from the log and arms the cron schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	entries, err := s.log.ListReflections(ctx, s.cfg.HistorySize)
	if err != nil {
		return fmt.Errorf("seeding reflection history: %w", err)
	}

	c := cron.New()
	id, err := c.AddFunc(s.cfg.Schedule, func() {
		res := s.Trigger(ctx, TriggerOptions{})
		s.logger.Info("scheduled reflection finished", "action", res.Action, "reason", res.Reason, "skipped", res.Skipped)
	})
	if err != nil {
		return fmt.Errorf("reflection schedule %q: %w", s.cfg.Schedule, err)
	}

	s.mu.Lock()
	s.history = entries
	s.cron = c
	s.entryID = id
	s.mu.Unlock()

	c.Start()
	s.logger.Info("reflection scheduler started", "schedule", s.cfg.Schedule, "enabled", s.Enabled(), "history", len(entries))
	return nil
}

// Stop disarms the schedule, waits for a running job and closes
// subscriber channels.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	s.events.close()
}

// Enabled reports whether scheduled runs execute.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled toggles scheduled runs.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
	s.logger.Info("reflection enabled changed", "enabled", enabled)
}

// Subscribe streams state transitions until ctx ends.
func (s *Scheduler) Subscribe(ctx context.Context) <-chan StateEvent {
	return s.events.subscribe(ctx)
}

// State returns the current activity.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(st State, entry *store.ReflectionEntry) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.events.publish(StateEvent{State: st, At: s.now(), Entry: entry})
}

// History returns up to limit recent entries, newest first.
func (s *Scheduler) History(limit int) []*store.ReflectionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]*store.ReflectionEntry, limit)
	copy(out, s.history[:limit])
	return out
}

func (s *Scheduler) remember(e *store.ReflectionEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]*store.ReflectionEntry{e}, s.history...)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[:s.cfg.HistorySize]
	}
}

// Stats aggregates the reflection log.
func (s *Scheduler) Stats(ctx context.Context) (*Stats, error) {
	totals, err := s.log.ReflectionTotals(ctx)
	if err != nil {
		return nil, err
	}
	today, err := s.log.CountMessagesSince(ctx, startOfDay(s.now()))
	if err != nil {
		return nil, err
	}
	last, ok, err := s.log.LastMessageAt(ctx)
	if err != nil {
		return nil, err
	}

	st := &Stats{
		Enabled:       s.Enabled(),
		State:         s.State(),
		Schedule:      s.cfg.Schedule,
		TotalRuns:     totals.Runs,
		Passes:        totals.Passes,
		Messages:      totals.Messages,
		RateLimited:   totals.RateLimited,
		MessagesToday: today,
		MaxPerDay:     s.cfg.MaxPerDay,
		InputTokens:   totals.InputTokens,
		OutputTokens:  totals.OutputTokens,
	}
	if ok {
		st.LastMessageAt = &last
	}
	s.mu.Lock()
	if s.cron != nil {
		if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
			st.NextRun = &next
		}
	}
	s.mu.Unlock()
	return st, nil
}

// Trigger runs one reflection. It waits for a reflection already running.
func (s *Scheduler) Trigger(ctx context.Context, opts TriggerOptions) *Result {
	if !opts.Force && !s.Enabled() {
		return &Result{Action: store.ActionPass, Reason: "reflection disabled", Skipped: true, DryRun: opts.DryRun}
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()
	room := opts.RoomID
	if room == "" {
		room = s.cfg.LobbyRoomID
	}
	log := s.logger.With("room_id", room, "force", opts.Force, "dry_run", opts.DryRun)

	s.setState(StateObserving, nil)
	d, usage := s.decide(ctx, log, room)

	entry := &store.ReflectionEntry{
		RoomID:       room,
		Action:       d.Action,
		Reason:       d.Reason,
		Message:      d.Message,
		Tone:         d.Tone,
		GoalID:       d.GoalID,
		DryRun:       opts.DryRun,
		Forced:       opts.Force,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CreatedAt:    s.now().UTC(),
	}

	if entry.Action == store.ActionMessage && !opts.BypassRateLimit {
		if reason, limited := s.rateLimit(ctx); limited {
			log.Info("reflection rate limited", "reason", reason)
			entry.Action = store.ActionPass
			entry.RateLimited = true
			entry.Reason = reason
		}
	}

	if entry.Posted() {
		if _, err := s.rooms.Post(ctx, room, s.cfg.AgentUserID, entry.Message); err != nil {
			log.Error("posting reflection failed", "error", err)
			entry.Action = store.ActionPass
			entry.Reason = fmt.Sprintf("posting failed: %v", err)
		}
	}

	entry.DurationMs = time.Since(start).Milliseconds()
	if err := s.log.SaveReflection(ctx, entry); err != nil {
		log.Error("saving reflection failed", "error", err)
	}
	s.saveUsage(ctx, entry)

	// The goal is spent once posted, even if the delete fails.
	if entry.Posted() && entry.GoalID != "" {
		if err := s.vectors.Delete(ctx, s.cfg.Collections.Goals, entry.GoalID); err != nil {
			log.Warn("deleting surfaced goal failed", "goal_id", entry.GoalID, "error", err)
		}
	}

	s.remember(entry)
	metrics.ReflectionsTotal.WithLabelValues(entry.Action).Inc()
	s.setState(StateIdle, entry)
	log.Info("reflection finished",
		"action", entry.Action,
		"reason", entry.Reason,
		"goal_id", entry.GoalID,
		"rate_limited", entry.RateLimited,
		"duration_ms", entry.DurationMs,
	)

	return &Result{
		Action:      entry.Action,
		Reason:      entry.Reason,
		Message:     entry.Message,
		GoalID:      entry.GoalID,
		RateLimited: entry.RateLimited,
		DryRun:      entry.DryRun,
		Entry:       entry,
	}
}

func pass(reason string) Decision {
	return Decision{Action: store.ActionPass, Reason: reason}
}

// decide runs the observing and thinking phases.
func (s *Scheduler) decide(ctx context.Context, log *slog.Logger, room string) (Decision, agent.Usage) {
	if room == "" {
		return pass("no target room"), agent.Usage{}
	}

	last, err := s.rooms.Last(ctx, room)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return pass(fmt.Sprintf("reading room failed: %v", err)), agent.Usage{}
	case s.cfg.AgentUserID != "" && last.Author == s.cfg.AgentUserID:
		return pass("last message is mine, waiting for a human reply"), agent.Usage{}
	}

	goal, ok, err := s.nextGoal(ctx)
	if err != nil {
		return pass(fmt.Sprintf("loading goals failed: %v", err)), agent.Usage{}
	}
	if !ok {
		return pass("no goal left to surface"), agent.Usage{}
	}
	log = log.With("goal_id", goal.ID)

	recent, err := s.rooms.Recent(ctx, room, s.cfg.RecentMessages)
	if err != nil {
		log.Warn("recent messages unavailable", "error", err)
	}
	facts := s.related(ctx, log, s.cfg.Collections.Facts, goal.Payload.Content)
	self := s.related(ctx, log, s.cfg.Collections.Self, goal.Payload.Content)

	s.setState(StateThinking, nil)
	reply, usage, err := agent.Complete(ctx, s.model, systemPrompt, buildPrompt(goal, recent, facts, self), s.cfg.MaxTokens)
	if err != nil {
		log.Error("reflection model call failed", "error", err)
		d := pass(fmt.Sprintf("model call failed: %v", err))
		d.GoalID = goal.ID
		return d, usage
	}

	d := parseDecision(reply)
	d.GoalID = goal.ID
	return d, usage
}

// nextGoal returns the most recent goal not surfaced within the repeat
// window.
func (s *Scheduler) nextGoal(ctx context.Context) (vector.Point, bool, error) {
	goals, err := s.vectors.Scroll(ctx, s.cfg.Collections.Goals, 0)
	if err != nil {
		return vector.Point{}, false, err
	}
	used, err := s.log.MessageGoalIDsSince(ctx, s.now().Add(-s.cfg.GoalRepeatWindow))
	if err != nil {
		return vector.Point{}, false, err
	}
	skip := make(map[string]bool, len(used))
	for _, id := range used {
		skip[id] = true
	}

	var candidates []vector.Point
	for _, g := range goals {
		if !skip[g.ID] {
			candidates = append(candidates, g)
		}
	}
	if len(candidates) == 0 {
		return vector.Point{}, false, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Payload.Timestamp.After(candidates[j].Payload.Timestamp)
	})
	return candidates[0], true, nil
}

func (s *Scheduler) related(ctx context.Context, log *slog.Logger, collection, text string) []vector.Point {
	if collection == "" || text == "" {
		return nil
	}
	points, err := s.vectors.Search(ctx, collection, vector.Query{Text: text, Limit: s.cfg.ContextLimit})
	if err != nil {
		log.Warn("context search failed", "collection", collection, "error", err)
		return nil
	}
	return points
}

// rateLimit reports why a message may not be posted now.
func (s *Scheduler) rateLimit(ctx context.Context) (string, bool) {
	now := s.now()
	count, err := s.log.CountMessagesSince(ctx, startOfDay(now))
	if err != nil {
		return fmt.Sprintf("rate limit check failed: %v", err), true
	}
	if count >= s.cfg.MaxPerDay {
		return fmt.Sprintf("daily cap reached (%d/%d)", count, s.cfg.MaxPerDay), true
	}

	last, ok, err := s.log.LastMessageAt(ctx)
	if err != nil {
		return fmt.Sprintf("rate limit check failed: %v", err), true
	}
	if ok {
		if since := now.Sub(last); since < s.cfg.Cooldown {
			return fmt.Sprintf("cooldown: last message %s ago, minimum %s",
				since.Round(time.Minute), s.cfg.Cooldown), true
		}
	}
	return "", false
}

func (s *Scheduler) saveUsage(ctx context.Context, e *store.ReflectionEntry) {
	if s.usage == nil || (e.InputTokens == 0 && e.OutputTokens == 0) {
		return
	}
	err := s.usage.SaveUsage(ctx, &store.TokenUsage{
		RequestID:    e.ID,
		UserID:       s.cfg.AgentUserID,
		Source:       "reflection",
		InputTokens:  e.InputTokens,
		OutputTokens: e.OutputTokens,
	})
	if err != nil {
		s.logger.Warn("saving reflection usage failed", "error", err)
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
