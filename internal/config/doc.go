// Package config handles configuration loading for eko.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. Every key is optional: absent keys keep the defaults returned by
// Default.
//
// # Configuration File
//
// Locations (in order):
//
//  1. The --config flag
//  2. Path from EKO_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/eko/eko.yaml (~/.config/eko/eko.yaml)
//
// A .env file next to the config file is loaded into the environment first,
// without overriding variables that are already set.
//
// # Environment Variable Expansion
//
//	llm:
//	  api_key: "${ANTHROPIC_API_KEY}"
//
// # Duration Parsing
//
// Durations use Go's time.ParseDuration syntax plus a whole-day unit:
//
//	reflection:
//	  cooldown: "30m"
//	  goal_repeat_window: "30d"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8420"
//	database:
//	  path: "~/.local/share/eko/eko.db"
//	llm:
//	  provider: "anthropic"        # anthropic, openai
//	  model: "claude-sonnet-4-5"
//	  reflection_model: ""         # defaults to model
//	  max_turns: 10
//	embedding:
//	  base_url: "https://api.openai.com/v1"
//	  model: "text-embedding-3-small"
//	  dimensions: 1536
//	vector:
//	  url: "http://127.0.0.1:6333"
//	  dedup_threshold: 0.85
//	  collections: {facts: facts, self: self, goals: goals, live: live}
//	dedup:
//	  redis_addr: ""               # set to share the dedup lock across instances
//	worker:
//	  ready_timeout: "30s"
//	  request_timeout: "2m"
//	sessions:
//	  idle_timeout: "15m"
//	  sweep_interval: "1m"
//	reflection:
//	  enabled: true
//	  schedule: "0 */3 * * *"
//	  lobby_room_id: "lobby"
//	  agent_user_id: "eko"
//	  max_per_day: 5
//	  cooldown: "30m"
//	  goal_repeat_window: "30d"
//	  history_size: 50
//	  max_tokens: 500
//	logging:
//	  level: "info"                # debug, info, warn, error
//	  format: "text"               # text, json
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// The reflection schedule is read once at startup.
package config
