// ABOUTME: Single-shot completions without tools, plus JSON extraction
// ABOUTME: for replies that wrap the object in fences or prose.

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// ErrNoJSON is returned when a reply holds no JSON object.
var ErrNoJSON = errors.New("no json object in reply")

// Complete sends system and prompt to model once and returns the text.
func Complete(ctx context.Context, model llms.Model, system, prompt string, maxTokens int) (string, Usage, error) {
	var messages []llms.MessageContent
	if system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	var opts []llms.CallOption
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}

	resp, err := model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", Usage{}, fmt.Errorf("completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, errors.New("completion: model returned no choices")
	}
	c := resp.Choices[0]
	return c.Content, UsageFrom(c.GenerationInfo), nil
}

// ExtractJSON decodes the first JSON object found in reply into v.
func ExtractJSON(reply string, v any) error {
	s := strings.TrimSpace(reply)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			s = strings.TrimSpace(rest[:end])
		}
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("decode reply json: %w", err)
	}
	return nil
}
