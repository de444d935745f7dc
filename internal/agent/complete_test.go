// ABOUTME: Tests for single-shot completion and JSON extraction
// ABOUTME: Covers fenced replies, surrounding prose and usage parsing

package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func TestComplete(t *testing.T) {
	model := &scriptedModel{replies: []*llms.ContentChoice{{
		Content:        `{"action":"pass"}`,
		GenerationInfo: map[string]any{"PromptTokens": 7, "CompletionTokens": 2},
	}}}

	text, usage, err := Complete(context.Background(), model, "sys", "decide", 100)
	require.NoError(t, err)
	assert.Equal(t, `{"action":"pass"}`, text)
	assert.Equal(t, Usage{InputTokens: 7, OutputTokens: 2}, usage)
	require.Len(t, model.calls[0], 2)
}

func TestExtractJSON(t *testing.T) {
	type decision struct {
		Action string `json:"action"`
	}
	cases := map[string]string{
		"bare":   `{"action":"message"}`,
		"fenced": "```json\n{\"action\":\"message\"}\n```",
		"prose":  "Sure, here it is: {\"action\":\"message\"} hope that helps",
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			var d decision
			require.NoError(t, ExtractJSON(reply, &d))
			assert.Equal(t, "message", d.Action)
		})
	}

	var d decision
	assert.ErrorIs(t, ExtractJSON("nothing here", &d), ErrNoJSON)
	assert.Error(t, ExtractJSON("{not json}", &d))
}

func TestUsageFromFloat(t *testing.T) {
	u := UsageFrom(map[string]any{"input_tokens": float64(5), "output_tokens": int64(1)})
	assert.Equal(t, Usage{InputTokens: 5, OutputTokens: 1}, u)
}
