// ABOUTME: Token usage extraction from provider-specific generation info.
// ABOUTME: Accepts the key spellings and number types providers report

package agent

// UsageFrom reads token counts from a langchaingo GenerationInfo map.
// Anthropic reports InputTokens/OutputTokens, OpenAI PromptTokens/
// CompletionTokens.
func UsageFrom(info map[string]any) Usage {
	return Usage{
		InputTokens:  firstInt(info, "InputTokens", "PromptTokens", "input_tokens", "prompt_tokens"),
		OutputTokens: firstInt(info, "OutputTokens", "CompletionTokens", "output_tokens", "completion_tokens"),
	}
}

func firstInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		v, ok := info[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			return n
		case int32:
			return int(n)
		case int64:
			return int(n)
		case float64:
			return int(n)
		case float32:
			return int(n)
		}
	}
	return 0
}
