package provider

import (
	"errors"

	"github.com/erg0nix/palaver/internal/core"
)

// Response holds the parsed response from a chat completion request.
type Response struct {
	Content string
	Usage   *core.Usage
}

func parseResponsePayload(payload map[string]any) (Response, error) {
	choices, ok := payload["choices"].([]any)
	if !ok || len(choices) == 0 {
		return Response{}, errors.New("no choices in response")
	}

	choice, ok := choices[0].(map[string]any)
	if !ok {
		return Response{}, errors.New("malformed choice in response")
	}

	message, ok := choice["message"].(map[string]any)
	if !ok {
		return Response{}, errors.New("malformed message in response")
	}

	content, ok := message["content"].(string)
	if !ok {
		return Response{}, errors.New("missing content in response")
	}

	return Response{
		Content: content,
		Usage:   parseUsage(payload),
	}, nil
}

func parseUsage(response map[string]any) *core.Usage {
	usageMap, ok := response["usage"].(map[string]any)
	if !ok {
		return nil
	}

	return &core.Usage{
		PromptTokens:     intFromAny(usageMap["prompt_tokens"]),
		CompletionTokens: intFromAny(usageMap["completion_tokens"]),
		TotalTokens:      intFromAny(usageMap["total_tokens"]),
	}
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}
