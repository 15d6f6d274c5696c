package protocol

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"
)

// extractor pulls display text out of one known payload shape. Each one
// returns "" when its shape does not match.
type extractor func(raw []byte, obj map[string]interface{}) string

// textExtractors is the ordered shape-sniffing strategy. Order matters:
// the first non-empty match wins.
var textExtractors = []extractor{
	fieldExtractor("content"),
	fieldExtractor("text"),
	extractDelta,
	extractChoicesDelta,
	fieldExtractor("message"),
}

// ExtractText resolves the display text of a JSON payload by trying
// each known shape in priority order.
func ExtractText(raw []byte, obj map[string]interface{}) string {
	for _, ex := range textExtractors {
		if s := ex(raw, obj); s != "" {
			return s
		}
	}
	return ""
}

func fieldExtractor(key string) extractor {
	return func(_ []byte, obj map[string]interface{}) string {
		s, _ := obj[key].(string)
		return s
	}
}

// extractDelta handles {"delta": "..."} and {"delta": {"content"|"text": "..."}}.
func extractDelta(_ []byte, obj map[string]interface{}) string {
	switch d := obj["delta"].(type) {
	case string:
		return d
	case map[string]interface{}:
		if s, _ := d["content"].(string); s != "" {
			return s
		}
		s, _ := d["text"].(string)
		return s
	}
	return ""
}

// extractChoicesDelta handles the OpenAI/Claude-compatible chunk shape
// via the typed SDK struct rather than hand-walking the maps.
func extractChoicesDelta(raw []byte, _ map[string]interface{}) string {
	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return ""
	}
	if len(chunk.Choices) == 0 {
		return ""
	}
	return chunk.Choices[0].Delta.Content
}
