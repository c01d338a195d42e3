// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	// fenceRegex matches markdown fence markers, with or without a json tag.
	// \x60 is a backtick; raw strings cannot contain one.
	fenceRegex = regexp.MustCompile("\x60\x60\x60(?:json)?")
)

// ExtractJSONObject strips markdown fences from a model response and returns
// the text between the first '{' and the last '}'. When the text holds no such
// pair it is returned verbatim (after fence removal) and left for the decoder
// to reject.
func ExtractJSONObject(response string) string {
	cleaned := strings.TrimSpace(fenceRegex.ReplaceAllString(response, ""))
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start != -1 && end != -1 && start < end {
		return cleaned[start : end+1]
	}
	return cleaned
}

// DecodeObject extracts and decodes a single JSON object from a model
// response.
func DecodeObject(response string) (map[string]any, error) {
	return ParseJSONResponse[map[string]any](response)
}

// ParseJSONResponse extracts the JSON object from an LLM response and
// unmarshals it into T.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T
	payload := ExtractJSONObject(response)
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, Truncate(payload, 500))
	}
	return result, nil
}

// Truncate shortens s to maxLen bytes, marking the cut with an ellipsis.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
