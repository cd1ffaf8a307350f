package classify

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	codeBlockRe  = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")
	jsonObjectRe = regexp.MustCompile(`\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)
)

// ExtractFirstJSON pulls the first JSON object out of a model response.
// Fenced code blocks are tried first, then bare objects anywhere in the
// text. A top-level array yields its first object; models occasionally emit
// several objects back to back without brackets, so that shape is wrapped
// into an array before parsing.
func ExtractFirstJSON(text string) (map[string]any, error) {
	for _, m := range codeBlockRe.FindAllStringSubmatch(text, -1) {
		block := strings.TrimSpace(m[1])
		if block == "" {
			continue
		}
		if obj, ok := parseCandidate(block); ok {
			return obj, nil
		}
	}

	objects := jsonObjectRe.FindAllString(text, -1)
	if len(objects) > 1 {
		if obj, ok := parseCandidate("[" + strings.Join(objects, ",") + "]"); ok {
			return obj, nil
		}
	}
	if len(objects) >= 1 {
		if obj, ok := parseCandidate(objects[0]); ok {
			return obj, nil
		}
	}
	return nil, errors.New("no valid JSON found in the response")
}

func parseCandidate(s string) (map[string]any, bool) {
	// Several objects without array brackets: wrap and retry.
	if strings.HasPrefix(s, "{") && (strings.Contains(s, "},{") || strings.Contains(s, "},\n{")) {
		if obj, ok := decodeFirst("[" + s + "]"); ok {
			return obj, true
		}
	}
	return decodeFirst(s)
}

func decodeFirst(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err == nil {
		return obj, true
	}
	var arr []map[string]any
	if err := json.Unmarshal([]byte(s), &arr); err == nil && len(arr) > 0 {
		return arr[0], true
	}
	return nil, false
}
