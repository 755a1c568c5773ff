package llm

import (
	"errors"
	"strings"
)

var errNoJSONObject = errors.New("no JSON object in model output")

// ExtractJSONObject pulls the outermost {...} out of a model reply, tolerating
// code fences and chatter around it.
func ExtractJSONObject(content string) ([]byte, error) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil, errNoJSONObject
	}
	return []byte(s[start : end+1]), nil
}
