package llm

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// decodeJSON pulls the JSON object out of a model reply, repairing it when the
// model produced something almost-but-not-quite valid.
func decodeJSON(reply string, v any) error {
	data := extractObject(reply)
	if data == "" {
		return errors.New("no JSON object in reply")
	}
	err := json.Unmarshal([]byte(data), v)
	if err == nil {
		return nil
	}
	var syn *json.SyntaxError
	if !errors.As(err, &syn) {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(data)
	if rerr != nil {
		return errors.Join(err, rerr)
	}
	return json.Unmarshal([]byte(fixed), v)
}

// extractObject strips code fences and prose around the outermost object.
func extractObject(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		if i := strings.IndexByte(rest, '\n'); i >= 0 {
			rest = rest[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(rest), "```")
	}
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	end := strings.LastIndexByte(s, '}')
	if end < start {
		// truncated reply; let the repair pass close it
		return s[start:]
	}
	return s[start : end+1]
}
