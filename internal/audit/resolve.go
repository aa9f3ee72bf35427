package audit

import (
	"encoding/json"
	"os"
	"strings"
)

// ResolveRunIDFromArgs looks for a non-blank taskRunId (or task_run_id) in a
// JSON-decoded argument map, as MCP tool-call handlers receive it.
func ResolveRunIDFromArgs(args json.RawMessage) (string, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(args, &m); err != nil {
		return "", false
	}
	for _, key := range []string{"taskRunId", "task_run_id"} {
		raw, ok := m[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

// ResolveRunIDFromEnv reads CLAWDEX_TASK_RUN_ID, the fallback used when a
// tool call's arguments don't carry the run id explicitly.
func ResolveRunIDFromEnv() (string, bool) {
	v := strings.TrimSpace(os.Getenv("CLAWDEX_TASK_RUN_ID"))
	if v == "" {
		return "", false
	}
	return v, true
}
