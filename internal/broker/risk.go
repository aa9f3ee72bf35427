package broker

import (
	"encoding/json"
	"strings"
)

// approvalRisk flags file-change approvals whose request mentions or
// contains a delete/rename, requiring an explicit confirmation phrase
// before an accept decision takes effect. Command approvals are never
// flagged here; internal/audit's risk scoring covers command risk for the
// audit trail separately.
func approvalRisk(kind string, request json.RawMessage) (bool, []string, *string) {
	if kind != "file_change" {
		return false, nil, nil
	}
	var decoded map[string]any
	_ = json.Unmarshal(request, &decoded)

	var reasons []string
	if reasonSuggestsDeleteOrRename(decoded) {
		reasons = append(reasons, "reason mentions delete/rename")
	}
	if payloadContainsDeleteOrRename(decoded) {
		reasons = append(reasons, "payload indicates delete/rename")
	}
	if patchContainsDeleteOrRename(decoded) {
		reasons = append(reasons, "diff indicates delete/rename")
	}
	if len(reasons) == 0 {
		return false, nil, nil
	}
	phrase := "ALLOW_DELETE_OR_RENAME"
	return true, reasons, &phrase
}

func reasonSuggestsDeleteOrRename(request map[string]any) bool {
	reason, ok := request["reason"].(string)
	if !ok {
		return false
	}
	lower := strings.ToLower(reason)
	return strings.Contains(lower, "delete") || strings.Contains(lower, "remove") ||
		strings.Contains(lower, "rename") || strings.Contains(lower, "move")
}

func payloadContainsDeleteOrRename(request map[string]any) bool {
	for _, key := range []string{"fileChanges", "file_changes", "changes"} {
		value, ok := request[key]
		if !ok {
			continue
		}
		if matchDeleteOrRenameValue(value) {
			return true
		}
	}
	return false
}

func matchDeleteOrRenameValue(value any) bool {
	switch v := value.(type) {
	case string:
		lower := strings.ToLower(v)
		return strings.Contains(lower, "delete") || strings.Contains(lower, "removed") ||
			strings.Contains(lower, "rename") || strings.Contains(lower, "moved")
	case []any:
		for _, item := range v {
			if matchDeleteOrRenameValue(item) {
				return true
			}
		}
	case map[string]any:
		for _, item := range v {
			if matchDeleteOrRenameValue(item) {
				return true
			}
		}
	}
	return false
}

func patchContainsDeleteOrRename(request map[string]any) bool {
	raw, _ := request["diff"].(string)
	if raw == "" {
		raw, _ = request["patch"].(string)
	}
	lower := strings.ToLower(raw)
	return strings.Contains(lower, "deleted file mode") ||
		strings.Contains(lower, "rename from ") ||
		strings.Contains(lower, "rename to ") ||
		strings.Contains(lower, "\n--- /dev/null")
}

func confirmationText(evidence map[string]any) string {
	if evidence == nil {
		return ""
	}
	for _, key := range []string{"confirmation", "confirmationText"} {
		if v, ok := evidence[key].(string); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// normalizeEvidence merges the caller-supplied evidence with the pending
// approval's own risk metadata, so the audit trail records why a
// confirmation was required even if the caller didn't echo it back.
func normalizeEvidence(evidence map[string]any, pending PendingApproval) map[string]any {
	out := map[string]any{}
	for k, v := range evidence {
		out[k] = v
	}
	out["highRisk"] = pending.HighRisk
	if len(pending.RiskReasons) > 0 {
		out["riskReasons"] = pending.RiskReasons
	}
	if pending.ConfirmationPhrase != nil {
		out["requiredConfirmation"] = *pending.ConfirmationPhrase
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
