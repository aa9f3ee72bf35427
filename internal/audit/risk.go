package audit

import (
	"encoding/json"
	"strings"

	"github.com/advatar/clawdex-sub000/internal/clock"
)

func checkpointFor(level string) *string {
	if level == RiskLow {
		return nil
	}
	cp := CheckpointExplicitApproval
	return &cp
}

func levelForScore(score float32) string {
	switch {
	case score >= 0.8:
		return RiskHigh
	case score >= 0.4:
		return RiskMedium
	default:
		return RiskLow
	}
}

func buildActionIntent(kind, summary string, targets []string, risk Risk) *ActionIntent {
	return &ActionIntent{
		ID:      clock.NewID(),
		Kind:    kind,
		Summary: summary,
		Targets: targets,
		Risk:    risk,
	}
}

func actionIntentForEvent(eventKind string, payload json.RawMessage) *ActionIntent {
	if eventKind != "mcp_tool_call_progress" {
		return nil
	}
	var wrapper struct {
		Payload struct {
			Message string `json:"message"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return nil
	}
	message := strings.TrimSpace(wrapper.Payload.Message)
	if message == "" {
		return nil
	}
	risk := Risk{Level: RiskLow, Score: 0.1, Reasons: []string{"tool call progress"}}
	return buildActionIntent("tool_call", "Tool call progress: "+message, []string{message}, risk)
}

func actionIntentForToolCall(tool string) *ActionIntent {
	risk := riskForTool(tool)
	return buildActionIntent("tool_call", "Tool call: "+tool, []string{tool}, risk)
}

func actionIntentForApproval(kind string, request json.RawMessage) *ActionIntent {
	switch kind {
	case "command":
		var req struct {
			Command string `json:"command"`
		}
		_ = json.Unmarshal(request, &req)
		command := strings.TrimSpace(req.Command)
		risk := riskForCommand(command)
		return buildActionIntent("command", "Run command: "+command, []string{command}, risk)
	case "file_change":
		var req struct {
			Diff  string   `json:"diff"`
			Paths []string `json:"paths"`
		}
		_ = json.Unmarshal(request, &req)
		targets := req.Paths
		if len(targets) == 0 {
			targets = []string{"workspace"}
		}
		risk := riskForFileChange(req.Diff, targets)
		return buildActionIntent("file_change", "File change approval", targets, risk)
	default:
		return nil
	}
}

func riskForTool(tool string) Risk {
	if strings.ToLower(tool) == "message.send" {
		return Risk{Level: RiskMedium, Score: 0.5, Reasons: []string{"external messaging"}, Checkpoint: checkpointFor(RiskMedium)}
	}
	return Risk{Level: RiskLow, Score: 0.2, Reasons: []string{"tool call"}}
}

var highRiskCommandTokens = []string{"rm -rf", "rm -r", "rm ", "sudo", "chmod", "chown", "kill", "dd "}
var mediumRiskCommandTokens = []string{"curl ", "wget ", "scp ", "ssh ", "git push", "npm publish", "pip install", "brew install"}

func riskForCommand(command string) Risk {
	cmd := strings.ToLower(command)
	score := float32(0.2)
	var reasons []string

	if containsAny(cmd, highRiskCommandTokens) {
		score = 0.9
		reasons = append(reasons, "destructive command")
	}
	if containsAny(cmd, mediumRiskCommandTokens) {
		score = maxFloat32(score, 0.6)
		reasons = append(reasons, "external network or install")
	}

	level := levelForScore(score)
	return Risk{Level: level, Score: score, Reasons: reasons, Checkpoint: checkpointFor(level)}
}

func riskForFileChange(diff string, targets []string) Risk {
	score := float32(0.4)
	var reasons []string

	if hasDeletionLine(diff) {
		score = 0.8
		reasons = append(reasons, "deletions detected")
	}
	for _, path := range targets {
		if strings.Contains(path, ".env") || strings.Contains(path, "secrets") {
			score = maxFloat32(score, 0.7)
			reasons = append(reasons, "sensitive paths")
			break
		}
	}

	level := levelForScore(score)
	return Risk{Level: level, Score: score, Reasons: reasons, Checkpoint: checkpointFor(level)}
}

func hasDeletionLine(diff string) bool {
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---") {
			return true
		}
	}
	return false
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func maxFloat32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
