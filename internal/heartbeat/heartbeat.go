// Package heartbeat drives the workspace's HEARTBEAT.md convention: a file
// an operator or a task can drop to signal the daemon should wake and pay
// attention. Grounded on clawdex/src/heartbeat.rs; the interval-driven
// calling loop lives in internal/daemon, not here.
package heartbeat

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/advatar/clawdex-sub000/internal/clock"
	"github.com/advatar/clawdex-sub000/internal/jsonfile"
)

const logFileName = "heartbeat.jsonl"

// Payload statuses.
const (
	StatusSkipped = "skipped"
	StatusQueued  = "queued"
)

// Payload is what a single heartbeat check concluded.
type Payload struct {
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Entry is one line appended to heartbeat.jsonl.
type Entry struct {
	TimestampMs int64   `json:"timestampMs"`
	Reason      string  `json:"reason"`
	Payload     Payload `json:"payload"`
}

// LogPath returns the heartbeat journal path under stateDir.
func LogPath(stateDir string) string {
	return filepath.Join(stateDir, logFileName)
}

func evaluate(workspaceDir, reason string) Payload {
	heartbeatPath := filepath.Join(workspaceDir, "HEARTBEAT.md")
	contents, err := os.ReadFile(heartbeatPath)
	if err != nil {
		return Payload{Status: StatusSkipped, Reason: "HEARTBEAT.md not found"}
	}
	if strings.TrimSpace(string(contents)) == "" {
		return Payload{Status: StatusSkipped, Reason: "HEARTBEAT.md empty", Message: "HEARTBEAT_OK"}
	}
	return Payload{Status: StatusQueued, Reason: reason}
}

// Wake evaluates HEARTBEAT.md against reason, appends the resulting entry
// to heartbeat.jsonl, and returns it. An empty reason defaults to "manual".
func Wake(stateDir, workspaceDir, reason string) (Entry, error) {
	if reason == "" {
		reason = "manual"
	}
	entry := Entry{
		TimestampMs: clock.NowMillis(),
		Reason:      reason,
		Payload:     evaluate(workspaceDir, reason),
	}
	if err := jsonfile.AppendLine(LogPath(stateDir), entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}
