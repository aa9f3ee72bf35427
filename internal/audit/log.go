package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/advatar/clawdex-sub000/internal/clock"
	"github.com/advatar/clawdex-sub000/internal/jsonfile"
)

const dirName = "audit"

// Dir returns the audit directory under stateDir.
func Dir(stateDir string) string {
	return filepath.Join(stateDir, dirName)
}

func logPath(dir, runID string) string {
	return filepath.Join(dir, runID+".jsonl")
}

// baseEntry is Entry minus Hash: the hash is computed over exactly this
// shape, then appended as the final field, matching the original's
// build-then-stamp two-step.
type baseEntry struct {
	ID           string          `json:"id"`
	RunID        string          `json:"runId"`
	Ts           int64           `json:"tsMs"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	ActionIntent *ActionIntent   `json:"actionIntent,omitempty"`
	PrevHash     *string         `json:"prevHash,omitempty"`
}

// AppendEvent records a task engine event, annotating tool-call-progress
// messages with a low-risk action intent.
func AppendEvent(dir, runID, eventID, eventKind string, payload json.RawMessage) error {
	wrapped, err := json.Marshal(struct {
		EventID   string          `json:"eventId"`
		EventKind string          `json:"eventKind"`
		Payload   json.RawMessage `json:"payload"`
	}{EventID: eventID, EventKind: eventKind, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	intent := actionIntentForEvent(eventKind, payload)
	return appendEntry(dir, runID, KindEvent, wrapped, intent)
}

// AppendApproval records an approval request/decision.
func AppendApproval(dir, runID, kind string, request json.RawMessage, decision *string) error {
	wrapped, err := json.Marshal(struct {
		Kind     string          `json:"kind"`
		Request  json.RawMessage `json:"request"`
		Decision *string         `json:"decision,omitempty"`
	}{Kind: kind, Request: request, Decision: decision})
	if err != nil {
		return fmt.Errorf("encode approval payload: %w", err)
	}
	intent := actionIntentForApproval(kind, request)
	return appendEntry(dir, runID, KindApproval, wrapped, intent)
}

// AppendArtifact records an artifact reference. No risk intent: producing
// an artifact carries no checkpoint-worthy risk by itself.
func AppendArtifact(dir, runID, path string, mime, sha256Hex *string) error {
	wrapped, err := json.Marshal(struct {
		Path   string  `json:"path"`
		Mime   *string `json:"mime,omitempty"`
		SHA256 *string `json:"sha256,omitempty"`
	}{Path: path, Mime: mime, SHA256: sha256Hex})
	if err != nil {
		return fmt.Errorf("encode artifact payload: %w", err)
	}
	return appendEntry(dir, runID, KindArtifact, wrapped, nil)
}

// AppendToolCall records a tool invocation, risk-scored by tool name.
func AppendToolCall(dir, runID, tool string, arguments json.RawMessage) error {
	wrapped, err := json.Marshal(struct {
		Tool      string          `json:"tool"`
		Arguments json.RawMessage `json:"arguments"`
	}{Tool: tool, Arguments: arguments})
	if err != nil {
		return fmt.Errorf("encode tool call payload: %w", err)
	}
	intent := actionIntentForToolCall(tool)
	return appendEntry(dir, runID, KindToolCall, wrapped, intent)
}

// ReadLog returns up to limit entries (0 = all) for a run, oldest first.
func ReadLog(dir, runID string, limit int) ([]Entry, error) {
	raw, err := jsonfile.ReadLines(logPath(dir, runID), limit)
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	out := make([]Entry, 0, len(raw))
	for _, line := range raw {
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func appendEntry(dir, runID, kind string, payload json.RawMessage, intent *ActionIntent) error {
	path := logPath(dir, runID)
	prevHash, err := readLastHash(path)
	if err != nil {
		return err
	}

	base := baseEntry{
		ID:           clock.NewID(),
		RunID:        runID,
		Ts:           clock.NowMillis(),
		Kind:         kind,
		Payload:      payload,
		ActionIntent: intent,
		PrevHash:     prevHash,
	}
	hash, err := computeHash(base)
	if err != nil {
		return err
	}

	entry := Entry{
		ID:           base.ID,
		RunID:        base.RunID,
		Ts:           base.Ts,
		Kind:         base.Kind,
		Payload:      base.Payload,
		ActionIntent: base.ActionIntent,
		PrevHash:     base.PrevHash,
		Hash:         hash,
	}
	return jsonfile.AppendLine(path, entry)
}

func readLastHash(path string) (*string, error) {
	lines, err := jsonfile.ReadLines(path, 1)
	if err != nil {
		return nil, fmt.Errorf("read last audit entry: %w", err)
	}
	if len(lines) == 0 {
		return nil, nil
	}
	var last struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(lines[len(lines)-1], &last); err != nil {
		return nil, fmt.Errorf("decode last audit entry: %w", err)
	}
	if last.Hash == "" {
		return nil, nil
	}
	return &last.Hash, nil
}

func computeHash(base baseEntry) (string, error) {
	data, err := json.Marshal(base)
	if err != nil {
		return "", fmt.Errorf("serialize audit entry: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
