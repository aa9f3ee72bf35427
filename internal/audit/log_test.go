package audit

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestAppendEventChainsHashes(t *testing.T) {
	dir := t.TempDir()
	runID := "run-1"

	if err := AppendEvent(dir, runID, "evt-1", "turn_started", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := AppendEvent(dir, runID, "evt-2", "turn_completed", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	entries, err := ReadLog(dir, runID, 0)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].PrevHash != nil {
		t.Fatalf("expected first entry to have no prevHash, got %v", entries[0].PrevHash)
	}
	if entries[0].Hash == "" {
		t.Fatalf("expected first entry to carry a hash")
	}
	if entries[1].PrevHash == nil || *entries[1].PrevHash != entries[0].Hash {
		t.Fatalf("expected second entry's prevHash to chain to first entry's hash, got %+v", entries[1].PrevHash)
	}
}

func TestAppendEventToolCallProgressGetsLowRiskIntent(t *testing.T) {
	dir := t.TempDir()
	runID := "run-progress"
	payload := json.RawMessage(`{"payload":{"message":"reading file.go"}}`)
	if err := AppendEvent(dir, runID, "evt-1", "mcp_tool_call_progress", payload); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	entries, err := ReadLog(dir, runID, 0)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	if entries[0].ActionIntent == nil || entries[0].ActionIntent.Risk.Level != RiskLow {
		t.Fatalf("expected low-risk action intent, got %+v", entries[0].ActionIntent)
	}
}

func TestAppendApprovalRiskClassification(t *testing.T) {
	dir := t.TempDir()
	runID := "run-2"
	request := json.RawMessage(`{"command":"sudo rm -rf /tmp/build"}`)
	if err := AppendApproval(dir, runID, "command", request, nil); err != nil {
		t.Fatalf("AppendApproval: %v", err)
	}
	entries, _ := ReadLog(dir, runID, 0)
	intent := entries[0].ActionIntent
	if intent == nil || intent.Risk.Level != RiskHigh {
		t.Fatalf("expected high risk for destructive command, got %+v", intent)
	}
	if intent.Risk.Checkpoint == nil || *intent.Risk.Checkpoint != CheckpointExplicitApproval {
		t.Fatalf("expected explicit_approval checkpoint, got %+v", intent.Risk.Checkpoint)
	}
}

func TestAppendApprovalFileChangeSensitivePath(t *testing.T) {
	dir := t.TempDir()
	runID := "run-3"
	request := json.RawMessage(`{"diff":"+added line\n-removed line","paths":[".env"]}`)
	if err := AppendApproval(dir, runID, "file_change", request, nil); err != nil {
		t.Fatalf("AppendApproval: %v", err)
	}
	entries, _ := ReadLog(dir, runID, 0)
	intent := entries[0].ActionIntent
	if intent == nil || intent.Risk.Level != RiskHigh {
		t.Fatalf("expected high risk for deletion + sensitive path, got %+v", intent)
	}
	if len(intent.Risk.Reasons) != 2 {
		t.Fatalf("expected both deletion and sensitive-path reasons, got %+v", intent.Risk.Reasons)
	}
}

func TestAppendArtifactHasNoActionIntent(t *testing.T) {
	dir := t.TempDir()
	runID := "run-4"
	mime := "text/plain"
	if err := AppendArtifact(dir, runID, "out.txt", &mime, nil); err != nil {
		t.Fatalf("AppendArtifact: %v", err)
	}
	entries, _ := ReadLog(dir, runID, 0)
	if entries[0].ActionIntent != nil {
		t.Fatalf("expected no action intent for artifact entry, got %+v", entries[0].ActionIntent)
	}
}

func TestAppendToolCallMessageSendIsMediumRisk(t *testing.T) {
	dir := t.TempDir()
	runID := "run-5"
	if err := AppendToolCall(dir, runID, "message.send", json.RawMessage(`{"to":"ops"}`)); err != nil {
		t.Fatalf("AppendToolCall: %v", err)
	}
	entries, _ := ReadLog(dir, runID, 0)
	if entries[0].ActionIntent.Risk.Level != RiskMedium {
		t.Fatalf("expected medium risk for message.send, got %+v", entries[0].ActionIntent.Risk)
	}
}

func TestReadLogRespectsLimitAndSeparatesRuns(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		if err := AppendArtifact(dir, "run-a", "f.txt", nil, nil); err != nil {
			t.Fatalf("AppendArtifact: %v", err)
		}
	}
	if err := AppendArtifact(dir, "run-b", "other.txt", nil, nil); err != nil {
		t.Fatalf("AppendArtifact: %v", err)
	}

	a, err := ReadLog(dir, "run-a", 2)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	if len(a) != 2 {
		t.Fatalf("expected 2 entries with limit, got %d", len(a))
	}

	b, err := ReadLog(dir, "run-b", 0)
	if err != nil || len(b) != 1 {
		t.Fatalf("expected 1 entry for run-b, got %d err=%v", len(b), err)
	}

	if filepath.Join(dir, "run-a.jsonl") == filepath.Join(dir, "run-b.jsonl") {
		t.Fatalf("expected distinct per-run log files")
	}
}

func TestResolveRunIDFromArgs(t *testing.T) {
	id, ok := ResolveRunIDFromArgs(json.RawMessage(`{"taskRunId":"abc"}`))
	if !ok || id != "abc" {
		t.Fatalf("expected taskRunId to resolve, got %q ok=%v", id, ok)
	}
	id, ok = ResolveRunIDFromArgs(json.RawMessage(`{"task_run_id":"  "}`))
	if ok {
		t.Fatalf("expected blank task_run_id to be rejected, got %q", id)
	}
	_, ok = ResolveRunIDFromArgs(json.RawMessage(`{}`))
	if ok {
		t.Fatalf("expected missing key to resolve false")
	}
}
