package heartbeat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/advatar/clawdex-sub000/internal/jsonfile"
)

func TestWakeSkipsWhenHeartbeatFileMissing(t *testing.T) {
	stateDir := t.TempDir()
	workspaceDir := t.TempDir()

	entry, err := Wake(stateDir, workspaceDir, "interval")
	if err != nil {
		t.Fatalf("Wake: %v", err)
	}
	if entry.Payload.Status != StatusSkipped || entry.Payload.Reason != "HEARTBEAT.md not found" {
		t.Fatalf("expected skipped/not-found payload, got %+v", entry.Payload)
	}
	if entry.Reason != "interval" {
		t.Fatalf("expected reason to round trip, got %q", entry.Reason)
	}
}

func TestWakeSkipsWhenHeartbeatFileEmpty(t *testing.T) {
	stateDir := t.TempDir()
	workspaceDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workspaceDir, "HEARTBEAT.md"), []byte("   \n"), 0o644); err != nil {
		t.Fatalf("write HEARTBEAT.md: %v", err)
	}

	entry, err := Wake(stateDir, workspaceDir, "")
	if err != nil {
		t.Fatalf("Wake: %v", err)
	}
	if entry.Payload.Status != StatusSkipped || entry.Payload.Message != "HEARTBEAT_OK" {
		t.Fatalf("expected skipped/empty payload, got %+v", entry.Payload)
	}
	if entry.Reason != "manual" {
		t.Fatalf("expected default reason manual, got %q", entry.Reason)
	}
}

func TestWakeQueuesWhenHeartbeatFileHasContent(t *testing.T) {
	stateDir := t.TempDir()
	workspaceDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workspaceDir, "HEARTBEAT.md"), []byte("check the deploy queue"), 0o644); err != nil {
		t.Fatalf("write HEARTBEAT.md: %v", err)
	}

	entry, err := Wake(stateDir, workspaceDir, "interval")
	if err != nil {
		t.Fatalf("Wake: %v", err)
	}
	if entry.Payload.Status != StatusQueued || entry.Payload.Reason != "interval" {
		t.Fatalf("expected queued payload, got %+v", entry.Payload)
	}
}

func TestWakeAppendsToJournal(t *testing.T) {
	stateDir := t.TempDir()
	workspaceDir := t.TempDir()

	if _, err := Wake(stateDir, workspaceDir, "a"); err != nil {
		t.Fatalf("Wake: %v", err)
	}
	if _, err := Wake(stateDir, workspaceDir, "b"); err != nil {
		t.Fatalf("Wake: %v", err)
	}

	lines, err := jsonfile.ReadLines(LogPath(stateDir), 0)
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 journal lines, got %d", len(lines))
	}
}
