package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/advatar/clawdex-sub000/internal/jsonfile"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFileStore(filepath.Join(dir, "tasks.json"), filepath.Join(dir, "task_events"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return fs
}

func TestFileStoreTaskCRUD(t *testing.T) {
	ctx := context.Background()
	fs := newTestFileStore(t)

	task, err := fs.CreateTask(ctx, "nightly digest")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.ID == "" || task.CreatedAt == 0 {
		t.Fatalf("expected populated id/createdAt, got %+v", task)
	}

	got, ok, err := fs.GetTask(ctx, task.ID)
	if err != nil || !ok {
		t.Fatalf("GetTask: ok=%v err=%v", ok, err)
	}
	if got.Title != "nightly digest" {
		t.Fatalf("expected title to round-trip, got %q", got.Title)
	}

	byTitle, ok, err := fs.FindTaskByTitle(ctx, "nightly digest")
	if err != nil || !ok || byTitle.ID != task.ID {
		t.Fatalf("FindTaskByTitle mismatch: %+v ok=%v err=%v", byTitle, ok, err)
	}

	if err := fs.TouchTaskLastRun(ctx, task.ID, 42); err != nil {
		t.Fatalf("TouchTaskLastRun: %v", err)
	}
	got, _, _ = fs.GetTask(ctx, task.ID)
	if got.LastRunAt == nil || *got.LastRunAt != 42 {
		t.Fatalf("expected LastRunAt=42, got %+v", got.LastRunAt)
	}

	if err := fs.TouchTaskLastRun(ctx, "missing", 1); err == nil {
		t.Fatalf("expected error touching missing task")
	}

	tasks, err := fs.ListTasks(ctx)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("ListTasks: %+v err=%v", tasks, err)
	}
}

func TestFileStoreRunStatusIsMonotoneOnceTerminal(t *testing.T) {
	ctx := context.Background()
	fs := newTestFileStore(t)

	task, _ := fs.CreateTask(ctx, "t")
	run, err := fs.CreateRun(ctx, Run{TaskID: task.ID, Status: RunStatusRunning})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	endedAt := int64(100)
	if err := fs.UpdateRunStatus(ctx, run.ID, RunStatusCompleted, &endedAt); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}
	got, _, _ := fs.GetRun(ctx, run.ID)
	if got.Status != RunStatusCompleted || got.EndedAt == nil || *got.EndedAt != 100 {
		t.Fatalf("expected completed run, got %+v", got)
	}

	// A further status write must be ignored: terminal status is monotone.
	laterEnd := int64(200)
	if err := fs.UpdateRunStatus(ctx, run.ID, RunStatusFailed, &laterEnd); err != nil {
		t.Fatalf("UpdateRunStatus after terminal: %v", err)
	}
	got, _, _ = fs.GetRun(ctx, run.ID)
	if got.Status != RunStatusCompleted || *got.EndedAt != 100 {
		t.Fatalf("expected status to remain completed/100, got %+v", got)
	}

	if err := fs.UpdateRunStatus(ctx, "missing", RunStatusFailed, nil); err == nil {
		t.Fatalf("expected error updating missing run")
	}
}

func TestFileStoreSetRunThread(t *testing.T) {
	ctx := context.Background()
	fs := newTestFileStore(t)
	task, _ := fs.CreateTask(ctx, "t")
	run, _ := fs.CreateRun(ctx, Run{TaskID: task.ID, Status: RunStatusRunning})

	if err := fs.SetRunThread(ctx, run.ID, "thread-123"); err != nil {
		t.Fatalf("SetRunThread: %v", err)
	}
	got, _, _ := fs.GetRun(ctx, run.ID)
	if got.ThreadID == nil || *got.ThreadID != "thread-123" {
		t.Fatalf("expected thread id to be set, got %+v", got.ThreadID)
	}
}

func TestFileStoreEventOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	fs := newTestFileStore(t)
	task, _ := fs.CreateTask(ctx, "t")
	run, _ := fs.CreateRun(ctx, Run{TaskID: task.ID, Status: RunStatusRunning})

	for i := 0; i < 5; i++ {
		if _, err := fs.RecordEvent(ctx, run.ID, "tick", map[string]int{"n": i}); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}
	// unrelated run's events must not leak into the listing.
	other, _ := fs.CreateRun(ctx, Run{TaskID: task.ID, Status: RunStatusRunning})
	if _, err := fs.RecordEvent(ctx, other.ID, "tick", map[string]int{"n": 99}); err != nil {
		t.Fatalf("RecordEvent other: %v", err)
	}

	all, err := fs.ListEventsAfter(ctx, run.ID, 0, 0)
	if err != nil || len(all) != 5 {
		t.Fatalf("expected 5 events, got %d err=%v", len(all), err)
	}
	for i := 1; i < len(all); i++ {
		if all[i].Ts < all[i-1].Ts {
			t.Fatalf("events not ordered by ts: %+v", all)
		}
	}

	limited, err := fs.ListEventsAfter(ctx, run.ID, 0, 2)
	if err != nil || len(limited) != 2 {
		t.Fatalf("expected 2 events with limit, got %d err=%v", len(limited), err)
	}

	// per-run journal mirror should also exist on disk.
	journalPath := filepath.Join(fs.eventsDir, run.ID+".jsonl")
	lines, err := readJournalLines(t, journalPath)
	if err != nil {
		t.Fatalf("reading journal: %v", err)
	}
	if lines != 5 {
		t.Fatalf("expected 5 mirrored journal lines, got %d", lines)
	}
}

func TestFileStoreApprovalLifecycle(t *testing.T) {
	ctx := context.Background()
	fs := newTestFileStore(t)
	task, _ := fs.CreateTask(ctx, "t")
	run, _ := fs.CreateRun(ctx, Run{TaskID: task.ID, Status: RunStatusRunning})

	approval, err := fs.RecordApproval(ctx, run.ID, ApprovalKindCommand, map[string]string{"cmd": "rm -rf /"}, nil)
	if err != nil {
		t.Fatalf("RecordApproval: %v", err)
	}
	if approval.Decision != nil {
		t.Fatalf("expected no decision yet, got %+v", approval.Decision)
	}

	if err := fs.DecideApproval(ctx, approval.ID, "declined", 555); err != nil {
		t.Fatalf("DecideApproval: %v", err)
	}

	if err := fs.DecideApproval(ctx, "missing", "approved", 1); err == nil {
		t.Fatalf("expected error deciding missing approval")
	}
}

func TestFileStoreArtifacts(t *testing.T) {
	ctx := context.Background()
	fs := newTestFileStore(t)
	task, _ := fs.CreateTask(ctx, "t")
	run, _ := fs.CreateRun(ctx, Run{TaskID: task.ID, Status: RunStatusRunning})
	other, _ := fs.CreateRun(ctx, Run{TaskID: task.ID, Status: RunStatusRunning})

	mime := "text/plain"
	if _, err := fs.RecordArtifact(ctx, run.ID, "out.txt", &mime, nil); err != nil {
		t.Fatalf("RecordArtifact: %v", err)
	}
	if _, err := fs.RecordArtifact(ctx, other.ID, "other.txt", nil, nil); err != nil {
		t.Fatalf("RecordArtifact other: %v", err)
	}

	artifacts, err := fs.ListArtifacts(ctx, run.ID)
	if err != nil || len(artifacts) != 1 || artifacts[0].RelativePath != "out.txt" {
		t.Fatalf("expected 1 artifact for run, got %+v err=%v", artifacts, err)
	}
}

func TestFileStorePersistsAcrossReload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	eventsDir := filepath.Join(dir, "task_events")

	fs, err := NewFileStore(path, eventsDir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	task, err := fs.CreateTask(ctx, "persisted")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	reloaded, err := NewFileStore(path, eventsDir)
	if err != nil {
		t.Fatalf("reload NewFileStore: %v", err)
	}
	got, ok, err := reloaded.GetTask(ctx, task.ID)
	if err != nil || !ok || got.Title != "persisted" {
		t.Fatalf("expected task to survive reload, got %+v ok=%v err=%v", got, ok, err)
	}
}

func readJournalLines(t *testing.T, path string) (int, error) {
	t.Helper()
	lines, err := jsonfile.ReadLines(path, 0)
	return len(lines), err
}
