package taskengine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/advatar/clawdex-sub000/internal/daemonconfig"
	"github.com/advatar/clawdex-sub000/internal/policy"
	"github.com/advatar/clawdex-sub000/internal/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	fs, err := store.NewFileStore(filepath.Join(dir, "tasks.json"), filepath.Join(dir, "events"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	paths := policy.Paths{StateDir: dir, WorkspaceDir: dir}
	return New(daemonconfig.Config{}, paths, fs)
}

func TestPrepareRunCreatesTaskAndRun(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	prepared, err := e.PrepareRun(ctx, TaskRunOptions{Title: "nightly digest", Prompt: "summarize"})
	if err != nil {
		t.Fatalf("PrepareRun: %v", err)
	}
	if !prepared.Created {
		t.Fatal("expected task to be newly created")
	}
	if prepared.Run.Status != store.RunStatusRunning {
		t.Fatalf("expected running status, got %q", prepared.Run.Status)
	}
	if prepared.launch.kind != launchStart {
		t.Fatalf("expected launchStart, got %v", prepared.launch.kind)
	}

	task, ok, err := e.Store.GetTask(ctx, prepared.Task.ID)
	if err != nil || !ok {
		t.Fatalf("expected task persisted, ok=%v err=%v", ok, err)
	}
	if task.Title != "nightly digest" {
		t.Fatalf("expected matching title, got %q", task.Title)
	}
}

func TestPrepareRunReusesExistingTaskByTitle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, err := e.PrepareRun(ctx, TaskRunOptions{Title: "digest", Prompt: "one"})
	if err != nil {
		t.Fatalf("PrepareRun: %v", err)
	}
	second, err := e.PrepareRun(ctx, TaskRunOptions{Title: "digest", Prompt: "two"})
	if err != nil {
		t.Fatalf("PrepareRun: %v", err)
	}
	if second.Created {
		t.Fatal("expected second prepare to reuse the existing task")
	}
	if first.Task.ID != second.Task.ID {
		t.Fatalf("expected same task id, got %q vs %q", first.Task.ID, second.Task.ID)
	}
	if first.Run.ID == second.Run.ID {
		t.Fatal("expected distinct run ids")
	}
}

func TestPrepareRunRejectsMissingPrompt(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.PrepareRun(context.Background(), TaskRunOptions{Title: "x"}); err == nil {
		t.Fatal("expected error for missing prompt")
	}
}

func TestPrepareRunRejectsBothResumeAndFork(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.PrepareRun(context.Background(), TaskRunOptions{
		Prompt: "hi", ResumeFromRunID: "a", ForkFromRunID: "b",
	})
	if err == nil {
		t.Fatal("expected error when both resume and fork source run ids are set")
	}
}

func TestPrepareRunResumeRequiresSourceThreadID(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	task, err := e.Store.CreateTask(ctx, "t")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	run, err := e.Store.CreateRun(ctx, store.Run{TaskID: task.ID, Status: store.RunStatusCompleted})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	_, err = e.PrepareRun(ctx, TaskRunOptions{Prompt: "resume please", ResumeFromRunID: run.ID})
	if err == nil {
		t.Fatal("expected error resuming a run with no thread id")
	}
}

func TestPrepareRunResumeBuildsResumeLaunch(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	task, _ := e.Store.CreateTask(ctx, "t")
	sourceRun, _ := e.Store.CreateRun(ctx, store.Run{TaskID: task.ID, Status: store.RunStatusCompleted})
	if err := e.Store.SetRunThread(ctx, sourceRun.ID, "thread-123"); err != nil {
		t.Fatalf("SetRunThread: %v", err)
	}

	prepared, err := e.PrepareRun(ctx, TaskRunOptions{Prompt: "continue", ResumeFromRunID: sourceRun.ID})
	if err != nil {
		t.Fatalf("PrepareRun: %v", err)
	}
	if prepared.launch.kind != launchResume {
		t.Fatalf("expected launchResume, got %v", prepared.launch.kind)
	}
	if prepared.launch.sourceThreadID != "thread-123" {
		t.Fatalf("expected source thread id carried through, got %q", prepared.launch.sourceThreadID)
	}
	if prepared.Task.ID != task.ID {
		t.Fatalf("expected task resolved from source run, got %q", prepared.Task.ID)
	}
}

func TestPrepareRunRequiresTaskIDOrTitle(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.PrepareRun(context.Background(), TaskRunOptions{Prompt: "hi"}); err == nil {
		t.Fatal("expected error when neither task id nor title is given")
	}
}
