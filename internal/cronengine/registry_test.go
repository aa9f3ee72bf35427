package cronengine

import (
	"path/filepath"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(filepath.Join(t.TempDir(), "cron"))
}

func TestRegistryAddAssignsIDAndTimestamps(t *testing.T) {
	r := newTestRegistry(t)
	job, err := r.Add(map[string]any{"title": "nightly digest", "prompt": "summarize"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	id, _ := stringField(job, "id")
	if id == "" {
		t.Fatal("expected id to be assigned")
	}
	if _, ok := job["createdAtMs"]; !ok {
		t.Fatal("expected createdAtMs to be set")
	}
	enabled, _ := boolField(job, "enabled")
	if !enabled {
		t.Fatal("expected enabled to default true")
	}
}

func TestRegistryListExcludesDisabledByDefault(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Add(map[string]any{"title": "a"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	disabled, err := r.Add(map[string]any{"title": "b", "enabled": false})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	enabledOnly, err := r.List(false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(enabledOnly) != 1 {
		t.Fatalf("expected 1 enabled job, got %d", len(enabledOnly))
	}

	all, err := r.List(true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 jobs total, got %d", len(all))
	}
	disabledID, _ := stringField(disabled, "id")
	if disabledID == "" {
		t.Fatal("expected disabled job to have an id")
	}
}

func TestRegistryUpdateMergesPatch(t *testing.T) {
	r := newTestRegistry(t)
	job, err := r.Add(map[string]any{"title": "a", "prompt": "one"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	id, _ := stringField(job, "id")

	updated, err := r.Update(id, map[string]any{"prompt": "two"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	prompt, _ := stringField(updated, "prompt")
	if prompt != "two" {
		t.Fatalf("expected patched prompt, got %q", prompt)
	}
	title, _ := stringField(updated, "title")
	if title != "a" {
		t.Fatalf("expected untouched title to survive, got %q", title)
	}
}

func TestRegistryUpdateUnknownIDReturnsNotFound(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Update("missing", map[string]any{"title": "x"}); err != ErrJobNotFound {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRegistryRemoveReportsWhetherJobExisted(t *testing.T) {
	r := newTestRegistry(t)
	job, err := r.Add(map[string]any{"title": "a"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	id, _ := stringField(job, "id")

	removed, err := r.Remove(id)
	if err != nil || !removed {
		t.Fatalf("expected removal to report true, err=%v", err)
	}
	removedAgain, err := r.Remove(id)
	if err != nil || removedAgain {
		t.Fatalf("expected second removal to report false, err=%v", err)
	}
}

func TestRegistryRunsRoundTrips(t *testing.T) {
	r := newTestRegistry(t)
	job, err := r.Add(map[string]any{"title": "a"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	id, _ := stringField(job, "id")

	if _, err := r.recordRun(id, RunResultCompleted, "executed", map[string]any{"summary": "ok"}); err != nil {
		t.Fatalf("recordRun: %v", err)
	}
	runs, err := r.Runs(id, 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != RunResultCompleted {
		t.Fatalf("expected one completed run entry, got %+v", runs)
	}
}
