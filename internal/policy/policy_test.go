package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveReadOnlyCollapsesToLabel(t *testing.T) {
	sp, err := Resolve(WorkspacePolicy{ReadOnly: true, AllowedRoots: []string{"/tmp/x"}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sp.Label != "read-only" {
		t.Fatalf("expected read-only label, got %q", sp.Label)
	}
	if len(sp.WritableRoots) != 0 {
		t.Fatalf("expected no writable roots for read-only policy")
	}
}

func TestResolveWorkspaceWriteCarriesRootsAndNetwork(t *testing.T) {
	sp, err := Resolve(WorkspacePolicy{AllowedRoots: []string{"."}, NetworkAccess: true})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sp.Label != "workspace-write" {
		t.Fatalf("expected workspace-write label, got %q", sp.Label)
	}
	if !sp.NetworkAccess {
		t.Fatalf("expected network access true")
	}
	if len(sp.WritableRoots) != 1 {
		t.Fatalf("expected one writable root, got %v", sp.WritableRoots)
	}
}

func TestResolveWorkspacePathRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	_, err := ResolveWorkspacePath(dir, "../../etc/passwd")
	if err == nil {
		t.Fatalf("expected escape to be rejected")
	}
	var escapeErr *ErrPathOutsideWorkspace
	if !asEscapeErr(err, &escapeErr) {
		t.Fatalf("expected ErrPathOutsideWorkspace, got %T: %v", err, err)
	}
}

func TestResolveWorkspacePathAcceptsInsidePath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	resolved, err := ResolveWorkspacePath(dir, "a.txt")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if filepath.Base(resolved) != "a.txt" {
		t.Fatalf("expected resolved path to end in a.txt, got %q", resolved)
	}
}

func asEscapeErr(err error, target **ErrPathOutsideWorkspace) bool {
	e, ok := err.(*ErrPathOutsideWorkspace)
	if ok {
		*target = e
	}
	return ok
}

func TestPathsLayout(t *testing.T) {
	p := Paths{StateDir: "/state"}
	if p.TasksFile() != filepath.Join("/state", "tasks.json") {
		t.Fatalf("unexpected tasks file: %s", p.TasksFile())
	}
	if p.CronJobsFile() != filepath.Join("/state", "cron", "jobs.json") {
		t.Fatalf("unexpected cron jobs file: %s", p.CronJobsFile())
	}
	if p.AuditDir() != filepath.Join("/state", "audit") {
		t.Fatalf("unexpected audit dir: %s", p.AuditDir())
	}
}
