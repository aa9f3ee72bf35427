package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/advatar/clawdex-sub000/internal/clock"
	"github.com/advatar/clawdex-sub000/internal/jsonfile"
)

// document is the whole-file shape of tasks.json.
type document struct {
	Tasks      []Task     `json:"tasks"`
	Runs       []Run      `json:"runs"`
	Events     []Event    `json:"events"`
	Approvals  []Approval `json:"approvals"`
	Artifacts  []Artifact `json:"artifacts"`
}

// FileStore is the default Store backend: a single JSON document rewritten
// whole under a process-wide mutex, with events additionally mirrored to a
// per-run JSONL journal under EventsDir. Grounded on clawdex/src/task_db.rs's
// schema and the teacher's graceful local-store-fallback idiom (see
// DESIGN.md's C1 entry).
type FileStore struct {
	path      string
	eventsDir string
	clock     clock.Clock
	bus       EventBus

	mu  sync.Mutex
	doc document
}

// SetEventBus wires the bus RecordEvent notifies after each append; nil (the
// default) disables notification and leaves ListEventsAfter polling as the
// only delivery path.
func (fs *FileStore) SetEventBus(bus EventBus) { fs.bus = bus }

// NewFileStore loads (or initializes) the JSON document at path.
func NewFileStore(path, eventsDir string) (*FileStore, error) {
	fs := &FileStore{path: path, eventsDir: eventsDir, clock: clock.Default}
	var doc document
	if _, err := jsonfile.ReadValue(path, &doc); err != nil {
		return nil, fmt.Errorf("load store %q: %w", path, err)
	}
	fs.doc = doc
	return fs, nil
}

func (fs *FileStore) save() error {
	return jsonfile.WriteValue(fs.path, fs.doc)
}

func (fs *FileStore) CreateTask(_ context.Context, title string) (Task, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	task := Task{ID: fs.clock.NewID(), Title: title, CreatedAt: fs.clock.NowMillis()}
	fs.doc.Tasks = append(fs.doc.Tasks, task)
	if err := fs.save(); err != nil {
		return Task{}, err
	}
	return task, nil
}

func (fs *FileStore) GetTask(_ context.Context, id string) (Task, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, t := range fs.doc.Tasks {
		if t.ID == id {
			return t, true, nil
		}
	}
	return Task{}, false, nil
}

func (fs *FileStore) FindTaskByTitle(_ context.Context, title string) (Task, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, t := range fs.doc.Tasks {
		if t.Title == title {
			return t, true, nil
		}
	}
	return Task{}, false, nil
}

func (fs *FileStore) ListTasks(_ context.Context) ([]Task, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]Task, len(fs.doc.Tasks))
	copy(out, fs.doc.Tasks)
	return out, nil
}

func (fs *FileStore) TouchTaskLastRun(_ context.Context, taskID string, ts int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for i := range fs.doc.Tasks {
		if fs.doc.Tasks[i].ID == taskID {
			fs.doc.Tasks[i].LastRunAt = &ts
			return fs.save()
		}
	}
	return fmt.Errorf("task %q not found", taskID)
}

func (fs *FileStore) CreateRun(_ context.Context, run Run) (Run, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if run.ID == "" {
		run.ID = fs.clock.NewID()
	}
	if run.StartedAt == 0 {
		run.StartedAt = fs.clock.NowMillis()
	}
	fs.doc.Runs = append(fs.doc.Runs, run)
	if err := fs.save(); err != nil {
		return Run{}, err
	}
	return run, nil
}

func (fs *FileStore) GetRun(_ context.Context, id string) (Run, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, r := range fs.doc.Runs {
		if r.ID == id {
			return r, true, nil
		}
	}
	return Run{}, false, nil
}

func (fs *FileStore) UpdateRunStatus(_ context.Context, id, status string, endedAt *int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for i := range fs.doc.Runs {
		if fs.doc.Runs[i].ID == id {
			// A run's status is monotone once terminal: do not rewrite it.
			if IsTerminalRunStatus(fs.doc.Runs[i].Status) {
				return nil
			}
			fs.doc.Runs[i].Status = status
			fs.doc.Runs[i].EndedAt = endedAt
			return fs.save()
		}
	}
	return fmt.Errorf("run %q not found", id)
}

func (fs *FileStore) SetRunThread(_ context.Context, id, threadID string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for i := range fs.doc.Runs {
		if fs.doc.Runs[i].ID == id {
			fs.doc.Runs[i].ThreadID = &threadID
			return fs.save()
		}
	}
	return fmt.Errorf("run %q not found", id)
}

// LatestRunForTask returns the most recently started run for taskID, used
// to resume a persistent session thread (daemon main/isolated sessions)
// instead of starting a fresh one on every inbound message or heartbeat.
func (fs *FileStore) LatestRunForTask(_ context.Context, taskID string) (Run, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var best Run
	found := false
	for _, r := range fs.doc.Runs {
		if r.TaskID != taskID {
			continue
		}
		if !found || r.StartedAt > best.StartedAt {
			best = r
			found = true
		}
	}
	return best, found, nil
}

func (fs *FileStore) RecordEvent(_ context.Context, runID, kind string, payload any) (Event, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode event payload: %w", err)
	}
	event := Event{
		ID:      fs.clock.NewID(),
		RunID:   runID,
		Ts:      fs.clock.NowMillis(),
		Kind:    kind,
		Payload: raw,
	}
	fs.doc.Events = append(fs.doc.Events, event)
	if err := fs.save(); err != nil {
		return Event{}, err
	}
	if err := jsonfile.AppendLine(filepath.Join(fs.eventsDir, runID+".jsonl"), event); err != nil {
		return Event{}, fmt.Errorf("mirror event journal: %w", err)
	}
	if fs.bus != nil {
		fs.bus.Publish(context.Background(), runID)
	}
	return event, nil
}

func (fs *FileStore) ListEventsAfter(_ context.Context, runID string, after int64, limit int) ([]Event, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var out []Event
	for _, e := range fs.doc.Events {
		if e.RunID == runID && e.Ts > after {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ts < out[j].Ts })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (fs *FileStore) RecordApproval(_ context.Context, runID, kind string, request any, decision *string) (Approval, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	raw, err := json.Marshal(request)
	if err != nil {
		return Approval{}, fmt.Errorf("encode approval request: %w", err)
	}
	approval := Approval{
		ID:       fs.clock.NewID(),
		RunID:    runID,
		Ts:       fs.clock.NowMillis(),
		Kind:     kind,
		Request:  raw,
		Decision: decision,
	}
	if decision != nil {
		now := fs.clock.NowMillis()
		approval.DecidedAt = &now
	}
	fs.doc.Approvals = append(fs.doc.Approvals, approval)
	if err := fs.save(); err != nil {
		return Approval{}, err
	}
	return approval, nil
}

func (fs *FileStore) DecideApproval(_ context.Context, id, decision string, decidedAt int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for i := range fs.doc.Approvals {
		if fs.doc.Approvals[i].ID == id {
			fs.doc.Approvals[i].Decision = &decision
			fs.doc.Approvals[i].DecidedAt = &decidedAt
			return fs.save()
		}
	}
	return fmt.Errorf("approval %q not found", id)
}

func (fs *FileStore) RecordArtifact(_ context.Context, runID, relativePath string, mime, sha256 *string) (Artifact, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	artifact := Artifact{
		ID:           fs.clock.NewID(),
		RunID:        runID,
		RelativePath: relativePath,
		Mime:         mime,
		SHA256:       sha256,
		CreatedAt:    fs.clock.NowMillis(),
	}
	fs.doc.Artifacts = append(fs.doc.Artifacts, artifact)
	if err := fs.save(); err != nil {
		return Artifact{}, err
	}
	return artifact, nil
}

func (fs *FileStore) ListArtifacts(_ context.Context, runID string) ([]Artifact, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []Artifact
	for _, a := range fs.doc.Artifacts {
		if a.RunID == runID {
			out = append(out, a)
		}
	}
	return out, nil
}

var _ Store = (*FileStore)(nil)
