package cronengine

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/advatar/clawdex-sub000/internal/clock"
	"github.com/advatar/clawdex-sub000/internal/jsonfile"
)

// Registry is the job store: a whole-JSON-array file of loose job objects,
// mirroring cron.rs's load_jobs/save_jobs pair. Jobs are kept as generic
// maps rather than the typed Job struct so that unrecognized fields
// round-trip untouched through add/update.
type Registry struct {
	cronDir string
}

// NewRegistry returns a Registry rooted at cronDir (typically
// policy.Paths.CronDir()).
func NewRegistry(cronDir string) *Registry {
	return &Registry{cronDir: cronDir}
}

func (r *Registry) jobsPath() string {
	return filepath.Join(r.cronDir, "jobs.json")
}

func (r *Registry) runsPath(jobID string) string {
	return filepath.Join(r.cronDir, "runs", jobID+".jsonl")
}

func (r *Registry) load() ([]map[string]any, error) {
	var jobs []map[string]any
	_, err := jsonfile.ReadValue(r.jobsPath(), &jobs)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *Registry) save(jobs []map[string]any) error {
	if jobs == nil {
		jobs = []map[string]any{}
	}
	return jsonfile.WriteValue(r.jobsPath(), jobs)
}

func jobID(raw map[string]any) string {
	id, _ := stringField(raw, "id")
	return id
}

func findJob(jobs []map[string]any, id string) (map[string]any, int) {
	for i, job := range jobs {
		if jobID(job) == id {
			return job, i
		}
	}
	return nil, -1
}

// ErrJobNotFound is returned by Update (and markRunning) when no job matches.
var ErrJobNotFound = errors.New("cron job not found")

// List returns every registered job, optionally excluding disabled ones.
func (r *Registry) List(includeDisabled bool) ([]map[string]any, error) {
	jobs, err := r.load()
	if err != nil {
		return nil, err
	}
	if includeDisabled {
		return jobs, nil
	}
	out := jobs[:0:0]
	for _, job := range jobs {
		enabled, ok := boolField(job, "enabled")
		if !ok || enabled {
			out = append(out, job)
		}
	}
	return out, nil
}

// Add appends a new job, assigning an id and createdAtMs/updatedAtMs if the
// caller didn't supply them. Returns the stored job object.
func (r *Registry) Add(fields map[string]any) (map[string]any, error) {
	jobs, err := r.load()
	if err != nil {
		return nil, err
	}

	job := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		job[k] = v
	}
	id, _ := stringField(job, "id")
	if id == "" {
		id = uuid.NewString()
		job["id"] = id
	}
	now := clock.NowMillis()
	if _, ok := job["createdAtMs"]; !ok {
		job["createdAtMs"] = now
	}
	job["updatedAtMs"] = now
	if _, ok := job["enabled"]; !ok {
		job["enabled"] = true
	}

	jobs = append(jobs, job)
	if err := r.save(jobs); err != nil {
		return nil, err
	}
	return job, nil
}

// Update applies patch on top of the job identified by id and persists the
// merged result.
func (r *Registry) Update(id string, patch map[string]any) (map[string]any, error) {
	jobs, err := r.load()
	if err != nil {
		return nil, err
	}
	job, idx := findJob(jobs, id)
	if job == nil {
		return nil, ErrJobNotFound
	}
	for k, v := range patch {
		job[k] = v
	}
	job["updatedAtMs"] = clock.NowMillis()
	jobs[idx] = job
	if err := r.save(jobs); err != nil {
		return nil, err
	}
	return job, nil
}

// Remove deletes the job identified by id, reporting whether it existed.
func (r *Registry) Remove(id string) (bool, error) {
	jobs, err := r.load()
	if err != nil {
		return false, err
	}
	before := len(jobs)
	out := jobs[:0:0]
	for _, job := range jobs {
		if jobID(job) != id {
			out = append(out, job)
		}
	}
	if err := r.save(out); err != nil {
		return false, err
	}
	return len(out) < before, nil
}

// Get returns one job by id.
func (r *Registry) Get(id string) (map[string]any, bool, error) {
	jobs, err := r.load()
	if err != nil {
		return nil, false, err
	}
	job, _ := findJob(jobs, id)
	if job == nil {
		return nil, false, nil
	}
	return job, true, nil
}

// Runs returns up to limit of the most recent run-history entries for a
// job (all of them when limit <= 0).
func (r *Registry) Runs(id string, limit int) ([]RunEntry, error) {
	lines, err := jsonfile.ReadLines(r.runsPath(id), limit)
	if err != nil {
		return nil, err
	}
	entries := make([]RunEntry, 0, len(lines))
	for _, line := range lines {
		var entry RunEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("decode run entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// recordRun appends one run-history entry for the job identified by id.
func (r *Registry) recordRun(id, status, reason string, details any) (RunEntry, error) {
	now := clock.NowMillis()
	var raw json.RawMessage
	if details != nil {
		encoded, err := json.Marshal(details)
		if err != nil {
			return RunEntry{}, err
		}
		raw = encoded
	}
	entry := RunEntry{
		RunID:       uuid.NewString(),
		JobID:       id,
		StartedAtMs: now,
		EndedAtMs:   now,
		Status:      status,
		Reason:      reason,
		Details:     raw,
	}
	if err := jsonfile.AppendLine(r.runsPath(id), entry); err != nil {
		return RunEntry{}, err
	}
	return entry, nil
}

// markRunning updates a job's lastRunAtMs in place, mirroring the
// original's mark_job_running.
func (r *Registry) markRunning(id string, startedAtMs int64) error {
	jobs, err := r.load()
	if err != nil {
		return err
	}
	job, idx := findJob(jobs, id)
	if job == nil {
		return ErrJobNotFound
	}
	job["lastRunAtMs"] = startedAtMs
	jobs[idx] = job
	return r.save(jobs)
}
