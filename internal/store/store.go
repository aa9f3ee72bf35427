package store

import "context"

// Store is the durable record interface every task-engine, cron-engine, and
// control-plane component depends on. FileStore is the default
// implementation; PostgresStore is the optional grounded alternative.
type Store interface {
	CreateTask(ctx context.Context, title string) (Task, error)
	GetTask(ctx context.Context, id string) (Task, bool, error)
	FindTaskByTitle(ctx context.Context, title string) (Task, bool, error)
	ListTasks(ctx context.Context) ([]Task, error)
	TouchTaskLastRun(ctx context.Context, taskID string, ts int64) error

	CreateRun(ctx context.Context, run Run) (Run, error)
	GetRun(ctx context.Context, id string) (Run, bool, error)
	UpdateRunStatus(ctx context.Context, id, status string, endedAt *int64) error
	SetRunThread(ctx context.Context, id, threadID string) error
	LatestRunForTask(ctx context.Context, taskID string) (Run, bool, error)

	RecordEvent(ctx context.Context, runID, kind string, payload any) (Event, error)
	ListEventsAfter(ctx context.Context, runID string, after int64, limit int) ([]Event, error)

	RecordApproval(ctx context.Context, runID, kind string, request any, decision *string) (Approval, error)
	DecideApproval(ctx context.Context, id, decision string, decidedAt int64) error

	RecordArtifact(ctx context.Context, runID, relativePath string, mime, sha256 *string) (Artifact, error)
	ListArtifacts(ctx context.Context, runID string) ([]Artifact, error)

	// SetEventBus wires the bus RecordEvent notifies after each append; nil
	// disables notification and leaves ListEventsAfter polling as the only
	// delivery path.
	SetEventBus(bus EventBus)
}
