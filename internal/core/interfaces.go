package core

import (
	"context"
	"time"
)

// TaskStore persists task configuration and runner-maintained task state.
type TaskStore interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (Task, error)
	ListTasks(ctx context.Context) ([]Task, error)
	ListEnabledTasks(ctx context.Context) ([]Task, error)
	UpdateTask(ctx context.Context, task *Task) error
}

// RunStore persists run rows. A run is created in running state and
// finalized exactly once.
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	FinalizeRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, taskID string, limit int) ([]Run, error)
}

// VideoStore persists videos keyed by BVID. UpsertVideo replaces the full row;
// partial-merge decisions happen in the runner before the write.
type VideoStore interface {
	GetVideo(ctx context.Context, bvid string) (Video, bool, error)
	UpsertVideo(ctx context.Context, video Video) error
	ListVideos(ctx context.Context, limit, offset int) ([]Video, error)
	PatchVideo(ctx context.Context, bvid string, status *ProcessStatus, note *string) error
}

// LinkStore maintains the unique (task, video) pairing.
type LinkStore interface {
	// EnsureLink inserts the pair if absent and reports whether it created it.
	EnsureLink(ctx context.Context, taskID, bvid string) (bool, error)
}

// SubtitleStore persists one subtitle row per video.
type SubtitleStore interface {
	GetSubtitle(ctx context.Context, bvid string) (Subtitle, bool, error)
	SaveSubtitle(ctx context.Context, subtitle Subtitle) error
}

// AlertStore persists alerts and answers the anti-spam recency check.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *Alert) error
	HasRecentAlert(ctx context.Context, taskID, alertType string, since time.Time) (bool, error)
	ListAlerts(ctx context.Context, unreadOnly bool, limit int) ([]Alert, error)
	MarkAlertRead(ctx context.Context, id int64, at time.Time) error
}

// SettingStore persists the singleton system setting row.
type SettingStore interface {
	GetSetting(ctx context.Context) (SystemSetting, bool, error)
	SaveSetting(ctx context.Context, setting SystemSetting) error
}

// Store composes every persistence capability the core needs.
type Store interface {
	TaskStore
	RunStore
	VideoStore
	LinkStore
	SubtitleStore
	AlertStore
	SettingStore
}

// Queue provides enqueue/dequeue semantics for run requests.
type Queue interface {
	Enqueue(ctx context.Context, req RunRequest) error
	Dequeue(ctx context.Context) (RunRequest, error)
}

// LockStore is the shared mutual-exclusion primitive the scheduler relies on.
// AcquireOnce must be atomic create-if-absent with TTL across all replicas.
type LockStore interface {
	AcquireOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Collector fetches search results and per-item enrichment from the source.
// Implementations degrade to empty results after retry exhaustion instead of
// failing the whole pass.
type Collector interface {
	Search(ctx context.Context, keyword string, scope TaskScope) ([]Candidate, error)
	Detail(ctx context.Context, bvid string) (VideoDetail, error)
	Stats(ctx context.Context, bvid string) (Stats, error)
	CreatorInfo(ctx context.Context, upID string) (CreatorInfo, error)
	Subtitle(ctx context.Context, bvid string) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
