// Package core defines the domain types and contracts shared across subsystems.
package core

import "time"

// TaskStatus gates whether the scheduler considers a task at all.
type TaskStatus string

// Task status values persisted in the task store.
const (
	TaskEnabled  TaskStatus = "enabled"
	TaskDisabled TaskStatus = "disabled"
)

// RunStatus represents the lifecycle state of a crawl run.
type RunStatus string

// Run status values. A run starts in running and finalizes exactly once.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// Trigger records what caused a run to start.
type Trigger string

// Trigger values persisted on each run.
const (
	TriggerManual   Trigger = "manual"
	TriggerSchedule Trigger = "schedule"
)

// TaskScope bounds what a single crawl pass is allowed to collect.
type TaskScope struct {
	DaysLimit    int    `json:"days_limit"`
	FetchLimit   int    `json:"fetch_limit"`
	SearchSort   string `json:"search_sort"`
	PartitionIDs []int  `json:"partition_ids"`
}

// TaskSchedule describes when the dispatcher should fire a task.
// Only type "daily" with a "HH:MM" time is currently supported.
type TaskSchedule struct {
	Type string `json:"type"`
	Time string `json:"time"`
}

// BasicHotRule configures absolute-threshold classification.
// Mode "any" hits on the first satisfied threshold, "all" requires every one.
type BasicHotRule struct {
	Enabled    bool               `json:"enabled"`
	Mode       string             `json:"mode"`
	Thresholds map[string]float64 `json:"thresholds"`
}

// LowFanHotRule configures the small-creator breakout classification.
type LowFanHotRule struct {
	Enabled     bool    `json:"enabled"`
	Strength    string  `json:"strength"`
	FanMax      int64   `json:"fan_max"`
	ViewsMin    int64   `json:"views_min"`
	FavRate     float64 `json:"fav_rate"`
	CoinRate    float64 `json:"coin_rate"`
	ReplyRate   float64 `json:"reply_rate"`
	FavFanRatio float64 `json:"fav_fan_ratio"`
	WindowDays  int     `json:"window_days"`
}

// TaskRules bundles both classification rule sets for a task.
type TaskRules struct {
	BasicHot  BasicHotRule  `json:"basic_hot"`
	LowFanHot LowFanHotRule `json:"low_fan_hot"`
}

// Task is a configured crawl-and-classify job.
type Task struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	Keywords            []string     `json:"keywords"`
	ExcludeWords        []string     `json:"exclude_words"`
	Tags                []string     `json:"tags"`
	Scope               TaskScope    `json:"scope"`
	Schedule            TaskSchedule `json:"schedule"`
	Rules               TaskRules    `json:"rules"`
	Status              TaskStatus   `json:"status"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// RunCounts aggregates what a single run did.
type RunCounts struct {
	Fetched     int `json:"fetched"`
	Inserted    int `json:"inserted"`
	Deduped     int `json:"deduped"`
	Excluded    int `json:"excluded"`
	BasicHot    int `json:"basic_hot"`
	LowFanHot   int `json:"low_fan_hot"`
	FailedItems int `json:"failed_items"`
}

// ErrorSample is one bounded failure record captured during a run.
type ErrorSample struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Keyword string `json:"keyword,omitempty"`
	BVID    string `json:"bvid,omitempty"`
}

// MaxErrorSamples caps how many error samples a run retains.
const MaxErrorSamples = 50

// Run records one execution of a task. Finalized exactly once, then immutable.
type Run struct {
	ID           string        `json:"id"`
	TaskID       string        `json:"task_id"`
	Trigger      Trigger       `json:"trigger"`
	Status       RunStatus     `json:"status"`
	StartAt      time.Time     `json:"start_at"`
	EndAt        *time.Time    `json:"end_at,omitempty"`
	DurationMs   int64         `json:"duration_ms"`
	Counts       RunCounts     `json:"counts"`
	ErrorSummary string        `json:"error_summary,omitempty"`
	ErrorDetail  []ErrorSample `json:"error_detail,omitempty"`
}

// Stats holds the raw engagement counters for a video.
type Stats struct {
	Views int64 `json:"views"`
	Like  int64 `json:"like"`
	Fav   int64 `json:"fav"`
	Coin  int64 `json:"coin"`
	Reply int64 `json:"reply"`
	Share int64 `json:"share"`
}

// HotTag is one classification outcome with its supporting reasons.
type HotTag struct {
	Hit     bool     `json:"is_hit"`
	Reasons []string `json:"reason"`
}

// Tags groups the two independent classification outcomes.
type Tags struct {
	BasicHot  HotTag `json:"basic_hot"`
	LowFanHot HotTag `json:"low_fan_hot"`
}

// ProcessStatus is the manual triage state of a video.
type ProcessStatus string

// Process status values.
const (
	ProcessTodo    ProcessStatus = "todo"
	ProcessDoing   ProcessStatus = "doing"
	ProcessDone    ProcessStatus = "done"
	ProcessIgnored ProcessStatus = "ignored"
)

// Video is a discovered content item, globally unique by BVID.
// Derived rates are recomputed from Stats on every upsert.
type Video struct {
	BVID          string        `json:"bvid"`
	Title         string        `json:"title"`
	UpID          string        `json:"up_id"`
	UpName        string        `json:"up_name"`
	FollowerCount int64         `json:"follower_count"`
	PublishTime   *time.Time    `json:"publish_time,omitempty"`
	FetchTime     time.Time     `json:"fetch_time"`
	CoverURL      string        `json:"cover_url,omitempty"`
	Stats         Stats         `json:"stats"`
	FavRate       float64       `json:"fav_rate"`
	CoinRate      float64       `json:"coin_rate"`
	ReplyRate     float64       `json:"reply_rate"`
	FavFanRatio   float64       `json:"fav_fan_ratio"`
	BasicHot      HotTag        `json:"basic_hot"`
	LowFanHot     HotTag        `json:"low_fan_hot"`
	ProcessStatus ProcessStatus `json:"process_status"`
	Note          string        `json:"note,omitempty"`
	Tags          []string      `json:"tags"`
	SourceTaskIDs []string      `json:"source_task_ids"`
}

// SubtitleStatus tracks lazy subtitle extraction.
type SubtitleStatus string

// Subtitle lifecycle values.
const (
	SubtitleNone       SubtitleStatus = "none"
	SubtitleExtracting SubtitleStatus = "extracting"
	SubtitleDone       SubtitleStatus = "done"
	SubtitleFailed     SubtitleStatus = "failed"
)

// Subtitle holds extracted subtitle text for one video.
type Subtitle struct {
	BVID      string         `json:"bvid"`
	Status    SubtitleStatus `json:"status"`
	Text      string         `json:"text,omitempty"`
	Format    string         `json:"format"`
	Error     string         `json:"error,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// AlertTypeTaskFailure is emitted when a task crosses the failure-streak threshold.
const AlertTypeTaskFailure = "task_failure"

// Alert is a notification produced by the failure-alerting policy.
type Alert struct {
	ID        int64          `json:"id"`
	TaskID    string         `json:"task_id,omitempty"`
	Type      string         `json:"type"`
	Level     string         `json:"level"`
	Title     string         `json:"title"`
	Message   string         `json:"message,omitempty"`
	Meta      map[string]any `json:"meta"`
	CreatedAt time.Time      `json:"created_at"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
}

// SystemSetting is the process-wide collection/alerting configuration,
// fetched once per run so jobs never share ambient state.
type SystemSetting struct {
	RateLimitPerSec          int       `json:"rate_limit_per_sec"`
	RetryTimes               int       `json:"retry_times"`
	TimeoutSeconds           int       `json:"timeout_seconds"`
	AlertConsecutiveFailures int       `json:"alert_consecutive_failures"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// Candidate is one search result prior to enrichment.
type Candidate struct {
	BVID        string     `json:"bvid"`
	Title       string     `json:"title"`
	UpID        string     `json:"up_id"`
	UpName      string     `json:"up_name"`
	PublishTime *time.Time `json:"publish_time,omitempty"`
	CoverURL    string     `json:"cover_url,omitempty"`
	Stats       Stats      `json:"stats"`
}

// VideoDetail is the enriched view of a single video.
type VideoDetail struct {
	BVID        string     `json:"bvid"`
	Title       string     `json:"title"`
	UpID        string     `json:"up_id"`
	UpName      string     `json:"up_name"`
	PublishTime *time.Time `json:"publish_time,omitempty"`
	CoverURL    string     `json:"cover_url,omitempty"`
	CID         int64      `json:"cid,omitempty"`
	Stats       Stats      `json:"stats"`
}

// Empty reports whether the detail lookup found nothing.
func (d VideoDetail) Empty() bool {
	return d.BVID == "" && d.Title == "" && d.UpID == ""
}

// CreatorInfo describes the uploader behind a video.
type CreatorInfo struct {
	UpName        string `json:"up_name"`
	FollowerCount int64  `json:"follower_count"`
}

// RunRequest is the unit of work carried on the job queue.
type RunRequest struct {
	TaskID    string  `json:"task_id"`
	Trigger   Trigger `json:"trigger"`
	Submitted int64   `json:"submitted"`
}

// DryRunSample is one previewed item from a non-persisting run.
type DryRunSample struct {
	BVID        string     `json:"bvid"`
	Title       string     `json:"title"`
	UpName      string     `json:"up_name"`
	PublishTime *time.Time `json:"publish_time,omitempty"`
	Stats       Stats      `json:"stats"`
	Tags        Tags       `json:"tags"`
}

// DryRunReport is returned by a preview execution.
type DryRunReport struct {
	Counts  RunCounts      `json:"counts"`
	Samples []DryRunSample `json:"samples"`
	Errors  []ErrorSample  `json:"errors"`
}
