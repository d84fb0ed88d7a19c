package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Documented defaults applied at the boundary before a task enters the core.
const (
	DefaultDaysLimit      = 30
	DefaultFetchLimit     = 200
	MaxFetchLimit         = 200
	DefaultSearchSort     = "relevance"
	DefaultScheduleType   = "daily"
	DefaultScheduleTime   = "09:00"
	DefaultProcessStatus  = ProcessTodo
	DefaultSubtitleFormat = "txt"
)

// Default system setting values, lazily written on first read.
const (
	DefaultRateLimitPerSec          = 1
	DefaultRetryTimes               = 2
	DefaultTimeoutSeconds           = 10
	DefaultAlertConsecutiveFailures = 3
)

// DefaultScope returns the crawl scope used when a task omits one.
func DefaultScope() TaskScope {
	return TaskScope{
		DaysLimit:  DefaultDaysLimit,
		FetchLimit: DefaultFetchLimit,
		SearchSort: DefaultSearchSort,
	}
}

// DefaultSchedule returns the daily 09:00 schedule.
func DefaultSchedule() TaskSchedule {
	return TaskSchedule{Type: DefaultScheduleType, Time: DefaultScheduleTime}
}

// DefaultRules returns the stock classification rule set.
func DefaultRules() TaskRules {
	return TaskRules{
		BasicHot: BasicHotRule{
			Enabled: true,
			Mode:    "any",
			Thresholds: map[string]float64{
				"views": 100000,
				"fav":   1500,
				"coin":  500,
				"reply": 200,
			},
		},
		LowFanHot: LowFanHotRule{
			Enabled:     true,
			Strength:    "balanced",
			FanMax:      50000,
			ViewsMin:    30000,
			FavRate:     0.012,
			CoinRate:    0.0025,
			ReplyRate:   0.0020,
			FavFanRatio: 0.02,
			WindowDays:  7,
		},
	}
}

// DefaultSetting returns the stock system setting.
func DefaultSetting() SystemSetting {
	return SystemSetting{
		RateLimitPerSec:          DefaultRateLimitPerSec,
		RetryTimes:               DefaultRetryTimes,
		TimeoutSeconds:           DefaultTimeoutSeconds,
		AlertConsecutiveFailures: DefaultAlertConsecutiveFailures,
	}
}

// ErrNoKeywords rejects a task before any run row is created.
var ErrNoKeywords = errors.New("task has no keywords")

// ErrVideoNotFound is returned for operations on an unknown BVID.
var ErrVideoNotFound = errors.New("video not found")

// NormalizeTask fills omitted fields with defaults and clamps limits.
// It mutates the task in place.
func NormalizeTask(task *Task) {
	if task.Status == "" {
		task.Status = TaskEnabled
	}
	if task.Scope.DaysLimit <= 0 {
		task.Scope.DaysLimit = DefaultDaysLimit
	}
	if task.Scope.FetchLimit <= 0 {
		task.Scope.FetchLimit = DefaultFetchLimit
	}
	if task.Scope.FetchLimit > MaxFetchLimit {
		task.Scope.FetchLimit = MaxFetchLimit
	}
	if task.Scope.SearchSort == "" {
		task.Scope.SearchSort = DefaultSearchSort
	}
	if task.Schedule.Type == "" {
		task.Schedule = DefaultSchedule()
	}
	if task.Schedule.Time == "" {
		task.Schedule.Time = DefaultScheduleTime
	}
	if task.Rules.BasicHot.Thresholds == nil && !task.Rules.BasicHot.Enabled &&
		!task.Rules.LowFanHot.Enabled {
		task.Rules = DefaultRules()
	}
}

// ValidateTask enforces the boundary invariants before a task enters the core.
func ValidateTask(task Task) error {
	if strings.TrimSpace(task.Name) == "" {
		return errors.New("task name is required")
	}
	keywords := 0
	for _, k := range task.Keywords {
		if strings.TrimSpace(k) != "" {
			keywords++
		}
	}
	if keywords == 0 {
		return ErrNoKeywords
	}
	if task.Schedule.Type != DefaultScheduleType {
		return fmt.Errorf("unsupported schedule type %q", task.Schedule.Type)
	}
	if _, err := time.Parse("15:04", task.Schedule.Time); err != nil {
		return fmt.Errorf("invalid schedule time %q", task.Schedule.Time)
	}
	switch task.Scope.SearchSort {
	case "relevance", "new", "views":
	default:
		return fmt.Errorf("unsupported search sort %q", task.Scope.SearchSort)
	}
	return nil
}
