// Package memory provides a map-backed core.Store for development and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/uplens/uplens/internal/core"
)

// ErrNotFound is returned for lookups of absent rows.
var ErrNotFound = errors.New("not found")

type linkKey struct {
	taskID string
	bvid   string
}

// Store is an in-memory implementation of core.Store.
type Store struct {
	mu        sync.RWMutex
	tasks     map[string]core.Task
	runs      map[string]core.Run
	videos    map[string]core.Video
	links     map[linkKey]time.Time
	subtitles map[string]core.Subtitle
	alerts    []core.Alert
	nextAlert int64
	setting   *core.SystemSetting
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		tasks:     make(map[string]core.Task),
		runs:      make(map[string]core.Run),
		videos:    make(map[string]core.Video),
		links:     make(map[linkKey]time.Time),
		subtitles: make(map[string]core.Subtitle),
		nextAlert: 1,
	}
}

// CreateTask stores a new task.
func (s *Store) CreateTask(_ context.Context, task *core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return errors.New("task already exists")
	}
	s.tasks[task.ID] = *task
	return nil
}

// GetTask fetches a task by ID.
func (s *Store) GetTask(_ context.Context, id string) (core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return core.Task{}, ErrNotFound
	}
	return task, nil
}

// ListTasks returns all tasks ordered by creation time.
func (s *Store) ListTasks(_ context.Context) ([]core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListEnabledTasks returns enabled tasks only.
func (s *Store) ListEnabledTasks(ctx context.Context) ([]core.Task, error) {
	all, err := s.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, task := range all {
		if task.Status == core.TaskEnabled {
			out = append(out, task)
		}
	}
	return out, nil
}

// UpdateTask overwrites an existing task.
func (s *Store) UpdateTask(_ context.Context, task *core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return ErrNotFound
	}
	s.tasks[task.ID] = *task
	return nil
}

// CreateRun stores a new run row.
func (s *Store) CreateRun(_ context.Context, run *core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = *run
	return nil
}

// FinalizeRun overwrites the run row with its terminal state.
func (s *Store) FinalizeRun(_ context.Context, run core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return ErrNotFound
	}
	s.runs[run.ID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(_ context.Context, id string) (core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return core.Run{}, ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs for a task, newest first.
func (s *Store) ListRuns(_ context.Context, taskID string, limit int) ([]core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Run
	for _, run := range s.runs {
		if taskID == "" || run.TaskID == taskID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.After(out[j].StartAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetVideo fetches a video by BVID.
func (s *Store) GetVideo(_ context.Context, bvid string) (core.Video, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.videos[bvid]
	return video, ok, nil
}

// UpsertVideo stores the full video row.
func (s *Store) UpsertVideo(_ context.Context, video core.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videos[video.BVID] = video
	return nil
}

// ListVideos returns videos ordered by fetch time, newest first.
func (s *Store) ListVideos(_ context.Context, limit, offset int) ([]core.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Video, 0, len(s.videos))
	for _, video := range s.videos {
		out = append(out, video)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FetchTime.After(out[j].FetchTime) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PatchVideo updates the manual triage fields only.
func (s *Store) PatchVideo(_ context.Context, bvid string, status *core.ProcessStatus, note *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.videos[bvid]
	if !ok {
		return ErrNotFound
	}
	if status != nil {
		video.ProcessStatus = *status
	}
	if note != nil {
		video.Note = *note
	}
	s.videos[bvid] = video
	return nil
}

// EnsureLink inserts the (task, video) pair if absent.
func (s *Store) EnsureLink(_ context.Context, taskID, bvid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey{taskID: taskID, bvid: bvid}
	if _, exists := s.links[key]; exists {
		return false, nil
	}
	s.links[key] = time.Now().UTC()
	return true, nil
}

// GetSubtitle fetches the subtitle row for a video.
func (s *Store) GetSubtitle(_ context.Context, bvid string) (core.Subtitle, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subtitle, ok := s.subtitles[bvid]
	return subtitle, ok, nil
}

// SaveSubtitle stores the subtitle row.
func (s *Store) SaveSubtitle(_ context.Context, subtitle core.Subtitle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subtitles[subtitle.BVID] = subtitle
	return nil
}

// CreateAlert stores an alert and assigns its ID.
func (s *Store) CreateAlert(_ context.Context, alert *core.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert.ID = s.nextAlert
	s.nextAlert++
	s.alerts = append(s.alerts, *alert)
	return nil
}

// HasRecentAlert reports whether an alert of the given type exists for the
// task since the given time.
func (s *Store) HasRecentAlert(_ context.Context, taskID, alertType string, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, alert := range s.alerts {
		if alert.TaskID == taskID && alert.Type == alertType && !alert.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// ListAlerts returns alerts, newest first.
func (s *Store) ListAlerts(_ context.Context, unreadOnly bool, limit int) ([]core.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Alert
	for _, alert := range s.alerts {
		if unreadOnly && alert.ReadAt != nil {
			continue
		}
		out = append(out, alert)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkAlertRead sets the read timestamp on an alert.
func (s *Store) MarkAlertRead(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			ts := at
			s.alerts[i].ReadAt = &ts
			return nil
		}
	}
	return ErrNotFound
}

// GetSetting fetches the singleton setting row.
func (s *Store) GetSetting(_ context.Context) (core.SystemSetting, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.setting == nil {
		return core.SystemSetting{}, false, nil
	}
	return *s.setting, true, nil
}

// SaveSetting stores the singleton setting row.
func (s *Store) SaveSetting(_ context.Context, setting core.SystemSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setting = &setting
	return nil
}
