package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uplens/uplens/internal/core"
)

// decodeTask decodes a task payload. A rule block supplied without an
// "enabled" key counts as enabled, so posting thresholds alone activates
// the rule instead of leaving it silently off.
func decodeTask(r *http.Request) (core.Task, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return core.Task{}, err
	}
	var task core.Task
	if err := json.Unmarshal(body, &task); err != nil {
		return core.Task{}, err
	}
	var flags struct {
		Rules *struct {
			BasicHot *struct {
				Enabled *bool `json:"enabled"`
			} `json:"basic_hot"`
			LowFanHot *struct {
				Enabled *bool `json:"enabled"`
			} `json:"low_fan_hot"`
		} `json:"rules"`
	}
	if err := json.Unmarshal(body, &flags); err == nil && flags.Rules != nil {
		if flags.Rules.BasicHot != nil && flags.Rules.BasicHot.Enabled == nil {
			task.Rules.BasicHot.Enabled = true
		}
		if flags.Rules.LowFanHot != nil && flags.Rules.LowFanHot.Enabled == nil {
			task.Rules.LowFanHot.Enabled = true
		}
	}
	return task, nil
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	task, err := decodeTask(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	now := s.clock.Now()
	task.ID = uuid.NewString()
	task.ConsecutiveFailures = 0
	task.CreatedAt = now
	task.UpdatedAt = now
	core.NormalizeTask(&task)
	if err := core.ValidateTask(task); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.CreateTask(r.Context(), &task); err != nil {
		s.logger.Error("create task failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create task failed")
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context())
	if err != nil {
		s.logger.Error("list tasks failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list tasks failed")
		return
	}
	if tasks == nil {
		tasks = []core.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetTask(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	task, err := decodeTask(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	// Server-owned fields are never client-writable.
	task.ID = existing.ID
	task.CreatedAt = existing.CreatedAt
	task.ConsecutiveFailures = existing.ConsecutiveFailures
	if task.Status == "" {
		task.Status = existing.Status
	}
	task.UpdatedAt = s.clock.Now()
	core.NormalizeTask(&task)
	if err := core.ValidateTask(task); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.UpdateTask(r.Context(), &task); err != nil {
		s.logger.Error("update task failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "update task failed")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) enableTask(w http.ResponseWriter, r *http.Request) {
	s.setTaskStatus(w, r, core.TaskEnabled)
}

func (s *Server) disableTask(w http.ResponseWriter, r *http.Request) {
	s.setTaskStatus(w, r, core.TaskDisabled)
}

func (s *Server) setTaskStatus(w http.ResponseWriter, r *http.Request, status core.TaskStatus) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	task.Status = status
	task.UpdatedAt = s.clock.Now()
	if err := s.store.UpdateTask(r.Context(), &task); err != nil {
		s.logger.Error("update task status failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "update task failed")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) runTaskNow(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	req := core.RunRequest{
		TaskID:    task.ID,
		Trigger:   core.TriggerManual,
		Submitted: s.clock.Now().Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, req); err != nil {
		s.logger.Error("enqueue manual run failed", zap.String("task_id", task.ID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "queue is full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": task.ID, "status": "queued"})
}

func (s *Server) dryRunTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	limit := queryInt(r, "limit", 10)
	report := s.runner.DryRun(r.Context(), &task, limit)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) listTaskRuns(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	limit := queryInt(r, "limit", 20)
	runs, err := s.store.ListRuns(r.Context(), taskID, limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []core.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) listVideos(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	videos, err := s.store.ListVideos(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list videos failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list videos failed")
		return
	}
	if videos == nil {
		videos = []core.Video{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": videos})
}

func (s *Server) getVideo(w http.ResponseWriter, r *http.Request) {
	video, found, err := s.store.GetVideo(r.Context(), chi.URLParam(r, "bvid"))
	if err != nil {
		s.logger.Error("get video failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get video failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}
	writeJSON(w, http.StatusOK, video)
}

type videoPatchRequest struct {
	ProcessStatus *string `json:"process_status"`
	Note          *string `json:"note"`
}

func (s *Server) patchVideo(w http.ResponseWriter, r *http.Request) {
	bvid := chi.URLParam(r, "bvid")
	var req videoPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	var status *core.ProcessStatus
	if req.ProcessStatus != nil {
		parsed := core.ProcessStatus(*req.ProcessStatus)
		switch parsed {
		case core.ProcessTodo, core.ProcessDoing, core.ProcessDone, core.ProcessIgnored:
		default:
			writeError(w, http.StatusBadRequest, "invalid process_status")
			return
		}
		status = &parsed
	}
	if status == nil && req.Note == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if err := s.store.PatchVideo(r.Context(), bvid, status, req.Note); err != nil {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}
	video, _, err := s.store.GetVideo(r.Context(), bvid)
	if err != nil {
		s.logger.Error("get video failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get video failed")
		return
	}
	writeJSON(w, http.StatusOK, video)
}

func (s *Server) getSubtitle(w http.ResponseWriter, r *http.Request) {
	subtitle, found, err := s.store.GetSubtitle(r.Context(), chi.URLParam(r, "bvid"))
	if err != nil {
		s.logger.Error("get subtitle failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get subtitle failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "subtitle not found")
		return
	}
	writeJSON(w, http.StatusOK, subtitle)
}

func (s *Server) extractSubtitle(w http.ResponseWriter, r *http.Request) {
	subtitle, err := s.runner.ExtractSubtitle(r.Context(), chi.URLParam(r, "bvid"))
	if err != nil {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}
	writeJSON(w, http.StatusOK, subtitle)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	unreadOnly := r.URL.Query().Get("unread") == "true"
	limit := queryInt(r, "limit", 50)
	alerts, err := s.store.ListAlerts(r.Context(), unreadOnly, limit)
	if err != nil {
		s.logger.Error("list alerts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list alerts failed")
		return
	}
	if alerts == nil {
		alerts = []core.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *Server) markAlertRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "alert_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	if err := s.store.MarkAlertRead(r.Context(), id, s.clock.Now()); err != nil {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "read": true})
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	setting, found, err := s.store.GetSetting(r.Context())
	if err != nil {
		s.logger.Error("get settings failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get settings failed")
		return
	}
	if !found {
		setting = core.DefaultSetting()
	}
	writeJSON(w, http.StatusOK, setting)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var setting core.SystemSetting
	if err := json.NewDecoder(r.Body).Decode(&setting); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if setting.RateLimitPerSec <= 0 || setting.RetryTimes < 0 ||
		setting.TimeoutSeconds <= 0 || setting.AlertConsecutiveFailures <= 0 {
		writeError(w, http.StatusBadRequest, "invalid setting values")
		return
	}
	setting.UpdatedAt = s.clock.Now()
	if err := s.store.SaveSetting(r.Context(), setting); err != nil {
		s.logger.Error("save settings failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "save settings failed")
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

func (s *Server) listRuleTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": core.RuleTemplates()})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
