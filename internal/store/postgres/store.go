// Package postgres provides the Postgres-backed persistence implementation.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uplens/uplens/internal/core"
)

// ErrNotFound is returned for lookups of absent rows.
var ErrNotFound = errors.New("not found")

// Querier is the subset of pgxpool.Pool the store needs. pgxmock satisfies
// it, so tests run without a database.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store implements core.Store on Postgres.
type Store struct {
	db Querier
}

// New connects a pool and wraps it in a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{db: pool}, nil
}

// NewWithQuerier constructs a store from an existing pool (primarily for testing).
func NewWithQuerier(db Querier) (*Store, error) {
	if db == nil {
		return nil, errors.New("querier is required")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	keywords JSONB NOT NULL DEFAULT '[]',
	exclude_words JSONB NOT NULL DEFAULT '[]',
	tags JSONB NOT NULL DEFAULT '[]',
	scope JSONB NOT NULL DEFAULT '{}',
	schedule JSONB NOT NULL DEFAULT '{}',
	rules JSONB NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'enabled',
	consecutive_failures INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id),
	trigger_type TEXT NOT NULL,
	status TEXT NOT NULL,
	start_at TIMESTAMPTZ NOT NULL,
	end_at TIMESTAMPTZ,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	counts JSONB NOT NULL DEFAULT '{}',
	error_summary TEXT NOT NULL DEFAULT '',
	error_detail JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS runs_task_start_idx ON runs (task_id, start_at DESC);

CREATE TABLE IF NOT EXISTS videos (
	bvid TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	up_id TEXT NOT NULL DEFAULT '',
	up_name TEXT NOT NULL DEFAULT '',
	follower_count BIGINT NOT NULL DEFAULT 0,
	publish_time TIMESTAMPTZ,
	fetch_time TIMESTAMPTZ NOT NULL,
	cover_url TEXT NOT NULL DEFAULT '',
	stats JSONB NOT NULL DEFAULT '{}',
	fav_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	coin_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	reply_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	fav_fan_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
	basic_hot JSONB NOT NULL DEFAULT '{}',
	low_fan_hot JSONB NOT NULL DEFAULT '{}',
	process_status TEXT NOT NULL DEFAULT 'todo',
	note TEXT NOT NULL DEFAULT '',
	tags JSONB NOT NULL DEFAULT '[]',
	source_task_ids JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS videos_fetch_time_idx ON videos (fetch_time DESC);

CREATE TABLE IF NOT EXISTS task_videos (
	task_id TEXT NOT NULL,
	bvid TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (task_id, bvid)
);

CREATE TABLE IF NOT EXISTS subtitles (
	bvid TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'none',
	body TEXT NOT NULL DEFAULT '',
	format TEXT NOT NULL DEFAULT 'txt',
	error TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
	id BIGSERIAL PRIMARY KEY,
	task_id TEXT NOT NULL DEFAULT '',
	alert_type TEXT NOT NULL,
	level TEXT NOT NULL DEFAULT 'warning',
	title TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	meta JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	read_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS alerts_task_type_idx ON alerts (task_id, alert_type, created_at DESC);

CREATE TABLE IF NOT EXISTS system_settings (
	id INT PRIMARY KEY CHECK (id = 1),
	rate_limit_per_sec INT NOT NULL,
	retry_times INT NOT NULL,
	timeout_seconds INT NOT NULL,
	alert_consecutive_failures INT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Bootstrap creates the schema if it does not exist yet.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}

func asJSON(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return payload, nil
}

func fromJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

// CreateTask inserts a new task row.
func (s *Store) CreateTask(ctx context.Context, task *core.Task) error {
	keywords, err := asJSON(task.Keywords)
	if err != nil {
		return err
	}
	excludeWords, err := asJSON(task.ExcludeWords)
	if err != nil {
		return err
	}
	tags, err := asJSON(task.Tags)
	if err != nil {
		return err
	}
	scope, err := asJSON(task.Scope)
	if err != nil {
		return err
	}
	schedule, err := asJSON(task.Schedule)
	if err != nil {
		return err
	}
	rules, err := asJSON(task.Rules)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO tasks (id, name, keywords, exclude_words, tags, scope, schedule, rules,
			status, consecutive_failures, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		task.ID, task.Name, keywords, excludeWords, tags, scope, schedule, rules,
		task.Status, task.ConsecutiveFailures, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

const taskColumns = `id, name, keywords, exclude_words, tags, scope, schedule, rules,
	status, consecutive_failures, created_at, updated_at`

func scanTask(row pgx.Row) (core.Task, error) {
	var task core.Task
	var keywords, excludeWords, tags, scope, schedule, rules []byte
	err := row.Scan(&task.ID, &task.Name, &keywords, &excludeWords, &tags, &scope,
		&schedule, &rules, &task.Status, &task.ConsecutiveFailures,
		&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return core.Task{}, err
	}
	for _, pair := range []struct {
		raw []byte
		dst any
	}{
		{keywords, &task.Keywords},
		{excludeWords, &task.ExcludeWords},
		{tags, &task.Tags},
		{scope, &task.Scope},
		{schedule, &task.Schedule},
		{rules, &task.Rules},
	} {
		if err := fromJSON(pair.raw, pair.dst); err != nil {
			return core.Task{}, err
		}
	}
	return task, nil
}

// GetTask fetches a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (core.Task, error) {
	row := s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Task{}, ErrNotFound
	}
	if err != nil {
		return core.Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *Store) listTasks(ctx context.Context, query string, args ...any) ([]core.Task, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var out []core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return out, nil
}

// ListTasks returns all tasks ordered by creation time.
func (s *Store) ListTasks(ctx context.Context) ([]core.Task, error) {
	return s.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at`)
}

// ListEnabledTasks returns enabled tasks only.
func (s *Store) ListEnabledTasks(ctx context.Context) ([]core.Task, error) {
	return s.listTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY created_at`,
		core.TaskEnabled)
}

// UpdateTask overwrites an existing task row.
func (s *Store) UpdateTask(ctx context.Context, task *core.Task) error {
	keywords, err := asJSON(task.Keywords)
	if err != nil {
		return err
	}
	excludeWords, err := asJSON(task.ExcludeWords)
	if err != nil {
		return err
	}
	tags, err := asJSON(task.Tags)
	if err != nil {
		return err
	}
	scope, err := asJSON(task.Scope)
	if err != nil {
		return err
	}
	schedule, err := asJSON(task.Schedule)
	if err != nil {
		return err
	}
	rules, err := asJSON(task.Rules)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE tasks SET name = $2, keywords = $3, exclude_words = $4, tags = $5,
			scope = $6, schedule = $7, rules = $8, status = $9,
			consecutive_failures = $10, updated_at = $11
		WHERE id = $1`,
		task.ID, task.Name, keywords, excludeWords, tags, scope, schedule, rules,
		task.Status, task.ConsecutiveFailures, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateRun inserts a new run row.
func (s *Store) CreateRun(ctx context.Context, run *core.Run) error {
	counts, err := asJSON(run.Counts)
	if err != nil {
		return err
	}
	detail, err := asJSON(run.ErrorDetail)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO runs (id, task_id, trigger_type, status, start_at, end_at,
			duration_ms, counts, error_summary, error_detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.TaskID, run.Trigger, run.Status, run.StartAt, run.EndAt,
		run.DurationMs, counts, run.ErrorSummary, detail,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinalizeRun writes the terminal state of a run.
func (s *Store) FinalizeRun(ctx context.Context, run core.Run) error {
	counts, err := asJSON(run.Counts)
	if err != nil {
		return err
	}
	detail, err := asJSON(run.ErrorDetail)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE runs SET status = $2, end_at = $3, duration_ms = $4, counts = $5,
			error_summary = $6, error_detail = $7
		WHERE id = $1`,
		run.ID, run.Status, run.EndAt, run.DurationMs, counts, run.ErrorSummary, detail,
	)
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id, task_id, trigger_type, status, start_at, end_at,
	duration_ms, counts, error_summary, error_detail`

func scanRun(row pgx.Row) (core.Run, error) {
	var run core.Run
	var counts, detail []byte
	err := row.Scan(&run.ID, &run.TaskID, &run.Trigger, &run.Status, &run.StartAt,
		&run.EndAt, &run.DurationMs, &counts, &run.ErrorSummary, &detail)
	if err != nil {
		return core.Run{}, err
	}
	if err := fromJSON(counts, &run.Counts); err != nil {
		return core.Run{}, err
	}
	if err := fromJSON(detail, &run.ErrorDetail); err != nil {
		return core.Run{}, err
	}
	return run, nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (core.Run, error) {
	row := s.db.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Run{}, ErrNotFound
	}
	if err != nil {
		return core.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs for a task, newest first. An empty taskID lists all.
func (s *Store) ListRuns(ctx context.Context, taskID string, limit int) ([]core.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY start_at DESC LIMIT $1`
	args := []any{limit}
	if taskID != "" {
		query = `SELECT ` + runColumns + ` FROM runs WHERE task_id = $1 ORDER BY start_at DESC LIMIT $2`
		args = []any{taskID, limit}
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

const videoColumns = `bvid, title, up_id, up_name, follower_count, publish_time,
	fetch_time, cover_url, stats, fav_rate, coin_rate, reply_rate, fav_fan_ratio,
	basic_hot, low_fan_hot, process_status, note, tags, source_task_ids`

func scanVideo(row pgx.Row) (core.Video, error) {
	var video core.Video
	var stats, basicHot, lowFanHot, tags, sourceIDs []byte
	err := row.Scan(&video.BVID, &video.Title, &video.UpID, &video.UpName,
		&video.FollowerCount, &video.PublishTime, &video.FetchTime, &video.CoverURL,
		&stats, &video.FavRate, &video.CoinRate, &video.ReplyRate, &video.FavFanRatio,
		&basicHot, &lowFanHot, &video.ProcessStatus, &video.Note, &tags, &sourceIDs)
	if err != nil {
		return core.Video{}, err
	}
	for _, pair := range []struct {
		raw []byte
		dst any
	}{
		{stats, &video.Stats},
		{basicHot, &video.BasicHot},
		{lowFanHot, &video.LowFanHot},
		{tags, &video.Tags},
		{sourceIDs, &video.SourceTaskIDs},
	} {
		if err := fromJSON(pair.raw, pair.dst); err != nil {
			return core.Video{}, err
		}
	}
	return video, nil
}

// GetVideo fetches a video by BVID.
func (s *Store) GetVideo(ctx context.Context, bvid string) (core.Video, bool, error) {
	row := s.db.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE bvid = $1`, bvid)
	video, err := scanVideo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Video{}, false, nil
	}
	if err != nil {
		return core.Video{}, false, fmt.Errorf("get video: %w", err)
	}
	return video, true, nil
}

// UpsertVideo writes the full video row, inserting or replacing by BVID.
func (s *Store) UpsertVideo(ctx context.Context, video core.Video) error {
	stats, err := asJSON(video.Stats)
	if err != nil {
		return err
	}
	basicHot, err := asJSON(video.BasicHot)
	if err != nil {
		return err
	}
	lowFanHot, err := asJSON(video.LowFanHot)
	if err != nil {
		return err
	}
	tags, err := asJSON(video.Tags)
	if err != nil {
		return err
	}
	sourceIDs, err := asJSON(video.SourceTaskIDs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO videos (bvid, title, up_id, up_name, follower_count, publish_time,
			fetch_time, cover_url, stats, fav_rate, coin_rate, reply_rate, fav_fan_ratio,
			basic_hot, low_fan_hot, process_status, note, tags, source_task_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (bvid) DO UPDATE SET
			title = EXCLUDED.title,
			up_id = EXCLUDED.up_id,
			up_name = EXCLUDED.up_name,
			follower_count = EXCLUDED.follower_count,
			publish_time = EXCLUDED.publish_time,
			fetch_time = EXCLUDED.fetch_time,
			cover_url = EXCLUDED.cover_url,
			stats = EXCLUDED.stats,
			fav_rate = EXCLUDED.fav_rate,
			coin_rate = EXCLUDED.coin_rate,
			reply_rate = EXCLUDED.reply_rate,
			fav_fan_ratio = EXCLUDED.fav_fan_ratio,
			basic_hot = EXCLUDED.basic_hot,
			low_fan_hot = EXCLUDED.low_fan_hot,
			process_status = EXCLUDED.process_status,
			note = EXCLUDED.note,
			tags = EXCLUDED.tags,
			source_task_ids = EXCLUDED.source_task_ids`,
		video.BVID, video.Title, video.UpID, video.UpName, video.FollowerCount,
		video.PublishTime, video.FetchTime, video.CoverURL, stats, video.FavRate,
		video.CoinRate, video.ReplyRate, video.FavFanRatio, basicHot, lowFanHot,
		video.ProcessStatus, video.Note, tags, sourceIDs,
	)
	if err != nil {
		return fmt.Errorf("upsert video: %w", err)
	}
	return nil
}

// ListVideos returns videos ordered by fetch time, newest first.
func (s *Store) ListVideos(ctx context.Context, limit, offset int) ([]core.Video, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+videoColumns+` FROM videos ORDER BY fetch_time DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()
	var out []core.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		out = append(out, video)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	return out, nil
}

// PatchVideo updates the manual triage fields only.
func (s *Store) PatchVideo(ctx context.Context, bvid string, status *core.ProcessStatus, note *string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE videos SET
			process_status = COALESCE($2, process_status),
			note = COALESCE($3, note)
		WHERE bvid = $1`,
		bvid, status, note,
	)
	if err != nil {
		return fmt.Errorf("patch video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureLink inserts the (task, video) pair if absent.
func (s *Store) EnsureLink(ctx context.Context, taskID, bvid string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO task_videos (task_id, bvid) VALUES ($1, $2)
		ON CONFLICT (task_id, bvid) DO NOTHING`,
		taskID, bvid,
	)
	if err != nil {
		return false, fmt.Errorf("ensure link: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetSubtitle fetches the subtitle row for a video.
func (s *Store) GetSubtitle(ctx context.Context, bvid string) (core.Subtitle, bool, error) {
	var subtitle core.Subtitle
	err := s.db.QueryRow(ctx,
		`SELECT bvid, status, body, format, error, updated_at FROM subtitles WHERE bvid = $1`,
		bvid,
	).Scan(&subtitle.BVID, &subtitle.Status, &subtitle.Text, &subtitle.Format,
		&subtitle.Error, &subtitle.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Subtitle{}, false, nil
	}
	if err != nil {
		return core.Subtitle{}, false, fmt.Errorf("get subtitle: %w", err)
	}
	return subtitle, true, nil
}

// SaveSubtitle writes the subtitle row, inserting or replacing by BVID.
func (s *Store) SaveSubtitle(ctx context.Context, subtitle core.Subtitle) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO subtitles (bvid, status, body, format, error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (bvid) DO UPDATE SET
			status = EXCLUDED.status,
			body = EXCLUDED.body,
			format = EXCLUDED.format,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at`,
		subtitle.BVID, subtitle.Status, subtitle.Text, subtitle.Format,
		subtitle.Error, subtitle.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save subtitle: %w", err)
	}
	return nil
}

// CreateAlert inserts an alert and fills in its assigned ID.
func (s *Store) CreateAlert(ctx context.Context, alert *core.Alert) error {
	meta, err := asJSON(alert.Meta)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO alerts (task_id, alert_type, level, title, message, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		alert.TaskID, alert.Type, alert.Level, alert.Title, alert.Message, meta, alert.CreatedAt,
	).Scan(&alert.ID)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// HasRecentAlert reports whether an alert of the given type exists for the
// task since the given time.
func (s *Store) HasRecentAlert(ctx context.Context, taskID, alertType string, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM alerts
			WHERE task_id = $1 AND alert_type = $2 AND created_at >= $3
		)`,
		taskID, alertType, since,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent alert: %w", err)
	}
	return exists, nil
}

// ListAlerts returns alerts, newest first.
func (s *Store) ListAlerts(ctx context.Context, unreadOnly bool, limit int) ([]core.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, task_id, alert_type, level, title, message, meta, created_at, read_at
		FROM alerts ORDER BY created_at DESC LIMIT $1`
	if unreadOnly {
		query = `SELECT id, task_id, alert_type, level, title, message, meta, created_at, read_at
			FROM alerts WHERE read_at IS NULL ORDER BY created_at DESC LIMIT $1`
	}
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()
	var out []core.Alert
	for rows.Next() {
		var alert core.Alert
		var meta []byte
		err := rows.Scan(&alert.ID, &alert.TaskID, &alert.Type, &alert.Level,
			&alert.Title, &alert.Message, &meta, &alert.CreatedAt, &alert.ReadAt)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if err := fromJSON(meta, &alert.Meta); err != nil {
			return nil, err
		}
		out = append(out, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return out, nil
}

// MarkAlertRead sets the read timestamp on an alert.
func (s *Store) MarkAlertRead(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE alerts SET read_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark alert read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSetting fetches the singleton setting row.
func (s *Store) GetSetting(ctx context.Context) (core.SystemSetting, bool, error) {
	var setting core.SystemSetting
	err := s.db.QueryRow(ctx, `
		SELECT rate_limit_per_sec, retry_times, timeout_seconds,
			alert_consecutive_failures, updated_at
		FROM system_settings WHERE id = 1`,
	).Scan(&setting.RateLimitPerSec, &setting.RetryTimes, &setting.TimeoutSeconds,
		&setting.AlertConsecutiveFailures, &setting.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.SystemSetting{}, false, nil
	}
	if err != nil {
		return core.SystemSetting{}, false, fmt.Errorf("get setting: %w", err)
	}
	return setting, true, nil
}

// SaveSetting writes the singleton setting row.
func (s *Store) SaveSetting(ctx context.Context, setting core.SystemSetting) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO system_settings (id, rate_limit_per_sec, retry_times,
			timeout_seconds, alert_consecutive_failures, updated_at)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			rate_limit_per_sec = EXCLUDED.rate_limit_per_sec,
			retry_times = EXCLUDED.retry_times,
			timeout_seconds = EXCLUDED.timeout_seconds,
			alert_consecutive_failures = EXCLUDED.alert_consecutive_failures,
			updated_at = EXCLUDED.updated_at`,
		setting.RateLimitPerSec, setting.RetryTimes, setting.TimeoutSeconds,
		setting.AlertConsecutiveFailures, setting.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save setting: %w", err)
	}
	return nil
}
