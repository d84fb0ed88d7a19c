// Package runner executes one crawl-and-classify pass for a task.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uplens/uplens/internal/core"
	"github.com/uplens/uplens/internal/metrics"
	"github.com/uplens/uplens/internal/rules"
)

// Runner orchestrates the crawl pipeline: collect, filter, classify, persist.
// The collector is injected so tests and dry-run previews can swap in a stub.
type Runner struct {
	store     core.Store
	collector core.Collector
	clock     core.Clock
	logger    *zap.Logger
}

// New constructs a Runner.
func New(store core.Store, collector core.Collector, clock core.Clock, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:     store,
		collector: collector,
		clock:     clock,
		logger:    logger,
	}
}

// errorRecorder keeps at most core.MaxErrorSamples structured failure samples.
type errorRecorder struct {
	samples []core.ErrorSample
}

func (r *errorRecorder) record(sample core.ErrorSample) {
	if len(r.samples) >= core.MaxErrorSamples {
		return
	}
	r.samples = append(r.samples, sample)
}

// Run executes the task and finalizes a Run row exactly once, whatever
// happens in between. The returned Run is the terminal row.
func (r *Runner) Run(ctx context.Context, task *core.Task, trigger core.Trigger) (core.Run, error) {
	start := r.clock.Now()
	run := core.Run{
		ID:      uuid.NewString(),
		TaskID:  task.ID,
		Trigger: trigger,
		Status:  core.RunRunning,
		StartAt: start,
	}
	if err := r.store.CreateRun(ctx, &run); err != nil {
		return core.Run{}, fmt.Errorf("create run: %w", err)
	}

	// The singleton setting is fetched once per run so operator changes to
	// pacing/retry/timeout and the alert threshold apply on the next run.
	setting := r.loadSetting(ctx)
	r.applySetting(setting)

	counts := core.RunCounts{}
	recorder := &errorRecorder{}

	if err := r.executeGuarded(ctx, task, &counts, recorder); err != nil {
		// Failures outside the per-keyword/per-item boundaries force failed.
		run.Status = core.RunFailed
		run.ErrorSummary = err.Error()
		recorder.record(core.ErrorSample{Stage: "run", Message: err.Error()})
		task.ConsecutiveFailures++
	} else {
		run.Status = deriveStatus(counts)
		if run.Status == core.RunSuccess {
			task.ConsecutiveFailures = 0
		} else {
			task.ConsecutiveFailures++
		}
	}

	r.maybeCreateAlert(ctx, task, &run, setting)

	if run.ErrorSummary == "" && len(recorder.samples) > 0 {
		run.ErrorSummary = fmt.Sprintf("%d errors", len(recorder.samples))
	}
	run.ErrorDetail = recorder.samples
	end := r.clock.Now()
	run.EndAt = &end
	run.DurationMs = end.Sub(start).Milliseconds()
	run.Counts = counts

	if err := r.store.FinalizeRun(ctx, run); err != nil {
		r.logger.Error("finalize run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	if err := r.store.UpdateTask(ctx, task); err != nil {
		r.logger.Error("update task failed", zap.String("task_id", task.ID), zap.Error(err))
	}
	metrics.ObserveRun(string(run.Status))
	r.logger.Info("run finished",
		zap.String("task_id", task.ID),
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("fetched", counts.Fetched),
		zap.Int("failed_items", counts.FailedItems),
	)
	return run, nil
}

// executeGuarded runs the pipeline and converts panics into a single
// run-level error so the run always finalizes.
func (r *Runner) executeGuarded(ctx context.Context, task *core.Task, counts *core.RunCounts, recorder *errorRecorder) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("run panicked: %v", rec)
		}
	}()

	unique := r.collectAndFilter(ctx, task, counts, recorder)
	for _, candidate := range unique {
		if upErr := r.upsertItem(ctx, task, candidate, counts); upErr != nil {
			counts.FailedItems++
			recorder.record(core.ErrorSample{Stage: "upsert", Message: upErr.Error(), BVID: candidate.BVID})
			metrics.ObserveItem("failed")
		}
	}
	return nil
}

// collectAndFilter performs search across keywords, exclusion filtering and
// last-seen-wins dedup, updating counts as it goes.
func (r *Runner) collectAndFilter(ctx context.Context, task *core.Task, counts *core.RunCounts, recorder *errorRecorder) []core.Candidate {
	var candidates []core.Candidate
	for _, keyword := range task.Keywords {
		items, err := r.collector.Search(ctx, keyword, task.Scope)
		if err != nil {
			counts.FailedItems++
			recorder.record(core.ErrorSample{Stage: "search", Message: err.Error(), Keyword: keyword})
			continue
		}
		candidates = append(candidates, items...)
	}
	counts.Fetched = len(candidates)

	excludeWords := normalizeWords(task.ExcludeWords)
	if len(excludeWords) > 0 {
		filtered := candidates[:0]
		for _, item := range candidates {
			if titleExcluded(item.Title, excludeWords) {
				counts.Excluded++
				metrics.ObserveItem("excluded")
				continue
			}
			filtered = append(filtered, item)
		}
		candidates = filtered
	}
	afterExclusion := len(candidates)

	// Last-seen-wins within the batch, first-seen position preserved.
	index := make(map[string]int, len(candidates))
	var unique []core.Candidate
	for _, item := range candidates {
		if item.BVID == "" {
			continue
		}
		if pos, seen := index[item.BVID]; seen {
			unique[pos] = item
			continue
		}
		index[item.BVID] = len(unique)
		unique = append(unique, item)
	}
	counts.Deduped = afterExclusion - len(unique)
	if counts.Deduped > 0 {
		for i := 0; i < counts.Deduped; i++ {
			metrics.ObserveItem("deduped")
		}
	}
	return unique
}

// computedItem is the enriched, classified view of one candidate.
type computedItem struct {
	title       string
	upID        string
	upName      string
	coverURL    string
	publishTime *time.Time
	stats       core.Stats
	creator     core.CreatorInfo
	tags        core.Tags
}

// computeItem enriches a candidate and classifies it. Prefers detail fields
// over the raw search result, which may carry truncated or stale values.
func (r *Runner) computeItem(ctx context.Context, task *core.Task, candidate core.Candidate) (computedItem, error) {
	detail, err := r.collector.Detail(ctx, candidate.BVID)
	if err != nil {
		return computedItem{}, fmt.Errorf("detail %s: %w", candidate.BVID, err)
	}

	stats := detail.Stats
	if detail.Empty() {
		// Degraded detail response: try the dedicated stat endpoint before
		// falling back to the (possibly stale) search-result numbers.
		stats = candidate.Stats
		if fetched, statErr := r.collector.Stats(ctx, candidate.BVID); statErr == nil && fetched != (core.Stats{}) {
			stats = fetched
		}
	}
	upID := firstNonEmpty(detail.UpID, candidate.UpID)

	creator, err := r.collector.CreatorInfo(ctx, upID)
	if err != nil {
		return computedItem{}, fmt.Errorf("creator info %s: %w", upID, err)
	}

	publishTime := candidate.PublishTime
	if publishTime == nil {
		publishTime = detail.PublishTime
	}

	item := computedItem{
		title:       firstNonEmpty(detail.Title, candidate.Title),
		upID:        upID,
		upName:      firstNonEmpty(detail.UpName, creator.UpName, candidate.UpName),
		coverURL:    firstNonEmpty(detail.CoverURL, candidate.CoverURL),
		publishTime: publishTime,
		stats:       stats,
		creator:     creator,
		tags:        rules.Evaluate(stats, creator.FollowerCount, task.Rules),
	}
	return item, nil
}

// upsertItem enriches one unique candidate and writes video, link and
// subtitle rows. Partial responses never erase previously known fields.
func (r *Runner) upsertItem(ctx context.Context, task *core.Task, candidate core.Candidate, counts *core.RunCounts) error {
	computed, err := r.computeItem(ctx, task, candidate)
	if err != nil {
		return err
	}
	bvid := candidate.BVID

	video, found, err := r.store.GetVideo(ctx, bvid)
	if err != nil {
		return fmt.Errorf("get video %s: %w", bvid, err)
	}
	if !found {
		video = core.Video{
			BVID:          bvid,
			ProcessStatus: core.DefaultProcessStatus,
		}
	}

	video.Title = firstNonEmpty(computed.title, video.Title)
	video.UpID = firstNonEmpty(computed.upID, video.UpID)
	video.UpName = firstNonEmpty(computed.upName, video.UpName)
	video.FollowerCount = computed.creator.FollowerCount
	if computed.publishTime != nil {
		video.PublishTime = computed.publishTime
	}
	video.CoverURL = firstNonEmpty(computed.coverURL, video.CoverURL)
	video.FetchTime = r.clock.Now()
	video.Stats = computed.stats

	// Rates always derive from the stats stored on this same row.
	if video.Stats.Views > 0 {
		views := float64(video.Stats.Views)
		video.FavRate = float64(video.Stats.Fav) / views
		video.CoinRate = float64(video.Stats.Coin) / views
		video.ReplyRate = float64(video.Stats.Reply) / views
	} else {
		video.FavRate = 0
		video.CoinRate = 0
		video.ReplyRate = 0
	}
	if video.FollowerCount > 0 {
		video.FavFanRatio = float64(video.Stats.Fav) / float64(video.FollowerCount)
	} else {
		video.FavFanRatio = 0
	}

	video.BasicHot = computed.tags.BasicHot
	video.LowFanHot = computed.tags.LowFanHot
	if video.BasicHot.Hit {
		counts.BasicHot++
	}
	if video.LowFanHot.Hit {
		counts.LowFanHot++
	}

	video.Tags = mergeTags(video.Tags, task.Tags)
	if !contains(video.SourceTaskIDs, task.ID) {
		video.SourceTaskIDs = append(video.SourceTaskIDs, task.ID)
	}

	if err := r.store.UpsertVideo(ctx, video); err != nil {
		return fmt.Errorf("upsert video %s: %w", bvid, err)
	}

	created, err := r.store.EnsureLink(ctx, task.ID, bvid)
	if err != nil {
		return fmt.Errorf("ensure link %s: %w", bvid, err)
	}
	if created && !found {
		counts.Inserted++
	}

	if _, exists, err := r.store.GetSubtitle(ctx, bvid); err != nil {
		return fmt.Errorf("get subtitle %s: %w", bvid, err)
	} else if !exists {
		placeholder := core.Subtitle{
			BVID:      bvid,
			Status:    core.SubtitleNone,
			Format:    core.DefaultSubtitleFormat,
			UpdatedAt: r.clock.Now(),
		}
		if err := r.store.SaveSubtitle(ctx, placeholder); err != nil {
			return fmt.Errorf("save subtitle %s: %w", bvid, err)
		}
	}

	metrics.ObserveItem("upserted")
	return nil
}

// DryRun executes the pipeline without any persistence, returning counts,
// up to limit literal samples and the bounded error list.
func (r *Runner) DryRun(ctx context.Context, task *core.Task, limit int) core.DryRunReport {
	r.applySetting(r.loadSetting(ctx))

	counts := core.RunCounts{}
	recorder := &errorRecorder{}
	var samples []core.DryRunSample

	unique := r.collectAndFilter(ctx, task, &counts, recorder)
	for _, candidate := range unique {
		computed, err := r.computeItem(ctx, task, candidate)
		if err != nil {
			counts.FailedItems++
			recorder.record(core.ErrorSample{Stage: "compute", Message: err.Error(), BVID: candidate.BVID})
			continue
		}
		if computed.tags.BasicHot.Hit {
			counts.BasicHot++
		}
		if computed.tags.LowFanHot.Hit {
			counts.LowFanHot++
		}
		if len(samples) < limit {
			samples = append(samples, core.DryRunSample{
				BVID:        candidate.BVID,
				Title:       computed.title,
				UpName:      computed.upName,
				PublishTime: computed.publishTime,
				Stats:       computed.stats,
				Tags:        computed.tags,
			})
		}
	}
	return core.DryRunReport{Counts: counts, Samples: samples, Errors: recorder.samples}
}

// ExtractSubtitle lazily pulls subtitle text for an already-known video,
// walking the none → extracting → done|failed lifecycle.
func (r *Runner) ExtractSubtitle(ctx context.Context, bvid string) (core.Subtitle, error) {
	if _, found, err := r.store.GetVideo(ctx, bvid); err != nil {
		return core.Subtitle{}, fmt.Errorf("get video %s: %w", bvid, err)
	} else if !found {
		return core.Subtitle{}, fmt.Errorf("video %s: %w", bvid, core.ErrVideoNotFound)
	}

	subtitle, found, err := r.store.GetSubtitle(ctx, bvid)
	if err != nil {
		return core.Subtitle{}, fmt.Errorf("get subtitle %s: %w", bvid, err)
	}
	if !found {
		subtitle = core.Subtitle{BVID: bvid, Format: core.DefaultSubtitleFormat}
	}
	subtitle.Status = core.SubtitleExtracting
	subtitle.UpdatedAt = r.clock.Now()
	if err := r.store.SaveSubtitle(ctx, subtitle); err != nil {
		return core.Subtitle{}, fmt.Errorf("save subtitle %s: %w", bvid, err)
	}

	text, err := r.collector.Subtitle(ctx, bvid)
	if err != nil || text == "" {
		subtitle.Status = core.SubtitleFailed
		subtitle.Error = "subtitle not found"
		if err != nil {
			subtitle.Error = err.Error()
		}
	} else {
		subtitle.Status = core.SubtitleDone
		subtitle.Text = text
		subtitle.Error = ""
	}
	subtitle.UpdatedAt = r.clock.Now()
	if err := r.store.SaveSubtitle(ctx, subtitle); err != nil {
		return core.Subtitle{}, fmt.Errorf("save subtitle %s: %w", bvid, err)
	}
	return subtitle, nil
}

// maybeCreateAlert applies the failure-streak policy with 24h suppression.
func (r *Runner) maybeCreateAlert(ctx context.Context, task *core.Task, run *core.Run, setting core.SystemSetting) {
	if run.Status == core.RunSuccess || run.Status == core.RunRunning {
		return
	}
	if task.ConsecutiveFailures < setting.AlertConsecutiveFailures {
		return
	}
	since := r.clock.Now().Add(-24 * time.Hour)
	exists, err := r.store.HasRecentAlert(ctx, task.ID, core.AlertTypeTaskFailure, since)
	if err != nil {
		r.logger.Error("alert recency check failed", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	if exists {
		return
	}
	alert := core.Alert{
		TaskID:    task.ID,
		Type:      core.AlertTypeTaskFailure,
		Level:     "warning",
		Title:     fmt.Sprintf("任务连续失败：%s", task.Name),
		Message:   fmt.Sprintf("任务已连续失败 %d 次，最后状态：%s。", task.ConsecutiveFailures, run.Status),
		Meta: map[string]any{
			"task_id":              task.ID,
			"run_id":               run.ID,
			"consecutive_failures": task.ConsecutiveFailures,
		},
		CreatedAt: r.clock.Now(),
	}
	if err := r.store.CreateAlert(ctx, &alert); err != nil {
		r.logger.Error("create alert failed", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	metrics.ObserveAlert()
}

// applySetting pushes the per-run setting into collectors that accept one.
// The stub has fixed behavior and ignores it.
func (r *Runner) applySetting(setting core.SystemSetting) {
	if rc, ok := r.collector.(interface{ Reconfigure(core.SystemSetting) }); ok {
		rc.Reconfigure(setting)
	}
}

// loadSetting reads the singleton system setting, lazily writing defaults.
func (r *Runner) loadSetting(ctx context.Context) core.SystemSetting {
	setting, found, err := r.store.GetSetting(ctx)
	if err != nil {
		r.logger.Warn("load setting failed, using defaults", zap.Error(err))
		return core.DefaultSetting()
	}
	if !found {
		setting = core.DefaultSetting()
		if err := r.store.SaveSetting(ctx, setting); err != nil {
			r.logger.Warn("persist default setting failed", zap.Error(err))
		}
	}
	return setting
}

func deriveStatus(counts core.RunCounts) core.RunStatus {
	switch {
	case counts.FailedItems > 0 && counts.Fetched == 0:
		return core.RunFailed
	case counts.FailedItems > 0:
		return core.RunPartial
	default:
		return core.RunSuccess
	}
}

func normalizeWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func titleExcluded(title string, excludeWords []string) bool {
	if title == "" {
		return false
	}
	lower := strings.ToLower(title)
	for _, word := range excludeWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

func mergeTags(existing, incoming []string) []string {
	merged := make([]string, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	add := func(tag string) {
		if _, ok := seen[tag]; ok {
			return
		}
		seen[tag] = struct{}{}
		merged = append(merged, tag)
	}
	for _, tag := range existing {
		add(tag)
	}
	for _, tag := range incoming {
		if tag = strings.TrimSpace(tag); tag != "" {
			add(tag)
		}
	}
	if len(merged) == 0 {
		return existing
	}
	return merged
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
