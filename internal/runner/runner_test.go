package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uplens/uplens/internal/collector"
	"github.com/uplens/uplens/internal/core"
	"github.com/uplens/uplens/internal/store/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// scriptedCollector layers injectable failures over the canned stub.
type scriptedCollector struct {
	*collector.Stub
	searchErr map[string]error
	detailErr map[string]error
}

func (c *scriptedCollector) Search(ctx context.Context, keyword string, scope core.TaskScope) ([]core.Candidate, error) {
	if err := c.searchErr[keyword]; err != nil {
		return nil, err
	}
	return c.Stub.Search(ctx, keyword, scope)
}

func (c *scriptedCollector) Detail(ctx context.Context, bvid string) (core.VideoDetail, error) {
	if err := c.detailErr[bvid]; err != nil {
		return core.VideoDetail{}, err
	}
	return c.Stub.Detail(ctx, bvid)
}

func newFixture(t *testing.T) (*Runner, *memory.Store, *scriptedCollector, *core.Task) {
	t.Helper()
	store := memory.New()
	stub := &scriptedCollector{
		Stub:      collector.NewStub(),
		searchErr: map[string]error{},
		detailErr: map[string]error{},
	}
	clock := fixedClock{now: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}
	r := New(store, stub, clock, zap.NewNop())

	task := &core.Task{
		ID:       "task-1",
		Name:     "kitchen gadgets",
		Keywords: []string{"air fryer"},
		Tags:     []string{"appliance"},
		Status:   core.TaskEnabled,
		Scope:    core.DefaultScope(),
		Schedule: core.DefaultSchedule(),
		Rules:    core.DefaultRules(),
	}
	require.NoError(t, store.CreateTask(context.Background(), task))
	return r, store, stub, task
}

func candidate(bvid string, views int64) core.Candidate {
	return core.Candidate{
		BVID:  bvid,
		Title: "video " + bvid,
		UpID:  "up-" + bvid,
		Stats: core.Stats{Views: views},
	}
}

func TestRun_DedupsAndInserts(t *testing.T) {
	t.Parallel()

	r, store, stub, task := newFixture(t)
	ctx := context.Background()

	// Five results, three unique BVIDs: last occurrence wins.
	stub.Candidates["air fryer"] = []core.Candidate{
		candidate("BV1", 100),
		candidate("BV2", 200),
		candidate("BV1", 150),
		candidate("BV3", 300),
		candidate("BV2", 250),
	}
	for _, bvid := range []string{"BV1", "BV2", "BV3"} {
		stub.Creators["up-"+bvid] = core.CreatorInfo{UpName: "creator", FollowerCount: 1000}
	}

	run, err := r.Run(ctx, task, core.TriggerManual)
	require.NoError(t, err)
	require.Equal(t, core.RunSuccess, run.Status)
	require.Equal(t, 5, run.Counts.Fetched)
	require.Equal(t, 2, run.Counts.Deduped)
	require.Equal(t, 3, run.Counts.Inserted)
	require.Zero(t, run.Counts.FailedItems)
	require.NotNil(t, run.EndAt)
	require.Zero(t, task.ConsecutiveFailures)

	// Last-seen stats win for duplicated BVIDs.
	video, found, err := store.GetVideo(ctx, "BV1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(150), video.Stats.Views)
	require.Equal(t, []string{"task-1"}, video.SourceTaskIDs)
	require.Equal(t, []string{"appliance"}, video.Tags)
	require.Equal(t, core.ProcessTodo, video.ProcessStatus)

	subtitle, exists, err := store.GetSubtitle(ctx, "BV1")
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, core.SubtitleNone, subtitle.Status)

	stored, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, core.RunSuccess, stored.Status)
}

func TestRun_SecondRunInsertsNothing(t *testing.T) {
	t.Parallel()

	r, _, stub, task := newFixture(t)
	ctx := context.Background()

	stub.Candidates["air fryer"] = []core.Candidate{candidate("BV1", 100)}
	stub.Creators["up-BV1"] = core.CreatorInfo{FollowerCount: 500}

	first, err := r.Run(ctx, task, core.TriggerManual)
	require.NoError(t, err)
	require.Equal(t, 1, first.Counts.Inserted)

	second, err := r.Run(ctx, task, core.TriggerSchedule)
	require.NoError(t, err)
	require.Zero(t, second.Counts.Inserted)
	require.Equal(t, 1, second.Counts.Fetched)
}

func TestRun_ExcludesByTitleSubstring(t *testing.T) {
	t.Parallel()

	r, store, stub, task := newFixture(t)
	ctx := context.Background()

	task.ExcludeWords = []string{"Unboxing", " "}
	stub.Candidates["air fryer"] = []core.Candidate{
		{BVID: "BVkeep", Title: "honest review", UpID: "up-1"},
		{BVID: "BVdrop", Title: "crazy UNBOXING haul", UpID: "up-2"},
	}

	run, err := r.Run(ctx, task, core.TriggerManual)
	require.NoError(t, err)
	require.Equal(t, 2, run.Counts.Fetched)
	require.Equal(t, 1, run.Counts.Excluded)
	require.Equal(t, 1, run.Counts.Inserted)

	_, found, err := store.GetVideo(ctx, "BVdrop")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRun_ClassifiesWithTaskRules(t *testing.T) {
	t.Parallel()

	r, store, stub, task := newFixture(t)
	ctx := context.Background()

	stub.Candidates["air fryer"] = []core.Candidate{candidate("BVhot", 0)}
	stub.Details["BVhot"] = core.VideoDetail{
		BVID:  "BVhot",
		Title: "breakout",
		UpID:  "up-BVhot",
		Stats: core.Stats{Views: 50000, Fav: 700, Coin: 150, Reply: 120},
	}
	stub.Creators["up-BVhot"] = core.CreatorInfo{UpName: "small creator", FollowerCount: 10000}

	run, err := r.Run(ctx, task, core.TriggerManual)
	require.NoError(t, err)
	require.Equal(t, 1, run.Counts.LowFanHot)
	require.Zero(t, run.Counts.BasicHot)

	video, _, err := store.GetVideo(ctx, "BVhot")
	require.NoError(t, err)
	require.True(t, video.LowFanHot.Hit)
	require.False(t, video.BasicHot.Hit)
	require.Equal(t, "breakout", video.Title)
	require.InDelta(t, 0.014, video.FavRate, 1e-9)
	require.InDelta(t, 0.07, video.FavFanRatio, 1e-9)
}

func TestRun_PartialMergePreservesKnownFields(t *testing.T) {
	t.Parallel()

	r, store, stub, task := newFixture(t)
	ctx := context.Background()

	doing := core.ProcessDoing
	require.NoError(t, store.UpsertVideo(ctx, core.Video{
		BVID:          "BV1",
		Title:         "original title",
		UpName:        "original creator",
		ProcessStatus: doing,
		Note:          "keep me",
	}))

	// Degraded pass: no title, no creator name anywhere.
	stub.Candidates["air fryer"] = []core.Candidate{{BVID: "BV1", Stats: core.Stats{Views: 10}}}

	run, err := r.Run(ctx, task, core.TriggerManual)
	require.NoError(t, err)
	require.Zero(t, run.Counts.Inserted) // link is new but the video is not

	video, _, err := store.GetVideo(ctx, "BV1")
	require.NoError(t, err)
	require.Equal(t, "original title", video.Title)
	require.Equal(t, "original creator", video.UpName)
	require.Equal(t, core.ProcessDoing, video.ProcessStatus)
	require.Equal(t, "keep me", video.Note)
	require.Equal(t, int64(10), video.Stats.Views)
}

func TestRun_StatusDerivation(t *testing.T) {
	t.Parallel()

	t.Run("partial when some items fail", func(t *testing.T) {
		t.Parallel()
		r, _, stub, task := newFixture(t)
		task.Keywords = []string{"air fryer", "broken"}
		stub.Candidates["air fryer"] = []core.Candidate{candidate("BV1", 10)}
		stub.searchErr["broken"] = errors.New("search exploded")

		run, err := r.Run(context.Background(), task, core.TriggerManual)
		require.NoError(t, err)
		require.Equal(t, core.RunPartial, run.Status)
		require.Equal(t, 1, run.Counts.Fetched)
		require.Equal(t, 1, run.Counts.FailedItems)
		require.Equal(t, "1 errors", run.ErrorSummary)
		require.Len(t, run.ErrorDetail, 1)
		require.Equal(t, "search", run.ErrorDetail[0].Stage)
		require.Equal(t, "broken", run.ErrorDetail[0].Keyword)
		require.Equal(t, 1, task.ConsecutiveFailures)
	})

	t.Run("failed when nothing fetched", func(t *testing.T) {
		t.Parallel()
		r, _, stub, task := newFixture(t)
		stub.searchErr["air fryer"] = errors.New("search exploded")

		run, err := r.Run(context.Background(), task, core.TriggerManual)
		require.NoError(t, err)
		require.Equal(t, core.RunFailed, run.Status)
		require.Equal(t, 1, task.ConsecutiveFailures)
	})

	t.Run("item failure counts against status", func(t *testing.T) {
		t.Parallel()
		r, _, stub, task := newFixture(t)
		stub.Candidates["air fryer"] = []core.Candidate{candidate("BV1", 10), candidate("BV2", 20)}
		stub.detailErr["BV2"] = errors.New("detail exploded")

		run, err := r.Run(context.Background(), task, core.TriggerManual)
		require.NoError(t, err)
		require.Equal(t, core.RunPartial, run.Status)
		require.Equal(t, 1, run.Counts.Inserted)
		require.Equal(t, 1, run.Counts.FailedItems)
		require.Equal(t, "upsert", run.ErrorDetail[0].Stage)
		require.Equal(t, "BV2", run.ErrorDetail[0].BVID)
	})
}

func TestRun_AlertAfterFailureStreakWithSuppression(t *testing.T) {
	t.Parallel()

	r, store, stub, task := newFixture(t)
	ctx := context.Background()
	stub.searchErr["air fryer"] = errors.New("search exploded")

	for i := 0; i < 2; i++ {
		_, err := r.Run(ctx, task, core.TriggerSchedule)
		require.NoError(t, err)
		alerts, err := store.ListAlerts(ctx, false, 0)
		require.NoError(t, err)
		require.Empty(t, alerts, "no alert before the streak threshold")
	}

	_, err := r.Run(ctx, task, core.TriggerSchedule)
	require.NoError(t, err)
	require.Equal(t, 3, task.ConsecutiveFailures)

	alerts, err := store.ListAlerts(ctx, false, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, core.AlertTypeTaskFailure, alerts[0].Type)
	require.Equal(t, "task-1", alerts[0].TaskID)

	// Streak continues but the 24h window suppresses a second alert.
	_, err = r.Run(ctx, task, core.TriggerSchedule)
	require.NoError(t, err)
	alerts, err = store.ListAlerts(ctx, false, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
}

func TestRun_SuccessResetsFailureStreak(t *testing.T) {
	t.Parallel()

	r, _, stub, task := newFixture(t)
	ctx := context.Background()

	task.ConsecutiveFailures = 2
	stub.Candidates["air fryer"] = []core.Candidate{candidate("BV1", 10)}

	run, err := r.Run(ctx, task, core.TriggerManual)
	require.NoError(t, err)
	require.Equal(t, core.RunSuccess, run.Status)
	require.Zero(t, task.ConsecutiveFailures)
}

func TestDryRun_DoesNotPersist(t *testing.T) {
	t.Parallel()

	r, store, stub, task := newFixture(t)
	ctx := context.Background()

	stub.Candidates["air fryer"] = []core.Candidate{
		candidate("BV1", 10),
		candidate("BV2", 20),
		candidate("BV3", 30),
	}

	report := r.DryRun(ctx, task, 2)
	require.Equal(t, 3, report.Counts.Fetched)
	require.Len(t, report.Samples, 2)
	require.Empty(t, report.Errors)

	for _, bvid := range []string{"BV1", "BV2", "BV3"} {
		_, found, err := store.GetVideo(ctx, bvid)
		require.NoError(t, err)
		require.False(t, found)
	}
	runs, err := store.ListRuns(ctx, task.ID, 0)
	require.NoError(t, err)
	require.Empty(t, runs)
}

func TestExtractSubtitle_Lifecycle(t *testing.T) {
	t.Parallel()

	r, store, stub, _ := newFixture(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertVideo(ctx, core.Video{BVID: "BVsub"}))
	require.NoError(t, store.UpsertVideo(ctx, core.Video{BVID: "BVnone"}))
	stub.Subtitles["BVsub"] = "line one\nline two"

	subtitle, err := r.ExtractSubtitle(ctx, "BVsub")
	require.NoError(t, err)
	require.Equal(t, core.SubtitleDone, subtitle.Status)
	require.Equal(t, "line one\nline two", subtitle.Text)

	subtitle, err = r.ExtractSubtitle(ctx, "BVnone")
	require.NoError(t, err)
	require.Equal(t, core.SubtitleFailed, subtitle.Status)
	require.Equal(t, "subtitle not found", subtitle.Error)

	_, err = r.ExtractSubtitle(ctx, "BVmissing")
	require.ErrorIs(t, err, core.ErrVideoNotFound)
}

// tunableCollector records the setting refresh pushed at the start of a run.
type tunableCollector struct {
	*scriptedCollector
	applied []core.SystemSetting
}

func (c *tunableCollector) Reconfigure(setting core.SystemSetting) {
	c.applied = append(c.applied, setting)
}

func TestRun_RefreshesCollectorSettingEachRun(t *testing.T) {
	t.Parallel()

	store := memory.New()
	tunable := &tunableCollector{scriptedCollector: &scriptedCollector{
		Stub:      collector.NewStub(),
		searchErr: map[string]error{},
		detailErr: map[string]error{},
	}}
	clock := fixedClock{now: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}
	r := New(store, tunable, clock, zap.NewNop())

	ctx := context.Background()
	task := &core.Task{
		ID:       "task-1",
		Name:     "kitchen gadgets",
		Keywords: []string{"air fryer"},
		Status:   core.TaskEnabled,
		Scope:    core.DefaultScope(),
		Schedule: core.DefaultSchedule(),
		Rules:    core.DefaultRules(),
	}
	require.NoError(t, store.CreateTask(ctx, task))

	setting := core.DefaultSetting()
	setting.RateLimitPerSec = 4
	require.NoError(t, store.SaveSetting(ctx, setting))

	_, err := r.Run(ctx, task, core.TriggerManual)
	require.NoError(t, err)
	require.Len(t, tunable.applied, 1)
	require.Equal(t, 4, tunable.applied[0].RateLimitPerSec)

	// An operator change takes effect on the very next run.
	setting.RateLimitPerSec = 9
	require.NoError(t, store.SaveSetting(ctx, setting))

	_, err = r.Run(ctx, task, core.TriggerManual)
	require.NoError(t, err)
	require.Len(t, tunable.applied, 2)
	require.Equal(t, 9, tunable.applied[1].RateLimitPerSec)
}
