package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"recurring-planner/internal/model"
	"recurring-planner/internal/recurrence"
	"recurring-planner/internal/repository/memory"
	"recurring-planner/internal/store"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func days(ss ...string) []time.Time {
	out := make([]time.Time, len(ss))
	for i, s := range ss {
		out[i] = day(s)
	}
	return out
}

func datePtr(s string) *time.Time {
	t := day(s)
	return &t
}

type fixture struct {
	store     *memory.Store
	templates *TemplateService
	gen       *GenerationService
}

func newFixture(t *testing.T, cfg GenerationConfig) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	st := memory.New()
	return &fixture{
		store:     st,
		templates: NewTemplateService(st, nil, log),
		gen:       NewGenerationService(st, cfg, log),
	}
}

func (f *fixture) create(t *testing.T, anchor string, in recurrence.PatternInput) *model.Template {
	t.Helper()
	tmpl, err := f.templates.CreateTemplate(context.Background(), TemplateInput{
		UserID:     1,
		Title:      "water plants",
		AnchorDate: day(anchor),
		Pattern:    in,
	})
	require.NoError(t, err)
	return tmpl
}

func (f *fixture) generate(t *testing.T, now string) Report {
	t.Helper()
	report, err := f.gen.Generate(context.Background(), day(now).Add(9*time.Hour))
	require.NoError(t, err)
	return report
}

func (f *fixture) instanceDates(t *testing.T, templateID uint) []time.Time {
	t.Helper()
	tasks, err := f.store.ListInstances(context.Background(), templateID)
	require.NoError(t, err)
	out := make([]time.Time, len(tasks))
	for i, task := range tasks {
		out[i] = *task.InstanceDate
	}
	return out
}

func (f *fixture) template(t *testing.T, id uint) *model.Template {
	t.Helper()
	tmpl, err := f.store.GetTemplate(context.Background(), id)
	require.NoError(t, err)
	return tmpl
}

func TestGenerate_SlidingHorizonScenario(t *testing.T) {
	f := newFixture(t, GenerationConfig{HorizonDays: 5})
	tmpl := f.create(t, "2024-01-01", recurrence.PatternInput{Frequency: "daily", Interval: 1})

	report := f.generate(t, "2024-01-03")
	assert.Equal(t, 8, report.Counts()[tmpl.ID])
	assert.Empty(t, cmp.Diff(days(
		"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04",
		"2024-01-05", "2024-01-06", "2024-01-07", "2024-01-08",
	), f.instanceDates(t, tmpl.ID)))
	assert.Equal(t, day("2024-01-08"), *f.template(t, tmpl.ID).GeneratedUntil)

	report = f.generate(t, "2024-01-04")
	assert.Equal(t, 1, report.Counts()[tmpl.ID])
	assert.Equal(t, day("2024-01-09"), f.instanceDates(t, tmpl.ID)[8])

	report = f.generate(t, "2024-01-04")
	assert.Equal(t, 0, report.TotalInstancesCreated())

	report = f.generate(t, "2024-01-02")
	assert.Equal(t, 0, report.TotalInstancesCreated())
	assert.Len(t, f.instanceDates(t, tmpl.ID), 9)
	assert.Equal(t, day("2024-01-09"), *f.template(t, tmpl.ID).GeneratedUntil)
}

func TestGenerate_Idempotent(t *testing.T) {
	f := newFixture(t, GenerationConfig{HorizonDays: 30})
	tmpl := f.create(t, "2024-03-01", recurrence.PatternInput{Frequency: "weekly", Interval: 1, DaysOfWeek: []int{2, 4}})

	first := f.generate(t, "2024-03-01")
	require.Positive(t, first.TotalInstancesCreated())
	before := f.instanceDates(t, tmpl.ID)
	cursor := f.template(t, tmpl.ID).GeneratedUntil

	second := f.generate(t, "2024-03-01")
	assert.Equal(t, 0, second.TotalInstancesCreated())
	assert.Empty(t, cmp.Diff(before, f.instanceDates(t, tmpl.ID)))
	assert.Equal(t, cursor, f.template(t, tmpl.ID).GeneratedUntil)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestGenerate_PatternShapes(t *testing.T) {
	tests := []struct {
		name    string
		horizon int
		anchor  string
		now     string
		pattern recurrence.PatternInput
		want    []time.Time
	}{
		{
			name:    "weekly mon wed every other week",
			horizon: 27,
			anchor:  "2024-01-01",
			now:     "2024-01-01",
			pattern: recurrence.PatternInput{Frequency: "weekly", Interval: 2, DaysOfWeek: []int{1, 3}},
			want:    days("2024-01-01", "2024-01-03", "2024-01-15", "2024-01-17"),
		},
		{
			name:    "monthly on the 31st clamps to month end",
			horizon: 90,
			anchor:  "2024-01-31",
			now:     "2024-01-31",
			pattern: recurrence.PatternInput{Frequency: "monthly", Interval: 1, DayOfMonth: 31},
			want:    days("2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30"),
		},
		{
			name:    "yearly on leap day",
			horizon: 800,
			anchor:  "2024-02-29",
			now:     "2024-02-29",
			pattern: recurrence.PatternInput{Frequency: "yearly", Interval: 1},
			want:    days("2024-02-29", "2025-02-28", "2026-02-28"),
		},
		{
			name:    "every third day",
			horizon: 10,
			anchor:  "2024-05-01",
			now:     "2024-05-01",
			pattern: recurrence.PatternInput{Frequency: "daily", Interval: 3},
			want:    days("2024-05-01", "2024-05-04", "2024-05-07", "2024-05-10"),
		},
		{
			name:    "anchor in the future",
			horizon: 7,
			anchor:  "2024-06-05",
			now:     "2024-06-01",
			pattern: recurrence.PatternInput{Frequency: "daily", Interval: 1},
			want:    days("2024-06-05", "2024-06-06", "2024-06-07", "2024-06-08"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, GenerationConfig{HorizonDays: tt.horizon})
			tmpl := f.create(t, tt.anchor, tt.pattern)

			report := f.generate(t, tt.now)
			assert.Equal(t, len(tt.want), report.Counts()[tmpl.ID])
			if diff := cmp.Diff(tt.want, f.instanceDates(t, tmpl.ID)); diff != "" {
				t.Errorf("instances mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGenerate_MaxOccurrencesAcrossRuns(t *testing.T) {
	f := newFixture(t, GenerationConfig{HorizonDays: 1})
	tmpl := f.create(t, "2024-01-01", recurrence.PatternInput{Frequency: "daily", Interval: 1, MaxOccurrences: 3})

	report := f.generate(t, "2024-01-01")
	assert.Equal(t, 2, report.Counts()[tmpl.ID])
	assert.True(t, f.template(t, tmpl.ID).Active)

	report = f.generate(t, "2024-01-02")
	assert.Equal(t, 1, report.Counts()[tmpl.ID])
	assert.True(t, report.Results[0].Deactivated)

	got := f.template(t, tmpl.ID)
	assert.False(t, got.Active)
	assert.Equal(t, 3, got.OccurrencesGenerated)

	report = f.generate(t, "2024-01-05")
	assert.Empty(t, report.Results)
	assert.Len(t, f.instanceDates(t, tmpl.ID), 3)
}

func TestGenerate_MaxOccurrencesWithinWindow(t *testing.T) {
	f := newFixture(t, GenerationConfig{HorizonDays: 30})
	tmpl := f.create(t, "2024-01-01", recurrence.PatternInput{Frequency: "daily", Interval: 2, MaxOccurrences: 3})

	report := f.generate(t, "2024-01-01")
	assert.Equal(t, 3, report.Counts()[tmpl.ID])
	assert.Empty(t, cmp.Diff(days("2024-01-01", "2024-01-03", "2024-01-05"), f.instanceDates(t, tmpl.ID)))

	got := f.template(t, tmpl.ID)
	assert.False(t, got.Active)
	assert.Equal(t, day("2024-01-05"), *got.GeneratedUntil)
}

func TestGenerate_EndDate(t *testing.T) {
	f := newFixture(t, GenerationConfig{HorizonDays: 10})
	tmpl := f.create(t, "2024-01-01", recurrence.PatternInput{
		Frequency: "daily",
		Interval:  1,
		EndDate:   datePtr("2024-01-05"),
	})

	report := f.generate(t, "2024-01-02")
	assert.Equal(t, 5, report.Counts()[tmpl.ID])
	assert.True(t, f.template(t, tmpl.ID).Active, "end date not passed yet")

	report = f.generate(t, "2024-01-05")
	assert.Equal(t, 0, report.TotalInstancesCreated())
	assert.True(t, f.template(t, tmpl.ID).Active)

	report = f.generate(t, "2024-01-06")
	assert.Equal(t, 0, report.TotalInstancesCreated())
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].Deactivated)
	assert.False(t, f.template(t, tmpl.ID).Active)

	for _, d := range f.instanceDates(t, tmpl.ID) {
		assert.False(t, d.After(day("2024-01-05")), "instance %s after end date", d.Format(time.DateOnly))
	}
}

func TestGenerate_PatternChangeKeepsHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, GenerationConfig{HorizonDays: 2})
	tmpl := f.create(t, "2024-01-01", recurrence.PatternInput{Frequency: "daily", Interval: 1})

	f.generate(t, "2024-01-01")
	before := f.instanceDates(t, tmpl.ID)
	require.Len(t, before, 3)

	_, err := f.templates.UpdatePattern(ctx, tmpl.ID, recurrence.PatternInput{Frequency: "daily", Interval: 3})
	require.NoError(t, err)
	assert.Equal(t, day("2024-01-03"), *f.template(t, tmpl.ID).GeneratedUntil)

	report := f.generate(t, "2024-01-10")
	assert.Equal(t, 3, report.Counts()[tmpl.ID])
	assert.Empty(t, cmp.Diff(days(
		"2024-01-01", "2024-01-02", "2024-01-03",
		"2024-01-04", "2024-01-07", "2024-01-10",
	), f.instanceDates(t, tmpl.ID)))
}

func TestGenerate_InterleavedRunsDoNotDuplicate(t *testing.T) {
	f := newFixture(t, GenerationConfig{HorizonDays: 6})
	tmpl := f.create(t, "2024-01-01", recurrence.PatternInput{Frequency: "daily", Interval: 1})

	var fired atomic.Bool
	var nested Report
	f.store.SetBeforeCommit(func(uint) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		nested = f.generate(t, "2024-01-01")
	})

	outer := f.generate(t, "2024-01-01")

	assert.Equal(t, 7, nested.Counts()[tmpl.ID])
	assert.Equal(t, 0, outer.Counts()[tmpl.ID], "outer run retries and finds nothing left")
	assert.Empty(t, outer.Failures())

	dates := f.instanceDates(t, tmpl.ID)
	assert.Len(t, dates, 7)
	seen := map[time.Time]bool{}
	for _, d := range dates {
		assert.False(t, seen[d], "duplicate instance on %s", d.Format(time.DateOnly))
		seen[d] = true
	}
	assert.Equal(t, 7, f.template(t, tmpl.ID).OccurrencesGenerated)
}

func TestGenerate_RetriesGiveUp(t *testing.T) {
	f := newFixture(t, GenerationConfig{HorizonDays: 3, Attempts: 2})
	tmpl := f.create(t, "2024-01-01", recurrence.PatternInput{Frequency: "daily", Interval: 1})

	// Every commit finds the version bumped underneath it.
	f.store.SetBeforeCommit(func(id uint) {
		require.NoError(t, f.store.SetActive(context.Background(), id, true))
	})

	report := f.generate(t, "2024-01-01")
	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, KindStorage, res.ErrorKind)
	assert.Contains(t, res.Error, store.ErrStaleCursor.Error())
	assert.Empty(t, f.instanceDates(t, tmpl.ID))
}

func TestGenerate_FailureIsolation(t *testing.T) {
	f := newFixture(t, GenerationConfig{HorizonDays: 2})
	broken := f.create(t, "2024-01-01", recurrence.PatternInput{Frequency: "daily", Interval: 1})
	healthy := f.create(t, "2024-01-01", recurrence.PatternInput{Frequency: "daily", Interval: 1})
	f.store.FailCreates(broken.ID, errors.New("disk full"))

	report := f.generate(t, "2024-01-01")
	require.Len(t, report.Results, 2)

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, broken.ID, failures[0].TemplateID)
	assert.Equal(t, KindStorage, failures[0].ErrorKind)
	assert.Contains(t, failures[0].Error, "disk full")

	assert.Equal(t, 3, report.Counts()[healthy.ID])
	assert.Equal(t, 3, report.TotalInstancesCreated())
	assert.Empty(t, f.instanceDates(t, broken.ID))
	assert.Nil(t, f.template(t, broken.ID).GeneratedUntil, "failed unit leaves the cursor alone")

	f.store.FailCreates(broken.ID, nil)
	report = f.generate(t, "2024-01-01")
	assert.Equal(t, 3, report.Counts()[broken.ID])
	assert.Equal(t, 0, report.Counts()[healthy.ID])
}

func TestGenerate_InvalidStoredPattern(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, GenerationConfig{HorizonDays: 2})
	bad := &model.Template{Title: "bad", Frequency: "fortnightly", Interval: 0, AnchorDate: day("2024-01-01"), Active: true}
	require.NoError(t, f.store.CreateTemplate(ctx, bad))
	good := f.create(t, "2024-01-01", recurrence.PatternInput{Frequency: "daily", Interval: 1})

	report := f.generate(t, "2024-01-01")
	require.Len(t, report.Results, 2)
	assert.Equal(t, bad.ID, report.Results[0].TemplateID)
	assert.Equal(t, KindInvalidPattern, report.Results[0].ErrorKind)
	assert.Contains(t, report.Results[0].Error, "unknown frequency")
	assert.Equal(t, 3, report.Counts()[good.ID])
}

type failingLister struct {
	store.InstanceStore
	err error
}

func (f failingLister) ListActiveTemplates(context.Context) ([]model.Template, error) {
	return nil, f.err
}

func TestGenerate_ListFailureIsBatchError(t *testing.T) {
	cause := errors.New("connection refused")
	gen := NewGenerationService(failingLister{err: cause}, GenerationConfig{}, zaptest.NewLogger(t))

	report, err := gen.Generate(context.Background(), day("2024-01-01"))
	require.Error(t, err)

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.ErrorIs(t, err, cause)
	assert.NotEqual(t, uuid.Nil, report.RunID)
	assert.Empty(t, report.Results)
}

func TestGenerate_PausedTemplateIgnored(t *testing.T) {
	f := newFixture(t, GenerationConfig{HorizonDays: 2})
	tmpl := f.create(t, "2024-01-01", recurrence.PatternInput{Frequency: "daily", Interval: 1})
	require.NoError(t, f.templates.Pause(context.Background(), tmpl.ID))

	report := f.generate(t, "2024-01-01")
	assert.Empty(t, report.Results)
	assert.Empty(t, f.instanceDates(t, tmpl.ID))

	require.NoError(t, f.templates.Resume(context.Background(), tmpl.ID))
	report = f.generate(t, "2024-01-01")
	assert.Equal(t, 3, report.Counts()[tmpl.ID])
}

func TestGenerate_CanceledContextSkipsTemplates(t *testing.T) {
	f := newFixture(t, GenerationConfig{HorizonDays: 2})
	a := f.create(t, "2024-01-01", recurrence.PatternInput{Frequency: "daily", Interval: 1})
	b := f.create(t, "2024-01-01", recurrence.PatternInput{Frequency: "daily", Interval: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.gen.Generate(ctx, day("2024-01-01"))
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Equal(t, []uint{a.ID, b.ID}, report.Skipped)
	assert.Empty(t, f.instanceDates(t, a.ID))
}

func TestGenerate_LocationDecidesToday(t *testing.T) {
	tokyo := time.FixedZone("UTC+9", 9*60*60)
	f := newFixture(t, GenerationConfig{HorizonDays: 1, Location: tokyo})
	tmpl := f.create(t, "2024-01-01", recurrence.PatternInput{Frequency: "daily", Interval: 1})

	// 2024-01-03 20:00 UTC is already 2024-01-04 in Tokyo.
	_, err := f.gen.Generate(context.Background(), day("2024-01-03").Add(20*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, day("2024-01-05"), *f.template(t, tmpl.ID).GeneratedUntil)
}

func TestGenerate_ParallelResultsOrdered(t *testing.T) {
	f := newFixture(t, GenerationConfig{HorizonDays: 4, Concurrency: 4})
	var ids []uint
	for range 10 {
		ids = append(ids, f.create(t, "2024-01-01", recurrence.PatternInput{Frequency: "daily", Interval: 1}).ID)
	}

	report := f.generate(t, "2024-01-01")
	require.Len(t, report.Results, 10)
	for i, res := range report.Results {
		assert.Equal(t, ids[i], res.TemplateID)
		assert.Equal(t, 5, res.InstancesCreated)
	}
	assert.Equal(t, 10, report.TemplatesProcessed())
	assert.Equal(t, 50, report.TotalInstancesCreated())
}

func TestGenerate_InstanceFieldsFromTemplate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, GenerationConfig{HorizonDays: 0})
	tmpl, err := f.templates.CreateTemplate(ctx, TemplateInput{
		UserID:      7,
		Title:       "  pay rent ",
		Description: "landlord",
		AnchorDate:  day("2024-02-01"),
		Pattern:     recurrence.PatternInput{Frequency: "monthly", Interval: 1},
	})
	require.NoError(t, err)

	f.generate(t, "2024-02-01")
	tasks, err := f.store.ListInstances(ctx, tmpl.ID)
	require.NoError(t, err)
	require.NotEmpty(t, tasks)

	first := tasks[0]
	assert.Equal(t, uint(7), first.UserID)
	assert.Equal(t, "pay rent", first.Title)
	assert.Equal(t, "landlord", first.Description)
	assert.Equal(t, tmpl.ID, *first.TemplateID)
	assert.Equal(t, day("2024-02-01"), *first.InstanceDate)
	require.NotNil(t, first.Deadline)
	assert.Equal(t, day("2024-02-01").Add(24*time.Hour-time.Second), *first.Deadline)
	assert.False(t, first.IsCompleted)
}
