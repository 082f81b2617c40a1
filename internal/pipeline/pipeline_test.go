package pipeline_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/precip-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/precip-etl/internal/domain"
	"github.com/couchcryptid/precip-etl/internal/observability"
	"github.com/couchcryptid/precip-etl/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockDownloader struct {
	mu     sync.Mutex
	calls  []string
	failOn string
	err    error
}

func (m *mockDownloader) Download(_ context.Context, state domain.State, dir string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, state.Name)
	if state.Name == m.failOn {
		return 0, m.err
	}
	return 2, os.WriteFile(filepath.Join(dir, "3240_"+state.Code()+"_1986-1988.tar.Z"), []byte("raw"), 0o644)
}

// fixtureArchive writes fixture lines for the state whose directory it is
// combining instead of unpacking anything.
type fixtureArchive struct {
	lines []string
}

func (a *fixtureArchive) Extract(_ context.Context, _, _ string) error { return nil }

func (a *fixtureArchive) Combine(_ string, dstPath string) error {
	return os.WriteFile(dstPath, []byte(strings.Join(a.lines, "\n")+"\n"), 0o644)
}

type mockLoader struct {
	mu     sync.Mutex
	loaded map[string]int
	err    error
}

func (m *mockLoader) Name() string { return "mock" }

func (m *mockLoader) Load(_ context.Context, state domain.State, records []domain.FlaggedRecord) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded == nil {
		m.loaded = map[string]int{}
	}
	m.loaded[state.Name] += len(records)
	return nil
}

// --- fixtures ---

var arizona = domain.State{Name: "AZ", Num: 2}

func line(day, value int, flag string) string {
	return domain.FormatLine(domain.Record{
		RecordType:     "HPD",
		StateCode:      2,
		StationIndex:   80,
		ElementType:    "HPCP",
		ElementUnits:   "HT",
		Year:           1986,
		Month:          11,
		Day:            day,
		ReportedValues: 1,
		TimeOfValue:    100,
		DataValue:      value,
		Flag:           flag,
	})
}

// fixtureLines covers one deleted span, one missing span, a questionable
// value, and a record from a later year.
func fixtureLines() []string {
	late := domain.FormatLine(domain.Record{
		RecordType: "HPD", StateCode: 2, StationIndex: 80, ElementType: "HPCP", ElementUnits: "HT",
		Year: 1988, Month: 6, Day: 1, ReportedValues: 1, TimeOfValue: 1300, DataValue: 15,
	})
	return []string{
		line(1, 10, ""),
		line(2, domain.MissingValue, "{"),
		line(3, 30, ""),
		line(4, domain.MissingValue, "}"),
		line(5, domain.MissingValue, "["),
		line(6, domain.MissingValue, "]"),
		line(7, 25, "Q"),
		late,
	}
}

type testEnv struct {
	dir        string
	pipeline   *pipeline.Pipeline
	downloader *mockDownloader
	loader     *mockLoader
	metrics    *observability.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fakeClock := clockwork.NewFakeClockAt(time.Date(2024, time.April, 27, 6, 0, 0, 0, time.UTC))
	domain.SetClock(fakeClock)
	t.Cleanup(func() { domain.SetClock(nil) })

	env := &testEnv{
		dir:        t.TempDir(),
		downloader: &mockDownloader{},
		loader:     &mockLoader{},
		metrics:    observability.NewMetricsForTesting(),
	}
	env.pipeline = pipeline.New(env.dir, env.downloader, &fixtureArchive{lines: fixtureLines()},
		csvfile.NewTable(), []pipeline.Loader{env.loader}, observability.DiscardLogger(), env.metrics)
	env.pipeline.SetClock(fakeClock)
	return env
}

// --- tests ---

func TestPathsFor(t *testing.T) {
	got := pipeline.PathsFor("data", arizona)
	want := pipeline.Paths{
		Raw:         filepath.Join("data", "02", "raw"),
		Extracted:   filepath.Join("data", "02", "extracted"),
		Combined:    filepath.Join("data", "02", "combined.txt"),
		Transformed: filepath.Join("data", "02", "transformed.csv"),
		Analysis:    filepath.Join("data", "02", "analysis"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PathsFor mismatch (-want +got):\n%s", diff)
	}
}

func TestPipeline_Download(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.pipeline.Download(context.Background(), arizona))

	paths := pipeline.PathsFor(env.dir, arizona)
	assert.FileExists(t, paths.Combined)
	assert.DirExists(t, paths.Extracted)
	assert.Equal(t, []string{"AZ"}, env.downloader.calls)
	assert.InDelta(t, 2, testutil.ToFloat64(env.metrics.FilesDownloaded), 1e-9)
}

func TestPipeline_Download_Error(t *testing.T) {
	env := newTestEnv(t)
	env.downloader.failOn = "AZ"
	env.downloader.err = errors.New("connection refused")

	err := env.pipeline.Download(context.Background(), arizona)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.InDelta(t, 1, testutil.ToFloat64(env.metrics.StageErrors.WithLabelValues("download")), 1e-9)
}

func TestPipeline_Transform(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.pipeline.Download(ctx, arizona))

	require.Error(t, env.pipeline.CheckReadiness(ctx))
	require.NoError(t, env.pipeline.Transform(ctx, arizona))
	assert.NoError(t, env.pipeline.CheckReadiness(ctx))

	records, err := csvfile.NewTable().Read(pipeline.PathsFor(env.dir, arizona).Transformed)
	require.NoError(t, err)
	require.Len(t, records, 8)

	deleted := make([]bool, len(records))
	missing := make([]bool, len(records))
	for i, r := range records {
		deleted[i] = r.WasDeleted
		missing[i] = r.IsMissing
	}
	assert.Equal(t, []bool{false, true, true, true, false, false, false, false}, deleted)
	assert.Equal(t, []bool{false, false, false, false, true, true, false, false}, missing)
	assert.Equal(t, time.Date(1986, 11, 3, 0, 0, 0, 0, time.UTC), records[2].Date)

	assert.Equal(t, 8, env.loader.loaded["AZ"])
	assert.InDelta(t, 8, testutil.ToFloat64(env.metrics.RecordsParsed), 1e-9)
	assert.InDelta(t, 3, testutil.ToFloat64(env.metrics.RecordsFlagged.WithLabelValues("deleted")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(env.metrics.RecordsFlagged.WithLabelValues("missing")), 1e-9)
	assert.InDelta(t, 8, testutil.ToFloat64(env.metrics.RecordsLoaded.WithLabelValues("csv")), 1e-9)
	assert.InDelta(t, 8, testutil.ToFloat64(env.metrics.RecordsLoaded.WithLabelValues("mock")), 1e-9)
}

func TestPipeline_Transform_NotDownloaded(t *testing.T) {
	env := newTestEnv(t)

	err := env.pipeline.Transform(context.Background(), arizona)
	assert.ErrorIs(t, err, pipeline.ErrNotDownloaded)
	assert.NoFileExists(t, pipeline.PathsFor(env.dir, arizona).Transformed)
}

func TestPipeline_Transform_MalformedLineFailsState(t *testing.T) {
	env := newTestEnv(t)
	paths := pipeline.PathsFor(env.dir, arizona)
	require.NoError(t, os.MkdirAll(filepath.Dir(paths.Combined), 0o755))
	require.NoError(t, os.WriteFile(paths.Combined, []byte(line(1, 10, "")+"\nHPD0200800\n"), 0o644))

	err := env.pipeline.Transform(context.Background(), arizona)
	require.ErrorIs(t, err, domain.ErrShortLine)

	var perr *domain.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Line)
	assert.NoFileExists(t, paths.Transformed)
	assert.InDelta(t, 1, testutil.ToFloat64(env.metrics.ParseErrors), 1e-9)
	assert.Empty(t, env.loader.loaded)
}

func TestPipeline_Transform_LoaderError(t *testing.T) {
	env := newTestEnv(t)
	env.loader.err = errors.New("broker down")
	ctx := context.Background()
	require.NoError(t, env.pipeline.Download(ctx, arizona))

	err := env.pipeline.Transform(ctx, arizona)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mock")
	assert.Contains(t, err.Error(), "broker down")
	assert.Error(t, env.pipeline.CheckReadiness(ctx))
}

func TestPipeline_Analyze(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.pipeline.All(ctx, arizona))

	summary, err := env.pipeline.Summary(arizona)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Records)
	assert.Equal(t, 6, summary.Excluded)
	assert.Equal(t, 1, summary.Stations)
	assert.Equal(t, 1986, summary.StartYear)
	assert.Equal(t, 1988, summary.EndYear)
	assert.InDelta(t, 0.25, summary.TotalInches, 1e-9)
	assert.InDelta(t, 0.125, summary.AveragePerYear, 1e-9)
	assert.Equal(t, time.Date(2024, time.April, 27, 6, 0, 0, 0, time.UTC), summary.GeneratedAt)

	data, err := os.ReadFile(filepath.Join(pipeline.PathsFor(env.dir, arizona).Analysis, "summary.json"))
	require.NoError(t, err)
	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.InDelta(t, 0.25, onDisk["total_inches"], 1e-9)
}

func TestPipeline_Analyze_NotTransformed(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.pipeline.Analyze(context.Background(), arizona)
	assert.ErrorIs(t, err, pipeline.ErrNotTransformed)
	assert.InDelta(t, 1, testutil.ToFloat64(env.metrics.StageErrors.WithLabelValues("analyze")), 1e-9)

	_, err = env.pipeline.Summary(arizona)
	assert.ErrorIs(t, err, pipeline.ErrNotAnalyzed)
}

func TestPipeline_Run_MultipleStates(t *testing.T) {
	env := newTestEnv(t)
	states, err := domain.ParseStates([]string{"AZ", "CA", "NM"})
	require.NoError(t, err)

	require.NoError(t, env.pipeline.Run(context.Background(), pipeline.StageAll, states, 2))

	assert.ElementsMatch(t, []string{"AZ", "CA", "NM"}, env.downloader.calls)
	for _, s := range states {
		_, err := env.pipeline.Summary(s)
		assert.NoError(t, err, s.Name)
	}
	assert.Zero(t, testutil.ToFloat64(env.metrics.PipelineRunning))
}

func TestPipeline_Run_FailingState(t *testing.T) {
	env := newTestEnv(t)
	env.downloader.failOn = "CA"
	env.downloader.err = errors.New("550 no such directory")
	states, err := domain.ParseStates([]string{"AZ", "CA"})
	require.NoError(t, err)

	err = env.pipeline.Run(context.Background(), pipeline.StageDownload, states, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download CA")
	assert.Contains(t, err.Error(), "550 no such directory")
}

func TestPipeline_Run_UnknownStage(t *testing.T) {
	env := newTestEnv(t)
	err := env.pipeline.Run(context.Background(), pipeline.Stage("load"), []domain.State{arizona}, 1)
	assert.Error(t, err)
}

func TestPipeline_Run_Cancelled(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := env.pipeline.Run(ctx, pipeline.StageDownload, []domain.State{arizona}, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, env.downloader.calls)
}

func TestParseStage(t *testing.T) {
	for _, name := range pipeline.StageNames() {
		s, err := pipeline.ParseStage(name)
		require.NoError(t, err)
		assert.Equal(t, pipeline.Stage(name), s)
	}

	s, err := pipeline.ParseStage(" Transform ")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageTransform, s)

	_, err = pipeline.ParseStage("load")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download, transform, analyze, all")
}

func TestResolveFlags(t *testing.T) {
	records := []domain.Record{
		{Flag: "{"}, {Flag: "["}, {Flag: "}"}, {Flag: ""}, {Flag: "]"},
	}

	got, err := pipeline.ResolveFlags(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, got, 5)

	var deleted, missing []bool
	for _, r := range got {
		deleted = append(deleted, r.WasDeleted)
		missing = append(missing, r.IsMissing)
	}
	assert.Equal(t, []bool{true, true, true, false, false}, deleted)
	assert.Equal(t, []bool{false, true, true, true, true}, missing)
}

func TestResolveFlags_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := pipeline.ResolveFlags(ctx, []domain.Record{{Flag: "{"}, {Flag: "}"}})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, got)
}

func TestPipeline_Run_StageLogsCarryRunID(t *testing.T) {
	env := newTestEnv(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p := pipeline.New(env.dir, env.downloader, &fixtureArchive{lines: fixtureLines()},
		csvfile.NewTable(), nil, logger, env.metrics)

	states, err := domain.ParseStates([]string{"AZ", "NM"})
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), pipeline.StageAll, states, 2))

	runIDs := map[string]bool{}
	stageLines := 0
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		id, ok := entry["run_id"].(string)
		assert.True(t, ok, "log line without run_id: %s", scanner.Text())
		runIDs[id] = true
		if entry["msg"] == "saving transformed data" {
			stageLines++
		}
	}
	assert.Equal(t, 2, stageLines)
	assert.Len(t, runIDs, 1)
}
