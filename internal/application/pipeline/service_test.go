package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himeshgonnade/chronosscan/internal/application"
	"github.com/himeshgonnade/chronosscan/internal/application/tasks"
	"github.com/himeshgonnade/chronosscan/internal/domain/analysis"
	"github.com/himeshgonnade/chronosscan/internal/domain/faults"
	"github.com/himeshgonnade/chronosscan/internal/domain/rag"
	"github.com/himeshgonnade/chronosscan/internal/domain/reports"
	"github.com/himeshgonnade/chronosscan/internal/domain/scanerrors"
	"github.com/himeshgonnade/chronosscan/internal/domain/scans"
)

//
// ==== in-memory fakes ====
//

type memScanRepo struct {
	mu      sync.Mutex
	nextID  int64
	scans   map[scans.ScanID]*scans.Scan
	saveErr error
	updates int
}

func newMemScanRepo() *memScanRepo {
	return &memScanRepo{scans: make(map[scans.ScanID]*scans.Scan)}
}

func (r *memScanRepo) Save(_ context.Context, s *scans.Scan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.nextID++
	s.ID = scans.ScanID(r.nextID)
	cp := *s
	r.scans[s.ID] = &cp
	return nil
}

func (r *memScanRepo) Get(_ context.Context, id scans.ScanID) (*scans.Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scans[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (r *memScanRepo) ByPatient(_ context.Context, patientID int64) ([]*scans.Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*scans.Scan
	for _, s := range r.scans {
		if s.PatientID == patientID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memScanRepo) UpdateAnalysis(_ context.Context, id scans.ScanID, change float64, anomaly bool, heatmap string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scans[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.ChangePercentage = &change
	s.AnomalyDetected = &anomaly
	s.HeatmapPath = &heatmap
	r.updates++
	return nil
}

// PreviousScan mirrors the repository contract: latest date strictly before,
// ties broken by highest id.
func (r *memScanRepo) PreviousScan(_ context.Context, patientID int64, before time.Time) (*scans.Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *scans.Scan
	for _, s := range r.scans {
		if s.PatientID != patientID || !s.ScanDate.Before(before) {
			continue
		}
		if best == nil ||
			s.ScanDate.After(best.ScanDate) ||
			(s.ScanDate.Equal(best.ScanDate) && s.ID > best.ID) {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

type memReportRepo struct {
	mu         sync.Mutex
	nextID     int64
	reports    []*reports.Report
	history    []reports.HistoryEntry
	historyErr error
	saveErr    error
}

func (r *memReportRepo) Save(_ context.Context, rep *reports.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.nextID++
	rep.ID = reports.ReportID(r.nextID)
	cp := *rep
	r.reports = append(r.reports, &cp)
	return nil
}

func (r *memReportRepo) LatestByScan(_ context.Context, id scans.ScanID) (*reports.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *reports.Report
	for _, rep := range r.reports {
		if rep.ScanID != id {
			continue
		}
		if latest == nil || rep.CreatedAt.After(latest.CreatedAt) ||
			(rep.CreatedAt.Equal(latest.CreatedAt) && rep.ID > latest.ID) {
			latest = rep
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *memReportRepo) HistoryByPatient(_ context.Context, _ int64) ([]reports.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.historyErr != nil {
		return nil, r.historyErr
	}
	return append([]reports.HistoryEntry(nil), r.history...), nil
}

func (r *memReportRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

type memScanErrorRepo struct {
	mu      sync.Mutex
	entries []*scanerrors.ScanError
}

func (r *memScanErrorRepo) Save(_ context.Context, e *scanerrors.ScanError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	cp.ID = int64(len(r.entries) + 1)
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *memScanErrorRepo) ListByScan(_ context.Context, id scans.ScanID, _ int) ([]*scanerrors.ScanError, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*scanerrors.ScanError
	for _, e := range r.entries {
		if e.ScanID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeAnalyzer struct {
	res   analysis.Result
	err   error
	calls int
}

func (a *fakeAnalyzer) Analyze(_ context.Context, _ analysis.Request) (analysis.Result, error) {
	a.calls++
	if a.err != nil {
		return analysis.Result{}, a.err
	}
	return a.res, nil
}

// fakeRanker passes the candidate set through unchanged and records it.
type fakeRanker struct {
	gotDocs  []rag.Document
	gotQuery string
	err      error
}

func (r *fakeRanker) Rank(_ context.Context, docs []rag.Document, query string) ([]rag.Document, error) {
	r.gotDocs = docs
	r.gotQuery = query
	if r.err != nil {
		return nil, r.err
	}
	return docs, nil
}

type fakeGenerator struct {
	text    string
	err     error
	panics  bool
	prompts []string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.panics {
		panic("generator exploded")
	}
	if g.err != nil {
		return "", g.err
	}
	return g.text, nil
}

// captureRunner collects submitted tasks without running them.
type captureRunner struct {
	tasks []func()
}

func (r *captureRunner) Submit(task func()) { r.tasks = append(r.tasks, task) }

func (r *captureRunner) runAll() {
	for _, task := range r.tasks {
		task()
	}
	r.tasks = nil
}

//
// ==== fixtures ====
//

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

type fixture struct {
	svc       *Service
	scans     *memScanRepo
	reports   *memReportRepo
	errs      *memScanErrorRepo
	analyzer  *fakeAnalyzer
	ranker    *fakeRanker
	generator *fakeGenerator
}

func newFixture(runner tasks.Runner) *fixture {
	f := &fixture{
		scans:     newMemScanRepo(),
		reports:   &memReportRepo{},
		errs:      &memScanErrorRepo{},
		analyzer:  &fakeAnalyzer{res: analysis.Result{ChangePercentage: 12.5, AnomalyDetected: true, HeatmapPath: "heatmaps/1.png"}},
		ranker:    &fakeRanker{},
		generator: &fakeGenerator{text: "Progression Summary: stable."},
	}
	f.svc = &Service{
		Scans:      f.scans,
		Reports:    f.reports,
		ScanErrors: f.errs,
		Analyzer:   f.analyzer,
		Ranker:     f.ranker,
		Generator:  f.generator,
		Tasks:      runner,
		Clock:      application.FixedClock{T: date("2024-03-01")},
	}
	return f
}

func ingestCmd() IngestScanCommand {
	return IngestScanCommand{
		PatientID: 7,
		ScanPath:  "http://minio/scans/patients/7/abc-mri.png",
		ScanDate:  date("2024-02-01"),
		ScanType:  "MRI",
	}
}

//
// ==== tests ====
//

func TestIngestScanSuccess(t *testing.T) {
	f := newFixture(tasks.SyncRunner{})

	res, err := f.svc.IngestScan(context.Background(), ingestCmd())
	require.NoError(t, err)
	assert.Equal(t, scans.ScanID(1), res.ScanID)
	assert.Equal(t, "http://minio/scans/patients/7/abc-mri.png", res.StoragePath)
	assert.True(t, res.Analyzed)

	stored, err := f.scans.Get(context.Background(), res.ScanID)
	require.NoError(t, err)
	require.True(t, stored.Analyzed(), "all three analysis fields must be set")
	assert.Equal(t, 12.5, *stored.ChangePercentage)
	assert.True(t, *stored.AnomalyDetected)
	assert.Equal(t, "heatmaps/1.png", *stored.HeatmapPath)
	assert.Equal(t, 1, f.scans.updates, "analysis fields written in exactly one update")

	require.Equal(t, 1, f.reports.count())
	rep, err := f.reports.LatestByScan(context.Background(), res.ScanID)
	require.NoError(t, err)
	assert.Equal(t, "Progression Summary: stable.", rep.ReportText)
	assert.Equal(t, int64(7), rep.PatientID)
}

func TestIngestScanRowExistsWithNullFieldsBeforeAnalysis(t *testing.T) {
	f := newFixture(tasks.SyncRunner{})
	f.analyzer.err = fmt.Errorf("analysis call: %w", faults.ErrUnreachable)

	res, err := f.svc.IngestScan(context.Background(), ingestCmd())
	require.NoError(t, err, "analysis failure must not fail the request")
	assert.False(t, res.Analyzed)

	stored, err := f.scans.Get(context.Background(), res.ScanID)
	require.NoError(t, err)
	assert.Nil(t, stored.ChangePercentage)
	assert.Nil(t, stored.AnomalyDetected)
	assert.Nil(t, stored.HeatmapPath)
	assert.Equal(t, 0, f.scans.updates)
}

func TestIngestScanAnalysisTimeoutStillGeneratesReport(t *testing.T) {
	f := newFixture(tasks.SyncRunner{})
	f.analyzer.err = fmt.Errorf("analysis call: %w", faults.ErrTimeout)

	res, err := f.svc.IngestScan(context.Background(), ingestCmd())
	require.NoError(t, err)

	stored, err := f.scans.Get(context.Background(), res.ScanID)
	require.NoError(t, err)
	assert.Nil(t, stored.ChangePercentage)
	assert.Nil(t, stored.AnomalyDetected)
	assert.Nil(t, stored.HeatmapPath)

	// the background branch still ran on the zero-analysis document
	require.Equal(t, 1, f.reports.count())
	require.Len(t, f.generator.prompts, 1)
	assert.Contains(t, f.generator.prompts[0], "Change: 0.0%")
	assert.Contains(t, f.generator.prompts[0], "Anomaly: No")
}

func TestIngestScanStoreFailureSurfaced(t *testing.T) {
	f := newFixture(tasks.SyncRunner{})
	f.scans.saveErr = errors.New("connection refused")

	_, err := f.svc.IngestScan(context.Background(), ingestCmd())
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.ErrStore))
	assert.Equal(t, 0, f.analyzer.calls, "no analysis without a durable scan row")
	assert.Equal(t, 0, f.reports.count())
}

func TestResponseReturnsBeforeReportExists(t *testing.T) {
	runner := &captureRunner{}
	f := newFixture(runner)

	res, err := f.svc.IngestScan(context.Background(), ingestCmd())
	require.NoError(t, err)

	// foreground done, background not yet run
	assert.Equal(t, 0, f.reports.count())
	require.Len(t, runner.tasks, 1)

	runner.runAll()
	assert.Equal(t, 1, f.reports.count())

	rep, err := f.reports.LatestByScan(context.Background(), res.ScanID)
	require.NoError(t, err)
	require.NotNil(t, rep)
}

func TestGeneratorFailureInsertsNothing(t *testing.T) {
	f := newFixture(tasks.SyncRunner{})
	f.generator.err = fmt.Errorf("chat completion: %w", faults.ErrTimeout)

	res, err := f.svc.IngestScan(context.Background(), ingestCmd())
	require.NoError(t, err)

	assert.Equal(t, 0, f.reports.count(), "no report row on generation failure")

	// scan row untouched by the background branch
	stored, err := f.scans.Get(context.Background(), res.ScanID)
	require.NoError(t, err)
	assert.True(t, stored.Analyzed())
	assert.Equal(t, 1, f.scans.updates)

	entries, err := f.svc.ErrorsByScan(context.Background(), res.ScanID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, scanerrors.PhaseReport, entries[0].Phase)
}

func TestGeneratorPanicDoesNotEscape(t *testing.T) {
	f := newFixture(tasks.SyncRunner{})
	f.generator.panics = true

	require.NotPanics(t, func() {
		_, err := f.svc.IngestScan(context.Background(), ingestCmd())
		require.NoError(t, err)
	})
	assert.Equal(t, 0, f.reports.count())
}

func TestAnalysisFailureRecorded(t *testing.T) {
	f := newFixture(tasks.SyncRunner{})
	f.analyzer.err = fmt.Errorf("analysis status 500 Internal Server Error: %w", faults.ErrInvalidResponse)

	res, err := f.svc.IngestScan(context.Background(), ingestCmd())
	require.NoError(t, err)

	entries, err := f.svc.ErrorsByScan(context.Background(), res.ScanID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, scanerrors.PhaseAnalysis, entries[0].Phase)
	assert.Contains(t, entries[0].Message, "analysis status 500")
}

func TestEmptyHistoryStillRanksCurrentDocument(t *testing.T) {
	f := newFixture(tasks.SyncRunner{})

	_, err := f.svc.IngestScan(context.Background(), ingestCmd())
	require.NoError(t, err)

	require.Len(t, f.ranker.gotDocs, 1, "baseline patient: exactly one candidate")
	assert.True(t, f.ranker.gotDocs[0].IsCurrentAnalysis())
	assert.Equal(t, 1, f.reports.count())
}

func TestRankerInputIsHistoryPlusOneCurrentDocument(t *testing.T) {
	f := newFixture(tasks.SyncRunner{})
	f.reports.history = []reports.HistoryEntry{
		{ReportText: "No anomaly.", ScanDate: date("2024-01-05"), ScanType: "MRI"},
		{ReportText: "Baseline.", ScanDate: date("2024-01-01"), ScanType: "MRI"},
	}

	_, err := f.svc.IngestScan(context.Background(), ingestCmd())
	require.NoError(t, err)

	require.Len(t, f.ranker.gotDocs, 3)
	current := 0
	for _, d := range f.ranker.gotDocs {
		if d.IsCurrentAnalysis() {
			current++
		}
	}
	assert.Equal(t, 1, current, "exactly one current-analysis candidate")
	assert.Contains(t, f.ranker.gotDocs[0].Content, "2024-01-05")
	assert.Contains(t, f.ranker.gotDocs[1].Content, "2024-01-01")
}

func TestDefaultQueryUsedWhenNoneSupplied(t *testing.T) {
	f := newFixture(tasks.SyncRunner{})

	_, err := f.svc.IngestScan(context.Background(), ingestCmd())
	require.NoError(t, err)

	assert.Equal(t, "Summarize patient progression and anomalies", f.ranker.gotQuery)
	require.Len(t, f.generator.prompts, 1)
	assert.Contains(t, f.generator.prompts[0], "Summarize patient progression and anomalies")
}

func TestClinicianQueryPassedThrough(t *testing.T) {
	f := newFixture(tasks.SyncRunner{})
	cmd := ingestCmd()
	cmd.ClinicianQuery = "Focus on the left temporal lobe"

	_, err := f.svc.IngestScan(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, "Focus on the left temporal lobe", f.ranker.gotQuery)
	assert.Contains(t, f.generator.prompts[0], "Focus on the left temporal lobe")
}

func TestHistoryLoadFailureAbsorbed(t *testing.T) {
	f := newFixture(tasks.SyncRunner{})
	f.reports.historyErr = errors.New("connection reset")

	_, err := f.svc.IngestScan(context.Background(), ingestCmd())
	require.NoError(t, err)
	assert.Equal(t, 0, f.reports.count())
	assert.Empty(t, f.generator.prompts, "generation never attempted without history")
}

func TestGetScanPreviousTieBreak(t *testing.T) {
	f := newFixture(&captureRunner{})
	ctx := context.Background()

	seed := []struct {
		date string
	}{
		{"2024-01-01"}, // id=1
		{"2024-01-05"}, // id=2
		{"2024-01-05"}, // id=3
		{"2024-02-01"}, // id=4, the scan being read
	}
	for _, s := range seed {
		require.NoError(t, f.scans.Save(ctx, &scans.Scan{
			PatientID: 7,
			ScanPath:  "p",
			ScanDate:  date(s.date),
			ScanType:  "MRI",
		}))
	}

	detail, err := f.svc.GetScan(ctx, 4)
	require.NoError(t, err)
	require.NotNil(t, detail.Previous)
	assert.Equal(t, scans.ScanID(3), detail.Previous.ID, "latest date wins, ties broken by highest id")

	// idempotent with no intervening writes
	again, err := f.svc.GetScan(ctx, 4)
	require.NoError(t, err)
	require.NotNil(t, again.Previous)
	assert.Equal(t, detail.Previous.ID, again.Previous.ID)
}

func TestGetScanNoPreviousForEarliest(t *testing.T) {
	f := newFixture(&captureRunner{})
	ctx := context.Background()
	require.NoError(t, f.scans.Save(ctx, &scans.Scan{PatientID: 7, ScanPath: "p", ScanDate: date("2024-01-01"), ScanType: "CT"}))

	detail, err := f.svc.GetScan(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, detail.Previous)
	assert.Nil(t, detail.ReportText)
}

func TestGetScanReturnsLatestReport(t *testing.T) {
	f := newFixture(&captureRunner{})
	ctx := context.Background()
	require.NoError(t, f.scans.Save(ctx, &scans.Scan{PatientID: 7, ScanPath: "p", ScanDate: date("2024-01-01"), ScanType: "CT"}))

	older := &reports.Report{PatientID: 7, ScanID: 1, ReportText: "first draft", CreatedAt: date("2024-01-02")}
	newer := &reports.Report{PatientID: 7, ScanID: 1, ReportText: "final", CreatedAt: date("2024-01-03")}
	require.NoError(t, f.reports.Save(ctx, older))
	require.NoError(t, f.reports.Save(ctx, newer))

	detail, err := f.svc.GetScan(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, detail.ReportText)
	assert.Equal(t, "final", *detail.ReportText)
}

func TestGetScanUnknownID(t *testing.T) {
	f := newFixture(&captureRunner{})
	_, err := f.svc.GetScan(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestReportPromptContainsRankedContext(t *testing.T) {
	f := newFixture(tasks.SyncRunner{})
	f.reports.history = []reports.HistoryEntry{
		{ReportText: "Slight growth noted.", ScanDate: date("2024-01-05"), ScanType: "MRI"},
	}

	_, err := f.svc.IngestScan(context.Background(), ingestCmd())
	require.NoError(t, err)

	require.Len(t, f.generator.prompts, 1)
	p := f.generator.prompts[0]
	assert.True(t, strings.Contains(p, "Slight growth noted."))
	assert.True(t, strings.Contains(p, "Current Scan Analysis"))
}
