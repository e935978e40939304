package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/himeshgonnade/chronosscan/internal/application"
	"github.com/himeshgonnade/chronosscan/internal/application/tasks"
	"github.com/himeshgonnade/chronosscan/internal/domain/analysis"
	"github.com/himeshgonnade/chronosscan/internal/domain/faults"
	"github.com/himeshgonnade/chronosscan/internal/domain/rag"
	"github.com/himeshgonnade/chronosscan/internal/domain/reports"
	"github.com/himeshgonnade/chronosscan/internal/domain/scanerrors"
	"github.com/himeshgonnade/chronosscan/internal/domain/scans"
	"github.com/himeshgonnade/chronosscan/internal/infra/ai/prompt"
	"github.com/himeshgonnade/chronosscan/internal/middleware"
)

const (
	defaultAnalysisTimeout   = 30 * time.Second
	defaultGenerationTimeout = 60 * time.Second
)

// Service implements the scan-ingestion-and-report pipeline.
// It is an explicitly constructed value carrying immutable client handles;
// safe for concurrent use.
type Service struct {
	Scans      scans.Repository
	Reports    reports.Repository
	ScanErrors scanerrors.Repository // optional failure audit trail, may be nil
	Analyzer   analysis.Client
	Ranker     rag.Ranker
	Generator  rag.Generator
	Tasks      tasks.Runner
	Clock      application.Clock

	AnalysisTimeout   time.Duration
	GenerationTimeout time.Duration
	DefaultQuery      string
}

//
// ==== USE CASES ====
//

// Command untuk ingest scan. ScanPath is the artifact locator already
// persisted by the upload intake; the pipeline does no file I/O.
type IngestScanCommand struct {
	PatientID      int64
	ScanPath       string
	ScanDate       time.Time
	ScanType       string
	ClinicianQuery string
}

type IngestScanResult struct {
	ScanID      scans.ScanID `json:"scan_id"`
	StoragePath string       `json:"storage_path"`
	Analyzed    bool         `json:"analyzed"`
}

// IngestScan records the scan, runs the bounded analysis call, and submits
// the detached report-generation job. It returns as soon as the foreground
// branch resolves; report generation never blocks the caller.
//
// Only the initial scan insert can fail the request. An analysis failure of
// any kind is absorbed: the row stays with null analysis fields and the
// background branch still runs on the zero result.
func (s *Service) IngestScan(ctx context.Context, cmd IngestScanCommand) (IngestScanResult, error) {
	scan := &scans.Scan{
		PatientID: cmd.PatientID,
		ScanPath:  cmd.ScanPath,
		ScanDate:  cmd.ScanDate,
		ScanType:  cmd.ScanType,
		CreatedAt: s.Clock.Now(),
	}
	if err := s.Scans.Save(ctx, scan); err != nil {
		return IngestScanResult{}, fmt.Errorf("save scan (%v): %w", err, faults.ErrStore)
	}

	var current *analysis.Result
	res, err := s.runAnalysis(ctx, scan)
	if err != nil {
		log.Printf("analysis failed: scan=%d patient=%d err=%v", scan.ID, scan.PatientID, err)
		middleware.IncrementAnalysesFailed()
		s.recordFailure(scan, scanerrors.PhaseAnalysis, err)
	} else if uerr := s.Scans.UpdateAnalysis(ctx, scan.ID, res.ChangePercentage, res.AnomalyDetected, res.HeatmapPath); uerr != nil {
		// Fields stay null together; the scan row is still structurally valid.
		log.Printf("analysis result write failed: scan=%d err=%v", scan.ID, uerr)
		middleware.IncrementAnalysesFailed()
		s.recordFailure(scan, scanerrors.PhaseAnalysis, uerr)
	} else {
		r := res
		current = &r
	}

	// The background branch gets a snapshot; it must never touch the scan row.
	snapshot := *scan
	query := cmd.ClinicianQuery
	s.Tasks.Submit(func() {
		s.generateReport(snapshot, current, query)
	})

	return IngestScanResult{
		ScanID:      scan.ID,
		StoragePath: scan.ScanPath,
		Analyzed:    current != nil,
	}, nil
}

func (s *Service) runAnalysis(ctx context.Context, scan *scans.Scan) (analysis.Result, error) {
	timeout := s.AnalysisTimeout
	if timeout <= 0 {
		timeout = defaultAnalysisTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return s.Analyzer.Analyze(ctx, analysis.Request{
		ScanID:    scan.ID,
		PatientID: scan.PatientID,
		FilePath:  scan.ScanPath,
	})
}

// generateReport is the detached unit of work: assemble history, rank
// context, generate the narrative, insert one report row. Every failure is
// absorbed here — logged, optionally recorded, no report row, scan row left
// alone.
func (s *Service) generateReport(scan scans.Scan, current *analysis.Result, query string) {
	ctx := context.Background()
	if strings.TrimSpace(query) == "" {
		query = s.defaultQuery()
	}

	history, err := s.Reports.HistoryByPatient(ctx, scan.PatientID)
	if err != nil {
		s.reportFailed(scan, fmt.Errorf("load history: %w", err))
		return
	}

	docs := make([]rag.Document, 0, len(history)+1)
	for _, h := range history {
		docs = append(docs, prompt.HistoricalDocument(h.ReportText, h.ScanDate.Format("2006-01-02"), h.ScanType))
	}
	docs = append(docs, prompt.CurrentAnalysisDocument(current, scan.ScanDate.Format("2006-01-02")))

	ranked, err := s.Ranker.Rank(ctx, docs, query)
	if err != nil {
		s.reportFailed(scan, fmt.Errorf("rank context: %w", err))
		return
	}

	timeout := s.GenerationTimeout
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	genCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := s.Generator.Generate(genCtx, prompt.GetUserPrompt(prompt.ContextText(ranked), query))
	if err != nil {
		s.reportFailed(scan, fmt.Errorf("generate report: %w", err))
		return
	}

	report := &reports.Report{
		PatientID:  scan.PatientID,
		ScanID:     scan.ID,
		ReportText: text,
		CreatedAt:  s.Clock.Now(),
	}
	if err := s.Reports.Save(ctx, report); err != nil {
		s.reportFailed(scan, fmt.Errorf("save report: %w", err))
		return
	}
	middleware.IncrementReportsGenerated()
	log.Printf("report generated: scan=%d patient=%d report=%d", scan.ID, scan.PatientID, report.ID)
}

func (s *Service) reportFailed(scan scans.Scan, err error) {
	log.Printf("report generation failed: scan=%d patient=%d err=%v", scan.ID, scan.PatientID, err)
	middleware.IncrementReportsFailed()
	s.recordFailure(&scan, scanerrors.PhaseReport, err)
}

// recordFailure writes the optional failure-visibility row. Best effort: a
// failing audit write is only logged.
func (s *Service) recordFailure(scan *scans.Scan, phase string, cause error) {
	if s.ScanErrors == nil {
		return
	}
	e := &scanerrors.ScanError{
		ScanID:    scan.ID,
		PatientID: scan.PatientID,
		Phase:     phase,
		Message:   cause.Error(),
		CreatedAt: s.Clock.Now(),
	}
	if err := s.ScanErrors.Save(context.Background(), e); err != nil {
		log.Printf("scan error audit write failed: scan=%d err=%v", scan.ID, err)
	}
}

func (s *Service) defaultQuery() string {
	if s.DefaultQuery != "" {
		return s.DefaultQuery
	}
	return prompt.DefaultQuery
}

//
// ==== READ PATH ====
//

// ScanDetail pairs a scan with its latest report and the patient's previous
// scan for longitudinal comparison.
type ScanDetail struct {
	Current    *scans.Scan `json:"current"`
	ReportText *string     `json:"report_text"`
	Previous   *scans.Scan `json:"previous"`
}

// GetScan loads one scan plus its latest report and the previous scan by
// acquisition date (ties broken by highest id, see scans.Repository).
func (s *Service) GetScan(ctx context.Context, id scans.ScanID) (*ScanDetail, error) {
	scan, err := s.Scans.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &ScanDetail{Current: scan}

	rep, err := s.Reports.LatestByScan(ctx, id)
	if err != nil {
		return nil, err
	}
	if rep != nil {
		detail.ReportText = &rep.ReportText
	}

	prev, err := s.Scans.PreviousScan(ctx, scan.PatientID, scan.ScanDate)
	if err != nil {
		return nil, err
	}
	detail.Previous = prev

	return detail, nil
}

// ScansByPatient lists a patient's scans, most recent first.
func (s *Service) ScansByPatient(ctx context.Context, patientID int64) ([]*scans.Scan, error) {
	return s.Scans.ByPatient(ctx, patientID)
}

// ErrorsByScan lists recorded pipeline failures for a scan.
func (s *Service) ErrorsByScan(ctx context.Context, id scans.ScanID, limit int) ([]*scanerrors.ScanError, error) {
	if s.ScanErrors == nil {
		return nil, nil
	}
	return s.ScanErrors.ListByScan(ctx, id, limit)
}
