package analysis

import (
	"context"

	"github.com/himeshgonnade/chronosscan/internal/domain/scans"
)

// Request identifies the scan the analysis service should look at.
type Request struct {
	ScanID    scans.ScanID `json:"scan_id"`
	PatientID int64        `json:"patient_id"`
	FilePath  string       `json:"file_path"`
}

// Result is the structured anomaly analysis for one scan.
type Result struct {
	ChangePercentage float64 `json:"change_percentage"`
	AnomalyDetected  bool    `json:"anomaly_detected"`
	HeatmapPath      string  `json:"heatmap_path"`
}

// Client port for the external anomaly-analysis service. One outbound call,
// bounded by the caller's context deadline; failures come back wrapped in the
// faults package sentinels. No retries at this layer.
type Client interface {
	Analyze(ctx context.Context, req Request) (Result, error)
}
