package scans

import (
	"time"
)

// ID tipe untuk Scan. Assigned by the store on insert (auto increment).
type ScanID int64

// Aggregate Root: Scan
// One uploaded medical image artifact with acquisition metadata and, once the
// analysis service has answered, the anomaly result fields. The three analysis
// fields stay nil until then and are written together in a single update,
// never partially.
type Scan struct {
	ID               ScanID    `json:"id"`
	PatientID        int64     `json:"patient_id"`
	ScanPath         string    `json:"scan_path"`
	ScanDate         time.Time `json:"scan_date"`
	ScanType         string    `json:"scan_type"`
	ChangePercentage *float64  `json:"change_percentage"`
	AnomalyDetected  *bool     `json:"anomaly_detected"`
	HeatmapPath      *string   `json:"heatmap_path"`
	CreatedAt        time.Time `json:"created_at"`
}

// Analyzed reports whether the analysis result fields have been populated.
func (s *Scan) Analyzed() bool {
	return s.ChangePercentage != nil && s.AnomalyDetected != nil && s.HeatmapPath != nil
}
