package reports

import (
	"time"

	"github.com/himeshgonnade/chronosscan/internal/domain/scans"
)

// ID tipe untuk Report
type ReportID int64

// Report is one generated clinical narrative tied to a specific scan.
// Reports are append-only: a scan may accumulate several, and "the" report
// for a scan is the most recently created one.
type Report struct {
	ID         ReportID     `json:"id"`
	PatientID  int64        `json:"patient_id"`
	ScanID     scans.ScanID `json:"scan_id"`
	ReportText string       `json:"report_text"`
	CreatedAt  time.Time    `json:"created_at"`
}

// HistoryEntry is one row of the patient's longitudinal history: a past
// report joined to the scan it belongs to.
type HistoryEntry struct {
	ReportText string    `json:"report_text"`
	ScanDate   time.Time `json:"scan_date"`
	ScanType   string    `json:"scan_type"`
}
