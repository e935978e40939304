package scanerrors

import (
	"time"

	"github.com/himeshgonnade/chronosscan/internal/domain/scans"
)

// Pipeline phases a failure can be recorded against.
const (
	PhaseAnalysis = "analysis"
	PhaseReport   = "report"
)

// ScanError is one persisted pipeline failure for a scan. The pipeline keeps
// running when a downstream service fails; these rows are the only place the
// failure stays visible afterwards.
type ScanError struct {
	ID        int64        `json:"id"`
	ScanID    scans.ScanID `json:"scan_id"`
	PatientID int64        `json:"patient_id"`
	Phase     string       `json:"phase"` // analysis | report
	Message   string       `json:"message"`
	CreatedAt time.Time    `json:"created_at"`
}
