package reports

import (
	"context"

	"github.com/himeshgonnade/chronosscan/internal/domain/scans"
)

// Repository port for persisting and querying reports
type Repository interface {
	// Save inserts the report and assigns its ID. Insert only, never update.
	Save(ctx context.Context, r *Report) error

	// LatestByScan returns the most recently created report for the scan,
	// or (nil, nil) when the scan has none yet.
	LatestByScan(ctx context.Context, id scans.ScanID) (*Report, error)

	// HistoryByPatient returns all of the patient's reports joined to their
	// owning scans, most recent scan date first. Each call queries the store
	// afresh; an empty slice is the valid first-visit case, not an error.
	HistoryByPatient(ctx context.Context, patientID int64) ([]HistoryEntry, error)
}
