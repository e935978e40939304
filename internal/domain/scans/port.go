package scans

import (
	"context"
	"io"
	"time"
)

// Repository port (interface untuk persistence)
type Repository interface {
	// Save inserts the scan and assigns its ID.
	Save(ctx context.Context, s *Scan) error
	Get(ctx context.Context, id ScanID) (*Scan, error)
	// ByPatient returns the patient's scans, most recent scan date first.
	ByPatient(ctx context.Context, patientID int64) ([]*Scan, error)

	// UpdateAnalysis writes the three analysis result fields in one statement.
	UpdateAnalysis(ctx context.Context, id ScanID, changePercentage float64, anomalyDetected bool, heatmapPath string) error

	// PreviousScan returns the scan with the latest scan date strictly before
	// the given date for the patient, ties broken by highest id. Returns
	// (nil, nil) when the patient has no earlier scan.
	PreviousScan(ctx context.Context, patientID int64, before time.Time) (*Scan, error)
}

// ArtifactStore port (interface untuk penyimpanan citra scan)
type ArtifactStore interface {
	// UploadScan streams one scan image to durable storage under key and
	// returns its locator.
	UploadScan(ctx context.Context, r io.Reader, size int64, key, contentType string) (string, error)
}
