package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/himeshgonnade/chronosscan/internal/domain/scans"
)

type ScanRepository struct {
	db *sql.DB
}

func NewScanRepository(db *sql.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

const scanColumns = `id, patient_id, scan_path, scan_date, scan_type,
       change_percentage, anomaly_detected, heatmap_path, created_at`

// Save inserts the scan and assigns the auto-increment id. The analysis
// columns are intentionally left out; they start NULL.
func (r *ScanRepository) Save(ctx context.Context, s *domain.Scan) error {
	const q = `
INSERT INTO scans (patient_id, scan_path, scan_date, scan_type, created_at)
VALUES (?,?,?,?,?);
`
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := r.db.ExecContext(ctx, q, s.PatientID, s.ScanPath, s.ScanDate, s.ScanType, created)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = domain.ScanID(id)
	s.CreatedAt = created
	return nil
}

// Get by ID
func (r *ScanRepository) Get(ctx context.Context, id domain.ScanID) (*domain.Scan, error) {
	const q = `
SELECT ` + scanColumns + `
FROM scans
WHERE id=? LIMIT 1;
`
	return scanRow(r.db.QueryRowContext(ctx, q, id))
}

// ByPatient returns the patient's scans, most recent scan date first
func (r *ScanRepository) ByPatient(ctx context.Context, patientID int64) ([]*domain.Scan, error) {
	const q = `
SELECT ` + scanColumns + `
FROM scans
WHERE patient_id=?
ORDER BY scan_date DESC, id DESC;
`
	rows, err := r.db.QueryContext(ctx, q, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Scan
	for rows.Next() {
		s, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateAnalysis writes the three result columns in one statement so they
// transition together.
func (r *ScanRepository) UpdateAnalysis(ctx context.Context, id domain.ScanID, changePercentage float64, anomalyDetected bool, heatmapPath string) error {
	const q = `
UPDATE scans
SET change_percentage = ?,
    anomaly_detected = ?,
    heatmap_path = ?
WHERE id = ?;
`
	_, err := r.db.ExecContext(ctx, q, changePercentage, anomalyDetected, heatmapPath, id)
	return err
}

// PreviousScan: latest scan date strictly before the given date, ties broken
// by highest id. The ordering is explicit; no reliance on storage order.
func (r *ScanRepository) PreviousScan(ctx context.Context, patientID int64, before time.Time) (*domain.Scan, error) {
	const q = `
SELECT ` + scanColumns + `
FROM scans
WHERE patient_id=? AND scan_date < ?
ORDER BY scan_date DESC, id DESC
LIMIT 1;
`
	s, err := scanRow(r.db.QueryRowContext(ctx, q, patientID, before))
	if errors.Is(err, sql.ErrNoRows) {
		// first-visit baseline, valid result
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (*domain.Scan, error) {
	var s domain.Scan
	var change sql.NullFloat64
	var anomaly sql.NullBool
	var heatmap sql.NullString
	if err := row.Scan(
		&s.ID, &s.PatientID, &s.ScanPath, &s.ScanDate, &s.ScanType,
		&change, &anomaly, &heatmap, &s.CreatedAt,
	); err != nil {
		return nil, err
	}
	s.ChangePercentage = floatPtr(change)
	s.AnomalyDetected = boolPtr(anomaly)
	s.HeatmapPath = stringPtr(heatmap)
	return &s, nil
}
