package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/himeshgonnade/chronosscan/internal/domain/scans"
)

type ScanRepository struct{ db *sql.DB }

func NewScanRepository(db *sql.DB) *ScanRepository { return &ScanRepository{db: db} }

const scanColumns = `id, patient_id, scan_path, scan_date, scan_type,
       change_percentage, anomaly_detected, heatmap_path, created_at`

// Save inserts the scan and reads back the generated id. Analysis columns
// start NULL.
func (r *ScanRepository) Save(ctx context.Context, s *domain.Scan) error {
	const q = `
INSERT INTO scans (patient_id, scan_path, scan_date, scan_type, created_at)
VALUES ($1,$2,$3,$4,$5)
RETURNING id;`
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var id int64
	if err := r.db.QueryRowContext(ctx, q, s.PatientID, s.ScanPath, s.ScanDate, s.ScanType, created).Scan(&id); err != nil {
		return err
	}
	s.ID = domain.ScanID(id)
	s.CreatedAt = created
	return nil
}

func (r *ScanRepository) Get(ctx context.Context, id domain.ScanID) (*domain.Scan, error) {
	const q = `
SELECT ` + scanColumns + `
FROM scans
WHERE id=$1;`
	return scanRow(r.db.QueryRowContext(ctx, q, id))
}

func (r *ScanRepository) ByPatient(ctx context.Context, patientID int64) ([]*domain.Scan, error) {
	const q = `
SELECT ` + scanColumns + `
FROM scans
WHERE patient_id=$1
ORDER BY scan_date DESC, id DESC;`
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

func (r *ScanRepository) UpdateAnalysis(ctx context.Context, id domain.ScanID, changePercentage float64, anomalyDetected bool, heatmapPath string) error {
	const q = `
UPDATE scans
SET change_percentage = $1,
    anomaly_detected = $2,
    heatmap_path = $3
WHERE id = $4;`
	_, err := r.db.ExecContext(ctx, q, changePercentage, anomalyDetected, heatmapPath, id)
	return err
}

func (r *ScanRepository) PreviousScan(ctx context.Context, patientID int64, before time.Time) (*domain.Scan, error) {
	const q = `
SELECT ` + scanColumns + `
FROM scans
WHERE patient_id=$1 AND scan_date < $2
ORDER BY scan_date DESC, id DESC
LIMIT 1;`
	s, err := scanRow(r.db.QueryRowContext(ctx, q, patientID, before))
	if errors.Is(err, sql.ErrNoRows) {
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
	if change.Valid {
		v := change.Float64
		s.ChangePercentage = &v
	}
	if anomaly.Valid {
		v := anomaly.Bool
		s.AnomalyDetected = &v
	}
	if heatmap.Valid {
		v := heatmap.String
		s.HeatmapPath = &v
	}
	return &s, nil
}
