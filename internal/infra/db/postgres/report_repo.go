package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/himeshgonnade/chronosscan/internal/domain/reports"
	"github.com/himeshgonnade/chronosscan/internal/domain/scans"
)

type ReportRepository struct{ db *sql.DB }

func NewReportRepository(db *sql.DB) *ReportRepository { return &ReportRepository{db: db} }

func (r *ReportRepository) Save(ctx context.Context, rep *domain.Report) error {
	const q = `
INSERT INTO reports (patient_id, scan_id, report_text, created_at)
VALUES ($1,$2,$3,$4)
RETURNING id;`
	created := rep.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var id int64
	if err := r.db.QueryRowContext(ctx, q, rep.PatientID, rep.ScanID, rep.ReportText, created).Scan(&id); err != nil {
		return err
	}
	rep.ID = domain.ReportID(id)
	rep.CreatedAt = created
	return nil
}

func (r *ReportRepository) LatestByScan(ctx context.Context, id scans.ScanID) (*domain.Report, error) {
	const q = `
SELECT id, patient_id, scan_id, report_text, created_at
FROM reports
WHERE scan_id=$1
ORDER BY created_at DESC, id DESC
LIMIT 1;`
	var rep domain.Report
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&rep.ID, &rep.PatientID, &rep.ScanID, &rep.ReportText, &rep.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

func (r *ReportRepository) HistoryByPatient(ctx context.Context, patientID int64) ([]domain.HistoryEntry, error) {
	const q = `
SELECT r.report_text, s.scan_date, s.scan_type
FROM reports r
JOIN scans s ON r.scan_id = s.id
WHERE r.patient_id = $1
ORDER BY s.scan_date DESC, s.id DESC;`
	rows, err := r.db.QueryContext(ctx, q, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.ReportText, &e.ScanDate, &e.ScanType); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
