package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/himeshgonnade/chronosscan/internal/domain/reports"
	"github.com/himeshgonnade/chronosscan/internal/domain/scans"
)

type ReportRepository struct {
	db *sql.DB
}

func NewReportRepository(db *sql.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Save inserts a report record. Reports are append-only; there is no update
// path on this table.
func (r *ReportRepository) Save(ctx context.Context, rep *domain.Report) error {
	const q = `
INSERT INTO reports (patient_id, scan_id, report_text, created_at)
VALUES (?,?,?,?);
`
	created := rep.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := r.db.ExecContext(ctx, q, rep.PatientID, rep.ScanID, rep.ReportText, created)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rep.ID = domain.ReportID(id)
	rep.CreatedAt = created
	return nil
}

// LatestByScan returns the most recently created report for a scan, nil when
// the scan has none yet.
func (r *ReportRepository) LatestByScan(ctx context.Context, id scans.ScanID) (*domain.Report, error) {
	const q = `
SELECT id, patient_id, scan_id, report_text, created_at
FROM reports
WHERE scan_id=?
ORDER BY created_at DESC, id DESC
LIMIT 1;
`
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

// HistoryByPatient joins each report to its owning scan, most recent scan
// date first. No caching: every call reflects the store at call time.
func (r *ReportRepository) HistoryByPatient(ctx context.Context, patientID int64) ([]domain.HistoryEntry, error) {
	const q = `
SELECT r.report_text, s.scan_date, s.scan_type
FROM reports r
JOIN scans s ON r.scan_id = s.id
WHERE r.patient_id = ?
ORDER BY s.scan_date DESC, s.id DESC;
`
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
