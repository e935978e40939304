package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	domain "github.com/himeshgonnade/chronosscan/internal/domain/scanerrors"
	"github.com/himeshgonnade/chronosscan/internal/domain/scans"
)

type ScanErrorRepository struct {
	db *sql.DB
}

func NewScanErrorRepository(db *sql.DB) *ScanErrorRepository { return &ScanErrorRepository{db: db} }

func (r *ScanErrorRepository) Save(ctx context.Context, e *domain.ScanError) error {
	const q = `
INSERT INTO scan_errors (scan_id, patient_id, phase, message, created_at)
VALUES (?,?,?,?,?);
`
	phase := e.Phase
	if phase == "" {
		phase = "-"
	}
	msg := e.Message
	if strings.TrimSpace(msg) == "" {
		msg = "-"
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q, e.ScanID, e.PatientID, phase, msg, created)
	return err
}

func (r *ScanErrorRepository) ListByScan(ctx context.Context, id scans.ScanID, limit int) ([]*domain.ScanError, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, scan_id, patient_id, phase, message, created_at
FROM scan_errors
WHERE scan_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ScanError
	for rows.Next() {
		var e domain.ScanError
		if err := rows.Scan(&e.ID, &e.ScanID, &e.PatientID, &e.Phase, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
