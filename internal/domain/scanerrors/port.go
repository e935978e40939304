package scanerrors

import (
	"context"

	"github.com/himeshgonnade/chronosscan/internal/domain/scans"
)

// Repository defines persistence for scan errors
type Repository interface {
	Save(ctx context.Context, e *ScanError) error
	ListByScan(ctx context.Context, id scans.ScanID, limit int) ([]*ScanError, error)
}
