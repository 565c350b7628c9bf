// Package repositories implements the data access layer for the Dataverse
// database. The report pipelines never issue SQL directly — all database
// access goes through this layer, which keeps query logic testable in
// isolation with a mocked connection.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dataverse-reports/dataverse-reports/internal/telemetry"
)

// DownloadRepository answers cumulative download-count lookups from the
// Dataverse guestbook tables.
type DownloadRepository struct {
	db *sqlx.DB
}

// NewDownloadRepository creates a new DownloadRepository
func NewDownloadRepository(db *sqlx.DB) *DownloadRepository {
	return &DownloadRepository{db: db}
}

// GetDownloadCount returns the cumulative number of file downloads recorded
// for a dataset. Every download writes a guestbookresponse row regardless of
// whether the dataset has a custom guestbook, so the count covers the full
// dataset history.
func (r *DownloadRepository) GetDownloadCount(ctx context.Context, datasetID int64) (int64, error) {
	query := `
		SELECT COUNT(g.id)
		FROM guestbookresponse g
		LEFT JOIN filedownload f ON g.id = f.guestbookresponse_id
		WHERE g.dataset_id = $1
	`

	telemetry.DownloadCountLookups.Inc()

	var count int64
	if err := r.db.GetContext(ctx, &count, query, datasetID); err != nil {
		return 0, fmt.Errorf("failed to count downloads for dataset %d: %w", datasetID, err)
	}

	return count, nil
}
