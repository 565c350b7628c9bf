package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dataverse-reports/dataverse-reports/internal/dataverse"
)

// datasetMetrics are the Make Data Count values collected per dataset. The
// month-scoped pair is queried for the previous calendar month; the rest are
// all-time totals.
var datasetMetrics = []string{
	"viewsUnique", "viewsMonth", "viewsTotal",
	"downloadsUnique", "downloadsMonth", "downloadsTotal",
}

// DatasetReports produces the dataset report: one record per dataset in the
// subtree, with the latest version's attributes and citation metadata
// flattened into columns and enriched with download counts, file statistics,
// and optional usage metrics.
type DatasetReports struct {
	api            API
	downloads      DownloadCounter
	includeMetrics bool

	// now is injectable so the previous-month window is testable.
	now func() time.Time
}

// NewDatasetReports creates the dataset report pipeline. includeMetrics
// toggles the Make Data Count columns.
func NewDatasetReports(api API, downloads DownloadCounter, includeMetrics bool) *DatasetReports {
	return &DatasetReports{
		api:            api,
		downloads:      downloads,
		includeMetrics: includeMetrics,
		now:            time.Now,
	}
}

// Collect walks the tree rooted at rootIdentifier and returns the dataset
// records in traversal order.
func (r *DatasetReports) Collect(ctx context.Context, rootIdentifier string) ([]Record, error) {
	slog.Info("collecting dataset report", "root", rootIdentifier)

	visitor := &datasetVisitor{reports: r, aliases: make(map[string]string)}
	if err := NewWalker(r.api).Walk(ctx, rootIdentifier, visitor); err != nil {
		return nil, err
	}

	slog.Info("finished dataset report", "root", rootIdentifier, "records", len(visitor.records))
	return visitor.records, nil
}

type datasetVisitor struct {
	reports *DatasetReports
	records []Record

	// aliases caches dataverse identifier → alias so each dataset's owner
	// column does not refetch the parent node.
	aliases map[string]string
}

func (v *datasetVisitor) VisitDataverse(ctx context.Context, identifier string) error {
	node, err := v.reports.api.GetDataverse(ctx, identifier)
	if err != nil {
		return err
	}
	if node == nil {
		slog.Warn("dataverse has no data", "identifier", identifier)
		return nil
	}
	v.aliases[identifier] = node.Alias
	return nil
}

func (v *datasetVisitor) VisitDataset(ctx context.Context, parentIdentifier string, object dataverse.DVObject) error {
	record, err := v.reports.buildRecord(ctx, v.aliases[parentIdentifier], object)
	if err != nil {
		return err
	}
	if record != nil {
		v.records = append(v.records, record)
	}
	return nil
}

// buildRecord assembles one flat dataset record. A missing payload yields
// (nil, nil); transport and database failures return an error and skip the
// dataset without aborting the walk.
func (r *DatasetReports) buildRecord(ctx context.Context, ownerAlias string, object dataverse.DVObject) (Record, error) {
	slog.Debug("building dataset record", "id", object.ID, "identifier", object.Identifier)

	raw, err := r.api.GetDataset(ctx, object.ID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		slog.Warn("dataset has no data, skipping record", "id", object.ID)
		return nil, nil
	}

	record := Record{"dataverse": ownerAlias}
	if err := r.flattenPayload(raw, record, object.ID); err != nil {
		return nil, err
	}

	if r.includeMetrics {
		r.addUsageMetrics(ctx, object, record)
	}

	count, err := r.downloads.GetDownloadCount(ctx, object.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve download count: %w", err)
	}
	record["downloadCount"] = count

	return record, nil
}

// flattenPayload lifts the dataset payload into flat columns: scalar
// top-level members as-is, scalar members of latestVersion moved to the top
// level, citation metadata fields flattened to display strings, and the files
// list reduced to size and restriction statistics. latestVersion and
// metadataBlocks are discarded once lifted.
func (r *DatasetReports) flattenPayload(raw json.RawMessage, record Record, datasetID int64) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return fmt.Errorf("failed to decode dataset %d: %w", datasetID, err)
	}

	for key, value := range top {
		if key == "latestVersion" {
			continue
		}
		liftScalar(record, key, value)
	}

	rawVersion, ok := top["latestVersion"]
	if !ok {
		slog.Warn("dataset has no latestVersion", "id", datasetID)
		return nil
	}

	var version map[string]json.RawMessage
	if err := json.Unmarshal(rawVersion, &version); err != nil {
		return fmt.Errorf("failed to decode latestVersion of dataset %d: %w", datasetID, err)
	}

	for key, value := range version {
		switch key {
		case "metadataBlocks", "files":
			continue
		default:
			liftScalar(record, key, value)
		}
	}

	if rawBlocks, ok := version["metadataBlocks"]; ok {
		r.flattenCitationFields(rawBlocks, record, datasetID)
	}
	if rawFiles, ok := version["files"]; ok {
		if err := addFileStatistics(rawFiles, record); err != nil {
			return fmt.Errorf("failed to decode files of dataset %d: %w", datasetID, err)
		}
	}
	return nil
}

// flattenCitationFields flattens each typed citation field into one column
// named by its typeName. A field with an unrecognized typeClass is logged and
// skipped; it never fails the record.
func (r *DatasetReports) flattenCitationFields(rawBlocks json.RawMessage, record Record, datasetID int64) {
	var blocks struct {
		Citation struct {
			Fields []dataverse.MetadataField `json:"fields"`
		} `json:"citation"`
	}
	if err := json.Unmarshal(rawBlocks, &blocks); err != nil {
		slog.Warn("failed to decode metadata blocks", "dataset", datasetID, "error", err)
		return
	}

	for _, field := range blocks.Citation.Fields {
		value, err := Flatten(field)
		if err != nil {
			if errors.Is(err, ErrUnknownTypeClass) {
				slog.Warn("skipping metadata field with unrecognized typeClass",
					"dataset", datasetID, "field", field.TypeName, "typeClass", field.TypeClass)
			} else {
				slog.Warn("failed to flatten metadata field",
					"dataset", datasetID, "field", field.TypeName, "error", err)
			}
			continue
		}
		record[field.TypeName] = value
	}
}

// addUsageMetrics fills the six Make Data Count columns. A non-OK response or
// missing key yields zero rather than failing the record; only the two
// month-scoped metrics carry the previous-month window.
func (r *DatasetReports) addUsageMetrics(ctx context.Context, object dataverse.DVObject, record Record) {
	lastMonth := previousMonth(r.now())
	persistentID := object.PersistentID()
	if persistentID == "" {
		persistentID = object.Identifier
	}

	for _, metric := range datasetMetrics {
		month := ""
		if metric == "viewsMonth" || metric == "downloadsMonth" {
			month = lastMonth
		}
		value, found, err := r.api.GetDatasetMetric(ctx, object.ID, metric, persistentID, month)
		if err != nil {
			slog.Warn("failed to fetch dataset metric",
				"dataset", object.ID, "metric", metric, "error", err)
			value = 0
		} else if !found {
			slog.Debug("dataset metric unavailable", "dataset", object.ID, "metric", metric)
		}
		record[metric] = value
	}
}

// addFileStatistics derives the content size in megabytes, the file total,
// and the restricted-file count from a version's files list.
func addFileStatistics(rawFiles json.RawMessage, record Record) error {
	var files []dataverse.FileEntry
	if err := json.Unmarshal(rawFiles, &files); err != nil {
		return err
	}

	var contentSize int64
	restricted := 0
	for _, file := range files {
		if file.DataFile == nil {
			continue
		}
		if file.Restricted {
			restricted++
		}
		contentSize += file.DataFile.Filesize
	}

	record["contentSize (MB)"] = float64(contentSize) / bytesPerMB
	record["totalFiles"] = len(files)
	record["totalRestrictedFiles"] = restricted
	return nil
}

// liftScalar copies a raw JSON member into the record when it is a scalar;
// objects and arrays are left for the structured handling paths.
func liftScalar(record Record, key string, raw json.RawMessage) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return
	}
	switch value.(type) {
	case map[string]any, []any:
		return
	case nil:
		return
	default:
		record[key] = value
	}
}

// previousMonth formats the calendar month before the given time as yyyy-MM,
// computed as the first day of the current month minus one day.
func previousMonth(now time.Time) string {
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return firstOfMonth.AddDate(0, 0, -1).Format("2006-01")
}
