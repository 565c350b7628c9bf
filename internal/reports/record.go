package reports

import (
	"context"
	"encoding/json"

	"github.com/dataverse-reports/dataverse-reports/internal/dataverse"
)

// Record is one flat report row: column name → scalar value. Dataset records
// carry dynamic keys (metadata typeNames) in addition to the fixed columns,
// so rows are maps rather than structs; the writer selects and orders columns
// by the report kind's header list and ignores keys absent from it.
type Record map[string]any

// API is the subset of the Dataverse client the report pipelines consume.
type API interface {
	GetDataverse(ctx context.Context, identifier string) (*dataverse.Node, error)
	GetDataverseContents(ctx context.Context, identifier string) ([]dataverse.DVObject, error)
	GetDataset(ctx context.Context, id int64) (json.RawMessage, error)
	GetStorageSizeMessage(ctx context.Context, identifier string) (string, error)
	GetReleaseState(ctx context.Context, alias string) (*bool, error)
	GetDatasetMetric(ctx context.Context, id int64, metric, persistentID, month string) (int64, bool, error)
	ListUsers(ctx context.Context, page int) (*dataverse.UserPage, error)
}

// DownloadCounter resolves cumulative download counts from the Dataverse
// database. *repositories.DownloadRepository satisfies it.
type DownloadCounter interface {
	GetDownloadCount(ctx context.Context, datasetID int64) (int64, error)
}

// DataverseHeaders is the fixed column set of the dataverse report.
func DataverseHeaders() []string {
	return []string{
		"alias", "name", "id", "affiliation", "dataverseType", "creationDate",
		"creatorIdentifier", "creatorName", "creatorEmail", "creatorAffiliation", "creatorPosition",
		"released", "contentSize (MB)",
	}
}

// DatasetHeaders is the fixed column set of the dataset report. The Make
// Data Count columns are appended only when metrics collection is enabled.
func DatasetHeaders(includeMetrics bool) []string {
	headers := []string{
		"dataverse", "id", "identifier", "persistentUrl", "protocol", "authority",
		"publisher", "publicationDate",
		"versionState", "lastUpdateTime", "releaseTime", "createTime", "license", "termsOfUse",
		"title", "author", "datasetContact", "dsDescription", "notesText", "subject",
		"productionDate", "productionPlace", "depositor", "dateOfDeposit",
		"downloadCount",
		"contentSize (MB)", "totalFiles", "totalRestrictedFiles",
	}
	if includeMetrics {
		headers = append(headers,
			"viewsUnique", "viewsMonth", "viewsTotal",
			"downloadsUnique", "downloadsMonth", "downloadsTotal")
	}
	return headers
}

// UserHeaders is the fixed column set of the user report.
func UserHeaders() []string {
	return []string{
		"id", "identifier", "displayName", "firstName", "lastName", "email",
		"superuser", "affiliation", "position", "persistentUserId",
		"createdTime", "lastLoginTime",
	}
}
