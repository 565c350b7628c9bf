package reports

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dataverse-reports/dataverse-reports/internal/dataverse"
)

// fakeDownloads answers canned cumulative download counts.
type fakeDownloads struct {
	counts map[int64]int64
	err    error
}

func (f *fakeDownloads) GetDownloadCount(ctx context.Context, datasetID int64) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[datasetID], nil
}

const datasetPayload = `{
	"id": 100,
	"identifier": "FK2/ABCDEF",
	"persistentUrl": "https://doi.org/10.5072/FK2/ABCDEF",
	"protocol": "doi",
	"authority": "10.5072",
	"publisher": "Root Dataverse",
	"publicationDate": "2020-06-01",
	"latestVersion": {
		"id": 5,
		"versionState": "RELEASED",
		"lastUpdateTime": "2020-06-01T12:00:00Z",
		"releaseTime": "2020-06-01T12:00:00Z",
		"createTime": "2020-05-20T09:00:00Z",
		"license": "CC0",
		"termsOfUse": "CC0 Waiver",
		"metadataBlocks": {
			"citation": {
				"displayName": "Citation Metadata",
				"fields": [
					{"typeName": "title", "multiple": false, "typeClass": "primitive", "value": "Bird Songs"},
					{"typeName": "author", "multiple": true, "typeClass": "compound", "value": [
						{"authorName": {"typeName": "authorName", "multiple": false, "typeClass": "primitive", "value": "Finch, Fiona"}}
					]},
					{"typeName": "subject", "multiple": true, "typeClass": "controlledVocabulary", "value": ["Other"]},
					{"typeName": "mystery", "multiple": false, "typeClass": "novel", "value": "x"}
				]
			}
		},
		"files": [
			{"restricted": false, "dataFile": {"id": 1, "filename": "a.csv", "filesize": 2097152}},
			{"restricted": true, "dataFile": {"id": 2, "filename": "b.csv", "filesize": 1048576}}
		]
	}
}`

func newDatasetTree() *fakeAPI {
	return &fakeAPI{
		nodes: map[string]*dataverse.Node{
			"root": {ID: 1, Alias: "root"},
		},
		contents: map[string][]dataverse.DVObject{
			"root": {{
				ID: 100, Type: "dataset",
				Identifier: "FK2/ABCDEF", Protocol: "doi", Authority: "10.5072",
			}},
		},
		datasets: map[int64]json.RawMessage{
			100: json.RawMessage(datasetPayload),
		},
	}
}

// ---------------------------------------------------------------------------
// DatasetReports.Collect
// ---------------------------------------------------------------------------

func TestDatasetReportRecord(t *testing.T) {
	api := newDatasetTree()
	downloads := &fakeDownloads{counts: map[int64]int64{100: 42}}

	reports := NewDatasetReports(api, downloads, false)
	records, err := reports.Collect(context.Background(), "root")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	record := records[0]
	want := map[string]any{
		"dataverse":            "root",
		"id":                   float64(100),
		"identifier":           "FK2/ABCDEF",
		"persistentUrl":        "https://doi.org/10.5072/FK2/ABCDEF",
		"protocol":             "doi",
		"authority":            "10.5072",
		"publisher":            "Root Dataverse",
		"publicationDate":      "2020-06-01",
		"versionState":         "RELEASED",
		"license":              "CC0",
		"termsOfUse":           "CC0 Waiver",
		"title":                "Bird Songs",
		"author":               "Finch, Fiona",
		"subject":              "Other",
		"downloadCount":        int64(42),
		"contentSize (MB)":     3.0,
		"totalFiles":           2,
		"totalRestrictedFiles": 1,
	}
	for column, value := range want {
		if record[column] != value {
			t.Errorf("record[%q] = %v (%T), want %v", column, record[column], record[column], value)
		}
	}

	// Unknown typeClass contributes no column.
	if _, present := record["mystery"]; present {
		t.Errorf("field with unrecognized typeClass should be skipped")
	}
	// Metrics are off by default.
	if _, present := record["viewsTotal"]; present {
		t.Errorf("metrics columns present without includeMetrics")
	}
}

func TestDatasetReportMetrics(t *testing.T) {
	api := newDatasetTree()
	api.metrics = map[string]int64{
		"100/viewsUnique/":           11,
		"100/viewsMonth/2024-02":     3,
		"100/viewsTotal/":            20,
		"100/downloadsUnique/":       7,
		"100/downloadsMonth/2024-02": 2,
		"100/downloadsTotal/":        15,
	}
	downloads := &fakeDownloads{}

	reports := NewDatasetReports(api, downloads, true)
	reports.now = func() time.Time {
		return time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)
	}

	records, err := reports.Collect(context.Background(), "root")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	record := records[0]

	want := map[string]int64{
		"viewsUnique":     11,
		"viewsMonth":      3,
		"viewsTotal":      20,
		"downloadsUnique": 7,
		"downloadsMonth":  2,
		"downloadsTotal":  15,
	}
	for metric, value := range want {
		if record[metric] != value {
			t.Errorf("record[%q] = %v, want %d", metric, record[metric], value)
		}
	}
}

func TestDatasetReportMetricFailureYieldsZero(t *testing.T) {
	api := newDatasetTree()
	api.errs = map[string]error{"metric:100/viewsTotal": errors.New("boom")}
	downloads := &fakeDownloads{}

	reports := NewDatasetReports(api, downloads, true)
	records, err := reports.Collect(context.Background(), "root")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	record := records[0]

	// Errored and unavailable metrics both report zero.
	for _, metric := range datasetMetrics {
		if record[metric] != int64(0) {
			t.Errorf("record[%q] = %v, want 0", metric, record[metric])
		}
	}
}

func TestDatasetReportMissingDataSkipsRecord(t *testing.T) {
	api := newDatasetTree()
	delete(api.datasets, 100)
	downloads := &fakeDownloads{}

	reports := NewDatasetReports(api, downloads, false)
	records, err := reports.Collect(context.Background(), "root")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("got %d records, want 0", len(records))
	}
}

func TestDatasetReportDownloadCountFailureSkipsDataset(t *testing.T) {
	api := newDatasetTree()
	downloads := &fakeDownloads{err: errors.New("connection refused")}

	reports := NewDatasetReports(api, downloads, false)
	records, err := reports.Collect(context.Background(), "root")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	// The dataset visitor's error is confined to the dataset.
	if len(records) != 0 {
		t.Fatalf("got %d records, want 0", len(records))
	}
}

// ---------------------------------------------------------------------------
// previousMonth
// ---------------------------------------------------------------------------

func TestPreviousMonth(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"mid-month", time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC), "2024-02"},
		{"first of month", time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), "2024-02"},
		{"january rolls to previous year", time.Date(2024, time.January, 20, 0, 0, 0, 0, time.UTC), "2023-12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := previousMonth(tt.now)
			if got != tt.want {
				t.Errorf("previousMonth(%v) = %q, want %q", tt.now, got, tt.want)
			}
		})
	}
}
