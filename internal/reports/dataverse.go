package reports

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/dataverse-reports/dataverse-reports/internal/dataverse"
)

const bytesPerMB = 1048576

// storageSizePattern extracts the comma-grouped byte count from the free-text
// storagesize message, e.g. "Total size of the files stored in this
// dataverse: 5,242,880 bytes".
var storageSizePattern = regexp.MustCompile(`dataverse:\s(.*)\sbyte`)

// DataverseReports produces the dataverse report: one record per
// organizational node in the subtree, enriched with creator identity, the
// aggregate storage size, and the SWORD release state.
type DataverseReports struct {
	api       API
	directory *UserDirectory
}

// NewDataverseReports creates the dataverse report pipeline.
func NewDataverseReports(api API, directory *UserDirectory) *DataverseReports {
	return &DataverseReports{api: api, directory: directory}
}

// Collect walks the tree rooted at rootIdentifier and returns the dataverse
// records in depth-first pre-order.
func (r *DataverseReports) Collect(ctx context.Context, rootIdentifier string) ([]Record, error) {
	slog.Info("collecting dataverse report", "root", rootIdentifier)

	visitor := &dataverseVisitor{reports: r}
	if err := NewWalker(r.api).Walk(ctx, rootIdentifier, visitor); err != nil {
		return nil, err
	}

	slog.Info("finished dataverse report", "root", rootIdentifier, "records", len(visitor.records))
	return visitor.records, nil
}

type dataverseVisitor struct {
	reports *DataverseReports
	records []Record
}

func (v *dataverseVisitor) VisitDataverse(ctx context.Context, identifier string) error {
	record, err := v.reports.buildRecord(ctx, identifier)
	if err != nil {
		return err
	}
	if record != nil {
		v.records = append(v.records, record)
	}
	return nil
}

func (v *dataverseVisitor) VisitDataset(ctx context.Context, parentIdentifier string, object dataverse.DVObject) error {
	return nil
}

// buildRecord assembles one flat dataverse record. A missing payload yields
// (nil, nil) so the node contributes nothing while its subtree is still
// walked; only transport failures return an error.
func (r *DataverseReports) buildRecord(ctx context.Context, identifier string) (Record, error) {
	node, err := r.api.GetDataverse(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if node == nil {
		slog.Warn("dataverse has no data, skipping record", "identifier", identifier)
		return nil, nil
	}

	slog.Debug("building dataverse record", "alias", node.Alias, "name", node.Name)

	record := Record{
		"alias":         node.Alias,
		"name":          node.Name,
		"id":            node.ID,
		"affiliation":   node.Affiliation,
		"dataverseType": node.DataverseType,
		"creationDate":  node.CreationDate,
	}

	r.resolveCreator(node, record)
	r.addStorageSize(ctx, identifier, record)
	r.addReleaseState(ctx, node, record)

	return record, nil
}

// resolveCreator fills the creator columns. The structured contacts list is
// preferred: the first contact's email is matched case-insensitively against
// the user directory. Dataverses created by older installations instead carry
// an embedded creator sub-record. Neither being present leaves the columns
// unset; a record is never failed over missing creator identity.
func (r *DataverseReports) resolveCreator(node *dataverse.Node, record Record) {
	switch {
	case len(node.Contacts) > 0:
		email := strings.TrimSpace(node.Contacts[0].ContactEmail)
		if email == "" {
			slog.Warn("first dataverse contact has no email", "dataverse", node.Alias)
			return
		}
		user := r.directory.FindByEmail(email)
		if user == nil {
			slog.Warn("no user account for contact email", "dataverse", node.Alias, "email", email)
			record["creatorEmail"] = email
			return
		}
		record["creatorIdentifier"] = user.UserIdentifier
		displayName := user.DisplayName
		if displayName == "" {
			displayName = strings.TrimSpace(user.FirstName + " " + user.LastName)
		}
		record["creatorName"] = displayName
		record["creatorEmail"] = user.Email
		record["creatorAffiliation"] = user.Affiliation
		record["creatorPosition"] = user.Position

	case node.Creator != nil:
		record["creatorIdentifier"] = node.Creator.Identifier
		record["creatorName"] = node.Creator.DisplayName
		record["creatorEmail"] = node.Creator.Email
		record["creatorAffiliation"] = node.Creator.Affiliation
		record["creatorPosition"] = node.Creator.Position

	default:
		slog.Warn("unable to find dataverse creator information", "dataverse", node.Alias)
	}
}

// addStorageSize sets "contentSize (MB)" from the storagesize endpoint's
// free-text message. No parsable byte phrase leaves the column unset.
func (r *DataverseReports) addStorageSize(ctx context.Context, identifier string, record Record) {
	message, err := r.api.GetStorageSizeMessage(ctx, identifier)
	if err != nil {
		slog.Warn("failed to fetch dataverse storage size", "identifier", identifier, "error", err)
		return
	}
	if message == "" {
		slog.Warn("no message in storagesize response", "identifier", identifier)
		return
	}
	sizeMB, ok := parseStorageSize(message)
	if !ok {
		slog.Warn("unable to find the bytes value in the storagesize message",
			"identifier", identifier, "message", message)
		return
	}
	record["contentSize (MB)"] = sizeMB
}

// addReleaseState sets the "released" column from the SWORD statement:
// "Yes" when the dataverseHasBeenReleased element is true, "No" when present
// but not true, unset when the element is absent.
func (r *DataverseReports) addReleaseState(ctx context.Context, node *dataverse.Node, record Record) {
	if node.Alias == "" {
		return
	}
	released, err := r.api.GetReleaseState(ctx, node.Alias)
	if err != nil {
		slog.Warn("failed to fetch release state", "dataverse", node.Alias, "error", err)
		return
	}
	if released == nil {
		slog.Debug("release state element absent", "dataverse", node.Alias)
		return
	}
	if *released {
		record["released"] = "Yes"
	} else {
		record["released"] = "No"
	}
}

// parseStorageSize extracts the byte count from a storagesize message and
// converts it to megabytes.
func parseStorageSize(message string) (float64, bool) {
	match := storageSizePattern.FindStringSubmatch(message)
	if match == nil {
		return 0, false
	}
	sizeBytes, err := strconv.ParseInt(strings.ReplaceAll(match[1], ",", ""), 10, 64)
	if err != nil {
		return 0, false
	}
	return float64(sizeBytes) / bytesPerMB, true
}
