package reports

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/dataverse-reports/dataverse-reports/internal/config"
	"github.com/dataverse-reports/dataverse-reports/internal/telemetry"
)

// Kind selects which report tables a run produces.
type Kind string

// Report kinds accepted on the command line.
const (
	KindDataverse Kind = "dataverse"
	KindDataset   Kind = "dataset"
	KindUser      Kind = "user"
	KindAll       Kind = "all"
)

// ParseKind validates a report kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDataverse, KindDataset, KindUser, KindAll:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown report kind %q (must be dataverse, dataset, user, or all)", s)
	}
}

// Grouping selects how per-account results are delivered: one combined
// mailing to the administrators, or one mailing per institution to its
// configured contacts.
type Grouping string

// Groupings accepted on the command line.
const (
	GroupAll          Grouping = "all"
	GroupInstitutions Grouping = "institutions"
)

// ParseGrouping validates a grouping string.
func ParseGrouping(s string) (Grouping, error) {
	switch Grouping(s) {
	case GroupAll, GroupInstitutions:
		return Grouping(s), nil
	default:
		return "", fmt.Errorf("unknown grouping %q (must be all or institutions)", s)
	}
}

// Output writes report tables. The returned path is the file actually
// written. internal/output implements it.
type Output interface {
	SaveReportCSV(path string, headers []string, records []Record) (string, error)
	SaveReportWorkbook(path string, worksheetCSVs []string) (string, error)
}

// Mailer delivers finished workbooks. internal/email implements it.
type Mailer interface {
	SendAdminReport(reportPaths []string) error
	SendInstitutionReport(account config.Account, reportPaths []string) error
}

// Assembler drives the three report pipelines across the configured roots,
// writes the per-root CSV tables and the combined Excel workbook, and hands
// workbooks to the mailer. Empty tables are suppressed uniformly: no CSV, no
// worksheet, no email.
type Assembler struct {
	dataverses *DataverseReports
	datasets   *DatasetReports
	users      *UserReports

	output         Output
	mailer         Mailer
	accounts       map[string]config.Account
	workDir        string
	includeMetrics bool
}

// NewAssembler wires the assembler. mailer may be nil when email delivery is
// not requested.
func NewAssembler(
	dataverses *DataverseReports,
	datasets *DatasetReports,
	users *UserReports,
	output Output,
	mailer Mailer,
	accounts map[string]config.Account,
	workDir string,
	includeMetrics bool,
) *Assembler {
	return &Assembler{
		dataverses:     dataverses,
		datasets:       datasets,
		users:          users,
		output:         output,
		mailer:         mailer,
		accounts:       accounts,
		workDir:        workDir,
		includeMetrics: includeMetrics,
	}
}

// Run generates the requested report kind(s) and delivers the results.
// Without configured accounts the run starts at the installation root and any
// email goes to the administrators; with accounts, each account's subtree is
// reported separately and grouping decides delivery.
func (a *Assembler) Run(ctx context.Context, kind Kind, grouping Grouping, outputDir string, sendEmail bool) error {
	if len(a.accounts) == 0 {
		slog.Info("no accounts configured, generating reports from the root dataverse")
		return a.runRoot(ctx, kind, outputDir, sendEmail)
	}

	switch grouping {
	case GroupInstitutions:
		return a.runPerInstitution(ctx, kind, outputDir, sendEmail)
	default:
		return a.runCombined(ctx, kind, outputDir, sendEmail)
	}
}

// runRoot reports the whole installation as one subtree.
func (a *Assembler) runRoot(ctx context.Context, kind Kind, outputDir string, sendEmail bool) error {
	csvPaths, err := a.generate(ctx, kind, "root", "")
	if err != nil {
		return err
	}
	if len(csvPaths) == 0 {
		slog.Info("no records produced, skipping workbook and email")
		return nil
	}

	workbook, err := a.output.SaveReportWorkbook(
		filepath.Join(outputDir, "dataverse-reports.xlsx"), csvPaths)
	if err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	slog.Info("saved report workbook", "path", workbook)

	if sendEmail && a.mailer != nil {
		slog.Info("sending report to administrators")
		if err := a.mailer.SendAdminReport([]string{workbook}); err != nil {
			return fmt.Errorf("failed to email report: %w", err)
		}
	}
	return nil
}

// runCombined generates one workbook per account and mails them all to the
// administrators in one message.
func (a *Assembler) runCombined(ctx context.Context, kind Kind, outputDir string, sendEmail bool) error {
	var workbooks []string
	for _, key := range a.accountKeys() {
		account := a.accounts[key]
		workbook, err := a.generateAccountWorkbook(ctx, kind, account, outputDir)
		if err != nil {
			return err
		}
		if workbook != "" {
			workbooks = append(workbooks, workbook)
		}
	}

	if sendEmail && a.mailer != nil && len(workbooks) > 0 {
		slog.Info("sending reports to administrators", "workbooks", len(workbooks))
		if err := a.mailer.SendAdminReport(workbooks); err != nil {
			return fmt.Errorf("failed to email reports: %w", err)
		}
	}
	return nil
}

// runPerInstitution generates one workbook per account and mails each to the
// account's own contacts.
func (a *Assembler) runPerInstitution(ctx context.Context, kind Kind, outputDir string, sendEmail bool) error {
	for _, key := range a.accountKeys() {
		account := a.accounts[key]
		workbook, err := a.generateAccountWorkbook(ctx, kind, account, outputDir)
		if err != nil {
			return err
		}
		if workbook == "" {
			continue
		}
		if sendEmail && a.mailer != nil {
			slog.Info("sending report to institutional contacts", "account", account.Name)
			if err := a.mailer.SendInstitutionReport(account, []string{workbook}); err != nil {
				return fmt.Errorf("failed to email report for %s: %w", account.Name, err)
			}
		}
	}
	return nil
}

// generateAccountWorkbook produces the CSV tables for one account and, when
// any records were produced, the combined workbook. Empty accounts yield "".
func (a *Assembler) generateAccountWorkbook(ctx context.Context, kind Kind, account config.Account, outputDir string) (string, error) {
	slog.Info("generating reports", "account", account.Name, "root", account.Identifier)

	csvPaths, err := a.generate(ctx, kind, account.Identifier, account.Identifier+"-")
	if err != nil {
		return "", err
	}
	if len(csvPaths) == 0 {
		slog.Info("no records produced for account, skipping workbook and email", "account", account.Name)
		return "", nil
	}

	workbook, err := a.output.SaveReportWorkbook(
		filepath.Join(outputDir, account.Identifier+"-dataverse-reports.xlsx"), csvPaths)
	if err != nil {
		return "", fmt.Errorf("failed to save workbook for %s: %w", account.Name, err)
	}
	slog.Info("saved report workbook", "account", account.Name, "path", workbook)
	return workbook, nil
}

// generate runs each requested pipeline for one root and writes its CSV to
// the work directory. Empty tables are not written.
func (a *Assembler) generate(ctx context.Context, kind Kind, rootIdentifier, filePrefix string) ([]string, error) {
	var csvPaths []string

	if kind == KindDataverse || kind == KindAll {
		path, err := a.generateTable(ctx, KindDataverse, rootIdentifier,
			filepath.Join(a.workDir, filePrefix+"dataverses.csv"), DataverseHeaders(),
			a.dataverses.Collect)
		if err != nil {
			return nil, err
		}
		if path != "" {
			csvPaths = append(csvPaths, path)
		}
	}

	if kind == KindDataset || kind == KindAll {
		path, err := a.generateTable(ctx, KindDataset, rootIdentifier,
			filepath.Join(a.workDir, filePrefix+"datasets.csv"), DatasetHeaders(a.includeMetrics),
			a.datasets.Collect)
		if err != nil {
			return nil, err
		}
		if path != "" {
			csvPaths = append(csvPaths, path)
		}
	}

	if kind == KindUser || kind == KindAll {
		path, err := a.generateTable(ctx, KindUser, rootIdentifier,
			filepath.Join(a.workDir, filePrefix+"users.csv"), UserHeaders(),
			a.users.Collect)
		if err != nil {
			return nil, err
		}
		if path != "" {
			csvPaths = append(csvPaths, path)
		}
	}

	return csvPaths, nil
}

// generateTable runs one pipeline and writes its table, recording run
// metrics. Empty results return "" without writing a file.
func (a *Assembler) generateTable(
	ctx context.Context,
	kind Kind,
	rootIdentifier, path string,
	headers []string,
	collect func(context.Context, string) ([]Record, error),
) (string, error) {
	start := time.Now()
	records, err := collect(ctx, rootIdentifier)
	telemetry.ReportDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("failed to collect %s report for %s: %w", kind, rootIdentifier, err)
	}

	telemetry.RecordsTotal.WithLabelValues(string(kind)).Add(float64(len(records)))
	if len(records) == 0 {
		slog.Info("report produced no records", "kind", kind, "root", rootIdentifier)
		return "", nil
	}

	written, err := a.output.SaveReportCSV(path, headers, records)
	if err != nil {
		return "", fmt.Errorf("failed to save %s report for %s: %w", kind, rootIdentifier, err)
	}
	slog.Info("saved report table", "kind", kind, "root", rootIdentifier,
		"records", len(records), "path", written)
	return written, nil
}

// accountKeys returns the configured account keys in stable order so repeated
// runs produce files and emails in the same sequence.
func (a *Assembler) accountKeys() []string {
	keys := make([]string, 0, len(a.accounts))
	for key := range a.accounts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
