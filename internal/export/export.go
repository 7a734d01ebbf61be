// Package export writes the output tables of a migration run to disk. A run's files are
// written to a staging directory and renamed into place, so readers see either the
// complete set or nothing.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/crm-migrate/internal/audit"
	"github.com/sells-group/crm-migrate/internal/migrate"
)

// Output formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Report file names written next to the tables.
const (
	AuditFile  = "audit.json"
	ReportFile = "report.md"
	// WorkbookFile holds every table as a sheet when the format is xlsx.
	WorkbookFile = "migration.xlsx"
)

// Writer writes each run under Root/<run id>.
type Writer struct {
	Root   string
	Format string
}

var _ migrate.Output = (*Writer)(nil)

// NewWriter returns a writer for root. An empty format means csv.
func NewWriter(root, format string) (*Writer, error) {
	switch format {
	case "":
		format = FormatCSV
	case FormatCSV, FormatXLSX:
	default:
		return nil, eris.Errorf("export: unsupported format %q", format)
	}
	return &Writer{Root: root, Format: format}, nil
}

// Dir returns the directory a run's files end up in.
func (w *Writer) Dir(runID string) string {
	return filepath.Join(w.Root, runID)
}

// Write stages every table and report of res, then moves the staging directory to
// Dir(res.RunID), replacing an earlier export of the same run.
func (w *Writer) Write(ctx context.Context, res *migrate.Result) error {
	if err := os.MkdirAll(w.Root, 0o755); err != nil {
		return eris.Wrapf(err, "export: create %s", w.Root)
	}
	tmp, err := os.MkdirTemp(w.Root, "."+res.RunID+"-")
	if err != nil {
		return eris.Wrap(err, "export: create staging dir")
	}
	defer os.RemoveAll(tmp) //nolint:errcheck

	tables := []table{
		companyTable(res.Companies),
		dealTable(res.Deals),
		associationTable(res.Associations),
		clusterTable(res.Clusters),
	}
	switch w.Format {
	case FormatXLSX:
		err = writeWorkbook(filepath.Join(tmp, WorkbookFile), tables)
	default:
		for _, t := range tables {
			if err = ctx.Err(); err != nil {
				break
			}
			if err = writeCSV(filepath.Join(tmp, t.name+".csv"), t); err != nil {
				break
			}
		}
	}
	if err != nil {
		return eris.Wrap(err, "export: write tables")
	}
	if res.Report != nil {
		if err := writeReport(tmp, res.Report); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "export: cancelled")
	}

	dst := w.Dir(res.RunID)
	if err := publish(tmp, dst); err != nil {
		return err
	}

	zap.L().Info("export: run written",
		zap.String("run_id", res.RunID),
		zap.String("dir", dst),
		zap.String("format", w.Format),
	)
	return nil
}

// publish moves the staged directory to dst. An earlier export at dst is moved aside
// first and restored if the move fails, so dst always holds a complete export.
func publish(staged, dst string) error {
	aside := staged + ".prev"
	hadPrev := false
	if _, err := os.Stat(dst); err == nil {
		if err := os.Rename(dst, aside); err != nil {
			return eris.Wrapf(err, "export: move aside %s", dst)
		}
		hadPrev = true
	} else if !os.IsNotExist(err) {
		return eris.Wrapf(err, "export: stat %s", dst)
	}

	if err := os.Rename(staged, dst); err != nil {
		if hadPrev {
			if restoreErr := os.Rename(aside, dst); restoreErr != nil {
				zap.L().Error("export: failed to restore earlier export",
					zap.String("dir", dst), zap.Error(restoreErr))
			}
		}
		return eris.Wrapf(err, "export: move into %s", dst)
	}
	if hadPrev {
		if err := os.RemoveAll(aside); err != nil {
			zap.L().Warn("export: failed to remove earlier export", zap.String("dir", aside), zap.Error(err))
		}
	}
	return nil
}

func writeCSV(path string, t table) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", filepath.Base(path))
	}
	defer f.Close() //nolint:errcheck

	cw := csv.NewWriter(f)
	if err := cw.Write(t.columns); err != nil {
		return eris.Wrapf(err, "export: write %s header", t.name)
	}
	if err := cw.WriteAll(t.rows); err != nil {
		return eris.Wrapf(err, "export: write %s rows", t.name)
	}
	return eris.Wrapf(f.Sync(), "export: sync %s", t.name)
}

func writeWorkbook(path string, tables []table) error {
	f := xlsx.NewFile()
	for _, t := range tables {
		sheet, err := f.AddSheet(t.name)
		if err != nil {
			return eris.Wrapf(err, "export: add sheet %s", t.name)
		}
		addRow(sheet, t.columns)
		for _, r := range t.rows {
			addRow(sheet, r)
		}
	}
	return eris.Wrap(f.Save(path), "export: save workbook")
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}

func writeReport(dir string, r *audit.Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return eris.Wrap(err, "export: marshal audit")
	}
	if err := os.WriteFile(filepath.Join(dir, AuditFile), data, 0o644); err != nil {
		return eris.Wrap(err, "export: write audit")
	}
	if err := os.WriteFile(filepath.Join(dir, ReportFile), []byte(audit.FormatReport(r)), 0o644); err != nil {
		return eris.Wrap(err, "export: write report")
	}
	return nil
}
