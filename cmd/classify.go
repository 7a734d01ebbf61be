package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/snapshot"
	"github.com/sells-group/crm-migrate/internal/stage"
)

var classifyInput string

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Preview deal classification without persisting anything",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if classifyInput != "" {
			cfg.Input.Dir = classifyInput
		}
		if err := cfg.Validate("classify"); err != nil {
			return err
		}

		catalog, err := loadCatalog(cfg)
		if err != nil {
			return err
		}
		snap, err := snapshot.Load(cmd.Context(), cfg.Input.Dir)
		if err != nil {
			return err
		}

		rows, failed := classifyPreview(catalog, snap.Deals)
		formatClassifyPreview(os.Stdout, rows)
		if failed > 0 {
			return eris.Errorf("classify: %d deals routed to misconfigured pipelines", failed)
		}
		return nil
	},
}

// classifyRow is one deal of the classification preview.
type classifyRow struct {
	DealID int64
	Legacy string
	Result stage.Classification
	Err    error
}

// classifyPreview classifies every deal on its own. failed counts deals whose pipeline
// is misconfigured.
func classifyPreview(catalog *stage.Catalog, deals []model.LegacyDeal) ([]classifyRow, int) {
	rows := make([]classifyRow, 0, len(deals))
	failed := 0
	for _, d := range deals {
		c, err := catalog.ClassifyDeal(d)
		if err != nil {
			failed++
		}
		rows = append(rows, classifyRow{
			DealID: d.ID,
			Legacy: d.LegacyStage + " / " + d.LegacyStatus,
			Result: c,
			Err:    err,
		})
	}
	return rows, failed
}

func formatClassifyPreview(out io.Writer, rows []classifyRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DEAL\tLEGACY\tPIPELINE\tSTAGE\tOUTCOME\tNOTE")
	_, _ = fmt.Fprintln(w, "----\t------\t--------\t-----\t-------\t----")
	for _, r := range rows {
		if r.Err != nil {
			_, _ = fmt.Fprintf(w, "%d\t%s\t\t\t\terror: %v\n", r.DealID, r.Legacy, r.Err)
			continue
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.DealID, r.Legacy, r.Result.Pipeline, r.Result.TargetStageName, r.Result.Outcome, r.Result.Note)
	}
	_ = w.Flush()
}

func init() {
	classifyCmd.Flags().StringVar(&classifyInput, "input", "", "snapshot directory (default from config input.dir)")
	rootCmd.AddCommand(classifyCmd)
}
