package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-migrate/internal/config"
	"github.com/sells-group/crm-migrate/internal/export"
	"github.com/sells-group/crm-migrate/internal/migrate"
	"github.com/sells-group/crm-migrate/internal/snapshot"
)

var (
	runInput    string
	runOutput   string
	runFormat   string
	runWorkers  int
	runNoExport bool
	runJSON     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full migration over a snapshot directory",
	Long:  "Loads the legacy extracts, clusters companies, classifies deals, resolves associations, then persists the run and writes the output tables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyRunFlags(cfg)
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		res, err := runMigration(ctx, cfg, !runNoExport)
		if err != nil {
			return err
		}

		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res.Summary)
		}
		formatRunSummary(os.Stdout, res)
		if !res.Summary.Success {
			return eris.Errorf("run %s finished with %d configuration errors", res.RunID, res.Summary.ConfigErrors)
		}
		return nil
	},
}

// applyRunFlags lets explicitly set flags override configuration.
func applyRunFlags(c *config.Config) {
	if runInput != "" {
		c.Input.Dir = runInput
	}
	if runOutput != "" {
		c.Output.Dir = runOutput
	}
	if runFormat != "" {
		c.Output.Format = runFormat
	}
	if runWorkers > 0 {
		c.Batch.Workers = runWorkers
	}
}

// runMigration loads the snapshot and runs the engine with the configured store and,
// when write is set, the export writer.
func runMigration(ctx context.Context, c *config.Config, write bool) (*migrate.Result, error) {
	catalog, err := loadCatalog(c)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	if st != nil {
		defer st.Close() //nolint:errcheck
	}

	snap, err := snapshot.Load(ctx, c.Input.Dir)
	if err != nil {
		return nil, err
	}

	opts := engineOptions(c)
	if write {
		w, err := export.NewWriter(c.Output.Dir, c.Output.Format)
		if err != nil {
			return nil, err
		}
		opts.Output = w
	}

	res, err := migrate.NewEngine(catalog, st, opts).Run(ctx, c.Input.Dir, snap)
	if err != nil {
		return nil, eris.Wrap(err, "migration run")
	}

	zap.L().Info("migration complete",
		zap.String("run_id", res.RunID),
		zap.Bool("success", res.Summary.Success),
		zap.Int("deals", res.Summary.Deals),
		zap.Int("associations", res.Summary.Associations),
		zap.Int("unresolved", res.Summary.Unresolved),
	)
	return res, nil
}

// formatRunSummary writes the counts of a finished run to w.
func formatRunSummary(out io.Writer, res *migrate.Result) {
	s := res.Summary
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", res.RunID)
	_, _ = fmt.Fprintf(w, "Success:\t%v\n", s.Success)
	_, _ = fmt.Fprintf(w, "Companies:\t%d\n", s.Companies)
	_, _ = fmt.Fprintf(w, "Clusters:\t%d\n", s.Clusters)
	_, _ = fmt.Fprintf(w, "Deals:\t%d\n", s.Deals)
	_, _ = fmt.Fprintf(w, "Associations:\t%d (%d unresolved)\n", s.Associations, s.Unresolved)
	_, _ = fmt.Fprintf(w, "Findings:\t%d\n", s.QualityIssues)
	if s.ConfigErrors > 0 {
		_, _ = fmt.Fprintf(w, "Configuration errors:\t%d\n", s.ConfigErrors)
	}
	for _, p := range s.Phases {
		_, _ = fmt.Fprintf(w, "  %s\t%s\t%dms\n", p.Name, p.Status, p.Duration)
	}
	_ = w.Flush()
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "snapshot directory (default from config input.dir)")
	runCmd.Flags().StringVar(&runOutput, "output", "", "output root directory (default from config output.dir)")
	runCmd.Flags().StringVar(&runFormat, "format", "", "output format: csv or xlsx")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "worker pool size (default from config batch.workers)")
	runCmd.Flags().BoolVar(&runNoExport, "no-export", false, "skip writing output files")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run summary as JSON")
	rootCmd.AddCommand(runCmd)
}
