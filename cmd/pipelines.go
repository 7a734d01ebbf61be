package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/crm-migrate/internal/stage"
)

var pipelinesYAML bool

var pipelinesCmd = &cobra.Command{
	Use:   "pipelines",
	Short: "Print the active stage catalog",
	Long:  "Prints every pipeline with its stages and terminal stages, after applying pipelines.file and pipelines.default. Misconfigured pipelines are listed with their error.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		catalog, err := loadCatalog(cfg)
		if err != nil {
			return err
		}
		if pipelinesYAML {
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(catalog.Pipelines()); err != nil {
				return eris.Wrap(err, "pipelines: encode")
			}
			return enc.Close()
		}
		formatCatalog(os.Stdout, catalog)
		return nil
	},
}

func formatCatalog(out io.Writer, c *stage.Catalog) {
	_, _ = fmt.Fprintf(out, "Default pipeline: %s\n\n", c.DefaultPipeline())

	broken := make(map[string]string)
	for _, e := range c.Errors() {
		broken[e.Pipeline] = e.Error()
	}

	for _, p := range c.Pipelines() {
		_, _ = fmt.Fprintf(out, "%s", p.Name)
		if len(p.Aliases) > 0 {
			_, _ = fmt.Fprintf(out, " (aliases: %s)", strings.Join(p.Aliases, ", "))
		}
		_, _ = fmt.Fprintln(out)
		if msg, ok := broken[p.Name]; ok {
			_, _ = fmt.Fprintf(out, "  ERROR: %s\n", msg)
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for i, s := range p.Stages {
			_, _ = fmt.Fprintf(w, "  %d\t%s\t%s\t%s\n", i+1, s.TargetLabel, s.TargetStageID, strings.Join(s.Synonyms, ", "))
		}
		for _, kind := range []stage.TerminalKind{stage.TerminalWon, stage.TerminalLost, stage.TerminalDead, stage.TerminalOnHold} {
			if t, ok := p.Terminals[kind]; ok {
				_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\t\n", kind, t.Label, t.ID)
			}
		}
		_ = w.Flush()
		_, _ = fmt.Fprintln(out)
	}
}

func init() {
	pipelinesCmd.Flags().BoolVar(&pipelinesYAML, "yaml", false, "print the pipeline definitions as YAML")
	rootCmd.AddCommand(pipelinesCmd)
}
