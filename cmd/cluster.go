package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/crm-migrate/internal/cluster"
	"github.com/sells-group/crm-migrate/internal/snapshot"
)

var (
	clusterInput     string
	clusterMultiOnly bool
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Preview company site clusters without persisting anything",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if clusterInput != "" {
			cfg.Input.Dir = clusterInput
		}
		if err := cfg.Validate("cluster"); err != nil {
			return err
		}

		snap, err := snapshot.Load(cmd.Context(), cfg.Input.Dir)
		if err != nil {
			return err
		}
		res := cluster.Cluster(snap.Companies, snap.Contacts, engineOptions(cfg).Cluster)
		formatClusters(os.Stdout, res, clusterMultiOnly)
		return nil
	},
}

func formatClusters(out io.Writer, res *cluster.Result, multiOnly bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "BASE NAME\tDOMAIN\tPARENT\tMEMBERS\tLOCATIONS\tCONTACTS")
	_, _ = fmt.Fprintln(w, "---------\t------\t------\t-------\t---------\t--------")
	for _, c := range res.Clusters {
		if multiOnly && !c.IsMultiSite {
			continue
		}
		ids := make([]string, len(c.Members))
		locs := make([]string, len(c.Members))
		for i, m := range c.Members {
			ids[i] = fmt.Sprintf("%d", m.CompanyID)
			locs[i] = m.Location
		}
		parent := "-"
		if c.ParentID != 0 {
			parent = fmt.Sprintf("%d", c.ParentID)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			c.Key.BaseName, c.Key.DomainKey, parent,
			strings.Join(ids, ","), strings.Join(locs, ","), c.Rollup.ContactCount)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\n%d clusters, %d multi-site, %d findings\n", len(res.Clusters), res.MultiSite(), len(res.Findings))
}

func init() {
	clusterCmd.Flags().StringVar(&clusterInput, "input", "", "snapshot directory (default from config input.dir)")
	clusterCmd.Flags().BoolVar(&clusterMultiOnly, "multi-site", false, "only show clusters with more than one site")
	rootCmd.AddCommand(clusterCmd)
}
