package audit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/crm-migrate/internal/model"
)

// maxListedFindings caps the findings printed per kind.
const maxListedFindings = 20

// FormatReport renders a human-readable migration report.
func FormatReport(r *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Migration Report: %s\n", r.RunID)
	fmt.Fprintf(&b, "Generated: %s\n", r.GeneratedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	result := "success"
	if !r.Success {
		result = "failed"
	}
	fmt.Fprintf(&b, "Result: %s\n\n", result)

	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Companies: %d in %d clusters (%d multi-site, %d sites)\n",
		r.Companies, r.Clusters, r.MultiSiteClusters, r.ClusteredSites)
	fmt.Fprintf(&b, "- Deals classified: %d\n", r.Deals)
	if r.DealsOmitted > 0 {
		fmt.Fprintf(&b, "- Deals omitted by configuration errors: %d\n", r.DealsOmitted)
	}
	fmt.Fprintf(&b, "- Associations: %d (%d unresolved)\n", r.Associations, r.Unresolved)
	fmt.Fprintf(&b, "- Data-quality findings: %d\n\n", len(r.Findings))

	b.WriteString("## Phases\n")
	for _, p := range r.Phases {
		fmt.Fprintf(&b, "- %s: %s (%dms)\n", p.Name, p.Status, p.Duration)
		if p.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", p.Error)
		}
	}
	b.WriteString("\n")

	if len(r.ConfigErrors) > 0 {
		b.WriteString("## Configuration Errors\n")
		for _, ce := range r.ConfigErrors {
			fmt.Fprintf(&b, "- **%s**: %s (%d deals omitted, %d links withheld)\n", ce.Pipeline, ce.Message, ce.Deals, ce.Links)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Outcomes\n")
	for _, tag := range []model.OutcomeTag{
		model.OutcomeWon, model.OutcomeLost, model.OutcomeAbandoned,
		model.OutcomeNotViable, model.OutcomeOnHold, model.OutcomeInProgress,
	} {
		fmt.Fprintf(&b, "- %s: %d\n", tag, r.OutcomeCounts[tag])
	}
	b.WriteString("\n")

	b.WriteString("## Pipelines\n")
	writeCounts(&b, r.PipelineCounts)
	b.WriteString("\n## Stages\n")
	writeCounts(&b, r.StageCounts)
	fmt.Fprintf(&b, "\n- Pipelines defaulted: %d\n", r.PipelinesDefaulted)
	fmt.Fprintf(&b, "- Statuses unmapped: %d\n", r.StatusesUnmapped)
	fmt.Fprintf(&b, "- Stages defaulted: %d\n\n", r.StagesDefaulted)

	b.WriteString("## Associations\n")
	for _, s := range []model.AssociationStatus{model.StatusResolved, model.StatusNoForeignKey, model.StatusUnresolvedTarget} {
		fmt.Fprintf(&b, "- %s: %d\n", s, r.AssociationCounts[s])
	}
	b.WriteString("\n")
	writeCounts(&b, r.PairCounts)
	b.WriteString("\n")

	if len(r.Hints) > 0 {
		b.WriteString("## Stage Hints\n")
		for _, h := range r.Hints {
			fmt.Fprintf(&b, "- Deal %d (%s): %q -> did you mean %q?\n", h.DealID, h.Pipeline, h.LegacyStage, h.Suggestion)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Data Quality\n")
	if len(r.Findings) == 0 {
		b.WriteString("No findings.\n")
		return b.String()
	}
	byKind := make(map[model.FindingKind][]model.Finding)
	for _, f := range r.Findings {
		byKind[f.Kind] = append(byKind[f.Kind], f)
	}
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fs := byKind[model.FindingKind(k)]
		fmt.Fprintf(&b, "### %s (%d)\n", k, len(fs))
		for i, f := range fs {
			if i == maxListedFindings {
				fmt.Fprintf(&b, "- ... %d more\n", len(fs)-maxListedFindings)
				break
			}
			fmt.Fprintf(&b, "- %s %d: %s\n", f.Entity, f.RecordID, f.Message)
		}
	}
	return b.String()
}

func writeCounts(b *strings.Builder, counts map[string]int) {
	if len(counts) == 0 {
		b.WriteString("None.\n")
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %d\n", k, counts[k])
	}
}
