// Package audit collects run-level counts and data-quality findings and renders them.
package audit

import (
	"sort"
	"time"

	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/stage"
)

// maxHints bounds the stage hints kept in a report.
const maxHints = 200

// ConfigIssue is a configuration error and the deals it kept out of the output.
type ConfigIssue struct {
	Pipeline string `json:"pipeline"`
	Message  string `json:"message"`
	Deals    int    `json:"deals"`
	// Links counts associations pointing at the omitted deals.
	Links int `json:"links,omitempty"`
}

// StageHint records a defaulted stage and the nearest known synonym.
type StageHint struct {
	DealID      int64  `json:"deal_id"`
	Pipeline    string `json:"pipeline"`
	LegacyStage string `json:"legacy_stage"`
	Suggestion  string `json:"suggestion"`
}

// Report is the audit of one run. Configuration errors are kept apart from row-level
// findings.
type Report struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Success     bool      `json:"success"`

	Companies         int `json:"companies"`
	Clusters          int `json:"clusters"`
	MultiSiteClusters int `json:"multi_site_clusters"`
	ClusteredSites    int `json:"clustered_sites"`

	Deals              int `json:"deals"`
	DealsOmitted       int `json:"deals_omitted"`
	PipelinesDefaulted int `json:"pipelines_defaulted"`
	StatusesUnmapped   int `json:"statuses_unmapped"`
	StagesDefaulted    int `json:"stages_defaulted"`

	OutcomeCounts  map[model.OutcomeTag]int `json:"outcome_counts"`
	PipelineCounts map[string]int           `json:"pipeline_counts"`
	StageCounts    map[string]int           `json:"stage_counts"`

	Associations      int                             `json:"associations"`
	AssociationCounts map[model.AssociationStatus]int `json:"association_counts"`
	PairCounts        map[string]int                  `json:"pair_counts"`
	Unresolved        int                             `json:"unresolved"`

	ConfigErrors []ConfigIssue       `json:"configuration_errors,omitempty"`
	Findings     []model.Finding     `json:"findings,omitempty"`
	Hints        []StageHint         `json:"stage_hints,omitempty"`
	Phases       []model.PhaseResult `json:"phases"`
}

// New returns an empty report for a run.
func New(runID string, at time.Time) *Report {
	return &Report{
		RunID:             runID,
		GeneratedAt:       at,
		OutcomeCounts:     make(map[model.OutcomeTag]int),
		PipelineCounts:    make(map[string]int),
		StageCounts:       make(map[string]int),
		AssociationCounts: make(map[model.AssociationStatus]int),
		PairCounts:        make(map[string]int),
	}
}

// RecordClusters counts the clustering output.
func (r *Report) RecordClusters(companies int, clusters []model.CompanyCluster) {
	r.Companies = companies
	r.Clusters = len(clusters)
	for _, c := range clusters {
		if c.IsMultiSite {
			r.MultiSiteClusters++
			r.ClusteredSites += len(c.Members)
		}
	}
}

// RecordDeal counts one classified deal and how it was classified.
func (r *Report) RecordDeal(d model.ClassifiedDeal, c stage.Classification) {
	r.Deals++
	r.OutcomeCounts[d.OutcomeTag]++
	r.PipelineCounts[d.Pipeline]++
	r.StageCounts[d.Pipeline+" / "+d.TargetStageName]++
	if c.PipelineDefaulted {
		r.PipelinesDefaulted++
	}
	if c.StatusUnmapped {
		r.StatusesUnmapped++
	}
	if c.StageDefaulted {
		r.StagesDefaulted++
		if c.Hint != "" && len(r.Hints) < maxHints {
			r.Hints = append(r.Hints, StageHint{
				DealID:      d.ID,
				Pipeline:    d.Pipeline,
				LegacyStage: d.LegacyStage,
				Suggestion:  c.Hint,
			})
		}
	}
}

// RecordConfigError records a configuration error that kept deals out of the output.
func (r *Report) RecordConfigError(err *stage.ConfigurationError, deals int) {
	r.DealsOmitted += deals
	r.ConfigErrors = append(r.ConfigErrors, ConfigIssue{Pipeline: err.Pipeline, Message: err.Error(), Deals: deals})
}

// RecordWithheldLinks attributes links to omitted deals to the configuration error
// of their pipeline.
func (r *Report) RecordWithheldLinks(byPipeline map[string]int) {
	for i := range r.ConfigErrors {
		r.ConfigErrors[i].Links += byPipeline[r.ConfigErrors[i].Pipeline]
	}
}

// RecordAssociations counts association records by status and source/target pair.
func (r *Report) RecordAssociations(records []model.AssociationRecord) {
	r.Associations = len(records)
	for _, a := range records {
		r.AssociationCounts[a.Status]++
		r.PairCounts[string(a.SourceEntity)+" -> "+string(a.TargetEntity)]++
	}
	r.Unresolved = r.AssociationCounts[model.StatusUnresolvedTarget]
}

// AddFindings appends row-level findings.
func (r *Report) AddFindings(fs ...model.Finding) {
	r.Findings = append(r.Findings, fs...)
}

// FindingCounts returns the number of findings per kind.
func (r *Report) FindingCounts() map[model.FindingKind]int {
	out := make(map[model.FindingKind]int)
	for _, f := range r.Findings {
		out[f.Kind]++
	}
	return out
}

// Sort orders findings and hints so reports of identical runs are identical.
func (r *Report) Sort() {
	sort.SliceStable(r.Findings, func(i, j int) bool {
		a, b := r.Findings[i], r.Findings[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		return a.RecordID < b.RecordID
	})
	sort.SliceStable(r.Hints, func(i, j int) bool { return r.Hints[i].DealID < r.Hints[j].DealID })
	sort.SliceStable(r.ConfigErrors, func(i, j int) bool { return r.ConfigErrors[i].Pipeline < r.ConfigErrors[j].Pipeline })
}

// Summary condenses the report into the run result kept in run history.
func (r *Report) Summary() *model.RunResult {
	res := &model.RunResult{
		Success:        r.Success,
		Companies:      r.Companies,
		Clusters:       r.Clusters,
		Deals:          r.Deals,
		Associations:   r.Associations,
		Unresolved:     r.Unresolved,
		ConfigErrors:   len(r.ConfigErrors),
		QualityIssues:  len(r.Findings),
		Phases:         r.Phases,
		OutcomeCounts:  make(map[string]int, len(r.OutcomeCounts)),
		PipelineCounts: make(map[string]int, len(r.PipelineCounts)),
	}
	for k, v := range r.OutcomeCounts {
		res.OutcomeCounts[string(k)] = v
	}
	for k, v := range r.PipelineCounts {
		res.PipelineCounts[k] = v
	}
	return res
}
