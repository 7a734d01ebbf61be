package migrate

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crm-migrate/internal/finance"
	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/normalize"
	"github.com/sells-group/crm-migrate/internal/stage"
)

// studyType is the normalized legacy opportunity type of pre-study deals.
const studyType = "preetude"

// configFailure is a pipeline partition that could not be classified.
type configFailure struct {
	err   *stage.ConfigurationError
	deals int
}

// classification is the output of the classify phase. deals and classifications are
// parallel slices in input order.
type classification struct {
	deals           []model.ClassifiedDeal
	classifications []stage.Classification
	findings        []model.Finding
	configErrors    []configFailure
	partitions      int
	omitted         int
	// withheld maps the ids of deals dropped with a failed partition to its pipeline.
	withheld map[int64]string
}

// slot holds the result for one input deal. Each slot is written by exactly one worker.
type slot struct {
	ok       bool
	deal     model.ClassifiedDeal
	class    stage.Classification
	findings []model.Finding
}

// classify partitions deals by pipeline and classifies the partitions concurrently. A
// partition whose pipeline is misconfigured is dropped and reported; the others finish.
func (e *Engine) classify(ctx context.Context, deals []model.LegacyDeal, asOf time.Time) (*classification, error) {
	partitions := make(map[string][]int)
	for i, d := range deals {
		name := e.catalog.PipelineFor(d)
		partitions[name] = append(partitions[name], i)
	}
	names := make([]string, 0, len(partitions))
	for name := range partitions {
		names = append(names, name)
	}
	sort.Strings(names)

	slots := make([]slot, len(deals))
	failures := make([]*stage.ConfigurationError, len(names))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for pi, name := range names {
		g.Go(func() error {
			cfgErr, err := e.classifyPartition(gCtx, deals, partitions[name], slots, asOf)
			if err != nil {
				return err
			}
			failures[pi] = cfgErr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "migrate: classify")
	}

	out := &classification{
		deals:           make([]model.ClassifiedDeal, 0, len(deals)),
		classifications: make([]stage.Classification, 0, len(deals)),
		partitions:      len(names),
		withheld:        make(map[int64]string),
	}
	for pi, cfgErr := range failures {
		if cfgErr == nil {
			continue
		}
		n := len(partitions[names[pi]])
		out.configErrors = append(out.configErrors, configFailure{err: cfgErr, deals: n})
		out.omitted += n
		for _, i := range partitions[names[pi]] {
			out.withheld[deals[i].ID] = names[pi]
		}
		zap.L().Error("migrate: pipeline partition failed",
			zap.String("pipeline", names[pi]),
			zap.Int("deals", n),
			zap.Error(cfgErr),
		)
	}
	for _, s := range slots {
		if !s.ok {
			continue
		}
		out.deals = append(out.deals, s.deal)
		out.classifications = append(out.classifications, s.class)
		out.findings = append(out.findings, s.findings...)
	}
	return out, nil
}

// classifyPartition classifies the deals at idx, all routed to one pipeline. A
// configuration error fails the partition and clears anything it produced; any other
// error is returned.
func (e *Engine) classifyPartition(ctx context.Context, deals []model.LegacyDeal, idx []int, slots []slot, asOf time.Time) (*stage.ConfigurationError, error) {
	for n, i := range idx {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := e.classifyDeal(deals[i], asOf)
		if err != nil {
			var cfgErr *stage.ConfigurationError
			if errors.As(err, &cfgErr) {
				for _, j := range idx[:n] {
					slots[j] = slot{}
				}
				return cfgErr, nil
			}
			return nil, err
		}
		slots[i] = s
	}
	return nil, nil
}

// classifyDeal classifies one deal and computes its financials.
func (e *Engine) classifyDeal(d model.LegacyDeal, asOf time.Time) (slot, error) {
	c, err := e.catalog.ClassifyDeal(d)
	if err != nil {
		return slot{}, err
	}
	fin, warnings := finance.Compute(d, asOf)

	s := slot{
		ok:    true,
		class: c,
		deal: model.ClassifiedDeal{
			LegacyDeal:         d,
			Pipeline:           c.Pipeline,
			TargetStageName:    c.TargetStageName,
			TargetStageID:      c.TargetStageID,
			OutcomeTag:         c.Outcome,
			TransformationNote: c.Note,
			DealCategory:       dealCategory(d),
			Financials:         fin,
		},
	}

	for _, w := range warnings {
		s.findings = append(s.findings, model.Finding{
			Kind: model.FindingValidation, Entity: model.EntityDeal, RecordID: d.ID,
			Field: w.Field, Message: w.Message,
		})
		zap.L().Warn("migrate: financial warning", zap.Int64("deal_id", d.ID), zap.String("field", w.Field), zap.String("message", w.Message))
	}

	ambiguity := func(field, msg string) {
		s.findings = append(s.findings, model.Finding{
			Kind: model.FindingClassification, Entity: model.EntityDeal, RecordID: d.ID,
			Field: field, Message: msg,
		})
	}
	if c.PipelineDefaulted {
		ambiguity("pipeline_type", "pipeline routed to "+c.Pipeline)
	}
	if c.StatusUnmapped {
		ambiguity("legacy_status", "status "+quoteOrEmpty(d.LegacyStatus)+" unmapped")
	}
	if c.StageDefaulted {
		msg := "stage " + quoteOrEmpty(d.LegacyStage) + " unresolved"
		if c.Hint != "" {
			msg += "; nearest " + quoteOrEmpty(c.Hint)
		}
		ambiguity("legacy_stage", msg)
	}
	if c.PipelineDefaulted || c.StatusUnmapped || c.StageDefaulted {
		zap.L().Warn("migrate: classification defaulted",
			zap.Int64("deal_id", d.ID),
			zap.String("pipeline", c.Pipeline),
			zap.String("note", c.Note),
		)
	}
	return s, nil
}

// dealCategory separates pre-study deals from sales opportunities.
func dealCategory(d model.LegacyDeal) string {
	if normalize.Key(d.LegacyType) == studyType {
		return model.DealCategoryStudy
	}
	return model.DealCategoryOpportunity
}

func quoteOrEmpty(s string) string {
	if normalize.IsNullText(s) {
		return "(empty)"
	}
	return `"` + s + `"`
}
