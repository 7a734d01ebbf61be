// Package migrate sequences a migration run: companies are clustered, contacts indexed,
// deals classified, associations resolved, then the audit is built and the outputs are
// persisted as one unit.
package migrate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-migrate/internal/association"
	"github.com/sells-group/crm-migrate/internal/audit"
	"github.com/sells-group/crm-migrate/internal/cluster"
	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/stage"
	"github.com/sells-group/crm-migrate/internal/store"
)

// Phase names, in execution order.
const (
	PhaseCluster  = "cluster"
	PhaseContacts = "contacts"
	PhaseClassify = "classify"
	PhaseResolve  = "resolve"
	PhaseAudit    = "audit"
	PhasePersist  = "persist"
)

const defaultWorkers = 4

// Output receives the finished tables of a run. It is called once, after the audit is
// built, and must replace any earlier output atomically.
type Output interface {
	Write(ctx context.Context, res *Result) error
}

// Options configure an Engine.
type Options struct {
	// Workers bounds the classification partitions and resolution chunks run at once.
	Workers int
	Cluster cluster.Options
	// AsOf is the reference time for deal ages. Zero means the run's start time.
	AsOf time.Time
	// Output, when set, is written in the persist phase.
	Output Output
}

// Result holds every output table of a successful run.
type Result struct {
	RunID        string                    `json:"run_id"`
	Companies    []model.CompanyRecord     `json:"companies"`
	Clusters     []model.CompanyCluster    `json:"clusters"`
	Deals        []model.ClassifiedDeal    `json:"deals"`
	Associations []model.AssociationRecord `json:"associations"`
	Report       *audit.Report             `json:"report"`
	Summary      *model.RunResult          `json:"summary"`
}

// Engine runs migrations against an immutable stage catalog.
type Engine struct {
	catalog *stage.Catalog
	store   store.Store
	opts    Options
}

// NewEngine creates an Engine. st may be nil, in which case run history and outputs are
// not persisted.
func NewEngine(catalog *stage.Catalog, st store.Store, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	return &Engine{catalog: catalog, store: st, opts: opts}
}

// Run executes one migration over a fully loaded snapshot. The Result is returned only
// when every phase completed; on cancellation the context error is returned and no
// output is written.
func (e *Engine) Run(ctx context.Context, snapshotDir string, snap *model.Snapshot) (*Result, error) {
	log := zap.L().With(zap.String("snapshot", snapshotDir))
	log.Info("migrate: starting run",
		zap.Int("companies", len(snap.Companies)),
		zap.Int("contacts", len(snap.Contacts)),
		zap.Int("deals", len(snap.Deals)),
		zap.Int("communications", len(snap.Communications)),
	)

	started := time.Now().UTC()
	asOf := e.opts.AsOf
	if asOf.IsZero() {
		asOf = started
	}

	runID := uuid.New().String()
	if e.store != nil {
		run, err := e.store.CreateRun(ctx, snapshotDir)
		if err != nil {
			return nil, eris.Wrap(err, "migrate: create run")
		}
		runID = run.ID
	}
	log = log.With(zap.String("run_id", runID))

	setStatus := func(status model.RunStatus) {
		if e.store == nil {
			return
		}
		if statusErr := e.store.UpdateRunStatus(ctx, runID, status); statusErr != nil {
			log.Warn("migrate: failed to update status", zap.Error(statusErr))
		}
	}

	var phases []model.PhaseResult
	trackPhase := func(name string, fn func() (*model.PhaseResult, error)) (*model.PhaseResult, error) {
		var phase *model.RunPhase
		if e.store != nil {
			var phaseErr error
			phase, phaseErr = e.store.CreatePhase(ctx, runID, name)
			if phaseErr != nil {
				log.Warn("migrate: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
			}
		}

		start := time.Now()
		phaseResult, fnErr := fn()
		duration := time.Since(start).Milliseconds()

		if phaseResult == nil {
			phaseResult = &model.PhaseResult{}
		}
		phaseResult.Name = name
		phaseResult.Duration = duration

		switch {
		case fnErr != nil:
			phaseResult.Status = model.PhaseStatusFailed
			phaseResult.Error = fnErr.Error()
			log.Error("migrate: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		default:
			if phaseResult.Status == "" {
				phaseResult.Status = model.PhaseStatusComplete
			}
			log.Info("migrate: phase complete",
				zap.String("phase", name),
				zap.String("status", string(phaseResult.Status)),
				zap.Int("rows", phaseResult.Rows),
				zap.Int64("duration_ms", duration),
			)
		}

		if phase != nil {
			if err := e.store.CompletePhase(context.WithoutCancel(ctx), phase.ID, phaseResult); err != nil {
				log.Warn("migrate: failed to complete phase", zap.String("phase", name), zap.Error(err))
			}
		}
		phases = append(phases, *phaseResult)
		return phaseResult, fnErr
	}

	// saved is set once outputs are in the store; a later failure removes them.
	var saved bool

	// fail records the failed run and discards everything produced so far.
	fail := func(err error) (*Result, error) {
		if e.store != nil {
			bg := context.WithoutCancel(ctx)
			if saved {
				if delErr := e.store.DeleteOutputs(bg, runID); delErr != nil {
					log.Error("migrate: failed to discard stored outputs", zap.Error(delErr))
				}
			}
			failed := &model.RunResult{Phases: phases, Error: err.Error()}
			if updErr := e.store.UpdateRunResult(bg, runID, failed); updErr != nil {
				log.Warn("migrate: failed to record run failure", zap.Error(updErr))
			}
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Warn("migrate: run cancelled", zap.Error(err))
		}
		return nil, err
	}

	report := audit.New(runID, started)
	report.AddFindings(snap.Findings...)

	// ===== Phase 1: Companies =====
	setStatus(model.RunStatusClustering)
	var clustered *cluster.Result
	if _, err := trackPhase(PhaseCluster, func() (*model.PhaseResult, error) {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "migrate: cluster")
		}
		clustered = cluster.Cluster(snap.Companies, snap.Contacts, e.opts.Cluster)
		report.RecordClusters(len(snap.Companies), clustered.Clusters)
		report.AddFindings(clustered.Findings...)
		return &model.PhaseResult{
			Rows: len(clustered.Records),
			Metadata: map[string]any{
				"clusters":   len(clustered.Clusters),
				"multi_site": clustered.MultiSite(),
				"findings":   len(clustered.Findings),
			},
		}, nil
	}); err != nil {
		return fail(err)
	}

	// ===== Phase 2: Contacts =====
	var contacts []model.LegacyContact
	if _, err := trackPhase(PhaseContacts, func() (*model.PhaseResult, error) {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "migrate: contacts")
		}
		var findings []model.Finding
		contacts, findings = dedupeContacts(snap.Contacts)
		report.AddFindings(findings...)
		return &model.PhaseResult{
			Rows:     len(contacts),
			Metadata: map[string]any{"duplicates": len(findings)},
		}, nil
	}); err != nil {
		return fail(err)
	}

	// ===== Phase 3: Deals =====
	setStatus(model.RunStatusClassifying)
	var classified *classification
	if _, err := trackPhase(PhaseClassify, func() (*model.PhaseResult, error) {
		var err error
		classified, err = e.classify(ctx, snap.Deals, asOf)
		if err != nil {
			return nil, err
		}
		for _, ce := range classified.configErrors {
			report.RecordConfigError(ce.err, ce.deals)
		}
		report.AddFindings(classified.findings...)

		pr := &model.PhaseResult{
			Rows: len(classified.deals),
			Metadata: map[string]any{
				"partitions":    classified.partitions,
				"config_errors": len(classified.configErrors),
				"omitted":       classified.omitted,
			},
		}
		if len(classified.configErrors) > 0 {
			pr.Status = model.PhaseStatusPartial
		}
		return pr, nil
	}); err != nil {
		return fail(err)
	}

	// ===== Phase 4: Associations =====
	// Indices are built from classified deals so communications link to the target-side
	// pipeline and stage.
	setStatus(model.RunStatusResolving)
	var resolved *association.Result
	if _, err := trackPhase(PhaseResolve, func() (*model.PhaseResult, error) {
		index := association.NewIndex(snap.Companies, contacts, classified.deals).Withhold(classified.withheld)
		var err error
		resolved, err = association.NewResolver(index, e.opts.Workers).Resolve(ctx, association.Sources{
			Contacts:       contacts,
			Deals:          classified.deals,
			Communications: snap.Communications,
			SocialLinks:    snap.SocialLinks,
		})
		if err != nil {
			return nil, err
		}
		report.RecordWithheldLinks(resolved.Withheld)
		counts := resolved.Table.CountByStatus()
		return &model.PhaseResult{
			Rows: resolved.Table.Len(),
			Metadata: map[string]any{
				"resolved":   counts[model.StatusResolved],
				"no_fk":      counts[model.StatusNoForeignKey],
				"unresolved": counts[model.StatusUnresolvedTarget],
				"withheld":   len(classified.withheld),
			},
		}, nil
	}); err != nil {
		return fail(err)
	}

	// ===== Phase 5: Audit =====
	res := &Result{
		RunID:     runID,
		Companies: clustered.Records,
		Clusters:  clustered.Clusters,
		Deals:     classified.deals,
		Report:    report,
	}
	if _, err := trackPhase(PhaseAudit, func() (*model.PhaseResult, error) {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "migrate: audit")
		}
		for i, d := range classified.deals {
			report.RecordDeal(d, classified.classifications[i])
		}
		res.Associations = resolved.Table.Sorted()
		report.RecordAssociations(res.Associations)
		report.AddFindings(resolved.Findings...)
		report.Sort()
		report.Success = len(report.ConfigErrors) == 0
		return &model.PhaseResult{
			Rows: len(report.Findings),
			Metadata: map[string]any{
				"config_errors": len(report.ConfigErrors),
				"unresolved":    report.Unresolved,
			},
		}, nil
	}); err != nil {
		return fail(err)
	}

	// ===== Phase 6: Persist =====
	setStatus(model.RunStatusWriting)
	report.Phases = phases
	if _, err := trackPhase(PhasePersist, func() (*model.PhaseResult, error) {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "migrate: persist")
		}
		if e.store != nil {
			out := store.Outputs{Companies: res.Companies, Deals: res.Deals, Associations: res.Associations}
			if err := e.store.SaveOutputs(ctx, runID, out); err != nil {
				return nil, eris.Wrap(err, "migrate: save outputs")
			}
			saved = true
		}
		if e.opts.Output != nil {
			if err := e.opts.Output.Write(ctx, res); err != nil {
				return nil, eris.Wrap(err, "migrate: write output")
			}
		}
		return &model.PhaseResult{
			Rows: len(res.Companies) + len(res.Deals) + len(res.Associations),
		}, nil
	}); err != nil {
		return fail(err)
	}

	report.Phases = phases
	res.Summary = report.Summary()
	if e.store != nil {
		if err := e.store.UpdateRunResult(ctx, runID, res.Summary); err != nil {
			log.Warn("migrate: failed to save run result", zap.Error(err))
		}
	}

	log.Info("migrate: run complete",
		zap.Bool("success", report.Success),
		zap.Int("companies", len(res.Companies)),
		zap.Int("deals", len(res.Deals)),
		zap.Int("associations", len(res.Associations)),
		zap.Int("unresolved", report.Unresolved),
		zap.Int("config_errors", len(report.ConfigErrors)),
		zap.Int("findings", len(report.Findings)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return res, nil
}

// dedupeContacts keeps the first row of each contact id.
func dedupeContacts(in []model.LegacyContact) ([]model.LegacyContact, []model.Finding) {
	seen := make(map[int64]bool, len(in))
	out := make([]model.LegacyContact, 0, len(in))
	var findings []model.Finding
	for _, c := range in {
		if seen[c.ID] {
			findings = append(findings, model.Finding{
				Kind: model.FindingValidation, Entity: model.EntityContact, RecordID: c.ID,
				Field: "id", Message: "duplicate contact id; later row ignored",
			})
			zap.L().Warn("migrate: duplicate contact id", zap.Int64("contact_id", c.ID))
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out, findings
}
