package association

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crm-migrate/internal/model"
)

const (
	defaultWorkers = 4
	chunkSize      = 1000
)

// Sources are the rows whose foreign keys get resolved.
type Sources struct {
	Contacts       []model.LegacyContact
	Deals          []model.ClassifiedDeal
	Communications []model.LegacyCommunication
	SocialLinks    []model.LegacySocialLink
}

// Result is the output of one resolution pass.
type Result struct {
	Table    *Table
	Findings []model.Finding
	// Withheld counts links to withheld deals per pipeline.
	Withheld map[string]int
}

// Resolver resolves foreign keys against an immutable Index.
type Resolver struct {
	index   *Index
	workers int
}

// NewResolver creates a Resolver. workers bounds concurrent chunks; <= 0 uses a default.
func NewResolver(index *Index, workers int) *Resolver {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Resolver{index: index, workers: workers}
}

// resolved is the output for one source row.
type resolved struct {
	records  []model.AssociationRecord
	findings []model.Finding
	withheld []string
}

// job resolves one source row by position.
type job struct {
	n  int
	fn func(i int) resolved
}

// Resolve resolves every source foreign key. Rows are processed in parallel chunks and
// merged back in source order, so the table is identical across runs.
func (r *Resolver) Resolve(ctx context.Context, src Sources) (*Result, error) {
	jobs := []job{
		{n: len(src.Contacts), fn: func(i int) resolved { return r.contact(src.Contacts[i]) }},
		{n: len(src.Deals), fn: func(i int) resolved { return r.deal(src.Deals[i]) }},
		{n: len(src.Communications), fn: func(i int) resolved { return r.communication(src.Communications[i]) }},
		{n: len(src.SocialLinks), fn: func(i int) resolved { return r.socialLink(src.SocialLinks[i]) }},
	}

	type chunk struct {
		job        job
		start, end int
	}
	var chunks []chunk
	for _, j := range jobs {
		for start := 0; start < j.n; start += chunkSize {
			chunks = append(chunks, chunk{job: j, start: start, end: min(start+chunkSize, j.n)})
		}
	}

	out := make([][]resolved, len(chunks))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for ci, c := range chunks {
		g.Go(func() error {
			part := make([]resolved, 0, c.end-c.start)
			for i := c.start; i < c.end; i++ {
				if err := gCtx.Err(); err != nil {
					return err
				}
				part = append(part, c.job.fn(i))
			}
			out[ci] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "association: resolve")
	}

	res := &Result{Table: NewTable(), Withheld: make(map[string]int)}
	for _, part := range out {
		for _, rv := range part {
			res.Table.PutAll(rv.records)
			res.Findings = append(res.Findings, rv.findings...)
			for _, p := range rv.withheld {
				res.Withheld[p]++
			}
		}
	}

	counts := res.Table.CountByStatus()
	zap.L().Info("association: resolved foreign keys",
		zap.Int("records", res.Table.Len()),
		zap.Int("resolved", counts[model.StatusResolved]),
		zap.Int("no_foreign_key", counts[model.StatusNoForeignKey]),
		zap.Int("unresolved_target", counts[model.StatusUnresolvedTarget]),
	)
	return res, nil
}

// link resolves one foreign key field. A nil id is NoForeignKey; an id missing from the
// index is UnresolvedTarget and also yields a dangling finding, unless it names a
// withheld deal.
func (r *Resolver) link(out *resolved, source model.Entity, sourceID int64, targetEntity model.Entity, fk *int64) {
	rec := model.AssociationRecord{
		SourceEntity: source,
		SourceID:     sourceID,
		TargetEntity: targetEntity,
		TargetID:     fk,
	}
	switch {
	case fk == nil:
		rec.Status = model.StatusNoForeignKey
	default:
		t, ok := r.index.lookup(targetEntity, *fk)
		if !ok && targetEntity == model.EntityDeal {
			if pipeline, held := r.index.withheldDeal(*fk); held {
				rec.Status = model.StatusUnresolvedTarget
				rec.TargetContext = WithheldContext(pipeline)
				out.withheld = append(out.withheld, pipeline)
				break
			}
		}
		if !ok {
			rec.Status = model.StatusUnresolvedTarget
			out.findings = append(out.findings, model.Finding{
				Kind:     model.FindingDangling,
				Entity:   source,
				RecordID: sourceID,
				Field:    string(targetEntity),
				Message:  fmt.Sprintf("%s %d not found", targetEntity, *fk),
			})
			break
		}
		rec.Status = model.StatusResolved
		rec.TargetDisplayName = t.name
		rec.TargetContext = t.context
	}
	out.records = append(out.records, rec)
}

// WithheldContext is the target context of a link to a deal withheld by a
// configuration error in pipeline.
func WithheldContext(pipeline string) string {
	return "withheld: pipeline " + pipeline + " misconfigured"
}

func (r *Resolver) contact(c model.LegacyContact) resolved {
	var out resolved
	r.link(&out, model.EntityContact, c.ID, model.EntityCompany, c.CompanyID)
	return out
}

// A deal has at most one company and at most one contact.
func (r *Resolver) deal(d model.ClassifiedDeal) resolved {
	var out resolved
	r.link(&out, model.EntityDeal, d.ID, model.EntityCompany, d.CompanyID)
	r.link(&out, model.EntityDeal, d.ID, model.EntityContact, d.ContactID)
	return out
}

func (r *Resolver) communication(c model.LegacyCommunication) resolved {
	var out resolved
	r.link(&out, model.EntityCommunication, c.ID, model.EntityCompany, c.CompanyID)
	r.link(&out, model.EntityCommunication, c.ID, model.EntityContact, c.ContactID)
	r.link(&out, model.EntityCommunication, c.ID, model.EntityDeal, c.DealID)
	return out
}

func (r *Resolver) socialLink(s model.LegacySocialLink) resolved {
	var out resolved
	switch s.EntityType {
	case model.EntityCompany, model.EntityContact:
		r.link(&out, model.EntitySocialLink, s.ID, s.EntityType, s.RecordID)
	default:
		out.findings = append(out.findings, model.Finding{
			Kind:     model.FindingDangling,
			Entity:   model.EntitySocialLink,
			RecordID: s.ID,
			Field:    "entity_type",
			Message:  fmt.Sprintf("unsupported entity type %q", s.EntityType),
		})
	}
	return out
}
