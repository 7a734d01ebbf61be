package stage

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/normalize"
)

// NoteStageDefaulted marks a deal whose stage text matched nothing in its pipeline.
const NoteStageDefaulted = "stage unresolved; defaulted"

// maxHintDistance bounds how far a synonym may be from the legacy text to be offered as a hint.
const maxHintDistance = 4

// Classification is the outcome of classifying one deal.
type Classification struct {
	Pipeline        string           `json:"pipeline"`
	TargetStageName string           `json:"target_stage_name"`
	TargetStageID   string           `json:"target_stage_id"`
	Outcome         model.OutcomeTag `json:"outcome_tag"`
	Note            string           `json:"note,omitempty"`
	// Hint is the nearest known stage synonym when the stage was defaulted. Audit only.
	Hint              string `json:"hint,omitempty"`
	PipelineDefaulted bool   `json:"pipeline_defaulted,omitempty"`
	StatusUnmapped    bool   `json:"status_unmapped,omitempty"`
	StageDefaulted    bool   `json:"stage_defaulted,omitempty"`
}

// Classify maps raw legacy text to a target stage and outcome tag. It never fails on
// row data; the only error is a ConfigurationError for the selected pipeline.
func (c *Catalog) Classify(pipelineType, legacyStage, legacyStatus string) (Classification, error) {
	return c.classify(pipelineType, "", legacyStage, legacyStatus)
}

// ClassifyDeal classifies a legacy deal, using its legacy opportunity type to pick the
// pipeline when the pipeline name is blank.
func (c *Catalog) ClassifyDeal(d model.LegacyDeal) (Classification, error) {
	return c.classify(d.PipelineType, d.LegacyType, d.LegacyStage, d.LegacyStatus)
}

// PipelineFor returns the pipeline a deal is routed to. Partitioning by this value keeps
// classification identical to classifying the deal on its own.
func (c *Catalog) PipelineFor(d model.LegacyDeal) string {
	name, _ := c.ResolvePipeline(d.PipelineType, d.LegacyType)
	return name
}

func (c *Catalog) classify(pipelineType, legacyType, legacyStage, legacyStatus string) (Classification, error) {
	var notes []string
	name, known := c.ResolvePipeline(pipelineType, legacyType)
	out := Classification{Pipeline: name, PipelineDefaulted: !known}
	if !known {
		if normalize.IsNullText(pipelineType) {
			notes = append(notes, fmt.Sprintf("pipeline missing; routed to %s", name))
		} else {
			notes = append(notes, fmt.Sprintf("pipeline %q unknown; routed to %s", strings.TrimSpace(pipelineType), name))
		}
	}

	if err := c.Validate(name); err != nil {
		return out, err
	}
	p := c.pipelines[name]

	// Status always wins over stage text.
	tag, mapped := c.Outcome(legacyStatus)
	out.Outcome = tag
	if !mapped {
		out.StatusUnmapped = true
		notes = append(notes, fmt.Sprintf("status %q unmapped; defaulted to %s", strings.TrimSpace(legacyStatus), tag))
	}

	if tag.Terminal() {
		t, kind, err := c.terminal(p, tag)
		if err != nil {
			return out, err
		}
		out.TargetStageName, out.TargetStageID = t.Label, t.ID
		if kind != c.routing[tag] {
			notes = append(notes, fmt.Sprintf("%s collapsed to %s", tag, t.Label))
		}
		out.Note = strings.Join(notes, "; ")
		return out, nil
	}

	idx, how := p.lookup(legacyStage)
	switch how {
	case matchOrdinal:
		notes = append(notes, fmt.Sprintf("stage matched by ordinal %q", strings.TrimSpace(legacyStage)))
	case matchNone:
		out.StageDefaulted = true
		out.Hint = p.nearest(legacyStage)
		notes = append(notes, NoteStageDefaulted)
	}
	sd := p.def.Stages[idx]
	out.TargetStageName, out.TargetStageID = sd.TargetLabel, sd.TargetStageID
	out.Note = strings.Join(notes, "; ")
	return out, nil
}

type matchKind int

const (
	matchNone matchKind = iota
	matchText
	matchOrdinal
)

// lookup finds the active stage for legacy stage text: by normalized text, then by
// leading ordinal, then the first stage.
func (p *pipeline) lookup(legacyStage string) (int, matchKind) {
	if normalize.IsNullText(legacyStage) {
		return 0, matchNone
	}
	if i, ok := p.byKey[normalize.StageKey(legacyStage)]; ok {
		return i, matchText
	}
	if n, ok := normalize.LeadingOrdinal(legacyStage); ok {
		if i, ok := p.byPosition[n]; ok {
			return i, matchOrdinal
		}
	}
	return 0, matchNone
}

// nearest returns the closest stage synonym by edit distance, or "" when none is close.
func (p *pipeline) nearest(legacyStage string) string {
	if normalize.IsNullText(legacyStage) {
		return ""
	}
	key := normalize.StageKey(legacyStage)
	if key == "" {
		return ""
	}
	best, bestDist := "", maxHintDistance+1
	for _, k := range p.keys {
		if d := levenshtein.ComputeDistance(key, k); d < bestDist {
			best, bestDist = k, d
		}
	}
	return best
}
