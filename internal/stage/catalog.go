// Package stage classifies legacy deals into target pipeline stages and outcome tags
// from declarative pipeline and status tables.
package stage

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/normalize"
)

//go:embed pipelines.yaml
var defaultCatalogYAML []byte

// TerminalKind names a terminal stage slot a pipeline may expose.
type TerminalKind string

const (
	TerminalWon    TerminalKind = "Won"
	TerminalLost   TerminalKind = "Lost"
	TerminalDead   TerminalKind = "Dead"
	TerminalOnHold TerminalKind = "OnHold"
)

// terminalFallback is consulted when a pipeline does not expose a terminal kind.
// Pipelines without Closed Dead collapse it into Closed Lost.
var terminalFallback = map[TerminalKind]TerminalKind{
	TerminalOnHold: TerminalDead,
	TerminalDead:   TerminalLost,
}

// StageDefinition is one active stage of a pipeline.
type StageDefinition struct {
	TargetLabel   string   `yaml:"label" json:"label"`
	TargetStageID string   `yaml:"id" json:"id"`
	Synonyms      []string `yaml:"synonyms" json:"synonyms"`
	Positions     []int    `yaml:"positions,omitempty" json:"positions,omitempty"`
}

// TerminalStage is the target stage a terminal outcome lands on.
type TerminalStage struct {
	Label string `yaml:"label" json:"label"`
	ID    string `yaml:"id" json:"id"`
}

// PipelineDefinition is an ordered list of active stages plus terminal stages.
type PipelineDefinition struct {
	Name        string                         `yaml:"name" json:"name"`
	Aliases     []string                       `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	LegacyTypes []string                       `yaml:"legacy_types,omitempty" json:"legacy_types,omitempty"`
	Stages      []StageDefinition              `yaml:"stages" json:"stages"`
	Terminals   map[TerminalKind]TerminalStage `yaml:"terminals" json:"terminals"`
}

// Definition is the raw, file-level form of the catalog.
type Definition struct {
	DefaultPipeline string                            `yaml:"default_pipeline" json:"default_pipeline"`
	OutcomeRouting  map[model.OutcomeTag]TerminalKind `yaml:"outcome_routing" json:"outcome_routing"`
	StatusSynonyms  map[model.OutcomeTag][]string     `yaml:"status_synonyms" json:"status_synonyms"`
	Pipelines       []PipelineDefinition              `yaml:"pipelines" json:"pipelines"`
}

// pipeline is the compiled, lookup-ready form of a PipelineDefinition.
type pipeline struct {
	def        PipelineDefinition
	byKey      map[string]int // stage key -> index into def.Stages
	byPosition map[int]int    // legacy ordinal -> index into def.Stages
	keys       []string       // all stage keys, sorted, for hints
	err        *ConfigurationError
}

// Catalog is the immutable configuration shared by all classifier workers.
// It is built once per run and never mutated afterwards.
type Catalog struct {
	defaultName string
	routing     map[model.OutcomeTag]TerminalKind
	statuses    map[string]model.OutcomeTag
	pipelines   map[string]*pipeline // by canonical name
	aliases     map[string]string    // alias key -> canonical name
	legacyTypes map[string]string    // legacy type key -> canonical name
	order       []string
}

// DefaultCatalog compiles the embedded pipeline tables.
func DefaultCatalog() (*Catalog, error) {
	def, err := LoadDefinition("")
	if err != nil {
		return nil, err
	}
	return Compile(def)
}

// LoadDefinition reads the raw catalog from a YAML file, or the embedded tables when
// path is empty. Callers may adjust it before compiling.
func LoadDefinition(path string) (Definition, error) {
	data := defaultCatalogYAML
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return Definition{}, eris.Wrapf(err, "stage: read catalog %s", path)
		}
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, eris.Wrap(err, "stage: decode catalog")
	}
	return def, nil
}

// Compile validates a Definition and builds lookup indices. Problems local to one
// pipeline are kept on that pipeline so only deals routed to it fail; a missing
// default pipeline or a broken status table fails the whole catalog.
func Compile(def Definition) (*Catalog, error) {
	c := &Catalog{
		defaultName: def.DefaultPipeline,
		routing:     def.OutcomeRouting,
		statuses:    make(map[string]model.OutcomeTag),
		pipelines:   make(map[string]*pipeline, len(def.Pipelines)),
		aliases:     make(map[string]string),
		legacyTypes: make(map[string]string),
	}
	if c.routing == nil {
		c.routing = defaultRouting()
	}

	for tag, synonyms := range def.StatusSynonyms {
		if tag != model.OutcomeInProgress && !tag.Terminal() {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown outcome tag %q in status synonyms", tag)}
		}
		for _, s := range synonyms {
			k := normalize.Key(s)
			if prev, ok := c.statuses[k]; ok && prev != tag {
				return nil, &ConfigurationError{Reason: fmt.Sprintf("status synonym %q maps to both %s and %s", s, prev, tag)}
			}
			c.statuses[k] = tag
		}
	}

	for _, pd := range def.Pipelines {
		if pd.Name == "" {
			return nil, &ConfigurationError{Reason: "pipeline without a name"}
		}
		if _, dup := c.pipelines[pd.Name]; dup {
			return nil, &ConfigurationError{Pipeline: pd.Name, Reason: "defined twice"}
		}
		p := compilePipeline(pd)
		c.pipelines[pd.Name] = p
		c.order = append(c.order, pd.Name)

		for _, name := range append([]string{pd.Name}, pd.Aliases...) {
			c.aliases[normalize.Key(name)] = pd.Name
		}
		for _, lt := range pd.LegacyTypes {
			c.legacyTypes[normalize.Key(lt)] = pd.Name
		}
	}

	if c.defaultName == "" {
		return nil, &ConfigurationError{Reason: "no default pipeline"}
	}
	dp, ok := c.pipelines[c.defaultName]
	if !ok {
		return nil, &ConfigurationError{Pipeline: c.defaultName, Reason: "default pipeline is not defined"}
	}
	if dp.err != nil {
		return nil, dp.err
	}
	return c, nil
}

func defaultRouting() map[model.OutcomeTag]TerminalKind {
	return map[model.OutcomeTag]TerminalKind{
		model.OutcomeWon:       TerminalWon,
		model.OutcomeLost:      TerminalLost,
		model.OutcomeAbandoned: TerminalDead,
		model.OutcomeNotViable: TerminalDead,
		model.OutcomeOnHold:    TerminalOnHold,
	}
}

func compilePipeline(pd PipelineDefinition) *pipeline {
	p := &pipeline{
		def:        pd,
		byKey:      make(map[string]int),
		byPosition: make(map[int]int),
	}
	if len(pd.Stages) == 0 {
		p.err = &ConfigurationError{Pipeline: pd.Name, Reason: "no active stages"}
		return p
	}
	for _, kind := range []TerminalKind{TerminalWon, TerminalLost} {
		if t, ok := pd.Terminals[kind]; !ok || t.Label == "" {
			p.err = &ConfigurationError{Pipeline: pd.Name, Reason: fmt.Sprintf("missing %s terminal stage", kind)}
			return p
		}
	}

	for i, sd := range pd.Stages {
		if sd.TargetLabel == "" {
			p.err = &ConfigurationError{Pipeline: pd.Name, Reason: fmt.Sprintf("stage %d has no label", i+1)}
			return p
		}
		keys := append([]string{sd.TargetLabel}, sd.Synonyms...)
		for _, s := range keys {
			k := normalize.StageKey(s)
			if prev, ok := p.byKey[k]; ok && prev != i {
				p.err = &ConfigurationError{Pipeline: pd.Name, Reason: fmt.Sprintf("stage synonym %q is ambiguous", s)}
				return p
			}
			p.byKey[k] = i
		}
		positions := sd.Positions
		if len(positions) == 0 {
			positions = []int{i + 1}
		}
		for _, pos := range positions {
			p.byPosition[pos] = i
		}
	}

	p.keys = make([]string, 0, len(p.byKey))
	for k := range p.byKey {
		p.keys = append(p.keys, k)
	}
	sort.Strings(p.keys)
	return p
}

// DefaultPipeline returns the name deals with an unknown pipeline route to.
func (c *Catalog) DefaultPipeline() string {
	return c.defaultName
}

// Pipelines returns the pipeline definitions in declaration order.
func (c *Catalog) Pipelines() []PipelineDefinition {
	out := make([]PipelineDefinition, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.pipelines[name].def)
	}
	return out
}

// Errors returns the configuration errors of pipelines that failed validation.
func (c *Catalog) Errors() []*ConfigurationError {
	var errs []*ConfigurationError
	for _, name := range c.order {
		if p := c.pipelines[name]; p.err != nil {
			errs = append(errs, p.err)
		}
	}
	return errs
}

// ResolvePipeline maps a legacy pipeline name, or failing that the legacy opportunity
// type, to a canonical pipeline name. known is false when the default was used.
func (c *Catalog) ResolvePipeline(pipelineType, legacyType string) (name string, known bool) {
	if !normalize.IsNullText(pipelineType) {
		if n, ok := c.aliases[normalize.Key(pipelineType)]; ok {
			return n, true
		}
		return c.defaultName, false
	}
	if !normalize.IsNullText(legacyType) {
		if n, ok := c.legacyTypes[normalize.Key(legacyType)]; ok {
			return n, true
		}
	}
	return c.defaultName, false
}

// Validate reports whether the named pipeline is usable.
func (c *Catalog) Validate(name string) error {
	p, ok := c.pipelines[name]
	if !ok {
		return &ConfigurationError{Pipeline: name, Reason: "not defined"}
	}
	if p.err != nil {
		return p.err
	}
	return nil
}

// Outcome looks up the outcome tag for a legacy status. Unmapped text yields InProgress
// with mapped=false.
func (c *Catalog) Outcome(legacyStatus string) (tag model.OutcomeTag, mapped bool) {
	if normalize.IsNullText(legacyStatus) {
		return model.OutcomeInProgress, true
	}
	tag, ok := c.statuses[normalize.Key(legacyStatus)]
	if !ok {
		return model.OutcomeInProgress, false
	}
	return tag, true
}

// terminal returns the terminal stage a terminal outcome lands on in pipeline p.
func (c *Catalog) terminal(p *pipeline, tag model.OutcomeTag) (TerminalStage, TerminalKind, error) {
	kind, ok := c.routing[tag]
	if !ok {
		return TerminalStage{}, "", &ConfigurationError{Pipeline: p.def.Name, Reason: fmt.Sprintf("no routing for outcome %s", tag)}
	}
	for k := kind; k != ""; k = terminalFallback[k] {
		if t, ok := p.def.Terminals[k]; ok && t.Label != "" {
			return t, k, nil
		}
	}
	return TerminalStage{}, "", &ConfigurationError{Pipeline: p.def.Name, Reason: fmt.Sprintf("no terminal stage for outcome %s", tag)}
}

// IsConfigurationError reports whether err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
