// Package association turns implicit legacy foreign keys into explicit link records
// with a resolution status.
package association

import (
	"fmt"
	"strings"

	"github.com/sells-group/crm-migrate/internal/model"
)

// Index is the read-only lookup view resolution runs against. Deals are indexed in
// their classified form so links carry the target pipeline and stage.
type Index struct {
	companies map[int64]model.LegacyCompany
	contacts  map[int64]model.LegacyContact
	deals     map[int64]model.ClassifiedDeal
	// withheld are legacy deals left out of the output by a pipeline configuration
	// error, keyed by id, valued by pipeline.
	withheld map[int64]string
}

// NewIndex builds an Index. It must be complete before any resolution starts; it is
// never modified afterwards.
func NewIndex(companies []model.LegacyCompany, contacts []model.LegacyContact, deals []model.ClassifiedDeal) *Index {
	idx := &Index{
		companies: make(map[int64]model.LegacyCompany, len(companies)),
		contacts:  make(map[int64]model.LegacyContact, len(contacts)),
		deals:     make(map[int64]model.ClassifiedDeal, len(deals)),
	}
	// First row wins on duplicate ids, same as clustering.
	for _, c := range companies {
		if _, ok := idx.companies[c.ID]; !ok {
			idx.companies[c.ID] = c
		}
	}
	for _, c := range contacts {
		if _, ok := idx.contacts[c.ID]; !ok {
			idx.contacts[c.ID] = c
		}
	}
	for _, d := range deals {
		if _, ok := idx.deals[d.ID]; !ok {
			idx.deals[d.ID] = d
		}
	}
	return idx
}

// Withhold registers deals that exist in the legacy data but were left out of the
// output because their pipeline is misconfigured. Links to them stay unresolved but are
// attributed to the configuration error instead of being reported as dangling. It must
// be called before resolution starts.
func (idx *Index) Withhold(deals map[int64]string) *Index {
	idx.withheld = deals
	return idx
}

// withheldDeal reports the pipeline of a withheld deal.
func (idx *Index) withheldDeal(id int64) (string, bool) {
	p, ok := idx.withheld[id]
	return p, ok
}

// target describes a resolved entity for the audit columns.
type target struct {
	name    string
	context string
}

// lookup finds id among the entities of kind e.
func (idx *Index) lookup(e model.Entity, id int64) (target, bool) {
	switch e {
	case model.EntityCompany:
		c, ok := idx.companies[id]
		if !ok {
			return target{}, false
		}
		name := strings.TrimSpace(c.Name)
		if name == "" {
			name = fmt.Sprintf("Company %d", id)
		}
		return target{name: name}, true
	case model.EntityContact:
		c, ok := idx.contacts[id]
		if !ok {
			return target{}, false
		}
		name := strings.TrimSpace(c.FullName())
		if name == "" {
			name = strings.TrimSpace(c.Email)
		}
		if name == "" {
			name = fmt.Sprintf("Contact %d", id)
		}
		return target{name: name, context: strings.TrimSpace(c.Email)}, true
	case model.EntityDeal:
		d, ok := idx.deals[id]
		if !ok {
			return target{}, false
		}
		name := strings.TrimSpace(d.Description)
		if name == "" {
			name = fmt.Sprintf("Deal %d", id)
		}
		return target{name: name, context: d.Pipeline + " / " + d.TargetStageName}, true
	default:
		return target{}, false
	}
}
