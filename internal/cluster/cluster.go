// Package cluster groups near-duplicate legacy company rows into site clusters under
// synthetic parent records.
package cluster

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/normalize"
)

// DefaultLocation is the location of a site whose name carries no location token.
const DefaultLocation = "HQ"

// locationTokens are trailing name tokens naming a site. Matched on the normalized key.
var locationTokens = map[string]bool{
	"grenoble": true, "paris": true, "lyon": true, "toulouse": true, "marseille": true,
	"nantes": true, "lille": true, "bordeaux": true, "geneva": true, "geneve": true,
	"lausanne": true, "zurich": true, "munich": true, "berlin": true, "london": true,
	"hq": true, "headquarters": true,
	"usa": true, "france": true, "germany": true, "switzerland": true, "italy": true,
	"spain": true, "europe": true, "asia": true,
}

// directionTokens name a site only alongside a real website; on their own they are
// too often part of the company name.
var directionTokens = map[string]bool{
	"north": true, "south": true, "east": true, "west": true,
}

// Options tune parent id assignment.
type Options struct {
	// ParentIDOffset pins the base of synthetic parent ids. It is honored only when it is
	// above every legacy company id; otherwise the largest legacy id is used.
	ParentIDOffset int64
}

// Result is the output of one clustering pass.
type Result struct {
	Clusters []model.CompanyCluster `json:"clusters"`
	Records  []model.CompanyRecord  `json:"records"`
	Findings []model.Finding        `json:"findings,omitempty"`
}

// MultiSite returns the number of clusters with more than one member.
func (r *Result) MultiSite() int {
	n := 0
	for _, c := range r.Clusters {
		if c.IsMultiSite {
			n++
		}
	}
	return n
}

// SplitName returns the base name and location of a company name. The last token is
// removed when it is a location; location is "" when none was found. Legal suffixes stay
// in the base name.
func SplitName(name string) (base, location string) {
	return splitSite(name, false)
}

// splitSite is SplitName that also accepts direction tokens when the company has a
// real domain to group on.
func splitSite(name string, hasDomain bool) (base, location string) {
	words := normalize.Words(name)
	if len(words) < 2 {
		return strings.TrimSpace(name), ""
	}
	last := words[len(words)-1]
	key := normalize.Key(last)
	if locationTokens[key] || (hasDomain && directionTokens[key]) {
		return strings.Join(words[:len(words)-1], " "), last
	}
	return strings.Join(words, " "), ""
}

type entry struct {
	company  model.LegacyCompany
	base     string
	location string
	domain   string
}

// Cluster groups companies by (base name, domain key). Every company ends up in exactly
// one cluster; groups of one stay Standalone. Contacts feed the derived rollup only.
func Cluster(companies []model.LegacyCompany, contacts []model.LegacyContact, opts Options) *Result {
	res := &Result{}
	log := zap.L().With(zap.String("component", "cluster"))

	seen := make(map[int64]bool, len(companies))
	duplicated := make(map[int64]bool)
	groups := make(map[model.ClusterKey][]entry)
	var singles []entry // never grouped: empty names and pre-existing parents
	var maxID int64

	for _, c := range companies {
		if seen[c.ID] {
			duplicated[c.ID] = true
			res.Findings = append(res.Findings, model.Finding{
				Kind: model.FindingClustering, Entity: model.EntityCompany, RecordID: c.ID,
				Field: "id", Message: "duplicate company id; later row ignored",
			})
			log.Warn("duplicate company id", zap.Int64("company_id", c.ID))
			continue
		}
		seen[c.ID] = true
		if c.ID > maxID {
			maxID = c.ID
		}

		e := entry{company: c, domain: normalize.DomainKey(website(c))}
		e.base, e.location = splitSite(c.Name, e.domain != model.NoDomain)

		switch {
		case normalize.IsNullText(c.Name):
			res.Findings = append(res.Findings, model.Finding{
				Kind: model.FindingClustering, Entity: model.EntityCompany, RecordID: c.ID,
				Field: "name", Message: "empty company name; not clustered",
			})
			log.Warn("empty company name", zap.Int64("company_id", c.ID))
			e.base = ""
			singles = append(singles, e)
		case c.ParentID != nil:
			res.Findings = append(res.Findings, model.Finding{
				Kind: model.FindingClustering, Entity: model.EntityCompany, RecordID: c.ID,
				Field: "parent_id", Message: fmt.Sprintf("legacy parent %d kept; not clustered", *c.ParentID),
			})
			singles = append(singles, e)
		default:
			key := model.ClusterKey{BaseName: normalize.Key(e.base), DomainKey: e.domain}
			groups[key] = append(groups[key], e)
		}
	}

	type group struct {
		key     model.ClusterKey
		entries []entry
	}
	ordered := make([]group, 0, len(groups)+len(singles))
	for k, es := range groups {
		sort.Slice(es, func(i, j int) bool { return es[i].company.ID < es[j].company.ID })
		ordered = append(ordered, group{key: k, entries: es})
	}
	for _, e := range singles {
		ordered = append(ordered, group{
			key:     model.ClusterKey{BaseName: normalize.Key(e.base), DomainKey: e.domain},
			entries: []entry{e},
		})
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.key.BaseName != b.key.BaseName {
			return a.key.BaseName < b.key.BaseName
		}
		if a.key.DomainKey != b.key.DomainKey {
			return a.key.DomainKey < b.key.DomainKey
		}
		return a.entries[0].company.ID < b.entries[0].company.ID
	})

	nextParent := maxID
	if opts.ParentIDOffset > maxID {
		nextParent = opts.ParentIDOffset
	}

	byCompany := contactsByCompany(contacts)
	for _, g := range ordered {
		cl := model.CompanyCluster{Key: g.key, IsMultiSite: len(g.entries) > 1}
		var clusterContacts []model.LegacyContact
		if cl.IsMultiSite {
			nextParent++
			cl.ParentID = nextParent
		}

		for i, e := range g.entries {
			loc := e.location
			if loc == "" {
				loc = DefaultLocation
			}
			order := 1
			if cl.IsMultiSite {
				order = i + 1
			}
			cl.Members = append(cl.Members, model.ClusterMember{CompanyID: e.company.ID, SiteOrder: order, Location: loc})

			own := byCompany[e.company.ID]
			clusterContacts = append(clusterContacts, own...)
			res.Records = append(res.Records, memberRecord(e, cl, order, loc, own))
		}
		cl.Rollup = Rollup(clusterContacts)

		if cl.IsMultiSite {
			first := g.entries[0]
			res.Records = append(res.Records, model.CompanyRecord{
				ID:          cl.ParentID,
				Name:        first.base,
				BaseName:    first.base,
				DomainKey:   cl.Key.DomainKey,
				Website:     website(first.company),
				RecordType:  model.RecordParentAggregator,
				SiteOrder:   0,
				IsMultiSite: true,
				Generated:   true,
				Rollup:      cl.Rollup,
			})
		}
		res.Clusters = append(res.Clusters, cl)
	}

	sort.Slice(res.Records, func(i, j int) bool { return res.Records[i].ID < res.Records[j].ID })
	for i := range res.Records {
		if !res.Records[i].Generated && duplicated[res.Records[i].ID] {
			res.Records[i].DataQuality = append(res.Records[i].DataQuality, model.FlagDuplicateID)
		}
	}
	log.Info("clustered companies",
		zap.Int("companies", len(seen)),
		zap.Int("clusters", len(res.Clusters)),
		zap.Int("multi_site", res.MultiSite()),
	)
	return res
}

func memberRecord(e entry, cl model.CompanyCluster, order int, loc string, contacts []model.LegacyContact) model.CompanyRecord {
	rec := model.CompanyRecord{
		ID:          e.company.ID,
		Name:        strings.TrimSpace(e.company.Name),
		BaseName:    e.base,
		Location:    loc,
		DomainKey:   e.domain,
		Website:     website(e.company),
		RecordType:  model.RecordStandalone,
		SiteOrder:   order,
		IsMultiSite: cl.IsMultiSite,
		Rollup:      Rollup(contacts),
	}
	switch {
	case cl.IsMultiSite:
		rec.RecordType = model.RecordSite
		rec.ParentID = model.Int64Ptr(cl.ParentID)
	case e.company.ParentID != nil:
		rec.RecordType = model.RecordSite
		rec.ParentID = model.Int64Ptr(*e.company.ParentID)
		rec.DataQuality = append(rec.DataQuality, model.FlagExistingParent)
	}
	if normalize.IsNullText(e.company.Name) {
		rec.Name = ""
		rec.Location = ""
		rec.DataQuality = append(rec.DataQuality, model.FlagEmptyName)
	}
	return rec
}

func website(c model.LegacyCompany) string {
	if c.Website == nil || normalize.IsNullText(*c.Website) {
		return ""
	}
	return strings.TrimSpace(*c.Website)
}
