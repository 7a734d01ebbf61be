package cluster

import (
	"sort"
	"strings"

	"github.com/sells-group/crm-migrate/internal/model"
)

// Rollup summarizes contacts for display on a company row. It is a derived view and is
// never read back as a source of truth.
func Rollup(contacts []model.LegacyContact) model.ContactRollup {
	if len(contacts) == 0 {
		return model.ContactRollup{}
	}
	sorted := make([]model.LegacyContact, len(contacts))
	copy(sorted, contacts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	r := model.ContactRollup{ContactCount: len(sorted)}
	names := make(map[string]bool)
	emails := make(map[string]bool)
	for _, c := range sorted {
		if n := strings.TrimSpace(c.FullName()); n != "" && !names[n] {
			names[n] = true
			r.ContactNames = append(r.ContactNames, n)
		}
		if e := strings.ToLower(strings.TrimSpace(c.Email)); e != "" && !emails[e] {
			emails[e] = true
			r.ContactEmails = append(r.ContactEmails, e)
		}
	}
	primary := sorted[0]
	r.PrimaryContactName = strings.TrimSpace(primary.FullName())
	r.PrimaryContactEmail = strings.ToLower(strings.TrimSpace(primary.Email))
	return r
}

func contactsByCompany(contacts []model.LegacyContact) map[int64][]model.LegacyContact {
	out := make(map[int64][]model.LegacyContact)
	for _, c := range contacts {
		if c.CompanyID == nil {
			continue
		}
		out[*c.CompanyID] = append(out[*c.CompanyID], c)
	}
	return out
}
