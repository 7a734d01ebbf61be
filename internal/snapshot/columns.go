package snapshot

import (
	"sort"
	"strings"
)

// Table is one extract of a snapshot directory.
type Table string

const (
	TableCompanies      Table = "companies"
	TableContacts       Table = "contacts"
	TableDeals          Table = "deals"
	TableCommunications Table = "communications"
	TableSocialLinks    Table = "social_links"
)

// fileNames are the accepted base names of each extract, matched case-insensitively
// with a .csv or .xlsx extension. The legacy export names come first.
var fileNames = map[Table][]string{
	TableCompanies:      {"legacy_companies", "companies"},
	TableContacts:       {"legacy_persons", "persons", "contacts"},
	TableDeals:          {"legacy_opportunities", "opportunities", "deals"},
	TableCommunications: {"legacy_comm", "communications"},
	TableSocialLinks:    {"legacy_socialnetworks", "social_networks", "social_links"},
}

// required tables fail the load when missing; the others load as empty.
var required = map[Table]bool{
	TableCompanies: true,
	TableDeals:     true,
}

// Column identifiers shared by the row parsers.
const (
	colID          = "id"
	colName        = "name"
	colWebsite     = "website"
	colParentID    = "parent_id"
	colFirstName   = "first_name"
	colLastName    = "last_name"
	colEmail       = "email"
	colCompanyID   = "company_id"
	colContactID   = "contact_id"
	colDealID      = "deal_id"
	colDescription = "description"
	colPipeline    = "pipeline_type"
	colType        = "legacy_type"
	colStage       = "legacy_stage"
	colStatus      = "legacy_status"
	colSource      = "source"
	colForecast    = "forecast_amount"
	colCost        = "cost"
	colCertainty   = "certainty_percent"
	colTargetClose = "target_close"
	colCreated     = "created_at"
	colUpdated     = "updated_at"
	colSubject     = "subject"
	colChannel     = "channel"
	colTimestamp   = "timestamp"
	colLink        = "link"
	colEntityType  = "entity_type"
	colRecordID    = "record_id"
)

// aliases maps header text, lower-cased, to a column per table.
var aliases = map[Table]map[string][]string{
	TableCompanies: {
		colID:       {"comp_companyid", "company_id", "id"},
		colName:     {"comp_name", "company_name", "name"},
		colWebsite:  {"comp_website", "comp_website2", "website"},
		colParentID: {"comp_parentid", "parent_id"},
	},
	TableContacts: {
		colID:        {"pers_personid", "person_id", "contact_id", "id"},
		colFirstName: {"pers_firstname", "first_name", "firstname"},
		colLastName:  {"pers_lastname", "last_name", "lastname"},
		colEmail:     {"pers_emailaddress", "email", "email_address"},
		colCompanyID: {"pers_companyid", "comp_companyid", "company_id"},
	},
	TableDeals: {
		colID:          {"oppo_opportunityid", "opportunity_id", "deal_id", "id"},
		colDescription: {"oppo_description", "description", "deal_name"},
		colPipeline:    {"oppo_pipeline", "pipeline", "pipeline_type"},
		colType:        {"oppo_type", "legacy_type", "type"},
		colStage:       {"oppo_stage", "stage", "legacy_stage"},
		colStatus:      {"oppo_status", "status", "legacy_status"},
		colSource:      {"oppo_source", "source"},
		colForecast:    {"oppo_forecast", "forecast", "forecast_amount", "amount"},
		colCost:        {"oppo_cout", "oppo_cost", "cost"},
		colCertainty:   {"oppo_certainty", "certainty", "certainty_percent"},
		colCompanyID:   {"oppo_primarycompanyid", "company_id"},
		colContactID:   {"oppo_primarypersonid", "contact_id", "person_id"},
		colTargetClose: {"oppo_targetclose", "target_close"},
		colCreated:     {"oppo_createddate", "created_at", "created"},
		colUpdated:     {"oppo_updateddate", "updated_at", "updated"},
	},
	TableCommunications: {
		colID:        {"comm_communicationid", "communication_id", "id"},
		colSubject:   {"comm_subject", "subject"},
		colChannel:   {"comm_type", "comm_action", "channel"},
		colTimestamp: {"comm_datetime", "timestamp", "datetime"},
		colCompanyID: {"comp_companyid", "company_id"},
		colContactID: {"pers_personid", "contact_id", "person_id"},
		colDealID:    {"oppo_opportunityid", "deal_id", "opportunity_id"},
	},
	TableSocialLinks: {
		colID:         {"sone_networklinkid", "link_id", "id"},
		colLink:       {"sone_networklink", "link", "url"},
		colEntityType: {"related_tableid", "entity_type"},
		colRecordID:   {"related_recordid", "record_id"},
	},
}

// headerlessCompanies is the column layout of the legacy company export, which ships
// without a header row.
var headerlessCompanies = []string{colID, colName, colWebsite, "", "", ""}

// header maps columns to their index in a row.
type header map[string]int

// newHeader resolves header cells to columns. The first matching alias wins; a header
// cell is used by at most one column.
func newHeader(t Table, cells []string) header {
	pos := make(map[string]int, len(cells))
	for i, c := range cells {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(c, "\ufeff")))
		if _, ok := pos[key]; !ok {
			pos[key] = i
		}
	}
	cols := make([]string, 0, len(aliases[t]))
	for col := range aliases[t] {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	h := make(header)
	used := make(map[int]bool)
	for _, col := range cols {
		for _, n := range aliases[t][col] {
			if i, ok := pos[n]; ok && !used[i] {
				h[col] = i
				used[i] = true
				break
			}
		}
	}
	return h
}

// positional builds a header from a fixed column layout.
func positional(layout []string) header {
	h := make(header)
	for i, col := range layout {
		if col != "" {
			h[col] = i
		}
	}
	return h
}

// get returns the trimmed cell for col, or "" when the column or cell is absent.
func (h header) get(row []string, col string) string {
	i, ok := h[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (h header) has(col string) bool {
	_, ok := h[col]
	return ok
}
