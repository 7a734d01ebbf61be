package export

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/crm-migrate/internal/model"
)

// table is one output table: a file name, its ordered columns and its rows.
type table struct {
	name    string
	columns []string
	rows    [][]string
}

var companyColumns = []string{
	"id",
	"name",
	"base_name",
	"location",
	"domain_key",
	"website",
	"record_type",
	"parent_id",
	"site_order",
	"is_multi_site",
	"generated",
	"data_quality",
	"contact_count",
	"contact_names",
	"contact_emails",
	"primary_contact_name",
	"primary_contact_email",
}

var dealColumns = []string{
	"id",
	"description",
	"deal_category",
	"pipeline",
	"target_stage_name",
	"target_stage_id",
	"outcome_tag",
	"legacy_type",
	"legacy_stage",
	"legacy_status",
	"company_id",
	"contact_id",
	"amount",
	"cost",
	"certainty_percent",
	"weighted_amount",
	"net_amount",
	"net_weighted_amount",
	"margin_percent",
	"roi_percent",
	"risk",
	"deal_age_days",
	"target_close",
	"created_at",
	"transformation_note",
}

var associationColumns = []string{
	"source_entity",
	"source_id",
	"target_entity",
	"target_id",
	"status",
	"target_display_name",
	"target_context",
}

var clusterColumns = []string{
	"base_name",
	"domain_key",
	"parent_id",
	"is_multi_site",
	"member_ids",
	"locations",
	"contact_count",
}

func companyTable(records []model.CompanyRecord) table {
	t := table{name: "companies", columns: companyColumns}
	for _, c := range records {
		t.rows = append(t.rows, []string{
			formatID(c.ID),
			c.Name,
			c.BaseName,
			c.Location,
			c.DomainKey,
			c.Website,
			string(c.RecordType),
			formatRef(c.ParentID),
			strconv.Itoa(c.SiteOrder),
			strconv.FormatBool(c.IsMultiSite),
			strconv.FormatBool(c.Generated),
			strings.Join(c.DataQuality, ";"),
			strconv.Itoa(c.Rollup.ContactCount),
			strings.Join(c.Rollup.ContactNames, "; "),
			strings.Join(c.Rollup.ContactEmails, "; "),
			c.Rollup.PrimaryContactName,
			c.Rollup.PrimaryContactEmail,
		})
	}
	return t
}

func dealTable(deals []model.ClassifiedDeal) table {
	t := table{name: "deals", columns: dealColumns}
	for _, d := range deals {
		f := d.Financials
		t.rows = append(t.rows, []string{
			formatID(d.ID),
			d.Description,
			d.DealCategory,
			d.Pipeline,
			d.TargetStageName,
			d.TargetStageID,
			string(d.OutcomeTag),
			d.LegacyType,
			d.LegacyStage,
			d.LegacyStatus,
			formatRef(d.CompanyID),
			formatRef(d.ContactID),
			formatMoney(f.Amount),
			formatMoney(f.Cost),
			formatMoney(f.CertaintyPercent),
			formatMoney(f.WeightedAmount),
			formatMoney(f.NetAmount),
			formatMoney(f.NetWeightedAmount),
			formatMoney(f.MarginPercent),
			formatMoney(f.ROIPercent),
			f.Risk,
			strconv.Itoa(f.DealAgeDays),
			formatDate(d.TargetClose),
			formatDate(d.CreatedAt),
			d.TransformationNote,
		})
	}
	return t
}

func associationTable(records []model.AssociationRecord) table {
	t := table{name: "associations", columns: associationColumns}
	for _, a := range records {
		t.rows = append(t.rows, []string{
			string(a.SourceEntity),
			formatID(a.SourceID),
			string(a.TargetEntity),
			formatRef(a.TargetID),
			string(a.Status),
			a.TargetDisplayName,
			a.TargetContext,
		})
	}
	return t
}

func clusterTable(clusters []model.CompanyCluster) table {
	t := table{name: "clusters", columns: clusterColumns}
	for _, c := range clusters {
		ids := make([]string, len(c.Members))
		locs := make([]string, len(c.Members))
		for i, m := range c.Members {
			ids[i] = formatID(m.CompanyID)
			locs[i] = m.Location
		}
		parent := ""
		if c.ParentID != 0 {
			parent = formatID(c.ParentID)
		}
		t.rows = append(t.rows, []string{
			c.Key.BaseName,
			c.Key.DomainKey,
			parent,
			strconv.FormatBool(c.IsMultiSite),
			strings.Join(ids, ";"),
			strings.Join(locs, ";"),
			strconv.Itoa(c.Rollup.ContactCount),
		})
	}
	return t
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// formatRef renders an optional id; nil is an empty cell.
func formatRef(id *int64) string {
	if id == nil {
		return ""
	}
	return formatID(*id)
}

// formatMoney renders currency and percent values with two decimals.
func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
