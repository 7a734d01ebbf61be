package model

// RecordType classifies a company output row.
type RecordType string

const (
	RecordStandalone       RecordType = "Standalone"
	RecordSite             RecordType = "Site"
	RecordParentAggregator RecordType = "ParentAggregator"
)

// NoDomain is the domain key of companies without a usable website.
const NoDomain = "no-domain"

// Data quality flags attached to company rows.
const (
	FlagEmptyName      = "empty_name"
	FlagExistingParent = "existing_parent"
	FlagDuplicateID    = "duplicate_id"
)

// ClusterKey identifies a site cluster.
type ClusterKey struct {
	BaseName  string `json:"base_name"`
	DomainKey string `json:"domain_key"`
}

// ClusterMember is one legacy company inside a site cluster.
type ClusterMember struct {
	CompanyID int64  `json:"company_id"`
	SiteOrder int    `json:"site_order"`
	Location  string `json:"location,omitempty"`
}

// ContactRollup is a derived, read-only view of the contacts under a company.
type ContactRollup struct {
	ContactCount        int      `json:"contact_count"`
	ContactNames        []string `json:"contact_names,omitempty"`
	ContactEmails       []string `json:"contact_emails,omitempty"`
	PrimaryContactName  string   `json:"primary_contact_name,omitempty"`
	PrimaryContactEmail string   `json:"primary_contact_email,omitempty"`
}

// CompanyCluster groups legacy company rows believed to be sites of one company.
type CompanyCluster struct {
	Key         ClusterKey      `json:"key"`
	ParentID    int64           `json:"parent_id,omitempty"`
	Members     []ClusterMember `json:"members"`
	IsMultiSite bool            `json:"is_multi_site"`
	Rollup      ContactRollup   `json:"rollup"`
}

// MemberIDs returns the member company ids in site order.
func (c CompanyCluster) MemberIDs() []int64 {
	ids := make([]int64, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.CompanyID
	}
	return ids
}

// CompanyRecord is one output company row: a legacy company or a synthetic parent.
type CompanyRecord struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	BaseName    string        `json:"base_name"`
	Location    string        `json:"location,omitempty"`
	DomainKey   string        `json:"domain_key"`
	Website     string        `json:"website,omitempty"`
	RecordType  RecordType    `json:"record_type"`
	ParentID    *int64        `json:"parent_id,omitempty"`
	SiteOrder   int           `json:"site_order"`
	IsMultiSite bool          `json:"is_multi_site"`
	Generated   bool          `json:"generated"`
	DataQuality []string      `json:"data_quality,omitempty"`
	Rollup      ContactRollup `json:"rollup"`
}
