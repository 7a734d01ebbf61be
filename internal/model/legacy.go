// Package model defines the legacy input rows, the normalized output tables and the
// run records shared by every stage of a migration.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LegacyCompany is a company row from the legacy CRM extract.
type LegacyCompany struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Website  *string `json:"website,omitempty"`
	ParentID *int64  `json:"parent_id,omitempty"`
}

// LegacyContact is a person row from the legacy CRM extract.
type LegacyContact struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	CompanyID *int64 `json:"company_id,omitempty"`
}

// FullName joins first and last name, skipping empty parts.
func (c LegacyContact) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	default:
		return c.FirstName + " " + c.LastName
	}
}

// LegacyDeal is an opportunity row from the legacy CRM extract.
type LegacyDeal struct {
	ID               int64            `json:"id"`
	Description      string           `json:"description,omitempty"`
	PipelineType     string           `json:"pipeline_type"`
	LegacyType       string           `json:"legacy_type,omitempty"`
	LegacyStage      string           `json:"legacy_stage"`
	LegacyStatus     string           `json:"legacy_status"`
	Source           string           `json:"source,omitempty"`
	ForecastAmount   *decimal.Decimal `json:"forecast_amount,omitempty"`
	Cost             *decimal.Decimal `json:"cost,omitempty"`
	CertaintyPercent *decimal.Decimal `json:"certainty_percent,omitempty"`
	CompanyID        *int64           `json:"company_id,omitempty"`
	ContactID        *int64           `json:"contact_id,omitempty"`
	TargetClose      *time.Time       `json:"target_close,omitempty"`
	CreatedAt        *time.Time       `json:"created_at,omitempty"`
	UpdatedAt        *time.Time       `json:"updated_at,omitempty"`
}

// LegacyCommunication is a communication (note, call, email, meeting) row.
type LegacyCommunication struct {
	ID        int64      `json:"id"`
	Subject   string     `json:"subject,omitempty"`
	Channel   string     `json:"channel"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	CompanyID *int64     `json:"company_id,omitempty"`
	ContactID *int64     `json:"contact_id,omitempty"`
	DealID    *int64     `json:"deal_id,omitempty"`
}

// LegacySocialLink is a social network link attached to a company or a person.
type LegacySocialLink struct {
	ID         int64  `json:"id"`
	Link       string `json:"link"`
	EntityType Entity `json:"entity_type"`
	RecordID   *int64 `json:"record_id,omitempty"`
}

// Snapshot is the fully materialized legacy extract a run processes.
type Snapshot struct {
	Companies      []LegacyCompany       `json:"companies"`
	Contacts       []LegacyContact       `json:"contacts"`
	Deals          []LegacyDeal          `json:"deals"`
	Communications []LegacyCommunication `json:"communications"`
	SocialLinks    []LegacySocialLink    `json:"social_links,omitempty"`

	// Findings are row-level issues raised while loading the extract.
	Findings []Finding `json:"-"`
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
