package model

import "github.com/shopspring/decimal"

// OutcomeTag is the coarse outcome of a deal, kept next to the fine-grained stage.
type OutcomeTag string

const (
	OutcomeWon        OutcomeTag = "Won"
	OutcomeLost       OutcomeTag = "Lost"
	OutcomeAbandoned  OutcomeTag = "Abandoned"
	OutcomeNotViable  OutcomeTag = "NotViable"
	OutcomeOnHold     OutcomeTag = "OnHold"
	OutcomeInProgress OutcomeTag = "InProgress"
)

// Terminal reports whether the outcome ends the deal's pipeline.
func (o OutcomeTag) Terminal() bool {
	switch o {
	case OutcomeWon, OutcomeLost, OutcomeAbandoned, OutcomeNotViable, OutcomeOnHold:
		return true
	default:
		return false
	}
}

// Deal categories.
const (
	DealCategoryStudy       = "Study"
	DealCategoryOpportunity = "Opportunity"
)

// Financials holds the derived money values of a deal.
type Financials struct {
	Amount            decimal.Decimal `json:"amount"`
	Cost              decimal.Decimal `json:"cost"`
	CertaintyPercent  decimal.Decimal `json:"certainty_percent"`
	WeightedAmount    decimal.Decimal `json:"weighted_amount"`
	NetAmount         decimal.Decimal `json:"net_amount"`
	NetWeightedAmount decimal.Decimal `json:"net_weighted_amount"`
	MarginPercent     decimal.Decimal `json:"margin_percent"`
	ROIPercent        decimal.Decimal `json:"roi_percent"`
	Risk              string          `json:"risk"`
	DealAgeDays       int             `json:"deal_age_days"`
}

// ClassifiedDeal is a legacy deal with its target stage, outcome and financials.
// It is produced fresh on every run and never patched in place.
type ClassifiedDeal struct {
	LegacyDeal
	Pipeline           string     `json:"pipeline"`
	TargetStageName    string     `json:"target_stage_name"`
	TargetStageID      string     `json:"target_stage_id,omitempty"`
	OutcomeTag         OutcomeTag `json:"outcome_tag"`
	TransformationNote string     `json:"transformation_note,omitempty"`
	DealCategory       string     `json:"deal_category"`
	Financials         Financials `json:"financials"`
}
