// Package finance derives the money columns of a deal using fixed-point arithmetic.
package finance

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/normalize"
)

// Currency values are rounded to cents.
const currencyPlaces = 2

// Risk bands, by certainty percent.
const (
	RiskHigh   = "High Risk"
	RiskMedium = "Medium Risk"
	RiskLow    = "Low Risk"
)

var (
	hundred     = decimal.NewFromInt(100)
	highRiskMax = decimal.NewFromInt(30)
	medRiskMax  = decimal.NewFromInt(70)
)

// ValidationError reports a legacy money field that could not be read as a number.
// The field is treated as zero and the row is kept.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("finance: %s: %q is not numeric", e.Field, e.Value)
}

// Warning is a non-fatal adjustment made while computing a deal's financials.
type Warning struct {
	Field   string
	Message string
}

// ParseAmount reads a legacy money or percent field. Null placeholders yield nil.
// Both "1234.5" and the French "1 234,50 €" and "1.234,50" forms are accepted.
func ParseAmount(field, raw string) (*decimal.Decimal, error) {
	if normalize.IsNullText(raw) {
		return nil, nil
	}
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '€', '$', '%', '\'':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	s = strings.TrimSuffix(strings.TrimSuffix(s, "EUR"), "CHF")

	s, ok := canonicalSeparators(s)
	if !ok {
		return nil, &ValidationError{Field: field, Value: raw}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, &ValidationError{Field: field, Value: raw}
	}
	return &d, nil
}

// canonicalSeparators rewrites s so "." is the only decimal separator. When both
// "," and "." appear, the last one is the decimal point. A lone "," followed by
// exactly three digits ("1,234") could be either form and is rejected.
func canonicalSeparators(s string) (string, bool) {
	comma, dot := strings.LastIndex(s, ","), strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1), strings.Count(s, ",") == 1
		}
		return strings.ReplaceAll(s, ",", ""), strings.Count(s, ".") == 1
	case comma >= 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", ""), true
		}
		intPart := strings.TrimLeft(s[:comma], "+-")
		if len(s)-comma-1 == 3 && intPart != "" && strings.Trim(intPart, "0") != "" {
			return s, false
		}
		return strings.Replace(s, ",", ".", 1), true
	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", ""), true
	}
	return s, true
}

// Compute derives the financial columns of d. Null forecast and cost count as zero;
// certainty outside [0,100] is clamped and reported as a warning. asOf is the run's
// reference time for the deal age.
func Compute(d model.LegacyDeal, asOf time.Time) (model.Financials, []Warning) {
	var warnings []Warning

	amount := valueOrZero(d.ForecastAmount)
	cost := valueOrZero(d.Cost)
	certainty := valueOrZero(d.CertaintyPercent)
	switch {
	case certainty.IsNegative():
		warnings = append(warnings, Warning{Field: "certainty_percent", Message: fmt.Sprintf("certainty %s below 0; clamped", certainty)})
		certainty = decimal.Zero
	case certainty.GreaterThan(hundred):
		warnings = append(warnings, Warning{Field: "certainty_percent", Message: fmt.Sprintf("certainty %s above 100; clamped", certainty)})
		certainty = hundred
	}

	net := amount.Sub(cost)
	f := model.Financials{
		Amount:            amount.Round(currencyPlaces),
		Cost:              cost.Round(currencyPlaces),
		CertaintyPercent:  certainty,
		WeightedAmount:    percentOf(amount, certainty).Round(currencyPlaces),
		NetAmount:         net.Round(currencyPlaces),
		NetWeightedAmount: percentOf(net, certainty).Round(currencyPlaces),
		MarginPercent:     ratio(net, amount),
		ROIPercent:        ratio(net, cost),
		DealAgeDays:       dealAge(d.CreatedAt, asOf),
	}
	if d.CertaintyPercent != nil {
		f.Risk = Risk(certainty)
	}
	return f, warnings
}

// Risk buckets a certainty percent: below 30 is high risk, up to 70 medium, above low.
func Risk(certainty decimal.Decimal) string {
	switch {
	case certainty.LessThan(highRiskMax):
		return RiskHigh
	case certainty.LessThanOrEqual(medRiskMax):
		return RiskMedium
	default:
		return RiskLow
	}
}

func valueOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func percentOf(v, pct decimal.Decimal) decimal.Decimal {
	return v.Mul(pct).Div(hundred)
}

// ratio returns num/den as a percent, or zero when den is not positive.
func ratio(num, den decimal.Decimal) decimal.Decimal {
	if !den.IsPositive() {
		return decimal.Zero
	}
	return num.Div(den).Mul(hundred).Round(currencyPlaces)
}

func dealAge(created *time.Time, asOf time.Time) int {
	if created == nil || asOf.IsZero() {
		return 0
	}
	days := int(asOf.Sub(*created).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
