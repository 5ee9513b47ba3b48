// Package ledger computes how a sold line's revenue is divided between the
// standing accounts. Lines from consignment (startup) categories route the
// maker's share to the category's partner account; house-made lines recover
// their cost into investment and keep the margin as profit.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"crocheteria/backend/internal/domain"
)

var (
	ErrNegativeRent      = errors.New("rent must not be negative")
	ErrRentExceedsProfit = errors.New("rent exceeds line profit")
)

// CommissionRule is the per-category commission variant. Startup marks a
// consignment category whose maker is paid through PartnerAccountID.
type CommissionRule struct {
	Startup          bool
	Type             string
	Percent          float64
	Cents            int64
	PartnerAccountID string
}

// RuleForCategory maps a category's stored fields onto a rule.
func RuleForCategory(cat *domain.Category) CommissionRule {
	if cat == nil {
		return CommissionRule{Type: domain.CommissionTypeNone}
	}
	rule := CommissionRule{
		Startup:          cat.Startup,
		Type:             cat.CommissionType,
		PartnerAccountID: cat.AccountID,
	}
	switch cat.CommissionType {
	case domain.CommissionTypePercentage:
		rule.Percent = cat.CommissionPercent
	case domain.CommissionTypeFixed:
		rule.Cents = cat.CommissionCents
	default:
		rule.Type = domain.CommissionTypeNone
	}
	return rule
}

// Profit returns the house share a rule yields on a line total: a percentage
// of the total, a fixed amount per line, or zero.
func (r CommissionRule) Profit(totalCents int64) (int64, error) {
	switch r.Type {
	case domain.CommissionTypePercentage:
		pct := decimal.NewFromFloat(r.Percent)
		amount := decimal.NewFromInt(totalCents).Mul(pct).Div(decimal.NewFromInt(100))
		return amount.Round(0).IntPart(), nil
	case domain.CommissionTypeFixed:
		return r.Cents, nil
	case domain.CommissionTypeNone, "":
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown commission type %q", r.Type)
	}
}

// Split is the set of credit legs computed for one line. Exactly one of
// InvestmentCents (house lines) and PartnerCents (startup lines) is in play.
type Split struct {
	Startup          bool
	PartnerAccountID string
	ProfitCents      int64
	InvestmentCents  int64
	PartnerCents     int64
	RentCents        int64
	RemainingCents   int64
}

// ComputeSplit derives the batch-mode legs for a line.
//
// Startup lines: the commission rule fixes the house profit on the line
// total, the rest of the revenue is the maker's share. House lines: profit is
// revenue minus FIFO cost and the cost itself goes back to investment. In
// both shapes rent is carved out of the profit and what is left of it lands
// in remaining_utility.
func ComputeSplit(line domain.SaleLine, rule CommissionRule, rentCents int64) (Split, error) {
	if rentCents < 0 {
		return Split{}, fmt.Errorf("%w: %d", ErrNegativeRent, rentCents)
	}

	if rule.Startup {
		profit, err := rule.Profit(line.TotalCents)
		if err != nil {
			return Split{}, err
		}
		if profit < 0 || profit > line.TotalCents {
			return Split{}, fmt.Errorf("commission %d outside line total %d", profit, line.TotalCents)
		}
		if rentCents > profit {
			return Split{}, fmt.Errorf("%w: rent %d, profit %d", ErrRentExceedsProfit, rentCents, profit)
		}
		return Split{
			Startup:          true,
			PartnerAccountID: rule.PartnerAccountID,
			ProfitCents:      profit,
			PartnerCents:     line.TotalCents - profit,
			RentCents:        rentCents,
			RemainingCents:   profit - rentCents,
		}, nil
	}

	profit := line.TotalCents - line.TotalCostCents
	if rentCents > profit {
		return Split{}, fmt.Errorf("%w: rent %d, profit %d", ErrRentExceedsProfit, rentCents, profit)
	}
	return Split{
		ProfitCents:     profit,
		InvestmentCents: line.TotalCostCents,
		RentCents:       rentCents,
		RemainingCents:  profit - rentCents,
	}, nil
}
