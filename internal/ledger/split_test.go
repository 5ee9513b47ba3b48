package ledger

import (
	"errors"
	"testing"

	"crocheteria/backend/internal/domain"
)

func line(qty int, totalCents int64, totalCostCents int64) domain.SaleLine {
	return domain.SaleLine{
		SKU:            "AMIG-001",
		Qty:            qty,
		TotalCents:     totalCents,
		TotalCostCents: totalCostCents,
	}
}

func TestComputeSplitStartupPercentage(t *testing.T) {
	// 20% of the 25000 line total is the house profit, the rest belongs to
	// the maker. Rent comes out of the profit.
	rule := CommissionRule{Startup: true, Type: domain.CommissionTypePercentage, Percent: 20, PartnerAccountID: "acc-maker"}
	split, err := ComputeSplit(line(1, 25000, 8000), rule, 1000)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !split.Startup || split.PartnerAccountID != "acc-maker" {
		t.Fatalf("unexpected split shape %+v", split)
	}
	if split.ProfitCents != 5000 {
		t.Fatalf("profit = %d, want 5000", split.ProfitCents)
	}
	if split.PartnerCents != 20000 {
		t.Fatalf("partner = %d, want 20000", split.PartnerCents)
	}
	if split.RentCents != 1000 || split.RemainingCents != 4000 {
		t.Fatalf("rent/remaining = %d/%d, want 1000/4000", split.RentCents, split.RemainingCents)
	}
	if split.InvestmentCents != 0 {
		t.Fatalf("startup split must not carry an investment leg, got %d", split.InvestmentCents)
	}
}

func TestComputeSplitStartupPercentageRounding(t *testing.T) {
	// 20% of 999 is 199.8, rounds to 200.
	rule := CommissionRule{Startup: true, Type: domain.CommissionTypePercentage, Percent: 20}
	split, err := ComputeSplit(line(1, 999, 0), rule, 0)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if split.ProfitCents != 200 {
		t.Fatalf("profit = %d, want 200", split.ProfitCents)
	}
	if split.PartnerCents != 799 {
		t.Fatalf("partner = %d, want 799", split.PartnerCents)
	}
}

func TestComputeSplitStartupFixed(t *testing.T) {
	// A fixed commission is per line, not per unit.
	rule := CommissionRule{Startup: true, Type: domain.CommissionTypeFixed, Cents: 500}
	split, err := ComputeSplit(line(3, 6000, 0), rule, 0)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if split.ProfitCents != 500 {
		t.Fatalf("profit = %d, want 500", split.ProfitCents)
	}
	if split.PartnerCents != 5500 {
		t.Fatalf("partner = %d, want 5500", split.PartnerCents)
	}
	if split.RemainingCents != 500 {
		t.Fatalf("remaining = %d, want 500", split.RemainingCents)
	}
}

func TestComputeSplitHouseLine(t *testing.T) {
	// No startup flag: profit is revenue minus cost and the cost is
	// recovered into investment.
	split, err := ComputeSplit(line(2, 10000, 4000), CommissionRule{Type: domain.CommissionTypeNone}, 500)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if split.Startup {
		t.Fatal("house line marked startup")
	}
	if split.ProfitCents != 6000 {
		t.Fatalf("profit = %d, want 6000", split.ProfitCents)
	}
	if split.InvestmentCents != 4000 {
		t.Fatalf("investment = %d, want 4000", split.InvestmentCents)
	}
	if split.RentCents != 500 || split.RemainingCents != 5500 {
		t.Fatalf("rent/remaining = %d/%d, want 500/5500", split.RentCents, split.RemainingCents)
	}
	if split.PartnerCents != 0 {
		t.Fatalf("house split must not carry a partner leg, got %d", split.PartnerCents)
	}
}

func TestComputeSplitRentExceedsProfit(t *testing.T) {
	_, err := ComputeSplit(line(1, 1000, 900), CommissionRule{Type: domain.CommissionTypeNone}, 500)
	if !errors.Is(err, ErrRentExceedsProfit) {
		t.Fatalf("expected ErrRentExceedsProfit, got %v", err)
	}

	rule := CommissionRule{Startup: true, Type: domain.CommissionTypeFixed, Cents: 300}
	if _, err := ComputeSplit(line(1, 1000, 0), rule, 400); !errors.Is(err, ErrRentExceedsProfit) {
		t.Fatalf("expected ErrRentExceedsProfit on startup line, got %v", err)
	}
}

func TestComputeSplitRejectsNegativeRent(t *testing.T) {
	_, err := ComputeSplit(line(1, 1000, 0), CommissionRule{Type: domain.CommissionTypeNone}, -1)
	if !errors.Is(err, ErrNegativeRent) {
		t.Fatalf("expected ErrNegativeRent, got %v", err)
	}
}

func TestComputeSplitStartupUnknownType(t *testing.T) {
	rule := CommissionRule{Startup: true, Type: "bonus"}
	if _, err := ComputeSplit(line(1, 1000, 0), rule, 0); err == nil {
		t.Fatal("expected error for unknown commission type")
	}
}

func TestRuleForCategory(t *testing.T) {
	if rule := RuleForCategory(nil); rule.Type != domain.CommissionTypeNone {
		t.Fatalf("nil category rule = %q, want none", rule.Type)
	}
	cat := &domain.Category{Startup: true, CommissionType: domain.CommissionTypePercentage, CommissionPercent: 15, AccountID: "acc-x"}
	rule := RuleForCategory(cat)
	if !rule.Startup || rule.Type != domain.CommissionTypePercentage || rule.Percent != 15 || rule.PartnerAccountID != "acc-x" {
		t.Fatalf("unexpected rule %+v", rule)
	}
}
