// Package allocation implements first-in-first-out consumption of purchase
// lots. Both store implementations plan allocations through this package so
// costing stays identical regardless of the backing storage.
package allocation

import (
	"errors"
	"sort"

	"crocheteria/backend/internal/domain"
)

var ErrInsufficient = errors.New("insufficient lot availability")

// LotUse records how many units an allocation takes from one lot.
type LotUse struct {
	LotID         string
	Qty           int
	UnitCostCents int64
}

// Plan is the outcome of allocating one quantity against a lot list. Each
// lot touched yields its own LotUse, and callers persist one sale line per
// use so every line carries the exact cost of the lot that supplied it.
type Plan struct {
	Uses           []LotUse
	TotalCostCents int64
}

// Allocate consumes qty units from lots in strict receive order, oldest
// first. Ties on receive time break by lot id so the order is deterministic.
// Inactive and empty lots are skipped. If the lots cannot cover qty the
// function fails without a partial plan.
func Allocate(lots []domain.PurchaseLot, qty int) (Plan, error) {
	if qty <= 0 {
		return Plan{}, errors.New("qty must be positive")
	}

	ordered := make([]domain.PurchaseLot, 0, len(lots))
	for _, lot := range lots {
		if !lot.Active || lot.QtyAvailable <= 0 {
			continue
		}
		ordered = append(ordered, lot)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].ReceivedAt.Equal(ordered[j].ReceivedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].ReceivedAt.Before(ordered[j].ReceivedAt)
	})

	plan := Plan{}
	remaining := qty
	for _, lot := range ordered {
		if remaining == 0 {
			break
		}
		used := remaining
		if used > lot.QtyAvailable {
			used = lot.QtyAvailable
		}
		plan.Uses = append(plan.Uses, LotUse{
			LotID:         lot.ID,
			Qty:           used,
			UnitCostCents: lot.UnitCostCents,
		})
		plan.TotalCostCents += int64(used) * lot.UnitCostCents
		remaining -= used
	}
	if remaining > 0 {
		return Plan{}, ErrInsufficient
	}
	return plan, nil
}
