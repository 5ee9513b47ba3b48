package allocation

import (
	"errors"
	"testing"
	"time"

	"crocheteria/backend/internal/domain"
)

func lot(id string, receivedAt time.Time, available int, costCents int64) domain.PurchaseLot {
	return domain.PurchaseLot{
		ID:            id,
		SKU:           "YARN-001",
		UnitCostCents: costCents,
		QtyReceived:   available,
		QtyAvailable:  available,
		Active:        true,
		ReceivedAt:    receivedAt,
	}
}

func TestAllocateConsumesOldestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lots := []domain.PurchaseLot{
		lot("lot-2", base.Add(time.Hour), 5, 300),
		lot("lot-1", base, 3, 200),
	}

	plan, err := Allocate(lots, 4)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(plan.Uses) != 2 {
		t.Fatalf("expected 2 lot uses, got %d", len(plan.Uses))
	}
	if plan.Uses[0].LotID != "lot-1" || plan.Uses[0].Qty != 3 {
		t.Fatalf("expected lot-1 drained first, got %+v", plan.Uses[0])
	}
	if plan.Uses[1].LotID != "lot-2" || plan.Uses[1].Qty != 1 {
		t.Fatalf("expected 1 unit from lot-2, got %+v", plan.Uses[1])
	}
	if plan.TotalCostCents != 3*200+1*300 {
		t.Fatalf("unexpected total cost %d", plan.TotalCostCents)
	}
}

func TestAllocateBreaksTiesByLotID(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lots := []domain.PurchaseLot{
		lot("lot-b", at, 2, 100),
		lot("lot-a", at, 2, 100),
	}

	plan, err := Allocate(lots, 1)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if plan.Uses[0].LotID != "lot-a" {
		t.Fatalf("expected lot-a first on tie, got %s", plan.Uses[0].LotID)
	}
}

func TestAllocateSkipsInactiveAndEmptyLots(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	inactive := lot("lot-old", base, 10, 100)
	inactive.Active = false
	empty := lot("lot-empty", base.Add(time.Minute), 5, 120)
	empty.QtyAvailable = 0
	lots := []domain.PurchaseLot{
		inactive,
		empty,
		lot("lot-live", base.Add(2*time.Minute), 4, 150),
	}

	plan, err := Allocate(lots, 2)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(plan.Uses) != 1 || plan.Uses[0].LotID != "lot-live" {
		t.Fatalf("expected only lot-live consumed, got %+v", plan.Uses)
	}
}

func TestAllocateInsufficientFailsWholly(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lots := []domain.PurchaseLot{lot("lot-1", base, 3, 200)}

	plan, err := Allocate(lots, 5)
	if !errors.Is(err, ErrInsufficient) {
		t.Fatalf("expected ErrInsufficient, got %v", err)
	}
	if len(plan.Uses) != 0 {
		t.Fatalf("expected empty plan on failure, got %+v", plan.Uses)
	}
}

func TestAllocateRejectsNonPositiveQty(t *testing.T) {
	if _, err := Allocate(nil, 0); err == nil {
		t.Fatal("expected error for qty 0")
	}
	if _, err := Allocate(nil, -3); err == nil {
		t.Fatal("expected error for negative qty")
	}
}

func TestAllocateKeepsPerLotCosts(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lots := []domain.PurchaseLot{
		lot("lot-1", base, 2, 100),
		lot("lot-2", base.Add(time.Hour), 2, 200),
	}

	plan, err := Allocate(lots, 4)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(plan.Uses) != 2 {
		t.Fatalf("expected 2 uses, got %d", len(plan.Uses))
	}
	if plan.Uses[0].UnitCostCents != 100 || plan.Uses[1].UnitCostCents != 200 {
		t.Fatalf("each use must keep its lot's cost, got %+v", plan.Uses)
	}
	if plan.TotalCostCents != 600 {
		t.Fatalf("total cost = %d, want 600", plan.TotalCostCents)
	}
}
