package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"crocheteria/backend/internal/cache"
	"crocheteria/backend/internal/domain"
	"crocheteria/backend/internal/store"
	"crocheteria/backend/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopBalanceCache{}, 5*time.Second)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func TestCreateSaleConsumesLotsOldestFirst(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	// Seed stock is 20 units per SKU from a single lot. Add a pricier lot
	// and sell across the boundary so both lots contribute.
	_, err := svc.ReceiveLot(ctx, domain.LotReceiveRequest{
		SKU:           "AMIG-OSO-01",
		Qty:           10,
		UnitCostCents: 9000,
	})
	if err != nil {
		t.Fatalf("receive lot failed: %v", err)
	}

	resp, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{SKU: "AMIG-OSO-01", Qty: 22, UnitPriceCents: 25000},
		},
		Payments: []domain.PaymentRequest{
			{Method: domain.PaymentMethodTransfer, AmountCents: 550000, Reference: "TRF-1"},
		},
		TotalCents: 550000,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	// A request straddling two lots persists as two lines, each with its
	// own lot's unit cost, never an averaged one.
	if len(resp.Sale.Lines) != 2 {
		t.Fatalf("expected 2 lines from a two-lot allocation, got %d", len(resp.Sale.Lines))
	}
	seedCost := int64(25000 / 3)
	first, second := resp.Sale.Lines[0], resp.Sale.Lines[1]
	if first.Qty != 20 || first.UnitCostCents != seedCost || first.TotalCostCents != 20*seedCost {
		t.Fatalf("unexpected first line %+v", first)
	}
	if second.Qty != 2 || second.UnitCostCents != 9000 || second.TotalCostCents != 18000 {
		t.Fatalf("unexpected second line %+v", second)
	}
	if first.Ordinal != 0 || second.Ordinal != 1 {
		t.Fatalf("expected ordinals 0 and 1, got %d and %d", first.Ordinal, second.Ordinal)
	}
	if resp.Sale.TotalCents != 550000 {
		t.Fatalf("expected sale total 550000, got %d", resp.Sale.TotalCents)
	}

	lots, err := svc.ListLots(ctx, "AMIG-OSO-01", true, 10)
	if err != nil {
		t.Fatalf("list lots failed: %v", err)
	}
	for _, lot := range lots.Lots {
		if lot.Notes == "seed" && lot.QtyAvailable != 0 {
			t.Fatalf("expected seed lot drained, has %d", lot.QtyAvailable)
		}
	}
}

func TestCreateSaleRequiresPayments(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{SKU: "ACC-LLAVERO-01", Qty: 1, UnitPriceCents: 6000},
		},
		TotalCents: 6000,
	})
	if !errors.Is(err, store.ErrNoPayments) {
		t.Fatalf("expected ErrNoPayments, got %v", err)
	}
}

func TestCashSaleWithoutDrawerRecordsNoSession(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	// Cash with no open drawer still goes through; the payment simply has
	// no drawer reference.
	resp, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{SKU: "ACC-LLAVERO-01", Qty: 1, UnitPriceCents: 6000},
		},
		Payments: []domain.PaymentRequest{
			{Method: domain.PaymentMethodCash, AmountCents: 6000},
		},
		TotalCents: 6000,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if len(resp.Sale.Payments) != 1 {
		t.Fatalf("expected 1 payment, got %d", len(resp.Sale.Payments))
	}
	if resp.Sale.Payments[0].DrawerID != "" {
		t.Fatalf("expected no drawer reference, got %q", resp.Sale.Payments[0].DrawerID)
	}
	if resp.Sale.Status != domain.SaleStatusPaid {
		t.Fatalf("expected paid status, got %s", resp.Sale.Status)
	}
}

func TestCreateSaleOverPaymentRejectedWithoutSideEffects(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	// The over-payment ceiling checks against the total the client declares.
	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{SKU: "ACC-SCRUNCHIE-01", Qty: 2, UnitPriceCents: 3500},
		},
		Payments: []domain.PaymentRequest{
			{Method: domain.PaymentMethodTransfer, AmountCents: 8000, Reference: "TRF-1"},
		},
		TotalCents: 7000,
	})
	if !errors.Is(err, store.ErrPaymentsExceedTotal) {
		t.Fatalf("expected ErrPaymentsExceedTotal, got %v", err)
	}

	product, err := svc.GetProduct(ctx, "ACC-SCRUNCHIE-01")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.StockQty != 20 {
		t.Fatalf("expected stock untouched at 20, got %d", product.StockQty)
	}
}

func TestCreateSaleCeilingUsesDeclaredTotal(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	// An inflated declared total lets payments exceed the recomputed total;
	// the sale still settles against the authoritative amount.
	resp, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{SKU: "ACC-SCRUNCHIE-01", Qty: 1, UnitPriceCents: 3500},
		},
		Payments: []domain.PaymentRequest{
			{Method: domain.PaymentMethodTransfer, AmountCents: 4000, Reference: "TRF-2"},
		},
		TotalCents: 4000,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if resp.Sale.TotalCents != 3500 {
		t.Fatalf("expected authoritative total 3500, got %d", resp.Sale.TotalCents)
	}
	if resp.Sale.Status != domain.SaleStatusPaid {
		t.Fatalf("expected paid status once payments cover the total, got %s", resp.Sale.Status)
	}
}

func TestCreateSaleSameSKULinesShareStock(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	// Two lines drawing on the same SKU must be planned against what is
	// left after the earlier line, and a failure must leave nothing behind.
	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{SKU: "BAS-GORRO-01", Qty: 20, UnitPriceCents: 15000},
			{SKU: "BAS-GORRO-01", Qty: 20, UnitPriceCents: 15000},
		},
		Payments: []domain.PaymentRequest{
			{Method: domain.PaymentMethodTransfer, AmountCents: 1000, Reference: "TRF-3"},
		},
		TotalCents: 600000,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	product, err := svc.GetProduct(ctx, "BAS-GORRO-01")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.StockQty != 20 {
		t.Fatalf("expected stock untouched at 20, got %d", product.StockQty)
	}
	lots, err := svc.ListLots(ctx, "BAS-GORRO-01", true, 10)
	if err != nil {
		t.Fatalf("list lots failed: %v", err)
	}
	if len(lots.Lots) != 1 || lots.Lots[0].QtyAvailable != 20 {
		t.Fatalf("expected seed lot untouched, got %+v", lots.Lots)
	}

	sales, err := svc.ListSales(ctx, "", 10)
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales.Sales) != 0 {
		t.Fatalf("expected no sale recorded, got %d", len(sales.Sales))
	}
}

func TestCreateSaleDerivesStatusFromPayments(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	partial, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Buyer: "Maria",
		Lines: []domain.SaleLineRequest{
			{SKU: "BAS-GORRO-01", Qty: 1, UnitPriceCents: 15000},
		},
		Payments: []domain.PaymentRequest{
			{Method: domain.PaymentMethodTransfer, AmountCents: 5000, Reference: "TRF-2"},
		},
		TotalCents: 15000,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if partial.Sale.Status != domain.SaleStatusPending {
		t.Fatalf("expected pending status for partial payment, got %s", partial.Sale.Status)
	}

	settled, err := svc.AddPayment(ctx, partial.Sale.ID, domain.PaymentRequest{
		Method:      domain.PaymentMethodTransfer,
		AmountCents: 10000,
		Reference:   "TRF-3",
	})
	if err != nil {
		t.Fatalf("add payment failed: %v", err)
	}
	if settled.Sale.Status != domain.SaleStatusPaid {
		t.Fatalf("expected paid status after settling, got %s", settled.Sale.Status)
	}
	if settled.Sale.PaidCents != 15000 {
		t.Fatalf("expected paid 15000, got %d", settled.Sale.PaidCents)
	}
}

func TestCashSaleCreditsOpenDrawer(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	if _, err := svc.OpenDrawer(ctx, domain.DrawerOpenRequest{InitialBalanceCents: 10000}); err != nil {
		t.Fatalf("open drawer failed: %v", err)
	}

	if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{SKU: "AMIG-PULPO-01", Qty: 1, UnitPriceCents: 18000},
		},
		Payments: []domain.PaymentRequest{
			{Method: domain.PaymentMethodCash, AmountCents: 18000},
		},
		TotalCents: 18000,
	}); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	active, err := svc.GetOpenDrawer(ctx)
	if err != nil {
		t.Fatalf("get open drawer failed: %v", err)
	}
	if active.Drawer.CurrentBalanceCents != 28000 {
		t.Fatalf("expected drawer balance 28000, got %d", active.Drawer.CurrentBalanceCents)
	}
}

func TestOpenDrawerRejectsSecondOpen(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	if _, err := svc.OpenDrawer(ctx, domain.DrawerOpenRequest{InitialBalanceCents: 5000}); err != nil {
		t.Fatalf("open drawer failed: %v", err)
	}
	_, err := svc.OpenDrawer(ctx, domain.DrawerOpenRequest{InitialBalanceCents: 2000})
	if !errors.Is(err, store.ErrDrawerAlreadyOpen) {
		t.Fatalf("expected ErrDrawerAlreadyOpen, got %v", err)
	}
}

func TestCutDrawerExtractsAndReopens(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	if _, err := svc.OpenDrawer(ctx, domain.DrawerOpenRequest{InitialBalanceCents: 10000}); err != nil {
		t.Fatalf("open drawer failed: %v", err)
	}
	if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{SKU: "AMIG-OSO-01", Qty: 1, UnitPriceCents: 25000},
		},
		Payments: []domain.PaymentRequest{
			{Method: domain.PaymentMethodCash, AmountCents: 25000},
		},
		TotalCents: 25000,
	}); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	cut, err := svc.CutDrawer(ctx, domain.CashCutRequest{NewInitialBalanceCents: 5000})
	if err != nil {
		t.Fatalf("cut drawer failed: %v", err)
	}
	if cut.Cut.ExtractedCents != 30000 {
		t.Fatalf("expected 30000 extracted, got %d", cut.Cut.ExtractedCents)
	}
	if cut.Cut.BalanceBeforeCents != 35000 || cut.Cut.BalanceAfterCents != 5000 {
		t.Fatalf("unexpected cut balances: before %d after %d", cut.Cut.BalanceBeforeCents, cut.Cut.BalanceAfterCents)
	}

	active, err := svc.GetOpenDrawer(ctx)
	if err != nil {
		t.Fatalf("get open drawer failed: %v", err)
	}
	if active.Drawer.ID == cut.Cut.DrawerID {
		t.Fatalf("expected a fresh drawer after cut")
	}
	if active.Drawer.CurrentBalanceCents != 5000 {
		t.Fatalf("expected new drawer balance 5000, got %d", active.Drawer.CurrentBalanceCents)
	}

	// Cutting above the current balance must fail rather than mint cash.
	_, err = svc.CutDrawer(ctx, domain.CashCutRequest{NewInitialBalanceCents: 99000})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestDistributeBatchStartupSplit(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{SKU: "AMIG-OSO-01", Qty: 1, UnitPriceCents: 25000},
		},
		Payments: []domain.PaymentRequest{
			{Method: domain.PaymentMethodTransfer, AmountCents: 25000, Reference: "TRF-4"},
		},
		TotalCents: 25000,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	result, err := svc.DistributeBatch(ctx, domain.DistributeBatchRequest{
		SaleID: sale.Sale.ID,
		Rents:  []domain.LineRent{{Ordinal: 0, RentCents: 1000}},
	})
	if err != nil {
		t.Fatalf("distribute batch failed: %v", err)
	}
	if result.LinesAccounted != 1 {
		t.Fatalf("expected 1 line accounted, got %d", result.LinesAccounted)
	}

	// Amigurumi is a consignment category at 20%: the house keeps 5000 of
	// the 25000 line, the maker gets the remaining 20000, rent comes out of
	// the house profit and what is left lands in remaining_utility.
	checks := map[string]int64{
		"acc-profit":     5000,
		"acc-amigurumi":  20000,
		"acc-rent":       1000,
		"acc-remaining":  4000,
		"acc-investment": 0,
	}
	for accountID, want := range checks {
		balance, err := svc.GetAccountBalance(ctx, accountID)
		if err != nil {
			t.Fatalf("balance %s failed: %v", accountID, err)
		}
		if balance != want {
			t.Fatalf("account %s: expected balance %d, got %d", accountID, want, balance)
		}
	}

	loaded, err := svc.GetSale(ctx, sale.Sale.ID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if !loaded.Sale.Lines[0].Accounted || loaded.Sale.Lines[0].RentCents != 1000 {
		t.Fatalf("expected accounted line with rent 1000, got %+v", loaded.Sale.Lines[0])
	}

	// Re-running the batch on an accounted sale must surface the conflict,
	// not silently skip it.
	_, err = svc.DistributeBatch(ctx, domain.DistributeBatchRequest{SaleID: sale.Sale.ID})
	if !errors.Is(err, store.ErrAlreadyAccounted) {
		t.Fatalf("expected ErrAlreadyAccounted on rerun, got %v", err)
	}

	_, err = svc.DistributeLine(ctx, domain.DistributeLineRequest{
		SaleID:      sale.Sale.ID,
		LineOrdinal: 0,
		Split:       domain.LineSplit{ProfitCents: 5000, PartnerAccountID: "acc-amigurumi", PartnerCents: 20000},
	})
	if !errors.Is(err, store.ErrAlreadyAccounted) {
		t.Fatalf("expected ErrAlreadyAccounted, got %v", err)
	}
}

func TestDistributeBatchHouseSplit(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{SKU: "BAS-GORRO-01", Qty: 1, UnitPriceCents: 15000},
		},
		Payments: []domain.PaymentRequest{
			{Method: domain.PaymentMethodTransfer, AmountCents: 15000, Reference: "TRF-5"},
		},
		TotalCents: 15000,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	if _, err := svc.DistributeBatch(ctx, domain.DistributeBatchRequest{
		SaleID: sale.Sale.ID,
		Rents:  []domain.LineRent{{Ordinal: 0, RentCents: 2000}},
	}); err != nil {
		t.Fatalf("distribute batch failed: %v", err)
	}

	// Basicos is house-made: cost 5000 goes back to investment, profit is
	// the 10000 margin, remaining is the profit minus rent.
	checks := map[string]int64{
		"acc-investment": 5000,
		"acc-profit":     10000,
		"acc-rent":       2000,
		"acc-remaining":  8000,
	}
	for accountID, want := range checks {
		balance, err := svc.GetAccountBalance(ctx, accountID)
		if err != nil {
			t.Fatalf("balance %s failed: %v", accountID, err)
		}
		if balance != want {
			t.Fatalf("account %s: expected balance %d, got %d", accountID, want, balance)
		}
	}
}

func TestDistributeBatchRejectsRentAboveProfit(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{SKU: "AMIG-OSO-01", Qty: 1, UnitPriceCents: 25000},
		},
		Payments: []domain.PaymentRequest{
			{Method: domain.PaymentMethodTransfer, AmountCents: 25000, Reference: "TRF-6"},
		},
		TotalCents: 25000,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	// 20% of 25000 is 5000; rent beyond that must fail the whole batch.
	_, err = svc.DistributeBatch(ctx, domain.DistributeBatchRequest{
		SaleID: sale.Sale.ID,
		Rents:  []domain.LineRent{{Ordinal: 0, RentCents: 6000}},
	})
	if !errors.Is(err, store.ErrSplitMismatch) {
		t.Fatalf("expected ErrSplitMismatch, got %v", err)
	}

	loaded, err := svc.GetSale(ctx, sale.Sale.ID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if loaded.Sale.Lines[0].Accounted {
		t.Fatal("expected line untouched after failed batch")
	}
}

func TestDistributeLineHouseSplit(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{SKU: "BAS-BUFANDA-01", Qty: 1, UnitPriceCents: 22000},
		},
		Payments: []domain.PaymentRequest{
			{Method: domain.PaymentMethodTransfer, AmountCents: 22000, Reference: "TRF-7"},
		},
		TotalCents: 22000,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	cost := sale.Sale.Lines[0].TotalCostCents

	// The caller-computed split must close exactly: profit is the margin
	// minus rent, cost recovery matches the line cost.
	_, err = svc.DistributeLine(ctx, domain.DistributeLineRequest{
		SaleID:      sale.Sale.ID,
		LineOrdinal: 0,
		Split: domain.LineSplit{
			ProfitCents:     22000 - cost - 1500,
			InvestmentCents: cost,
			RentCents:       1500,
		},
	})
	if err != nil {
		t.Fatalf("distribute line failed: %v", err)
	}

	checks := map[string]int64{
		"acc-profit":     22000 - cost - 1500,
		"acc-investment": cost,
		"acc-rent":       1500,
		"acc-remaining":  0,
	}
	for accountID, want := range checks {
		balance, err := svc.GetAccountBalance(ctx, accountID)
		if err != nil {
			t.Fatalf("balance %s failed: %v", accountID, err)
		}
		if balance != want {
			t.Fatalf("account %s: expected balance %d, got %d", accountID, want, balance)
		}
	}
}

func TestDistributeLineStartupSplit(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{SKU: "AMIG-OSO-01", Qty: 1, UnitPriceCents: 25000},
		},
		Payments: []domain.PaymentRequest{
			{Method: domain.PaymentMethodTransfer, AmountCents: 25000, Reference: "TRF-8"},
		},
		TotalCents: 25000,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	_, err = svc.DistributeLine(ctx, domain.DistributeLineRequest{
		SaleID:      sale.Sale.ID,
		LineOrdinal: 0,
		Split: domain.LineSplit{
			ProfitCents:      5000,
			PartnerAccountID: "acc-amigurumi",
			PartnerCents:     20000,
			RentCents:        500,
		},
	})
	if err != nil {
		t.Fatalf("distribute line failed: %v", err)
	}

	checks := map[string]int64{
		"acc-profit":    5000,
		"acc-amigurumi": 20000,
		"acc-rent":      500,
		"acc-remaining": 0,
	}
	for accountID, want := range checks {
		balance, err := svc.GetAccountBalance(ctx, accountID)
		if err != nil {
			t.Fatalf("balance %s failed: %v", accountID, err)
		}
		if balance != want {
			t.Fatalf("account %s: expected balance %d, got %d", accountID, want, balance)
		}
	}
}

func TestDistributeLineRejectsSplitMismatch(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{SKU: "BAS-BUFANDA-01", Qty: 1, UnitPriceCents: 22000},
		},
		Payments: []domain.PaymentRequest{
			{Method: domain.PaymentMethodTransfer, AmountCents: 22000, Reference: "TRF-9"},
		},
		TotalCents: 22000,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	cost := sale.Sale.Lines[0].TotalCostCents

	// Profit not exactly margin minus rent.
	_, err = svc.DistributeLine(ctx, domain.DistributeLineRequest{
		SaleID:      sale.Sale.ID,
		LineOrdinal: 0,
		Split:       domain.LineSplit{ProfitCents: 5000, InvestmentCents: cost},
	})
	if !errors.Is(err, store.ErrSplitMismatch) {
		t.Fatalf("expected ErrSplitMismatch, got %v", err)
	}

	// A partner pair on a house line is malformed.
	_, err = svc.DistributeLine(ctx, domain.DistributeLineRequest{
		SaleID:      sale.Sale.ID,
		LineOrdinal: 0,
		Split: domain.LineSplit{
			ProfitCents:      22000 - cost,
			InvestmentCents:  cost,
			PartnerAccountID: "acc-amigurumi",
			PartnerCents:     100,
		},
	})
	if !errors.Is(err, store.ErrSplitMismatch) {
		t.Fatalf("expected ErrSplitMismatch for partner pair on house line, got %v", err)
	}
}

func TestDistributeRequiresAdminRole(t *testing.T) {
	svc := newTestService()

	_, err := svc.DistributeBatch(cashierCtx(), domain.DistributeBatchRequest{SaleID: "sale-x"})
	if err == nil {
		t.Fatalf("expected distribution to be rejected for cashier role")
	}
}

func TestWithdrawalGates(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{SKU: "BAS-BUFANDA-01", Qty: 2, UnitPriceCents: 22000},
		},
		Payments: []domain.PaymentRequest{
			{Method: domain.PaymentMethodTransfer, AmountCents: 44000, Reference: "TRF-10"},
		},
		TotalCents: 44000,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if _, err := svc.DistributeBatch(ctx, domain.DistributeBatchRequest{SaleID: sale.Sale.ID}); err != nil {
		t.Fatalf("distribute batch failed: %v", err)
	}

	investment, err := svc.GetAccountBalance(ctx, "acc-investment")
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if investment <= 0 {
		t.Fatalf("expected positive investment balance, got %d", investment)
	}

	// Withdrawals are blocked while any drawer is open.
	if _, err := svc.OpenDrawer(ctx, domain.DrawerOpenRequest{InitialBalanceCents: 0}); err != nil {
		t.Fatalf("open drawer failed: %v", err)
	}
	_, err = svc.CreateWithdrawal(ctx, domain.WithdrawalCreateRequest{
		AccountID:   "acc-investment",
		AmountCents: 1000,
	})
	if !errors.Is(err, store.ErrDrawerOpen) {
		t.Fatalf("expected ErrDrawerOpen, got %v", err)
	}
	if _, err := svc.CloseDrawer(ctx, domain.DrawerCloseRequest{}); err != nil {
		t.Fatalf("close drawer failed: %v", err)
	}

	_, err = svc.CreateWithdrawal(ctx, domain.WithdrawalCreateRequest{
		AccountID:   "acc-investment",
		AmountCents: investment + 1,
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	withdrawal, err := svc.CreateWithdrawal(ctx, domain.WithdrawalCreateRequest{
		AccountID:   "acc-investment",
		AmountCents: 1000,
		Description: "yarn restock",
	})
	if err != nil {
		t.Fatalf("create withdrawal failed: %v", err)
	}
	if withdrawal.Status != domain.WithdrawalStatusCompleted {
		t.Fatalf("expected completed withdrawal, got %s", withdrawal.Status)
	}

	after, err := svc.GetAccountBalance(ctx, "acc-investment")
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if after != investment-1000 {
		t.Fatalf("expected balance %d after withdrawal, got %d", investment-1000, after)
	}
}

func TestCancelSaleRestocksInventory(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{SKU: "BAS-GORRO-01", Qty: 3, UnitPriceCents: 15000},
		},
		Payments: []domain.PaymentRequest{
			{Method: domain.PaymentMethodTransfer, AmountCents: 5000, Reference: "TRF-11"},
		},
		TotalCents: 45000,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	cancelled, err := svc.CancelSale(ctx, sale.Sale.ID)
	if err != nil {
		t.Fatalf("cancel sale failed: %v", err)
	}
	if cancelled.Sale.Status != domain.SaleStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", cancelled.Sale.Status)
	}
	if cancelled.Sale.CancelledAt == nil {
		t.Fatalf("expected cancelled_at to be set")
	}

	product, err := svc.GetProduct(ctx, "BAS-GORRO-01")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.StockQty != 20 {
		t.Fatalf("expected stock back to 20 after cancel, got %d", product.StockQty)
	}

	_, err = svc.CancelSale(ctx, sale.Sale.ID)
	if !errors.Is(err, store.ErrSaleCancelled) {
		t.Fatalf("expected ErrSaleCancelled on double cancel, got %v", err)
	}
}

func TestCancelSaleBlockedOnceAccounted(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{SKU: "ACC-LLAVERO-01", Qty: 1, UnitPriceCents: 6000},
		},
		Payments: []domain.PaymentRequest{
			{Method: domain.PaymentMethodTransfer, AmountCents: 6000, Reference: "TRF-12"},
		},
		TotalCents: 6000,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if _, err := svc.DistributeBatch(ctx, domain.DistributeBatchRequest{SaleID: sale.Sale.ID}); err != nil {
		t.Fatalf("distribute batch failed: %v", err)
	}

	_, err = svc.CancelSale(ctx, sale.Sale.ID)
	if !errors.Is(err, store.ErrAlreadyAccounted) {
		t.Fatalf("expected ErrAlreadyAccounted, got %v", err)
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{
		SKU:        "AMIG-CONEJO-01",
		Name:       "Conejo Amigurumi",
		PriceCents: 20000,
	})
	if err == nil {
		t.Fatalf("expected product creation to be rejected for cashier role")
	}

	created, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		SKU:        "amig-conejo-01",
		Name:       "Conejo Amigurumi",
		CategoryID: "cat-amigurumi",
		PriceCents: 20000,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if created.SKU != "AMIG-CONEJO-01" {
		t.Fatalf("expected SKU to be upper-cased, got %s", created.SKU)
	}
}

func TestDailyReportAggregatesSales(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	if _, err := svc.OpenDrawer(ctx, domain.DrawerOpenRequest{InitialBalanceCents: 0}); err != nil {
		t.Fatalf("open drawer failed: %v", err)
	}
	if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{SKU: "ACC-SCRUNCHIE-01", Qty: 2, UnitPriceCents: 3500},
		},
		Payments: []domain.PaymentRequest{
			{Method: domain.PaymentMethodCash, AmountCents: 7000},
		},
		TotalCents: 7000,
	}); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	report, err := svc.DailyReport(ctx, "")
	if err != nil {
		t.Fatalf("daily report failed: %v", err)
	}
	if report.Sales != 1 {
		t.Fatalf("expected 1 sale in report, got %d", report.Sales)
	}
	if report.GrossSalesCents != 7000 {
		t.Fatalf("expected gross 7000, got %d", report.GrossSalesCents)
	}
	if report.ProfitCents != report.GrossSalesCents-report.CostCents {
		t.Fatalf("profit does not reconcile: %d vs %d - %d", report.ProfitCents, report.GrossSalesCents, report.CostCents)
	}
}
