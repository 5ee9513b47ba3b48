package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"crocheteria/backend/internal/allocation"
	"crocheteria/backend/internal/domain"
	"crocheteria/backend/internal/ledger"
	"crocheteria/backend/internal/store"
	"crocheteria/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	categoriesByID  map[string]domain.Category
	lotsBySKU       map[string][]domain.PurchaseLot
	salesByID       map[string]*domain.Sale
	drawersByID     map[string]domain.CashRegister
	openDrawerID    string
	cuts            []domain.CashCut
	accountsByID    map[string]domain.Account
	accountIDByName map[string]string
	accountTxs      []domain.AccountTransaction
	withdrawalsByID map[string]domain.Withdrawal
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()

	accounts := []domain.Account{
		{ID: "acc-investment", Name: domain.AccountInvestment, CreatedAt: now},
		{ID: "acc-profit", Name: domain.AccountProfit, CreatedAt: now},
		{ID: "acc-rent", Name: domain.AccountRent, CreatedAt: now},
		{ID: "acc-remaining", Name: domain.AccountRemainingUtility, CreatedAt: now},
		{ID: "acc-amigurumi", Name: "amigurumi_maker", CategoryID: "cat-amigurumi", CreatedAt: now},
		{ID: "acc-accessories", Name: "accessories_maker", CategoryID: "cat-accessories", CreatedAt: now},
	}

	categories := []domain.Category{
		{ID: "cat-amigurumi", Name: "Amigurumi", Startup: true, CommissionType: domain.CommissionTypePercentage, CommissionPercent: 20, AccountID: "acc-amigurumi", CreatedAt: now},
		{ID: "cat-accessories", Name: "Accesorios", Startup: true, CommissionType: domain.CommissionTypeFixed, CommissionCents: 500, AccountID: "acc-accessories", CreatedAt: now},
		{ID: "cat-basics", Name: "Basicos", CommissionType: domain.CommissionTypeNone, CreatedAt: now},
	}

	products := []domain.Product{
		{SKU: "AMIG-OSO-01", Name: "Osito Amigurumi", CategoryID: "cat-amigurumi", PriceCents: 25000, Active: true, CreatedAt: now},
		{SKU: "AMIG-PULPO-01", Name: "Pulpito Amigurumi", CategoryID: "cat-amigurumi", PriceCents: 18000, Active: true, CreatedAt: now},
		{SKU: "ACC-LLAVERO-01", Name: "Llavero Tejido", CategoryID: "cat-accessories", PriceCents: 6000, Active: true, CreatedAt: now},
		{SKU: "ACC-SCRUNCHIE-01", Name: "Scrunchie", CategoryID: "cat-accessories", PriceCents: 3500, Active: true, CreatedAt: now},
		{SKU: "BAS-GORRO-01", Name: "Gorro Basico", CategoryID: "cat-basics", PriceCents: 15000, Active: true, CreatedAt: now},
		{SKU: "BAS-BUFANDA-01", Name: "Bufanda Basica", CategoryID: "cat-basics", PriceCents: 22000, Active: true, CreatedAt: now},
	}

	productMap := make(map[string]domain.Product, len(products))
	lots := make(map[string][]domain.PurchaseLot, len(products))
	for i, p := range products {
		p.StockQty = 20
		productMap[p.SKU] = p
		lots[p.SKU] = []domain.PurchaseLot{{
			ID:            fmt.Sprintf("lot-seed-%d", i),
			SKU:           p.SKU,
			UnitCostCents: p.PriceCents / 3,
			QtyReceived:   20,
			QtyAvailable:  20,
			Active:        true,
			Notes:         "seed",
			ReceivedAt:    now,
		}}
	}

	accountMap := make(map[string]domain.Account, len(accounts))
	accountNames := make(map[string]string, len(accounts))
	for _, a := range accounts {
		accountMap[a.ID] = a
		accountNames[a.Name] = a.ID
	}

	categoryMap := make(map[string]domain.Category, len(categories))
	for _, c := range categories {
		categoryMap[c.ID] = c
	}

	return &Store{
		products:        productMap,
		categoriesByID:  categoryMap,
		lotsBySKU:       lots,
		salesByID:       make(map[string]*domain.Sale),
		drawersByID:     make(map[string]domain.CashRegister),
		cuts:            make([]domain.CashCut, 0, 16),
		accountsByID:    accountMap,
		accountIDByName: accountNames,
		accountTxs:      make([]domain.AccountTransaction, 0, 128),
		withdrawalsByID: make(map[string]domain.Withdrawal),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func (s *Store) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active && !includeInactive {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.CategoryID == b.CategoryID {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.CategoryID, b.CategoryID)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidRequest
	}
	if product.CategoryID != "" {
		if _, exists := s.categoriesByID[product.CategoryID]; !exists {
			return nil, store.ErrNotFound
		}
	}
	if _, exists := s.products[product.SKU]; exists {
		return nil, store.ErrInvalidRequest
	}

	product.Active = true
	product.StockQty = 0
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.products[product.SKU] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[sku]
	if !exists {
		return nil, store.ErrProductNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidRequest
	}
	existing, exists := s.products[product.SKU]
	if !exists {
		return nil, store.ErrProductNotFound
	}

	// Stock is owned by lot operations, never by product updates.
	product.StockQty = existing.StockQty
	product.CreatedAt = existing.CreatedAt
	s.products[product.SKU] = product
	updated := product
	return &updated, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if category.Name == "" {
		return nil, store.ErrInvalidRequest
	}
	switch category.CommissionType {
	case domain.CommissionTypePercentage:
		if category.CommissionPercent < 0 || category.CommissionPercent > 100 {
			return nil, store.ErrInvalidRequest
		}
	case domain.CommissionTypeFixed:
		if category.CommissionCents < 0 {
			return nil, store.ErrInvalidRequest
		}
	case domain.CommissionTypeNone, "":
		category.CommissionType = domain.CommissionTypeNone
	default:
		return nil, store.ErrInvalidRequest
	}
	if category.AccountID != "" {
		if _, exists := s.accountsByID[category.AccountID]; !exists {
			return nil, store.ErrNotFound
		}
	}

	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	s.categoriesByID[category.ID] = category
	created := category
	return &created, nil
}

func (s *Store) GetCategoryByID(_ context.Context, id string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	category, exists := s.categoriesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCategory := category
	return &copyCategory, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categoriesByID))
	for _, c := range s.categoriesByID {
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		return cmpString(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) CreateLot(_ context.Context, lot domain.PurchaseLot) (*domain.PurchaseLot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lot.SKU == "" || lot.QtyReceived < 1 || lot.UnitCostCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	product, exists := s.products[lot.SKU]
	if !exists {
		return nil, store.ErrProductNotFound
	}

	if lot.ID == "" {
		lot.ID = xid.New("lot")
	}
	if lot.ReceivedAt.IsZero() {
		lot.ReceivedAt = time.Now().UTC()
	}
	lot.QtyAvailable = lot.QtyReceived
	lot.Active = true

	s.lotsBySKU[lot.SKU] = append(s.lotsBySKU[lot.SKU], lot)
	product.StockQty += lot.QtyReceived
	s.products[lot.SKU] = product

	created := lot
	return &created, nil
}

func (s *Store) ListLots(_ context.Context, sku string, includeEmpty bool, limit int) ([]domain.PurchaseLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lots := s.lotsBySKU[sku]
	result := make([]domain.PurchaseLot, 0, len(lots))
	for _, lot := range lots {
		if !includeEmpty && (lot.QtyAvailable < 1 || !lot.Active) {
			continue
		}
		result = append(result, lot)
	}
	slices.SortFunc(result, compareLotFIFO)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale, payments []domain.Payment) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Lines) == 0 {
		return nil, store.ErrInvalidSale
	}

	now := time.Now().UTC()
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}

	total := int64(0)
	for i := range sale.Lines {
		line := &sale.Lines[i]
		if line.Qty < 1 || line.UnitPriceCents < 0 {
			return nil, store.ErrInvalidSale
		}
		product, exists := s.products[line.SKU]
		if !exists || !product.Active {
			return nil, store.ErrProductNotFound
		}
		line.Name = product.Name
		line.CategoryID = product.CategoryID
		total += int64(line.Qty) * line.UnitPriceCents
	}
	sale.TotalCents = total

	paid := int64(0)
	for _, p := range payments {
		if p.AmountCents < 1 || !validPaymentMethod(p.Method) {
			return nil, store.ErrInvalidSale
		}
		paid += p.AmountCents
	}

	// Plan all allocations against working copies of stock and lot
	// availability. Each line sees what the lines before it consumed, and a
	// failure on any line returns before anything is mutated.
	stockLeft := make(map[string]int, len(sale.Lines))
	lotsLeft := make(map[string][]domain.PurchaseLot, len(sale.Lines))
	plans := make([]allocation.Plan, len(sale.Lines))
	for i, line := range sale.Lines {
		if _, seen := stockLeft[line.SKU]; !seen {
			stockLeft[line.SKU] = s.products[line.SKU].StockQty
			lotsLeft[line.SKU] = slices.Clone(s.lotsBySKU[line.SKU])
		}
		if stockLeft[line.SKU] < line.Qty {
			return nil, store.ErrInsufficientStock
		}
		plan, err := allocation.Allocate(lotsLeft[line.SKU], line.Qty)
		if err != nil {
			// Aggregate stock said yes but the lots cannot cover it.
			return nil, store.ErrInventoryConsistency
		}
		plans[i] = plan
		stockLeft[line.SKU] -= line.Qty
		lots := lotsLeft[line.SKU]
		for _, use := range plan.Uses {
			for j := range lots {
				if lots[j].ID == use.LotID {
					lots[j].QtyAvailable -= use.Qty
				}
			}
		}
		lotsLeft[line.SKU] = lots
	}

	// A requested line that straddles lots persists as one sale line per lot
	// touched, each carrying that lot's exact unit cost.
	expanded := make([]domain.SaleLine, 0, len(sale.Lines))
	for i, req := range sale.Lines {
		for _, use := range plans[i].Uses {
			expanded = append(expanded, domain.SaleLine{
				Ordinal:        len(expanded),
				SKU:            req.SKU,
				Name:           req.Name,
				CategoryID:     req.CategoryID,
				Qty:            use.Qty,
				UnitPriceCents: req.UnitPriceCents,
				TotalCents:     int64(use.Qty) * req.UnitPriceCents,
				UnitCostCents:  use.UnitCostCents,
				TotalCostCents: int64(use.Qty) * use.UnitCostCents,
			})
		}
	}
	sale.Lines = expanded

	for sku, lots := range lotsLeft {
		s.lotsBySKU[sku] = lots
		product := s.products[sku]
		product.StockQty = stockLeft[sku]
		s.products[sku] = product
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	sale.Payments = make([]domain.Payment, 0, len(payments))
	for _, p := range payments {
		if p.ID == "" {
			p.ID = xid.New("pay")
		}
		p.SaleID = sale.ID
		if p.PaidAt.IsZero() {
			p.PaidAt = now
		}
		// Cash lands in the open drawer when there is one; without a drawer
		// the payment is still recorded, just with no session reference.
		if p.Method == domain.PaymentMethodCash && s.openDrawerID != "" {
			p.DrawerID = s.openDrawerID
			drawer := s.drawersByID[s.openDrawerID]
			drawer.CurrentBalanceCents += p.AmountCents
			s.drawersByID[s.openDrawerID] = drawer
		}
		sale.Payments = append(sale.Payments, p)
	}

	sale.PaidCents = paid
	if paid >= total {
		sale.Status = domain.SaleStatusPaid
	} else {
		sale.Status = domain.SaleStatusPending
	}

	saved := cloneSale(&sale)
	s.salesByID[sale.ID] = saved
	return cloneSale(saved), nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 32)
	for _, sale := range s.salesByID {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		result = append(result, *cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) AddPayment(_ context.Context, saleID string, payment domain.Payment) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Status == domain.SaleStatusCancelled {
		return nil, store.ErrSaleCancelled
	}
	if payment.AmountCents < 1 || !validPaymentMethod(payment.Method) {
		return nil, store.ErrInvalidSale
	}
	if sale.PaidCents+payment.AmountCents > sale.TotalCents {
		return nil, store.ErrPaymentsExceedTotal
	}

	if payment.Method == domain.PaymentMethodCash && s.openDrawerID != "" {
		payment.DrawerID = s.openDrawerID
		drawer := s.drawersByID[s.openDrawerID]
		drawer.CurrentBalanceCents += payment.AmountCents
		s.drawersByID[s.openDrawerID] = drawer
	}

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	payment.SaleID = saleID
	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}

	sale.Payments = append(sale.Payments, payment)
	sale.PaidCents += payment.AmountCents
	if sale.PaidCents >= sale.TotalCents {
		sale.Status = domain.SaleStatusPaid
	}
	return cloneSale(sale), nil
}

func (s *Store) CancelSale(_ context.Context, saleID string, actor string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Status == domain.SaleStatusCancelled {
		return nil, store.ErrSaleCancelled
	}
	for _, line := range sale.Lines {
		if line.Accounted {
			return nil, store.ErrAlreadyAccounted
		}
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	for _, line := range sale.Lines {
		product, exists := s.products[line.SKU]
		if !exists {
			continue
		}
		product.StockQty += line.Qty
		s.products[line.SKU] = product
		lot := domain.PurchaseLot{
			ID:            xid.New("lot"),
			SKU:           line.SKU,
			UnitCostCents: line.UnitCostCents,
			QtyReceived:   line.Qty,
			QtyAvailable:  line.Qty,
			Active:        true,
			Notes:         "restock from cancelled sale " + sale.ID,
			ReceivedAt:    at,
		}
		s.lotsBySKU[line.SKU] = append(s.lotsBySKU[line.SKU], lot)
	}

	cashPaid := int64(0)
	for _, p := range sale.Payments {
		if p.Method == domain.PaymentMethodCash {
			cashPaid += p.AmountCents
		}
	}
	if cashPaid > 0 {
		if s.openDrawerID == "" {
			log.Printf("[memory-store] WARN: cancelling sale %s with %d cash cents and no open drawer; cash not returned through a drawer", sale.ID, cashPaid)
		} else {
			drawer := s.drawersByID[s.openDrawerID]
			debit := cashPaid
			if debit > drawer.CurrentBalanceCents {
				log.Printf("[memory-store] WARN: drawer %s balance %d cannot cover %d refund for sale %s; clamping", drawer.ID, drawer.CurrentBalanceCents, cashPaid, sale.ID)
				debit = drawer.CurrentBalanceCents
			}
			drawer.CurrentBalanceCents -= debit
			s.drawersByID[s.openDrawerID] = drawer
		}
	}

	sale.Status = domain.SaleStatusCancelled
	sale.CancelledAt = &at
	return cloneSale(sale), nil
}

func (s *Store) OpenDrawer(_ context.Context, drawer domain.CashRegister) (*domain.CashRegister, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openDrawerLocked(drawer)
}

func (s *Store) openDrawerLocked(drawer domain.CashRegister) (*domain.CashRegister, error) {
	if drawer.InitialBalanceCents < 0 || strings.TrimSpace(drawer.OpenedBy) == "" {
		return nil, store.ErrInvalidRequest
	}
	if s.openDrawerID != "" {
		return nil, store.ErrDrawerAlreadyOpen
	}

	if drawer.ID == "" {
		drawer.ID = xid.New("drw")
	}
	if drawer.OpenedAt.IsZero() {
		drawer.OpenedAt = time.Now().UTC()
	}
	drawer.Status = domain.DrawerStatusOpen
	drawer.CurrentBalanceCents = drawer.InitialBalanceCents
	drawer.ClosedAt = nil
	drawer.ClosedBy = ""

	s.drawersByID[drawer.ID] = drawer
	s.openDrawerID = drawer.ID
	copyDrawer := drawer
	return &copyDrawer, nil
}

func (s *Store) CloseDrawer(_ context.Context, closedBy string, notes string, at time.Time) (*domain.CashRegister, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeDrawerLocked(closedBy, notes, at)
}

func (s *Store) closeDrawerLocked(closedBy string, notes string, at time.Time) (*domain.CashRegister, error) {
	if s.openDrawerID == "" {
		return nil, store.ErrNoDrawerOpen
	}
	drawer := s.drawersByID[s.openDrawerID]
	if at.IsZero() {
		at = time.Now().UTC()
	}
	drawer.Status = domain.DrawerStatusClosed
	drawer.ClosedBy = closedBy
	drawer.ClosedAt = &at
	if notes != "" {
		drawer.Notes = notes
	}

	s.drawersByID[drawer.ID] = drawer
	s.openDrawerID = ""
	copyDrawer := drawer
	return &copyDrawer, nil
}

func (s *Store) CutDrawer(_ context.Context, newInitialCents int64, operator string, at time.Time) (*domain.CashCut, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if newInitialCents < 0 || strings.TrimSpace(operator) == "" {
		return nil, store.ErrInvalidRequest
	}
	if s.openDrawerID == "" {
		return nil, store.ErrNoDrawerOpen
	}
	current := s.drawersByID[s.openDrawerID]
	extracted := current.CurrentBalanceCents - newInitialCents
	if extracted < 0 {
		return nil, store.ErrInsufficientFunds
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	closed, err := s.closeDrawerLocked(operator, "cash cut", at)
	if err != nil {
		return nil, err
	}
	opened, err := s.openDrawerLocked(domain.CashRegister{
		InitialBalanceCents: newInitialCents,
		OpenedBy:            operator,
		OpenedAt:            at,
	})
	if err != nil {
		return nil, err
	}

	cut := domain.CashCut{
		ID:                 xid.New("cut"),
		DrawerID:           closed.ID,
		NewDrawerID:        opened.ID,
		BalanceBeforeCents: closed.CurrentBalanceCents,
		BalanceAfterCents:  newInitialCents,
		ExtractedCents:     extracted,
		Operator:           operator,
		CreatedAt:          at,
	}
	s.cuts = append(s.cuts, cut)
	copyCut := cut
	return &copyCut, nil
}

func (s *Store) GetOpenDrawer(_ context.Context) (*domain.CashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.openDrawerID == "" {
		return nil, store.ErrNoDrawerOpen
	}
	drawer := s.drawersByID[s.openDrawerID]
	copyDrawer := drawer
	return &copyDrawer, nil
}

func (s *Store) ListDrawers(_ context.Context, limit int) ([]domain.CashRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	drawers := make([]domain.CashRegister, 0, len(s.drawersByID))
	for _, d := range s.drawersByID {
		drawers = append(drawers, d)
	}
	slices.SortFunc(drawers, func(a, b domain.CashRegister) int {
		if a.OpenedAt.Equal(b.OpenedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.OpenedAt.After(b.OpenedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(drawers) > limit {
		drawers = drawers[:limit]
	}
	return drawers, nil
}

func (s *Store) ListCuts(_ context.Context, limit int) ([]domain.CashCut, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CashCut, len(s.cuts))
	copy(result, s.cuts)
	slices.SortFunc(result, func(a, b domain.CashCut) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateAccount(_ context.Context, account domain.Account) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := strings.TrimSpace(account.Name)
	if name == "" {
		return nil, store.ErrInvalidRequest
	}
	if _, exists := s.accountIDByName[name]; exists {
		return nil, store.ErrInvalidRequest
	}
	if account.CategoryID != "" {
		if _, exists := s.categoriesByID[account.CategoryID]; !exists {
			return nil, store.ErrNotFound
		}
	}

	account.Name = name
	if account.ID == "" {
		account.ID = xid.New("acc")
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	account.BalanceCents = 0

	s.accountsByID[account.ID] = account
	s.accountIDByName[account.Name] = account.ID
	created := account
	return &created, nil
}

func (s *Store) GetAccountByID(_ context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accountsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyAccount := account
	return &copyAccount, nil
}

func (s *Store) GetAccountByName(_ context.Context, name string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.accountIDByName[strings.TrimSpace(name)]
	if !exists {
		return nil, store.ErrNotFound
	}
	account := s.accountsByID[id]
	copyAccount := account
	return &copyAccount, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]domain.Account, 0, len(s.accountsByID))
	for _, a := range s.accountsByID {
		accounts = append(accounts, a)
	}
	slices.SortFunc(accounts, func(a, b domain.Account) int {
		return cmpString(a.Name, b.Name)
	})
	return accounts, nil
}

func (s *Store) ListAccountTransactions(_ context.Context, accountID string, limit int) ([]domain.AccountTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AccountTransaction, 0, 64)
	for _, tx := range s.accountTxs {
		if accountID != "" && tx.AccountID != accountID {
			continue
		}
		result = append(result, tx)
	}
	slices.SortFunc(result, func(a, b domain.AccountTransaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// postTxLocked appends a ledger entry and moves the cached account balance in
// the same step so the balance always equals credits minus debits.
func (s *Store) postTxLocked(tx domain.AccountTransaction) (domain.AccountTransaction, error) {
	account, exists := s.accountsByID[tx.AccountID]
	if !exists {
		return domain.AccountTransaction{}, store.ErrNotFound
	}
	if tx.AmountCents < 1 {
		return domain.AccountTransaction{}, store.ErrInvalidRequest
	}
	switch tx.Type {
	case domain.AccountTxCredit:
		account.BalanceCents += tx.AmountCents
	case domain.AccountTxDebit:
		if account.BalanceCents < tx.AmountCents {
			return domain.AccountTransaction{}, store.ErrInsufficientFunds
		}
		account.BalanceCents -= tx.AmountCents
	default:
		return domain.AccountTransaction{}, store.ErrInvalidRequest
	}

	if tx.ID == "" {
		tx.ID = xid.New("atx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	s.accountsByID[tx.AccountID] = account
	s.accountTxs = append(s.accountTxs, tx)
	return tx, nil
}

func (s *Store) standardAccountsLocked() (map[string]string, error) {
	ids := make(map[string]string, 4)
	for _, name := range []string{
		domain.AccountInvestment,
		domain.AccountProfit,
		domain.AccountRent,
		domain.AccountRemainingUtility,
	} {
		id, exists := s.accountIDByName[name]
		if !exists {
			return nil, store.ErrStandardAccountsMissing
		}
		ids[name] = id
	}
	return ids, nil
}

// splitLeg is one credit posted while accounting a line.
type splitLeg struct {
	accountID string
	amount    int64
	desc      string
}

// partnerAccountLocked resolves the account a startup line's maker share
// lands in: the category's own account when it has one, the shared profit
// account otherwise.
func (s *Store) partnerAccountLocked(categoryID string, standard map[string]string) string {
	if categoryID != "" {
		if cat, exists := s.categoriesByID[categoryID]; exists && cat.AccountID != "" {
			if _, ok := s.accountsByID[cat.AccountID]; ok {
				return cat.AccountID
			}
		}
	}
	return standard[domain.AccountProfit]
}

// DistributeLine accounts one line from a caller-computed split. Startup
// lines post profit, a partner share, and optional rent; house lines post
// profit, cost recovery into investment, and optional rent. Neither shape
// touches remaining_utility, that leg belongs to batch distribution.
func (s *Store) DistributeLine(_ context.Context, saleID string, lineOrdinal int, split domain.LineSplit, actor string) ([]domain.AccountTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Status == domain.SaleStatusCancelled {
		return nil, store.ErrSaleCancelled
	}

	var line *domain.SaleLine
	for i := range sale.Lines {
		if sale.Lines[i].Ordinal == lineOrdinal {
			line = &sale.Lines[i]
			break
		}
	}
	if line == nil {
		return nil, store.ErrNotFound
	}
	if line.Accounted {
		return nil, store.ErrAlreadyAccounted
	}
	if split.ProfitCents < 0 || split.InvestmentCents < 0 || split.RentCents < 0 || split.PartnerCents < 0 {
		return nil, store.ErrSplitMismatch
	}

	startup := false
	if line.CategoryID != "" {
		if cat, exists := s.categoriesByID[line.CategoryID]; exists {
			startup = cat.Startup
		}
	}

	standard, err := s.standardAccountsLocked()
	if err != nil {
		return nil, err
	}

	legs := make([]splitLeg, 0, 3)
	if startup {
		if split.PartnerAccountID == "" || split.InvestmentCents != 0 {
			return nil, store.ErrSplitMismatch
		}
		if _, exists := s.accountsByID[split.PartnerAccountID]; !exists {
			return nil, store.ErrNotFound
		}
		if split.RentCents > split.ProfitCents {
			return nil, store.ErrSplitMismatch
		}
		if split.ProfitCents+split.PartnerCents != line.TotalCents {
			return nil, store.ErrSplitMismatch
		}
		legs = append(legs,
			splitLeg{standard[domain.AccountProfit], split.ProfitCents, "commission profit"},
			splitLeg{split.PartnerAccountID, split.PartnerCents, "maker share"},
			splitLeg{standard[domain.AccountRent], split.RentCents, "rent share"},
		)
	} else {
		if split.PartnerAccountID != "" || split.PartnerCents != 0 {
			return nil, store.ErrSplitMismatch
		}
		potential := line.TotalCents - line.TotalCostCents
		if split.RentCents > potential {
			return nil, store.ErrSplitMismatch
		}
		if split.ProfitCents != potential-split.RentCents {
			return nil, store.ErrSplitMismatch
		}
		if split.InvestmentCents != line.TotalCostCents {
			return nil, store.ErrSplitMismatch
		}
		legs = append(legs,
			splitLeg{standard[domain.AccountProfit], split.ProfitCents, "profit"},
			splitLeg{standard[domain.AccountInvestment], split.InvestmentCents, "cost recovery"},
			splitLeg{standard[domain.AccountRent], split.RentCents, "rent share"},
		)
	}

	txs, err := s.postSplitLocked(sale.ID, line, legs, actor)
	if err != nil {
		return nil, err
	}
	line.RentCents = split.RentCents
	line.Accounted = true
	return txs, nil
}

func (s *Store) postSplitLocked(saleID string, line *domain.SaleLine, legs []splitLeg, actor string) ([]domain.AccountTransaction, error) {
	ordinal := line.Ordinal
	now := time.Now().UTC()
	txs := make([]domain.AccountTransaction, 0, len(legs))
	for _, leg := range legs {
		if leg.amount == 0 {
			continue
		}
		tx, err := s.postTxLocked(domain.AccountTransaction{
			AccountID:   leg.accountID,
			Type:        domain.AccountTxCredit,
			AmountCents: leg.amount,
			SaleID:      saleID,
			LineOrdinal: &ordinal,
			Description: leg.desc + " for " + line.SKU,
			Actor:       actor,
			CreatedAt:   now,
		})
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// DistributeBatch accounts every line of a sale with engine-computed splits.
// Rents maps line ordinals to the rent carved out of each line's profit;
// ordinals absent from the map take zero rent.
func (s *Store) DistributeBatch(_ context.Context, saleID string, rents map[int]int64, actor string) (*domain.DistributeBatchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Status == domain.SaleStatusCancelled {
		return nil, store.ErrSaleCancelled
	}
	standard, err := s.standardAccountsLocked()
	if err != nil {
		return nil, err
	}

	// Compute every split before posting any so a failure on one line
	// leaves the whole batch untouched.
	type pending struct {
		line  *domain.SaleLine
		split ledger.Split
	}
	work := make([]pending, 0, len(sale.Lines))
	for i := range sale.Lines {
		line := &sale.Lines[i]
		if line.Accounted {
			return nil, store.ErrAlreadyAccounted
		}
		var cat *domain.Category
		if line.CategoryID != "" {
			if c, exists := s.categoriesByID[line.CategoryID]; exists {
				catCopy := c
				cat = &catCopy
			}
		}
		split, err := ledger.ComputeSplit(*line, ledger.RuleForCategory(cat), rents[line.Ordinal])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %s", store.ErrSplitMismatch, line.Ordinal, err)
		}
		work = append(work, pending{line: line, split: split})
	}

	for _, w := range work {
		legs := make([]splitLeg, 0, 4)
		legs = append(legs, splitLeg{standard[domain.AccountProfit], w.split.ProfitCents, "profit"})
		if w.split.Startup {
			partner := w.split.PartnerAccountID
			if partner == "" {
				partner = s.partnerAccountLocked(w.line.CategoryID, standard)
			}
			legs = append(legs, splitLeg{partner, w.split.PartnerCents, "maker share"})
		} else {
			legs = append(legs, splitLeg{standard[domain.AccountInvestment], w.split.InvestmentCents, "cost recovery"})
		}
		legs = append(legs,
			splitLeg{standard[domain.AccountRent], w.split.RentCents, "rent share"},
			splitLeg{standard[domain.AccountRemainingUtility], w.split.RemainingCents, "remaining utility"},
		)
		if _, err := s.postSplitLocked(sale.ID, w.line, legs, actor); err != nil {
			return nil, err
		}
		w.line.RentCents = w.split.RentCents
		w.line.Accounted = true
	}

	return &domain.DistributeBatchResponse{
		SaleID:         sale.ID,
		LinesAccounted: len(work),
	}, nil
}

func (s *Store) CreateWithdrawal(_ context.Context, withdrawal domain.Withdrawal) (*domain.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if withdrawal.AmountCents < 1 || strings.TrimSpace(withdrawal.Actor) == "" {
		return nil, store.ErrInvalidRequest
	}
	if s.openDrawerID != "" {
		return nil, store.ErrDrawerOpen
	}
	account, exists := s.accountsByID[withdrawal.AccountID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if account.BalanceCents < withdrawal.AmountCents {
		return nil, store.ErrInsufficientFunds
	}

	if withdrawal.ID == "" {
		withdrawal.ID = xid.New("wdr")
	}
	if withdrawal.CreatedAt.IsZero() {
		withdrawal.CreatedAt = time.Now().UTC()
	}
	withdrawal.Status = domain.WithdrawalStatusCompleted

	if _, err := s.postTxLocked(domain.AccountTransaction{
		AccountID:    withdrawal.AccountID,
		Type:         domain.AccountTxDebit,
		AmountCents:  withdrawal.AmountCents,
		WithdrawalID: withdrawal.ID,
		Description:  withdrawal.Description,
		Actor:        withdrawal.Actor,
		CreatedAt:    withdrawal.CreatedAt,
	}); err != nil {
		return nil, err
	}

	s.withdrawalsByID[withdrawal.ID] = withdrawal
	created := withdrawal
	return &created, nil
}

func (s *Store) ListWithdrawals(_ context.Context, accountID string, limit int) ([]domain.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Withdrawal, 0, len(s.withdrawalsByID))
	for _, w := range s.withdrawalsByID {
		if accountID != "" && w.AccountID != accountID {
			continue
		}
		result = append(result, w)
	}
	slices.SortFunc(result, func(a, b domain.Withdrawal) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetDailyReport(_ context.Context, from time.Time, to time.Time) (domain.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.DailyReport{
		Date:      from.UTC().Format("2006-01-02"),
		ByPayment: make([]domain.DailyReportPayment, 0, 3),
	}
	byPayment := map[string]*domain.DailyReportPayment{}

	for _, sale := range s.salesByID {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		if sale.Status == domain.SaleStatusCancelled {
			continue
		}

		report.Sales++
		report.GrossSalesCents += sale.TotalCents
		for _, line := range sale.Lines {
			report.CostCents += line.TotalCostCents
		}

		for _, p := range sale.Payments {
			entry := byPayment[p.Method]
			if entry == nil {
				entry = &domain.DailyReportPayment{Method: p.Method}
				byPayment[p.Method] = entry
			}
			entry.Sales++
			entry.TotalCents += p.AmountCents
		}
	}
	report.ProfitCents = report.GrossSalesCents - report.CostCents

	for _, entry := range byPayment {
		report.ByPayment = append(report.ByPayment, *entry)
	}
	slices.SortFunc(report.ByPayment, func(a, b domain.DailyReportPayment) int {
		return cmpString(a.Method, b.Method)
	})

	return report, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidRequest
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrUserNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func validPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodTransfer, domain.PaymentMethodCard:
		return true
	}
	return false
}

func compareLotFIFO(a domain.PurchaseLot, b domain.PurchaseLot) int {
	if a.ReceivedAt.Before(b.ReceivedAt) {
		return -1
	}
	if a.ReceivedAt.After(b.ReceivedAt) {
		return 1
	}
	return cmpString(a.ID, b.ID)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dupLines := make([]domain.SaleLine, len(src.Lines))
	copy(dupLines, src.Lines)
	dup.Lines = dupLines
	dupPayments := make([]domain.Payment, len(src.Payments))
	copy(dupPayments, src.Payments)
	dup.Payments = dupPayments
	if src.CancelledAt != nil {
		at := src.CancelledAt.UTC()
		dup.CancelledAt = &at
	}
	return &dup
}
