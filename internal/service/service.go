package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"crocheteria/backend/internal/cache"
	"crocheteria/backend/internal/domain"
	"crocheteria/backend/internal/store"
	"crocheteria/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo       store.Repository
	balances   cache.BalanceCache
	balanceTTL time.Duration
}

func New(repo store.Repository, balances cache.BalanceCache, balanceTTL time.Duration) *Service {
	if balances == nil {
		balances = cache.NoopBalanceCache{}
	}
	if balanceTTL <= 0 {
		balanceTTL = 30 * time.Second
	}

	return &Service{
		repo:       repo,
		balances:   balances,
		balanceTTL: balanceTTL,
	}
}

func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, includeInactive)
}

func (s *Service) GetProduct(ctx context.Context, sku string) (domain.Product, error) {
	sku = strings.ToUpper(strings.TrimSpace(sku))
	if sku == "" {
		return domain.Product{}, store.ErrInvalidRequest
	}
	product, err := s.repo.GetProductBySKU(ctx, sku)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.CategoryID = strings.TrimSpace(req.CategoryID)

	if req.SKU == "" || req.Name == "" {
		return domain.Product{}, store.ErrInvalidRequest
	}
	if req.PriceCents < 1 {
		return domain.Product{}, store.ErrInvalidRequest
	}
	if req.CategoryID != "" {
		if _, err := s.repo.GetCategoryByID(ctx, req.CategoryID); err != nil {
			return domain.Product{}, err
		}
	}

	product := domain.Product{
		SKU:        req.SKU,
		Name:       req.Name,
		CategoryID: req.CategoryID,
		PriceCents: req.PriceCents,
		Active:     true,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.SKU, fmt.Sprintf("name=%s,price=%d", created.Name, created.PriceCents))

	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, sku string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	sku = strings.ToUpper(strings.TrimSpace(sku))
	if sku == "" {
		return domain.Product{}, store.ErrInvalidRequest
	}

	existing, err := s.repo.GetProductBySKU(ctx, sku)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidRequest
		}
		updated.Name = name
	}
	if req.CategoryID != nil {
		categoryID := strings.TrimSpace(*req.CategoryID)
		if categoryID != "" {
			if _, err := s.repo.GetCategoryByID(ctx, categoryID); err != nil {
				return domain.Product{}, err
			}
		}
		updated.CategoryID = categoryID
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return domain.Product{}, store.ErrInvalidRequest
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", saved.SKU, fmt.Sprintf("name=%s,price=%d,active=%t", saved.Name, saved.PriceCents, saved.Active))

	return *saved, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (domain.Category, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Category{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.Name == "" {
		return domain.Category{}, store.ErrInvalidRequest
	}
	if req.CommissionType == "" {
		req.CommissionType = domain.CommissionTypeNone
	}

	switch req.CommissionType {
	case domain.CommissionTypePercentage:
		if req.CommissionPercent <= 0 || req.CommissionPercent > 100 {
			return domain.Category{}, store.ErrInvalidRequest
		}
	case domain.CommissionTypeFixed:
		if req.CommissionCents < 1 {
			return domain.Category{}, store.ErrInvalidRequest
		}
	case domain.CommissionTypeNone:
	default:
		return domain.Category{}, store.ErrInvalidRequest
	}

	if req.AccountID != "" {
		if _, err := s.repo.GetAccountByID(ctx, req.AccountID); err != nil {
			return domain.Category{}, err
		}
	}

	category := domain.Category{
		ID:                xid.New("cat"),
		Name:              req.Name,
		Startup:           req.Startup,
		CommissionType:    req.CommissionType,
		CommissionPercent: req.CommissionPercent,
		CommissionCents:   req.CommissionCents,
		AccountID:         req.AccountID,
		CreatedAt:         time.Now().UTC(),
	}

	created, err := s.repo.CreateCategory(ctx, category)
	if err != nil {
		return domain.Category{}, err
	}

	s.logAudit(ctx, "category_create", "category", created.ID, fmt.Sprintf("name=%s,commission=%s", created.Name, created.CommissionType))

	return *created, nil
}

func (s *Service) ReceiveLot(ctx context.Context, req domain.LotReceiveRequest) (domain.PurchaseLot, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.PurchaseLot{}, fmt.Errorf("admin role required")
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Notes = strings.TrimSpace(req.Notes)
	if req.SKU == "" || req.Qty < 1 || req.UnitCostCents < 0 {
		return domain.PurchaseLot{}, store.ErrInvalidRequest
	}

	if _, err := s.repo.GetProductBySKU(ctx, req.SKU); err != nil {
		return domain.PurchaseLot{}, err
	}

	lot := domain.PurchaseLot{
		ID:            xid.New("lot"),
		SKU:           req.SKU,
		UnitCostCents: req.UnitCostCents,
		QtyReceived:   req.Qty,
		QtyAvailable:  req.Qty,
		Active:        true,
		Notes:         req.Notes,
		ReceivedAt:    time.Now().UTC(),
	}

	created, err := s.repo.CreateLot(ctx, lot)
	if err != nil {
		return domain.PurchaseLot{}, err
	}

	s.logAudit(ctx, "lot_receive", "lot", created.ID, fmt.Sprintf("sku=%s,qty=%d,unit_cost=%d", created.SKU, created.QtyReceived, created.UnitCostCents))

	return *created, nil
}

func (s *Service) ListLots(ctx context.Context, sku string, includeEmpty bool, limit int) (domain.LotListResponse, error) {
	sku = strings.ToUpper(strings.TrimSpace(sku))
	if sku == "" {
		return domain.LotListResponse{}, store.ErrInvalidRequest
	}
	if limit < 1 {
		limit = 100
	}

	lots, err := s.repo.ListLots(ctx, sku, includeEmpty, limit)
	if err != nil {
		return domain.LotListResponse{}, err
	}
	return domain.LotListResponse{Lots: lots}, nil
}

func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SaleResponse{}, fmt.Errorf("authenticated actor required")
	}

	if len(req.Lines) == 0 {
		return domain.SaleResponse{}, store.ErrInvalidSale
	}
	if len(req.Payments) == 0 {
		return domain.SaleResponse{}, store.ErrNoPayments
	}

	lines := make([]domain.SaleLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		sku := strings.ToUpper(strings.TrimSpace(line.SKU))
		if sku == "" || line.Qty < 1 || line.UnitPriceCents < 0 {
			return domain.SaleResponse{}, store.ErrInvalidSale
		}
		lines = append(lines, domain.SaleLine{
			SKU:            sku,
			Qty:            line.Qty,
			UnitPriceCents: line.UnitPriceCents,
		})
	}

	// The store recomputes the authoritative total from the lines; the
	// client-declared total only caps what the payments may add up to.
	paid := int64(0)
	payments := make([]domain.Payment, 0, len(req.Payments))
	for _, p := range req.Payments {
		if p.AmountCents < 1 {
			return domain.SaleResponse{}, store.ErrInvalidSale
		}
		paid += p.AmountCents
		payments = append(payments, domain.Payment{
			Method:       p.Method,
			AmountCents:  p.AmountCents,
			Reference:    strings.TrimSpace(p.Reference),
			RegisteredBy: actor.Username,
		})
	}
	if paid > req.TotalCents {
		return domain.SaleResponse{}, store.ErrPaymentsExceedTotal
	}

	sale := domain.Sale{
		ID:        xid.New("sale"),
		Buyer:     strings.TrimSpace(req.Buyer),
		Lines:     lines,
		CreatedBy: actor.Username,
		CreatedAt: time.Now().UTC(),
	}

	created, err := s.repo.CreateSale(ctx, sale, payments)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.logAudit(ctx, "sale_create", "sale", created.ID, fmt.Sprintf("total=%d,paid=%d,lines=%d,status=%s", created.TotalCents, created.PaidCents, len(created.Lines), created.Status))

	return domain.SaleResponse{Sale: *created}, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.SaleResponse, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.SaleResponse{}, store.ErrInvalidRequest
	}

	sale, err := s.repo.GetSaleByID(ctx, saleID)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	return domain.SaleResponse{Sale: *sale}, nil
}

func (s *Service) ListSales(ctx context.Context, date string, limit int) (domain.SaleListResponse, error) {
	if limit < 1 {
		limit = 100
	}

	from, to, err := dayRange(date)
	if err != nil {
		return domain.SaleListResponse{}, err
	}

	sales, err := s.repo.ListSales(ctx, from, to, limit)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return domain.SaleListResponse{Sales: sales}, nil
}

func (s *Service) AddPayment(ctx context.Context, saleID string, req domain.PaymentRequest) (domain.SaleResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SaleResponse{}, fmt.Errorf("authenticated actor required")
	}

	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.SaleResponse{}, store.ErrInvalidRequest
	}
	if req.Method == "" && req.AmountCents == 0 {
		return domain.SaleResponse{}, store.ErrNoPayments
	}
	if req.AmountCents < 1 {
		return domain.SaleResponse{}, store.ErrInvalidSale
	}

	payment := domain.Payment{
		Method:       req.Method,
		AmountCents:  req.AmountCents,
		Reference:    strings.TrimSpace(req.Reference),
		RegisteredBy: actor.Username,
	}

	sale, err := s.repo.AddPayment(ctx, saleID, payment)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.logAudit(ctx, "sale_payment", "sale", sale.ID, fmt.Sprintf("method=%s,amount=%d,paid=%d,status=%s", req.Method, req.AmountCents, sale.PaidCents, sale.Status))

	return domain.SaleResponse{Sale: *sale}, nil
}

func (s *Service) CancelSale(ctx context.Context, saleID string) (domain.SaleResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SaleResponse{}, fmt.Errorf("authenticated actor required")
	}

	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.SaleResponse{}, store.ErrInvalidRequest
	}

	sale, err := s.repo.CancelSale(ctx, saleID, actor.Username, time.Now().UTC())
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.logAudit(ctx, "sale_cancel", "sale", sale.ID, fmt.Sprintf("total=%d,paid=%d", sale.TotalCents, sale.PaidCents))

	return domain.SaleResponse{Sale: *sale}, nil
}

func (s *Service) OpenDrawer(ctx context.Context, req domain.DrawerOpenRequest) (domain.DrawerResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.DrawerResponse{}, fmt.Errorf("authenticated actor required")
	}
	if req.InitialBalanceCents < 0 {
		return domain.DrawerResponse{}, store.ErrInvalidRequest
	}

	drawer := domain.CashRegister{
		ID:                  xid.New("drw"),
		Status:              domain.DrawerStatusOpen,
		InitialBalanceCents: req.InitialBalanceCents,
		CurrentBalanceCents: req.InitialBalanceCents,
		OpenedBy:            actor.Username,
		Notes:               strings.TrimSpace(req.Notes),
		OpenedAt:            time.Now().UTC(),
	}

	opened, err := s.repo.OpenDrawer(ctx, drawer)
	if err != nil {
		return domain.DrawerResponse{}, err
	}

	s.logAudit(ctx, "drawer_open", "drawer", opened.ID, fmt.Sprintf("initial=%d", opened.InitialBalanceCents))

	return domain.DrawerResponse{Drawer: *opened}, nil
}

func (s *Service) CloseDrawer(ctx context.Context, req domain.DrawerCloseRequest) (domain.DrawerResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.DrawerResponse{}, fmt.Errorf("authenticated actor required")
	}

	closed, err := s.repo.CloseDrawer(ctx, actor.Username, strings.TrimSpace(req.Notes), time.Now().UTC())
	if err != nil {
		return domain.DrawerResponse{}, err
	}

	s.logAudit(ctx, "drawer_close", "drawer", closed.ID, fmt.Sprintf("final=%d", closed.CurrentBalanceCents))

	return domain.DrawerResponse{Drawer: *closed}, nil
}

func (s *Service) CutDrawer(ctx context.Context, req domain.CashCutRequest) (domain.CashCutResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.CashCutResponse{}, fmt.Errorf("admin role required")
	}
	if req.NewInitialBalanceCents < 0 {
		return domain.CashCutResponse{}, store.ErrInvalidRequest
	}

	cut, err := s.repo.CutDrawer(ctx, req.NewInitialBalanceCents, actor.Username, time.Now().UTC())
	if err != nil {
		return domain.CashCutResponse{}, err
	}

	s.logAudit(ctx, "drawer_cut", "drawer", cut.DrawerID, fmt.Sprintf("extracted=%d,new_initial=%d", cut.ExtractedCents, cut.BalanceAfterCents))

	return domain.CashCutResponse{Cut: *cut}, nil
}

func (s *Service) GetOpenDrawer(ctx context.Context) (domain.DrawerResponse, error) {
	drawer, err := s.repo.GetOpenDrawer(ctx)
	if err != nil {
		return domain.DrawerResponse{}, err
	}
	return domain.DrawerResponse{Drawer: *drawer}, nil
}

func (s *Service) ListDrawers(ctx context.Context, limit int) (domain.DrawerListResponse, error) {
	if limit < 1 {
		limit = 50
	}
	drawers, err := s.repo.ListDrawers(ctx, limit)
	if err != nil {
		return domain.DrawerListResponse{}, err
	}
	return domain.DrawerListResponse{Drawers: drawers}, nil
}

func (s *Service) ListCuts(ctx context.Context, limit int) (domain.CashCutListResponse, error) {
	if limit < 1 {
		limit = 50
	}
	cuts, err := s.repo.ListCuts(ctx, limit)
	if err != nil {
		return domain.CashCutListResponse{}, err
	}
	return domain.CashCutListResponse{Cuts: cuts}, nil
}

func (s *Service) CreateAccount(ctx context.Context, req domain.AccountCreateRequest) (domain.Account, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Account{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.CategoryID = strings.TrimSpace(req.CategoryID)
	if req.Name == "" {
		return domain.Account{}, store.ErrInvalidRequest
	}
	if req.CategoryID != "" {
		if _, err := s.repo.GetCategoryByID(ctx, req.CategoryID); err != nil {
			return domain.Account{}, err
		}
	}

	account := domain.Account{
		ID:         xid.New("acc"),
		Name:       req.Name,
		CategoryID: req.CategoryID,
		CreatedAt:  time.Now().UTC(),
	}

	created, err := s.repo.CreateAccount(ctx, account)
	if err != nil {
		return domain.Account{}, err
	}

	s.logAudit(ctx, "account_create", "account", created.ID, fmt.Sprintf("name=%s", created.Name))

	return *created, nil
}

func (s *Service) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return s.repo.ListAccounts(ctx)
}

// GetAccountBalance reads through the balance cache. Cache failures are
// logged and treated as misses so the repository stays authoritative.
func (s *Service) GetAccountBalance(ctx context.Context, accountID string) (int64, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return 0, store.ErrInvalidRequest
	}

	if balance, hit, err := s.balances.Get(ctx, accountID); err != nil {
		log.Printf("[service] WARN: balance cache get failed account=%s: %v", accountID, err)
	} else if hit {
		return balance, nil
	}

	account, err := s.repo.GetAccountByID(ctx, accountID)
	if err != nil {
		return 0, err
	}

	if err := s.balances.Set(ctx, accountID, account.BalanceCents, s.balanceTTL); err != nil {
		log.Printf("[service] WARN: balance cache set failed account=%s: %v", accountID, err)
	}

	return account.BalanceCents, nil
}

func (s *Service) ListAccountTransactions(ctx context.Context, accountID string, limit int) (domain.AccountTransactionListResponse, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.AccountTransactionListResponse{}, store.ErrInvalidRequest
	}
	if limit < 1 {
		limit = 100
	}

	txs, err := s.repo.ListAccountTransactions(ctx, accountID, limit)
	if err != nil {
		return domain.AccountTransactionListResponse{}, err
	}
	return domain.AccountTransactionListResponse{Transactions: txs}, nil
}

func (s *Service) DistributeLine(ctx context.Context, req domain.DistributeLineRequest) ([]domain.AccountTransaction, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}

	req.SaleID = strings.TrimSpace(req.SaleID)
	if req.SaleID == "" || req.LineOrdinal < 0 {
		return nil, store.ErrInvalidRequest
	}

	txs, err := s.repo.DistributeLine(ctx, req.SaleID, req.LineOrdinal, req.Split, actor.Username)
	if err != nil {
		return nil, err
	}

	touched := make([]string, 0, len(txs))
	for _, tx := range txs {
		touched = append(touched, tx.AccountID)
	}
	s.invalidateBalances(ctx, touched...)

	s.logAudit(ctx, "ledger_distribute_line", "sale", req.SaleID, fmt.Sprintf("ordinal=%d,legs=%d", req.LineOrdinal, len(txs)))

	return txs, nil
}

func (s *Service) DistributeBatch(ctx context.Context, req domain.DistributeBatchRequest) (domain.DistributeBatchResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.DistributeBatchResponse{}, fmt.Errorf("admin role required")
	}

	req.SaleID = strings.TrimSpace(req.SaleID)
	if req.SaleID == "" {
		return domain.DistributeBatchResponse{}, store.ErrInvalidRequest
	}
	rents := make(map[int]int64, len(req.Rents))
	totalRent := int64(0)
	for _, r := range req.Rents {
		if r.Ordinal < 0 || r.RentCents < 0 {
			return domain.DistributeBatchResponse{}, store.ErrInvalidRequest
		}
		if _, dup := rents[r.Ordinal]; dup {
			return domain.DistributeBatchResponse{}, store.ErrInvalidRequest
		}
		rents[r.Ordinal] = r.RentCents
		totalRent += r.RentCents
	}

	result, err := s.repo.DistributeBatch(ctx, req.SaleID, rents, actor.Username)
	if err != nil {
		return domain.DistributeBatchResponse{}, err
	}

	// A batch can touch the commission account of every line's category, so
	// invalidate across the board rather than tracking each leg.
	if accounts, err := s.repo.ListAccounts(ctx); err == nil {
		ids := make([]string, 0, len(accounts))
		for _, account := range accounts {
			ids = append(ids, account.ID)
		}
		s.invalidateBalances(ctx, ids...)
	}

	s.logAudit(ctx, "ledger_distribute_batch", "sale", req.SaleID, fmt.Sprintf("accounted=%d,rent=%d", result.LinesAccounted, totalRent))

	return *result, nil
}

func (s *Service) CreateWithdrawal(ctx context.Context, req domain.WithdrawalCreateRequest) (domain.Withdrawal, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Withdrawal{}, fmt.Errorf("admin role required")
	}

	req.AccountID = strings.TrimSpace(req.AccountID)
	req.Description = strings.TrimSpace(req.Description)
	if req.AccountID == "" || req.AmountCents < 1 {
		return domain.Withdrawal{}, store.ErrInvalidRequest
	}

	withdrawal := domain.Withdrawal{
		ID:          xid.New("wdr"),
		AccountID:   req.AccountID,
		AmountCents: req.AmountCents,
		Description: req.Description,
		Status:      domain.WithdrawalStatusCompleted,
		Actor:       actor.Username,
		CreatedAt:   time.Now().UTC(),
	}

	created, err := s.repo.CreateWithdrawal(ctx, withdrawal)
	if err != nil {
		return domain.Withdrawal{}, err
	}

	s.invalidateBalances(ctx, created.AccountID)
	s.logAudit(ctx, "withdrawal_create", "withdrawal", created.ID, fmt.Sprintf("account=%s,amount=%d", created.AccountID, created.AmountCents))

	return *created, nil
}

func (s *Service) ListWithdrawals(ctx context.Context, accountID string, limit int) (domain.WithdrawalListResponse, error) {
	if limit < 1 {
		limit = 100
	}

	withdrawals, err := s.repo.ListWithdrawals(ctx, strings.TrimSpace(accountID), limit)
	if err != nil {
		return domain.WithdrawalListResponse{}, err
	}
	return domain.WithdrawalListResponse{Withdrawals: withdrawals}, nil
}

func (s *Service) DailyReport(ctx context.Context, date string) (domain.DailyReport, error) {
	from, to, err := dayRange(date)
	if err != nil {
		return domain.DailyReport{}, err
	}

	report, err := s.repo.GetDailyReport(ctx, from, to)
	if err != nil {
		return domain.DailyReport{}, err
	}
	report.Date = from.Format("2006-01-02")
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}
	if limit < 1 {
		limit = 100
	}

	from, to, err := dayRange(date)
	if err != nil {
		return nil, err
	}

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func (s *Service) invalidateBalances(ctx context.Context, accountIDs ...string) {
	if len(accountIDs) == 0 {
		return
	}
	if err := s.balances.Invalidate(ctx, accountIDs...); err != nil {
		log.Printf("[service] WARN: balance cache invalidate failed: %v", err)
	}
}

// dayRange maps a YYYY-MM-DD string to a UTC [from, to) day window,
// defaulting to today when empty.
func dayRange(date string) (time.Time, time.Time, error) {
	var day time.Time
	if strings.TrimSpace(date) == "" {
		now := time.Now().UTC()
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, time.Time{}, store.ErrInvalidRequest
		}
		day = parsed.UTC()
	}
	return day, day.Add(24 * time.Hour), nil
}
