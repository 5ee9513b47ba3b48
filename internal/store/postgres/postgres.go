package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"crocheteria/backend/internal/allocation"
	"crocheteria/backend/internal/domain"
	"crocheteria/backend/internal/ledger"
	"crocheteria/backend/internal/store"
	"crocheteria/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	query := `
		SELECT sku, name, category_id, price_cents, stock_qty, active, created_at
		FROM products
		WHERE active = true
		ORDER BY category_id, name
	`
	if includeInactive {
		query = `
			SELECT sku, name, category_id, price_cents, stock_qty, active, created_at
			FROM products
			ORDER BY category_id, name
		`
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		var categoryID sql.NullString
		if err := rows.Scan(&p.SKU, &p.Name, &categoryID, &p.PriceCents, &p.StockQty, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CategoryID = categoryID.String
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidRequest
	}

	product.Active = true
	product.StockQty = 0
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (sku, name, category_id, price_cents, stock_qty, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,0,true,$5,now())
	`, product.SKU, product.Name, nullIfEmpty(product.CategoryID), product.PriceCents, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	var product domain.Product
	var categoryID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT sku, name, category_id, price_cents, stock_qty, active, created_at
		FROM products
		WHERE sku = $1
	`, sku).Scan(&product.SKU, &product.Name, &categoryID, &product.PriceCents, &product.StockQty, &product.Active, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrProductNotFound
		}
		return nil, err
	}
	product.CategoryID = categoryID.String
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidRequest
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category_id = $3, price_cents = $4, active = $5, updated_at = now()
		WHERE sku = $1
	`, product.SKU, product.Name, nullIfEmpty(product.CategoryID), product.PriceCents, product.Active)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrProductNotFound
	}
	return s.GetProductBySKU(ctx, product.SKU)
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
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

	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, startup, commission_type, commission_percent, commission_cents, account_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, category.ID, category.Name, category.Startup, category.CommissionType,
		category.CommissionPercent, category.CommissionCents, nullIfEmpty(category.AccountID), category.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	created := category
	return &created, nil
}

func (s *Store) GetCategoryByID(ctx context.Context, id string) (*domain.Category, error) {
	var category domain.Category
	var accountID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, startup, commission_type, commission_percent, commission_cents, account_id, created_at
		FROM categories
		WHERE id = $1
	`, id).Scan(&category.ID, &category.Name, &category.Startup, &category.CommissionType,
		&category.CommissionPercent, &category.CommissionCents, &accountID, &category.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	category.AccountID = accountID.String
	category.CreatedAt = category.CreatedAt.UTC()
	return &category, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, startup, commission_type, commission_percent, commission_cents, account_id, created_at
		FROM categories
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var category domain.Category
		var accountID sql.NullString
		if err := rows.Scan(&category.ID, &category.Name, &category.Startup, &category.CommissionType,
			&category.CommissionPercent, &category.CommissionCents, &accountID, &category.CreatedAt); err != nil {
			return nil, err
		}
		category.AccountID = accountID.String
		category.CreatedAt = category.CreatedAt.UTC()
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) CreateLot(ctx context.Context, lot domain.PurchaseLot) (*domain.PurchaseLot, error) {
	if lot.SKU == "" || lot.QtyReceived < 1 || lot.UnitCostCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	if lot.ID == "" {
		lot.ID = xid.New("lot")
	}
	if lot.ReceivedAt.IsZero() {
		lot.ReceivedAt = time.Now().UTC()
	}
	lot.QtyAvailable = lot.QtyReceived
	lot.Active = true

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock_qty = stock_qty + $2, updated_at = now()
		WHERE sku = $1
	`, lot.SKU, lot.QtyReceived)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrProductNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchase_lots (id, sku, unit_cost_cents, qty_received, qty_available, active, notes, received_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,true,$6,$7,now())
	`, lot.ID, lot.SKU, lot.UnitCostCents, lot.QtyReceived, lot.QtyAvailable, strings.TrimSpace(lot.Notes), lot.ReceivedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := lot
	return &created, nil
}

func (s *Store) ListLots(ctx context.Context, sku string, includeEmpty bool, limit int) ([]domain.PurchaseLot, error) {
	query := `
		SELECT id, sku, unit_cost_cents, qty_received, qty_available, active, notes, received_at
		FROM purchase_lots
		WHERE sku = $1 AND active = true AND qty_available > 0
		ORDER BY received_at ASC, id ASC
	`
	if includeEmpty {
		query = `
			SELECT id, sku, unit_cost_cents, qty_received, qty_available, active, notes, received_at
			FROM purchase_lots
			WHERE sku = $1
			ORDER BY received_at ASC, id ASC
		`
	}
	rows, err := s.db.QueryContext(ctx, query, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lots := make([]domain.PurchaseLot, 0, 16)
	for rows.Next() {
		var lot domain.PurchaseLot
		var notes sql.NullString
		if err := rows.Scan(&lot.ID, &lot.SKU, &lot.UnitCostCents, &lot.QtyReceived, &lot.QtyAvailable, &lot.Active, &notes, &lot.ReceivedAt); err != nil {
			return nil, err
		}
		lot.Notes = notes.String
		lot.ReceivedAt = lot.ReceivedAt.UTC()
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(lots) > limit {
		lots = lots[:limit]
	}
	return lots, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, payments []domain.Payment) (*domain.Sale, error) {
	if len(sale.Lines) == 0 {
		return nil, store.ErrInvalidSale
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	now := time.Now().UTC()
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}

	skus := uniqueLineSKUs(sale.Lines)
	if len(skus) == 0 {
		return nil, store.ErrInvalidSale
	}

	productRows, err := pgTx.QueryContext(ctx, `
		SELECT sku, name, category_id, stock_qty
		FROM products
		WHERE active = true AND sku = ANY($1)
		FOR UPDATE
	`, skus)
	if err != nil {
		return nil, err
	}
	productMap := make(map[string]domain.Product, len(skus))
	for productRows.Next() {
		var p domain.Product
		var categoryID sql.NullString
		if err := productRows.Scan(&p.SKU, &p.Name, &categoryID, &p.StockQty); err != nil {
			_ = productRows.Close()
			return nil, err
		}
		p.CategoryID = categoryID.String
		productMap[p.SKU] = p
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return nil, err
	}
	_ = productRows.Close()

	lotRows, err := pgTx.QueryContext(ctx, `
		SELECT id, sku, unit_cost_cents, qty_available, active, received_at
		FROM purchase_lots
		WHERE sku = ANY($1) AND active = true AND qty_available > 0
		ORDER BY received_at ASC, id ASC
		FOR UPDATE
	`, skus)
	if err != nil {
		return nil, err
	}
	lotsBySKU := make(map[string][]domain.PurchaseLot, len(skus))
	for lotRows.Next() {
		var lot domain.PurchaseLot
		if err := lotRows.Scan(&lot.ID, &lot.SKU, &lot.UnitCostCents, &lot.QtyAvailable, &lot.Active, &lot.ReceivedAt); err != nil {
			_ = lotRows.Close()
			return nil, err
		}
		lot.ReceivedAt = lot.ReceivedAt.UTC()
		lotsBySKU[lot.SKU] = append(lotsBySKU[lot.SKU], lot)
	}
	if err := lotRows.Err(); err != nil {
		_ = lotRows.Close()
		return nil, err
	}
	_ = lotRows.Close()

	total := int64(0)
	for i := range sale.Lines {
		line := &sale.Lines[i]
		if line.Qty < 1 || line.UnitPriceCents < 0 {
			return nil, store.ErrInvalidSale
		}
		product, exists := productMap[line.SKU]
		if !exists {
			return nil, store.ErrProductNotFound
		}
		line.Name = product.Name
		line.CategoryID = product.CategoryID
		total += int64(line.Qty) * line.UnitPriceCents
	}
	sale.TotalCents = total

	paid := int64(0)
	cashTotal := int64(0)
	for _, p := range payments {
		if p.AmountCents < 1 || !validPaymentMethod(p.Method) {
			return nil, store.ErrInvalidSale
		}
		paid += p.AmountCents
		if p.Method == domain.PaymentMethodCash {
			cashTotal += p.AmountCents
		}
	}

	// Cash joins the open drawer when there is one. With no drawer the
	// payments are still recorded, just without a session reference.
	var openDrawerID string
	if cashTotal > 0 {
		err := pgTx.QueryRowContext(ctx, `
			SELECT id FROM cash_registers WHERE status = 'open' FOR UPDATE
		`).Scan(&openDrawerID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	// One persisted line per lot touched: a requested line straddling lots
	// becomes several sale lines, each with that lot's exact unit cost.
	expanded := make([]domain.SaleLine, 0, len(sale.Lines))
	for i := range sale.Lines {
		req := sale.Lines[i]
		product := productMap[req.SKU]
		if product.StockQty < req.Qty {
			return nil, store.ErrInsufficientStock
		}
		plan, err := allocation.Allocate(lotsBySKU[req.SKU], req.Qty)
		if err != nil {
			// The aggregate covered it but the locked lots do not.
			return nil, store.ErrInventoryConsistency
		}

		for _, use := range plan.Uses {
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
			_, err := pgTx.ExecContext(ctx, `
				UPDATE purchase_lots
				SET qty_available = qty_available - $1, updated_at = now()
				WHERE id = $2
			`, use.Qty, use.LotID)
			if err != nil {
				return nil, err
			}
			remaining := lotsBySKU[req.SKU]
			for j := range remaining {
				if remaining[j].ID == use.LotID {
					remaining[j].QtyAvailable -= use.Qty
				}
			}
			lotsBySKU[req.SKU] = remaining
		}

		_, err = pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock_qty = stock_qty - $1, updated_at = now()
			WHERE sku = $2
		`, req.Qty, req.SKU)
		if err != nil {
			return nil, err
		}
		product.StockQty -= req.Qty
		productMap[req.SKU] = product
	}
	sale.Lines = expanded

	// Post-allocation re-check. Nothing touched in this transaction may
	// have gone negative.
	var negatives int
	err = pgTx.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM purchase_lots WHERE sku = ANY($1) AND qty_available < 0) +
			(SELECT count(*) FROM products WHERE sku = ANY($1) AND stock_qty < 0)
	`, skus).Scan(&negatives)
	if err != nil {
		return nil, err
	}
	if negatives > 0 {
		return nil, store.ErrInventoryConsistency
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	sale.PaidCents = paid
	if paid >= total {
		sale.Status = domain.SaleStatusPaid
	} else {
		sale.Status = domain.SaleStatusPending
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (id, buyer, status, total_cents, paid_cents, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, sale.ID, nullIfEmpty(sale.Buyer), sale.Status, sale.TotalCents, sale.PaidCents, sale.CreatedBy, sale.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, line := range sale.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, ordinal, sku, name, category_id, qty, unit_price_cents, total_cents, unit_cost_cents, total_cost_cents, rent_cents, accounted)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0,false)
		`, sale.ID, line.Ordinal, line.SKU, line.Name, nullIfEmpty(line.CategoryID), line.Qty,
			line.UnitPriceCents, line.TotalCents, line.UnitCostCents, line.TotalCostCents)
		if err != nil {
			return nil, err
		}
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
		if p.Method == domain.PaymentMethodCash {
			p.DrawerID = openDrawerID
		}
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO payments (id, sale_id, method, amount_cents, reference, drawer_id, registered_by, paid_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, p.ID, p.SaleID, p.Method, p.AmountCents, nullIfEmpty(p.Reference), nullIfEmpty(p.DrawerID), p.RegisteredBy, p.PaidAt)
		if err != nil {
			return nil, err
		}
		sale.Payments = append(sale.Payments, p)
	}

	if cashTotal > 0 && openDrawerID != "" {
		_, err := pgTx.ExecContext(ctx, `
			UPDATE cash_registers
			SET current_balance_cents = current_balance_cents + $1, updated_at = now()
			WHERE id = $2
		`, cashTotal, openDrawerID)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	sales, err := s.loadSales(ctx, `WHERE s.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return nil, store.ErrNotFound
	}
	sale := sales[0]
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	sales, err := s.loadSales(ctx, `WHERE s.created_at >= $1 AND s.created_at < $2 ORDER BY s.created_at DESC, s.id DESC`, from, to)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) loadSales(ctx context.Context, whereClause string, args ...any) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.buyer, s.status, s.total_cents, s.paid_cents, s.created_by, s.created_at, s.cancelled_at
		FROM sales s
	`+whereClause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 8)
	index := make(map[string]int, 8)
	ids := make([]string, 0, 8)
	for rows.Next() {
		var sale domain.Sale
		var buyer sql.NullString
		var cancelledAt sql.NullTime
		if err := rows.Scan(&sale.ID, &buyer, &sale.Status, &sale.TotalCents, &sale.PaidCents, &sale.CreatedBy, &sale.CreatedAt, &cancelledAt); err != nil {
			return nil, err
		}
		sale.Buyer = buyer.String
		sale.CreatedAt = sale.CreatedAt.UTC()
		if cancelledAt.Valid {
			at := cancelledAt.Time.UTC()
			sale.CancelledAt = &at
		}
		index[sale.ID] = len(sales)
		ids = append(ids, sale.ID)
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return sales, nil
	}

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, ordinal, sku, name, category_id, qty, unit_price_cents, total_cents, unit_cost_cents, total_cost_cents, rent_cents, accounted
		FROM sale_lines
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, ordinal
	`, ids)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var saleID string
		var line domain.SaleLine
		var categoryID sql.NullString
		if err := lineRows.Scan(&saleID, &line.Ordinal, &line.SKU, &line.Name, &categoryID, &line.Qty,
			&line.UnitPriceCents, &line.TotalCents, &line.UnitCostCents, &line.TotalCostCents, &line.RentCents, &line.Accounted); err != nil {
			return nil, err
		}
		line.CategoryID = categoryID.String
		if i, ok := index[saleID]; ok {
			sales[i].Lines = append(sales[i].Lines, line)
		}
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	payRows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, method, amount_cents, reference, drawer_id, registered_by, paid_at
		FROM payments
		WHERE sale_id = ANY($1)
		ORDER BY paid_at, id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer payRows.Close()
	for payRows.Next() {
		var payment domain.Payment
		var reference, drawerID sql.NullString
		if err := payRows.Scan(&payment.ID, &payment.SaleID, &payment.Method, &payment.AmountCents,
			&reference, &drawerID, &payment.RegisteredBy, &payment.PaidAt); err != nil {
			return nil, err
		}
		payment.Reference = reference.String
		payment.DrawerID = drawerID.String
		payment.PaidAt = payment.PaidAt.UTC()
		if i, ok := index[payment.SaleID]; ok {
			sales[i].Payments = append(sales[i].Payments, payment)
		}
	}
	if err := payRows.Err(); err != nil {
		return nil, err
	}

	return sales, nil
}

func (s *Store) AddPayment(ctx context.Context, saleID string, payment domain.Payment) (*domain.Sale, error) {
	if payment.AmountCents < 1 || !validPaymentMethod(payment.Method) {
		return nil, store.ErrInvalidSale
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	var totalCents, paidCents int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT status, total_cents, paid_cents
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, saleID).Scan(&status, &totalCents, &paidCents)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if status == domain.SaleStatusCancelled {
		return nil, store.ErrSaleCancelled
	}
	if paidCents+payment.AmountCents > totalCents {
		return nil, store.ErrPaymentsExceedTotal
	}

	if payment.Method == domain.PaymentMethodCash {
		var drawerID string
		err := pgTx.QueryRowContext(ctx, `
			SELECT id FROM cash_registers WHERE status = 'open' FOR UPDATE
		`).Scan(&drawerID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		// No open drawer leaves the payment without a session reference.
		if drawerID != "" {
			payment.DrawerID = drawerID
			_, err = pgTx.ExecContext(ctx, `
				UPDATE cash_registers
				SET current_balance_cents = current_balance_cents + $1, updated_at = now()
				WHERE id = $2
			`, payment.AmountCents, drawerID)
			if err != nil {
				return nil, err
			}
		}
	}

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	payment.SaleID = saleID
	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO payments (id, sale_id, method, amount_cents, reference, drawer_id, registered_by, paid_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, payment.ID, payment.SaleID, payment.Method, payment.AmountCents,
		nullIfEmpty(payment.Reference), nullIfEmpty(payment.DrawerID), payment.RegisteredBy, payment.PaidAt)
	if err != nil {
		return nil, err
	}

	paidCents += payment.AmountCents
	newStatus := status
	if paidCents >= totalCents {
		newStatus = domain.SaleStatusPaid
	}
	_, err = pgTx.ExecContext(ctx, `
		UPDATE sales
		SET paid_cents = $2, status = $3
		WHERE id = $1
	`, saleID, paidCents, newStatus)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.GetSaleByID(ctx, saleID)
}

func (s *Store) CancelSale(ctx context.Context, saleID string, actor string, at time.Time) (*domain.Sale, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status FROM sales WHERE id = $1 FOR UPDATE
	`, saleID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if status == domain.SaleStatusCancelled {
		return nil, store.ErrSaleCancelled
	}

	lineRows, err := pgTx.QueryContext(ctx, `
		SELECT sku, qty, unit_cost_cents, accounted
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY ordinal
		FOR UPDATE
	`, saleID)
	if err != nil {
		return nil, err
	}
	type lineState struct {
		sku           string
		qty           int
		unitCostCents int64
	}
	lines := make([]lineState, 0, 8)
	for lineRows.Next() {
		var line lineState
		var accounted bool
		if err := lineRows.Scan(&line.sku, &line.qty, &line.unitCostCents, &accounted); err != nil {
			_ = lineRows.Close()
			return nil, err
		}
		if accounted {
			_ = lineRows.Close()
			return nil, store.ErrAlreadyAccounted
		}
		lines = append(lines, line)
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return nil, err
	}
	_ = lineRows.Close()

	for _, line := range lines {
		_, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock_qty = stock_qty + $1, updated_at = now()
			WHERE sku = $2
		`, line.qty, line.sku)
		if err != nil {
			return nil, err
		}
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO purchase_lots (id, sku, unit_cost_cents, qty_received, qty_available, active, notes, received_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,true,$6,$7,now())
		`, xid.New("lot"), line.sku, line.unitCostCents, line.qty, line.qty, "restock from cancelled sale "+saleID, at)
		if err != nil {
			return nil, err
		}
	}

	var cashPaid int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM payments
		WHERE sale_id = $1 AND method = 'cash'
	`, saleID).Scan(&cashPaid)
	if err != nil {
		return nil, err
	}
	if cashPaid > 0 {
		var drawerID string
		var balance int64
		err := pgTx.QueryRowContext(ctx, `
			SELECT id, current_balance_cents FROM cash_registers WHERE status = 'open' FOR UPDATE
		`).Scan(&drawerID, &balance)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			log.Printf("[postgres-store] WARN: cancelling sale %s with %d cash cents and no open drawer; cash not returned through a drawer", saleID, cashPaid)
		case err != nil:
			return nil, err
		default:
			debit := cashPaid
			if debit > balance {
				log.Printf("[postgres-store] WARN: drawer %s balance %d cannot cover %d refund for sale %s; clamping", drawerID, balance, cashPaid, saleID)
				debit = balance
			}
			_, err = pgTx.ExecContext(ctx, `
				UPDATE cash_registers
				SET current_balance_cents = current_balance_cents - $1, updated_at = now()
				WHERE id = $2
			`, debit, drawerID)
			if err != nil {
				return nil, err
			}
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE sales
		SET status = 'cancelled', cancelled_at = $2
		WHERE id = $1
	`, saleID, at)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.GetSaleByID(ctx, saleID)
}

func (s *Store) OpenDrawer(ctx context.Context, drawer domain.CashRegister) (*domain.CashRegister, error) {
	if drawer.InitialBalanceCents < 0 || strings.TrimSpace(drawer.OpenedBy) == "" {
		return nil, store.ErrInvalidRequest
	}
	if drawer.ID == "" {
		drawer.ID = xid.New("drw")
	}
	if drawer.OpenedAt.IsZero() {
		drawer.OpenedAt = time.Now().UTC()
	}
	drawer.Status = domain.DrawerStatusOpen
	drawer.CurrentBalanceCents = drawer.InitialBalanceCents

	// A partial unique index on status = 'open' enforces the single open
	// drawer invariant; racing opens surface as a unique violation.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_registers (id, status, initial_balance_cents, current_balance_cents, opened_by, notes, opened_at, updated_at)
		VALUES ($1,'open',$2,$3,$4,$5,$6,now())
	`, drawer.ID, drawer.InitialBalanceCents, drawer.CurrentBalanceCents, drawer.OpenedBy, strings.TrimSpace(drawer.Notes), drawer.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDrawerAlreadyOpen
		}
		return nil, err
	}

	created := drawer
	return &created, nil
}

func (s *Store) CloseDrawer(ctx context.Context, closedBy string, notes string, at time.Time) (*domain.CashRegister, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE cash_registers
		SET status = 'closed', closed_by = $1, closed_at = $2,
		    notes = CASE WHEN $3 <> '' THEN $3 ELSE notes END,
		    updated_at = now()
		WHERE status = 'open'
		RETURNING id, status, initial_balance_cents, current_balance_cents, opened_by, closed_by, notes, opened_at, closed_at
	`, closedBy, at, strings.TrimSpace(notes))

	drawer, err := scanDrawerRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoDrawerOpen
	}
	if err != nil {
		return nil, err
	}
	return drawer, nil
}

func (s *Store) CutDrawer(ctx context.Context, newInitialCents int64, operator string, at time.Time) (*domain.CashCut, error) {
	if newInitialCents < 0 || strings.TrimSpace(operator) == "" {
		return nil, store.ErrInvalidRequest
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var drawerID string
	var balance int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, current_balance_cents FROM cash_registers WHERE status = 'open' FOR UPDATE
	`).Scan(&drawerID, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoDrawerOpen
	}
	if err != nil {
		return nil, err
	}

	extracted := balance - newInitialCents
	if extracted < 0 {
		return nil, store.ErrInsufficientFunds
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE cash_registers
		SET status = 'closed', closed_by = $2, closed_at = $3, notes = 'cash cut', updated_at = now()
		WHERE id = $1
	`, drawerID, operator, at)
	if err != nil {
		return nil, err
	}

	newDrawerID := xid.New("drw")
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO cash_registers (id, status, initial_balance_cents, current_balance_cents, opened_by, notes, opened_at, updated_at)
		VALUES ($1,'open',$2,$2,$3,'',$4,now())
	`, newDrawerID, newInitialCents, operator, at)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDrawerAlreadyOpen
		}
		return nil, err
	}

	cut := domain.CashCut{
		ID:                 xid.New("cut"),
		DrawerID:           drawerID,
		NewDrawerID:        newDrawerID,
		BalanceBeforeCents: balance,
		BalanceAfterCents:  newInitialCents,
		ExtractedCents:     extracted,
		Operator:           operator,
		CreatedAt:          at,
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO cash_cuts (id, drawer_id, new_drawer_id, balance_before_cents, balance_after_cents, extracted_cents, operator, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, cut.ID, cut.DrawerID, cut.NewDrawerID, cut.BalanceBeforeCents, cut.BalanceAfterCents, cut.ExtractedCents, cut.Operator, cut.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &cut, nil
}

func (s *Store) GetOpenDrawer(ctx context.Context) (*domain.CashRegister, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, initial_balance_cents, current_balance_cents, opened_by, closed_by, notes, opened_at, closed_at
		FROM cash_registers
		WHERE status = 'open'
	`)
	drawer, err := scanDrawerRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoDrawerOpen
	}
	if err != nil {
		return nil, err
	}
	return drawer, nil
}

func (s *Store) ListDrawers(ctx context.Context, limit int) ([]domain.CashRegister, error) {
	query := `
		SELECT id, status, initial_balance_cents, current_balance_cents, opened_by, closed_by, notes, opened_at, closed_at
		FROM cash_registers
		ORDER BY opened_at DESC, id DESC
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drawers := make([]domain.CashRegister, 0, 16)
	for rows.Next() {
		drawer, err := scanDrawer(rows)
		if err != nil {
			return nil, err
		}
		drawers = append(drawers, *drawer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return drawers, nil
}

func (s *Store) ListCuts(ctx context.Context, limit int) ([]domain.CashCut, error) {
	query := `
		SELECT id, drawer_id, new_drawer_id, balance_before_cents, balance_after_cents, extracted_cents, operator, created_at
		FROM cash_cuts
		ORDER BY created_at DESC, id DESC
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cuts := make([]domain.CashCut, 0, 16)
	for rows.Next() {
		var cut domain.CashCut
		if err := rows.Scan(&cut.ID, &cut.DrawerID, &cut.NewDrawerID, &cut.BalanceBeforeCents,
			&cut.BalanceAfterCents, &cut.ExtractedCents, &cut.Operator, &cut.CreatedAt); err != nil {
			return nil, err
		}
		cut.CreatedAt = cut.CreatedAt.UTC()
		cuts = append(cuts, cut)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cuts, nil
}

func (s *Store) CreateAccount(ctx context.Context, account domain.Account) (*domain.Account, error) {
	account.Name = strings.TrimSpace(account.Name)
	if account.Name == "" {
		return nil, store.ErrInvalidRequest
	}
	if account.ID == "" {
		account.ID = xid.New("acc")
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	account.BalanceCents = 0

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, balance_cents, category_id, created_at)
		VALUES ($1,$2,0,$3,$4)
	`, account.ID, account.Name, nullIfEmpty(account.CategoryID), account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	created := account
	return &created, nil
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (*domain.Account, error) {
	return s.getAccount(ctx, `id = $1`, id)
}

func (s *Store) GetAccountByName(ctx context.Context, name string) (*domain.Account, error) {
	return s.getAccount(ctx, `name = $1`, strings.TrimSpace(name))
}

func (s *Store) getAccount(ctx context.Context, whereClause string, arg any) (*domain.Account, error) {
	var account domain.Account
	var categoryID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, balance_cents, category_id, created_at
		FROM accounts
		WHERE `+whereClause, arg).Scan(&account.ID, &account.Name, &account.BalanceCents, &categoryID, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	account.CategoryID = categoryID.String
	account.CreatedAt = account.CreatedAt.UTC()
	return &account, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, balance_cents, category_id, created_at
		FROM accounts
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0, 16)
	for rows.Next() {
		var account domain.Account
		var categoryID sql.NullString
		if err := rows.Scan(&account.ID, &account.Name, &account.BalanceCents, &categoryID, &account.CreatedAt); err != nil {
			return nil, err
		}
		account.CategoryID = categoryID.String
		account.CreatedAt = account.CreatedAt.UTC()
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *Store) ListAccountTransactions(ctx context.Context, accountID string, limit int) ([]domain.AccountTransaction, error) {
	query := `
		SELECT id, account_id, type, amount_cents, sale_id, line_ordinal, withdrawal_id, description, actor, created_at
		FROM account_transactions
	`
	args := []any{}
	if accountID != "" {
		query += ` WHERE account_id = $1`
		args = append(args, accountID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.AccountTransaction, 0, 64)
	for rows.Next() {
		var tx domain.AccountTransaction
		var saleID, withdrawalID, description sql.NullString
		var lineOrdinal sql.NullInt64
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Type, &tx.AmountCents, &saleID, &lineOrdinal,
			&withdrawalID, &description, &tx.Actor, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.SaleID = saleID.String
		tx.WithdrawalID = withdrawalID.String
		tx.Description = description.String
		if lineOrdinal.Valid {
			ordinal := int(lineOrdinal.Int64)
			tx.LineOrdinal = &ordinal
		}
		tx.CreatedAt = tx.CreatedAt.UTC()
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

// postAccountTx inserts a ledger row and moves the cached balance inside the
// caller's transaction. Debits fail on insufficient balance.
func postAccountTx(ctx context.Context, pgTx *sql.Tx, tx domain.AccountTransaction) (domain.AccountTransaction, error) {
	if tx.AmountCents < 1 {
		return domain.AccountTransaction{}, store.ErrInvalidRequest
	}
	if tx.ID == "" {
		tx.ID = xid.New("atx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	var delta int64
	switch tx.Type {
	case domain.AccountTxCredit:
		delta = tx.AmountCents
	case domain.AccountTxDebit:
		var balance int64
		err := pgTx.QueryRowContext(ctx, `
			SELECT balance_cents FROM accounts WHERE id = $1 FOR UPDATE
		`, tx.AccountID).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AccountTransaction{}, store.ErrNotFound
		}
		if err != nil {
			return domain.AccountTransaction{}, err
		}
		if balance < tx.AmountCents {
			return domain.AccountTransaction{}, store.ErrInsufficientFunds
		}
		delta = -tx.AmountCents
	default:
		return domain.AccountTransaction{}, store.ErrInvalidRequest
	}

	res, err := pgTx.ExecContext(ctx, `
		UPDATE accounts
		SET balance_cents = balance_cents + $2
		WHERE id = $1
	`, tx.AccountID, delta)
	if err != nil {
		return domain.AccountTransaction{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.AccountTransaction{}, err
	}
	if affected == 0 {
		return domain.AccountTransaction{}, store.ErrNotFound
	}

	var ordinal any
	if tx.LineOrdinal != nil {
		ordinal = *tx.LineOrdinal
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO account_transactions (id, account_id, type, amount_cents, sale_id, line_ordinal, withdrawal_id, description, actor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, tx.ID, tx.AccountID, tx.Type, tx.AmountCents, nullIfEmpty(tx.SaleID), ordinal,
		nullIfEmpty(tx.WithdrawalID), nullIfEmpty(tx.Description), tx.Actor, tx.CreatedAt)
	if err != nil {
		return domain.AccountTransaction{}, err
	}
	return tx, nil
}

// standardAccounts locks the four standard accounts and returns their ids by
// name. Missing rows fail the whole operation.
func standardAccounts(ctx context.Context, pgTx *sql.Tx) (map[string]string, error) {
	names := []string{
		domain.AccountInvestment,
		domain.AccountProfit,
		domain.AccountRent,
		domain.AccountRemainingUtility,
	}
	rows, err := pgTx.QueryContext(ctx, `
		SELECT id, name FROM accounts WHERE name = ANY($1) FOR UPDATE
	`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]string, len(names))
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		ids[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) != len(names) {
		return nil, store.ErrStandardAccountsMissing
	}
	return ids, nil
}

// partnerAccountID resolves where a startup line's maker share lands: the
// category's own account when it carries one, the shared profit account
// otherwise.
func partnerAccountID(ctx context.Context, pgTx *sql.Tx, categoryID string, standard map[string]string) (string, error) {
	if categoryID == "" {
		return standard[domain.AccountProfit], nil
	}
	var accountID sql.NullString
	err := pgTx.QueryRowContext(ctx, `
		SELECT account_id FROM categories WHERE id = $1
	`, categoryID).Scan(&accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return standard[domain.AccountProfit], nil
	}
	if err != nil {
		return "", err
	}
	if accountID.Valid && accountID.String != "" {
		return accountID.String, nil
	}
	return standard[domain.AccountProfit], nil
}

type lockedLine struct {
	ordinal        int
	sku            string
	categoryID     string
	qty            int
	totalCents     int64
	totalCostCents int64
	accounted      bool
}

func lockSaleLines(ctx context.Context, pgTx *sql.Tx, saleID string) (string, []lockedLine, error) {
	var status string
	err := pgTx.QueryRowContext(ctx, `
		SELECT status FROM sales WHERE id = $1 FOR UPDATE
	`, saleID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, store.ErrNotFound
	}
	if err != nil {
		return "", nil, err
	}

	rows, err := pgTx.QueryContext(ctx, `
		SELECT ordinal, sku, category_id, qty, total_cents, total_cost_cents, accounted
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY ordinal
		FOR UPDATE
	`, saleID)
	if err != nil {
		return "", nil, err
	}
	defer rows.Close()

	lines := make([]lockedLine, 0, 8)
	for rows.Next() {
		var line lockedLine
		var categoryID sql.NullString
		if err := rows.Scan(&line.ordinal, &line.sku, &categoryID, &line.qty, &line.totalCents, &line.totalCostCents, &line.accounted); err != nil {
			return "", nil, err
		}
		line.categoryID = categoryID.String
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return "", nil, err
	}
	return status, lines, nil
}

// splitLeg is one credit posted while accounting a line.
type splitLeg struct {
	accountID string
	amount    int64
	desc      string
}

func postSplit(ctx context.Context, pgTx *sql.Tx, saleID string, line lockedLine, legs []splitLeg, rentCents int64, actor string) ([]domain.AccountTransaction, error) {
	ordinal := line.ordinal
	now := time.Now().UTC()
	txs := make([]domain.AccountTransaction, 0, len(legs))
	for _, leg := range legs {
		if leg.amount == 0 {
			continue
		}
		tx, err := postAccountTx(ctx, pgTx, domain.AccountTransaction{
			AccountID:   leg.accountID,
			Type:        domain.AccountTxCredit,
			AmountCents: leg.amount,
			SaleID:      saleID,
			LineOrdinal: &ordinal,
			Description: leg.desc + " for " + line.sku,
			Actor:       actor,
			CreatedAt:   now,
		})
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	res, err := pgTx.ExecContext(ctx, `
		UPDATE sale_lines
		SET accounted = true, rent_cents = $3
		WHERE sale_id = $1 AND ordinal = $2 AND accounted = false
	`, saleID, line.ordinal, rentCents)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrAlreadyAccounted
	}
	return txs, nil
}

// DistributeLine accounts one line from a caller-computed split. Startup
// lines post profit, a partner share, and optional rent; house lines post
// profit, cost recovery into investment, and optional rent. The
// remaining_utility leg belongs to batch distribution only.
func (s *Store) DistributeLine(ctx context.Context, saleID string, lineOrdinal int, split domain.LineSplit, actor string) ([]domain.AccountTransaction, error) {
	if split.ProfitCents < 0 || split.InvestmentCents < 0 || split.RentCents < 0 || split.PartnerCents < 0 {
		return nil, store.ErrSplitMismatch
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	status, lines, err := lockSaleLines(ctx, pgTx, saleID)
	if err != nil {
		return nil, err
	}
	if status == domain.SaleStatusCancelled {
		return nil, store.ErrSaleCancelled
	}

	var target *lockedLine
	for i := range lines {
		if lines[i].ordinal == lineOrdinal {
			target = &lines[i]
			break
		}
	}
	if target == nil {
		return nil, store.ErrNotFound
	}
	if target.accounted {
		return nil, store.ErrAlreadyAccounted
	}

	rule, err := lineCommissionRule(ctx, pgTx, target.categoryID)
	if err != nil {
		return nil, err
	}
	standard, err := standardAccounts(ctx, pgTx)
	if err != nil {
		return nil, err
	}

	legs := make([]splitLeg, 0, 3)
	if rule.Startup {
		if split.PartnerAccountID == "" || split.InvestmentCents != 0 {
			return nil, store.ErrSplitMismatch
		}
		if split.RentCents > split.ProfitCents {
			return nil, store.ErrSplitMismatch
		}
		if split.ProfitCents+split.PartnerCents != target.totalCents {
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
		potential := target.totalCents - target.totalCostCents
		if split.RentCents > potential {
			return nil, store.ErrSplitMismatch
		}
		if split.ProfitCents != potential-split.RentCents {
			return nil, store.ErrSplitMismatch
		}
		if split.InvestmentCents != target.totalCostCents {
			return nil, store.ErrSplitMismatch
		}
		legs = append(legs,
			splitLeg{standard[domain.AccountProfit], split.ProfitCents, "profit"},
			splitLeg{standard[domain.AccountInvestment], split.InvestmentCents, "cost recovery"},
			splitLeg{standard[domain.AccountRent], split.RentCents, "rent share"},
		)
	}

	txs, err := postSplit(ctx, pgTx, saleID, *target, legs, split.RentCents, actor)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return txs, nil
}

// DistributeBatch accounts every line of a sale with engine-computed splits.
// Rents maps line ordinals to the rent carved out of each line's profit;
// ordinals absent from the map take zero rent.
func (s *Store) DistributeBatch(ctx context.Context, saleID string, rents map[int]int64, actor string) (*domain.DistributeBatchResponse, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	status, lines, err := lockSaleLines(ctx, pgTx, saleID)
	if err != nil {
		return nil, err
	}
	if status == domain.SaleStatusCancelled {
		return nil, store.ErrSaleCancelled
	}

	standard, err := standardAccounts(ctx, pgTx)
	if err != nil {
		return nil, err
	}

	accounted := 0
	for _, line := range lines {
		if line.accounted {
			return nil, store.ErrAlreadyAccounted
		}
		rule, err := lineCommissionRule(ctx, pgTx, line.categoryID)
		if err != nil {
			return nil, err
		}
		split, err := ledger.ComputeSplit(domain.SaleLine{
			SKU:            line.sku,
			Qty:            line.qty,
			TotalCents:     line.totalCents,
			TotalCostCents: line.totalCostCents,
		}, rule, rents[line.ordinal])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %s", store.ErrSplitMismatch, line.ordinal, err)
		}

		legs := make([]splitLeg, 0, 4)
		legs = append(legs, splitLeg{standard[domain.AccountProfit], split.ProfitCents, "profit"})
		if split.Startup {
			partner := split.PartnerAccountID
			if partner == "" {
				partner, err = partnerAccountID(ctx, pgTx, line.categoryID, standard)
				if err != nil {
					return nil, err
				}
			}
			legs = append(legs, splitLeg{partner, split.PartnerCents, "maker share"})
		} else {
			legs = append(legs, splitLeg{standard[domain.AccountInvestment], split.InvestmentCents, "cost recovery"})
		}
		legs = append(legs,
			splitLeg{standard[domain.AccountRent], split.RentCents, "rent share"},
			splitLeg{standard[domain.AccountRemainingUtility], split.RemainingCents, "remaining utility"},
		)

		if _, err := postSplit(ctx, pgTx, saleID, line, legs, split.RentCents, actor); err != nil {
			return nil, err
		}
		accounted++
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &domain.DistributeBatchResponse{
		SaleID:         saleID,
		LinesAccounted: accounted,
	}, nil
}

func lineCommissionRule(ctx context.Context, pgTx *sql.Tx, categoryID string) (ledger.CommissionRule, error) {
	if categoryID == "" {
		return ledger.CommissionRule{Type: domain.CommissionTypeNone}, nil
	}
	var cat domain.Category
	var accountID sql.NullString
	err := pgTx.QueryRowContext(ctx, `
		SELECT id, startup, commission_type, commission_percent, commission_cents, account_id
		FROM categories
		WHERE id = $1
	`, categoryID).Scan(&cat.ID, &cat.Startup, &cat.CommissionType, &cat.CommissionPercent, &cat.CommissionCents, &accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.CommissionRule{Type: domain.CommissionTypeNone}, nil
	}
	if err != nil {
		return ledger.CommissionRule{}, err
	}
	cat.AccountID = accountID.String
	return ledger.RuleForCategory(&cat), nil
}

func (s *Store) CreateWithdrawal(ctx context.Context, withdrawal domain.Withdrawal) (*domain.Withdrawal, error) {
	if withdrawal.AmountCents < 1 || strings.TrimSpace(withdrawal.Actor) == "" {
		return nil, store.ErrInvalidRequest
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var openDrawers int
	if err := pgTx.QueryRowContext(ctx, `
		SELECT count(*) FROM cash_registers WHERE status = 'open'
	`).Scan(&openDrawers); err != nil {
		return nil, err
	}
	if openDrawers > 0 {
		return nil, store.ErrDrawerOpen
	}

	if withdrawal.ID == "" {
		withdrawal.ID = xid.New("wdr")
	}
	if withdrawal.CreatedAt.IsZero() {
		withdrawal.CreatedAt = time.Now().UTC()
	}
	withdrawal.Status = domain.WithdrawalStatusCompleted

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO withdrawals (id, account_id, amount_cents, description, status, actor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, withdrawal.ID, withdrawal.AccountID, withdrawal.AmountCents,
		nullIfEmpty(withdrawal.Description), withdrawal.Status, withdrawal.Actor, withdrawal.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if _, err := postAccountTx(ctx, pgTx, domain.AccountTransaction{
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

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := withdrawal
	return &created, nil
}

func (s *Store) ListWithdrawals(ctx context.Context, accountID string, limit int) ([]domain.Withdrawal, error) {
	query := `
		SELECT id, account_id, amount_cents, description, status, actor, created_at
		FROM withdrawals
	`
	args := []any{}
	if accountID != "" {
		query += ` WHERE account_id = $1`
		args = append(args, accountID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	withdrawals := make([]domain.Withdrawal, 0, 16)
	for rows.Next() {
		var w domain.Withdrawal
		var description sql.NullString
		if err := rows.Scan(&w.ID, &w.AccountID, &w.AmountCents, &description, &w.Status, &w.Actor, &w.CreatedAt); err != nil {
			return nil, err
		}
		w.Description = description.String
		w.CreatedAt = w.CreatedAt.UTC()
		withdrawals = append(withdrawals, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return withdrawals, nil
}

func (s *Store) GetDailyReport(ctx context.Context, from time.Time, to time.Time) (domain.DailyReport, error) {
	report := domain.DailyReport{
		Date:      from.UTC().Format("2006-01-02"),
		ByPayment: make([]domain.DailyReportPayment, 0, 3),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT count(*), COALESCE(SUM(total_cents), 0)
		FROM sales
		WHERE created_at >= $1 AND created_at < $2 AND status <> 'cancelled'
	`, from, to).Scan(&report.Sales, &report.GrossSalesCents)
	if err != nil {
		return domain.DailyReport{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(l.total_cost_cents), 0)
		FROM sale_lines l
		JOIN sales s ON s.id = l.sale_id
		WHERE s.created_at >= $1 AND s.created_at < $2 AND s.status <> 'cancelled'
	`, from, to).Scan(&report.CostCents)
	if err != nil {
		return domain.DailyReport{}, err
	}
	report.ProfitCents = report.GrossSalesCents - report.CostCents

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.method, count(DISTINCT p.sale_id), COALESCE(SUM(p.amount_cents), 0)
		FROM payments p
		JOIN sales s ON s.id = p.sale_id
		WHERE s.created_at >= $1 AND s.created_at < $2 AND s.status <> 'cancelled'
		GROUP BY p.method
		ORDER BY p.method
	`, from, to)
	if err != nil {
		return domain.DailyReport{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var entry domain.DailyReportPayment
		if err := rows.Scan(&entry.Method, &entry.Sales, &entry.TotalCents); err != nil {
			return domain.DailyReport{}, err
		}
		report.ByPayment = append(report.ByPayment, entry)
	}
	if err := rows.Err(); err != nil {
		return domain.DailyReport{}, err
	}

	return report, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType,
		nullIfEmpty(entry.EntityID), nullIfEmpty(entry.Detail), entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	query := `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
	`
	args := []any{from, to}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var entry domain.AuditLog
		var entityID, detail sql.NullString
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entityID, &detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.EntityID = entityID.String
		entry.Detail = detail.String
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidRequest
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

type drawerScanner interface {
	Scan(dest ...any) error
}

func scanDrawer(row drawerScanner) (*domain.CashRegister, error) {
	var drawer domain.CashRegister
	var closedBy, notes sql.NullString
	var closedAt sql.NullTime
	if err := row.Scan(&drawer.ID, &drawer.Status, &drawer.InitialBalanceCents, &drawer.CurrentBalanceCents,
		&drawer.OpenedBy, &closedBy, &notes, &drawer.OpenedAt, &closedAt); err != nil {
		return nil, err
	}
	drawer.ClosedBy = closedBy.String
	drawer.Notes = notes.String
	drawer.OpenedAt = drawer.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		drawer.ClosedAt = &at
	}
	return &drawer, nil
}

func scanDrawerRow(row *sql.Row) (*domain.CashRegister, error) {
	return scanDrawer(row)
}

func validPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodTransfer, domain.PaymentMethodCard:
		return true
	}
	return false
}

func uniqueLineSKUs(lines []domain.SaleLine) []string {
	if len(lines) == 0 {
		return nil
	}

	set := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if line.SKU == "" {
			continue
		}
		set[line.SKU] = struct{}{}
	}

	skus := make([]string, 0, len(set))
	for sku := range set {
		skus = append(skus, sku)
	}
	sort.Strings(skus)
	return skus
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
