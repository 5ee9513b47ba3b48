package store

import (
	"context"
	"errors"
	"time"

	"crocheteria/backend/internal/domain"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrUserNotFound            = errors.New("user not found")
	ErrProductNotFound         = errors.New("product not found")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInvalidSale             = errors.New("invalid sale")
	ErrNoPayments              = errors.New("no payments")
	ErrPaymentsExceedTotal     = errors.New("payments exceed sale total")
	ErrInventoryConsistency    = errors.New("inventory consistency violation")
	ErrDrawerAlreadyOpen       = errors.New("a cash drawer is already open")
	ErrNoDrawerOpen            = errors.New("no cash drawer is open")
	ErrDrawerOpen              = errors.New("cash drawer is open")
	ErrAlreadyAccounted        = errors.New("sale line already accounted")
	ErrSplitMismatch           = errors.New("split does not match line total")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrStandardAccountsMissing = errors.New("standard accounts missing")
	ErrSaleCancelled           = errors.New("sale is cancelled")
)

type Repository interface {
	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	GetCategoryByID(ctx context.Context, id string) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)

	CreateLot(ctx context.Context, lot domain.PurchaseLot) (*domain.PurchaseLot, error)
	ListLots(ctx context.Context, sku string, includeEmpty bool, limit int) ([]domain.PurchaseLot, error)

	CreateSale(ctx context.Context, sale domain.Sale, payments []domain.Payment) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error)
	AddPayment(ctx context.Context, saleID string, payment domain.Payment) (*domain.Sale, error)
	CancelSale(ctx context.Context, saleID string, actor string, at time.Time) (*domain.Sale, error)

	OpenDrawer(ctx context.Context, drawer domain.CashRegister) (*domain.CashRegister, error)
	CloseDrawer(ctx context.Context, closedBy string, notes string, at time.Time) (*domain.CashRegister, error)
	CutDrawer(ctx context.Context, newInitialCents int64, operator string, at time.Time) (*domain.CashCut, error)
	GetOpenDrawer(ctx context.Context) (*domain.CashRegister, error)
	ListDrawers(ctx context.Context, limit int) ([]domain.CashRegister, error)
	ListCuts(ctx context.Context, limit int) ([]domain.CashCut, error)

	CreateAccount(ctx context.Context, account domain.Account) (*domain.Account, error)
	GetAccountByID(ctx context.Context, id string) (*domain.Account, error)
	GetAccountByName(ctx context.Context, name string) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	ListAccountTransactions(ctx context.Context, accountID string, limit int) ([]domain.AccountTransaction, error)

	DistributeLine(ctx context.Context, saleID string, lineOrdinal int, split domain.LineSplit, actor string) ([]domain.AccountTransaction, error)
	DistributeBatch(ctx context.Context, saleID string, rents map[int]int64, actor string) (*domain.DistributeBatchResponse, error)

	CreateWithdrawal(ctx context.Context, withdrawal domain.Withdrawal) (*domain.Withdrawal, error)
	ListWithdrawals(ctx context.Context, accountID string, limit int) ([]domain.Withdrawal, error)

	GetDailyReport(ctx context.Context, from time.Time, to time.Time) (domain.DailyReport, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
