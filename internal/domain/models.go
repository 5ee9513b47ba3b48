package domain

import "time"

type Product struct {
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	CategoryID string    `json:"category_id"`
	PriceCents int64     `json:"price_cents"`
	StockQty   int       `json:"stock_qty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	CategoryID string `json:"category_id"`
	PriceCents int64  `json:"price_cents"`
}

type ProductUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	CategoryID *string `json:"category_id,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
	Active     *bool   `json:"active,omitempty"`
}

type Category struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Startup           bool      `json:"startup"`
	CommissionType    string    `json:"commission_type"`
	CommissionPercent float64   `json:"commission_percent,omitempty"`
	CommissionCents   int64     `json:"commission_cents,omitempty"`
	AccountID         string    `json:"account_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type CategoryCreateRequest struct {
	Name              string  `json:"name"`
	Startup           bool    `json:"startup"`
	CommissionType    string  `json:"commission_type"`
	CommissionPercent float64 `json:"commission_percent,omitempty"`
	CommissionCents   int64   `json:"commission_cents,omitempty"`
	AccountID         string  `json:"account_id,omitempty"`
}

type PurchaseLot struct {
	ID            string    `json:"id"`
	SKU           string    `json:"sku"`
	UnitCostCents int64     `json:"unit_cost_cents"`
	QtyReceived   int       `json:"qty_received"`
	QtyAvailable  int       `json:"qty_available"`
	Active        bool      `json:"active"`
	Notes         string    `json:"notes,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
}

type LotReceiveRequest struct {
	SKU           string `json:"sku"`
	Qty           int    `json:"qty"`
	UnitCostCents int64  `json:"unit_cost_cents"`
	Notes         string `json:"notes"`
}

type LotListResponse struct {
	Lots []PurchaseLot `json:"lots"`
}

// SaleLine carries both the price and the FIFO cost side of a sold item.
// Ordinal is assigned at sale creation and is the stable handle accounting
// operations use to target a line.
type SaleLine struct {
	Ordinal        int    `json:"ordinal"`
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	CategoryID     string `json:"category_id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	TotalCents     int64  `json:"total_cents"`
	UnitCostCents  int64  `json:"unit_cost_cents"`
	TotalCostCents int64  `json:"total_cost_cents"`
	RentCents      int64  `json:"rent_cents"`
	Accounted      bool   `json:"accounted"`
}

type Sale struct {
	ID          string     `json:"id"`
	Buyer       string     `json:"buyer,omitempty"`
	Status      string     `json:"status"`
	TotalCents  int64      `json:"total_cents"`
	PaidCents   int64      `json:"paid_cents"`
	Lines       []SaleLine `json:"lines"`
	Payments    []Payment  `json:"payments"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

type SaleLineRequest struct {
	SKU            string `json:"sku"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type PaymentRequest struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}

type SaleCreateRequest struct {
	Buyer      string            `json:"buyer"`
	Lines      []SaleLineRequest `json:"lines"`
	Payments   []PaymentRequest  `json:"payments"`
	TotalCents int64             `json:"total_cents"`
}

type SaleCancelRequest struct {
	ManagerPIN string `json:"manager_pin"`
}

type SaleResponse struct {
	Sale Sale `json:"sale"`
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}

type Payment struct {
	ID           string    `json:"id"`
	SaleID       string    `json:"sale_id"`
	Method       string    `json:"method"`
	AmountCents  int64     `json:"amount_cents"`
	Reference    string    `json:"reference,omitempty"`
	DrawerID     string    `json:"drawer_id,omitempty"`
	RegisteredBy string    `json:"registered_by"`
	PaidAt       time.Time `json:"paid_at"`
}

type CashRegister struct {
	ID                  string     `json:"id"`
	Status              string     `json:"status"`
	InitialBalanceCents int64      `json:"initial_balance_cents"`
	CurrentBalanceCents int64      `json:"current_balance_cents"`
	OpenedBy            string     `json:"opened_by"`
	ClosedBy            string     `json:"closed_by,omitempty"`
	Notes               string     `json:"notes,omitempty"`
	OpenedAt            time.Time  `json:"opened_at"`
	ClosedAt            *time.Time `json:"closed_at,omitempty"`
}

type DrawerOpenRequest struct {
	InitialBalanceCents int64  `json:"initial_balance_cents"`
	Notes               string `json:"notes"`
}

type DrawerCloseRequest struct {
	Notes string `json:"notes"`
}

type DrawerResponse struct {
	Drawer CashRegister `json:"drawer"`
}

type DrawerListResponse struct {
	Drawers []CashRegister `json:"drawers"`
}

type CashCut struct {
	ID                 string    `json:"id"`
	DrawerID           string    `json:"drawer_id"`
	NewDrawerID        string    `json:"new_drawer_id"`
	BalanceBeforeCents int64     `json:"balance_before_cents"`
	BalanceAfterCents  int64     `json:"balance_after_cents"`
	ExtractedCents     int64     `json:"extracted_cents"`
	Operator           string    `json:"operator"`
	CreatedAt          time.Time `json:"created_at"`
}

type CashCutRequest struct {
	NewInitialBalanceCents int64 `json:"new_initial_balance_cents"`
}

type CashCutResponse struct {
	Cut CashCut `json:"cut"`
}

type CashCutListResponse struct {
	Cuts []CashCut `json:"cuts"`
}

type Account struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	BalanceCents int64     `json:"balance_cents"`
	CategoryID   string    `json:"category_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type AccountCreateRequest struct {
	Name       string `json:"name"`
	CategoryID string `json:"category_id,omitempty"`
}

type AccountListResponse struct {
	Accounts []Account `json:"accounts"`
}

type AccountTransaction struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	Type         string    `json:"type"`
	AmountCents  int64     `json:"amount_cents"`
	SaleID       string    `json:"sale_id,omitempty"`
	LineOrdinal  *int      `json:"line_ordinal,omitempty"`
	WithdrawalID string    `json:"withdrawal_id,omitempty"`
	Description  string    `json:"description,omitempty"`
	Actor        string    `json:"actor"`
	CreatedAt    time.Time `json:"created_at"`
}

type AccountTransactionListResponse struct {
	Transactions []AccountTransaction `json:"transactions"`
}

// LineSplit is the caller-computed breakdown for distributing one sale line.
// Startup (consignment) lines carry a partner pair instead of an investment
// leg; house lines carry the exact profit left after rent.
type LineSplit struct {
	ProfitCents      int64  `json:"profit_cents"`
	InvestmentCents  int64  `json:"investment_cents,omitempty"`
	RentCents        int64  `json:"rent_cents,omitempty"`
	PartnerAccountID string `json:"partner_account_id,omitempty"`
	PartnerCents     int64  `json:"partner_cents,omitempty"`
}

type DistributeLineRequest struct {
	SaleID      string    `json:"sale_id"`
	LineOrdinal int       `json:"line_ordinal"`
	Split       LineSplit `json:"split"`
}

// LineRent pairs a sale line with the rent the caller wants carved out of
// that line's profit during a batch distribution.
type LineRent struct {
	Ordinal   int   `json:"ordinal"`
	RentCents int64 `json:"rent_cents"`
}

type DistributeBatchRequest struct {
	SaleID string     `json:"sale_id"`
	Rents  []LineRent `json:"rents,omitempty"`
}

type DistributeBatchResponse struct {
	SaleID         string `json:"sale_id"`
	LinesAccounted int    `json:"lines_accounted"`
}

type Withdrawal struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	AmountCents int64     `json:"amount_cents"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Actor       string    `json:"actor"`
	CreatedAt   time.Time `json:"created_at"`
}

type WithdrawalCreateRequest struct {
	AccountID   string `json:"account_id"`
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
}

type WithdrawalListResponse struct {
	Withdrawals []Withdrawal `json:"withdrawals"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type DailyReportPayment struct {
	Method     string `json:"method"`
	Sales      int64  `json:"sales"`
	TotalCents int64  `json:"total_cents"`
}

type DailyReport struct {
	Date            string               `json:"date"`
	Sales           int64                `json:"sales"`
	GrossSalesCents int64                `json:"gross_sales_cents"`
	CostCents       int64                `json:"cost_cents"`
	ProfitCents     int64                `json:"profit_cents"`
	ByPayment       []DailyReportPayment `json:"by_payment"`
}

const (
	SaleStatusPending   = "pending"
	SaleStatusPaid      = "paid"
	SaleStatusCancelled = "cancelled"
)

const (
	PaymentMethodCash     = "cash"
	PaymentMethodTransfer = "transfer"
	PaymentMethodCard     = "card"
)

const (
	DrawerStatusOpen   = "open"
	DrawerStatusClosed = "closed"
)

const (
	AccountTxCredit = "credit"
	AccountTxDebit  = "debit"
)

const (
	CommissionTypePercentage = "percentage"
	CommissionTypeFixed      = "fixed"
	CommissionTypeNone       = "none"
)

const (
	WithdrawalStatusCompleted = "completed"
)

// Standard ledger accounts every deployment carries.
const (
	AccountInvestment       = "investment"
	AccountProfit           = "profit"
	AccountRent             = "rent"
	AccountRemainingUtility = "remaining_utility"
)
