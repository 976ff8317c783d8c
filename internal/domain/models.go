package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	Barcode        string          `json:"barcode"`
	CostPrice      decimal.Decimal `json:"cost_price"`
	SalePrice      decimal.Decimal `json:"sale_price"`
	Stock          float64         `json:"stock"`
	Unit           string          `json:"unit"`
	HasExpiration  bool            `json:"has_expiration"`
	ExpirationDate *time.Time      `json:"expiration_date,omitempty"`
}

type ProductCreateRequest struct {
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	Barcode        string          `json:"barcode"`
	CostPrice      decimal.Decimal `json:"cost_price"`
	SalePrice      decimal.Decimal `json:"sale_price"`
	OpeningStock   float64         `json:"opening_stock"`
	Unit           string          `json:"unit"`
	ExpirationDate *time.Time      `json:"expiration_date,omitempty"`
	PaymentType    PaymentType     `json:"payment_type,omitempty"`
}

type ProductUpdateRequest struct {
	Name           *string          `json:"name,omitempty"`
	Category       *string          `json:"category,omitempty"`
	Barcode        *string          `json:"barcode,omitempty"`
	CostPrice      *decimal.Decimal `json:"cost_price,omitempty"`
	SalePrice      *decimal.Decimal `json:"sale_price,omitempty"`
	Unit           *string          `json:"unit,omitempty"`
	ExpirationDate *time.Time       `json:"expiration_date,omitempty"`
	ClearExpiry    bool             `json:"clear_expiration,omitempty"`
}

type Sale struct {
	ID          string          `json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	PaymentType PaymentType     `json:"payment_type"`
	Note        string          `json:"note,omitempty"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Items       []SaleItem      `json:"items"`
}

// Profit sums the captured per-line profit.
func (s Sale) Profit() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.Items {
		total = total.Add(item.Profit)
	}
	return total
}

// SaleItem holds prices copied from the product when the line was rung up.
// They are never re-derived from the live product.
type SaleItem struct {
	ID          string          `json:"id"`
	SaleID      string          `json:"sale_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    float64         `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Profit      decimal.Decimal `json:"profit"`
}

type SaleLine struct {
	ProductID string  `json:"product_id"`
	Quantity  float64 `json:"quantity"`
}

type CompleteSaleRequest struct {
	Items       []SaleLine  `json:"items"`
	PaymentType PaymentType `json:"payment_type"`
	Note        string      `json:"note,omitempty"`
}

type SalePreview struct {
	PaymentType PaymentType     `json:"payment_type"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Profit      decimal.Decimal `json:"profit"`
	Items       []SaleItem      `json:"items"`
}

type StockMovement struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Quantity  float64         `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
	Kind      MovementKind    `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
}

type PurchaseRequest struct {
	ProductID   string          `json:"product_id"`
	Quantity    float64         `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	PaymentType PaymentType     `json:"payment_type,omitempty"`
}

type PurchaseResult struct {
	Movement  StockMovement `json:"movement"`
	CashEntry CashEntry     `json:"cash_entry"`
	NewStock  float64       `json:"new_stock"`
}

type ProductCreateResult struct {
	Product   Product    `json:"product"`
	CashEntry *CashEntry `json:"cash_entry,omitempty"`
}

// CashEntry is one row of the append-only cash ledger. Amount is always
// positive; Type carries the sign.
type CashEntry struct {
	ID          string          `json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	Amount      decimal.Decimal `json:"amount"`
	Type        LedgerType      `json:"type"`
	Category    string          `json:"category"`
	PaymentType PaymentType     `json:"payment_type"`
	Description string          `json:"description"`
	Reference   string          `json:"reference,omitempty"`
}

// Signed returns the amount with the ledger sign applied.
func (e CashEntry) Signed() decimal.Decimal {
	if e.Type == LedgerExpense {
		return e.Amount.Neg()
	}
	return e.Amount
}

type CashEntryRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Type        LedgerType      `json:"type"`
	Category    string          `json:"category"`
	PaymentType PaymentType     `json:"payment_type,omitempty"`
	Description string          `json:"description"`
}

type CashFilter struct {
	From  time.Time
	To    time.Time
	Type  LedgerType
	Limit int
}

type CashTotals struct {
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
}

type CashSummary struct {
	Date    string          `json:"date"`
	Balance decimal.Decimal `json:"balance"`
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
}

type MovementFilter struct {
	ProductID string
	Limit     int
}

type ProductImportRow struct {
	Row            int
	Name           string
	Category       string
	Barcode        string
	CostPrice      decimal.Decimal
	SalePrice      decimal.Decimal
	OpeningStock   float64
	Unit           string
	ExpirationDate *time.Time
}

type ImportRowStatus struct {
	Row       int    `json:"row"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	ProductID string `json:"product_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type ImportResult struct {
	Created  int               `json:"created"`
	Rejected int               `json:"rejected"`
	Rows     []ImportRowStatus `json:"rows"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
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

type UserCreateRequest struct {
	Username string `json:"username" validate:"required,min=4,max=64"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	FullName string `json:"full_name" validate:"max=120"`
	Role     string `json:"role" validate:"omitempty,oneof=admin manager cashier"`
}

type User struct {
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	FullName  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

const (
	CategorySale            = "Sale"
	CategoryStockPurchase   = "Stock Purchase"
	CategoryOpeningPurchase = "Stock Purchase (opening)"
)

const (
	ImportStatusCreated  = "created"
	ImportStatusRejected = "rejected"
)
