package store

import (
	"context"
	"errors"
	"time"

	"kasastok/backend/internal/domain"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrDuplicate  = errors.New("duplicate key")
	ErrReferenced = errors.New("row is still referenced")
	ErrConflict   = errors.New("concurrent update conflict")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	// UpdateProduct writes catalog fields only. Stock is owned by units of work.
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListStockMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error)
	ListCashEntries(ctx context.Context, filter domain.CashFilter) ([]domain.CashEntry, error)
	// GetCashTotals sums the ledger in [from, to). A zero bound is open.
	GetCashTotals(ctx context.Context, from time.Time, to time.Time) (domain.CashTotals, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	// WithTx runs fn as one unit of work. Nothing fn wrote is visible to
	// other callers unless fn returns nil and the commit succeeds.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write side of a unit of work. GetProductForUpdate holds the
// product row until the unit of work ends.
type Tx interface {
	GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error)
	SetProductStock(ctx context.Context, id string, stock float64) error
	InsertProduct(ctx context.Context, product domain.Product) error
	InsertSale(ctx context.Context, sale domain.Sale) error
	InsertStockMovement(ctx context.Context, movement domain.StockMovement) error
	InsertCashEntry(ctx context.Context, entry domain.CashEntry) error
}
