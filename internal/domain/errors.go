package domain

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrEmptyCart          = errors.New("cart has no items")
	ErrProductNotFound    = errors.New("product not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidQuantity    = errors.New("quantity must be greater than zero")
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrTransactionFailed  = errors.New("transaction failed")
	ErrInvalidProduct     = errors.New("invalid product")
	ErrInvalidPaymentType = errors.New("invalid payment type")
	ErrDuplicateBarcode   = errors.New("barcode already in use")
	ErrProductInUse       = errors.New("product is referenced by sales or movements")
	ErrInvalidLedgerEntry = errors.New("invalid cash entry")
	ErrSaleNotFound       = errors.New("sale not found")
)

type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %q not found", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return ErrProductNotFound }

type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   float64
	Available   float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %s, available %s",
		e.ProductName, formatQty(e.Requested), formatQty(e.Available))
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

func (e *InsufficientStockError) Shortfall() float64 {
	return SubQty(e.Requested, e.Available)
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

// IsValidation reports whether err is a caller-side rejection rather than an
// infrastructure fault.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrEmptyCart,
		ErrProductNotFound,
		ErrInsufficientStock,
		ErrInvalidQuantity,
		ErrInvalidAmount,
		ErrInvalidProduct,
		ErrInvalidPaymentType,
		ErrDuplicateBarcode,
		ErrProductInUse,
		ErrInvalidLedgerEntry,
		ErrSaleNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
