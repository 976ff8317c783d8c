package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"kasastok/backend/internal/domain"
	"kasastok/backend/internal/store"
)

// StockLedger applies debits and credits to product stock inside a unit of
// work. It never writes movements or ledger entries; callers pair each call
// with the Movement Logger (and the Cash Poster where money moves).
type StockLedger struct{}

// TryDebit locks the product row, checks availability and decrements stock.
// The returned product carries the new stock.
func (StockLedger) TryDebit(ctx context.Context, tx store.Tx, productID string, qty float64) (*domain.Product, error) {
	if !validQuantity(qty) {
		return nil, domain.ErrInvalidQuantity
	}
	product, err := lockProduct(ctx, tx, productID)
	if err != nil {
		return nil, err
	}
	if domain.CmpQty(product.Stock, qty) < 0 {
		return nil, &domain.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Requested:   qty,
			Available:   product.Stock,
		}
	}

	product.Stock = domain.SubQty(product.Stock, qty)
	if err := tx.SetProductStock(ctx, product.ID, product.Stock); err != nil {
		return nil, fmt.Errorf("debit stock %s: %w", product.ID, err)
	}
	return product, nil
}

func (StockLedger) Credit(ctx context.Context, tx store.Tx, productID string, qty float64) (*domain.Product, error) {
	if !validQuantity(qty) {
		return nil, domain.ErrInvalidQuantity
	}
	product, err := lockProduct(ctx, tx, productID)
	if err != nil {
		return nil, err
	}

	product.Stock = domain.AddQty(product.Stock, qty)
	if err := tx.SetProductStock(ctx, product.ID, product.Stock); err != nil {
		return nil, fmt.Errorf("credit stock %s: %w", product.ID, err)
	}
	return product, nil
}

func lockProduct(ctx context.Context, tx store.Tx, productID string) (*domain.Product, error) {
	product, err := tx.GetProductForUpdate(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &domain.ProductNotFoundError{ProductID: productID}
	}
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", productID, err)
	}
	return product, nil
}

func validQuantity(qty float64) bool {
	return qty > 0 && !math.IsInf(qty, 0) && !math.IsNaN(qty)
}
