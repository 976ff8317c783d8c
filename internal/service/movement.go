package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"kasastok/backend/internal/domain"
	"kasastok/backend/internal/store"
	"kasastok/backend/internal/xid"
)

// MovementLogger appends the stock audit trail. Rows are never edited.
type MovementLogger struct {
	ids   xid.Generator
	clock Clock
}

func (l MovementLogger) LogMovement(ctx context.Context, tx store.Tx, productID string, qty float64, unitPrice decimal.Decimal, kind domain.MovementKind) (domain.StockMovement, error) {
	if !validQuantity(qty) {
		return domain.StockMovement{}, domain.ErrInvalidQuantity
	}

	unitPrice = domain.RoundMoney(unitPrice)
	movement := domain.StockMovement{
		ID:        l.ids.New("mov"),
		ProductID: productID,
		Quantity:  qty,
		UnitPrice: unitPrice,
		Total:     domain.MulQty(unitPrice, qty),
		Kind:      kind,
		CreatedAt: l.clock.Now(),
	}
	if err := tx.InsertStockMovement(ctx, movement); err != nil {
		return domain.StockMovement{}, fmt.Errorf("insert %s movement for %s: %w", kind, productID, err)
	}
	return movement, nil
}
