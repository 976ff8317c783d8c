package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"kasastok/backend/internal/domain"
	"kasastok/backend/internal/store"
	"kasastok/backend/internal/xid"
)

// ProductLookup resolves a product by id. Both the repository read path and
// a unit of work's locked read satisfy it.
type ProductLookup func(ctx context.Context, id string) (*domain.Product, error)

// SaleRecorder assembles Sale aggregates. It does not touch stock.
type SaleRecorder struct {
	ids   xid.Generator
	clock Clock
}

// SaleBuilder accumulates lines for one sale. Prices are copied from the
// product at the moment the line is added and never re-read.
type SaleBuilder struct {
	ids  xid.Generator
	sale domain.Sale
}

func (r SaleRecorder) Start(paymentType domain.PaymentType, note string) *SaleBuilder {
	return &SaleBuilder{
		ids: r.ids,
		sale: domain.Sale{
			ID:          r.ids.New("sale"),
			CreatedAt:   r.clock.Now(),
			PaymentType: paymentType,
			Note:        strings.TrimSpace(note),
			Subtotal:    decimal.Zero,
			Items:       make([]domain.SaleItem, 0, 4),
		},
	}
}

func (b *SaleBuilder) AddLine(product domain.Product, qty float64) (domain.SaleItem, error) {
	if !validQuantity(qty) {
		return domain.SaleItem{}, domain.ErrInvalidQuantity
	}

	unitPrice := domain.RoundMoney(product.SalePrice)
	costPrice := domain.RoundMoney(product.CostPrice)
	item := domain.SaleItem{
		ID:          b.ids.New("item"),
		SaleID:      b.sale.ID,
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    qty,
		UnitPrice:   unitPrice,
		CostPrice:   costPrice,
		Subtotal:    domain.MulQty(unitPrice, qty),
		Profit:      domain.MulQty(unitPrice.Sub(costPrice), qty),
	}
	b.sale.Items = append(b.sale.Items, item)
	b.sale.Subtotal = b.sale.Subtotal.Add(item.Subtotal)
	return item, nil
}

func (b *SaleBuilder) Sale() domain.Sale {
	sale := b.sale
	sale.Items = append([]domain.SaleItem(nil), b.sale.Items...)
	return sale
}

// BuildSale resolves every line through lookup and returns an unpersisted sale.
func (r SaleRecorder) BuildSale(ctx context.Context, lookup ProductLookup, paymentType domain.PaymentType, note string, lines []domain.SaleLine) (domain.Sale, error) {
	if len(lines) == 0 {
		return domain.Sale{}, domain.ErrEmptyCart
	}

	builder := r.Start(paymentType, note)
	for _, line := range lines {
		if !validQuantity(line.Quantity) {
			return domain.Sale{}, domain.ErrInvalidQuantity
		}
		product, err := lookup(ctx, line.ProductID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, &domain.ProductNotFoundError{ProductID: line.ProductID}
		}
		if err != nil {
			return domain.Sale{}, fmt.Errorf("load product %s: %w", line.ProductID, err)
		}
		if _, err := builder.AddLine(*product, line.Quantity); err != nil {
			return domain.Sale{}, err
		}
	}
	return builder.Sale(), nil
}
