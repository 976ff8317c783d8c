package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"kasastok/backend/internal/domain"
	"kasastok/backend/internal/store"
	"kasastok/backend/internal/xid"
)

// CashPost is one entry to append to the cash ledger.
type CashPost struct {
	Amount      decimal.Decimal
	Type        domain.LedgerType
	Category    string
	PaymentType domain.PaymentType
	Description string
	Reference   string
}

// CashPoster appends entries to the cash ledger. The balance is never
// stored; readers derive it from the entries.
type CashPoster struct {
	ids   xid.Generator
	clock Clock
}

func (p CashPoster) Post(ctx context.Context, tx store.Tx, post CashPost) (domain.CashEntry, error) {
	amount := domain.RoundMoney(post.Amount)
	if !amount.IsPositive() {
		return domain.CashEntry{}, domain.ErrInvalidAmount
	}
	if !post.Type.Valid() {
		return domain.CashEntry{}, fmt.Errorf("%w: unknown type %q", domain.ErrInvalidLedgerEntry, post.Type)
	}
	if !post.PaymentType.Valid() {
		return domain.CashEntry{}, domain.ErrInvalidPaymentType
	}
	category := strings.TrimSpace(post.Category)
	if category == "" {
		return domain.CashEntry{}, fmt.Errorf("%w: category is required", domain.ErrInvalidLedgerEntry)
	}

	entry := domain.CashEntry{
		ID:          p.ids.New("cash"),
		CreatedAt:   p.clock.Now(),
		Amount:      amount,
		Type:        post.Type,
		Category:    category,
		PaymentType: post.PaymentType,
		Description: strings.TrimSpace(post.Description),
		Reference:   post.Reference,
	}
	if err := tx.InsertCashEntry(ctx, entry); err != nil {
		return domain.CashEntry{}, fmt.Errorf("insert cash entry: %w", err)
	}
	return entry, nil
}
