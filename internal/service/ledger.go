package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"kasastok/backend/internal/domain"
	"kasastok/backend/internal/store"
)

const (
	defaultSaleListLimit     = 50
	defaultMovementListLimit = 100
	defaultCashListLimit     = 100
	maxListLimit             = 500
)

// PreviewSale prices a cart against the current catalog without locking or
// mutating anything. Stock is not checked; CompleteSale is the authority.
func (s *Service) PreviewSale(ctx context.Context, req domain.CompleteSaleRequest) (domain.SalePreview, error) {
	paymentType, err := s.paymentTypeOrDefault(req.PaymentType)
	if err != nil {
		return domain.SalePreview{}, err
	}
	sale, err := s.sales.BuildSale(ctx, s.repo.GetProduct, paymentType, req.Note, normalizeLines(req.Items))
	if err != nil {
		return domain.SalePreview{}, err
	}
	return domain.SalePreview{
		PaymentType: sale.PaymentType,
		Subtotal:    sale.Subtotal,
		Profit:      sale.Profit(),
		Items:       sale.Items,
	}, nil
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, clampLimit(limit, defaultSaleListLimit))
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if errors.Is(err, store.ErrNotFound) {
		return domain.Sale{}, domain.ErrSaleNotFound
	}
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListStockMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	filter.ProductID = strings.TrimSpace(filter.ProductID)
	filter.Limit = clampLimit(filter.Limit, defaultMovementListLimit)
	return s.repo.ListStockMovements(ctx, filter)
}

// PostCashEntry records a manual ledger entry such as rent or a till float,
// in its own unit of work.
func (s *Service) PostCashEntry(ctx context.Context, req domain.CashEntryRequest) (entry domain.CashEntry, err error) {
	defer func() { s.observe("post_cash_entry", err) }()

	if !req.Type.Valid() {
		return domain.CashEntry{}, fmt.Errorf("%w: type must be income or expense", domain.ErrInvalidLedgerEntry)
	}
	if !domain.RoundMoney(req.Amount).IsPositive() {
		return domain.CashEntry{}, domain.ErrInvalidAmount
	}
	paymentType, err := s.paymentTypeOrDefault(req.PaymentType)
	if err != nil {
		return domain.CashEntry{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		posted, err := s.cash.Post(ctx, tx, CashPost{
			Amount:      req.Amount,
			Type:        req.Type,
			Category:    req.Category,
			PaymentType: paymentType,
			Description: req.Description,
		})
		if err != nil {
			return err
		}
		entry = posted
		return nil
	})
	if err != nil {
		return domain.CashEntry{}, s.txError("post cash entry", err)
	}

	if actor, ok := ActorFromContext(ctx); ok {
		log.Printf("[service] cash %s %s (%s) posted by %s", entry.Type, entry.Amount.StringFixed(domain.MoneyScale), entry.Category, actor.Username)
	}
	return entry, nil
}

func (s *Service) ListCashEntries(ctx context.Context, filter domain.CashFilter) ([]domain.CashEntry, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: type must be income or expense", domain.ErrInvalidLedgerEntry)
	}
	filter.Limit = clampLimit(filter.Limit, defaultCashListLimit)
	return s.repo.ListCashEntries(ctx, filter)
}

// CashSummary reports one UTC day's income and expense and the all-time
// balance, all derived from the entries on read.
func (s *Service) CashSummary(ctx context.Context, date string) (domain.CashSummary, error) {
	day, err := parseDay(date, s.clock.Now())
	if err != nil {
		return domain.CashSummary{}, err
	}

	daily, err := s.repo.GetCashTotals(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return domain.CashSummary{}, err
	}
	allTime, err := s.repo.GetCashTotals(ctx, time.Time{}, time.Time{})
	if err != nil {
		return domain.CashSummary{}, err
	}

	return domain.CashSummary{
		Date:    day.Format(time.DateOnly),
		Balance: allTime.Income.Sub(allTime.Expense),
		Income:  daily.Income,
		Expense: daily.Expense,
	}, nil
}

func parseDay(date string, now time.Time) (time.Time, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		now = now.UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	day, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", domain.ErrInvalidLedgerEntry)
	}
	return day, nil
}

func clampLimit(limit int, fallback int) int {
	if limit < 1 {
		return fallback
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
