package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/singleflight"

	"kasastok/backend/internal/cache"
	"kasastok/backend/internal/domain"
	"kasastok/backend/internal/store"
	"kasastok/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// OperationRecorder receives one outcome per coordinated operation.
type OperationRecorder interface {
	RecordOperation(operation string, outcome string)
}

const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

type Config struct {
	DefaultPaymentType domain.PaymentType
}

type Option func(*Service)

func WithClock(clock Clock) Option {
	return func(s *Service) { s.clock = clock }
}

func WithIDGenerator(ids xid.Generator) Option {
	return func(s *Service) { s.ids = ids }
}

func WithBarcodeCache(c cache.BarcodeCache) Option {
	return func(s *Service) { s.barcodes = c }
}

func WithRecorder(r OperationRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

// Service is the transaction coordinator plus the catalog and read paths
// around it.
type Service struct {
	repo     store.Repository
	cfg      Config
	clock    Clock
	ids      xid.Generator
	barcodes cache.BarcodeCache
	recorder OperationRecorder
	lookups  singleflight.Group

	ledger    StockLedger
	sales     SaleRecorder
	movements MovementLogger
	cash      CashPoster
}

func New(repo store.Repository, cfg Config, opts ...Option) *Service {
	if !cfg.DefaultPaymentType.Valid() {
		cfg.DefaultPaymentType = domain.PaymentCash
	}

	s := &Service{
		repo:     repo,
		cfg:      cfg,
		clock:    systemClock{},
		ids:      xid.UUID{},
		barcodes: cache.NoopBarcodeCache{},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.sales = SaleRecorder{ids: s.ids, clock: s.clock}
	s.movements = MovementLogger{ids: s.ids, clock: s.clock}
	s.cash = CashPoster{ids: s.ids, clock: s.clock}
	return s
}

// CompleteSale debits stock line by line in submission order, records the
// sale with its items and movements, and posts one income entry for the
// subtotal. Either all of it commits or none of it does.
func (s *Service) CompleteSale(ctx context.Context, req domain.CompleteSaleRequest) (sale domain.Sale, err error) {
	defer func() { s.observe("complete_sale", err) }()

	if len(req.Items) == 0 {
		return domain.Sale{}, domain.ErrEmptyCart
	}
	paymentType, err := s.paymentTypeOrDefault(req.PaymentType)
	if err != nil {
		return domain.Sale{}, err
	}
	lines := normalizeLines(req.Items)
	for _, line := range lines {
		if !validQuantity(line.Quantity) {
			return domain.Sale{}, domain.ErrInvalidQuantity
		}
		if line.ProductID == "" {
			return domain.Sale{}, &domain.ProductNotFoundError{ProductID: line.ProductID}
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		builder := s.sales.Start(paymentType, req.Note)
		for _, line := range lines {
			product, err := s.ledger.TryDebit(ctx, tx, line.ProductID, line.Quantity)
			if err != nil {
				return err
			}
			if _, err := s.movements.LogMovement(ctx, tx, product.ID, line.Quantity, product.SalePrice, domain.MovementSale); err != nil {
				return err
			}
			if _, err := builder.AddLine(*product, line.Quantity); err != nil {
				return err
			}
		}

		built := builder.Sale()
		if err := tx.InsertSale(ctx, built); err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}
		if _, err := s.cash.Post(ctx, tx, CashPost{
			Amount:      built.Subtotal,
			Type:        domain.LedgerIncome,
			Category:    domain.CategorySale,
			PaymentType: paymentType,
			Description: fmt.Sprintf("Sale with %d item(s)", len(built.Items)),
			Reference:   built.ID,
		}); err != nil {
			return err
		}
		sale = built
		return nil
	})
	if err != nil {
		return domain.Sale{}, s.txError("complete sale", err)
	}
	return sale, nil
}

// RecordPurchaseMovement credits stock for a delivery and posts the matching
// expense referencing the movement.
func (s *Service) RecordPurchaseMovement(ctx context.Context, req domain.PurchaseRequest) (result domain.PurchaseResult, err error) {
	defer func() { s.observe("record_purchase", err) }()

	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return domain.PurchaseResult{}, &domain.ProductNotFoundError{ProductID: productID}
	}
	if !validQuantity(req.Quantity) {
		return domain.PurchaseResult{}, domain.ErrInvalidQuantity
	}
	if !domain.RoundMoney(req.UnitPrice).IsPositive() {
		return domain.PurchaseResult{}, domain.ErrInvalidAmount
	}
	paymentType, err := s.paymentTypeOrDefault(req.PaymentType)
	if err != nil {
		return domain.PurchaseResult{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := s.ledger.Credit(ctx, tx, productID, req.Quantity)
		if err != nil {
			return err
		}
		movement, err := s.movements.LogMovement(ctx, tx, product.ID, req.Quantity, req.UnitPrice, domain.MovementPurchase)
		if err != nil {
			return err
		}
		entry, err := s.cash.Post(ctx, tx, CashPost{
			Amount:      movement.Total,
			Type:        domain.LedgerExpense,
			Category:    domain.CategoryStockPurchase,
			PaymentType: paymentType,
			Description: fmt.Sprintf("Purchase of %s %s %s", formatQty(req.Quantity), product.Unit, product.Name),
			Reference:   movement.ID,
		})
		if err != nil {
			return err
		}
		result = domain.PurchaseResult{Movement: movement, CashEntry: entry, NewStock: product.Stock}
		return nil
	})
	if err != nil {
		return domain.PurchaseResult{}, s.txError("record purchase", err)
	}
	return result, nil
}

// CreateProductWithOpeningStock persists a new product and, when it arrives
// with stock that cost money, the opening expense.
func (s *Service) CreateProductWithOpeningStock(ctx context.Context, req domain.ProductCreateRequest) (result domain.ProductCreateResult, err error) {
	defer func() { s.observe("create_product", err) }()

	product, err := newProduct(req)
	if err != nil {
		return domain.ProductCreateResult{}, err
	}
	paymentType, err := s.paymentTypeOrDefault(req.PaymentType)
	if err != nil {
		return domain.ProductCreateResult{}, err
	}
	product.ID = s.ids.New("prd")

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertProduct(ctx, product); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return domain.ErrDuplicateBarcode
			}
			return fmt.Errorf("insert product: %w", err)
		}
		result = domain.ProductCreateResult{Product: product}

		opening := domain.MulQty(product.CostPrice, product.Stock)
		if !opening.IsPositive() {
			return nil
		}
		entry, err := s.cash.Post(ctx, tx, CashPost{
			Amount:      opening,
			Type:        domain.LedgerExpense,
			Category:    domain.CategoryOpeningPurchase,
			PaymentType: paymentType,
			Description: fmt.Sprintf("Opening stock of %s %s %s", formatQty(product.Stock), product.Unit, product.Name),
			Reference:   product.ID,
		})
		if err != nil {
			return err
		}
		result.CashEntry = &entry
		return nil
	})
	if err != nil {
		return domain.ProductCreateResult{}, s.txError("create product", err)
	}
	return result, nil
}

func newProduct(req domain.ProductCreateRequest) (domain.Product, error) {
	product := domain.Product{
		Name:           strings.TrimSpace(req.Name),
		Category:       strings.TrimSpace(req.Category),
		Barcode:        strings.TrimSpace(req.Barcode),
		CostPrice:      domain.RoundMoney(req.CostPrice),
		SalePrice:      domain.RoundMoney(req.SalePrice),
		Stock:          req.OpeningStock,
		Unit:           defaultString(strings.TrimSpace(req.Unit), "unit"),
		HasExpiration:  req.ExpirationDate != nil,
		ExpirationDate: req.ExpirationDate,
	}
	if product.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: name is required", domain.ErrInvalidProduct)
	}
	if product.CostPrice.IsNegative() || product.SalePrice.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: prices cannot be negative", domain.ErrInvalidProduct)
	}
	if product.Stock != 0 && !validQuantity(product.Stock) {
		return domain.Product{}, domain.ErrInvalidQuantity
	}
	return product, nil
}

func (s *Service) paymentTypeOrDefault(paymentType domain.PaymentType) (domain.PaymentType, error) {
	if paymentType == "" {
		return s.cfg.DefaultPaymentType, nil
	}
	if !paymentType.Valid() {
		return "", domain.ErrInvalidPaymentType
	}
	return paymentType, nil
}

// txError passes rejections through untouched and folds everything else
// into ErrTransactionFailed, keeping the cause for logs.
func (s *Service) txError(operation string, err error) error {
	if domain.IsValidation(err) {
		return err
	}
	log.Printf("[service] ERROR: %s aborted: %v", operation, err)
	return fmt.Errorf("%w: %w", domain.ErrTransactionFailed, err)
}

func (s *Service) observe(operation string, err error) {
	if s.recorder == nil {
		return
	}
	outcome := OutcomeOK
	switch {
	case err == nil:
	case domain.IsValidation(err):
		outcome = OutcomeRejected
	default:
		outcome = OutcomeFailed
	}
	s.recorder.RecordOperation(operation, outcome)
}

func normalizeLines(lines []domain.SaleLine) []domain.SaleLine {
	normalized := make([]domain.SaleLine, 0, len(lines))
	for _, line := range lines {
		normalized = append(normalized, domain.SaleLine{
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
		})
	}
	return normalized
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
