package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"kasastok/backend/internal/domain"
	"kasastok/backend/internal/store"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	product, err := s.repo.GetProduct(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Product{}, &domain.ProductNotFoundError{ProductID: id}
	}
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// SearchByBarcode serves scanner lookups. The cache only remembers which
// product a barcode belongs to; the row itself is always read fresh so the
// stock shown at the till is current. Concurrent scans of the same barcode
// share one database lookup.
func (s *Service) SearchByBarcode(ctx context.Context, barcode string) (domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.Product{}, fmt.Errorf("%w: barcode is required", domain.ErrInvalidProduct)
	}

	if productID, ok, err := s.barcodes.Get(ctx, barcode); err != nil {
		log.Printf("[service] WARN: barcode cache get failed barcode=%s: %v", barcode, err)
	} else if ok {
		product, err := s.repo.GetProduct(ctx, productID)
		if err == nil && product.Barcode == barcode {
			return *product, nil
		}
		s.forgetBarcode(ctx, barcode)
	}

	v, err, _ := s.lookups.Do(barcode, func() (any, error) {
		return s.repo.GetProductByBarcode(ctx, barcode)
	})
	if errors.Is(err, store.ErrNotFound) {
		return domain.Product{}, fmt.Errorf("%w: no product with barcode %s", domain.ErrProductNotFound, barcode)
	}
	if err != nil {
		return domain.Product{}, err
	}

	product := *v.(*domain.Product)
	if err := s.barcodes.Set(ctx, barcode, product.ID); err != nil {
		log.Printf("[service] WARN: barcode cache set failed barcode=%s: %v", barcode, err)
	}
	return product, nil
}

// UpdateProduct edits catalog fields. Stock is not editable here; it only
// moves through sales and purchases.
func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	existing, err := s.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name is required", domain.ErrInvalidProduct)
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.CostPrice != nil {
		if req.CostPrice.IsNegative() {
			return domain.Product{}, fmt.Errorf("%w: prices cannot be negative", domain.ErrInvalidProduct)
		}
		updated.CostPrice = domain.RoundMoney(*req.CostPrice)
	}
	if req.SalePrice != nil {
		if req.SalePrice.IsNegative() {
			return domain.Product{}, fmt.Errorf("%w: prices cannot be negative", domain.ErrInvalidProduct)
		}
		updated.SalePrice = domain.RoundMoney(*req.SalePrice)
	}
	if req.Unit != nil {
		updated.Unit = defaultString(strings.TrimSpace(*req.Unit), "unit")
	}
	switch {
	case req.ClearExpiry:
		updated.ExpirationDate = nil
		updated.HasExpiration = false
	case req.ExpirationDate != nil:
		updated.ExpirationDate = req.ExpirationDate
		updated.HasExpiration = true
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if errors.Is(err, store.ErrDuplicate) {
		return domain.Product{}, domain.ErrDuplicateBarcode
	}
	if errors.Is(err, store.ErrNotFound) {
		return domain.Product{}, &domain.ProductNotFoundError{ProductID: existing.ID}
	}
	if err != nil {
		return domain.Product{}, err
	}

	if existing.Barcode != saved.Barcode {
		s.forgetBarcode(ctx, existing.Barcode)
	}
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	existing, err := s.GetProduct(ctx, id)
	if err != nil {
		return err
	}

	err = s.repo.DeleteProduct(ctx, existing.ID)
	switch {
	case errors.Is(err, store.ErrReferenced):
		return domain.ErrProductInUse
	case errors.Is(err, store.ErrNotFound):
		return &domain.ProductNotFoundError{ProductID: existing.ID}
	case err != nil:
		return err
	}

	s.forgetBarcode(ctx, existing.Barcode)
	if actor, ok := ActorFromContext(ctx); ok {
		log.Printf("[service] product %s deleted by %s", existing.ID, actor.Username)
	}
	return nil
}

func (s *Service) forgetBarcode(ctx context.Context, barcode string) {
	if barcode == "" {
		return
	}
	if err := s.barcodes.Delete(ctx, barcode); err != nil {
		log.Printf("[service] WARN: barcode cache delete failed barcode=%s: %v", barcode, err)
	}
}

// ImportProducts creates each row in its own unit of work. A rejected row
// never rolls back the rows before or after it.
func (s *Service) ImportProducts(ctx context.Context, rows []domain.ProductImportRow, paymentType domain.PaymentType) (domain.ImportResult, error) {
	if _, err := s.paymentTypeOrDefault(paymentType); err != nil {
		return domain.ImportResult{}, err
	}

	result := domain.ImportResult{Rows: make([]domain.ImportRowStatus, 0, len(rows))}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		status := domain.ImportRowStatus{Row: row.Row, Name: row.Name}
		created, err := s.CreateProductWithOpeningStock(ctx, domain.ProductCreateRequest{
			Name:           row.Name,
			Category:       row.Category,
			Barcode:        row.Barcode,
			CostPrice:      row.CostPrice,
			SalePrice:      row.SalePrice,
			OpeningStock:   row.OpeningStock,
			Unit:           row.Unit,
			ExpirationDate: row.ExpirationDate,
			PaymentType:    paymentType,
		})
		if err != nil {
			status.Status = domain.ImportStatusRejected
			status.Reason = importReason(err)
			result.Rejected++
		} else {
			status.Status = domain.ImportStatusCreated
			status.ProductID = created.Product.ID
			result.Created++
		}
		result.Rows = append(result.Rows, status)
	}
	return result, nil
}

func importReason(err error) string {
	if errors.Is(err, domain.ErrTransactionFailed) {
		return domain.ErrTransactionFailed.Error()
	}
	return err.Error()
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}
