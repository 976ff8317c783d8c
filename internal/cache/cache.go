package cache

import (
	"context"
)

// BarcodeCache maps a scanned barcode to a product id. Only the identity is
// cached; product rows (and their stock) are always read live.
type BarcodeCache interface {
	Get(ctx context.Context, barcode string) (string, bool, error)
	Set(ctx context.Context, barcode string, productID string) error
	Delete(ctx context.Context, barcode string) error
}

type NoopBarcodeCache struct{}

func (NoopBarcodeCache) Get(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}

func (NoopBarcodeCache) Set(_ context.Context, _ string, _ string) error {
	return nil
}

func (NoopBarcodeCache) Delete(_ context.Context, _ string) error {
	return nil
}
