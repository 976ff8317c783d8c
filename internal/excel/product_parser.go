package excel

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"kasastok/backend/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var headerAliases = map[string]string{
	"name":            "name",
	"product name":    "name",
	"product":         "name",
	"nama":            "name",
	"nama produk":     "name",
	"category":        "category",
	"kategori":        "category",
	"barcode":         "barcode",
	"sku":             "barcode",
	"cost price":      "cost_price",
	"cost":            "cost_price",
	"buy price":       "cost_price",
	"harga beli":      "cost_price",
	"sale price":      "sale_price",
	"sell price":      "sale_price",
	"price":           "sale_price",
	"harga jual":      "sale_price",
	"opening stock":   "opening_stock",
	"stock":           "opening_stock",
	"quantity":        "opening_stock",
	"qty":             "opening_stock",
	"stok":            "opening_stock",
	"unit":            "unit",
	"satuan":          "unit",
	"expiration date": "expiration_date",
	"expiry":          "expiration_date",
	"expires":         "expiration_date",
	"kedaluwarsa":     "expiration_date",
}

// ParseProductRows reads the first sheet of an xlsx workbook. The header row
// needs at least name and sale price columns; blank names are skipped.
func ParseProductRows(reader io.Reader) ([]domain.ProductImportRow, error) {
	file, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, fmt.Errorf("open excel file: %w", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("excel file has no sheets")
	}

	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("excel file is empty")
	}

	colMap := mapColumns(rows[0])
	for _, required := range []string{"name", "sale_price"} {
		if _, ok := colMap[required]; !ok {
			return nil, fmt.Errorf("missing required column: %s", required)
		}
	}

	result := make([]domain.ProductImportRow, 0, len(rows)-1)
	for index := 1; index < len(rows); index++ {
		cells := rows[index]
		rowNumber := index + 1
		name := strings.TrimSpace(readCell(cells, colMap, "name"))
		if name == "" {
			continue
		}

		salePrice, err := parseDecimal(readCell(cells, colMap, "sale_price"))
		if err != nil {
			return nil, fmt.Errorf("row %d invalid sale price: %w", rowNumber, err)
		}

		costPrice := decimal.Zero
		if raw := strings.TrimSpace(readCell(cells, colMap, "cost_price")); raw != "" {
			costPrice, err = parseDecimal(raw)
			if err != nil {
				return nil, fmt.Errorf("row %d invalid cost price: %w", rowNumber, err)
			}
		}

		var stock float64
		if raw := strings.TrimSpace(readCell(cells, colMap, "opening_stock")); raw != "" {
			stock, err = parseFloat(raw)
			if err != nil {
				return nil, fmt.Errorf("row %d invalid opening stock: %w", rowNumber, err)
			}
		}

		var expires *time.Time
		if raw := strings.TrimSpace(readCell(cells, colMap, "expiration_date")); raw != "" {
			parsed, err := time.Parse(time.DateOnly, raw)
			if err != nil {
				return nil, fmt.Errorf("row %d invalid expiration date: must be YYYY-MM-DD", rowNumber)
			}
			expires = &parsed
		}

		result = append(result, domain.ProductImportRow{
			Row:            rowNumber,
			Name:           name,
			Category:       strings.TrimSpace(readCell(cells, colMap, "category")),
			Barcode:        strings.TrimSpace(readCell(cells, colMap, "barcode")),
			CostPrice:      costPrice,
			SalePrice:      salePrice,
			OpeningStock:   stock,
			Unit:           strings.TrimSpace(readCell(cells, colMap, "unit")),
			ExpirationDate: expires,
		})
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("excel file has no valid data rows")
	}
	return result, nil
}

func mapColumns(header []string) map[string]int {
	mapped := make(map[string]int)
	for idx, col := range header {
		normalized := normalizeHeader(col)
		if normalized == "" {
			continue
		}
		canonical, ok := headerAliases[normalized]
		if !ok {
			continue
		}
		if _, exists := mapped[canonical]; !exists {
			mapped[canonical] = idx
		}
	}
	return mapped
}

func normalizeHeader(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "\ufeff")
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", " ")
	return strings.Join(strings.Fields(value), " ")
}

func readCell(row []string, colMap map[string]int, column string) string {
	idx, ok := colMap[column]
	if !ok || idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	value := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if value == "" {
		return decimal.Zero, fmt.Errorf("value is empty")
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number")
	}
	return parsed, nil
}

func parseFloat(raw string) (float64, error) {
	value := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if value == "" {
		return 0, fmt.Errorf("value is empty")
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	return parsed, nil
}
