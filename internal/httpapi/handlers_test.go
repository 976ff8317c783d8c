package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"kasastok/backend/internal/domain"
	"kasastok/backend/internal/observability"
	"kasastok/backend/internal/service"
	"kasastok/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	metrics := observability.NewMetrics()
	svc := service.New(repo, service.Config{DefaultPaymentType: domain.PaymentCash}, service.WithRecorder(metrics))
	auth := NewAuthManager("test-secret-key-that-is-long-enough", time.Hour, repo)

	return New(svc, auth, Options{AllowedOrigin: "http://localhost:5173", Metrics: metrics})
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	res := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	var payload domain.LoginResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	require.NotEmpty(t, payload.AccessToken)
	return payload.AccessToken
}

func decodeBody[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out), res.Body.String())
	return out
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestHandleHealth(t *testing.T) {
	res := doJSON(t, newTestAPI(t).Handler(), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, res.Code)

	body := decodeBody[map[string]any](t, res)
	require.Equal(t, true, body["ok"])
}

func TestHandleLoginRejectsBadCredentials(t *testing.T) {
	handler := newTestAPI(t).Handler()

	res := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "nope"})
	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Equal(t, "invalid_credentials", decodeBody[errorBody](t, res).Code)

	res = doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "admin"})
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Contains(t, decodeBody[errorBody](t, res).Error, "password is required")
}

func TestRoutesRequireTokenAndRole(t *testing.T) {
	handler := newTestAPI(t).Handler()

	res := doJSON(t, handler, http.MethodGet, "/api/v1/products", "", nil)
	require.Equal(t, http.StatusUnauthorized, res.Code)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/products", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, res.Code)

	cashier := login(t, handler, "cashier", "cashier123")
	res = doJSON(t, handler, http.MethodGet, "/api/v1/cash/summary", cashier, nil)
	require.Equal(t, http.StatusForbidden, res.Code)
	require.Equal(t, "forbidden", decodeBody[errorBody](t, res).Code)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/products", cashier, nil)
	require.Equal(t, http.StatusOK, res.Code)
	products := decodeBody[map[string][]domain.Product](t, res)["products"]
	require.Len(t, products, 8)
}

func TestCompleteSaleEndpoint(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := login(t, handler, "cashier", "cashier123")

	res := doJSON(t, handler, http.MethodPost, "/api/v1/sales", cashier, map[string]any{
		"items":        []map[string]any{{"product_id": "prd-rice-5kg", "quantity": 2}},
		"payment_type": "cash",
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	sale := decodeBody[domain.Sale](t, res)
	require.NotEmpty(t, sale.ID)
	requireDecimal(t, "49.80", sale.Subtotal)
	require.Len(t, sale.Items, 1)
	requireDecimal(t, "24.90", sale.Items[0].UnitPrice)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/products/prd-rice-5kg", cashier, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, 38.0, decodeBody[domain.Product](t, res).Stock)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/sales/"+sale.ID, cashier, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, sale.ID, decodeBody[domain.Sale](t, res).ID)

	manager := login(t, handler, "manager", "manager123")
	res = doJSON(t, handler, http.MethodGet, "/api/v1/cash/summary", manager, nil)
	require.Equal(t, http.StatusOK, res.Code)
	summary := decodeBody[domain.CashSummary](t, res)
	requireDecimal(t, "49.80", summary.Income)
	requireDecimal(t, "49.80", summary.Balance)
}

func TestCompleteSaleAcceptsLegacyPaymentCode(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := login(t, handler, "cashier", "cashier123")

	res := doJSON(t, handler, http.MethodPost, "/api/v1/sales", cashier, map[string]any{
		"items":        []map[string]any{{"product_id": "prd-soap-90g", "quantity": 1}},
		"payment_type": 3,
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	require.Equal(t, domain.PaymentBankTransfer, decodeBody[domain.Sale](t, res).PaymentType)
}

func TestCompleteSaleErrorMapping(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := login(t, handler, "cashier", "cashier123")

	res := doJSON(t, handler, http.MethodPost, "/api/v1/sales", cashier, map[string]any{
		"items": []map[string]any{{"product_id": "prd-cheese-kg", "quantity": 10}},
	})
	require.Equal(t, http.StatusConflict, res.Code)
	shortage := decodeBody[errorBody](t, res)
	require.Equal(t, "insufficient_stock", shortage.Code)
	require.Equal(t, "prd-cheese-kg", shortage.ProductID)
	require.NotNil(t, shortage.Requested)
	require.Equal(t, 10.0, *shortage.Requested)
	require.Equal(t, 7.5, *shortage.Available)
	require.Equal(t, 2.5, *shortage.Shortfall)

	res = doJSON(t, handler, http.MethodPost, "/api/v1/sales", cashier, map[string]any{"items": []any{}})
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "empty_cart", decodeBody[errorBody](t, res).Code)

	res = doJSON(t, handler, http.MethodPost, "/api/v1/sales", cashier, map[string]any{
		"items": []map[string]any{{"product_id": "prd-missing", "quantity": 1}},
	})
	require.Equal(t, http.StatusNotFound, res.Code)
	require.Equal(t, "product_not_found", decodeBody[errorBody](t, res).Code)

	res = doJSON(t, handler, http.MethodPost, "/api/v1/sales", cashier, map[string]any{
		"items": []map[string]any{{"product_id": "prd-rice-5kg", "quantity": -1}},
	})
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "invalid_quantity", decodeBody[errorBody](t, res).Code)

	res = doJSON(t, handler, http.MethodPost, "/api/v1/sales", cashier, map[string]any{
		"items":        []map[string]any{{"product_id": "prd-rice-5kg", "quantity": 1}},
		"payment_type": "barter",
	})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = doJSON(t, handler, http.MethodPost, "/api/v1/sales", cashier, map[string]any{
		"items":  []map[string]any{{"product_id": "prd-rice-5kg", "quantity": 1}},
		"coupon": "FREE",
	})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/products/prd-cheese-kg", cashier, nil)
	require.Equal(t, 7.5, decodeBody[domain.Product](t, res).Stock)
}

func TestPreviewSaleDoesNotMutate(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := login(t, handler, "cashier", "cashier123")

	res := doJSON(t, handler, http.MethodPost, "/api/v1/sales/preview", cashier, map[string]any{
		"items": []map[string]any{{"product_id": "prd-soap-90g", "quantity": 3}},
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	preview := decodeBody[domain.SalePreview](t, res)
	requireDecimal(t, "6.87", preview.Subtotal)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/products/prd-soap-90g", cashier, nil)
	require.Equal(t, 120.0, decodeBody[domain.Product](t, res).Stock)
}

func TestSearchProductByBarcode(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := login(t, handler, "cashier", "cashier123")

	res := doJSON(t, handler, http.MethodGet, "/api/v1/products/search?barcode=7891000600603", cashier, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "prd-detergent-500ml", decodeBody[domain.Product](t, res).ID)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/products/search?barcode=", cashier, nil)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/products/search?barcode=000", cashier, nil)
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestPurchaseEndpoint(t *testing.T) {
	handler := newTestAPI(t).Handler()
	manager := login(t, handler, "manager", "manager123")

	res := doJSON(t, handler, http.MethodPost, "/api/v1/stock-movements/purchases", manager, map[string]any{
		"product_id": "prd-rice-5kg",
		"quantity":   10,
		"unit_price": "18.25",
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	result := decodeBody[domain.PurchaseResult](t, res)
	require.Equal(t, 50.0, result.NewStock)
	require.Equal(t, domain.MovementPurchase, result.Movement.Kind)
	requireDecimal(t, "182.50", result.CashEntry.Amount)
	require.Equal(t, result.Movement.ID, result.CashEntry.Reference)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/stock-movements?product_id=prd-rice-5kg", manager, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Len(t, decodeBody[map[string][]domain.StockMovement](t, res)["movements"], 1)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/cash/entries?type=expense", manager, nil)
	require.Equal(t, http.StatusOK, res.Code)
	entries := decodeBody[map[string][]domain.CashEntry](t, res)["entries"]
	require.Len(t, entries, 1)
	require.Equal(t, domain.CategoryStockPurchase, entries[0].Category)

	cashier := login(t, handler, "cashier", "cashier123")
	res = doJSON(t, handler, http.MethodPost, "/api/v1/stock-movements/purchases", cashier, map[string]any{
		"product_id": "prd-rice-5kg",
		"quantity":   1,
		"unit_price": "1",
	})
	require.Equal(t, http.StatusForbidden, res.Code)
}

func TestCreateUpdateDeleteProduct(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin", "admin123")

	res := doJSON(t, handler, http.MethodPost, "/api/v1/products", admin, map[string]any{
		"name":          "Olive Oil 500ml",
		"category":      "grocery",
		"barcode":       "7891000700709",
		"cost_price":    "20.00",
		"sale_price":    "29.90",
		"opening_stock": 5,
		"unit":          "bottle",
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	created := decodeBody[domain.ProductCreateResult](t, res)
	require.Equal(t, 5.0, created.Product.Stock)
	require.NotNil(t, created.CashEntry)
	requireDecimal(t, "100.00", created.CashEntry.Amount)

	res = doJSON(t, handler, http.MethodPost, "/api/v1/products", admin, map[string]any{
		"name":       "Duplicate",
		"barcode":    "7891000700709",
		"sale_price": "1",
	})
	require.Equal(t, http.StatusConflict, res.Code)
	require.Equal(t, "duplicate_barcode", decodeBody[errorBody](t, res).Code)

	res = doJSON(t, handler, http.MethodPatch, "/api/v1/products/"+created.Product.ID, admin, map[string]any{
		"sale_price": "31.50",
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	updated := decodeBody[domain.Product](t, res)
	requireDecimal(t, "31.50", updated.SalePrice)
	require.Equal(t, 5.0, updated.Stock)

	res = doJSON(t, handler, http.MethodPatch, "/api/v1/products/"+created.Product.ID, admin, map[string]any{"stock": 99})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = doJSON(t, handler, http.MethodDelete, "/api/v1/products/"+created.Product.ID, admin, nil)
	require.Equal(t, http.StatusNoContent, res.Code)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/products/"+created.Product.ID, admin, nil)
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestDeleteProductInUseIsRejected(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin", "admin123")

	res := doJSON(t, handler, http.MethodPost, "/api/v1/sales", admin, map[string]any{
		"items": []map[string]any{{"product_id": "prd-beans-1kg", "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, res.Code)

	res = doJSON(t, handler, http.MethodDelete, "/api/v1/products/prd-beans-1kg", admin, nil)
	require.Equal(t, http.StatusConflict, res.Code)
	require.Equal(t, "product_in_use", decodeBody[errorBody](t, res).Code)
}

func TestImportProductsEndpoint(t *testing.T) {
	handler := newTestAPI(t).Handler()
	manager := login(t, handler, "manager", "manager123")

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range [][]any{
		{"name", "barcode", "cost price", "sale price", "opening stock"},
		{"Green Tea 20s", "7891000800805", "4.00", "6.50", "10"},
		{"Clash", "7891000100103", "1.00", "2.00", "1"},
	} {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	workbook, err := f.WriteToBuffer()
	require.NoError(t, err)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "products.xlsx")
	require.NoError(t, err)
	_, err = io.Copy(part, workbook)
	require.NoError(t, err)
	require.NoError(t, form.WriteField("payment_type", "bank_transfer"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+manager)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	result := decodeBody[domain.ImportResult](t, res)
	require.Equal(t, 1, result.Created)
	require.Equal(t, 1, result.Rejected)
	require.Equal(t, domain.ImportStatusCreated, result.Rows[0].Status)
	require.Equal(t, domain.ImportStatusRejected, result.Rows[1].Status)
	require.Contains(t, result.Rows[1].Reason, "barcode")

	res = doJSON(t, handler, http.MethodGet, "/api/v1/products/search?barcode=7891000800805", manager, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, 10.0, decodeBody[domain.Product](t, res).Stock)
}

func TestPostCashEntryAndList(t *testing.T) {
	handler := newTestAPI(t).Handler()
	manager := login(t, handler, "manager", "manager123")

	res := doJSON(t, handler, http.MethodPost, "/api/v1/cash/entries", manager, map[string]any{
		"amount":      "350.00",
		"type":        "expense",
		"category":    "Rent",
		"description": "March rent",
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	res = doJSON(t, handler, http.MethodPost, "/api/v1/cash/entries", manager, map[string]any{
		"amount":   "0",
		"type":     "expense",
		"category": "Rent",
	})
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "invalid_amount", decodeBody[errorBody](t, res).Code)

	today := time.Now().UTC().Format(time.DateOnly)
	res = doJSON(t, handler, http.MethodGet, "/api/v1/cash/entries?from="+today+"&to="+today, manager, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Len(t, decodeBody[map[string][]domain.CashEntry](t, res)["entries"], 1)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/cash/entries?from=yesterday", manager, nil)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/cash/summary", manager, nil)
	summary := decodeBody[domain.CashSummary](t, res)
	requireDecimal(t, "-350", summary.Balance)
	requireDecimal(t, "350", summary.Expense)
}

func TestAdminManagesUsers(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin", "admin123")

	res := doJSON(t, handler, http.MethodPost, "/api/v1/users", admin, domain.UserCreateRequest{
		Username: "kasir2",
		Password: "123",
	})
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Contains(t, decodeBody[errorBody](t, res).Error, "password")

	res = doJSON(t, handler, http.MethodPost, "/api/v1/users", admin, domain.UserCreateRequest{
		Username: "kasir2",
		Password: "secret99",
		Role:     "owner",
	})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = doJSON(t, handler, http.MethodPost, "/api/v1/users", admin, domain.UserCreateRequest{
		Username: "kasir2",
		Password: "secret99",
		FullName: "Evening Cashier",
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	res = doJSON(t, handler, http.MethodPost, "/api/v1/users", admin, domain.UserCreateRequest{
		Username: "kasir2",
		Password: "secret99",
	})
	require.Equal(t, http.StatusConflict, res.Code)

	token := login(t, handler, "kasir2", "secret99")
	res = doJSON(t, handler, http.MethodGet, "/api/v1/users", token, nil)
	require.Equal(t, http.StatusForbidden, res.Code)

	res = doJSON(t, handler, http.MethodGet, "/api/v1/users", admin, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Len(t, decodeBody[map[string][]domain.User](t, res)["users"], 4)
}

func TestMetricsEndpointCountsOperations(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := login(t, handler, "cashier", "cashier123")

	res := doJSON(t, handler, http.MethodPost, "/api/v1/sales", cashier, map[string]any{
		"items": []map[string]any{{"product_id": "prd-soap-90g", "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, res.Code)

	res = doJSON(t, handler, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	require.True(t, strings.Contains(body, `kasastok_operations_total{operation="complete_sale",outcome="ok"} 1`), body)
	require.Contains(t, body, "kasastok_http_requests_total")
}
