package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"kasastok/backend/internal/domain"
	"kasastok/backend/internal/excel"
)

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleSearchProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.SearchByBarcode(r.Context(), r.URL.Query().Get("barcode"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.CreateProductWithOpeningStock(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.UpdateProduct(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleImportProducts takes a multipart upload with the workbook in "file"
// and an optional "payment_type" used for the opening-stock expenses.
func (a *API) handleImportProducts(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBody)
	if err := r.ParseMultipartForm(maxImportBody); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid upload: %w", err))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("file is required"))
		return
	}
	defer file.Close()

	var paymentType domain.PaymentType
	if raw := strings.TrimSpace(r.FormValue("payment_type")); raw != "" {
		paymentType, err = domain.ParsePaymentType(raw)
		if err != nil {
			writeServiceError(w, err)
			return
		}
	}

	rows, err := excel.ParseProductRows(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.ImportProducts(r.Context(), rows, paymentType)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleCompleteSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CompleteSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sale, err := a.service.CompleteSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (a *API) handlePreviewSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CompleteSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	preview, err := a.service.PreviewSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
	sales, err := a.service.ListSales(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleListMovements(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	movements, err := a.service.ListStockMovements(r.Context(), domain.MovementFilter{
		ProductID: query.Get("product_id"),
		Limit:     parsePositiveLimit(query.Get("limit"), 100, 500),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (a *API) handleRecordPurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.RecordPurchaseMovement(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleListCashEntries(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.CashFilter{
		Type:  domain.LedgerType(strings.TrimSpace(query.Get("type"))),
		Limit: parsePositiveLimit(query.Get("limit"), 100, 500),
	}

	var err error
	if filter.From, err = parseDateParam(query.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("from: %w", err))
		return
	}
	to, err := parseDateParam(query.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("to: %w", err))
		return
	}
	if !to.IsZero() {
		// "to" names the last included day.
		filter.To = to.AddDate(0, 0, 1)
	}

	entries, err := a.service.ListCashEntries(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handlePostCashEntry(w http.ResponseWriter, r *http.Request) {
	var req domain.CashEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := a.service.PostCashEntry(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleCashSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.CashSummary(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.auth.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func parseDateParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD")
	}
	return day, nil
}
