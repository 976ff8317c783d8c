package httpapi

import (
	"errors"
	"log"
	"net/http"

	"kasastok/backend/internal/domain"
)

type errorBody struct {
	Error     string   `json:"error"`
	Code      string   `json:"code"`
	ProductID string   `json:"product_id,omitempty"`
	Requested *float64 `json:"requested,omitempty"`
	Available *float64 `json:"available,omitempty"`
	Shortfall *float64 `json:"shortfall,omitempty"`
}

var statusCodes = map[int]string{
	http.StatusBadRequest:            "bad_request",
	http.StatusUnauthorized:          "unauthorized",
	http.StatusForbidden:             "forbidden",
	http.StatusNotFound:              "not_found",
	http.StatusMethodNotAllowed:      "method_not_allowed",
	http.StatusConflict:              "conflict",
	http.StatusRequestEntityTooLarge: "payload_too_large",
	http.StatusTooManyRequests:       "rate_limited",
}

var domainCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrEmptyCart, http.StatusBadRequest, "empty_cart"},
	{domain.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{domain.ErrInvalidProduct, http.StatusBadRequest, "invalid_product"},
	{domain.ErrInvalidPaymentType, http.StatusBadRequest, "invalid_payment_type"},
	{domain.ErrInvalidLedgerEntry, http.StatusBadRequest, "invalid_ledger_entry"},
	{domain.ErrProductNotFound, http.StatusNotFound, "product_not_found"},
	{domain.ErrSaleNotFound, http.StatusNotFound, "sale_not_found"},
	{domain.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
	{domain.ErrDuplicateBarcode, http.StatusConflict, "duplicate_barcode"},
	{domain.ErrProductInUse, http.StatusConflict, "product_in_use"},
	{ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{ErrInactiveAccount, http.StatusForbidden, "inactive_account"},
	{ErrInvalidToken, http.StatusUnauthorized, "unauthorized"},
	{ErrUserExists, http.StatusConflict, "duplicate_user"},
	{ErrInvalidUser, http.StatusBadRequest, "invalid_user"},
	{domain.ErrTransactionFailed, http.StatusInternalServerError, "transaction_failed"},
}

// writeServiceError maps a service or auth error onto a status and code.
// Anything unrecognised is a 500.
func writeServiceError(w http.ResponseWriter, err error) {
	var shortage *domain.InsufficientStockError
	if errors.As(err, &shortage) {
		requested, available, shortfall := shortage.Requested, shortage.Available, shortage.Shortfall()
		writeJSON(w, http.StatusConflict, errorBody{
			Error:     err.Error(),
			Code:      "insufficient_stock",
			ProductID: shortage.ProductID,
			Requested: &requested,
			Available: &available,
			Shortfall: &shortfall,
		})
		return
	}

	for _, candidate := range domainCodes {
		if errors.Is(err, candidate.err) {
			writeErrorCode(w, candidate.status, candidate.code, err)
			return
		}
	}
	writeErrorCode(w, http.StatusInternalServerError, "internal", err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	code, ok := statusCodes[status]
	if !ok {
		code = "internal"
	}
	writeErrorCode(w, status, code, err)
}

func writeErrorCode(w http.ResponseWriter, status int, code string, err error) {
	// 5xx bodies never carry the underlying message.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}
