package domain

import (
	"encoding/json"
	"strings"
)

type PaymentType string

const (
	PaymentCash         PaymentType = "cash"
	PaymentCreditCard   PaymentType = "credit_card"
	PaymentBankTransfer PaymentType = "bank_transfer"
)

// ParsePaymentType accepts the canonical names, a few spellings operators
// type by hand, and the numeric codes used by older terminals (1, 2, 3).
func ParsePaymentType(raw string) (PaymentType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cash", "1":
		return PaymentCash, nil
	case "credit_card", "creditcard", "card", "2":
		return PaymentCreditCard, nil
	case "bank_transfer", "banktransfer", "transfer", "3":
		return PaymentBankTransfer, nil
	default:
		return "", ErrInvalidPaymentType
	}
}

func (p PaymentType) Valid() bool {
	switch p {
	case PaymentCash, PaymentCreditCard, PaymentBankTransfer:
		return true
	}
	return false
}

func (p *PaymentType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		var code int
		if numErr := json.Unmarshal(data, &code); numErr != nil {
			return ErrInvalidPaymentType
		}
		raw = strings.TrimSpace(string(data))
	}
	if strings.TrimSpace(raw) == "" {
		*p = ""
		return nil
	}
	parsed, err := ParsePaymentType(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

type LedgerType string

const (
	LedgerIncome  LedgerType = "income"
	LedgerExpense LedgerType = "expense"
)

func (t LedgerType) Valid() bool {
	return t == LedgerIncome || t == LedgerExpense
}

type MovementKind string

const (
	MovementPurchase MovementKind = "purchase"
	MovementSale     MovementKind = "sale"
)
