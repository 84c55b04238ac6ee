// Package receipt implements the append-only payment ledger. Receipts get
// monotonic per-association numbers and are never deleted; voiding keeps
// the number so the audit sequence stays dense in issuance order.
package receipt

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/blocadmin/blocadmin/internal/shared"
)

var (
	// ErrDuplicateReceiptNumber indicates a numbering race lost; the
	// service retries the transactional increment a bounded number of
	// times before surfacing it.
	ErrDuplicateReceiptNumber = errors.New("receipt: duplicate receipt number")
	// ErrNoPublishedSheet indicates a payment against a month with no
	// published baseline for the apartment.
	ErrNoPublishedSheet = errors.New("receipt: no published sheet for apartment and month")
	// ErrEmptyPayment indicates a receipt with no positive amount.
	ErrEmptyPayment = errors.New("receipt: payment must carry a positive amount")
	// ErrNegativeAmount indicates a negative category amount.
	ErrNegativeAmount = errors.New("receipt: category amounts must not be negative")
	// ErrAlreadyVoided indicates a second void on the same receipt.
	ErrAlreadyVoided = errors.New("receipt: already voided")
)

// Receipt (incasare) is one recorded payment, split by debt category at
// recording time.
type Receipt struct {
	ID            uuid.UUID       `json:"id"`
	AssociationID int64           `json:"association_id"`
	ApartmentID   int64           `json:"apartment_id"`
	Month         shared.Month    `json:"month"`
	Restante      decimal.Decimal `json:"restante"`
	Intretinere   decimal.Decimal `json:"intretinere"`
	Penalitati    decimal.Decimal `json:"penalitati"`
	Total         decimal.Decimal `json:"total"`
	ReceiptNumber int64           `json:"receipt_number"`
	Code          string          `json:"code"`
	Method        string          `json:"method"`
	Notes         string          `json:"notes"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`

	VoidedAt   *time.Time `json:"voided_at,omitempty"`
	VoidedBy   string     `json:"voided_by,omitempty"`
	VoidReason string     `json:"void_reason,omitempty"`
}

// Voided reports whether the receipt has been administratively cancelled.
func (r *Receipt) Voided() bool {
	return r.VoidedAt != nil
}

// RecordInput carries a payment to record.
type RecordInput struct {
	AssociationID int64           `json:"association_id" validate:"required"`
	ApartmentID   int64           `json:"apartment_id" validate:"required"`
	Month         string          `json:"month" validate:"required"`
	Restante      decimal.Decimal `json:"restante"`
	Intretinere   decimal.Decimal `json:"intretinere"`
	Penalitati    decimal.Decimal `json:"penalitati"`
	Method        string          `json:"method"`
	Notes         string          `json:"notes"`
}

// Validate checks category amounts.
func (in *RecordInput) Validate() error {
	if in.Restante.IsNegative() || in.Intretinere.IsNegative() || in.Penalitati.IsNegative() {
		return ErrNegativeAmount
	}
	if !in.Restante.Add(in.Intretinere).Add(in.Penalitati).IsPositive() {
		return ErrEmptyPayment
	}
	return nil
}

// FormatCode renders the operator-facing receipt code, e.g. "2026-00042".
func FormatCode(issuedAt time.Time, number int64) string {
	return fmt.Sprintf("%d-%05d", issuedAt.Year(), number)
}
