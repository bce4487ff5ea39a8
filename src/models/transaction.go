package models

import (
	"esm/src/types"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transaction holds the columns shared by both payment transaction tables.
// Code that works across families reads and writes it through db.Table.
type Transaction struct {
	ID uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`

	BookingID            uuid.UUID               `gorm:"type:uuid;index;not null" json:"booking_id"`
	Amount               decimal.Decimal         `gorm:"type:decimal(12,2);not null" json:"amount"`
	PaymentMethod        string                  `gorm:"default:khalti" json:"payment_method"`
	Status               types.TransactionStatus `gorm:"default:pending;index" json:"status"`
	GatewayTransactionID *string                 `gorm:"uniqueIndex" json:"gateway_transaction_id,omitempty"`
	GatewayPaymentURL    string                  `json:"gateway_payment_url,omitempty"`
	GatewayResponse      types.JSONB             `gorm:"type:jsonb" json:"gateway_response,omitempty"`
	CompletedAt          *time.Time              `json:"completed_at,omitempty"`
	FailureReason        *string                 `json:"failure_reason,omitempty"`
	VerifiedAt           *time.Time              `json:"verified_at,omitempty"`

	types.Timestamps
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (t *Transaction) IsCompleted() bool {
	return t.Status == types.TRANSACTION_COMPLETED
}

func (t *Transaction) Pidx() string {
	if t.GatewayTransactionID == nil {
		return ""
	}
	return *t.GatewayTransactionID
}

type PaymentTransaction struct {
	Transaction
}

type EventTicketPaymentTransaction struct {
	Transaction
}

const (
	PaymentTransactionTable            = "payment_transactions"
	EventTicketPaymentTransactionTable = "event_ticket_payment_transactions"
)
