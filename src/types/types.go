package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Timestamps struct {
	CreatedAt time.Time      `gorm:"autoCreateTime:nano" json:"created_at,omitempty"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:nano" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty,omitnil"`
}

type JSONB map[string]any

func (a JSONB) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	valueString, err := json.Marshal(a)
	return string(valueString), err
}

func (a *JSONB) Scan(value any) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, a)
}

// NewJSONB keeps the raw payload as an object; non-object payloads are wrapped under "raw".
func NewJSONB(raw []byte) JSONB {
	if len(raw) == 0 {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil && obj != nil {
		return obj
	}
	return JSONB{"raw": string(raw)}
}

type SimpleRequestParams struct {
	ID string `uri:"id" binding:"required,uuid"`
}

type VerifyPaymentRequestBody struct {
	Pidx string `json:"pidx"`
}

type UpdatePaymentStatusRequestBody struct {
	Status     TransactionStatus `json:"status" binding:"required,oneof=pending completed failed"`
	Pidx       *string           `json:"pidx,omitempty" binding:"omitempty,pidx"`
	VerifiedAt *time.Time        `json:"verifiedAt,omitempty"`
	Reason     *string           `json:"reason,omitempty" binding:"omitempty,max=500"`
}

// PaymentHistoryQuery lets admins read another owner's history.
type PaymentHistoryQuery struct {
	OwnerID uint   `form:"owner_id" binding:"omitempty,min=1"`
	Role    string `form:"role" binding:"required_with=OwnerID"`
}

type BookingFamily string

const (
	FAMILY_STANDARD     BookingFamily = "standard"
	FAMILY_EVENT_TICKET BookingFamily = "event_ticket"
)

type BookingStatus string

const (
	BOOKING_PENDING_PROVIDER_CONFIRMATION BookingStatus = "pending_provider_confirmation"
	BOOKING_CONFIRMED_AWAITING_PAYMENT    BookingStatus = "confirmed_awaiting_payment"
	BOOKING_CONFIRMED_PAID                BookingStatus = "confirmed_paid"
	BOOKING_COMPLETED                     BookingStatus = "completed"
	BOOKING_CANCELLED_BY_CLIENT           BookingStatus = "cancelled_by_client"
	BOOKING_CANCELLED_BY_PROVIDER         BookingStatus = "cancelled_by_provider"
	BOOKING_REJECTED                      BookingStatus = "rejected"
)

type TicketBookingStatus string

const (
	TICKET_BOOKING_PENDING   TicketBookingStatus = "pending"
	TICKET_BOOKING_CONFIRMED TicketBookingStatus = "confirmed"
	TICKET_BOOKING_CANCELLED TicketBookingStatus = "cancelled"
	TICKET_BOOKING_ATTENDED  TicketBookingStatus = "attended"
	TICKET_BOOKING_NO_SHOW   TicketBookingStatus = "no_show"
	TICKET_BOOKING_REFUNDED  TicketBookingStatus = "refunded"
)

var TicketBookingStatuses = []TicketBookingStatus{
	TICKET_BOOKING_PENDING,
	TICKET_BOOKING_CONFIRMED,
	TICKET_BOOKING_CANCELLED,
	TICKET_BOOKING_ATTENDED,
	TICKET_BOOKING_NO_SHOW,
	TICKET_BOOKING_REFUNDED,
}

type PaymentStatus string

const (
	PAYMENT_PENDING  PaymentStatus = "pending"
	PAYMENT_PAID     PaymentStatus = "paid"
	PAYMENT_FAILED   PaymentStatus = "failed"
	PAYMENT_REFUNDED PaymentStatus = "refunded"
)

type TransactionStatus string

const (
	TRANSACTION_PENDING   TransactionStatus = "pending"
	TRANSACTION_COMPLETED TransactionStatus = "completed"
	TRANSACTION_FAILED    TransactionStatus = "failed"
)

const PAYMENT_METHOD_KHALTI = "khalti"

type Role string

const (
	ROLE_CLIENT           Role = "client"
	ROLE_ADMIN            Role = "admin"
	ROLE_SERVICE_PROVIDER Role = "service_provider"
	ROLE_ORGANIZER        Role = "organizer"
	ROLE_PHOTOGRAPHER     Role = "photographer"
	ROLE_VENUE            Role = "venue"
	ROLE_MAKEUP_ARTIST    Role = "makeup_artist"
	ROLE_CATERER          Role = "caterer"
	ROLE_DECORATOR        Role = "decorator"
)

func (r Role) IsServiceProvider() bool {
	switch r {
	case ROLE_SERVICE_PROVIDER, ROLE_ORGANIZER, ROLE_PHOTOGRAPHER, ROLE_VENUE, ROLE_MAKEUP_ARTIST, ROLE_CATERER, ROLE_DECORATOR:
		return true
	}
	return false
}
