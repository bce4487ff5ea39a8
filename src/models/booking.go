package models

import (
	"esm/src/types"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Booking struct {
	ID                uuid.UUID           `gorm:"primarykey;type:uuid" json:"id"`
	ClientID          uint                `gorm:"index;not null" json:"client_id"`
	ServiceProviderID uint                `gorm:"index;not null" json:"service_provider_id"`
	ServiceType       string              `json:"service_type,omitempty"`
	PackageName       string              `json:"package_name,omitempty"`
	EventDate         *time.Time          `json:"event_date,omitempty"`
	TotalAmount       decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	Status            types.BookingStatus `gorm:"default:pending_provider_confirmation" json:"status"`
	PaymentStatus     types.PaymentStatus `gorm:"default:pending" json:"payment_status"`

	Client       *User                `gorm:"foreignKey:ClientID" json:"client,omitempty"`
	Transactions []PaymentTransaction `gorm:"foreignKey:BookingID" json:"transactions,omitempty"`

	types.Timestamps
}

func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// EventTicketBooking is a ticket purchase for an organizer's event. Its status
// vocabulary is independent of Booking.
type EventTicketBooking struct {
	ID                uuid.UUID                 `gorm:"primarykey;type:uuid" json:"id"`
	UserID            uint                      `gorm:"index;not null" json:"user_id"`
	ServiceProviderID uint                      `gorm:"index;not null" json:"service_provider_id"`
	EventName         string                    `json:"event_name,omitempty"`
	TicketType        string                    `json:"ticket_type,omitempty"`
	Quantity          uint                      `gorm:"default:1" json:"quantity"`
	TotalAmount       decimal.Decimal           `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	Status            types.TicketBookingStatus `gorm:"default:pending" json:"status"`
	PaymentStatus     types.PaymentStatus       `gorm:"default:pending" json:"payment_status"`

	User         *User                           `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Transactions []EventTicketPaymentTransaction `gorm:"foreignKey:BookingID" json:"transactions,omitempty"`

	types.Timestamps
}

func (b *EventTicketBooking) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
