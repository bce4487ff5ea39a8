package payments

import (
	"esm/src/models"
	"esm/src/models/scopes"
	"esm/src/types"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BookingRecord is the family-independent view of a booking row.
type BookingRecord struct {
	Family            types.BookingFamily `json:"family"`
	ID                uuid.UUID           `json:"id"`
	OwnerID           uint                `json:"owner_id"`
	ServiceProviderID uint                `json:"service_provider_id"`
	Title             string              `json:"title"`
	Status            string              `json:"status"`
	PaymentStatus     types.PaymentStatus `json:"payment_status"`
	TotalAmount       decimal.Decimal     `json:"total_amount"`
	CreatedAt         time.Time           `json:"created_at"`

	Customer     *models.User         `json:"-"`
	Transactions []models.Transaction `json:"-"`
}

// BookingFamily hides the table and status vocabulary of one booking model.
// Lookups return gorm.ErrRecordNotFound when nothing matches.
type BookingFamily interface {
	Name() types.BookingFamily
	TransactionTable() string
	PaidStatus() string
	OrderName(rec *BookingRecord) string
	AwaitingConfirmation(rec *BookingRecord) bool

	FindPayable(tx *gorm.DB, id uuid.UUID, ownerID uint) (*BookingRecord, error)
	FindOwned(tx *gorm.DB, id uuid.UUID, ownerID uint) (*BookingRecord, error)
	FindByID(tx *gorm.DB, id uuid.UUID, lock bool) (*BookingRecord, error)
	MarkPaid(tx *gorm.DB, id uuid.UUID) (int64, error)
	SetPaymentStatus(tx *gorm.DB, id uuid.UUID, status types.PaymentStatus) (int64, error)
	ListForOwner(tx *gorm.DB, ownerID uint, byProvider bool) ([]BookingRecord, error)
}

var payableStatuses = []types.PaymentStatus{types.PAYMENT_PENDING, types.PAYMENT_FAILED}

// DefaultFamilies is the lookup order used when a booking id could belong to either table.
func DefaultFamilies() []BookingFamily {
	return []BookingFamily{StandardFamily{}, EventTicketFamily{}}
}

func shortID(id uuid.UUID) string {
	return strings.ToUpper(id.String()[:8])
}

func lockRow(tx *gorm.DB, lock bool) *gorm.DB {
	if lock {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func newestTransactions(db *gorm.DB) *gorm.DB {
	return scopes.NewestFirst(db)
}

type StandardFamily struct{}

func (StandardFamily) Name() types.BookingFamily { return types.FAMILY_STANDARD }

func (StandardFamily) TransactionTable() string { return models.PaymentTransactionTable }

func (StandardFamily) PaidStatus() string { return string(types.BOOKING_CONFIRMED_PAID) }

func (StandardFamily) OrderName(rec *BookingRecord) string {
	title := rec.Title
	if title == "" {
		title = "Service"
	} else {
		title = strings.ToUpper(title[:1]) + strings.ReplaceAll(title[1:], "_", " ")
	}
	return fmt.Sprintf("%s booking %s", title, shortID(rec.ID))
}

func (StandardFamily) AwaitingConfirmation(rec *BookingRecord) bool {
	return rec.Status == string(types.BOOKING_PENDING_PROVIDER_CONFIRMATION)
}

func (f StandardFamily) FindPayable(tx *gorm.DB, id uuid.UUID, ownerID uint) (*BookingRecord, error) {
	var b models.Booking
	err := tx.
		Preload("Client").
		Where("id = ? AND client_id = ?", id, ownerID).
		Where("status IN ?", []types.BookingStatus{
			types.BOOKING_PENDING_PROVIDER_CONFIRMATION,
			types.BOOKING_CONFIRMED_AWAITING_PAYMENT,
			types.BOOKING_CONFIRMED_PAID,
		}).
		Where("payment_status IN ?", payableStatuses).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return f.record(&b), nil
}

func (f StandardFamily) FindOwned(tx *gorm.DB, id uuid.UUID, ownerID uint) (*BookingRecord, error) {
	var b models.Booking
	if err := tx.Where("id = ? AND client_id = ?", id, ownerID).First(&b).Error; err != nil {
		return nil, err
	}
	return f.record(&b), nil
}

func (f StandardFamily) FindByID(tx *gorm.DB, id uuid.UUID, lock bool) (*BookingRecord, error) {
	var b models.Booking
	if err := lockRow(tx, lock).Scopes(scopes.WithID(id)).First(&b).Error; err != nil {
		return nil, err
	}
	return f.record(&b), nil
}

func (f StandardFamily) MarkPaid(tx *gorm.DB, id uuid.UUID) (int64, error) {
	res := tx.Model(&models.Booking{}).Scopes(scopes.WithID(id)).Updates(map[string]any{
		"payment_status": types.PAYMENT_PAID,
		"status":         types.BOOKING_CONFIRMED_PAID,
	})
	return res.RowsAffected, res.Error
}

func (StandardFamily) SetPaymentStatus(tx *gorm.DB, id uuid.UUID, status types.PaymentStatus) (int64, error) {
	res := tx.Model(&models.Booking{}).Scopes(scopes.WithID(id)).Update("payment_status", status)
	return res.RowsAffected, res.Error
}

func (f StandardFamily) ListForOwner(tx *gorm.DB, ownerID uint, byProvider bool) ([]BookingRecord, error) {
	column := "client_id"
	if byProvider {
		column = "service_provider_id"
	}
	var bookings []models.Booking
	err := tx.
		Preload("Transactions", newestTransactions).
		Where(column+" = ?", ownerID).
		Order("created_at DESC").
		Find(&bookings).Error
	if err != nil {
		return nil, err
	}
	out := make([]BookingRecord, 0, len(bookings))
	for i := range bookings {
		rec := f.record(&bookings[i])
		rec.Transactions = make([]models.Transaction, 0, len(bookings[i].Transactions))
		for _, t := range bookings[i].Transactions {
			rec.Transactions = append(rec.Transactions, t.Transaction)
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (StandardFamily) record(b *models.Booking) *BookingRecord {
	return &BookingRecord{
		Family:            types.FAMILY_STANDARD,
		ID:                b.ID,
		OwnerID:           b.ClientID,
		ServiceProviderID: b.ServiceProviderID,
		Title:             b.ServiceType,
		Status:            string(b.Status),
		PaymentStatus:     b.PaymentStatus,
		TotalAmount:       b.TotalAmount,
		CreatedAt:         b.CreatedAt,
		Customer:          b.Client,
	}
}

type EventTicketFamily struct{}

func (EventTicketFamily) Name() types.BookingFamily { return types.FAMILY_EVENT_TICKET }

func (EventTicketFamily) TransactionTable() string {
	return models.EventTicketPaymentTransactionTable
}

func (EventTicketFamily) PaidStatus() string { return string(types.TICKET_BOOKING_CONFIRMED) }

func (EventTicketFamily) OrderName(rec *BookingRecord) string {
	if rec.Title == "" {
		return fmt.Sprintf("Event ticket booking %s", shortID(rec.ID))
	}
	return fmt.Sprintf("%s ticket booking", rec.Title)
}

// Ticket bookings have no provider confirmation step.
func (EventTicketFamily) AwaitingConfirmation(rec *BookingRecord) bool { return false }

func (f EventTicketFamily) FindPayable(tx *gorm.DB, id uuid.UUID, ownerID uint) (*BookingRecord, error) {
	var b models.EventTicketBooking
	err := tx.
		Preload("User").
		Where("id = ? AND user_id = ?", id, ownerID).
		Where("status IN ?", types.TicketBookingStatuses).
		Where("payment_status IN ?", payableStatuses).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return f.record(&b), nil
}

func (f EventTicketFamily) FindOwned(tx *gorm.DB, id uuid.UUID, ownerID uint) (*BookingRecord, error) {
	var b models.EventTicketBooking
	if err := tx.Where("id = ? AND user_id = ?", id, ownerID).First(&b).Error; err != nil {
		return nil, err
	}
	return f.record(&b), nil
}

func (f EventTicketFamily) FindByID(tx *gorm.DB, id uuid.UUID, lock bool) (*BookingRecord, error) {
	var b models.EventTicketBooking
	if err := lockRow(tx, lock).Scopes(scopes.WithID(id)).First(&b).Error; err != nil {
		return nil, err
	}
	return f.record(&b), nil
}

func (EventTicketFamily) MarkPaid(tx *gorm.DB, id uuid.UUID) (int64, error) {
	res := tx.Model(&models.EventTicketBooking{}).Scopes(scopes.WithID(id)).Updates(map[string]any{
		"payment_status": types.PAYMENT_PAID,
		"status":         types.TICKET_BOOKING_CONFIRMED,
	})
	return res.RowsAffected, res.Error
}

func (EventTicketFamily) SetPaymentStatus(tx *gorm.DB, id uuid.UUID, status types.PaymentStatus) (int64, error) {
	res := tx.Model(&models.EventTicketBooking{}).Scopes(scopes.WithID(id)).Update("payment_status", status)
	return res.RowsAffected, res.Error
}

func (f EventTicketFamily) ListForOwner(tx *gorm.DB, ownerID uint, byProvider bool) ([]BookingRecord, error) {
	column := "user_id"
	if byProvider {
		column = "service_provider_id"
	}
	var bookings []models.EventTicketBooking
	err := tx.
		Preload("Transactions", newestTransactions).
		Where(column+" = ?", ownerID).
		Order("created_at DESC").
		Find(&bookings).Error
	if err != nil {
		return nil, err
	}
	out := make([]BookingRecord, 0, len(bookings))
	for i := range bookings {
		rec := f.record(&bookings[i])
		rec.Transactions = make([]models.Transaction, 0, len(bookings[i].Transactions))
		for _, t := range bookings[i].Transactions {
			rec.Transactions = append(rec.Transactions, t.Transaction)
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (EventTicketFamily) record(b *models.EventTicketBooking) *BookingRecord {
	return &BookingRecord{
		Family:            types.FAMILY_EVENT_TICKET,
		ID:                b.ID,
		OwnerID:           b.UserID,
		ServiceProviderID: b.ServiceProviderID,
		Title:             b.EventName,
		Status:            string(b.Status),
		PaymentStatus:     b.PaymentStatus,
		TotalAmount:       b.TotalAmount,
		CreatedAt:         b.CreatedAt,
		Customer:          b.User,
	}
}
