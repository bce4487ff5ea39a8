package payments

import (
	"context"
	"errors"
	"esm/src/models"
	"esm/src/types"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentStatusResult struct {
	BookingID         uuid.UUID           `json:"bookingId"`
	Family            types.BookingFamily `json:"family"`
	PaymentStatus     types.PaymentStatus `json:"paymentStatus"`
	Status            string              `json:"status"`
	TotalAmount       decimal.Decimal     `json:"totalAmount"`
	LatestTransaction *models.Transaction `json:"latestTransaction"`
}

type Actor struct {
	ID   uint
	Role types.Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == types.ROLE_ADMIN
}

type StatusUpdate struct {
	Status     types.TransactionStatus
	Pidx       *string
	VerifiedAt *time.Time
	Reason     *string
}

type HistoryEntry struct {
	BookingRecord
	Transactions []models.Transaction `json:"transactions"`
}

func (s *Service) GetPaymentStatus(ctx context.Context, bookingID uuid.UUID, clientID uint) (*PaymentStatusResult, error) {
	db := s.db.WithContext(ctx)
	for _, family := range s.families {
		booking, err := family.FindOwned(db, bookingID, clientID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		latest, err := latestTransaction(db, family.TransactionTable(), booking.ID)
		if err != nil {
			return nil, err
		}
		return statusResult(booking, latest), nil
	}
	return nil, errBookingNotFound()
}

func statusResult(booking *BookingRecord, latest *models.Transaction) *PaymentStatusResult {
	return &PaymentStatusResult{
		BookingID:         booking.ID,
		Family:            booking.Family,
		PaymentStatus:     booking.PaymentStatus,
		Status:            booking.Status,
		TotalAmount:       booking.TotalAmount,
		LatestTransaction: latest,
	}
}

// UpdatePaymentStatus is the operator override. It bypasses the gateway but
// keeps the completed-transaction rules: completed rows are immutable and a
// booking has at most one completed transaction.
func (s *Service) UpdatePaymentStatus(ctx context.Context, bookingID uuid.UUID, actor Actor, update StatusUpdate) (*PaymentStatusResult, error) {
	switch update.Status {
	case types.TRANSACTION_PENDING, types.TRANSACTION_COMPLETED, types.TRANSACTION_FAILED:
	default:
		return nil, &Error{Code: http.StatusBadRequest, Status: StatusInvalidStatus, Message: fmt.Sprintf("unsupported payment status %q", update.Status)}
	}
	db := s.db.WithContext(ctx)
	family, err := s.findForActor(db, bookingID, actor)
	if err != nil {
		return nil, err
	}
	table := family.TransactionTable()
	now := s.now()
	log := s.log.With().Str("booking_id", bookingID.String()).Uint("actor_id", actor.ID).Str("status", string(update.Status)).Logger()

	var result *PaymentStatusResult
	var changed *models.Transaction
	err = db.Transaction(func(tx *gorm.DB) error {
		booking, err := family.FindByID(tx, bookingID, true)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errBookingNotFound()
		}
		if err != nil {
			return err
		}
		latest, err := latestTransaction(tx, table, bookingID)
		if err != nil {
			return err
		}
		if latest == nil {
			return errTransactionNotFound()
		}
		if latest.IsCompleted() || booking.PaymentStatus == types.PAYMENT_PAID {
			return &Error{Code: http.StatusConflict, Status: StatusPaymentAlreadyCompleted, Message: "payment already completed for this booking"}
		}
		if update.Pidx != nil && *update.Pidx != latest.Pidx() {
			taken, err := pidxTaken(tx, *update.Pidx, latest.ID)
			if err != nil {
				return err
			}
			if taken {
				return &Error{Code: http.StatusConflict, Status: StatusDuplicatePayment, Message: "pidx already belongs to another transaction"}
			}
		}

		values := map[string]any{"status": update.Status}
		if update.Pidx != nil {
			values["gateway_transaction_id"] = *update.Pidx
		}
		verifiedAt := now
		if update.VerifiedAt != nil {
			verifiedAt = update.VerifiedAt.UTC()
		}
		values["verified_at"] = verifiedAt

		var paymentStatus types.PaymentStatus
		switch update.Status {
		case types.TRANSACTION_COMPLETED:
			other, err := otherCompletedExists(tx, table, bookingID, latest.ID)
			if err != nil {
				return err
			}
			if other != nil {
				return &Error{Code: http.StatusConflict, Status: StatusDuplicatePayment, Message: fmt.Sprintf("booking already paid by transaction %s", other.ID)}
			}
			values["completed_at"] = verifiedAt
			values["failure_reason"] = nil
			paymentStatus = types.PAYMENT_PAID
		case types.TRANSACTION_FAILED:
			reason := "marked failed by operator"
			if update.Reason != nil && *update.Reason != "" {
				reason = *update.Reason
			}
			values["failure_reason"] = reason
			paymentStatus = types.PAYMENT_FAILED
		default:
			values["failure_reason"] = nil
			paymentStatus = types.PAYMENT_PENDING
		}

		n, err := updateUnlessCompleted(tx, table, latest.ID, now, values)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &Error{Code: http.StatusConflict, Status: StatusDuplicatePayment, Message: "booking already has a completed transaction", Err: err}
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return &Error{Code: http.StatusConflict, Status: StatusPaymentAlreadyCompleted, Message: "payment already completed for this booking"}
		}

		if paymentStatus == types.PAYMENT_PAID {
			_, err = family.MarkPaid(tx, bookingID)
		} else {
			_, err = family.SetPaymentStatus(tx, bookingID, paymentStatus)
		}
		if err != nil {
			return err
		}

		if changed, err = findTransaction(tx, table, latest.ID); err != nil {
			return err
		}
		if booking, err = family.FindByID(tx, bookingID, false); err != nil {
			return err
		}
		result = statusResult(booking, changed)
		return nil
	})
	if err != nil {
		var perr *Error
		if !errors.As(err, &perr) {
			log.Error().Err(err).Msg("payment status override failed")
		}
		return nil, err
	}

	log.Info().Str("transaction_id", changed.ID.String()).Msg("payment status overridden")
	if update.Status != types.TRANSACTION_PENDING {
		s.publish(ctx, family, changed)
	}
	return result, nil
}

func (s *Service) findForActor(db *gorm.DB, bookingID uuid.UUID, actor Actor) (BookingFamily, error) {
	for _, family := range s.families {
		var err error
		if actor.IsAdmin() {
			_, err = family.FindByID(db, bookingID, false)
		} else {
			_, err = family.FindOwned(db, bookingID, actor.ID)
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return family, nil
	}
	return nil, errBookingNotFound()
}

// GetPaymentHistory lists bookings across families with their transactions,
// newest first. Clients see what they booked; providers see what was booked
// with them.
func (s *Service) GetPaymentHistory(ctx context.Context, ownerID uint, role types.Role) ([]HistoryEntry, error) {
	var byProvider bool
	switch {
	case role == types.ROLE_CLIENT:
	case role.IsServiceProvider():
		byProvider = true
	default:
		return nil, &Error{Code: http.StatusBadRequest, Status: StatusInvalidRole, Message: fmt.Sprintf("payment history is not available for role %q", role)}
	}

	db := s.db.WithContext(ctx)
	entries := []HistoryEntry{}
	for _, family := range s.families {
		records, err := family.ListForOwner(db, ownerID, byProvider)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			txns := rec.Transactions
			if txns == nil {
				txns = []models.Transaction{}
			}
			entries = append(entries, HistoryEntry{BookingRecord: rec, Transactions: txns})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// StalePending lists unsettled transactions with a pidx created between
// now-maxAge and now-minAge, oldest first. Failed rows whose last lookup was
// still in progress at Khalti are included.
func (s *Service) StalePending(ctx context.Context, minAge, maxAge time.Duration, limit int) ([]StaleTransaction, error) {
	now := s.now()
	db := s.db.WithContext(ctx)
	var out []StaleTransaction
	for _, family := range s.families {
		ts, err := listStalePending(db, family.Name(), family.TransactionTable(), now.Add(-maxAge), now.Add(-minAge), limit)
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
	return out, nil
}

// CountOrphaned counts pending transactions older than minAge that never got
// a pidx because initiation failed.
func (s *Service) CountOrphaned(ctx context.Context, minAge time.Duration) (int64, error) {
	before := s.now().Add(-minAge)
	db := s.db.WithContext(ctx)
	var total int64
	for _, family := range s.families {
		n, err := countOrphaned(db, family.TransactionTable(), before)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
