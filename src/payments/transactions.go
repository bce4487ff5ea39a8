package payments

import (
	"esm/src/lib/khalti"
	"esm/src/models"
	"esm/src/models/scopes"
	"esm/src/types"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Transactions in either table are read and written through the shared
// models.Transaction columns.

func findTransaction(tx *gorm.DB, table string, id uuid.UUID) (*models.Transaction, error) {
	var t models.Transaction
	if err := tx.Table(table).Scopes(scopes.WithID(id)).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func findTransactionByPidx(tx *gorm.DB, table string, pidx string) (*models.Transaction, error) {
	var t models.Transaction
	if err := tx.Table(table).Scopes(scopes.WithPidx(pidx)).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// latestTransaction returns nil without error when the booking has none.
func latestTransaction(tx *gorm.DB, table string, bookingID uuid.UUID) (*models.Transaction, error) {
	var ts []models.Transaction
	err := tx.Table(table).
		Where("booking_id = ?", bookingID).
		Scopes(scopes.NewestFirst).
		Limit(1).
		Find(&ts).Error
	if err != nil || len(ts) == 0 {
		return nil, err
	}
	return &ts[0], nil
}

func createTransaction(tx *gorm.DB, table string, t *models.Transaction) error {
	return tx.Table(table).Create(t).Error
}

func otherCompletedExists(tx *gorm.DB, table string, bookingID uuid.UUID, except uuid.UUID) (*models.Transaction, error) {
	var ts []models.Transaction
	err := tx.Table(table).
		Where("booking_id = ? AND status = ? AND id <> ?", bookingID, types.TRANSACTION_COMPLETED, except).
		Limit(1).
		Find(&ts).Error
	if err != nil || len(ts) == 0 {
		return nil, err
	}
	return &ts[0], nil
}

func pidxTaken(tx *gorm.DB, pidx string, except uuid.UUID) (bool, error) {
	for _, table := range []string{models.PaymentTransactionTable, models.EventTicketPaymentTransactionTable} {
		var n int64
		err := tx.Table(table).
			Where("gateway_transaction_id = ? AND id <> ?", pidx, except).
			Count(&n).Error
		if err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

// updateUnlessCompleted applies values only while the row is not completed.
// The returned count is zero when the row was already completed.
func updateUnlessCompleted(tx *gorm.DB, table string, id uuid.UUID, now time.Time, values map[string]any) (int64, error) {
	values["updated_at"] = now
	res := tx.Table(table).
		Where("id = ? AND status <> ?", id, types.TRANSACTION_COMPLETED).
		Updates(values)
	return res.RowsAffected, res.Error
}

func completeTransaction(tx *gorm.DB, table string, id uuid.UUID, now time.Time, raw types.JSONB) (int64, error) {
	values := map[string]any{
		"status":         types.TRANSACTION_COMPLETED,
		"completed_at":   now,
		"failure_reason": nil,
	}
	if raw != nil {
		values["gateway_response"] = raw
	}
	return updateUnlessCompleted(tx, table, id, now, values)
}

type failOutcome int

const (
	// failSkipped means the row was already completed and left alone.
	failSkipped failOutcome = iota
	// failRefreshed means the row was already failed; only its reason and payload changed.
	failRefreshed
	// failTransitioned means the row moved from pending to failed.
	failTransitioned
)

func failTransaction(tx *gorm.DB, table string, id uuid.UUID, now time.Time, reason string, raw types.JSONB) (failOutcome, error) {
	values := map[string]any{
		"status":         types.TRANSACTION_FAILED,
		"failure_reason": reason,
		"updated_at":     now,
	}
	if raw != nil {
		values["gateway_response"] = raw
	}
	res := tx.Table(table).
		Where("id = ? AND status = ?", id, types.TRANSACTION_PENDING).
		Updates(values)
	if res.Error != nil {
		return failSkipped, res.Error
	}
	if res.RowsAffected > 0 {
		return failTransitioned, nil
	}
	n, err := updateUnlessCompleted(tx, table, id, now, values)
	if err != nil || n == 0 {
		return failSkipped, err
	}
	return failRefreshed, nil
}

// StaleTransaction is a pending transaction old enough to be re-verified.
type StaleTransaction struct {
	Family        types.BookingFamily
	TransactionID uuid.UUID
	Pidx          string
	CreatedAt     time.Time
}

// unsettled matches pending rows and failed rows whose last lookup was still
// in progress at the gateway.
func unsettled(tx *gorm.DB) *gorm.DB {
	gatewayStatus := "gateway_response->>'status'"
	if tx.Dialector.Name() == "sqlite" {
		gatewayStatus = "json_extract(gateway_response, '$.status')"
	}
	return tx.Session(&gorm.Session{NewDB: true}).
		Where("status = ?", types.TRANSACTION_PENDING).
		Or("status = ? AND "+gatewayStatus+" IN ?", types.TRANSACTION_FAILED, khalti.InProgressStatuses)
}

func listStalePending(tx *gorm.DB, family types.BookingFamily, table string, from, to time.Time, limit int) ([]StaleTransaction, error) {
	var ts []models.Transaction
	err := tx.Table(table).
		Where(unsettled(tx)).
		Where("gateway_transaction_id IS NOT NULL").
		Where("created_at BETWEEN ? AND ?", from, to).
		Order("created_at ASC").
		Limit(limit).
		Find(&ts).Error
	if err != nil {
		return nil, err
	}
	out := make([]StaleTransaction, 0, len(ts))
	for _, t := range ts {
		out = append(out, StaleTransaction{Family: family, TransactionID: t.ID, Pidx: t.Pidx(), CreatedAt: t.CreatedAt})
	}
	return out, nil
}

func countOrphaned(tx *gorm.DB, table string, before time.Time) (int64, error) {
	var n int64
	err := tx.Table(table).
		Scopes(scopes.WithPendingStatus).
		Where("gateway_transaction_id IS NULL").
		Where("created_at < ?", before).
		Count(&n).Error
	return n, err
}
