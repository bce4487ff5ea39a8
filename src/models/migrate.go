package models

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate creates the payment tables and the per-booking completed-payment guard.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&User{},
		&Booking{},
		&EventTicketBooking{},
		&PaymentTransaction{},
		&EventTicketPaymentTransaction{},
	)
	if err != nil {
		return err
	}
	for _, table := range []string{PaymentTransactionTable, EventTicketPaymentTransactionTable} {
		stmt := fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS uq_%s_completed ON %s (booking_id) WHERE status = 'completed'",
			table, table,
		)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("completed index on %s: %w", table, err)
		}
	}
	return nil
}
