package scopes

import "gorm.io/gorm"

func WithID(id any) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ?", id)
	}
}

func WithPidx(pidx string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("gateway_transaction_id = ?", pidx)
	}
}

func WithPendingStatus(db *gorm.DB) *gorm.DB {
	return db.Where("status = ?", "pending")
}

func NewestFirst(db *gorm.DB) *gorm.DB {
	return db.Order("created_at DESC")
}
