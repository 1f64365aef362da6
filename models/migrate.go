package models

import "gorm.io/gorm"

// AutoMigrate creates or updates every table the service owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Tournament{},
		&PendingTransaction{},
		&SettlementRecord{},
		&PayoutTransfer{},
		&TournamentMirror{},
	)
}
