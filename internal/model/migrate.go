package model

import "gorm.io/gorm"

// All lists every table owned by the gateway, in dependency order.
func All() []interface{} {
	return []interface{}{
		&ChatSession{},
		&ChatMessage{},
		&UserChatSession{},
	}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(All()...)
}
