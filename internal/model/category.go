package model

import "time"

// Category is a per-user label copied from a template onto every instance it
// generates. Names are unique per user.
type Category struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"index:idx_user_category_name,unique"`
	Name      string `gorm:"index:idx_user_category_name,unique"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Templates []Template `gorm:"foreignKey:CategoryID"`
	Tasks     []Task     `gorm:"foreignKey:CategoryID"`
}
