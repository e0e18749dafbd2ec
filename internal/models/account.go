package models

import (
	"time"
)

// Vendor is a credit-holding account. A vendor tops up its balance through
// approved deposit transactions and sells credits to its phone numbers.
// TotalSell only ever grows, once per settled transfer.
type Vendor struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Username  string    `json:"username" db:"username"`
	Balance   int64     `json:"balance" db:"balance"`
	TotalSell int64     `json:"total_sell" db:"total_sell"`
	Version   int       `json:"-" db:"version"` // for optimistic locking
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PhoneNumber is a credit-receiving account owned by exactly one vendor
// for its whole lifetime.
type PhoneNumber struct {
	ID          int64     `json:"id" db:"id"`
	VendorID    int64     `json:"vendor_id" db:"vendor_id"`
	PhoneNumber string    `json:"phone_number" db:"phone_number"`
	Balance     int64     `json:"balance" db:"balance"`
	Version     int       `json:"-" db:"version"` // for optimistic locking
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
