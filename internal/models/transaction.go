package models

import (
	"time"
)

// Transaction states. A deposit starts PENDING and moves exactly once to
// APPROVED or REJECTED; transfers are created already APPROVED.
const (
	StatePending  = "PENDING"
	StateApproved = "APPROVED"
	StateRejected = "REJECTED"
)

// BaseTransaction carries the fields shared by every ledger entry.
type BaseTransaction struct {
	ID        int64     `json:"id" db:"id"`
	Amount    int64     `json:"amount" db:"amount"` // smallest credit unit
	State     string    `json:"state" db:"state"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// VendorTransaction is a deposit request raised by a vendor. The balance
// effect happens only at the PENDING -> APPROVED transition, atomically
// with the state change.
type VendorTransaction struct {
	BaseTransaction
	VendorID     int64  `json:"vendor_id" db:"vendor_id"`
	Reference    string `json:"reference" db:"reference"`
	RejectReason string `json:"reject_reason" db:"reject_reason"`
}

// PhoneNumberTransaction is a settled vendor-to-phone transfer. It is only
// ever created inside the same atomic unit as the balance moves it records.
type PhoneNumberTransaction struct {
	BaseTransaction
	VendorID      int64 `json:"vendor_id" db:"vendor_id"`
	PhoneNumberID int64 `json:"phone_number_id" db:"phone_number_id"`
}
