package backend

import (
	"time"

	"github.com/zombor/dealsafe/internal/voucher"
)

// User is an account identified by its phone number
type User struct {
	ID          int64     `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record is a stored voucher with its owner and blob
type Record struct {
	voucher.Voucher
	UserID   int64  `json:"user_id"`
	BlobName string `json:"blob_name"`
}

// OTP is a pending one-time code
type OTP struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	SentAt    time.Time `json:"sent_at"`
	Attempts  int       `json:"attempts"`
}

// PushToken is a registered notification target
type PushToken struct {
	UserID     int64     `json:"user_id"`
	Token      string    `json:"token"`
	Platform   string    `json:"platform"`
	DeviceName string    `json:"device_name"`
	CreatedAt  time.Time `json:"created_at"`
}
