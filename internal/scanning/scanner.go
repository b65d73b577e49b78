package scanning

import (
	"context"
	"errors"
)

// ErrUnsupportedFormat is returned for content that cannot be rendered to an image
var ErrUnsupportedFormat = errors.New("unsupported file format")

// VoucherData contains the fields extracted from a voucher document
type VoucherData struct {
	IsVoucher        bool     `json:"is_voucher"`
	IsValid          bool     `json:"is_valid"`
	RejectionReason  string   `json:"rejection_reason"`
	NumberOfPersons  *int     `json:"number_of_persons"`
	RedemptionMethod string   `json:"redemption_method"`
	RedemptionValue  string   `json:"redemption_value"`
	Description      string   `json:"description"`
	ExpiresAt        string   `json:"expires_at"` // YYYY-MM-DD or empty
	Confidence       float64  `json:"confidence_score"`
	UsageSteps       []string `json:"usage_steps"`
}

// Scanner defines the interface for voucher analysis
type Scanner interface {
	// ScanVoucher analyzes an image or PDF and extracts voucher details
	ScanVoucher(ctx context.Context, data []byte, contentType string) (*VoucherData, error)
	// Close releases resources
	Close() error
}
