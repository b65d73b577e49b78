package voucher

import "time"

// UsageGuide holds the redemption instructions extracted by analysis
type UsageGuide struct {
	Raw   string   `json:"raw"`
	Steps []string `json:"steps"`
}

// Voucher is a server-owned record describing a redeemable offer.
// A valid voucher has no RejectionReason; an invalid one carries it.
type Voucher struct {
	ID               int64       `json:"id"`
	FileURL          string      `json:"file_url"`
	FileType         string      `json:"file_type"`
	OriginalFilename string      `json:"original_filename"`
	FileSize         int64       `json:"file_size"`
	NumberOfPersons  *int        `json:"number_of_persons"`
	RedemptionMethod *string     `json:"redemption_method"`
	RedemptionValue  *string     `json:"redemption_value"`
	Description      *string     `json:"description"`
	ExpiresAt        *string     `json:"expires_at"`
	IsValid          bool        `json:"is_valid"`
	RejectionReason  *string     `json:"rejection_reason"`
	ConfidenceScore  *float64    `json:"confidence_score"`
	UsageGuide       *UsageGuide `json:"usage_guide"`
	UsedAt           *time.Time  `json:"used_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Status summarizes validity for display
func (v Voucher) Status() string {
	if v.IsValid {
		return "valid"
	}
	if v.RejectionReason != nil && *v.RejectionReason != "" {
		return "rejected: " + *v.RejectionReason
	}
	return "invalid"
}
