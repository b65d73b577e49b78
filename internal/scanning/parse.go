package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const notAVoucher = "The document does not appear to be a voucher or gift card"

// parseVoucherJSON parses a model response into VoucherData
func parseVoucherJSON(text string) (*VoucherData, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var data VoucherData
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data.ExpiresAt = normalizeDate(data.ExpiresAt)
	data.Description = strings.TrimSpace(data.Description)
	data.RedemptionMethod = strings.TrimSpace(data.RedemptionMethod)
	data.RedemptionValue = strings.TrimSpace(data.RedemptionValue)
	data.RejectionReason = strings.TrimSpace(data.RejectionReason)

	if data.Confidence < 0 {
		data.Confidence = 0
	}
	if data.Confidence > 1 {
		data.Confidence = 1
	}

	steps := data.UsageSteps[:0]
	for _, s := range data.UsageSteps {
		if s = strings.TrimSpace(s); s != "" {
			steps = append(steps, s)
		}
	}
	data.UsageSteps = steps

	// valid and rejected are mutually exclusive
	if !data.IsVoucher {
		data.IsValid = false
	}
	if data.IsValid {
		data.RejectionReason = ""
	} else if data.RejectionReason == "" {
		data.RejectionReason = notAVoucher
	}

	return &data, nil
}

// normalizeDate returns value as YYYY-MM-DD, or empty when it cannot be parsed
func normalizeDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "null") {
		return ""
	}
	formats := []string{
		"2006-01-02",
		"2006/01/02",
		"02-01-2006",
		"02/01/2006",
		"02.01.2006",
		time.RFC3339,
	}
	for _, format := range formats {
		if d, err := time.Parse(format, value); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return ""
}
