package api

import (
	"github.com/zombor/dealsafe/internal/session"
	"github.com/zombor/dealsafe/internal/voucher"
)

// FileRef is the blob reference returned by the raw upload step
type FileRef struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// Registration describes a push notification token for this device
type Registration struct {
	Token      string `json:"token"`
	Platform   string `json:"platform"`
	DeviceName string `json:"device_name"`
}

type phoneRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type verifyRequest struct {
	PhoneNumber string `json:"phone_number"`
	Code        string `json:"code"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type urlRequest struct {
	URL string `json:"url"`
}

type analyzeRequest struct {
	FileURL  string `json:"fileUrl"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// statusResponse covers the OTP endpoints; Code is only populated by development backends.
type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type verifyResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Token   string        `json:"token"`
	User    *session.User `json:"user"`
}

type listResponse struct {
	Success  bool              `json:"success"`
	Vouchers []voucher.Voucher `json:"vouchers"`
}

type uploadFileResponse struct {
	File *FileRef `json:"file"`
}

type voucherResponse struct {
	Success bool             `json:"success"`
	Voucher *voucher.Voucher `json:"voucher"`
}

// errorBody is the structured error the backend sends with non-2xx responses
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Hint    string `json:"hint"`
}
