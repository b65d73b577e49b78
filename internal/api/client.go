// Package api is the HTTP client for the DealSafe backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/zombor/dealsafe/internal/failure"
	"github.com/zombor/dealsafe/internal/session"
	"github.com/zombor/dealsafe/internal/voucher"
)

// DefaultBaseURL is the production backend
const DefaultBaseURL = "https://dealsafe-backend.vercel.app"

// ErrInvalidResponse is returned when a 2xx body lacks the expected payload
var ErrInvalidResponse = errors.New("Invalid response from server")

// Client talks to the backend. Every call except the OTP login pair takes a bearer token.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client. A nil httpClient gets a client without a timeout;
// the backend's analysis step can legitimately take a long time.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}
}

// RequestOTP asks the backend to text a login code. The returned code is only
// non-empty against development backends.
func (c *Client) RequestOTP(ctx context.Context, phoneNumber string) (string, error) {
	var resp statusResponse
	if err := c.postJSON(ctx, "", "/api/auth/request-otp", phoneRequest{PhoneNumber: phoneNumber}, "Failed to send OTP code", &resp); err != nil {
		return "", err
	}
	return resp.Code, nil
}

// VerifyOTP exchanges a code for a session
func (c *Client) VerifyOTP(ctx context.Context, phoneNumber, code string) (session.Session, error) {
	var resp verifyResponse
	err := c.postJSON(ctx, "", "/api/auth/verify-otp", verifyRequest{PhoneNumber: phoneNumber, Code: code}, "The code is incorrect or expired", &resp)
	if err != nil {
		return session.Session{}, err
	}
	if !resp.Success || resp.Token == "" || resp.User == nil {
		message := resp.Message
		if message == "" {
			message = "The code is incorrect or expired"
		}
		return session.Session{}, &failure.RemoteError{Status: http.StatusOK, Message: message}
	}
	return session.Session{Token: resp.Token, User: *resp.User}, nil
}

// RequestDeleteAccount sends a confirmation code for account deletion
func (c *Client) RequestDeleteAccount(ctx context.Context, token string) (string, error) {
	var resp statusResponse
	if err := c.postJSON(ctx, token, "/api/auth/delete-account", nil, "Failed to send verification code", &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", &failure.RemoteError{Status: http.StatusOK, Message: orDefault(resp.Message, "Failed to send verification code")}
	}
	return resp.Code, nil
}

// ConfirmDeleteAccount deletes the account once the code is accepted
func (c *Client) ConfirmDeleteAccount(ctx context.Context, token, code string) error {
	var resp statusResponse
	if err := c.postJSON(ctx, token, "/api/auth/delete-account", codeRequest{Code: code}, "Invalid or expired OTP code", &resp); err != nil {
		return err
	}
	if !resp.Success {
		return &failure.RemoteError{Status: http.StatusOK, Message: orDefault(resp.Message, "Invalid or expired OTP code")}
	}
	return nil
}

// ListVouchers returns the authoritative voucher list
func (c *Client) ListVouchers(ctx context.Context, token string) ([]voucher.Voucher, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/vouchers?limit=100", token, nil)
	if err != nil {
		return nil, err
	}
	var resp listResponse
	if err := c.do(req, "Failed to fetch vouchers", &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Vouchers == nil {
		return nil, &failure.TransportError{Op: "list vouchers", Err: ErrInvalidResponse}
	}
	return resp.Vouchers, nil
}

// UploadFile transfers raw content to blob storage as a single multipart `file` field
func (c *Client) UploadFile(ctx context.Context, token, filename, mimeType string, content io.Reader) (*FileRef, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename)))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("creating form part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, &failure.TransportError{Op: "read file", Err: err}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/vouchers/upload-file", token, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	slog.Debug("Uploading file to blob storage", "filename", filename, "content_type", mimeType, "size", body.Len())

	var resp uploadFileResponse
	if err := c.do(req, "Upload failed", &resp); err != nil {
		return nil, err
	}
	if resp.File == nil || resp.File.URL == "" {
		return nil, &failure.TransportError{Op: "upload file", Err: ErrInvalidResponse}
	}
	return resp.File, nil
}

// Analyze submits an uploaded blob for AI analysis
func (c *Client) Analyze(ctx context.Context, token string, ref FileRef) (*voucher.Voucher, error) {
	var resp voucherResponse
	reqBody := analyzeRequest{
		FileURL:  ref.URL,
		Filename: ref.Filename,
		MimeType: ref.MimeType,
		Size:     ref.Size,
	}
	if err := c.postJSON(ctx, token, "/api/vouchers/analyze", reqBody, "Analysis failed", &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Voucher == nil {
		return nil, &failure.TransportError{Op: "analyze", Err: ErrInvalidResponse}
	}
	return resp.Voucher, nil
}

// UploadURL has the backend fetch and analyze a remote resource
func (c *Client) UploadURL(ctx context.Context, token, url string) (*voucher.Voucher, error) {
	var resp voucherResponse
	if err := c.postJSON(ctx, token, "/api/vouchers/upload", urlRequest{URL: url}, "Upload failed", &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Voucher == nil {
		return nil, &failure.TransportError{Op: "upload url", Err: ErrInvalidResponse}
	}
	return resp.Voucher, nil
}

// MarkUsed archives a voucher
func (c *Client) MarkUsed(ctx context.Context, token string, id int64) error {
	return c.postJSON(ctx, token, fmt.Sprintf("/api/vouchers/%d/mark-used", id), nil, "Failed to mark voucher as used", nil)
}

// DeleteVoucher removes a voucher
func (c *Client) DeleteVoucher(ctx context.Context, token string, id int64) error {
	req, err := c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/vouchers/%d", id), token, nil)
	if err != nil {
		return err
	}
	return c.do(req, "Failed to delete voucher", nil)
}

// RegisterNotificationToken associates a push token with the account
func (c *Client) RegisterNotificationToken(ctx context.Context, token string, reg Registration) error {
	return c.postJSON(ctx, token, "/api/notifications/register-token", reg, "Failed to register notification token", nil)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func (c *Client) postJSON(ctx context.Context, token, path string, in any, fallback string, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, token, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, fallback, out)
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do sends req and decodes a 2xx body into out. Non-2xx responses become a
// *failure.RemoteError carrying the server's message and hint unchanged.
func (c *Client) do(req *http.Request, fallback string, out any) error {
	op := req.Method + " " + req.URL.Path

	resp, err := c.client.Do(req)
	if err != nil {
		return &failure.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		remote := parseErrorBody(resp.StatusCode, body, fallback)
		slog.Debug("Backend rejected request", "op", op, "status", resp.StatusCode, "message", remote.Message)
		return remote
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &failure.TransportError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func parseErrorBody(status int, body []byte, fallback string) *failure.RemoteError {
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		return &failure.RemoteError{
			Status:  status,
			Message: orDefault(orDefault(parsed.Message, parsed.Error), fallback),
			Hint:    parsed.Hint,
		}
	}
	return &failure.RemoteError{
		Status:  status,
		Message: orDefault(strings.TrimSpace(string(body)), fallback),
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
