package backend

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/dealsafe/internal/api"
	"github.com/zombor/dealsafe/internal/scanning"
	"github.com/zombor/dealsafe/internal/voucher"
)

const (
	otpTTL            = 10 * time.Minute
	otpResendInterval = 30 * time.Second
	maxOTPAttempts    = 5

	// MaxUploadSize bounds uploaded and downloaded files
	MaxUploadSize = 25 << 20
	// DefaultListLimit is the page size when none is given
	DefaultListLimit = 100
)

var (
	ErrInvalidPhone        = errors.New("invalid phone number")
	ErrInvalidCode         = errors.New("invalid or expired OTP code")
	ErrRateLimited         = errors.New("too many requests")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrTooLarge            = errors.New("file is too large")
	ErrInvalidRegistration = errors.New("notification token is required")

	phonePattern = regexp.MustCompile(`^\+45\d{8}$`)
)

// AnalysisError is an upload or analysis rejection with a remediation hint
type AnalysisError struct {
	Message string
	Hint    string
	Err     error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// IDGenerator generates session tokens and blob names
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// CodeGenerator generates one-time codes
type CodeGenerator interface {
	NewCode() string
}

// Download is content fetched from a shared link
type Download struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Fetcher downloads shared links
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Download, error)
}

// Options configures the service
type Options struct {
	// PublicURL prefixes blob URLs handed to clients
	PublicURL string
	// EchoCodes returns OTP codes in responses, for development
	EchoCodes bool
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

type randomCodes struct{}

func (randomCodes) NewCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		panic(fmt.Sprintf("reading random code: %v", err))
	}
	return fmt.Sprintf("%06d", n.Int64())
}

// Service implements the voucher backend
type Service struct {
	db      DB
	scanner scanning.Scanner
	storage Storage
	fetcher Fetcher
	opts    Options
	ids     IDGenerator
	clock   TimeSource
	codes   CodeGenerator
}

// NewService creates a new Service with default generators and an HTTP fetcher
func NewService(db DB, scanner scanning.Scanner, storage Storage, opts Options) *Service {
	fetcher := &HTTPFetcher{Client: &http.Client{Timeout: 30 * time.Second}}
	return NewServiceWithDeps(db, scanner, storage, fetcher, opts, uuidGenerator{}, defaultTimeSource{}, randomCodes{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, fetcher Fetcher, opts Options, ids IDGenerator, clock TimeSource, codes CodeGenerator) *Service {
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")
	return &Service{
		db:      db,
		scanner: scanner,
		storage: storage,
		fetcher: fetcher,
		opts:    opts,
		ids:     ids,
		clock:   clock,
		codes:   codes,
	}
}

// RequestOTP creates a login code for phone. The code is returned only when
// EchoCodes is set.
func (s *Service) RequestOTP(phone string) (string, error) {
	if !phonePattern.MatchString(phone) {
		return "", ErrInvalidPhone
	}
	code, err := s.issueOTP("login:" + phone)
	if err != nil {
		return "", err
	}
	slog.Info("Login code issued", "phone", maskPhone(phone))
	return s.echo(code), nil
}

// VerifyOTP consumes a login code and returns a new session token. The
// account is created on first login.
func (s *Service) VerifyOTP(phone, code string) (string, *User, error) {
	if !phonePattern.MatchString(phone) {
		return "", nil, ErrInvalidPhone
	}
	if err := s.consumeOTP("login:"+phone, code); err != nil {
		return "", nil, err
	}

	user, err := s.db.GetUserByPhone(phone)
	if errors.Is(err, ErrNotFound) {
		user = &User{PhoneNumber: phone, CreatedAt: s.clock.Now()}
		if err := s.db.SaveUser(user); err != nil {
			return "", nil, fmt.Errorf("creating user: %w", err)
		}
		slog.Info("User created", "user_id", user.ID)
	} else if err != nil {
		return "", nil, fmt.Errorf("getting user: %w", err)
	}

	token := s.ids.Generate()
	if err := s.db.SaveToken(token, user.ID); err != nil {
		return "", nil, fmt.Errorf("saving token: %w", err)
	}
	return token, user, nil
}

// Authenticate resolves a bearer token
func (s *Service) Authenticate(token string) (*User, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	userID, err := s.db.GetToken(token)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("getting token: %w", err)
	}
	user, err := s.db.GetUser(userID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return user, nil
}

// RequestAccountDeletion issues a confirmation code for deleting user
func (s *Service) RequestAccountDeletion(user *User) (string, error) {
	code, err := s.issueOTP("delete:" + user.PhoneNumber)
	if err != nil {
		return "", err
	}
	slog.Info("Account deletion code issued", "user_id", user.ID)
	return s.echo(code), nil
}

// ConfirmAccountDeletion deletes the account and its files once code is accepted
func (s *Service) ConfirmAccountDeletion(user *User, code string) error {
	if err := s.consumeOTP("delete:"+user.PhoneNumber, code); err != nil {
		return err
	}

	records, err := s.db.ListVouchers(user.ID)
	if err != nil {
		return fmt.Errorf("listing vouchers: %w", err)
	}
	for _, r := range records {
		if err := s.storage.Delete(r.BlobName); err != nil {
			slog.Warn("Failed to delete file", "blob", r.BlobName, "error", err)
		}
	}
	if err := s.db.DeleteUser(user.ID); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	slog.Info("Account deleted", "user_id", user.ID, "vouchers", len(records))
	return nil
}

// StoreUpload saves raw content to blob storage
func (s *Service) StoreUpload(user *User, filename, mimeType string, data []byte) (*api.FileRef, error) {
	if len(data) > MaxUploadSize {
		return nil, ErrTooLarge
	}
	clean := sanitizeFilename(filename)
	name := fmt.Sprintf("%s%s%s", blobPrefix(user.ID), s.ids.Generate(), strings.ToLower(filepath.Ext(clean)))
	if _, err := s.storage.Save(name, data); err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}
	return &api.FileRef{
		URL:      s.blobURL(name),
		Filename: clean,
		MimeType: mimeType,
		Size:     int64(len(data)),
	}, nil
}

// Analyze scans an uploaded blob and records the voucher
func (s *Service) Analyze(ctx context.Context, user *User, ref api.FileRef) (*voucher.Voucher, error) {
	name := path.Base(ref.URL)
	if !strings.HasPrefix(ref.URL, s.opts.PublicURL+"/api/blobs/") || !strings.HasPrefix(name, blobPrefix(user.ID)) {
		return nil, ErrNotFound
	}
	data, err := s.storage.Get(name)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.analyze(ctx, user, name, ref.Filename, ref.MimeType, data)
}

// UploadURL downloads a shared link and analyzes it
func (s *Service) UploadURL(ctx context.Context, user *User, url string) (*voucher.Voucher, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, &AnalysisError{Message: "Invalid URL", Hint: "Share a link that starts with http:// or https://"}
	}

	dl, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, &AnalysisError{
			Message: "Could not download the shared link",
			Hint:    "Check that the link opens in a browser, or save the voucher and share the file instead.",
			Err:     err,
		}
	}

	ref, err := s.StoreUpload(user, dl.Filename, dl.ContentType, dl.Data)
	if err != nil {
		return nil, err
	}
	return s.analyze(ctx, user, path.Base(ref.URL), ref.Filename, ref.MimeType, dl.Data)
}

func (s *Service) analyze(ctx context.Context, user *User, name, filename, mimeType string, data []byte) (*voucher.Voucher, error) {
	scanned, err := s.scanner.ScanVoucher(ctx, data, mimeType)
	if err != nil {
		slog.Error("Failed to scan voucher",
			"filename", filename,
			"content_type", mimeType,
			"file_size", len(data),
			"error", err,
		)
		if delErr := s.storage.Delete(name); delErr != nil {
			slog.Warn("Failed to delete file", "blob", name, "error", delErr)
		}
		if errors.Is(err, scanning.ErrUnsupportedFormat) {
			return nil, &AnalysisError{
				Message: "Unsupported file type",
				Hint:    "Upload a photo (JPEG, PNG, HEIC) or a PDF of the voucher.",
				Err:     err,
			}
		}
		return nil, &AnalysisError{
			Message: "Analysis failed",
			Hint:    "We could not read the voucher. Try again with a sharper photo.",
			Err:     err,
		}
	}

	now := s.clock.Now()
	record := &Record{
		Voucher:  s.buildVoucher(scanned, name, filename, mimeType, int64(len(data)), now),
		UserID:   user.ID,
		BlobName: name,
	}
	if err := s.db.SaveVoucher(record); err != nil {
		if delErr := s.storage.Delete(name); delErr != nil {
			slog.Warn("Failed to delete file", "blob", name, "error", delErr)
		}
		return nil, fmt.Errorf("saving voucher: %w", err)
	}

	slog.Info("Voucher analyzed", "id", record.ID, "user_id", user.ID, "valid", record.IsValid)
	v := record.Voucher
	return &v, nil
}

func (s *Service) buildVoucher(d *scanning.VoucherData, name, filename, mimeType string, size int64, now time.Time) voucher.Voucher {
	v := voucher.Voucher{
		FileURL:          s.blobURL(name),
		FileType:         mimeType,
		OriginalFilename: filename,
		FileSize:         size,
		NumberOfPersons:  d.NumberOfPersons,
		RedemptionMethod: optional(d.RedemptionMethod),
		RedemptionValue:  optional(d.RedemptionValue),
		Description:      optional(d.Description),
		ExpiresAt:        optional(d.ExpiresAt),
		IsValid:          d.IsValid,
		RejectionReason:  optional(d.RejectionReason),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	confidence := d.Confidence
	v.ConfidenceScore = &confidence

	if v.IsValid && d.ExpiresAt != "" && d.ExpiresAt < now.Format("2006-01-02") {
		v.IsValid = false
		v.RejectionReason = optional("The voucher expired on " + d.ExpiresAt)
	}

	if len(d.UsageSteps) > 0 {
		lines := make([]string, len(d.UsageSteps))
		for i, step := range d.UsageSteps {
			lines[i] = fmt.Sprintf("%d. %s", i+1, step)
		}
		v.UsageGuide = &voucher.UsageGuide{
			Raw:   strings.Join(lines, "\n"),
			Steps: d.UsageSteps,
		}
	}
	return v
}

// ListVouchers returns the newest vouchers first. Used vouchers are left out
// unless includeUsed is set.
func (s *Service) ListVouchers(user *User, limit int, includeUsed bool) ([]voucher.Voucher, error) {
	records, err := s.db.ListVouchers(user.ID)
	if err != nil {
		return nil, fmt.Errorf("listing vouchers: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID > records[j].ID })

	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	vouchers := make([]voucher.Voucher, 0, min(limit, len(records)))
	for _, r := range records {
		if len(vouchers) == limit {
			break
		}
		if r.UsedAt != nil && !includeUsed {
			continue
		}
		vouchers = append(vouchers, r.Voucher)
	}
	return vouchers, nil
}

// MarkUsed archives a voucher
func (s *Service) MarkUsed(user *User, id int64) (*voucher.Voucher, error) {
	record, err := s.owned(user, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	record.UsedAt = &now
	record.UpdatedAt = now
	if err := s.db.SaveVoucher(record); err != nil {
		return nil, fmt.Errorf("updating voucher: %w", err)
	}
	v := record.Voucher
	return &v, nil
}

// DeleteVoucher removes a voucher and its file
func (s *Service) DeleteVoucher(user *User, id int64) error {
	record, err := s.owned(user, id)
	if err != nil {
		return err
	}
	if err := s.storage.Delete(record.BlobName); err != nil {
		slog.Warn("Failed to delete file", "blob", record.BlobName, "error", err)
	}
	if err := s.db.DeleteVoucher(id); err != nil {
		return fmt.Errorf("deleting voucher from database: %w", err)
	}
	return nil
}

// GetBlob returns a blob owned by user
func (s *Service) GetBlob(user *User, name string) ([]byte, error) {
	if !strings.HasPrefix(name, blobPrefix(user.ID)) {
		return nil, ErrNotFound
	}
	data, err := s.storage.Get(name)
	if err != nil {
		return nil, ErrNotFound
	}
	return data, nil
}

// RegisterPushToken stores a notification target for user
func (s *Service) RegisterPushToken(user *User, reg api.Registration) error {
	if strings.TrimSpace(reg.Token) == "" {
		return ErrInvalidRegistration
	}
	err := s.db.SavePushToken(&PushToken{
		UserID:     user.ID,
		Token:      reg.Token,
		Platform:   reg.Platform,
		DeviceName: reg.DeviceName,
		CreatedAt:  s.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("saving push token: %w", err)
	}
	slog.Info("Push token registered", "user_id", user.ID, "platform", reg.Platform)
	return nil
}

func (s *Service) owned(user *User, id int64) (*Record, error) {
	record, err := s.db.GetVoucher(id)
	if err != nil {
		return nil, err
	}
	if record.UserID != user.ID {
		return nil, ErrNotFound
	}
	return record, nil
}

func (s *Service) issueOTP(key string) (string, error) {
	now := s.clock.Now()
	existing, err := s.db.GetOTP(key)
	if err == nil && now.Sub(existing.SentAt) < otpResendInterval {
		return "", ErrRateLimited
	}
	code := s.codes.NewCode()
	if err := s.db.SaveOTP(key, &OTP{Code: code, SentAt: now, ExpiresAt: now.Add(otpTTL)}); err != nil {
		return "", fmt.Errorf("saving code: %w", err)
	}
	return code, nil
}

func (s *Service) consumeOTP(key, code string) error {
	otp, err := s.db.GetOTP(key)
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidCode
	}
	if err != nil {
		return fmt.Errorf("getting code: %w", err)
	}

	if s.clock.Now().After(otp.ExpiresAt) {
		_ = s.db.DeleteOTP(key)
		return ErrInvalidCode
	}
	if otp.Code != code {
		otp.Attempts++
		if otp.Attempts >= maxOTPAttempts {
			_ = s.db.DeleteOTP(key)
		} else if err := s.db.SaveOTP(key, otp); err != nil {
			return fmt.Errorf("saving code: %w", err)
		}
		return ErrInvalidCode
	}
	return s.db.DeleteOTP(key)
}

func (s *Service) echo(code string) string {
	if s.opts.EchoCodes {
		return code
	}
	return ""
}

func (s *Service) blobURL(name string) string {
	return s.opts.PublicURL + "/api/blobs/" + name
}

func blobPrefix(userID int64) string {
	return fmt.Sprintf("u%d-", userID)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func maskPhone(phone string) string {
	if len(phone) < 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename strips special characters and truncates long phone-generated names
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	if unsafeChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	base = unsafeChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(spaces.ReplaceAllString(base, " "))
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "voucher"
	}
	return base + ext
}

// HTTPFetcher downloads shared links over HTTP
type HTTPFetcher struct {
	Client *http.Client
}

// Fetch implements Fetcher
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote server returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if len(data) > MaxUploadSize {
		return nil, ErrTooLarge
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}

	filename := path.Base(resp.Request.URL.Path)
	if filename == "" || filename == "/" || filename == "." {
		filename = "shared-link"
	}
	return &Download{Data: data, ContentType: contentType, Filename: filename}, nil
}
