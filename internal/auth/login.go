package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/zombor/dealsafe/internal/failure"
	"github.com/zombor/dealsafe/internal/session"
)

const (
	countryPrefix = "+45"
	phoneDigits   = 8
	codeDigits    = 6
)

// OTPBackend is the unauthenticated login surface, satisfied by *api.Client
type OTPBackend interface {
	RequestOTP(ctx context.Context, phoneNumber string) (string, error)
	VerifyOTP(ctx context.Context, phoneNumber, code string) (session.Session, error)
}

// Login drives the phone number + one-time code flow and account deletion
type Login struct {
	otp     OTPBackend
	backend Backend
	guard   *Guard
}

// NewLogin creates a Login
func NewLogin(otp OTPBackend, backend Backend, guard *Guard) *Login {
	return &Login{
		otp:     otp,
		backend: backend,
		guard:   guard,
	}
}

// NormalizePhone turns user input into a +45 number with exactly 8 digits.
// A leading 45 country code is only stripped when it makes the number too long.
func NormalizePhone(input string) (string, error) {
	var b strings.Builder
	for _, r := range input {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == phoneDigits+2 && strings.HasPrefix(digits, "45") {
		digits = digits[2:]
	}
	if len(digits) != phoneDigits {
		return "", failure.Invalid("Invalid phone number", "Please enter a valid 8-digit Danish phone number")
	}
	return countryPrefix + digits, nil
}

// ValidateCode checks a one-time code before it is sent
func ValidateCode(code string) error {
	code = strings.TrimSpace(code)
	if len(code) != codeDigits {
		return failure.Invalid("Invalid code", "Please enter all 6 digits")
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return failure.Invalid("Invalid code", "Please enter all 6 digits")
		}
	}
	return nil
}

// RequestCode validates the number and asks the backend to send a code.
// It returns the normalized number to pass to Verify.
func (l *Login) RequestCode(ctx context.Context, phone string) (string, error) {
	number, err := NormalizePhone(phone)
	if err != nil {
		return "", err
	}
	devCode, err := l.otp.RequestOTP(ctx, number)
	if err != nil {
		return "", fmt.Errorf("requesting code: %w", err)
	}
	if devCode != "" {
		slog.Debug("Development code issued", "phone_number", number, "code", devCode)
	}
	return number, nil
}

// Verify exchanges the code for a session and stores it
func (l *Login) Verify(ctx context.Context, phoneNumber, code string) (session.Session, error) {
	if err := ValidateCode(code); err != nil {
		return session.Session{}, err
	}
	s, err := l.otp.VerifyOTP(ctx, phoneNumber, strings.TrimSpace(code))
	if err != nil {
		return session.Session{}, fmt.Errorf("verifying code: %w", err)
	}
	if err := l.guard.Begin(s); err != nil {
		return session.Session{}, err
	}
	slog.Info("Logged in", "user_id", s.User.ID, "phone_number", s.User.PhoneNumber)
	return s, nil
}

// Logout ends the session
func (l *Login) Logout() error {
	return l.guard.End()
}

// RequestAccountDeletion sends a confirmation code to the logged-in number
func (l *Login) RequestAccountDeletion(ctx context.Context) error {
	return l.guard.Do(ctx, func(ctx context.Context, token string) error {
		devCode, err := l.backend.RequestDeleteAccount(ctx, token)
		if err != nil {
			return err
		}
		if devCode != "" {
			slog.Debug("Development deletion code issued", "code", devCode)
		}
		return nil
	})
}

// ConfirmAccountDeletion deletes the account and ends the session
func (l *Login) ConfirmAccountDeletion(ctx context.Context, code string) error {
	if err := ValidateCode(code); err != nil {
		return err
	}
	err := l.guard.Do(ctx, func(ctx context.Context, token string) error {
		return l.backend.ConfirmDeleteAccount(ctx, token, strings.TrimSpace(code))
	})
	if err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	return l.guard.End()
}
