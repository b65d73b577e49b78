package auth

import (
	"context"
	"io"

	"github.com/zombor/dealsafe/internal/api"
	"github.com/zombor/dealsafe/internal/voucher"
)

// Backend is the token-taking backend surface, satisfied by *api.Client
type Backend interface {
	ListVouchers(ctx context.Context, token string) ([]voucher.Voucher, error)
	UploadFile(ctx context.Context, token, filename, mimeType string, content io.Reader) (*api.FileRef, error)
	Analyze(ctx context.Context, token string, ref api.FileRef) (*voucher.Voucher, error)
	UploadURL(ctx context.Context, token, url string) (*voucher.Voucher, error)
	MarkUsed(ctx context.Context, token string, id int64) error
	DeleteVoucher(ctx context.Context, token string, id int64) error
	RegisterNotificationToken(ctx context.Context, token string, reg api.Registration) error
	RequestDeleteAccount(ctx context.Context, token string) (string, error)
	ConfirmDeleteAccount(ctx context.Context, token, code string) error
}

// Client runs every Backend call through the Guard, so each call checks the
// session before dispatch and a 401 on any of them ends the session.
type Client struct {
	backend Backend
	guard   *Guard
}

// NewClient creates a guarded client
func NewClient(backend Backend, guard *Guard) *Client {
	return &Client{
		backend: backend,
		guard:   guard,
	}
}

// ListVouchers implements voucher.Remote
func (c *Client) ListVouchers(ctx context.Context) ([]voucher.Voucher, error) {
	var out []voucher.Voucher
	err := c.guard.Do(ctx, func(ctx context.Context, token string) error {
		var err error
		out, err = c.backend.ListVouchers(ctx, token)
		return err
	})
	return out, err
}

// MarkUsed implements voucher.Remote
func (c *Client) MarkUsed(ctx context.Context, id int64) error {
	return c.guard.Do(ctx, func(ctx context.Context, token string) error {
		return c.backend.MarkUsed(ctx, token, id)
	})
}

// DeleteVoucher implements voucher.Remote
func (c *Client) DeleteVoucher(ctx context.Context, id int64) error {
	return c.guard.Do(ctx, func(ctx context.Context, token string) error {
		return c.backend.DeleteVoucher(ctx, token, id)
	})
}

// UploadFile is step one of the upload pipeline
func (c *Client) UploadFile(ctx context.Context, filename, mimeType string, content io.Reader) (*api.FileRef, error) {
	var ref *api.FileRef
	err := c.guard.Do(ctx, func(ctx context.Context, token string) error {
		var err error
		ref, err = c.backend.UploadFile(ctx, token, filename, mimeType, content)
		return err
	})
	return ref, err
}

// Analyze is step two of the upload pipeline
func (c *Client) Analyze(ctx context.Context, ref api.FileRef) (*voucher.Voucher, error) {
	var v *voucher.Voucher
	err := c.guard.Do(ctx, func(ctx context.Context, token string) error {
		var err error
		v, err = c.backend.Analyze(ctx, token, ref)
		return err
	})
	return v, err
}

// UploadURL submits a remote resource for analysis
func (c *Client) UploadURL(ctx context.Context, url string) (*voucher.Voucher, error) {
	var v *voucher.Voucher
	err := c.guard.Do(ctx, func(ctx context.Context, token string) error {
		var err error
		v, err = c.backend.UploadURL(ctx, token, url)
		return err
	})
	return v, err
}

// RegisterNotificationToken associates a push token with the account
func (c *Client) RegisterNotificationToken(ctx context.Context, reg api.Registration) error {
	return c.guard.Do(ctx, func(ctx context.Context, token string) error {
		return c.backend.RegisterNotificationToken(ctx, token, reg)
	})
}

// Authenticated reports whether calls can be dispatched
func (c *Client) Authenticated() bool {
	return c.guard.Authenticated()
}
