// Package notify offers push notifications once, after the first successful upload.
package notify

import (
	"context"
	"log/slog"

	"github.com/zombor/dealsafe/internal/api"
)

// AskedKey records that the reminder has been shown
const AskedKey = "dealsafe_notification_permission_asked"

// Status is a push permission state
type Status int

const (
	StatusUndetermined Status = iota
	StatusGranted
	StatusDenied
)

// FlagStore persists one-shot settings
type FlagStore interface {
	Flag(key string) (bool, error)
	SetFlag(key string) error
}

// Prompter asks the user a yes/no question
type Prompter interface {
	Confirm(ctx context.Context, title, message string) (bool, error)
}

// PushService grants permission and hands out the device push token
type PushService interface {
	Status(ctx context.Context) (Status, error)
	RequestPermission(ctx context.Context) (Status, error)
	Token(ctx context.Context) (string, error)
	Platform() string
}

// Registrar sends the push token to the backend
type Registrar interface {
	RegisterNotificationToken(ctx context.Context, reg api.Registration) error
}

// Reminder asks once whether the user wants notifications. Every step is
// best-effort: failures are logged and never reach the caller.
type Reminder struct {
	flags      FlagStore
	prompter   Prompter
	push       PushService
	registrar  Registrar
	deviceName string
}

// NewReminder creates a Reminder
func NewReminder(flags FlagStore, prompter Prompter, push PushService, registrar Registrar, deviceName string) *Reminder {
	if deviceName == "" {
		deviceName = "Unknown Device"
	}
	return &Reminder{
		flags:      flags,
		prompter:   prompter,
		push:       push,
		registrar:  registrar,
		deviceName: deviceName,
	}
}

// MaybePrompt shows the reminder unless it has been answered before
func (r *Reminder) MaybePrompt(ctx context.Context) {
	asked, err := r.flags.Flag(AskedKey)
	if err != nil {
		slog.Error("Error checking notification permission asked", "error", err)
		asked = false
	}
	if asked {
		return
	}

	accepted, err := r.prompter.Confirm(ctx, "Reminder", "Would you like us to remind you when the voucher is about to expire?")
	if err != nil {
		slog.Warn("Notification reminder was not answered", "error", err)
		return
	}

	if err := r.flags.SetFlag(AskedKey); err != nil {
		slog.Error("Error marking notification permission asked", "error", err)
	}
	if !accepted {
		return
	}
	r.Enable(ctx)
}

// Enable requests permission if needed, then registers the push token
func (r *Reminder) Enable(ctx context.Context) {
	status, err := r.push.Status(ctx)
	if err != nil {
		slog.Error("Error requesting notification permission", "error", err)
		return
	}
	if status != StatusGranted {
		status, err = r.push.RequestPermission(ctx)
		if err != nil {
			slog.Error("Error requesting notification permission", "error", err)
			return
		}
		if status != StatusGranted {
			slog.Info("Notification permission not granted")
			return
		}
	}

	token, err := r.push.Token(ctx)
	if err != nil {
		slog.Error("Error getting push token", "error", err)
		return
	}

	err = r.registrar.RegisterNotificationToken(ctx, api.Registration{
		Token:      token,
		Platform:   r.push.Platform(),
		DeviceName: r.deviceName,
	})
	if err != nil {
		slog.Error("Failed to register notification token", "error", err)
		return
	}
	slog.Info("Notification token registered successfully")
}
