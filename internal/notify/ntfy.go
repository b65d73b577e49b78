package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = "DealSafe-Go/1.0"

// ErrNoTopic is returned when no ntfy topic is configured
var ErrNoTopic = errors.New("no ntfy topic configured")

// Ntfy is a PushService backed by an ntfy topic. The topic URL doubles as
// the push token; permission is granted once a test message gets through.
type Ntfy struct {
	topic   string
	client  *http.Client
	granted bool
}

// NewNtfy creates an ntfy push service for topic
func NewNtfy(topic string, timeout time.Duration) *Ntfy {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Ntfy{
		topic:  strings.TrimSpace(topic),
		client: &http.Client{Timeout: timeout},
	}
}

func (n *Ntfy) Status(ctx context.Context) (Status, error) {
	if n.topic == "" {
		return StatusDenied, nil
	}
	if n.granted {
		return StatusGranted, nil
	}
	return StatusUndetermined, nil
}

func (n *Ntfy) RequestPermission(ctx context.Context) (Status, error) {
	if n.topic == "" {
		return StatusDenied, nil
	}
	if err := n.send(ctx, "DealSafe - Notifications", "Notifications are enabled for this device"); err != nil {
		return StatusUndetermined, err
	}
	n.granted = true
	return StatusGranted, nil
}

func (n *Ntfy) Token(ctx context.Context) (string, error) {
	if n.topic == "" {
		return "", ErrNoTopic
	}
	return n.topic, nil
}

func (n *Ntfy) Platform() string {
	return "ntfy"
}

func (n *Ntfy) send(ctx context.Context, title, message string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.topic, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", title)
	req.Header.Set("Tags", "dealsafe,notifications")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
