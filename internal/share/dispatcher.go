package share

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zombor/dealsafe/internal/failure"
	"github.com/zombor/dealsafe/internal/ingest"
	"github.com/zombor/dealsafe/internal/upload"
	"github.com/zombor/dealsafe/internal/voucher"
)

// Submitter uploads what was shared
type Submitter interface {
	SubmitBatch(ctx context.Context, attachments []ingest.Attachment) (upload.BatchResult, error)
	SubmitURL(ctx context.Context, url string) (*voucher.Voucher, error)
}

// Normalizer turns shared files into attachments
type Normalizer interface {
	NormalizeAll(ctx context.Context, assets []ingest.Asset, source ingest.Source) []ingest.Attachment
}

// ErrorReporter is the user-facing error surface
type ErrorReporter interface {
	ShowError(title, message string)
}

// Dispatcher hands share events to the upload coordinator, each one once
type Dispatcher struct {
	gate       *Gate
	submitter  Submitter
	normalizer Normalizer
	reporter   ErrorReporter
}

// NewDispatcher creates a Dispatcher with its own Gate
func NewDispatcher(submitter Submitter, normalizer Normalizer, reporter ErrorReporter) *Dispatcher {
	return &Dispatcher{
		gate:       &Gate{},
		submitter:  submitter,
		normalizer: normalizer,
		reporter:   reporter,
	}
}

// Gate exposes the dispatcher's latch
func (d *Dispatcher) Gate() *Gate {
	return d.gate
}

// Deliver inspects src and, when it holds a new event, acknowledges it and
// starts processing in the background. The acknowledgment happens before
// Deliver returns; an event that cannot be acknowledged is not processed and
// may be delivered again. The returned channel yields the processing result
// and is nil when nothing was started.
func (d *Dispatcher) Deliver(ctx context.Context, src Source) <-chan error {
	if !src.HasEvent() {
		if err := src.Error(); err != nil && !d.gate.Processing() {
			slog.Error("Share intent error", "error", err)
			d.reporter.ShowError("Share Error", fmt.Sprintf("Failed to receive shared content: %v", err))
		}
		return nil
	}

	event := src.Payload()
	key := event.Key()
	if !d.gate.TryAcquire(key) {
		slog.Debug("Share event already handled or in progress, skipping")
		return nil
	}

	if err := src.Acknowledge(); err != nil {
		slog.Warn("Failed to acknowledge share event, dropping it", "error", err)
		d.gate.Abandon()
		return nil
	}

	done := make(chan error, 1)
	go func() {
		defer d.gate.Release()
		done <- d.process(ctx, event)
	}()
	return done
}

// Handle delivers one event and waits for it to finish
func (d *Dispatcher) Handle(ctx context.Context, src Source) error {
	done := d.Deliver(ctx, src)
	if done == nil {
		return nil
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process submits the shared text or URL when there is one, and the files
// otherwise
func (d *Dispatcher) process(ctx context.Context, event Event) error {
	if url := event.SharedURL(); url != "" {
		if !isWebURL(url) {
			err := failure.Invalid("Invalid URL", "The shared content is not a valid URL.")
			d.reporter.ShowError("Invalid URL", "The shared content is not a valid URL.")
			return err
		}
		slog.Info("Processing shared URL", "url", url)
		_, err := d.submitter.SubmitURL(ctx, url)
		return err
	}

	if len(event.Files) == 0 {
		slog.Debug("Share event carried no content")
		return nil
	}

	assets := make([]ingest.Asset, len(event.Files))
	for i, f := range event.Files {
		assets[i] = ingest.Asset{
			URI:      f.Location(),
			Name:     firstNonEmpty(f.FileName, f.Name),
			MimeType: firstNonEmpty(f.MimeType, f.Type),
		}
	}
	attachments := d.normalizer.NormalizeAll(ctx, assets, ingest.SourceShare)
	slog.Info("Processing shared files", "count", len(attachments))
	_, err := d.submitter.SubmitBatch(ctx, attachments)
	return err
}

func isWebURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
