package upload

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/dealsafe/internal/failure"
	"github.com/zombor/dealsafe/internal/ingest"
	"github.com/zombor/dealsafe/internal/voucher"
)

// DefaultSettleDelay keeps the finished state visible briefly before resetting
const DefaultSettleDelay = 500 * time.Millisecond

// Uploader runs a single item through the remote pipeline
type Uploader interface {
	UploadFile(ctx context.Context, a ingest.Attachment) (*voucher.Voucher, error)
	UploadURL(ctx context.Context, url string) (*voucher.Voucher, error)
}

// VoucherStore is the local list the coordinator reconciles
type VoucherStore interface {
	Refresh(ctx context.Context) error
	Prepend(v voucher.Voucher)
}

// Progress is the visual progress estimate
type Progress interface {
	Start()
	Complete()
	Reset()
}

// ErrorReporter is the user-facing error surface
type ErrorReporter interface {
	ShowError(title, message string)
}

// Reminder is offered after a successful upload
type Reminder interface {
	MaybePrompt(ctx context.Context)
}

// Authenticator reports whether a session is present
type Authenticator interface {
	Authenticated() bool
}

// Scheduler runs f after d
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// TimerScheduler schedules on the runtime timer
type TimerScheduler struct{}

func (TimerScheduler) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}

// BatchResult is what came out of a batch, in input order
type BatchResult struct {
	Vouchers []voucher.Voucher
	Failures []Failure
	// Aborted is set when the session ended mid-batch and later items were skipped
	Aborted bool
	Skipped int
}

// Coordinator runs batches one at a time, items strictly in order. It is the
// only writer of the busy flag, the progress estimate and, during a batch,
// the voucher list.
type Coordinator struct {
	uploader    Uploader
	store       VoucherStore
	progress    Progress
	reporter    ErrorReporter
	auth        Authenticator
	reminder    Reminder
	settleDelay time.Duration
	scheduler   Scheduler

	runMu sync.Mutex

	stateMu    sync.Mutex
	busy       bool
	generation uint64
}

// NewCoordinator creates a Coordinator with the default settle delay. auth
// and reminder may be nil.
func NewCoordinator(uploader Uploader, store VoucherStore, progress Progress, reporter ErrorReporter, auth Authenticator, reminder Reminder) *Coordinator {
	return NewCoordinatorWithDeps(uploader, store, progress, reporter, auth, reminder, DefaultSettleDelay, TimerScheduler{})
}

// NewCoordinatorWithDeps creates a Coordinator with a custom settle delay and scheduler for testing
func NewCoordinatorWithDeps(uploader Uploader, store VoucherStore, progress Progress, reporter ErrorReporter, auth Authenticator, reminder Reminder, settleDelay time.Duration, scheduler Scheduler) *Coordinator {
	return &Coordinator{
		uploader:    uploader,
		store:       store,
		progress:    progress,
		reporter:    reporter,
		auth:        auth,
		reminder:    reminder,
		settleDelay: settleDelay,
		scheduler:   scheduler,
	}
}

// Busy reports whether a submission is running or has not settled yet
func (c *Coordinator) Busy() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.busy
}

// SubmitBatch uploads attachments sequentially. A failing item never stops
// the rest; only the end of the session does, in which case the results
// collected so far are still reported and failure.ErrSessionExpired is
// returned alongside them. Failures are reported through the ErrorReporter.
func (c *Coordinator) SubmitBatch(ctx context.Context, attachments []ingest.Attachment) (BatchResult, error) {
	var result BatchResult
	if len(attachments) == 0 {
		return result, nil
	}
	if c.auth != nil && !c.auth.Authenticated() {
		return result, failure.ErrNotAuthenticated
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()

	gen := c.begin()
	defer c.settle(gen)

	for i, a := range attachments {
		v, err := c.uploader.UploadFile(ctx, a)
		if err == nil {
			result.Vouchers = append(result.Vouchers, *v)
			continue
		}
		if sessionGone(err) {
			result.Aborted = true
			result.Skipped = len(attachments) - i - 1
			slog.Warn("Session ended mid-batch, skipping remaining items", "name", a.Name, "skipped", result.Skipped)
			break
		}
		message, hint := failure.Explain(err, "Upload failed")
		result.Failures = append(result.Failures, Failure{Name: a.Name, Message: message, Hint: hint})
		slog.Error("Upload failed", "name", a.Name, "kind", failure.KindOf(err), "error", err)
	}

	// progress only finishes on a success; otherwise the settle step resets it
	if len(result.Vouchers) > 0 {
		c.progress.Complete()
	}

	if len(result.Vouchers) > 0 && !result.Aborted {
		if err := c.store.Refresh(ctx); err != nil {
			slog.Error("Failed to refresh vouchers after upload", "error", err)
		}
		if c.reminder != nil {
			c.reminder.MaybePrompt(ctx)
		}
	}

	if len(result.Failures) > 0 {
		c.reporter.ShowError(FormatFailures(result.Failures))
	}

	slog.Info("Batch finished",
		"submitted", len(attachments),
		"succeeded", len(result.Vouchers),
		"failed", len(result.Failures),
		"aborted", result.Aborted,
	)

	if result.Aborted {
		return result, failure.ErrSessionExpired
	}
	return result, nil
}

// SubmitURL uploads a single shared URL. On success the voucher is put at
// the head of the list; a failure is reported and returned.
func (c *Coordinator) SubmitURL(ctx context.Context, url string) (*voucher.Voucher, error) {
	if c.auth != nil && !c.auth.Authenticated() {
		return nil, failure.ErrNotAuthenticated
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()

	gen := c.begin()
	defer c.settle(gen)

	v, err := c.uploader.UploadURL(ctx, url)
	if err != nil {
		c.progress.Reset()
		if !sessionGone(err) {
			c.reporter.ShowError(failure.Explain(err, "Upload failed"))
		}
		slog.Error("Failed to upload shared URL", "url", url, "error", err)
		return nil, err
	}

	c.progress.Complete()
	c.store.Prepend(*v)
	if c.reminder != nil {
		c.reminder.MaybePrompt(ctx)
	}
	return v, nil
}

func (c *Coordinator) begin() uint64 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.busy = true
	c.generation++
	c.progress.Start()
	return c.generation
}

// settle clears busy and progress after the delay, unless a newer submission
// has started in the meantime.
func (c *Coordinator) settle(gen uint64) {
	c.scheduler.AfterFunc(c.settleDelay, func() {
		c.stateMu.Lock()
		defer c.stateMu.Unlock()
		if c.generation != gen {
			return
		}
		c.busy = false
		c.progress.Reset()
	})
}

func sessionGone(err error) bool {
	return errors.Is(err, failure.ErrSessionExpired) || errors.Is(err, failure.ErrNotAuthenticated)
}
