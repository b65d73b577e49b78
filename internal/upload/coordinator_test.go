package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/dealsafe/internal/failure"
	"github.com/zombor/dealsafe/internal/ingest"
	"github.com/zombor/dealsafe/internal/voucher"
)

// scriptedUploader answers each attachment by name
type scriptedUploader struct {
	errs     map[string]error
	urlErr   error
	uploaded []string
	nextID   int64
}

func (u *scriptedUploader) UploadFile(ctx context.Context, a ingest.Attachment) (*voucher.Voucher, error) {
	u.uploaded = append(u.uploaded, a.Name)
	if err := u.errs[a.Name]; err != nil {
		return nil, err
	}
	u.nextID++
	return &voucher.Voucher{ID: u.nextID, OriginalFilename: a.Name}, nil
}

func (u *scriptedUploader) UploadURL(ctx context.Context, url string) (*voucher.Voucher, error) {
	u.uploaded = append(u.uploaded, url)
	if u.urlErr != nil {
		return nil, u.urlErr
	}
	return &voucher.Voucher{ID: 42}, nil
}

type recordingStore struct {
	refreshes int
	prepended []voucher.Voucher
	events    *[]string
}

func (s *recordingStore) Refresh(ctx context.Context) error {
	s.refreshes++
	*s.events = append(*s.events, "refresh")
	return nil
}

func (s *recordingStore) Prepend(v voucher.Voucher) {
	s.prepended = append(s.prepended, v)
}

type recordingProgress struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingProgress) record(e string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingProgress) Start()    { p.record("start") }
func (p *recordingProgress) Complete() { p.record("complete") }
func (p *recordingProgress) Reset()    { p.record("reset") }

func (p *recordingProgress) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type alert struct {
	title   string
	message string
}

type recordingReporter struct {
	alerts []alert
}

func (r *recordingReporter) ShowError(title, message string) {
	r.alerts = append(r.alerts, alert{title: title, message: message})
}

type recordingReminder struct {
	prompts int
	events  *[]string
}

func (r *recordingReminder) MaybePrompt(ctx context.Context) {
	r.prompts++
	*r.events = append(*r.events, "remind")
}

type staticAuth bool

func (a staticAuth) Authenticated() bool { return bool(a) }

// manualScheduler holds scheduled functions until Fire is called
type manualScheduler struct {
	delays []time.Duration
	funcs  []func()
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) {
	s.delays = append(s.delays, d)
	s.funcs = append(s.funcs, f)
}

func (s *manualScheduler) Fire(i int) {
	s.funcs[i]()
}

func attachments(names ...string) []ingest.Attachment {
	out := make([]ingest.Attachment, 0, len(names))
	for i, name := range names {
		out = append(out, ingest.Attachment{ID: fmt.Sprint(i), Name: name, URI: "/tmp/" + name})
	}
	return out
}

var _ = Describe("Coordinator", func() {
	var (
		ctx         context.Context
		events      []string
		uploader    *scriptedUploader
		store       *recordingStore
		progress    *recordingProgress
		reporter    *recordingReporter
		reminder    *recordingReminder
		auth        staticAuth
		scheduler   *manualScheduler
		coordinator *Coordinator
	)

	BeforeEach(func() {
		ctx = context.Background()
		events = nil
		uploader = &scriptedUploader{errs: map[string]error{}}
		store = &recordingStore{events: &events}
		progress = &recordingProgress{}
		reporter = &recordingReporter{}
		reminder = &recordingReminder{events: &events}
		auth = true
		scheduler = &manualScheduler{}
	})

	JustBeforeEach(func() {
		coordinator = NewCoordinatorWithDeps(uploader, store, progress, reporter, auth, reminder, DefaultSettleDelay, scheduler)
	})

	Describe("SubmitBatch", func() {
		var (
			result BatchResult
			err    error
			input  []ingest.Attachment
		)

		JustBeforeEach(func() {
			result, err = coordinator.SubmitBatch(ctx, input)
		})

		When("one of two items fails", func() {
			BeforeEach(func() {
				input = attachments("a.jpg", "b.pdf")
				uploader.errs["b.pdf"] = &failure.RemoteError{Status: 422, Message: "Unsupported file type", Hint: "Please upload an image or PDF"}
			})

			It("uploads both in order", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(uploader.uploaded).To(Equal([]string{"a.jpg", "b.pdf"}))
			})

			It("returns one voucher and one failure", func() {
				Expect(result.Vouchers).To(HaveLen(1))
				Expect(result.Vouchers[0].OriginalFilename).To(Equal("a.jpg"))
				Expect(result.Failures).To(Equal([]Failure{{Name: "b.pdf", Message: "Unsupported file type", Hint: "Please upload an image or PDF"}}))
			})

			It("refreshes before offering the reminder", func() {
				Expect(events).To(Equal([]string{"refresh", "remind"}))
			})

			It("shows the single failure as message and hint", func() {
				Expect(reporter.alerts).To(Equal([]alert{{title: "Unsupported file type", message: "Please upload an image or PDF"}}))
			})

			It("is busy until the settle delay passes", func() {
				Expect(coordinator.Busy()).To(BeTrue())
				Expect(scheduler.delays).To(Equal([]time.Duration{500 * time.Millisecond}))
				Expect(progress.Events()).To(Equal([]string{"start", "complete"}))

				scheduler.Fire(0)
				Expect(coordinator.Busy()).To(BeFalse())
				Expect(progress.Events()).To(Equal([]string{"start", "complete", "reset"}))
			})
		})

		When("every item fails", func() {
			BeforeEach(func() {
				input = attachments("a.jpg", "b.jpg")
				uploader.errs["a.jpg"] = &failure.RemoteError{Status: 500, Message: "Analysis failed", Hint: "Try again"}
				uploader.errs["b.jpg"] = &failure.TransportError{Op: "upload", Err: fmt.Errorf("connection reset")}
			})

			It("neither refreshes nor reminds", func() {
				Expect(store.refreshes).To(BeZero())
				Expect(reminder.prompts).To(BeZero())
			})

			It("does not finish the progress bar", func() {
				Expect(progress.Events()).To(Equal([]string{"start"}))

				scheduler.Fire(0)
				Expect(progress.Events()).To(Equal([]string{"start", "reset"}))
			})

			It("lists every failure in one alert", func() {
				Expect(reporter.alerts).To(HaveLen(1))
				Expect(reporter.alerts[0].title).To(Equal("Upload Errors"))
				Expect(reporter.alerts[0].message).To(Equal("a.jpg:\nAnalysis failed\nTry again\n\nb.jpg:\nconnection reset"))
			})
		})

		When("everything succeeds", func() {
			BeforeEach(func() {
				input = attachments("a.jpg", "b.jpg", "c.jpg")
			})

			It("reports nothing", func() {
				Expect(result.Vouchers).To(HaveLen(3))
				Expect(reporter.alerts).To(BeEmpty())
				Expect(store.refreshes).To(Equal(1))
			})
		})

		When("the session expires mid-batch", func() {
			BeforeEach(func() {
				input = attachments("a.jpg", "b.jpg", "c.jpg", "d.jpg")
				uploader.errs["b.jpg"] = &failure.RemoteError{Status: 422, Message: "Unsupported file type"}
				uploader.errs["c.jpg"] = fmt.Errorf("uploading c.jpg: %w", failure.ErrSessionExpired)
			})

			It("stops before the remaining items", func() {
				Expect(uploader.uploaded).To(Equal([]string{"a.jpg", "b.jpg", "c.jpg"}))
				Expect(result.Aborted).To(BeTrue())
				Expect(result.Skipped).To(Equal(1))
			})

			It("returns what was collected with ErrSessionExpired", func() {
				Expect(err).To(MatchError(failure.ErrSessionExpired))
				Expect(result.Vouchers).To(HaveLen(1))
				Expect(result.Failures).To(HaveLen(1))
			})

			It("still reports the earlier failure", func() {
				Expect(reporter.alerts).To(Equal([]alert{{title: "Unsupported file type"}}))
			})

			It("skips the refresh and reminder", func() {
				Expect(events).To(BeEmpty())
			})

			It("still settles", func() {
				Expect(scheduler.funcs).To(HaveLen(1))
			})
		})

		When("not logged in", func() {
			BeforeEach(func() {
				auth = false
				input = attachments("a.jpg")
			})

			It("fails fast", func() {
				Expect(err).To(MatchError(failure.ErrNotAuthenticated))
				Expect(uploader.uploaded).To(BeEmpty())
				Expect(progress.Events()).To(BeEmpty())
			})
		})

		When("the batch is empty", func() {
			BeforeEach(func() {
				input = nil
			})

			It("does nothing", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(coordinator.Busy()).To(BeFalse())
				Expect(progress.Events()).To(BeEmpty())
			})
		})
	})

	Describe("settling", func() {
		It("does not let an older settle clear a newer submission", func() {
			_, err := coordinator.SubmitBatch(ctx, attachments("a.jpg"))
			Expect(err).NotTo(HaveOccurred())
			_, err = coordinator.SubmitBatch(ctx, attachments("b.jpg"))
			Expect(err).NotTo(HaveOccurred())

			scheduler.Fire(0)
			Expect(coordinator.Busy()).To(BeTrue())

			scheduler.Fire(1)
			Expect(coordinator.Busy()).To(BeFalse())
		})
	})

	Describe("SubmitURL", func() {
		It("prepends the voucher without a refresh", func() {
			v, err := coordinator.SubmitURL(ctx, "https://example.com/deal")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.ID).To(Equal(int64(42)))
			Expect(store.prepended).To(HaveLen(1))
			Expect(store.refreshes).To(BeZero())
			Expect(reminder.prompts).To(Equal(1))
			Expect(progress.Events()).To(Equal([]string{"start", "complete"}))
		})

		It("reports a failure with message and hint", func() {
			uploader.urlErr = &failure.RemoteError{Status: 400, Message: "Could not download the shared link", Hint: "Check the link"}
			_, err := coordinator.SubmitURL(ctx, "https://example.com/deal")
			Expect(err).To(HaveOccurred())
			Expect(reporter.alerts).To(Equal([]alert{{title: "Could not download the shared link", message: "Check the link"}}))
			Expect(store.prepended).To(BeEmpty())
			Expect(progress.Events()).To(Equal([]string{"start", "reset"}))
		})

		It("does not alert when the session expired", func() {
			uploader.urlErr = failure.ErrSessionExpired
			_, err := coordinator.SubmitURL(ctx, "https://example.com/deal")
			Expect(err).To(MatchError(failure.ErrSessionExpired))
			Expect(reporter.alerts).To(BeEmpty())
		})
	})

	Describe("with the runtime timer", func() {
		It("settles after the delay", func() {
			c := NewCoordinatorWithDeps(uploader, store, progress, reporter, auth, nil, 20*time.Millisecond, TimerScheduler{})
			_, err := c.SubmitBatch(ctx, attachments("a.jpg"))
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Busy()).To(BeTrue())
			Eventually(c.Busy).Should(BeFalse())
			Eventually(progress.Events).Should(ContainElement("reset"))
		})
	})
})
