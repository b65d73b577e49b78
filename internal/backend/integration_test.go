package backend_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/dealsafe/internal/api"
	"github.com/zombor/dealsafe/internal/auth"
	"github.com/zombor/dealsafe/internal/backend"
	"github.com/zombor/dealsafe/internal/failure"
	"github.com/zombor/dealsafe/internal/ingest"
	"github.com/zombor/dealsafe/internal/progress"
	"github.com/zombor/dealsafe/internal/scanning"
	"github.com/zombor/dealsafe/internal/state"
	"github.com/zombor/dealsafe/internal/upload"
	"github.com/zombor/dealsafe/internal/voucher"
)

const code = "424242"

// contentScanner rejects anything whose content is "unreadable"
type contentScanner struct{}

func (contentScanner) ScanVoucher(ctx context.Context, data []byte, contentType string) (*scanning.VoucherData, error) {
	if string(data) == "unreadable" {
		return nil, errors.New("no text found")
	}
	return &scanning.VoucherData{
		IsVoucher:       true,
		IsValid:         true,
		RedemptionValue: fmt.Sprintf("%d bytes of %s", len(data), contentType),
		ExpiresAt:       "2099-01-01",
		Confidence:      0.8,
	}, nil
}

func (contentScanner) Close() error {
	return nil
}

type counterIDs struct {
	n atomic.Int64
}

func (c *counterIDs) Generate() string {
	return fmt.Sprintf("gen%d", c.n.Add(1))
}

type wallClock struct{}

func (wallClock) Now() time.Time {
	return time.Now()
}

type fixedCode string

func (f fixedCode) NewCode() string {
	return string(f)
}

type immediateScheduler struct{}

func (immediateScheduler) AfterFunc(d time.Duration, f func()) {
	f()
}

type recordingReporter struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingReporter) ShowError(title, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
}

type expiryCounter struct {
	n atomic.Int32
}

func (e *expiryCounter) SessionExpired() {
	e.n.Add(1)
}

var _ = Describe("Integration", func() {
	var (
		tempDir     string
		service     *backend.Service
		apiServer   *httptest.Server
		guard       *auth.Guard
		login       *auth.Login
		store       *voucher.Store
		reporter    *recordingReporter
		expiries    *expiryCounter
		coordinator *upload.Coordinator
		ctx         context.Context
	)

	writeFile := func(name string, content []byte) ingest.Attachment {
		path := filepath.Join(tempDir, name)
		Expect(os.WriteFile(path, content, 0644)).To(Succeed())
		return ingest.Attachment{ID: name, Name: name, URI: "file://" + path}
	}

	BeforeEach(func() {
		ctx = context.Background()
		tempDir = GinkgoT().TempDir()

		db, err := backend.NewBoltDB(filepath.Join(tempDir, "backend.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)
		blobs, err := backend.NewLocalStorage(filepath.Join(tempDir, "blobs"))
		Expect(err).NotTo(HaveOccurred())

		apiServer = httptest.NewUnstartedServer(nil)
		opts := backend.Options{PublicURL: "http://" + apiServer.Listener.Addr().String()}
		fetcher := &backend.HTTPFetcher{Client: &http.Client{Timeout: 5 * time.Second}}
		service = backend.NewServiceWithDeps(db, contentScanner{}, blobs, fetcher, opts, &counterIDs{}, wallClock{}, fixedCode(code))
		apiServer.Config.Handler = backend.NewServer(service).Handler()
		apiServer.Start()
		DeferCleanup(apiServer.Close)

		local, err := state.NewBoltDB(filepath.Join(tempDir, "state.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(local.Close)

		expiries = &expiryCounter{}
		guard = auth.NewGuard(local, expiries)
		client := api.NewClient(apiServer.URL, &http.Client{Timeout: 5 * time.Second})
		guarded := auth.NewClient(client, guard)
		store = voucher.NewStore(guarded, local)
		reporter = &recordingReporter{}
		login = auth.NewLogin(client, client, guard)
		coordinator = upload.NewCoordinatorWithDeps(
			upload.NewPipeline(guarded), store, progress.NewSimulator(), reporter, guard, nil,
			upload.DefaultSettleDelay, immediateScheduler{},
		)

		number, err := login.RequestCode(ctx, "12 34 56 78")
		Expect(err).NotTo(HaveOccurred())
		Expect(number).To(Equal("+4512345678"))
		s, err := login.Verify(ctx, number, code)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Token).NotTo(BeEmpty())
	})

	It("should upload a batch and keep going past a failed item", func() {
		good := writeFile("a.jpg", []byte("jpeg bytes"))
		bad := writeFile("b.pdf", []byte("unreadable"))

		result, err := coordinator.SubmitBatch(ctx, []ingest.Attachment{good, bad})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Vouchers).To(HaveLen(1))
		Expect(*result.Vouchers[0].RedemptionValue).To(Equal("10 bytes of image/jpeg"))
		Expect(result.Failures).To(ConsistOf(upload.Failure{
			Name:    "b.pdf",
			Message: "Analysis failed",
			Hint:    "We could not read the voucher. Try again with a sharper photo.",
		}))
		Expect(reporter.titles).To(ConsistOf("Analysis failed"))

		Expect(store.All()).To(HaveLen(1))
		Expect(coordinator.Busy()).To(BeFalse())
	})

	It("should upload a shared link", func() {
		img := image.NewRGBA(image.Rect(0, 0, 2, 2))
		var buf bytes.Buffer
		Expect(png.Encode(&buf, img)).To(Succeed())
		files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			w.Write(buf.Bytes())
		}))
		DeferCleanup(files.Close)

		v, err := coordinator.SubmitURL(ctx, files.URL+"/gift.png")
		Expect(err).NotTo(HaveOccurred())
		Expect(v.OriginalFilename).To(Equal("gift.png"))
		Expect(v.FileType).To(Equal("image/png"))
		Expect(store.All()).To(HaveLen(1))
	})

	It("should archive and delete vouchers", func() {
		result, err := coordinator.SubmitBatch(ctx, []ingest.Attachment{
			writeFile("one.jpg", []byte("1")),
			writeFile("two.jpg", []byte("2")),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.All()).To(HaveLen(2))

		Expect(store.MarkUsed(ctx, result.Vouchers[0].ID)).To(Succeed())
		Expect(store.All()).To(HaveLen(1))

		Expect(store.Delete(ctx, result.Vouchers[1].ID)).To(Succeed())
		Expect(store.All()).To(BeEmpty())
	})

	When("the backend ends the session mid-use", func() {
		BeforeEach(func() {
			s, err := guard.Current()
			Expect(err).NotTo(HaveOccurred())
			user, err := service.Authenticate(s.Token)
			Expect(err).NotTo(HaveOccurred())
			_, err = service.RequestAccountDeletion(user)
			Expect(err).NotTo(HaveOccurred())
			Expect(service.ConfirmAccountDeletion(user, code)).To(Succeed())
		})

		It("should abort the batch and log out once", func() {
			result, err := coordinator.SubmitBatch(ctx, []ingest.Attachment{
				writeFile("a.jpg", []byte("a")),
				writeFile("b.jpg", []byte("b")),
			})
			Expect(err).To(MatchError(failure.ErrSessionExpired))
			Expect(result.Aborted).To(BeTrue())
			Expect(result.Skipped).To(Equal(1))
			Expect(reporter.titles).To(BeEmpty())
			Expect(expiries.n.Load()).To(Equal(int32(1)))
			Expect(guard.Authenticated()).To(BeFalse())

			_, err = coordinator.SubmitBatch(ctx, []ingest.Attachment{writeFile("c.jpg", []byte("c"))})
			Expect(err).To(MatchError(failure.ErrNotAuthenticated))
			Expect(expiries.n.Load()).To(Equal(int32(1)))
		})
	})
})
