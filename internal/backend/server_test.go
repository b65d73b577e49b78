package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Server", func() {
	var (
		scanner    *mockScanner
		storage    *mockStorage
		opts       Options
		httpServer *httptest.Server
		token      string
		user       map[string]any
	)

	do := func(method, path, token string, body io.Reader, contentType string) (*http.Response, map[string]any) {
		req, err := http.NewRequest(method, httpServer.URL+path, body)
		Expect(err).NotTo(HaveOccurred())
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		var decoded map[string]any
		if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
			Expect(json.Unmarshal(raw, &decoded)).To(Succeed())
		} else {
			decoded = map[string]any{"raw": string(raw)}
		}
		return resp, decoded
	}

	postJSON := func(path, token, body string) (*http.Response, map[string]any) {
		return do(http.MethodPost, path, token, strings.NewReader(body), "application/json")
	}

	uploadFile := func(token, filename string, content []byte) (*http.Response, map[string]any) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = fw.Write(content)
		Expect(err).NotTo(HaveOccurred())
		Expect(mw.Close()).To(Succeed())
		return do(http.MethodPost, "/api/vouchers/upload-file", token, &buf, mw.FormDataContentType())
	}

	analyzeBody := func(file any) string {
		ref := file.(map[string]any)
		body, err := json.Marshal(map[string]any{
			"fileUrl":  ref["url"],
			"filename": ref["filename"],
			"mimeType": ref["mimeType"],
			"size":     ref["size"],
		})
		Expect(err).NotTo(HaveOccurred())
		return string(body)
	}

	BeforeEach(func() {
		scanner = newMockScanner()
		storage = newMockStorage()
		opts = Options{EchoCodes: true}
	})

	JustBeforeEach(func() {
		httpServer = httptest.NewUnstartedServer(nil)
		opts.PublicURL = "http://" + httpServer.Listener.Addr().String()
		clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
		service := NewServiceWithDeps(newTestDB(), scanner, storage, &mockFetcher{err: errors.New("offline")}, opts, &sequenceIDs{}, clock, fixedCodes(testCode))
		httpServer.Config.Handler = NewServerWithMux(service, http.NewServeMux()).Handler()
		httpServer.Start()
		DeferCleanup(httpServer.Close)

		_, body := postJSON("/api/auth/request-otp", "", `{"phone_number":"`+testPhone+`"}`)
		Expect(body["code"]).To(Equal(testCode))
		resp, body := postJSON("/api/auth/verify-otp", "", `{"phone_number":"`+testPhone+`","code":"`+testCode+`"}`)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		token = body["token"].(string)
		user = body["user"].(map[string]any)
	})

	Describe("authentication", func() {
		It("should return the user with the token", func() {
			Expect(token).NotTo(BeEmpty())
			Expect(user["phone_number"]).To(Equal(testPhone))
		})

		It("should reject requests without a token", func() {
			resp, body := do(http.MethodGet, "/api/vouchers", "", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(body["success"]).To(BeFalse())
			Expect(body["message"]).To(Equal("Unauthorized"))
		})

		It("should reject unknown tokens", func() {
			resp, _ := do(http.MethodGet, "/api/vouchers", "stale", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should reject bad codes", func() {
			resp, body := postJSON("/api/auth/verify-otp", "", `{"phone_number":"`+testPhone+`","code":"000000"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(body["message"]).To(Equal("Invalid or expired OTP code"))
		})

		It("should reject bad phone numbers", func() {
			resp, _ := postJSON("/api/auth/request-otp", "", `{"phone_number":"12"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should rate limit code requests", func() {
			resp, _ := postJSON("/api/auth/request-otp", "", `{"phone_number":"+4587654321"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp, body := postJSON("/api/auth/request-otp", "", `{"phone_number":"+4587654321"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusTooManyRequests))
			Expect(body["hint"]).NotTo(BeEmpty())
		})

		It("should reject malformed bodies", func() {
			resp, body := postJSON("/api/auth/request-otp", "", `{`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(body["message"]).To(Equal("Invalid request body"))
		})
	})

	Describe("uploading", func() {
		It("should store, analyze and list a voucher", func() {
			resp, body := uploadFile(token, "voucher.png", []byte("png"))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			file := body["file"].(map[string]any)
			Expect(file["filename"]).To(Equal("voucher.png"))
			Expect(file["mimeType"]).To(Equal("image/png"))

			resp, body = postJSON("/api/vouchers/analyze", token, analyzeBody(file))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			v := body["voucher"].(map[string]any)
			Expect(v["redemption_value"]).To(Equal("Dinner for 2"))
			Expect(v["is_valid"]).To(BeTrue())

			resp, body = do(http.MethodGet, "/api/vouchers", token, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["vouchers"]).To(HaveLen(1))
		})

		It("should serve the stored blob", func() {
			_, body := uploadFile(token, "voucher.png", []byte("png"))
			url := body["file"].(map[string]any)["url"].(string)
			path := strings.TrimPrefix(url, httpServer.URL)

			resp, body := do(http.MethodGet, path, token, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			Expect(body["raw"]).To(Equal("png"))
		})

		It("should require the file field", func() {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			Expect(mw.WriteField("other", "x")).To(Succeed())
			Expect(mw.Close()).To(Succeed())

			resp, body := do(http.MethodPost, "/api/vouchers/upload-file", token, &buf, mw.FormDataContentType())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(body["message"]).To(Equal("No file provided"))
		})

		When("analysis fails", func() {
			BeforeEach(func() {
				scanner.err = errors.New("model unavailable")
			})

			It("should return the message and hint", func() {
				_, body := uploadFile(token, "voucher.png", []byte("png"))
				resp, body := postJSON("/api/vouchers/analyze", token, analyzeBody(body["file"]))
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(body["success"]).To(BeFalse())
				Expect(body["message"]).To(Equal("Analysis failed"))
				Expect(body["hint"]).To(Equal("We could not read the voucher. Try again with a sharper photo."))
			})
		})

		It("should report unreachable shared links", func() {
			resp, body := postJSON("/api/vouchers/upload", token, `{"url":"https://example.com/v.pdf"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			Expect(body["message"]).To(Equal("Could not download the shared link"))
		})

		It("should require fileUrl", func() {
			resp, _ := postJSON("/api/vouchers/analyze", token, `{}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("managing vouchers", func() {
		var id string

		JustBeforeEach(func() {
			_, body := uploadFile(token, "voucher.png", []byte("png"))
			_, body = postJSON("/api/vouchers/analyze", token, analyzeBody(body["file"]))
			id = "1"
			Expect(body["voucher"].(map[string]any)["id"]).To(BeNumerically("==", 1))
		})

		It("should mark a voucher used", func() {
			resp, body := postJSON("/api/vouchers/"+id+"/mark-used", token, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["voucher"].(map[string]any)["used_at"]).NotTo(BeNil())

			_, body = do(http.MethodGet, "/api/vouchers", token, nil, "")
			Expect(body["vouchers"]).To(BeEmpty())
			_, body = do(http.MethodGet, "/api/vouchers?include_used=true", token, nil, "")
			Expect(body["vouchers"]).To(HaveLen(1))
		})

		It("should delete a voucher", func() {
			resp, body := do(http.MethodDelete, "/api/vouchers/"+id, token, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["success"]).To(BeTrue())

			resp, body = do(http.MethodDelete, "/api/vouchers/"+id, token, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(body["message"]).To(Equal("Voucher not found"))
		})

		It("should reject bad IDs", func() {
			resp, _ := do(http.MethodDelete, "/api/vouchers/abc", token, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("account deletion", func() {
		It("should send a code, then delete with it", func() {
			resp, body := postJSON("/api/auth/delete-account", token, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["code"]).To(Equal(testCode))

			resp, _ = postJSON("/api/auth/delete-account", token, `{"code":"`+testCode+`"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp, _ = do(http.MethodGet, "/api/vouchers", token, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("notifications", func() {
		It("should register a token", func() {
			resp, _ := postJSON("/api/notifications/register-token", token, `{"token":"dealsafe-abc","platform":"ntfy","device_name":"laptop"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should reject an empty token", func() {
			resp, _ := postJSON("/api/notifications/register-token", token, `{"token":""}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	It("should answer CORS preflight", func() {
		resp, _ := do(http.MethodOptions, "/api/vouchers", "", nil, "")
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
	})
})
