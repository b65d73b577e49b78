package backend

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/dealsafe/internal/api"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, hint string) {
	writeJSON(w, status, errorResponse{Message: message, Hint: hint})
}

// writeServiceError maps service errors onto status codes
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	var analysis *AnalysisError
	switch {
	case errors.As(err, &analysis):
		status := http.StatusUnprocessableEntity
		if errors.Is(err, ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, analysis.Message, analysis.Hint)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Voucher not found", "")
	case errors.Is(err, ErrInvalidPhone):
		writeError(w, http.StatusBadRequest, "Invalid phone number", "Use a Danish number in the form +45XXXXXXXX")
	case errors.Is(err, ErrInvalidCode):
		writeError(w, http.StatusBadRequest, "Invalid or expired OTP code", "")
	case errors.Is(err, ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "Too many requests", "Please wait a moment before requesting a new code")
	case errors.Is(err, ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "File is too large", "Maximum size is 25MB. Please compress or resize your image.")
	case errors.Is(err, ErrInvalidRegistration):
		writeError(w, http.StatusBadRequest, "Notification token is required", "")
	default:
		slog.Error(fallback, "error", err)
		writeError(w, http.StatusInternalServerError, fallback, "")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return false
	}
	return true
}

func (s *Server) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber string `json:"phone_number"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	code, err := s.service.RequestOTP(req.PhoneNumber)
	if err != nil {
		writeServiceError(w, err, "Failed to send OTP code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "OTP code sent",
		"code":    code,
	})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber string `json:"phone_number"`
		Code        string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	token, user, err := s.service.VerifyOTP(req.PhoneNumber, req.Code)
	if err != nil {
		writeServiceError(w, err, "Failed to verify code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
		"user":    user,
	})
}

// handleDeleteAccount sends a code when the body has none, and deletes the
// account when it carries one
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	var req struct {
		Code string `json:"code"`
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", "")
			return
		}
	}

	if req.Code == "" {
		code, err := s.service.RequestAccountDeletion(user)
		if err != nil {
			writeServiceError(w, err, "Failed to send verification code")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Verification code sent", "code": code})
		return
	}

	if err := s.service.ConfirmAccountDeletion(user, req.Code); err != nil {
		writeServiceError(w, err, "Failed to delete account")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Account deleted"})
}

func (s *Server) handleListVouchers(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	includeUsed := r.URL.Query().Get("include_used") == "true"

	vouchers, err := s.service.ListVouchers(userFrom(r), limit, includeUsed)
	if err != nil {
		writeServiceError(w, err, "Failed to fetch vouchers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "vouchers": vouchers})
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeServiceError(w, ErrTooLarge, "Upload failed")
			return
		}
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, http.StatusBadRequest, "Error parsing form", "")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided", "Attach the voucher as a multipart field named file.")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.", "")
		return
	}

	ref, err := s.service.StoreUpload(userFrom(r), header.Filename, contentTypeFor(header.Header.Get("Content-Type"), header.Filename), data)
	if err != nil {
		writeServiceError(w, err, "Upload failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "file": ref})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileURL  string `json:"fileUrl"`
		Filename string `json:"filename"`
		MimeType string `json:"mimeType"`
		Size     int64  `json:"size"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FileURL == "" {
		writeError(w, http.StatusBadRequest, "fileUrl is required", "")
		return
	}

	v, err := s.service.Analyze(r.Context(), userFrom(r), api.FileRef{
		URL:      req.FileURL,
		Filename: req.Filename,
		MimeType: contentTypeFor(req.MimeType, req.Filename),
		Size:     req.Size,
	})
	if err != nil {
		writeServiceError(w, err, "Analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "voucher": v})
}

func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	v, err := s.service.UploadURL(r.Context(), userFrom(r), strings.TrimSpace(req.URL))
	if err != nil {
		writeServiceError(w, err, "Upload failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "voucher": v})
}

func (s *Server) handleMarkUsed(w http.ResponseWriter, r *http.Request) {
	id, ok := voucherID(w, r)
	if !ok {
		return
	}
	v, err := s.service.MarkUsed(userFrom(r), id)
	if err != nil {
		writeServiceError(w, err, "Failed to mark voucher as used")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "voucher": v})
}

func (s *Server) handleDeleteVoucher(w http.ResponseWriter, r *http.Request) {
	id, ok := voucherID(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteVoucher(userFrom(r), id); err != nil {
		writeServiceError(w, err, "Failed to delete voucher")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	data, err := s.service.GetBlob(userFrom(r), name)
	if err != nil {
		writeError(w, http.StatusNotFound, "File not found", "")
		return
	}
	w.Header().Set("Content-Type", contentTypeFor("", name))
	w.Write(data)
}

func (s *Server) handleRegisterToken(w http.ResponseWriter, r *http.Request) {
	var req api.Registration
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.service.RegisterPushToken(userFrom(r), req); err != nil {
		writeServiceError(w, err, "Failed to register notification token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func voucherID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Voucher ID required", "")
		return 0, false
	}
	return id, true
}

// contentTypeFor prefers the declared type and falls back to the extension
func contentTypeFor(declared, filename string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.Index(t, ";"); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return "application/octet-stream"
}
