package backend

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey int

const userKey contextKey = iota

// Server handles HTTP requests for the voucher API
type Server struct {
	service *Service
	mux     *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(service *Service) *Server {
	return NewServerWithMux(service, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, mux *http.ServeMux) *Server {
	s := &Server{
		service: service,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

// requireAuth resolves the bearer token and stores the user in the request context
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "Please log in again")
			return
		}
		user, err := s.service.Authenticate(strings.TrimSpace(token))
		if err != nil {
			if err != ErrUnauthorized {
				slog.Error("Error authenticating request", "error", err)
			}
			writeError(w, http.StatusUnauthorized, "Unauthorized", "Please log in again")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	}
}

func userFrom(r *http.Request) *User {
	user, _ := r.Context().Value(userKey).(*User)
	return user
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/auth/request-otp", s.handleRequestOTP)
	s.mux.HandleFunc("POST /api/auth/verify-otp", s.handleVerifyOTP)
	s.mux.HandleFunc("POST /api/auth/delete-account", s.requireAuth(s.handleDeleteAccount))

	s.mux.HandleFunc("POST /api/vouchers/upload-file", s.requireAuth(s.handleUploadFile))
	s.mux.HandleFunc("POST /api/vouchers/analyze", s.requireAuth(s.handleAnalyze))
	s.mux.HandleFunc("POST /api/vouchers/upload", s.requireAuth(s.handleUploadURL))
	s.mux.HandleFunc("POST /api/vouchers/{id}/mark-used", s.requireAuth(s.handleMarkUsed))
	s.mux.HandleFunc("DELETE /api/vouchers/{id}", s.requireAuth(s.handleDeleteVoucher))
	s.mux.HandleFunc("GET /api/vouchers", s.requireAuth(s.handleListVouchers))

	s.mux.HandleFunc("GET /api/blobs/{name}", s.requireAuth(s.handleGetBlob))
	s.mux.HandleFunc("POST /api/notifications/register-token", s.requireAuth(s.handleRegisterToken))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// Handler returns the mux wrapped in the CORS middleware
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
