// Package httpapi exposes the face gate HTTP API handlers.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/and161185/face-gate/internal/errs"
	"github.com/and161185/face-gate/internal/model"
	"github.com/and161185/face-gate/internal/service"
)

// Server wires the face auth service into HTTP handlers.
type Server struct {
	svc        service.FaceAuthService
	log        *zap.Logger
	validate   *validator.Validate
	adminToken string
}

// New constructs an HTTP server with injected services. An empty adminToken
// closes the admin endpoints entirely.
func New(svc service.FaceAuthService, log *zap.Logger, adminToken string) *Server {
	return &Server{
		svc:        svc,
		log:        log,
		validate:   validator.New(),
		adminToken: adminToken,
	}
}

// Router builds the route table. Identification endpoints are rate limited,
// admin endpoints sit behind the token guard.
func (s *Server) Router(identifyRPS float64) *mux.Router {
	r := mux.NewRouter()
	r.StrictSlash(true)
	r.Use(Recover(s.log), Logging(s.log))

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1/face").Subrouter()
	api.Handle("/identify", RateLimit(identifyRPS, http.HandlerFunc(s.handleIdentify))).Methods(http.MethodPost)
	api.Handle("/enroll", RateLimit(identifyRPS, http.HandlerFunc(s.handleEnroll))).Methods(http.MethodPost)
	api.HandleFunc("/status/{userID}", s.handleStatus).Methods(http.MethodGet)

	admin := api.NewRoute().Subrouter()
	admin.Use(AdminOnly(s.adminToken))
	admin.HandleFunc("/reset/{userID}", s.handleReset).Methods(http.MethodPost)
	admin.HandleFunc("/attempts/{userID}", s.handleAttempts).Methods(http.MethodGet)

	return r
}

type identifyRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
	Image  string `json:"image" validate:"required,base64"`
}

type identifyResponse struct {
	UserID             string  `json:"user_id"`
	Recognized         bool    `json:"recognized"`
	Confidence         float64 `json:"confidence"`
	AccessToken        string  `json:"access_token,omitempty"`
	Locked             bool    `json:"locked"`
	RemainingAttempts  int     `json:"remaining_attempts"`
	MinutesUntilExpiry int     `json:"minutes_until_expiry,omitempty"`
	Error              string  `json:"error,omitempty"`
}

func toIdentifyResponse(res model.IdentifyResult) identifyResponse {
	return identifyResponse{
		UserID:             res.UserID,
		Recognized:         res.Recognized,
		Confidence:         res.Confidence,
		AccessToken:        res.Tokens.AccessToken,
		Locked:             res.Locked,
		RemainingAttempts:  res.RemainingAttempts,
		MinutesUntilExpiry: res.MinutesUntilExpiry,
	}
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	req, img, ok := s.decodeCapture(w, r)
	if !ok {
		return
	}

	res, err := s.svc.Identify(r.Context(), service.IdentifyRequest{
		UserID: req.UserID,
		Image:  img,
		IP:     remoteIP(r),
	})
	if err != nil {
		// The result still carries lock metadata; surface it with the error
		// so the client can render remaining attempts and release time.
		body := toIdentifyResponse(res)
		switch {
		case errors.Is(err, errs.ErrLocked):
			body.Error = "locked"
			writeJSON(w, http.StatusLocked, body)
		case errors.Is(err, errs.ErrNotRecognized):
			body.Error = "not recognized"
			writeJSON(w, http.StatusUnauthorized, body)
		case errors.Is(err, errs.ErrRecognitionUnavailable):
			body.Error = "recognition unavailable"
			writeJSON(w, http.StatusBadGateway, body)
		case errors.Is(err, errs.ErrStoreUnavailable):
			body.Error = "storage unavailable"
			writeJSON(w, http.StatusServiceUnavailable, body)
		default:
			s.log.Error("identify", zap.Error(err))
			body.Error = "internal"
			writeJSON(w, http.StatusInternalServerError, body)
		}
		return
	}
	writeJSON(w, http.StatusOK, toIdentifyResponse(res))
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	req, img, ok := s.decodeCapture(w, r)
	if !ok {
		return
	}
	if err := s.svc.Enroll(r.Context(), req.UserID, img); err != nil {
		if errors.Is(err, errs.ErrRecognitionUnavailable) {
			writeError(w, http.StatusBadGateway, "recognition unavailable")
			return
		}
		s.log.Error("enroll", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": req.UserID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	st, err := s.svc.Status(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad user id")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	if err := s.svc.Reset(r.Context(), userID); err != nil {
		if errors.Is(err, errs.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
		writeError(w, http.StatusBadRequest, "bad user id")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	attempts, err := s.svc.Attempts(r.Context(), userID, 50)
	if err != nil {
		s.log.Error("attempts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeCapture reads and validates a capture request, returning the decoded
// image bytes. On failure the 400 response has already been written.
func (s *Server) decodeCapture(w http.ResponseWriter, r *http.Request) (identifyRequest, []byte, bool) {
	var req identifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return req, nil, false
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed")
		return req, nil, false
	}
	img, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil || len(img) == 0 {
		writeError(w, http.StatusBadRequest, "bad image encoding")
		return req, nil, false
	}
	return req, img, true
}

func remoteIP(r *http.Request) string {
	if h := r.Header.Get("X-Forwarded-For"); h != "" {
		return h
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
