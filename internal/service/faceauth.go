// Package service contains the application service that orchestrates
// lockout checks, facial recognition, and token issuance.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/face-gate/internal/errs"
	"github.com/and161185/face-gate/internal/model"
	"github.com/and161185/face-gate/internal/recognition"
	"github.com/and161185/face-gate/internal/repository"
	"github.com/and161185/face-gate/internal/tracker"
)

// Settings supplies the live lockout parameters. Implemented by
// *config.Provider; read on every request, never cached here.
type Settings interface {
	MaxFailureAttempts() int
	FailureResetOnSuccess() bool
}

// FaceAuthService defines identification, enrollment, and lockout operations.
type FaceAuthService interface {
	// Identify runs the lockout gate, matches the capture against the
	// recognition provider, and updates the failure tracker. The returned
	// result carries lock metadata even when err is non-nil.
	Identify(ctx context.Context, req IdentifyRequest) (model.IdentifyResult, error)
	// Enroll registers the capture as the user's reference face.
	Enroll(ctx context.Context, userID string, image []byte) error
	// Status reports the current lockout state for a user.
	Status(ctx context.Context, userID string) (model.LockStatus, error)
	// Reset clears the user's failure record (admin unlock).
	Reset(ctx context.Context, userID string) error
	// Attempts returns the newest logged attempts for a user.
	Attempts(ctx context.Context, userID string, limit int) ([]model.Attempt, error)
}

// IdentifyRequest is one capture submitted for identification.
type IdentifyRequest struct {
	UserID string
	Image  []byte
	IP     string
}

// Options are the fixed (non hot-reloadable) service parameters.
type Options struct {
	// SignKey is the HS256 key for access tokens; empty disables issuance.
	SignKey []byte
	// AccessTTL is the issued token lifetime.
	AccessTTL time.Duration
	// MinConfidence is the match confidence below which an identification
	// counts as a failure.
	MinConfidence float64
	// AutoEnroll registers a subject unknown to the provider on first
	// capture instead of counting a failure.
	AutoEnroll bool
}

type FaceAuthImpl struct {
	tracker  tracker.Tracker
	rec      recognition.Recognizer
	attempts repository.AttemptRepository // nil disables the attempt log
	settings Settings
	opts     Options
	log      *zap.Logger
	now      func() time.Time
}

var _ FaceAuthService = (*FaceAuthImpl)(nil)

// NewFaceAuthService constructs FaceAuthService with required dependencies.
func NewFaceAuthService(
	tr tracker.Tracker,
	rec recognition.Recognizer,
	attempts repository.AttemptRepository,
	settings Settings,
	opts Options,
	log *zap.Logger,
) *FaceAuthImpl {
	return &FaceAuthImpl{
		tracker:  tr,
		rec:      rec,
		attempts: attempts,
		settings: settings,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// Identify gates the capture behind the lockout policy and reports the
// outcome back to the tracker.
//
// Error policy: a lock-check storage error fails open (one extra attempt is
// safer than blocking everyone on a broken store), a RecordFailure error
// propagates (the caller must know the failure went unrecorded), and a
// recognition outage is not a user failure at all.
func (s *FaceAuthImpl) Identify(ctx context.Context, req IdentifyRequest) (model.IdentifyResult, error) {
	if req.UserID == "" || len(req.Image) == 0 {
		return model.IdentifyResult{}, errors.New("validation: userID/image")
	}
	res := model.IdentifyResult{UserID: req.UserID}

	locked, err := s.tracker.IsLocked(ctx, req.UserID)
	if err != nil {
		s.log.Warn("lock check failed, failing open",
			zap.String("userID", req.UserID), zap.Error(err))
		locked = false
	}
	if locked {
		res.Locked = true
		res.MinutesUntilExpiry = s.minutesUntilExpiry(ctx, req.UserID)
		s.logAttempt(ctx, req, model.OutcomeLocked, 0)
		return res, errs.ErrLocked
	}

	match, err := s.rec.Identify(ctx, req.UserID, req.Image)
	if err != nil {
		// Provider outage: nothing recorded, the user is not penalized.
		res.RemainingAttempts = s.remainingAttempts(ctx, req.UserID)
		return res, err
	}

	if !match.Recognized && match.SubjectID == "" && s.opts.AutoEnroll {
		if err := s.rec.Enroll(ctx, req.UserID, req.Image); err == nil {
			s.log.Info("auto-enrolled unknown subject", zap.String("userID", req.UserID))
			match = recognition.Match{Recognized: true, Confidence: 1, SubjectID: req.UserID}
		}
	}

	if match.Recognized && match.Confidence >= s.opts.MinConfidence {
		return s.succeed(ctx, req, match)
	}
	return s.fail(ctx, req, res, match)
}

func (s *FaceAuthImpl) succeed(ctx context.Context, req IdentifyRequest, match recognition.Match) (model.IdentifyResult, error) {
	res := model.IdentifyResult{
		UserID:     req.UserID,
		Recognized: true,
		Confidence: match.Confidence,
	}

	if s.settings.FailureResetOnSuccess() {
		// Best-effort: a failed reset must not block the success path.
		if err := s.tracker.Reset(ctx, req.UserID); err != nil {
			s.log.Warn("failure reset failed after success",
				zap.String("userID", req.UserID), zap.Error(err))
		}
	}
	res.RemainingAttempts = s.remainingAttempts(ctx, req.UserID)

	if len(s.opts.SignKey) > 0 {
		tokens, err := s.issueAccessToken(req.UserID)
		if err != nil {
			return res, err
		}
		res.Tokens = tokens
	}

	s.logAttempt(ctx, req, model.OutcomeSuccess, match.Confidence)
	return res, nil
}

func (s *FaceAuthImpl) fail(ctx context.Context, req IdentifyRequest, res model.IdentifyResult, match recognition.Match) (model.IdentifyResult, error) {
	res.Confidence = match.Confidence

	if err := s.tracker.RecordFailure(ctx, req.UserID); err != nil {
		return res, err
	}

	res.RemainingAttempts = s.remainingAttempts(ctx, req.UserID)
	if locked, err := s.tracker.IsLocked(ctx, req.UserID); err == nil && locked {
		res.Locked = true
		res.MinutesUntilExpiry = s.minutesUntilExpiry(ctx, req.UserID)
	}
	s.logAttempt(ctx, req, model.OutcomeNotRecognized, match.Confidence)
	return res, errs.ErrNotRecognized
}

// Status reports lock state with safe defaults on storage errors:
// availability wins over strict lockout accuracy.
func (s *FaceAuthImpl) Status(ctx context.Context, userID string) (model.LockStatus, error) {
	if userID == "" {
		return model.LockStatus{}, errors.New("validation: userID")
	}
	st := model.LockStatus{UserID: userID}

	locked, err := s.tracker.IsLocked(ctx, userID)
	if err != nil {
		s.log.Warn("status lock check failed, failing open",
			zap.String("userID", userID), zap.Error(err))
		locked = false
	}
	st.Locked = locked
	st.RemainingAttempts = s.remainingAttempts(ctx, userID)
	st.MinutesUntilExpiry = s.minutesUntilExpiry(ctx, userID)
	return st, nil
}

// Enroll registers the capture as the user's reference face.
func (s *FaceAuthImpl) Enroll(ctx context.Context, userID string, image []byte) error {
	if userID == "" || len(image) == 0 {
		return errors.New("validation: userID/image")
	}
	return s.rec.Enroll(ctx, userID, image)
}

// Reset clears the user's failure record.
func (s *FaceAuthImpl) Reset(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("validation: userID")
	}
	return s.tracker.Reset(ctx, userID)
}

// Attempts returns the newest logged attempts for a user.
func (s *FaceAuthImpl) Attempts(ctx context.Context, userID string, limit int) ([]model.Attempt, error) {
	if s.attempts == nil {
		return nil, nil
	}
	return s.attempts.ListRecent(ctx, userID, limit)
}

// remainingAttempts is a best-effort read: on storage errors it reports the
// full configured maximum (or the unlimited sentinel when disabled).
func (s *FaceAuthImpl) remainingAttempts(ctx context.Context, userID string) int {
	rem, err := s.tracker.RemainingAttempts(ctx, userID)
	if err != nil {
		if threshold := s.settings.MaxFailureAttempts(); threshold > 0 {
			return threshold
		}
		return tracker.UnlimitedAttempts
	}
	return rem
}

func (s *FaceAuthImpl) minutesUntilExpiry(ctx context.Context, userID string) int {
	mins, err := s.tracker.MinutesUntilExpiry(ctx, userID)
	if err != nil {
		return 0
	}
	return mins
}

// logAttempt appends to the attempt log, best-effort.
func (s *FaceAuthImpl) logAttempt(ctx context.Context, req IdentifyRequest, outcome string, confidence float64) {
	if s.attempts == nil {
		return
	}
	id, err := uuid.NewV4()
	if err != nil {
		return
	}
	a := &model.Attempt{
		ID:         id,
		UserID:     req.UserID,
		Outcome:    outcome,
		Confidence: confidence,
		IPHash:     repository.HashIP(req.IP),
		CreatedAt:  s.now(),
	}
	if err := s.attempts.Insert(ctx, a); err != nil {
		s.log.Warn("attempt log insert failed", zap.Error(err))
	}
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *FaceAuthImpl) issueAccessToken(userID string) (model.Tokens, error) {
	now := s.now()
	exp := now.Add(s.opts.AccessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.opts.SignKey)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: exp}, nil
}
