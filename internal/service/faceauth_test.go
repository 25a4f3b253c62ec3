package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/face-gate/internal/errs"
	"github.com/and161185/face-gate/internal/model"
	"github.com/and161185/face-gate/internal/recognition"
	"github.com/and161185/face-gate/internal/repository"
	"github.com/and161185/face-gate/internal/tracker"
)

type fakeSettings struct {
	max   int
	reset bool
}

func (s *fakeSettings) MaxFailureAttempts() int     { return s.max }
func (s *fakeSettings) FailureResetOnSuccess() bool { return s.reset }

type fakeTracker struct {
	locked            bool
	lockedAfterRecord bool
	lockedErr         error
	remaining         int
	remainingErr      error
	recordErr         error
	resetErr          error
	minutes           int

	recordCalls int
	resetCalls  int
}

var _ tracker.Tracker = (*fakeTracker)(nil)

func (f *fakeTracker) RecordFailure(context.Context, string) error {
	f.recordCalls++
	return f.recordErr
}
func (f *fakeTracker) IsLocked(context.Context, string) (bool, error) {
	if f.recordCalls > 0 {
		return f.lockedAfterRecord, f.lockedErr
	}
	return f.locked, f.lockedErr
}
func (f *fakeTracker) RemainingAttempts(context.Context, string) (int, error) {
	return f.remaining, f.remainingErr
}
func (f *fakeTracker) Reset(context.Context, string) error {
	f.resetCalls++
	return f.resetErr
}
func (f *fakeTracker) MinutesUntilExpiry(context.Context, string) (int, error) {
	return f.minutes, nil
}

type fakeRecognizer struct {
	match     recognition.Match
	identErr  error
	enrollErr error

	identifyCalls int
	enrollCalls   int
}

var _ recognition.Recognizer = (*fakeRecognizer)(nil)

func (f *fakeRecognizer) Identify(context.Context, string, []byte) (recognition.Match, error) {
	f.identifyCalls++
	return f.match, f.identErr
}
func (f *fakeRecognizer) Enroll(context.Context, string, []byte) error {
	f.enrollCalls++
	return f.enrollErr
}

func newService(tr *fakeTracker, rec *fakeRecognizer, attempts repository.AttemptRepository, settings *fakeSettings) *FaceAuthImpl {
	opts := Options{
		SignKey:       []byte("k"),
		AccessTTL:     time.Minute,
		MinConfidence: 0.85,
	}
	return NewFaceAuthService(tr, rec, attempts, settings, opts, zap.NewNop())
}

func identifyReq() IdentifyRequest {
	return IdentifyRequest{UserID: "alice", Image: []byte("img"), IP: "10.0.0.1"}
}

func TestIdentify_SuccessResetsAndIssuesToken(t *testing.T) {
	tr := &fakeTracker{remaining: 5}
	rec := &fakeRecognizer{match: recognition.Match{Recognized: true, Confidence: 0.92, SubjectID: "alice"}}
	attempts := repository.NewMemoryAttempts()
	s := newService(tr, rec, attempts, &fakeSettings{max: 5, reset: true})

	res, err := s.Identify(context.Background(), identifyReq())
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !res.Recognized || res.Confidence != 0.92 {
		t.Fatalf("result = %+v", res)
	}
	if res.Tokens.AccessToken == "" {
		t.Fatalf("no access token issued on success")
	}
	if tr.resetCalls != 1 {
		t.Fatalf("resetCalls = %d, want 1", tr.resetCalls)
	}

	logged, _ := attempts.ListRecent(context.Background(), "alice", 10)
	if len(logged) != 1 || logged[0].Outcome != model.OutcomeSuccess {
		t.Fatalf("attempt log = %+v", logged)
	}
}

func TestIdentify_NoResetWhenDisabled(t *testing.T) {
	tr := &fakeTracker{remaining: 5}
	rec := &fakeRecognizer{match: recognition.Match{Recognized: true, Confidence: 0.95}}
	s := newService(tr, rec, nil, &fakeSettings{max: 5, reset: false})

	if _, err := s.Identify(context.Background(), identifyReq()); err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if tr.resetCalls != 0 {
		t.Fatalf("reset called with failure_reset_on_success=false")
	}
}

func TestIdentify_LockedShortCircuits(t *testing.T) {
	tr := &fakeTracker{locked: true, minutes: 2}
	rec := &fakeRecognizer{}
	attempts := repository.NewMemoryAttempts()
	s := newService(tr, rec, attempts, &fakeSettings{max: 5, reset: true})

	res, err := s.Identify(context.Background(), identifyReq())
	if !errors.Is(err, errs.ErrLocked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}
	if !res.Locked || res.RemainingAttempts != 0 || res.MinutesUntilExpiry != 2 {
		t.Fatalf("result = %+v", res)
	}
	if rec.identifyCalls != 0 {
		t.Fatalf("recognizer called for a locked user")
	}

	logged, _ := attempts.ListRecent(context.Background(), "alice", 10)
	if len(logged) != 1 || logged[0].Outcome != model.OutcomeLocked {
		t.Fatalf("attempt log = %+v", logged)
	}
}

func TestIdentify_LockCheckErrorFailsOpen(t *testing.T) {
	tr := &fakeTracker{lockedErr: errors.New("store down"), remainingErr: errors.New("store down")}
	rec := &fakeRecognizer{match: recognition.Match{Recognized: true, Confidence: 0.9}}
	s := newService(tr, rec, nil, &fakeSettings{max: 5, reset: false})

	res, err := s.Identify(context.Background(), identifyReq())
	if err != nil {
		t.Fatalf("Identify with broken lock check: %v", err)
	}
	if rec.identifyCalls != 1 {
		t.Fatalf("attempt was blocked instead of failing open")
	}
	if res.RemainingAttempts != 5 {
		t.Fatalf("remaining = %d, want full maximum on store error", res.RemainingAttempts)
	}
}

func TestIdentify_NotRecognizedRecordsFailure(t *testing.T) {
	tr := &fakeTracker{remaining: 2}
	rec := &fakeRecognizer{match: recognition.Match{Recognized: false, SubjectID: "alice"}}
	attempts := repository.NewMemoryAttempts()
	s := newService(tr, rec, attempts, &fakeSettings{max: 5, reset: true})

	res, err := s.Identify(context.Background(), identifyReq())
	if !errors.Is(err, errs.ErrNotRecognized) {
		t.Fatalf("err = %v, want ErrNotRecognized", err)
	}
	if tr.recordCalls != 1 {
		t.Fatalf("recordCalls = %d, want 1", tr.recordCalls)
	}
	if res.RemainingAttempts != 2 {
		t.Fatalf("remaining = %d, want 2", res.RemainingAttempts)
	}

	logged, _ := attempts.ListRecent(context.Background(), "alice", 10)
	if len(logged) != 1 || logged[0].Outcome != model.OutcomeNotRecognized {
		t.Fatalf("attempt log = %+v", logged)
	}
}

func TestIdentify_LowConfidenceIsFailure(t *testing.T) {
	tr := &fakeTracker{remaining: 4}
	rec := &fakeRecognizer{match: recognition.Match{Recognized: true, Confidence: 0.5, SubjectID: "alice"}}
	s := newService(tr, rec, nil, &fakeSettings{max: 5, reset: true})

	_, err := s.Identify(context.Background(), identifyReq())
	if !errors.Is(err, errs.ErrNotRecognized) {
		t.Fatalf("err = %v, want ErrNotRecognized", err)
	}
	if tr.recordCalls != 1 {
		t.Fatalf("low-confidence match not recorded as failure")
	}
}

func TestIdentify_FailureCrossingThresholdReportsLock(t *testing.T) {
	tr := &fakeTracker{remaining: 0, lockedAfterRecord: true, minutes: 2}
	rec := &fakeRecognizer{match: recognition.Match{SubjectID: "alice"}}
	s := newService(tr, rec, nil, &fakeSettings{max: 5, reset: true})

	res, err := s.Identify(context.Background(), identifyReq())
	if !errors.Is(err, errs.ErrNotRecognized) {
		t.Fatalf("err = %v, want ErrNotRecognized", err)
	}
	if !res.Locked || res.MinutesUntilExpiry != 2 {
		t.Fatalf("result = %+v, want locked with release time", res)
	}
}

func TestIdentify_RecordFailureErrorPropagates(t *testing.T) {
	tr := &fakeTracker{recordErr: errs.ErrStoreUnavailable}
	rec := &fakeRecognizer{match: recognition.Match{SubjectID: "alice"}}
	s := newService(tr, rec, nil, &fakeSettings{max: 5, reset: true})

	_, err := s.Identify(context.Background(), identifyReq())
	if !errors.Is(err, errs.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestIdentify_RecognitionOutageIsNotAUserFailure(t *testing.T) {
	tr := &fakeTracker{remaining: 5}
	rec := &fakeRecognizer{identErr: errs.ErrRecognitionUnavailable}
	s := newService(tr, rec, nil, &fakeSettings{max: 5, reset: true})

	_, err := s.Identify(context.Background(), identifyReq())
	if !errors.Is(err, errs.ErrRecognitionUnavailable) {
		t.Fatalf("err = %v, want ErrRecognitionUnavailable", err)
	}
	if tr.recordCalls != 0 {
		t.Fatalf("provider outage counted against the user")
	}
}

func TestIdentify_ResetErrorDoesNotBlockSuccess(t *testing.T) {
	tr := &fakeTracker{remaining: 5, resetErr: errors.New("store down")}
	rec := &fakeRecognizer{match: recognition.Match{Recognized: true, Confidence: 0.95}}
	s := newService(tr, rec, nil, &fakeSettings{max: 5, reset: true})

	res, err := s.Identify(context.Background(), identifyReq())
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if res.Tokens.AccessToken == "" {
		t.Fatalf("success path blocked by failed reset")
	}
}

func TestIdentify_AutoEnrollUnknownSubject(t *testing.T) {
	tr := &fakeTracker{remaining: 5}
	rec := &fakeRecognizer{match: recognition.Match{}} // unknown subject
	s := newService(tr, rec, nil, &fakeSettings{max: 5, reset: true})
	s.opts.AutoEnroll = true

	res, err := s.Identify(context.Background(), identifyReq())
	if err != nil {
		t.Fatalf("Identify with auto-enroll: %v", err)
	}
	if rec.enrollCalls != 1 || !res.Recognized {
		t.Fatalf("enrollCalls=%d recognized=%v", rec.enrollCalls, res.Recognized)
	}
	if tr.recordCalls != 0 {
		t.Fatalf("auto-enroll counted as failure")
	}
}

func TestIdentify_Validation(t *testing.T) {
	s := newService(&fakeTracker{}, &fakeRecognizer{}, nil, &fakeSettings{max: 5})
	if _, err := s.Identify(context.Background(), IdentifyRequest{UserID: "", Image: []byte("x")}); err == nil {
		t.Fatalf("want validation error on empty userID")
	}
	if _, err := s.Identify(context.Background(), IdentifyRequest{UserID: "u"}); err == nil {
		t.Fatalf("want validation error on empty image")
	}
}

func TestStatus_FailsOpenOnStoreError(t *testing.T) {
	tr := &fakeTracker{lockedErr: errors.New("store down"), remainingErr: errors.New("store down")}
	s := newService(tr, &fakeRecognizer{}, nil, &fakeSettings{max: 5})

	st, err := s.Status(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Locked || st.RemainingAttempts != 5 {
		t.Fatalf("status = %+v, want unlocked with full attempts", st)
	}
}

func TestStatus_DisabledLockoutSentinel(t *testing.T) {
	tr := &fakeTracker{remaining: tracker.UnlimitedAttempts}
	s := newService(tr, &fakeRecognizer{}, nil, &fakeSettings{max: 0})

	st, err := s.Status(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.RemainingAttempts != tracker.UnlimitedAttempts {
		t.Fatalf("remaining = %d, want sentinel", st.RemainingAttempts)
	}
}

func TestReset_Validation(t *testing.T) {
	s := newService(&fakeTracker{}, &fakeRecognizer{}, nil, &fakeSettings{max: 5})
	if err := s.Reset(context.Background(), ""); err == nil {
		t.Fatalf("want validation error on empty userID")
	}
	if err := s.Reset(context.Background(), "alice"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
}

func TestAttempts_NilRepoIsDisabled(t *testing.T) {
	s := newService(&fakeTracker{}, &fakeRecognizer{}, nil, &fakeSettings{max: 5})
	got, err := s.Attempts(context.Background(), "alice", 10)
	if err != nil || got != nil {
		t.Fatalf("attempts = %v err = %v, want disabled no-op", got, err)
	}
}
