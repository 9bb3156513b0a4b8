package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-seat-broker/internal/domain"
	"github.com/go-seat-broker/internal/pkg/id"
	"github.com/go-seat-broker/internal/pkg/logger"
	"github.com/go-seat-broker/internal/pkg/passcode"
)

// maxCommitRetries bounds how often a request re-runs its checks after losing
// a conditional write to a concurrent request for the same seat.
const maxCommitRetries = 3

type IssueRequest struct {
	OrderItemID string
	CallerID    string
	Requester   domain.RequesterMeta
}

type IssueResult struct {
	Code           string
	Attempt        int
	IsFinalAttempt bool
	ExpiresIn      int
}

type ConfirmRequest struct {
	OrderItemID string
	CallerID    string
	Success     bool
}

type ConfirmResult struct {
	State             domain.SeatState
	Success           bool
	Locked            bool
	LockReason        string
	AttemptsRemaining int
}

// StatusView is the read-only picture of a seat a client uses to resync.
type StatusView struct {
	State               domain.SeatState
	AttemptCount        int
	AttemptsRemaining   int
	Locked              bool
	LockReason          string
	PendingConfirmation bool
	NextIssueIn         int // seconds until the spacing limit allows another code
	FavorableWindowIn   int // advisory wait for a code with a usable lifetime
}

type Service interface {
	IssueCode(ctx context.Context, req IssueRequest) (*IssueResult, error)
	ConfirmOutcome(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error)
	Status(ctx context.Context, orderItemID, callerID string) (*StatusView, error)
}

// SeatStore loads seats and applies transitions as one conditional write.
type SeatStore interface {
	GetByOrderItem(ctx context.Context, orderItemID string) (*domain.Seat, error)
	Commit(ctx context.Context, tr domain.SeatTransition) error
}

// LogStore reads issuance log entries.
type LogStore interface {
	Get(ctx context.Context, seatID string, attempt int) (*domain.IssuanceLogEntry, error)
}

// SecretSource resolves the plain passcode seed of a credential.
type SecretSource interface {
	Secret(ctx context.Context, credentialID string) (string, error)
}

// LockNotifier is told about every seat that becomes locked.
type LockNotifier interface {
	SeatLocked(ctx context.Context, seat domain.Seat) error
}

// Observer receives counters about access decisions.
type Observer interface {
	CodeIssued(attempt int)
	Denied(kind string)
	Resolved(outcome domain.Outcome)
	Locked(reason string)
	CommitRace(op string)
}

type ServiceDeps struct {
	Seats    SeatStore
	Logs     LogStore
	Secrets  SecretSource
	Notifier LockNotifier // optional
	Observer Observer     // optional
	Now      func() time.Time
}

type service struct {
	seats    SeatStore
	logs     LogStore
	secrets  SecretSource
	notifier LockNotifier
	obs      Observer
	now      func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		seats:    deps.Seats,
		logs:     deps.Logs,
		secrets:  deps.Secrets,
		notifier: deps.Notifier,
		obs:      deps.Observer,
		now:      deps.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.obs == nil {
		s.obs = nopObserver{}
	}
	return s
}

func (s *service) IssueCode(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	for try := 0; ; try++ {
		res, err := s.tryIssue(ctx, req)
		if !errors.Is(err, domain.ErrStaleWrite) {
			s.observeDenial(err)
			return res, err
		}
		s.obs.CommitRace("issue")
		logger.DebugContext(ctx, "issue lost commit race", "order_item_id", req.OrderItemID, "try", try)
		if try >= maxCommitRetries {
			err = domain.Deny(domain.ErrConflict, "seat changed concurrently, reload and retry")
			s.observeDenial(err)
			return nil, err
		}
	}
}

func (s *service) tryIssue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	seat, err := s.loadOwned(ctx, req.OrderItemID, req.CallerID)
	if err != nil {
		return nil, err
	}
	if seat.State.Terminal() {
		return nil, seat.TerminalDenial()
	}
	if seat.AttemptCount >= domain.MaxAttempts {
		return nil, s.lockOverdrawn(ctx, *seat)
	}

	now := s.now()
	if wait, ok := checkSpacing(seat.LastCodeIssuedAt, now, MinIssueSpacing); !ok {
		return nil, &domain.DenialError{
			Kind:        domain.ErrTooManyRequests,
			Message:     fmt.Sprintf("wait %d seconds before requesting another code", wait),
			WaitSeconds: wait,
		}
	}

	// Resolve and exercise the seed before committing so a broken credential
	// never burns an attempt.
	secret, err := s.secrets.Secret(ctx, seat.CredentialID)
	if err != nil {
		return nil, s.configFailure(ctx, seat, err)
	}
	if _, err := passcode.Generate(secret, now); err != nil {
		return nil, s.configFailure(ctx, seat, err)
	}

	next, err := seat.PlanIssue(now)
	if err != nil {
		return nil, err
	}
	entry := domain.IssuanceLogEntry{
		SeatID:        seat.SeatID,
		AttemptNumber: next.AttemptCount,
		EntryID:       id.New(),
		BuyerID:       seat.BuyerID,
		OrderItemID:   seat.OrderItemID,
		RemoteIP:      req.Requester.RemoteIP,
		UserAgent:     req.Requester.UserAgent,
		Outcome:       domain.OutcomePending,
		IssuedAt:      now.UTC(),
	}
	tr := domain.SeatTransition{Prev: *seat, Next: next, Append: &entry}

	// A previous code nobody reported on is closed as failed by the retry.
	if seat.AttemptCount > 0 {
		prev, err := s.logs.Get(ctx, seat.SeatID, seat.AttemptCount)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if prev != nil && prev.Outcome == domain.OutcomePending {
			tr.Resolve = append(tr.Resolve, prev.Resolve(domain.OutcomeFailure, now, domain.NoteSuperseded))
		}
	}

	if err := s.seats.Commit(ctx, tr); err != nil {
		return nil, err
	}

	issuedAt := s.now()
	code, err := passcode.Generate(secret, issuedAt)
	if err != nil {
		return nil, s.configFailure(ctx, seat, err)
	}
	s.obs.CodeIssued(next.AttemptCount)
	logger.InfoContext(ctx, "passcode issued",
		"seat_id", seat.SeatID,
		"attempt", next.AttemptCount,
		"state", next.State,
		"remote_ip", req.Requester.RemoteIP,
	)
	return &IssueResult{
		Code:           code,
		Attempt:        next.AttemptCount,
		IsFinalAttempt: next.AttemptCount == domain.MaxAttempts,
		ExpiresIn:      passcode.ExpiresIn(issuedAt),
	}, nil
}

// lockOverdrawn locks a seat that is out of attempts but was never locked,
// closing any entry still waiting for a report.
func (s *service) lockOverdrawn(ctx context.Context, seat domain.Seat) error {
	now := s.now()
	next := seat.PlanLock(domain.LockReasonOverdrawn, now)
	tr := domain.SeatTransition{Prev: seat, Next: next}
	for attempt := 1; attempt <= seat.AttemptCount; attempt++ {
		e, err := s.logs.Get(ctx, seat.SeatID, attempt)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if e.Outcome == domain.OutcomePending {
			tr.Resolve = append(tr.Resolve, e.Resolve(domain.OutcomeFailure, now, domain.NoteAbandoned))
		}
	}
	if err := s.seats.Commit(ctx, tr); err != nil {
		return err
	}
	logger.WarnContext(ctx, "seat locked on issue with no attempts left", "seat_id", seat.SeatID)
	s.afterLock(ctx, next)
	return next.TerminalDenial()
}

func (s *service) ConfirmOutcome(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	for try := 0; ; try++ {
		res, err := s.tryConfirm(ctx, req)
		if !errors.Is(err, domain.ErrStaleWrite) {
			s.observeDenial(err)
			return res, err
		}
		s.obs.CommitRace("confirm")
		logger.DebugContext(ctx, "confirm lost commit race", "order_item_id", req.OrderItemID, "try", try)
		if try >= maxCommitRetries {
			err = domain.Deny(domain.ErrConflict, "seat changed concurrently, reload and retry")
			s.observeDenial(err)
			return nil, err
		}
	}
}

func (s *service) tryConfirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	seat, err := s.loadOwned(ctx, req.OrderItemID, req.CallerID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	next, outcome, err := seat.PlanConfirm(req.Success, now)
	if err != nil {
		return nil, err
	}

	entry, err := s.logs.Get(ctx, seat.SeatID, seat.AttemptCount)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if entry == nil || entry.Outcome != domain.OutcomePending {
		return nil, domain.Deny(domain.ErrConflict, "no pending code to confirm")
	}

	tr := domain.SeatTransition{
		Prev:    *seat,
		Next:    next,
		Resolve: []domain.IssuanceLogEntry{entry.Resolve(outcome, now, "")},
	}
	if err := s.seats.Commit(ctx, tr); err != nil {
		return nil, err
	}

	s.obs.Resolved(outcome)
	logger.InfoContext(ctx, "attempt confirmed",
		"seat_id", seat.SeatID,
		"attempt", seat.AttemptCount,
		"outcome", outcome,
		"state", next.State,
	)
	if next.State == domain.SeatLocked {
		s.afterLock(ctx, next)
	}
	return &ConfirmResult{
		State:             next.State,
		Success:           req.Success,
		Locked:            next.State == domain.SeatLocked,
		LockReason:        next.LockReason,
		AttemptsRemaining: next.AttemptsRemaining(),
	}, nil
}

func (s *service) Status(ctx context.Context, orderItemID, callerID string) (*StatusView, error) {
	seat, err := s.loadOwned(ctx, orderItemID, callerID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	v := &StatusView{
		State:             seat.State,
		AttemptCount:      seat.AttemptCount,
		AttemptsRemaining: seat.AttemptsRemaining(),
		Locked:            seat.State == domain.SeatLocked,
		LockReason:        seat.LockReason,
		FavorableWindowIn: passcode.SecondsUntilFavorableWindow(now),
	}
	if seat.State.Terminal() {
		v.FavorableWindowIn = 0
		return v, nil
	}
	// No further code can be issued once the attempts are spent.
	if seat.AttemptCount < domain.MaxAttempts {
		if wait, ok := checkSpacing(seat.LastCodeIssuedAt, now, MinIssueSpacing); !ok {
			v.NextIssueIn = wait
		}
	}
	if seat.AttemptCount > 0 {
		e, err := s.logs.Get(ctx, seat.SeatID, seat.AttemptCount)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		v.PendingConfirmation = e != nil && e.Outcome == domain.OutcomePending
	}
	return v, nil
}

func (s *service) loadOwned(ctx context.Context, orderItemID, callerID string) (*domain.Seat, error) {
	if callerID == "" {
		return nil, fmt.Errorf("no caller identity: %w", domain.ErrUnauthorized)
	}
	seat, err := s.seats.GetByOrderItem(ctx, orderItemID)
	if err != nil {
		return nil, err
	}
	if seat.BuyerID != callerID {
		logger.WarnContext(ctx, "seat access by non-owner", "seat_id", seat.SeatID, "caller_id", callerID)
		return nil, fmt.Errorf("seat not owned by caller: %w", domain.ErrUnauthorized)
	}
	return seat, nil
}

func (s *service) configFailure(ctx context.Context, seat *domain.Seat, err error) error {
	logger.ErrorContext(ctx, "credential secret unusable",
		"seat_id", seat.SeatID,
		"credential_id", seat.CredentialID,
		"err", err,
	)
	if errors.Is(err, domain.ErrConfiguration) {
		return err
	}
	return fmt.Errorf("resolve credential secret: %v: %w", err, domain.ErrConfiguration)
}

func (s *service) afterLock(ctx context.Context, seat domain.Seat) {
	s.obs.Locked(seat.LockReason)
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SeatLocked(ctx, seat); err != nil {
		logger.WarnContext(ctx, "lock notification failed", "seat_id", seat.SeatID, "err", err)
	}
}

func (s *service) observeDenial(err error) {
	if err == nil {
		return
	}
	for _, k := range []struct {
		err  error
		name string
	}{
		{domain.ErrUnauthorized, "unauthorized"},
		{domain.ErrForbidden, "forbidden"},
		{domain.ErrTooManyRequests, "too_many_requests"},
		{domain.ErrConflict, "conflict"},
		{domain.ErrNotFound, "not_found"},
		{domain.ErrConfiguration, "configuration"},
	} {
		if errors.Is(err, k.err) {
			s.obs.Denied(k.name)
			return
		}
	}
	s.obs.Denied("internal")
}

type nopObserver struct{}

func (nopObserver) CodeIssued(int)          {}
func (nopObserver) Denied(string)           {}
func (nopObserver) Resolved(domain.Outcome) {}
func (nopObserver) Locked(string)           {}
func (nopObserver) CommitRace(string)       {}
