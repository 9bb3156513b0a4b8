// Package flow drives one buyer session against the broker: wait for a good
// issuance window, show the code while it is live, then collect the buyer's
// answer to "did it work?".
//
// All timers belong to the session. Close drops them together with the local
// view and never talks to the server; the seat stays as last committed.
package flow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-seat-broker/internal/client/api"
)

type State string

const (
	Idle                 State = "idle"
	WaitingForWindow     State = "waiting_for_window"
	CodeDisplayed        State = "code_displayed"
	AwaitingConfirmation State = "awaiting_confirmation"
	Success              State = "success"
	FailedRetry          State = "failed_retry"
	Locked               State = "locked"
	Denied               State = "denied"
)

var (
	ErrClosed            = errors.New("flow closed")
	ErrInvalidTransition = errors.New("invalid transition")
)

// Backend is the part of the broker API the flow calls.
type Backend interface {
	Window(ctx context.Context) (*api.Window, error)
	IssueCode(ctx context.Context, orderItemID string) (*api.IssueResult, error)
	Confirm(ctx context.Context, orderItemID string, success bool) (*api.ConfirmResult, error)
	Status(ctx context.Context, orderItemID string) (*api.Status, error)
}

type Timer interface {
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// View is what a front end renders. Deadline is the end of the current wait
// or of the displayed code's life; it is display only.
type View struct {
	State             State
	Code              string
	Attempt           int
	IsFinalAttempt    bool
	Deadline          time.Time
	AttemptsRemaining int
	LockReason        string
	Message           string
	Recovery          string
}

type Option func(*Flow)

func WithClock(c Clock) Option { return func(f *Flow) { f.clock = c } }

// OnChange registers fn to receive every new view. fn runs without the flow's
// lock held and may call back into the flow.
func OnChange(fn func(View)) Option { return func(f *Flow) { f.onChange = fn } }

type Flow struct {
	backend     Backend
	clock       Clock
	orderItemID string
	onChange    func(View)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	view     View
	attempt  int
	final    bool
	gen      uint64
	timer    Timer
	inflight bool
	owed     bool // an issued code still waits for the buyer's answer
	dirty    bool
	closed   bool
}

func New(parent context.Context, backend Backend, orderItemID string, opts ...Option) *Flow {
	ctx, cancel := context.WithCancel(parent)
	f := &Flow{
		backend:     backend,
		clock:       systemClock{},
		orderItemID: orderItemID,
		ctx:         ctx,
		cancel:      cancel,
		view:        View{State: Idle},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view.State
}

func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

// CanDismiss is false while a wait is pending, while a code is live and while
// the buyer still owes an answer.
func (f *Flow) CanDismiss() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owed {
		return false
	}
	switch f.view.State {
	case WaitingForWindow, CodeDisplayed, AwaitingConfirmation:
		return false
	}
	return true
}

// Start asks for a code. It waits for the advisory issuance window first;
// when the window is already open the code is requested before Start returns.
func (f *Flow) Start() error {
	f.mu.Lock()
	if err := f.startable(); err != nil {
		f.mu.Unlock()
		return err
	}
	g := f.enter(View{State: WaitingForWindow})
	f.unlockAndNotify()

	var wait time.Duration
	if w, err := f.backend.Window(f.ctx); err == nil && w.WaitSeconds > 0 {
		wait = time.Duration(w.WaitSeconds) * time.Second
	}
	if wait == 0 {
		f.issue(g)
		return nil
	}

	f.mu.Lock()
	if f.current(g) {
		f.view.Deadline = f.clock.Now().Add(wait)
		f.dirty = true
		f.timer = f.clock.AfterFunc(wait, func() { f.issue(g) })
	}
	f.unlockAndNotify()
	return nil
}

// DoneWithCode records that the buyer has used the code and must now answer.
func (f *Flow) DoneWithCode() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.view.State != CodeDisplayed {
		s := f.view.State
		f.mu.Unlock()
		return fmt.Errorf("%w: done from %s", ErrInvalidTransition, s)
	}
	f.enter(View{State: AwaitingConfirmation})
	f.unlockAndNotify()
	return nil
}

// Confirm reports the buyer's outcome to the server. Server denials are
// reflected in the view rather than returned.
func (f *Flow) Confirm(success bool) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.view.State != AwaitingConfirmation || f.inflight {
		s := f.view.State
		f.mu.Unlock()
		return fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, s)
	}
	f.inflight = true
	f.mu.Unlock()

	res, err := f.backend.Confirm(f.ctx, f.orderItemID, success)
	var st *api.Status
	var stErr error
	if isConflict(err) {
		st, stErr = f.backend.Status(f.ctx, f.orderItemID)
	}

	f.mu.Lock()
	f.inflight = false
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	switch {
	case err == nil:
		f.confirmed(res)
	case isConflict(err) && stErr == nil:
		f.resync(st, err)
	default:
		f.confirmFailed(err)
	}
	f.unlockAndNotify()
	return nil
}

func (f *Flow) confirmed(res *api.ConfirmResult) {
	f.owed = false
	switch {
	case res.Success:
		f.enter(View{State: Success})
	case res.Locked:
		f.enter(View{State: Locked, LockReason: res.LockReason, Recovery: api.RecoveryContactSupport})
	default:
		f.enter(View{State: FailedRetry, AttemptsRemaining: res.AttemptsRemaining, Recovery: api.RecoveryRetry})
	}
}

// confirmFailed keeps the question open. Only a lock ends it; a rate limit
// asks again after the server's wait. Callers hold mu.
func (f *Flow) confirmFailed(err error) {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && (apiErr.Locked || apiErr.RateLimited()) {
		if apiErr.Locked {
			f.owed = false
		}
		f.fail(err, f.awaitConfirmation)
		return
	}
	msg := err.Error()
	if apiErr != nil && apiErr.Message != "" {
		msg = apiErr.Message
	}
	f.enter(View{
		State:    AwaitingConfirmation,
		Message:  "Could not report the outcome (" + msg + "), please answer again",
		Recovery: api.RecoveryRetry,
	})
}

// resync settles a confirm the server rejected as out of date, using the
// seat's current status. Callers hold mu.
func (f *Flow) resync(st *api.Status, cause error) {
	switch {
	case st.PendingConfirmation:
		f.confirmFailed(cause)
		return
	case st.Locked:
		f.owed = false
		f.enter(View{State: Locked, LockReason: st.LockReason, Recovery: api.RecoveryContactSupport})
	case st.State == string(Success):
		f.owed = false
		f.enter(View{State: Success})
	default:
		f.owed = false
		f.enter(View{
			State:             FailedRetry,
			AttemptsRemaining: st.AttemptsRemaining,
			Message:           "The outcome was already recorded",
			Recovery:          api.RecoveryRetry,
		})
	}
}

func isConflict(err error) bool {
	var apiErr *api.Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict && !apiErr.Locked
}

// Close discards timers and local state. It never calls the server.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.stopTimer()
	f.gen++
	f.view = View{State: Idle}
	f.attempt, f.final = 0, false
	f.owed = false
	f.cancel()
}

func (f *Flow) startable() error {
	if f.closed {
		return ErrClosed
	}
	if f.owed {
		return fmt.Errorf("%w: attempt %d still needs an answer", ErrInvalidTransition, f.attempt)
	}
	switch f.view.State {
	case Idle, FailedRetry:
		return nil
	case Denied:
		if f.view.Recovery == api.RecoveryRetry || f.view.Recovery == api.RecoveryReload {
			return nil
		}
	}
	return fmt.Errorf("%w: start from %s", ErrInvalidTransition, f.view.State)
}

func (f *Flow) issue(g uint64) {
	f.mu.Lock()
	if !f.current(g) {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	res, err := f.backend.IssueCode(f.ctx, f.orderItemID)

	f.mu.Lock()
	if !f.current(g) {
		f.mu.Unlock()
		return
	}
	if err != nil {
		f.fail(err, f.issue)
		f.unlockAndNotify()
		return
	}
	f.attempt, f.final = res.Attempt, res.IsFinalAttempt
	f.owed = true
	life := time.Duration(res.ExpiresIn) * time.Second
	next := f.enter(View{State: CodeDisplayed, Code: res.Code, Deadline: f.clock.Now().Add(life)})
	f.timer = f.clock.AfterFunc(life, func() { f.codeExpired(next) })
	f.unlockAndNotify()
}

func (f *Flow) codeExpired(g uint64) {
	f.mu.Lock()
	if f.current(g) && f.view.State == CodeDisplayed {
		f.enter(View{State: AwaitingConfirmation, Message: "The code expired"})
	}
	f.unlockAndNotify()
}

func (f *Flow) awaitConfirmation(g uint64) {
	f.mu.Lock()
	if f.current(g) {
		f.enter(View{State: AwaitingConfirmation})
	}
	f.unlockAndNotify()
}

// fail maps a server error onto the view. A rate limit waits the server's
// wait and then runs retry. Callers hold mu.
func (f *Flow) fail(err error, retry func(uint64)) {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		f.enter(View{State: Denied, Message: err.Error(), Recovery: api.RecoveryRetry})
		return
	}
	switch {
	case apiErr.RateLimited():
		wait := time.Duration(apiErr.WaitTime) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		g := f.enter(View{State: WaitingForWindow, Deadline: f.clock.Now().Add(wait), Message: apiErr.Message})
		f.timer = f.clock.AfterFunc(wait, func() { retry(g) })
	case apiErr.Locked:
		f.enter(View{
			State:      Locked,
			LockReason: apiErr.LockReason,
			Message:    apiErr.Message,
			Recovery:   api.RecoveryContactSupport,
		})
	default:
		f.enter(View{State: Denied, Message: apiErr.Message, Recovery: apiErr.Recovery})
	}
}

// enter replaces the view and invalidates any running timer. It returns the
// generation that timers armed for the new state must carry.
func (f *Flow) enter(v View) uint64 {
	f.stopTimer()
	f.gen++
	if v.Attempt == 0 {
		v.Attempt, v.IsFinalAttempt = f.attempt, f.final
	}
	f.view = v
	f.dirty = true
	return f.gen
}

func (f *Flow) stopTimer() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

func (f *Flow) current(g uint64) bool {
	return !f.closed && f.gen == g
}

func (f *Flow) unlockAndNotify() {
	dirty := f.dirty
	f.dirty = false
	v := f.view
	f.mu.Unlock()
	if dirty && f.onChange != nil {
		f.onChange(v)
	}
}
