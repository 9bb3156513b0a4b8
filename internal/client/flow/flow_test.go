package flow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-seat-broker/internal/client/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type issueReply struct {
	res *api.IssueResult
	err error
}

type confirmReply struct {
	res *api.ConfirmResult
	err error
}

type fakeBackend struct {
	wait     int
	issues   []issueReply
	confirms []confirmReply

	status    *api.Status
	statusErr error

	issueCalls   int
	confirmCalls int
	statusCalls  int
	confirmed    []bool
}

func (b *fakeBackend) Window(context.Context) (*api.Window, error) {
	return &api.Window{WaitSeconds: b.wait}, nil
}

func (b *fakeBackend) IssueCode(context.Context, string) (*api.IssueResult, error) {
	r := b.issues[b.issueCalls]
	b.issueCalls++
	return r.res, r.err
}

func (b *fakeBackend) Confirm(_ context.Context, _ string, success bool) (*api.ConfirmResult, error) {
	r := b.confirms[b.confirmCalls]
	b.confirmCalls++
	b.confirmed = append(b.confirmed, success)
	return r.res, r.err
}

func (b *fakeBackend) Status(context.Context, string) (*api.Status, error) {
	b.statusCalls++
	return b.status, b.statusErr
}

func firstCode() issueReply {
	return issueReply{res: &api.IssueResult{Code: "287082", Attempt: 1, ExpiresIn: 25}}
}

func newTestFlow(b *fakeBackend) (*Flow, *fakeClock, *[]View) {
	clock := newFakeClock()
	var views []View
	f := New(context.Background(), b, "item-1", WithClock(clock), OnChange(func(v View) {
		views = append(views, v)
	}))
	return f, clock, &views
}

func TestFlow_HappyPath(t *testing.T) {
	b := &fakeBackend{
		issues:   []issueReply{firstCode()},
		confirms: []confirmReply{{res: &api.ConfirmResult{Success: true, State: "success"}}},
	}
	f, clock, views := newTestFlow(b)

	assert.True(t, f.CanDismiss())
	require.NoError(t, f.Start())

	v := f.View()
	assert.Equal(t, CodeDisplayed, v.State)
	assert.Equal(t, "287082", v.Code)
	assert.Equal(t, 1, v.Attempt)
	assert.Equal(t, clock.Now().Add(25*time.Second), v.Deadline)
	assert.False(t, f.CanDismiss())

	require.NoError(t, f.DoneWithCode())
	assert.Equal(t, AwaitingConfirmation, f.State())
	assert.False(t, f.CanDismiss())

	require.NoError(t, f.Confirm(true))
	assert.Equal(t, Success, f.State())
	assert.True(t, f.CanDismiss())
	assert.Equal(t, []bool{true}, b.confirmed)

	var states []State
	for _, v := range *views {
		states = append(states, v.State)
	}
	assert.Equal(t, []State{WaitingForWindow, CodeDisplayed, AwaitingConfirmation, Success}, states)
}

func TestFlow_WaitsForFavorableWindow(t *testing.T) {
	b := &fakeBackend{wait: 7, issues: []issueReply{firstCode()}}
	f, clock, _ := newTestFlow(b)

	require.NoError(t, f.Start())
	v := f.View()
	assert.Equal(t, WaitingForWindow, v.State)
	assert.Equal(t, clock.Now().Add(7*time.Second), v.Deadline)
	assert.False(t, f.CanDismiss())

	clock.Advance(6 * time.Second)
	assert.Equal(t, 0, b.issueCalls)

	clock.Advance(time.Second)
	assert.Equal(t, 1, b.issueCalls)
	assert.Equal(t, CodeDisplayed, f.State())
}

func TestFlow_ExpiredCodeAsksForOutcome(t *testing.T) {
	b := &fakeBackend{issues: []issueReply{firstCode()}}
	f, clock, _ := newTestFlow(b)

	require.NoError(t, f.Start())
	clock.Advance(25 * time.Second)

	v := f.View()
	assert.Equal(t, AwaitingConfirmation, v.State)
	assert.Equal(t, "The code expired", v.Message)
	assert.Equal(t, 1, v.Attempt)
}

func TestFlow_StaleCodeTimerIsIgnored(t *testing.T) {
	b := &fakeBackend{issues: []issueReply{firstCode()}}
	f, clock, views := newTestFlow(b)

	require.NoError(t, f.Start())
	require.NoError(t, f.DoneWithCode())
	n := len(*views)

	clock.Advance(time.Minute)
	assert.Equal(t, AwaitingConfirmation, f.State())
	assert.Empty(t, f.View().Message)
	assert.Len(t, *views, n)
	assert.Equal(t, 0, clock.pending())
}

func TestFlow_FailureThenRateLimitedRetry(t *testing.T) {
	b := &fakeBackend{
		issues: []issueReply{
			firstCode(),
			{err: &api.Error{Status: 429, Kind: "too_many_requests", Recovery: api.RecoveryRetry, WaitTime: 22}},
			{res: &api.IssueResult{Code: "996554", Attempt: 2, IsFinalAttempt: true, ExpiresIn: 28}},
		},
		confirms: []confirmReply{{res: &api.ConfirmResult{State: "first_code_issued", AttemptsRemaining: 1}}},
	}
	f, clock, _ := newTestFlow(b)

	require.NoError(t, f.Start())
	require.NoError(t, f.DoneWithCode())
	require.NoError(t, f.Confirm(false))

	v := f.View()
	assert.Equal(t, FailedRetry, v.State)
	assert.Equal(t, 1, v.AttemptsRemaining)
	assert.True(t, f.CanDismiss())

	require.NoError(t, f.Start())
	v = f.View()
	assert.Equal(t, WaitingForWindow, v.State)
	assert.Equal(t, clock.Now().Add(22*time.Second), v.Deadline)
	assert.Equal(t, 2, b.issueCalls)

	clock.Advance(22 * time.Second)
	v = f.View()
	assert.Equal(t, CodeDisplayed, v.State)
	assert.Equal(t, "996554", v.Code)
	assert.Equal(t, 2, v.Attempt)
	assert.True(t, v.IsFinalAttempt)
}

func TestFlow_SecondFailureLocks(t *testing.T) {
	b := &fakeBackend{
		issues: []issueReply{{res: &api.IssueResult{Code: "111111", Attempt: 2, IsFinalAttempt: true, ExpiresIn: 20}}},
		confirms: []confirmReply{{res: &api.ConfirmResult{
			State: "locked", Locked: true, LockReason: "too_many_failed_attempts",
		}}},
	}
	f, _, _ := newTestFlow(b)

	require.NoError(t, f.Start())
	require.NoError(t, f.DoneWithCode())
	require.NoError(t, f.Confirm(false))

	v := f.View()
	assert.Equal(t, Locked, v.State)
	assert.Equal(t, "too_many_failed_attempts", v.LockReason)
	assert.Equal(t, api.RecoveryContactSupport, v.Recovery)
	assert.ErrorIs(t, f.Start(), ErrInvalidTransition)
}

func TestFlow_LockedSeatDeniedOnIssue(t *testing.T) {
	b := &fakeBackend{issues: []issueReply{{err: &api.Error{
		Status: 403, Message: "seat is locked", Kind: "forbidden",
		Recovery: api.RecoveryContactSupport, Locked: true, LockReason: "too_many_failed_attempts",
	}}}}
	f, _, _ := newTestFlow(b)

	require.NoError(t, f.Start())
	v := f.View()
	assert.Equal(t, Locked, v.State)
	assert.Equal(t, "seat is locked", v.Message)
	assert.True(t, f.CanDismiss())
}

func TestFlow_DeniedRecovery(t *testing.T) {
	t.Run("unauthorized cannot restart", func(t *testing.T) {
		b := &fakeBackend{issues: []issueReply{{err: &api.Error{Status: 401, Kind: "unauthorized"}}}}
		f, _, _ := newTestFlow(b)
		require.NoError(t, f.Start())
		assert.Equal(t, Denied, f.State())
		assert.ErrorIs(t, f.Start(), ErrInvalidTransition)
	})

	t.Run("transport error may restart", func(t *testing.T) {
		b := &fakeBackend{issues: []issueReply{{err: errors.New("connection refused")}, firstCode()}}
		f, _, _ := newTestFlow(b)
		require.NoError(t, f.Start())
		v := f.View()
		assert.Equal(t, Denied, v.State)
		assert.Equal(t, api.RecoveryRetry, v.Recovery)

		require.NoError(t, f.Start())
		assert.Equal(t, CodeDisplayed, f.State())
	})
}

func TestFlow_RateLimitedConfirmReturnsToQuestion(t *testing.T) {
	b := &fakeBackend{
		issues: []issueReply{firstCode()},
		confirms: []confirmReply{
			{err: &api.Error{Status: 429, Message: "too many requests", WaitTime: 3}},
			{res: &api.ConfirmResult{Success: true, State: "success"}},
		},
	}
	f, clock, _ := newTestFlow(b)

	require.NoError(t, f.Start())
	require.NoError(t, f.DoneWithCode())
	require.NoError(t, f.Confirm(true))
	assert.Equal(t, WaitingForWindow, f.State())
	assert.ErrorIs(t, f.Confirm(true), ErrInvalidTransition)

	clock.Advance(3 * time.Second)
	assert.Equal(t, AwaitingConfirmation, f.State())
	require.NoError(t, f.Confirm(true))
	assert.Equal(t, Success, f.State())
}

func TestFlow_CloseDiscardsLocalStateOnly(t *testing.T) {
	b := &fakeBackend{wait: 10, issues: []issueReply{firstCode()}}
	f, clock, _ := newTestFlow(b)

	require.NoError(t, f.Start())
	assert.Equal(t, 1, clock.pending())

	f.Close()
	assert.Equal(t, Idle, f.State())
	assert.Equal(t, 0, clock.pending())

	clock.Advance(time.Minute)
	assert.Equal(t, 0, b.issueCalls)
	assert.Equal(t, 0, b.confirmCalls)
	assert.ErrorIs(t, f.Start(), ErrClosed)
	assert.ErrorIs(t, f.Confirm(true), ErrClosed)
	f.Close()
}

func TestFlow_InvalidTransitions(t *testing.T) {
	b := &fakeBackend{issues: []issueReply{firstCode()}}
	f, _, _ := newTestFlow(b)

	assert.ErrorIs(t, f.DoneWithCode(), ErrInvalidTransition)
	assert.ErrorIs(t, f.Confirm(true), ErrInvalidTransition)

	require.NoError(t, f.Start())
	assert.ErrorIs(t, f.Start(), ErrInvalidTransition)
	assert.ErrorIs(t, f.Confirm(true), ErrInvalidTransition)
}

func TestFlow_FailedConfirmKeepsQuestionOpen(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "network error", err: errors.New("connection reset by peer")},
		{name: "server error", err: &api.Error{Status: 500, Message: "internal error", Kind: "internal"}},
		{name: "unauthorized", err: &api.Error{Status: 401, Message: "unauthorized", Kind: "unauthorized"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := &fakeBackend{
				issues: []issueReply{firstCode(), firstCode()},
				confirms: []confirmReply{
					{err: tc.err},
					{res: &api.ConfirmResult{Success: true, State: "success"}},
				},
			}
			f, _, _ := newTestFlow(b)

			require.NoError(t, f.Start())
			require.NoError(t, f.DoneWithCode())
			require.NoError(t, f.Confirm(true))

			v := f.View()
			assert.Equal(t, AwaitingConfirmation, v.State)
			assert.Contains(t, v.Message, "please answer again")
			assert.Equal(t, 1, v.Attempt)
			assert.False(t, f.CanDismiss())
			assert.ErrorIs(t, f.Start(), ErrInvalidTransition)
			assert.Equal(t, 1, b.issueCalls)

			require.NoError(t, f.Confirm(true))
			assert.Equal(t, Success, f.State())
			assert.Equal(t, []bool{true, true}, b.confirmed)
			assert.Equal(t, 1, b.issueCalls)
			assert.True(t, f.CanDismiss())
		})
	}
}

func TestFlow_ConflictOnConfirmResyncs(t *testing.T) {
	conflict := &api.Error{Status: 409, Message: "seat changed concurrently, reload and retry", Kind: "conflict", Recovery: api.RecoveryReload}

	t.Run("still pending asks again", func(t *testing.T) {
		b := &fakeBackend{
			issues:   []issueReply{firstCode()},
			confirms: []confirmReply{{err: conflict}},
			status:   &api.Status{State: "first_code_issued", AttemptCount: 1, AttemptsRemaining: 1, PendingConfirmation: true},
		}
		f, _, _ := newTestFlow(b)
		require.NoError(t, f.Start())
		require.NoError(t, f.DoneWithCode())
		require.NoError(t, f.Confirm(false))

		assert.Equal(t, AwaitingConfirmation, f.State())
		assert.Equal(t, 1, b.statusCalls)
		assert.False(t, f.CanDismiss())
	})

	t.Run("already succeeded", func(t *testing.T) {
		b := &fakeBackend{
			issues:   []issueReply{firstCode()},
			confirms: []confirmReply{{err: conflict}},
			status:   &api.Status{State: "success", AttemptCount: 1, AttemptsRemaining: 1},
		}
		f, _, _ := newTestFlow(b)
		require.NoError(t, f.Start())
		require.NoError(t, f.DoneWithCode())
		require.NoError(t, f.Confirm(true))

		assert.Equal(t, Success, f.State())
		assert.True(t, f.CanDismiss())
	})

	t.Run("failure already recorded", func(t *testing.T) {
		b := &fakeBackend{
			issues:   []issueReply{firstCode()},
			confirms: []confirmReply{{err: conflict}},
			status:   &api.Status{State: "first_code_issued", AttemptCount: 1, AttemptsRemaining: 1},
		}
		f, _, _ := newTestFlow(b)
		require.NoError(t, f.Start())
		require.NoError(t, f.DoneWithCode())
		require.NoError(t, f.Confirm(false))

		v := f.View()
		assert.Equal(t, FailedRetry, v.State)
		assert.Equal(t, 1, v.AttemptsRemaining)
		assert.True(t, f.CanDismiss())
	})

	t.Run("status unavailable asks again", func(t *testing.T) {
		b := &fakeBackend{
			issues:    []issueReply{firstCode()},
			confirms:  []confirmReply{{err: conflict}},
			statusErr: errors.New("timeout"),
		}
		f, _, _ := newTestFlow(b)
		require.NoError(t, f.Start())
		require.NoError(t, f.DoneWithCode())
		require.NoError(t, f.Confirm(true))

		assert.Equal(t, AwaitingConfirmation, f.State())
		assert.False(t, f.CanDismiss())
	})
}

func TestFlow_LockedOnConfirmEndsQuestion(t *testing.T) {
	b := &fakeBackend{
		issues: []issueReply{firstCode()},
		confirms: []confirmReply{{err: &api.Error{
			Status: 409, Kind: "conflict", Message: "seat is locked, contact support",
			Recovery: api.RecoveryContactSupport, Locked: true, LockReason: "max attempts exhausted",
		}}},
	}
	f, _, _ := newTestFlow(b)
	require.NoError(t, f.Start())
	require.NoError(t, f.DoneWithCode())
	require.NoError(t, f.Confirm(false))

	v := f.View()
	assert.Equal(t, Locked, v.State)
	assert.Equal(t, "max attempts exhausted", v.LockReason)
	assert.Equal(t, 0, b.statusCalls)
	assert.True(t, f.CanDismiss())
}
