package handler

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-seat-broker/internal/application/access"
	"github.com/go-seat-broker/internal/domain"
	jwtinfra "github.com/go-seat-broker/internal/infrastructure/jwt"
	"github.com/go-seat-broker/internal/transport/http/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mock ---

type mockAccessSvc struct{ mock.Mock }

func (m *mockAccessSvc) IssueCode(ctx context.Context, req access.IssueRequest) (*access.IssueResult, error) {
	args := m.Called(ctx, req)
	if r, _ := args.Get(0).(*access.IssueResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAccessSvc) ConfirmOutcome(ctx context.Context, req access.ConfirmRequest) (*access.ConfirmResult, error) {
	args := m.Called(ctx, req)
	if r, _ := args.Get(0).(*access.ConfirmResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAccessSvc) Status(ctx context.Context, orderItemID, callerID string) (*access.StatusView, error) {
	args := m.Called(ctx, orderItemID, callerID)
	if v, _ := args.Get(0).(*access.StatusView); v != nil {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

// --- helpers ---

// newTestJWTProvider generates a fresh RSA key pair and returns a *jwtinfra.Provider.
func newTestJWTProvider(t *testing.T) *jwtinfra.Provider {
	t.Helper()
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return jwtinfra.NewProviderFromKeys(privKey, nil, 24*time.Hour)
}

// bearerReq builds a request with a signed Bearer token for the given userID and role.
func bearerReq(t *testing.T, p *jwtinfra.Provider, method, target, userID, role string, body []byte) *http.Request {
	t.Helper()
	token, err := p.Sign(userID, role)
	require.NoError(t, err)
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

// withChiParam injects a chi URL param into the request context.
func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// serveAuthed wraps the handler with middleware.Auth before serving.
func serveAuthed(p *jwtinfra.Provider, h http.Handler, w http.ResponseWriter, r *http.Request) {
	middleware.Auth(p)(h).ServeHTTP(w, r)
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorEnvelope {
	t.Helper()
	var env ErrorEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&env))
	return env
}

// --- IssueCode ---

func TestIssueCode_MissingClaims(t *testing.T) {
	h := NewSeatHandler(&mockAccessSvc{})
	r := withChiParam(httptest.NewRequest(http.MethodPost, "/v1/seats/item-1/code", nil), "orderItemID", "item-1")
	rr := httptest.NewRecorder()
	h.IssueCode(rr, r)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestIssueCode_HappyPath(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockAccessSvc{}
	svc.On("IssueCode", mock.Anything, access.IssueRequest{
		OrderItemID: "item-1",
		CallerID:    "buyer-1",
		Requester:   domain.RequesterMeta{RemoteIP: "203.0.113.7", UserAgent: "seatctl/1"},
	}).Return(&access.IssueResult{Code: "287082", Attempt: 1, ExpiresIn: 22}, nil)
	h := NewSeatHandler(svc)

	r := bearerReq(t, p, http.MethodPost, "/v1/seats/item-1/code", "buyer-1", domain.RoleBuyer, nil)
	r.RemoteAddr = "203.0.113.7:40100"
	r.Header.Set("X-Forwarded-For", "198.51.100.9")
	r.Header.Set("User-Agent", "seatctl/1")
	r = withChiParam(r, "orderItemID", "item-1")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.IssueCode), rr, r)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"code":"287082","attempt":1,"is_final_attempt":false,"expires_in":22}`, rr.Body.String())
	svc.AssertExpectations(t)
}

func TestIssueCode_RateLimited(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockAccessSvc{}
	svc.On("IssueCode", mock.Anything, mock.Anything).Return(nil, &domain.DenialError{
		Kind:        domain.ErrTooManyRequests,
		Message:     "wait 12 seconds before requesting another code",
		WaitSeconds: 12,
	})
	h := NewSeatHandler(svc)

	r := withChiParam(bearerReq(t, p, http.MethodPost, "/v1/seats/item-1/code", "buyer-1", domain.RoleBuyer, nil), "orderItemID", "item-1")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.IssueCode), rr, r)

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "12", rr.Header().Get("Retry-After"))
	env := decodeError(t, rr)
	assert.Equal(t, "too_many_requests", env.Kind)
	assert.Equal(t, domain.RecoveryRetry, env.Recovery)
	assert.Equal(t, 12, env.WaitTime)
	assert.Equal(t, "wait 12 seconds before requesting another code", env.Error)
}

func TestIssueCode_Locked(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockAccessSvc{}
	locked := domain.Seat{State: domain.SeatLocked, LockReason: domain.LockReasonExhausted}
	svc.On("IssueCode", mock.Anything, mock.Anything).Return(nil, locked.TerminalDenial())
	h := NewSeatHandler(svc)

	r := withChiParam(bearerReq(t, p, http.MethodPost, "/v1/seats/item-1/code", "buyer-1", domain.RoleBuyer, nil), "orderItemID", "item-1")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.IssueCode), rr, r)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	env := decodeError(t, rr)
	assert.True(t, env.Locked)
	assert.Equal(t, domain.LockReasonExhausted, env.LockReason)
	assert.Equal(t, domain.RecoveryContactSupport, env.Recovery)
}

func TestIssueCode_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"not owner", fmt.Errorf("seat not owned by caller: %w", domain.ErrUnauthorized), http.StatusUnauthorized, "unauthorized"},
		{"unknown seat", fmt.Errorf("no seat for order item: %w", domain.ErrNotFound), http.StatusNotFound, "not_found"},
		{"lost race", domain.Deny(domain.ErrConflict, "seat changed concurrently, reload and retry"), http.StatusConflict, "conflict"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestJWTProvider(t)
			svc := &mockAccessSvc{}
			svc.On("IssueCode", mock.Anything, mock.Anything).Return(nil, tt.err)
			h := NewSeatHandler(svc)

			r := withChiParam(bearerReq(t, p, http.MethodPost, "/v1/seats/item-1/code", "buyer-1", domain.RoleBuyer, nil), "orderItemID", "item-1")
			rr := httptest.NewRecorder()
			serveAuthed(p, http.HandlerFunc(h.IssueCode), rr, r)

			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.kind, decodeError(t, rr).Kind)
		})
	}
}

func TestIssueCode_ConfigurationErrorIsOpaque(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockAccessSvc{}
	svc.On("IssueCode", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("credential cred-7: illegal base32 data: %w", domain.ErrConfiguration))
	h := NewSeatHandler(svc)

	r := withChiParam(bearerReq(t, p, http.MethodPost, "/v1/seats/item-1/code", "buyer-1", domain.RoleBuyer, nil), "orderItemID", "item-1")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.IssueCode), rr, r)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "cred-7")
	assert.NotContains(t, rr.Body.String(), "base32")
	assert.Equal(t, "configuration", decodeError(t, rr).Kind)
}

// --- Confirm ---

func TestConfirm_InvalidBody(t *testing.T) {
	p := newTestJWTProvider(t)
	h := NewSeatHandler(&mockAccessSvc{})
	r := withChiParam(bearerReq(t, p, http.MethodPost, "/v1/seats/item-1/confirm", "buyer-1", domain.RoleBuyer, []byte("not-json")), "orderItemID", "item-1")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Confirm), rr, r)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestConfirm_MissingSuccessField(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockAccessSvc{}
	h := NewSeatHandler(svc)
	r := withChiParam(bearerReq(t, p, http.MethodPost, "/v1/seats/item-1/confirm", "buyer-1", domain.RoleBuyer, []byte(`{}`)), "orderItemID", "item-1")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Confirm), rr, r)

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	svc.AssertNotCalled(t, "ConfirmOutcome", mock.Anything, mock.Anything)
}

func TestConfirm_Success(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockAccessSvc{}
	svc.On("ConfirmOutcome", mock.Anything, access.ConfirmRequest{OrderItemID: "item-1", CallerID: "buyer-1", Success: true}).
		Return(&access.ConfirmResult{State: domain.SeatSuccess, Success: true}, nil)
	h := NewSeatHandler(svc)

	r := withChiParam(bearerReq(t, p, http.MethodPost, "/v1/seats/item-1/confirm", "buyer-1", domain.RoleBuyer, []byte(`{"success":true}`)), "orderItemID", "item-1")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Confirm), rr, r)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"state":"success","locked":false}`, rr.Body.String())
	svc.AssertExpectations(t)
}

func TestConfirm_FailureReportsRemaining(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockAccessSvc{}
	svc.On("ConfirmOutcome", mock.Anything, access.ConfirmRequest{OrderItemID: "item-1", CallerID: "buyer-1", Success: false}).
		Return(&access.ConfirmResult{State: domain.SeatFirstCodeIssued, AttemptsRemaining: 1}, nil)
	h := NewSeatHandler(svc)

	r := withChiParam(bearerReq(t, p, http.MethodPost, "/v1/seats/item-1/confirm", "buyer-1", domain.RoleBuyer, []byte(`{"success":false}`)), "orderItemID", "item-1")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Confirm), rr, r)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":false,"state":"first_code_issued","locked":false,"attempts_remaining":1}`, rr.Body.String())
}

func TestConfirm_FailureLocks(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockAccessSvc{}
	svc.On("ConfirmOutcome", mock.Anything, mock.Anything).
		Return(&access.ConfirmResult{State: domain.SeatLocked, Locked: true, LockReason: domain.LockReasonExhausted}, nil)
	h := NewSeatHandler(svc)

	r := withChiParam(bearerReq(t, p, http.MethodPost, "/v1/seats/item-1/confirm", "buyer-1", domain.RoleBuyer, []byte(`{"success":false}`)), "orderItemID", "item-1")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Confirm), rr, r)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":false,"state":"locked","locked":true,"lock_reason":"max attempts exhausted","attempts_remaining":0}`, rr.Body.String())
}

func TestConfirm_NothingPending(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockAccessSvc{}
	svc.On("ConfirmOutcome", mock.Anything, mock.Anything).Return(nil, domain.Deny(domain.ErrConflict, "no pending code to confirm"))
	h := NewSeatHandler(svc)

	r := withChiParam(bearerReq(t, p, http.MethodPost, "/v1/seats/item-1/confirm", "buyer-1", domain.RoleBuyer, []byte(`{"success":true}`)), "orderItemID", "item-1")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Confirm), rr, r)

	assert.Equal(t, http.StatusConflict, rr.Code)
	env := decodeError(t, rr)
	assert.Equal(t, domain.RecoveryReload, env.Recovery)
	assert.Equal(t, "no pending code to confirm", env.Error)
}

// --- Status ---

func TestStatus_HappyPath(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockAccessSvc{}
	svc.On("Status", mock.Anything, "item-1", "buyer-1").Return(&access.StatusView{
		State:               domain.SeatFirstCodeIssued,
		AttemptCount:        1,
		AttemptsRemaining:   1,
		PendingConfirmation: true,
		NextIssueIn:         7,
	}, nil)
	h := NewSeatHandler(svc)

	r := withChiParam(bearerReq(t, p, http.MethodGet, "/v1/seats/item-1", "buyer-1", domain.RoleBuyer, nil), "orderItemID", "item-1")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Status), rr, r)

	require.Equal(t, http.StatusOK, rr.Code)
	var env StatusEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&env))
	assert.Equal(t, domain.SeatFirstCodeIssued, env.State)
	assert.True(t, env.PendingConfirmation)
	assert.Equal(t, 7, env.NextIssueIn)
	svc.AssertExpectations(t)
}
