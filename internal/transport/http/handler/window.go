package handler

import (
	"net/http"
	"time"

	"github.com/go-seat-broker/internal/pkg/passcode"
)

// WindowHandler tells clients where the server clock sits in the passcode step.
type WindowHandler struct {
	now func() time.Time
}

func NewWindowHandler(now func() time.Time) *WindowHandler {
	if now == nil {
		now = time.Now
	}
	return &WindowHandler{now: now}
}

func (h *WindowHandler) Get(w http.ResponseWriter, _ *http.Request) {
	now := h.now().UTC()
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, WindowEnvelope{
		WaitSeconds: passcode.SecondsUntilFavorableWindow(now),
		ExpiresIn:   passcode.ExpiresIn(now),
		ServerTime:  now,
	})
}
