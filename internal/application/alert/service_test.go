package alert

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-seat-broker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, subject, message string) error {
	return m.Called(ctx, subject, message).Error(0)
}

type mockMailer struct{ mock.Mock }

func (m *mockMailer) SendEmail(to, subject, body string) error {
	return m.Called(to, subject, body).Error(0)
}

func lockedSeat() domain.Seat {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Seat{
		SeatID:       "seat-1",
		OrderItemID:  "item-1",
		BuyerID:      "buyer-1",
		State:        domain.SeatLocked,
		AttemptCount: 2,
		LockReason:   domain.LockReasonExhausted,
		LockedAt:     &at,
	}
}

func mentionsSeat(body string) bool {
	return strings.Contains(body, "seat-1") &&
		strings.Contains(body, domain.LockReasonExhausted) &&
		strings.Contains(body, "2026-03-01T12:00:00Z")
}

func TestSeatLocked_AllChannels(t *testing.T) {
	pub := &mockPublisher{}
	mail := &mockMailer{}
	pub.On("Publish", mock.Anything, "Seat seat-1 locked", mock.MatchedBy(mentionsSeat)).Return(nil).Once()
	mail.On("SendEmail", "support@example.com", "Seat seat-1 locked", mock.MatchedBy(mentionsSeat)).Return(nil).Once()

	err := NewNotifier(pub, mail, "support@example.com").SeatLocked(context.Background(), lockedSeat())
	assert.NoError(t, err)
	pub.AssertExpectations(t)
	mail.AssertExpectations(t)
}

func TestSeatLocked_FailureDoesNotSkipOtherChannels(t *testing.T) {
	pub := &mockPublisher{}
	mail := &mockMailer{}
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("topic gone"))
	mail.On("SendEmail", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	err := NewNotifier(pub, mail, "support@example.com").SeatLocked(context.Background(), lockedSeat())
	assert.ErrorContains(t, err, "topic gone")
	mail.AssertExpectations(t)
}

func TestSeatLocked_DisabledChannels(t *testing.T) {
	mail := &mockMailer{}
	err := NewNotifier(nil, mail, "").SeatLocked(context.Background(), lockedSeat())
	assert.NoError(t, err)
	mail.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything, mock.Anything)
}
