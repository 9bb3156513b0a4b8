package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-seat-broker/internal/domain"
)

// Publisher posts a message to a fan-out topic.
type Publisher interface {
	Publish(ctx context.Context, subject, message string) error
}

type Mailer interface {
	SendEmail(to, subject, body string) error
}

// Notifier tells support about locked seats over every configured channel.
// A nil publisher or empty support address disables that channel.
type Notifier struct {
	topic        Publisher
	mailer       Mailer
	supportEmail string
}

func NewNotifier(topic Publisher, mailer Mailer, supportEmail string) *Notifier {
	return &Notifier{topic: topic, mailer: mailer, supportEmail: supportEmail}
}

// SeatLocked sends the lock alert. Every channel is attempted; failures are joined.
func (n *Notifier) SeatLocked(ctx context.Context, seat domain.Seat) error {
	subject := fmt.Sprintf("Seat %s locked", seat.SeatID)
	body := lockMessage(seat)

	var errs []error
	if n.topic != nil {
		if err := n.topic.Publish(ctx, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("publish lock alert: %w", err))
		}
	}
	if n.mailer != nil && n.supportEmail != "" {
		if err := n.mailer.SendEmail(n.supportEmail, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("email lock alert: %w", err))
		}
	}
	return errors.Join(errs...)
}

func lockMessage(seat domain.Seat) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Seat:       %s\n", seat.SeatID)
	fmt.Fprintf(&b, "Order item: %s\n", seat.OrderItemID)
	fmt.Fprintf(&b, "Buyer:      %s\n", seat.BuyerID)
	fmt.Fprintf(&b, "Attempts:   %d\n", seat.AttemptCount)
	fmt.Fprintf(&b, "Reason:     %s\n", seat.LockReason)
	if seat.LockedAt != nil {
		fmt.Fprintf(&b, "Locked at:  %s\n", seat.LockedAt.UTC().Format(time.RFC3339))
	}
	return b.String()
}
