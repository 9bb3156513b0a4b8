package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-seat-broker/internal/domain"
	"github.com/go-seat-broker/internal/pkg/id"
	"github.com/go-seat-broker/internal/pkg/logger"
)

type SeatReader interface {
	Get(ctx context.Context, seatID string) (*domain.Seat, error)
}

type LogReader interface {
	ListBySeat(ctx context.Context, seatID string) ([]domain.IssuanceLogEntry, error)
}

// ObjectStore receives exported trails.
type ObjectStore interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

const downloadLinkTTL = 15 * time.Minute

// Trail is a seat together with its full issuance history.
type Trail struct {
	Seat       domain.Seat               `json:"seat"`
	Entries    []domain.IssuanceLogEntry `json:"entries"`
	ExportedAt time.Time                 `json:"exported_at"`
}

type ExportResult struct {
	Key         string `json:"key"`
	Location    string `json:"location"`
	DownloadURL string `json:"download_url,omitempty"`
}

type Service interface {
	Trail(ctx context.Context, seatID string) (*Trail, error)
	Export(ctx context.Context, seatID string) (*ExportResult, error)
}

type service struct {
	seats SeatReader
	logs  LogReader
	store ObjectStore
	now   func() time.Time
}

func NewService(seats SeatReader, logs LogReader, store ObjectStore) Service {
	return &service{seats: seats, logs: logs, store: store, now: time.Now}
}

func (s *service) Trail(ctx context.Context, seatID string) (*Trail, error) {
	seat, err := s.seats.Get(ctx, seatID)
	if err != nil {
		return nil, err
	}
	entries, err := s.logs.ListBySeat(ctx, seatID)
	if err != nil {
		return nil, fmt.Errorf("list issuance log: %w", err)
	}
	return &Trail{Seat: *seat, Entries: entries, ExportedAt: s.now().UTC()}, nil
}

// Export writes the trail as JSON under audit/<seat>/<ulid>.json.
func (s *service) Export(ctx context.Context, seatID string) (*ExportResult, error) {
	trail, err := s.Trail(ctx, seatID)
	if err != nil {
		return nil, err
	}
	body, err := json.MarshalIndent(trail, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode trail: %w", err)
	}
	key := fmt.Sprintf("audit/%s/%s.json", seatID, id.New())
	loc, err := s.store.Upload(ctx, key, bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}
	res := &ExportResult{Key: key, Location: loc}
	// A failed presign still returns the stored export.
	if url, err := s.store.PresignedURL(ctx, key, downloadLinkTTL); err == nil {
		res.DownloadURL = url
	} else {
		logger.WarnContext(ctx, "presign audit export failed", "key", key, "err", err)
	}
	return res, nil
}
