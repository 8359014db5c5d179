package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/relaypost/apiserver/internal/events"
	"github.com/relaypost/apiserver/internal/storage"
	"github.com/relaypost/apiserver/types"
)

const (
	// defaultHistoryLimit caps how many exchanges a history query returns.
	defaultHistoryLimit = 10

	// recordedChannel is the broker channel for exchange-recorded events.
	recordedChannel = "exchange.recorded"
)

// ExchangeRepository defines persistence operations for exchanges.
type ExchangeRepository interface {
	Create(ctx context.Context, exchange types.Exchange) (types.Exchange, error)
	RecentByUser(ctx context.Context, userID int, limit int) ([]types.Exchange, error)
	GetForUser(ctx context.Context, id int64, userID int) (types.Exchange, error)
}

// ExchangeService is the history ledger: it persists completed
// exchanges, answers owner-scoped recency queries, offloads oversized
// response bodies to object storage, and emits recorded events.
type ExchangeService struct {
	repo      ExchangeRepository
	archive   *storage.Storage
	publisher *events.Events
	maxInline int64
	logger    *slog.Logger
}

// NewExchangeService constructs the service. archive and publisher are
// optional; pass nil to disable body archiving or event publishing.
func NewExchangeService(repo ExchangeRepository, archive *storage.Storage, publisher *events.Events, maxInlineBytes int64, logger *slog.Logger) *ExchangeService {
	if logger == nil {
		logger = slog.Default()
	}
	if maxInlineBytes <= 0 {
		maxInlineBytes = 64 << 10
	}
	return &ExchangeService{
		repo:      repo,
		archive:   archive,
		publisher: publisher,
		maxInline: maxInlineBytes,
		logger:    logger,
	}
}

// archiveStub replaces an offloaded response body in the history row.
type archiveStub struct {
	Archived bool   `json:"archived"`
	Key      string `json:"key"`
	Size     int64  `json:"size"`
}

// Record persists one completed exchange. Oversized response bodies are
// archived first when a storage backend is configured; archive failures
// fall back to storing the body inline. Event publishing is best-effort
// and never fails the call.
func (s *ExchangeService) Record(ctx context.Context, exchange types.Exchange) (types.Exchange, error) {
	if s.archive != nil && int64(len(exchange.ResponseData)) > s.maxInline {
		key := fmt.Sprintf("exchanges/%d/%s", exchange.UserID, newArchiveKey())
		size := int64(len(exchange.ResponseData))
		err := s.archive.Put(ctx, key, bytes.NewReader(exchange.ResponseData), size, "application/json")
		if err != nil {
			s.logger.Error("failed to archive response body", "key", key, "error", err)
		} else {
			stub, marshalErr := json.Marshal(archiveStub{Archived: true, Key: key, Size: size})
			if marshalErr == nil {
				exchange.ArchiveKey = key
				exchange.ResponseData = stub
			}
		}
	}

	created, err := s.repo.Create(ctx, exchange)
	if err != nil {
		return types.Exchange{}, err
	}

	s.publishRecorded(ctx, created)
	return created, nil
}

// RecentFor returns the newest exchanges owned by userID, most recent
// first. limit is clamped to the history cap; it never exposes another
// user's records.
func (s *ExchangeService) RecentFor(ctx context.Context, userID int, limit int) ([]types.Exchange, error) {
	if limit < 1 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}
	return s.repo.RecentByUser(ctx, userID, limit)
}

// ResponseBody streams the stored response body of one exchange,
// scoped to its owner. Archived bodies are read back from object
// storage; inline bodies are served directly.
func (s *ExchangeService) ResponseBody(ctx context.Context, id int64, userID int) (io.ReadCloser, error) {
	exchange, err := s.repo.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	if exchange.ArchiveKey != "" && s.archive != nil {
		return s.archive.Get(ctx, exchange.ArchiveKey)
	}
	return io.NopCloser(bytes.NewReader(exchange.ResponseData)), nil
}

// recordedEvent is the payload published after a successful Record.
type recordedEvent struct {
	ID             int64  `json:"id"`
	UserID         int    `json:"user"`
	URL            string `json:"url"`
	Method         string `json:"method"`
	ResponseStatus int    `json:"responseStatus"`
}

func (s *ExchangeService) publishRecorded(ctx context.Context, exchange types.Exchange) {
	if s.publisher == nil {
		return
	}

	payload, err := json.Marshal(recordedEvent{
		ID:             exchange.ID,
		UserID:         exchange.UserID,
		URL:            exchange.URL,
		Method:         exchange.Method,
		ResponseStatus: exchange.ResponseStatus,
	})
	if err != nil {
		s.logger.Error("failed to marshal recorded event", "exchange_id", exchange.ID, "error", err)
		return
	}

	attrs := map[string]string{"user": strconv.Itoa(exchange.UserID)}
	if _, err := s.publisher.Publish(ctx, recordedChannel, payload, attrs); err != nil {
		s.logger.Error("failed to publish recorded event", "exchange_id", exchange.ID, "error", err)
	}
}

func newArchiveKey() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "unkeyed"
	}
	return hex.EncodeToString(buf[:])
}
