package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/relaypost/apiserver/types"
)

// ExchangeRepository handles persistence for proxied exchanges.
type ExchangeRepository struct {
	db *sql.DB
}

func NewExchangeRepository(db *sql.DB) *ExchangeRepository {
	return &ExchangeRepository{db: db}
}

func (r *ExchangeRepository) Create(ctx context.Context, exchange types.Exchange) (types.Exchange, error) {
	exchange.Timestamp = time.Now()

	headersJSON, err := json.Marshal(exchange.Headers)
	if err != nil {
		return types.Exchange{}, err
	}
	responseHeadersJSON, err := json.Marshal(exchange.ResponseHeaders)
	if err != nil {
		return types.Exchange{}, err
	}

	const query = `
		INSERT INTO exchanges (
			user_id, url, method, headers, body,
			response_status, response_headers, response_data, archive_key, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		exchange.UserID,
		exchange.URL,
		exchange.Method,
		headersJSON,
		normalizeJSON(exchange.Body),
		exchange.ResponseStatus,
		responseHeadersJSON,
		normalizeJSON(exchange.ResponseData),
		exchange.ArchiveKey,
		exchange.Timestamp,
	).Scan(&exchange.ID); err != nil {
		return types.Exchange{}, err
	}
	return exchange, nil
}

// RecentByUser returns at most limit exchanges owned by userID, newest first.
func (r *ExchangeRepository) RecentByUser(ctx context.Context, userID int, limit int) ([]types.Exchange, error) {
	if limit < 1 {
		limit = 10
	}

	const query = `
		SELECT id, user_id, url, method, headers, body,
		       response_status, response_headers, response_data, archive_key, created_at
		FROM exchanges
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exchanges := make([]types.Exchange, 0, limit)
	for rows.Next() {
		exchange, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		exchanges = append(exchanges, exchange)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return exchanges, nil
}

// GetForUser fetches one exchange by id, scoped to its owner. Another
// user's exchange is reported as ErrNotFound rather than revealed.
func (r *ExchangeRepository) GetForUser(ctx context.Context, id int64, userID int) (types.Exchange, error) {
	const query = `
		SELECT id, user_id, url, method, headers, body,
		       response_status, response_headers, response_data, archive_key, created_at
		FROM exchanges
		WHERE id = $1 AND user_id = $2`
	row := r.db.QueryRowContext(ctx, query, id, userID)
	exchange, err := scanExchange(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Exchange{}, ErrNotFound
		}
		return types.Exchange{}, err
	}
	return exchange, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExchange(row rowScanner) (types.Exchange, error) {
	var exchange types.Exchange
	var headersJSON, bodyJSON, responseHeadersJSON, responseDataJSON []byte
	if err := row.Scan(
		&exchange.ID,
		&exchange.UserID,
		&exchange.URL,
		&exchange.Method,
		&headersJSON,
		&bodyJSON,
		&exchange.ResponseStatus,
		&responseHeadersJSON,
		&responseDataJSON,
		&exchange.ArchiveKey,
		&exchange.Timestamp,
	); err != nil {
		return types.Exchange{}, err
	}

	if err := json.Unmarshal(headersJSON, &exchange.Headers); err != nil {
		return types.Exchange{}, err
	}
	if err := json.Unmarshal(responseHeadersJSON, &exchange.ResponseHeaders); err != nil {
		return types.Exchange{}, err
	}
	exchange.Body = json.RawMessage(bodyJSON)
	exchange.ResponseData = json.RawMessage(responseDataJSON)
	return exchange, nil
}

func normalizeJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte(`{}`)
	}
	return raw
}
