package types

import (
	"encoding/json"
	"time"
)

// Exchange is the record of one proxied request/response pair. It is
// write-once: created immediately after a forward completes and never
// mutated afterwards.
type Exchange struct {
	// ID is the unique identifier of the exchange.
	ID int64 `json:"id" db:"id"`

	// UserID references the single user who initiated the exchange.
	// Every exchange belongs to exactly one user.
	UserID int `json:"user" db:"user_id"`

	// URL is the target the request was forwarded to.
	URL string `json:"url" db:"url"`

	// Method is the HTTP method of the forwarded request.
	Method string `json:"method" db:"method"`

	// Headers are the request headers that were sent to the target.
	Headers map[string]string `json:"headers" db:"headers"`

	// Body is the request body as raw JSON. May be empty.
	Body json.RawMessage `json:"body" db:"body"`

	// ResponseStatus is the HTTP status code the target answered with.
	ResponseStatus int `json:"responseStatus" db:"response_status"`

	// ResponseHeaders are the response headers received from the target.
	ResponseHeaders map[string]string `json:"responseHeaders" db:"response_headers"`

	// ResponseData is the response body as raw JSON. Non-JSON target
	// bodies are stored as a JSON string. May be replaced by an archive
	// stub when the body was offloaded to object storage.
	ResponseData json.RawMessage `json:"responseData" db:"response_data"`

	// ArchiveKey is the object-storage key holding the full response
	// body when it exceeded the inline size limit. Empty otherwise.
	ArchiveKey string `json:"-" db:"archive_key"`

	// Timestamp is when the exchange was recorded.
	Timestamp time.Time `json:"timestamp" db:"created_at"`
}
