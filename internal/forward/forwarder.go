package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// ErrMissingFields is returned when the spec lacks a URL or method.
// No network call is made in that case.
var ErrMissingFields = errors.New("url and method are required")

// ErrUnreachable is returned when no response could be obtained at all
// (DNS failure, connection refused, timeout). There is no target status
// code to mirror.
var ErrUnreachable = errors.New("no response received from the external API")

// SetupError reports a failure while constructing the outbound request,
// before anything was sent.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("error setting up request: %v", e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// ResponseError reports an exchange where the target produced a status
// line but the transport still failed, e.g. the body could not be read.
// It carries the target's own status and whatever body was received so
// callers can mirror them.
type ResponseError struct {
	Status  int
	Headers map[string]string
	Body    json.RawMessage
	Err     error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("external API error: %d - %v", e.Status, e.Err)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

// Spec describes one request to relay to an external target.
type Spec struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

// Result is a completed exchange: the target's response verbatim,
// whatever its status code.
type Result struct {
	Status  int
	Headers map[string]string
	Body    json.RawMessage
}

// Forwarder executes caller-described requests against external targets.
type Forwarder struct {
	client *http.Client
}

// New constructs a Forwarder whose outbound calls are bounded by timeout.
func New(timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Forwarder{
		client: &http.Client{Timeout: timeout},
	}
}

// Forward issues exactly one outbound call described by spec. Any status
// code from the target is a successful forward; status, headers and body
// are returned untouched. The error taxonomy is deliberate:
// ErrMissingFields (nothing sent, caller input invalid), *SetupError
// (nothing sent, request could not be built), ErrUnreachable (sent, no
// response), *ResponseError (status obtained, transport still failed).
func (f *Forwarder) Forward(ctx context.Context, spec Spec) (*Result, error) {
	targetURL := strings.TrimSpace(spec.URL)
	method := strings.TrimSpace(spec.Method)
	if targetURL == "" || method == "" {
		return nil, ErrMissingFields
	}

	var body io.Reader
	if len(spec.Body) > 0 {
		body = bytes.NewReader(spec.Body)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), targetURL, body)
	if err != nil {
		return nil, &SetupError{Err: err}
	}

	for key, value := range spec.Headers {
		req.Header.Set(key, value)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ResponseError{
			Status:  resp.StatusCode,
			Headers: flattenHeaders(resp.Header),
			Body:    encodeBody(raw),
			Err:     err,
		}
	}

	return &Result{
		Status:  resp.StatusCode,
		Headers: flattenHeaders(resp.Header),
		Body:    encodeBody(raw),
	}, nil
}

// encodeBody keeps JSON bodies as-is and wraps anything else as a JSON
// string, so pass-through fidelity survives persistence.
func encodeBody(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}
	quoted, err := json.Marshal(string(raw))
	if err != nil {
		return nil
	}
	return json.RawMessage(quoted)
}

func flattenHeaders(header http.Header) map[string]string {
	if len(header) == 0 {
		return nil
	}
	flat := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) > 0 {
			flat[key] = values[0]
		}
	}
	return flat
}
