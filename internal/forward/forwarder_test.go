package forward

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestForwardPassesThroughSuccess(t *testing.T) {
	var gotMethod, gotHeader string
	var gotBody []byte
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Custom")
		gotBody = readAll(t, r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer target.Close()

	forwarder := New(5 * time.Second)
	result, err := forwarder.Forward(context.Background(), Spec{
		URL:     target.URL,
		Method:  "post",
		Headers: map[string]string{"X-Custom": "yes"},
		Body:    json.RawMessage(`{"hello":"world"}`),
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Fatalf("expected method to be upper-cased to POST, got %q", gotMethod)
	}
	if gotHeader != "yes" {
		t.Fatalf("expected custom header to be forwarded, got %q", gotHeader)
	}
	if string(gotBody) != `{"hello":"world"}` {
		t.Fatalf("unexpected forwarded body: %s", gotBody)
	}
	if result.Status != http.StatusOK {
		t.Fatalf("unexpected status: %d", result.Status)
	}
	if string(result.Body) != `{"ok":true}` {
		t.Fatalf("unexpected body: %s", result.Body)
	}
	if result.Headers["Content-Type"] != "application/json" {
		t.Fatalf("expected response headers to be captured, got %v", result.Headers)
	}
}

func TestForwardPassesThroughErrorStatus(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"nope"}`))
	}))
	defer target.Close()

	forwarder := New(5 * time.Second)
	result, err := forwarder.Forward(context.Background(), Spec{URL: target.URL, Method: "GET"})
	if err != nil {
		t.Fatalf("a 404 from the target must be a successful forward, got error: %v", err)
	}
	if result.Status != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", result.Status)
	}
	if string(result.Body) != `{"message":"nope"}` {
		t.Fatalf("unexpected body: %s", result.Body)
	}
}

func TestForwardWrapsNonJSONBody(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>hi</html>"))
	}))
	defer target.Close()

	forwarder := New(5 * time.Second)
	result, err := forwarder.Forward(context.Background(), Spec{URL: target.URL, Method: "GET"})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	var decoded string
	if err := json.Unmarshal(result.Body, &decoded); err != nil {
		t.Fatalf("expected non-JSON body to be wrapped as a JSON string: %v", err)
	}
	if decoded != "<html>hi</html>" {
		t.Fatalf("unexpected wrapped body: %q", decoded)
	}
}

func TestForwardRejectsMissingFields(t *testing.T) {
	calls := 0
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer target.Close()

	forwarder := New(5 * time.Second)

	if _, err := forwarder.Forward(context.Background(), Spec{Method: "GET"}); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields for missing url, got %v", err)
	}
	if _, err := forwarder.Forward(context.Background(), Spec{URL: target.URL}); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields for missing method, got %v", err)
	}
	if _, err := forwarder.Forward(context.Background(), Spec{URL: "  ", Method: " "}); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields for blank fields, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected zero network calls, got %d", calls)
	}
}

func TestForwardUnreachableTarget(t *testing.T) {
	// Reserve a port, then close it so nothing is listening.
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := target.URL
	target.Close()

	forwarder := New(2 * time.Second)
	_, err := forwarder.Forward(context.Background(), Spec{URL: deadURL, Method: "GET"})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

// truncatingTarget answers with a status line and a Content-Length the
// body never reaches, then drops the connection. The client gets a
// status code but cannot finish reading the body.
func truncatingTarget(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			buf := make([]byte, 4096)
			_, _ = conn.Read(buf)
			_, _ = io.WriteString(conn, "HTTP/1.1 502 Bad Gateway\r\n"+
				"Content-Type: text/plain\r\n"+
				"Content-Length: 100\r\n"+
				"\r\n"+
				"hello")
			_ = conn.Close()
		}
	}()
	return "http://" + listener.Addr().String()
}

func TestForwardTruncatedResponseBody(t *testing.T) {
	forwarder := New(2 * time.Second)
	_, err := forwarder.Forward(context.Background(), Spec{URL: truncatingTarget(t), Method: "GET"})

	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("expected ResponseError for a truncated body, got %v", err)
	}
	if respErr.Status != http.StatusBadGateway {
		t.Fatalf("expected the target's status to be carried, got %d", respErr.Status)
	}
	if respErr.Headers["Content-Type"] != "text/plain" {
		t.Fatalf("expected response headers to be captured, got %v", respErr.Headers)
	}
	var partial string
	if err := json.Unmarshal(respErr.Body, &partial); err != nil || partial != "hello" {
		t.Fatalf("expected the partial body to be carried, got %s", respErr.Body)
	}
	if errors.Is(err, ErrUnreachable) {
		t.Fatalf("a response with a status line must not look unreachable")
	}
}

func TestForwardSetupFailure(t *testing.T) {
	forwarder := New(2 * time.Second)
	_, err := forwarder.Forward(context.Background(), Spec{URL: "http://bad url with spaces", Method: "GET"})

	var setupErr *SetupError
	if !errors.As(err, &setupErr) {
		t.Fatalf("expected SetupError, got %v", err)
	}
	if errors.Is(err, ErrUnreachable) {
		t.Fatalf("setup failures must stay distinct from unreachable targets")
	}
}

func readAll(t *testing.T, r *http.Request) []byte {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("read request body: %v", err)
	}
	return data
}
