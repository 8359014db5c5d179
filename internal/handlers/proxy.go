package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/relaypost/apiserver/internal/forward"
	"github.com/relaypost/apiserver/internal/services"
	"github.com/relaypost/apiserver/internal/store"
	"github.com/relaypost/apiserver/types"
)

// ProxyHandler relays caller-described requests to external targets and
// records the resulting exchanges as per-user history.
type ProxyHandler struct {
	forwarder       *forward.Forwarder
	exchangeService *services.ExchangeService
	logger          *slog.Logger
}

// NewProxyHandler constructs a handler with the provided dependencies.
func NewProxyHandler(forwarder *forward.Forwarder, exchangeService *services.ExchangeService, logger *slog.Logger) *ProxyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProxyHandler{
		forwarder:       forwarder,
		exchangeService: exchangeService,
		logger:          logger,
	}
}

// ProxyRouter registers proxy and history routes. All of them sit
// behind the auth middleware.
func ProxyRouter(
	r chi.Router,
	forwarder *forward.Forwarder,
	exchangeService *services.ExchangeService,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) {
	handler := NewProxyHandler(forwarder, exchangeService, logger)

	r.With(authMiddleware).Post("/proxy", handler.Forward)
	r.With(authMiddleware).Get("/history", handler.History)
	r.With(authMiddleware).Get("/history/{exchangeID}/response", handler.HistoryResponseBody)
}

// Forward executes the caller's request spec against the external
// target, mirrors the target's response back (whatever its status), and
// records the exchange. Unreachable targets and setup failures produce
// a fixed 500 and are not recorded.
func (h *ProxyHandler) Forward(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var spec forward.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	result, err := h.forwarder.Forward(r.Context(), spec)
	if err != nil {
		h.forwardError(w, r, userID, spec, err)
		return
	}

	h.record(r, userID, spec, result.Status, result.Headers, result.Body)

	// 204 and 304 must not carry a body; net/http would drop an
	// encoded one anyway, so mirror the bare status.
	if result.Status == http.StatusNoContent || result.Status == http.StatusNotModified {
		w.WriteHeader(result.Status)
		return
	}

	writeJSON(w, result.Status, ProxyResponse{
		Status:  result.Status,
		Headers: result.Headers,
		Data:    result.Body,
	})
}

func (h *ProxyHandler) forwardError(w http.ResponseWriter, r *http.Request, userID int, spec forward.Spec, err error) {
	var respErr *forward.ResponseError
	var setupErr *forward.SetupError

	switch {
	case errors.Is(err, forward.ErrMissingFields):
		writeError(w, http.StatusBadRequest, "URL and Method are required")
	case errors.As(err, &respErr):
		// The target produced a status line, so the exchange still
		// happened: record it and mirror the target's status.
		h.record(r, userID, spec, respErr.Status, respErr.Headers, respErr.Body)
		h.logger.Error("proxy request failed", "url", spec.URL, "status", respErr.Status, "error", err)
		writeJSON(w, respErr.Status, ProxyErrorResponse{
			Error:   err.Error(),
			Details: respErr.Body,
		})
	case errors.As(err, &setupErr):
		h.logger.Error("proxy request failed", "url", spec.URL, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, forward.ErrUnreachable):
		h.logger.Error("proxy request failed", "url", spec.URL, "error", err)
		writeError(w, http.StatusInternalServerError, "no response received from the external API (network error or API unreachable)")
	default:
		h.logger.Error("proxy request failed", "url", spec.URL, "error", err)
		writeError(w, http.StatusInternalServerError, "an unknown error occurred while proxying the request")
	}
}

// record persists the exchange. A persistence failure must not hide an
// already-obtained response, so it is logged and otherwise swallowed.
func (h *ProxyHandler) record(r *http.Request, userID int, spec forward.Spec, status int, headers map[string]string, body json.RawMessage) {
	exchange := types.Exchange{
		UserID:          userID,
		URL:             spec.URL,
		Method:          spec.Method,
		Headers:         spec.Headers,
		Body:            spec.Body,
		ResponseStatus:  status,
		ResponseHeaders: headers,
		ResponseData:    body,
	}
	if _, err := h.exchangeService.Record(r.Context(), exchange); err != nil {
		h.logger.Error("failed to record exchange", "url", spec.URL, "user", userID, "error", err)
	}
}

// History returns the caller's most recent exchanges, newest first.
func (h *ProxyHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	exchanges, err := h.exchangeService.RecentFor(r.Context(), userID, 0)
	if err != nil {
		h.logger.Error("failed to fetch history", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve history")
		return
	}

	if exchanges == nil {
		exchanges = []types.Exchange{}
	}
	writeJSON(w, http.StatusOK, exchanges)
}

// HistoryResponseBody streams the stored response body of one exchange.
// Exchanges owned by other users are indistinguishable from missing ones.
func (h *ProxyHandler) HistoryResponseBody(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "exchangeID"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid exchange id")
		return
	}

	body, err := h.exchangeService.ResponseBody(r.Context(), id, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "exchange not found")
			return
		}
		h.logger.Error("failed to load response body", "exchange_id", id, "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load response body")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

// ProxyResponse mirrors the target's response back to the caller.
type ProxyResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Data    json.RawMessage   `json:"data"`
}

// ProxyErrorResponse is the envelope for error-classified exchanges
// that still carried a target response.
type ProxyErrorResponse struct {
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details"`
}

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
