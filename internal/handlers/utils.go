package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

type contextKey string

const contextUserKey contextKey = "user"

func userIDFromContext(ctx context.Context) (int, error) {
	value := ctx.Value(contextUserKey)
	switch user := value.(type) {
	case int:
		if user < 1 {
			return 0, errors.New("invalid user")
		}
		return user, nil
	case int64:
		if user < 1 {
			return 0, errors.New("invalid user")
		}
		return int(user), nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(user))
		if err != nil || parsed < 1 {
			return 0, errors.New("invalid user")
		}
		return parsed, nil
	default:
		return 0, errors.New("missing user")
	}
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// Healthz reports process liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
