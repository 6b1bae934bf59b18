// Package health reports server and store liveness.
package health

import (
	"context"
	"net/http"

	"github.com/oauthkit/deviceauth/cmd/deviceauthd/handlers/common"
)

// Checker is anything that can report backend health.
type Checker interface {
	CheckHealth(ctx context.Context) error
}

type status struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler serves the health endpoint.
type Handler struct {
	checker Checker
}

// New creates a health handler over the given checker.
func New(checker Checker) *Handler {
	return &Handler{checker: checker}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.checker.CheckHealth(r.Context()); err != nil {
		common.WriteJSON(w, http.StatusServiceUnavailable, status{Status: "unhealthy", Detail: err.Error()})
		return
	}
	common.WriteJSON(w, http.StatusOK, status{Status: "ok"})
}
