// Package approve exposes a JSON approval API: the programmatic counterpart
// of the browser verification page, which is out of scope for this server.
package approve

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/oauthkit/deviceauth/cmd/deviceauthd/handlers/common"
	"github.com/oauthkit/deviceauth/internal/devicegrant"
)

type request struct {
	UserCode string `json:"user_code"`
	Subject  string `json:"subject,omitempty"`
}

type response struct {
	UserCode string                    `json:"user_code"`
	State    devicegrant.ApprovalState `json:"state"`
}

// Handler flips pending device code records to approved or denied.
type Handler struct {
	server *devicegrant.Server
	logger zerolog.Logger
}

// New creates an approval handler.
func New(server *devicegrant.Server, logger zerolog.Logger) *Handler {
	return &Handler{server: server, logger: logger}
}

// Approve handles POST /device/approve.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.Subject == "" {
		common.WriteProtocolError(w, devicegrant.NewInvalidRequest("Request is missing subject."))
		return
	}

	record, err := h.server.Approve(r.Context(), req.UserCode, req.Subject)
	if err != nil {
		common.WriteProtocolError(w, err)
		return
	}

	h.logger.Info().Str("user_code", record.UserCode).Str("subject", req.Subject).Msg("device authorization approved")
	common.WriteJSON(w, http.StatusOK, response{UserCode: record.UserCode, State: record.State})
}

// Deny handles POST /device/deny.
func (h *Handler) Deny(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	record, err := h.server.Deny(r.Context(), req.UserCode)
	if err != nil {
		common.WriteProtocolError(w, err)
		return
	}

	h.logger.Info().Str("user_code", record.UserCode).Msg("device authorization denied")
	common.WriteJSON(w, http.StatusOK, response{UserCode: record.UserCode, State: record.State})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (request, bool) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.WriteProtocolError(w, devicegrant.NewInvalidRequest("Invalid request format."))
		return req, false
	}
	if req.UserCode == "" {
		common.WriteProtocolError(w, devicegrant.NewInvalidRequest("Request is missing user code."))
		return req, false
	}
	return req, true
}
