// Package device handles device authorization requests per RFC 8628
// section 3.1.
package device

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/oauthkit/deviceauth/cmd/deviceauthd/handlers/common"
	"github.com/oauthkit/deviceauth/internal/devicegrant"
)

// Handler serves the device authorization endpoint.
type Handler struct {
	server *devicegrant.Server
	logger zerolog.Logger
}

// New creates a device authorization handler.
func New(server *devicegrant.Server, logger zerolog.Logger) *Handler {
	return &Handler{server: server, logger: logger}
}

// ServeHTTP issues a device_code/user_code pair for the requesting client.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !common.ParseForm(w, r) {
		return
	}

	// r.Form spans query and body so a parameter smuggled into the URL still
	// counts as a duplicate of its body twin.
	req := devicegrant.ParseAuthorizationRequest(r.Form)
	authorization, err := h.server.Authorize(r.Context(), req)
	if err != nil {
		h.logger.Debug().Err(err).Str("client_id", req.ClientID).Msg("device authorization rejected")
		common.WriteProtocolError(w, err)
		return
	}

	common.WriteJSON(w, http.StatusOK, authorization)
}
