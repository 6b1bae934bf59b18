// Package token handles device access token requests per RFC 8628
// section 3.4.
package token

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/oauthkit/deviceauth/cmd/deviceauthd/handlers/common"
	"github.com/oauthkit/deviceauth/internal/devicegrant"
)

// Handler serves the token endpoint for the device code grant.
type Handler struct {
	server *devicegrant.Server
	logger zerolog.Logger
}

// New creates a token endpoint handler.
func New(server *devicegrant.Server, logger zerolog.Logger) *Handler {
	return &Handler{server: server, logger: logger}
}

// ServeHTTP resolves a token poll. The core returns a complete
// (status, headers, body) triple for both success and protocol failure; a
// non-nil error here means an integration fault, already rendered as
// server_error, that must be logged loudly.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !common.ParseForm(w, r) {
		return
	}

	// r.Form spans query and body so a parameter smuggled into the URL still
	// counts as a duplicate of its body twin.
	req := devicegrant.ParseTokenRequest(r.Form)
	resp, err := h.server.Token(r.Context(), req)
	if err != nil {
		h.logger.Error().Err(err).Str("client_id", req.ClientID).Msg("token request failed internally")
	}
	common.WriteResponse(w, resp)
}
