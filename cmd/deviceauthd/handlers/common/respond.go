// Package common holds response helpers shared by the deviceauthd handlers.
package common

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oauthkit/deviceauth/internal/devicegrant"
)

// WriteResponse writes a core (status, headers, body) triple to the wire.
func WriteResponse(w http.ResponseWriter, resp devicegrant.Response) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// WriteProtocolError serializes err as an OAuth2 error response. Anything
// outside the protocol taxonomy becomes an opaque server_error; the caller is
// expected to have logged the detail.
func WriteProtocolError(w http.ResponseWriter, err error) {
	var perr *devicegrant.Error
	if !errors.As(err, &perr) {
		perr = devicegrant.NewServerError()
	}
	WriteResponse(w, devicegrant.Response{
		Status:  perr.Status,
		Headers: mergeHeaders(devicegrant.DefaultResponseHeaders(), perr.Headers),
		Body:    perr.JSON(),
	})
}

// WriteJSON writes v as a JSON response with no-store headers.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		WriteProtocolError(w, devicegrant.NewServerError())
		return
	}
	WriteResponse(w, devicegrant.Response{
		Status:  status,
		Headers: devicegrant.DefaultResponseHeaders(),
		Body:    body,
	})
}

// ParseForm decodes the request form, rejecting unparseable bodies with
// invalid_request.
func ParseForm(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		WriteProtocolError(w, devicegrant.NewInvalidRequest("Invalid request format."))
		return false
	}
	return true
}

func mergeHeaders(base, extra map[string]string) map[string]string {
	for k, v := range extra {
		base[k] = v
	}
	return base
}
