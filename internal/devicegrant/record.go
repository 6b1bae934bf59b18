package devicegrant

import "time"

// ApprovalState tracks a device code record through its lifecycle. The only
// transitions are pending -> approved | denied | expired, and approved ->
// consumed after exactly one successful token exchange.
type ApprovalState string

const (
	StatePending  ApprovalState = "pending"
	StateApproved ApprovalState = "approved"
	StateDenied   ApprovalState = "denied"
	StateExpired  ApprovalState = "expired"
	StateConsumed ApprovalState = "consumed"
)

// DeviceCodeRecord is the persisted state of one device authorization request.
// The record is owned by the deployer's store; this core creates it at
// issuance, reads it while polling, and updates last-poll and approval state
// through the RequestValidator.
type DeviceCodeRecord struct {
	ID         string `json:"id"`
	DeviceCode string `json:"device_code"`
	UserCode   string `json:"user_code"`
	ClientID   string `json:"client_id"`
	Scope      string `json:"scope"`

	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`

	State ApprovalState `json:"state"`

	// Subject is the identifier of the user who approved the request, set by
	// the approval flow alongside the pending -> approved transition.
	Subject string `json:"subject,omitempty"`

	Interval     int       `json:"interval"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastPolledAt time.Time `json:"last_polled_at,omitempty"`
}

// Expired reports whether the record is past its lifetime at the given time.
func (r *DeviceCodeRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
