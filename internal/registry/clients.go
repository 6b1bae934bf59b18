// Package registry holds registered OAuth2 clients and the reference
// RequestValidator that binds client, scope, and device code record decisions
// to a Store.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
)

// Client is a registered OAuth2 client. Public clients (devices without a
// secret) authenticate by client_id alone per RFC 8628 section 3.1.
type Client struct {
	ID         string   `json:"client_id"`
	Secret     string   `json:"client_secret,omitempty"`
	Public     bool     `json:"public"`
	Scopes     []string `json:"scopes,omitempty"`
	GrantTypes []string `json:"grant_types,omitempty"`
}

// AllowsGrantType reports whether the client may use the grant. An empty list
// allows every grant type.
func (c Client) AllowsGrantType(grantType string) bool {
	if len(c.GrantTypes) == 0 {
		return true
	}
	for _, g := range c.GrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// AllowsScope reports whether every requested scope is in the client's
// allowed set. An empty allowed set permits any scope.
func (c Client) AllowsScope(requested []string) bool {
	if len(c.Scopes) == 0 {
		return true
	}
	allowed := make(map[string]struct{}, len(c.Scopes))
	for _, s := range c.Scopes {
		allowed[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := allowed[s]; !ok {
			return false
		}
	}
	return true
}

// Registry is an immutable in-memory client set, loaded once at boot.
type Registry struct {
	clients map[string]Client
}

// New builds a registry from the given clients.
func New(clients ...Client) *Registry {
	m := make(map[string]Client, len(clients))
	for _, c := range clients {
		m[c.ID] = c
	}
	return &Registry{clients: m}
}

// Load reads a JSON array of clients from path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading clients file: %w", err)
	}
	var clients []Client
	if err := json.Unmarshal(data, &clients); err != nil {
		return nil, fmt.Errorf("parsing clients file: %w", err)
	}
	return New(clients...), nil
}

// Client looks up a registered client by id.
func (r *Registry) Client(id string) (Client, bool) {
	c, ok := r.clients[id]
	return c, ok
}
