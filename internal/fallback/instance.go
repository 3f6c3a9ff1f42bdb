// internal/fallback/instance.go
package fallback

import (
	"context"
	"time"
)

// State is the lifecycle state of the fallback instance
type State int

const (
	NotCreated State = iota
	Created
	Expired
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Expired:
		return "expired"
	default:
		return "not_created"
	}
}

// MarshalText renders the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Instance describes the temporary backend that absorbs traffic while
// every configured instance is down
type Instance struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	DBPrefix  string    `json:"db_prefix"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	State     State     `json:"state"`
}

// Provisioner brings up a fallback backend and returns its base URL
type Provisioner interface {
	Provision(ctx context.Context, id string) (string, error)
}

// StaticProvisioner always answers with a preconfigured URL
type StaticProvisioner struct {
	URL string
}

// Provision returns the configured URL
func (p StaticProvisioner) Provision(_ context.Context, _ string) (string, error) {
	return p.URL, nil
}
