package tutorbook

import (
	"context"
	"fmt"
	"sync"
)

// ============================================================================
// IDENTITY
// ============================================================================

// Claims are the attacker-uncontrolled custom claims minted by the trusted
// administrative path. They never come from the client.
type Claims struct {
	Supervisor bool     `json:"supervisor,omitempty" yaml:"supervisor,omitempty"`
	Locations  []string `json:"locations,omitempty" yaml:"locations,omitempty"`
	Parent     bool     `json:"parent,omitempty" yaml:"parent,omitempty"`
	Children   []string `json:"children,omitempty" yaml:"children,omitempty"`
}

// SupervisesLocation reports whether the claims grant supervisor rights over
// the given location id.
func (c Claims) SupervisesLocation(locationID string) bool {
	if !c.Supervisor {
		return false
	}
	for _, l := range c.Locations {
		if l == locationID {
			return true
		}
	}
	return false
}

// Identity is the resolved caller of a store operation. A nil *Identity is
// an unauthenticated session and is denied every operation.
type Identity struct {
	UID    string `json:"uid" yaml:"uid"`
	Email  string `json:"email" yaml:"email"`
	Claims Claims `json:"claims" yaml:"claims"`
}

// IdentityResolver turns a session token into caller attributes.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*Identity, error)
}

// StaticResolver is a fixed token->identity map, used by tests and by the
// emulator harness.
type StaticResolver struct {
	mu       sync.RWMutex
	sessions map[string]*Identity
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{sessions: make(map[string]*Identity)}
}

func (r *StaticResolver) Add(token string, id *Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[token] = id
}

func (r *StaticResolver) Resolve(_ context.Context, token string) (*Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.sessions[token]
	if !ok {
		return nil, fmt.Errorf("unknown session token")
	}
	return id, nil
}

// actsFor reports whether caller may act on behalf of the profile owner:
// either the caller is the owner or the owner has delegated to the caller via
// the proxy list. Proxying is cross-cutting; every "caller == X" rule widens
// to "caller == X or caller in X.proxy" through this relation.
func actsFor(caller *Identity, ownerEmail string, proxy []string) bool {
	if caller == nil {
		return false
	}
	if caller.Email == ownerEmail {
		return true
	}
	for _, p := range proxy {
		if p == caller.Email {
			return true
		}
	}
	return false
}

// actsForUser is the snapshot form of actsFor.
func actsForUser(caller *Identity, u ConciseUser) bool {
	return actsFor(caller, u.Email, u.Proxy)
}
