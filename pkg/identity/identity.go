// Package identity mints and verifies the bearer tokens operators present
// to the console. A token binds a member address to a set of console
// roles; the governance strategies decide separately what that address
// may do on any given account.
package identity

import "context"

// Principal is the authenticated caller of a console request.
type Principal struct {
	Addr  string   `json:"addr"`
	Roles []string `json:"roles,omitempty"`
}

// HasRole reports whether the principal carries the console role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type contextKey struct{}

// WithPrincipal attaches a principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext retrieves the principal placed by the auth middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}
