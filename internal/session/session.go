// Package session provides the current-user provider the aggregation
// layer consumes. Authentication itself lives elsewhere; this package
// only answers "who is the caller and which role are they acting as".
package session

import (
	"context"

	"github.com/jwalitptl/careview-api/internal/model"
)

type contextKey string

const identityKey contextKey = "session_identity"

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Role   model.Role
}

// Provider answers the current user for a request context. A zero
// return means no authenticated user.
type Provider interface {
	CurrentUserID(ctx context.Context) string
	CurrentUserRole(ctx context.Context) model.Role
}

// WithIdentity attaches an identity to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// ContextProvider reads the identity previously attached to the request
// context by the auth middleware.
type ContextProvider struct{}

func (ContextProvider) CurrentUserID(ctx context.Context) string {
	if id, ok := ctx.Value(identityKey).(Identity); ok {
		return id.UserID
	}
	return ""
}

func (ContextProvider) CurrentUserRole(ctx context.Context) model.Role {
	if id, ok := ctx.Value(identityKey).(Identity); ok {
		return id.Role
	}
	return ""
}

// StaticProvider always answers with one fixed identity; tests and the
// prewarm worker use it.
type StaticProvider struct {
	Identity Identity
}

func (p StaticProvider) CurrentUserID(ctx context.Context) string       { return p.Identity.UserID }
func (p StaticProvider) CurrentUserRole(ctx context.Context) model.Role { return p.Identity.Role }
