// Package ctxutil holds the context accessors shared by server and mcp, so
// neither has to import the other to read the caller's claims.
package ctxutil

import (
	"context"

	"github.com/ashita-ai/mathmentor/internal/auth"
	"github.com/ashita-ai/mathmentor/internal/model"
)

type contextKey string

const (
	keyClaims    contextKey = "claims"
	keyRequestID contextKey = "request_id"
)

// WithClaims returns a new context carrying the given claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, keyClaims, claims)
}

// ClaimsFromContext extracts the JWT claims from the context.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// Subject is the authenticated caller's name, or "anonymous".
func Subject(ctx context.Context) string {
	if c := ClaimsFromContext(ctx); c != nil && c.Subject != "" {
		return c.Subject
	}
	return "anonymous"
}

// HasRole reports whether the caller holds at least minRole.
func HasRole(ctx context.Context, minRole model.Role) bool {
	c := ClaimsFromContext(ctx)
	return c != nil && model.RoleAtLeast(c.Role, minRole)
}

// WithRequestID returns a new context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID extracts the request ID from the context.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(keyRequestID).(string)
	return v
}
