package handlers

import (
	"context"
	"net/http"
)

type identityKey struct{}

type identity struct {
	UserID int64
	Role   string
}

// WithIdentity stores the authenticated caller; the JWT middleware calls it.
func WithIdentity(ctx context.Context, userID int64, role string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity{UserID: userID, Role: role})
}

func callerFrom(r *http.Request) (identity, bool) {
	id, ok := r.Context().Value(identityKey{}).(identity)
	return id, ok && id.UserID > 0 && id.Role != ""
}
