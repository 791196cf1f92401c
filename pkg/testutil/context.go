package testutil

import (
	"context"
	"net/http"

	id "badal/pkg/domain"
	"badal/pkg/requestcontext"
)

// WithActor adds an authenticated caller to the request context.
// This simulates what the auth middleware does for a valid bearer token.
func WithActor(req *http.Request, actor id.Actor) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actor))
}

// AsProvider authenticates the request as the given provider.
func AsProvider(req *http.Request, providerID id.ProviderID) *http.Request {
	return WithActor(req, ProviderActor(providerID))
}

// ProviderActor returns the actor a provider's token resolves to.
func ProviderActor(providerID id.ProviderID) id.Actor {
	return id.Actor{ID: id.UserID(providerID), Role: id.RoleProvider}
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), key, value))
}
