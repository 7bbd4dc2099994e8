package testutil

import (
	"net/http"

	id "watchtower/pkg/domain"
	"watchtower/pkg/requestcontext"
)

// WithUserID attaches a verified identity to the request the way RequireAuth
// does, so handlers can be exercised without minting tokens.
func WithUserID(req *http.Request, userID id.UserID) *http.Request {
	return req.WithContext(requestcontext.WithUserID(req.Context(), userID))
}

