package api

import (
	"context"
	"net/http"

	"github.com/warp/incapacity-engine/incapacity"
)

// Identity headers set by the authenticating gateway in front of the API.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

type actorKey struct{}

// Identity reads the acting identity from the gateway headers and stores it
// in the request context. Requests without a valid identity get 401.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderActorID)
		role := incapacity.Role(r.Header.Get(HeaderActorRole))
		if id == "" || !role.Valid() {
			writeError(w, http.StatusUnauthorized, "Missing or invalid identity", nil)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, incapacity.Actor{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFrom returns the identity stored by Identity.
func ActorFrom(ctx context.Context) incapacity.Actor {
	a, _ := ctx.Value(actorKey{}).(incapacity.Actor)
	return a
}

// RequireRole rejects requests whose role does not satisfy allowed.
func RequireRole(allowed func(incapacity.Role) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allowed(ActorFrom(r.Context()).Role) {
				writeError(w, http.StatusForbidden, "Role not allowed for this operation", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isAdmin(r incapacity.Role) bool { return r == incapacity.RoleAdmin }
