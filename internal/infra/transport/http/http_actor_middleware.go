package http

import (
	"net/http"
	"strings"

	context_ "github.com/mkrupp/homecase-accounts/internal/infra/context"
	"github.com/mkrupp/homecase-accounts/internal/infra/logging"
)

// ActorHeader names the identity a request is performed on behalf of.
const ActorHeader = "X-Actor"

const maxActorLength = 128

// ActorMiddleware creates middleware that attributes each request to an actor.
// The actor is taken from the X-Actor header, or defaultActor if the header is
// absent, and added to the request context. Malformed actors are rejected.
func ActorMiddleware(next http.Handler, defaultActor string, log logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := defaultActor

		if header, ok := r.Header[http.CanonicalHeaderKey(ActorHeader)]; ok && len(header) > 0 {
			actor = strings.TrimSpace(header[0])
		}

		if actor == "" || len(actor) > maxActorLength {
			log.WarnContext(r.Context(), "invalid actor", "actor", actor)
			WriteError(w, http.StatusBadRequest, "invalid actor")

			return
		}

		next.ServeHTTP(w, r.WithContext(context_.WithActor(r.Context(), actor)))
	})
}
