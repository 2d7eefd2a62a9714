package api

import (
	"net/http"
	"strings"

	"github.com/warp/bookkeeping-engine/books"
)

// ActorHeader carries the acting user id recorded in audit entries.
const ActorHeader = "X-Actor-ID"

// Actor attaches the X-Actor-ID header value to the request context.
// Requests without the header are attributed to "system".
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(ActorHeader)); id != "" {
			r = r.WithContext(books.WithActor(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
