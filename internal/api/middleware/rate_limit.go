package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/merchant-settlement/internal/api/problem"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter caps each client IP at rps requests per second on the
// ops endpoints. A non-positive rps disables limiting.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			detail := fmt.Sprintf("more than %d ops requests per second from this address", rps)
			problem.Write(w, r, problem.New(http.StatusTooManyRequests, problem.RateLimited, detail))
		}),
	)
}
