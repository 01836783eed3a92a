package httpmw

import (
	"net/http"
	"strconv"
)

// MaxBody caps request bodies at limit bytes; limit <= 0 leaves them
// uncapped. A request that declares a larger Content-Length is answered 413
// before any tenant code runs. One that streams past the limit fails on
// read with *http.MaxBytesError, which the dispatcher turns into a 413.
func MaxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				w.Header().Set("Connection", "close")
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.Header().Set("Content-Length", strconv.Itoa(len(tooLarge)))
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_, _ = w.Write([]byte(tooLarge))
				return
			}
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

const tooLarge = "Request Entity Too Large"
