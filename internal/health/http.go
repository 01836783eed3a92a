package health

import "net/http"

// LiveHandler answers 200 "ok" while c passes and 503 with the reason
// otherwise. A nil c always passes.
func LiveHandler(c Checker) http.HandlerFunc { return handler(c, "ok\n") }

// ReadyHandler is LiveHandler with a "ready" body.
func ReadyHandler(c Checker) http.HandlerFunc { return handler(c, "ready\n") }

func handler(c Checker, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		status := http.StatusOK
		if c != nil {
			if err := c.Check(r.Context()); err != nil {
				status, body = http.StatusServiceUnavailable, err.Error()+"\n"
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		if r.Method != http.MethodHead {
			_, _ = w.Write([]byte(body))
		}
	}
}
