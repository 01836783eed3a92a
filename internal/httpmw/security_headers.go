package httpmw

import "net/http"

// SecurityHeaders sets the headers that hold for every tenant. Document
// policies (CSP, framing, cross-origin isolation) belong to each tenant
// application: its handlers set them, and a handler's value replaces
// anything set here.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Require HTTPS for one year, including subdomains
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

		// Disable MIME type sniffing; package items always carry a content type
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Referrer policy to control information sent in Referer header
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// Prevent Adobe Flash and Acrobat from loading content
		w.Header().Set("X-Permitted-Cross-Domain-Policies", "none")

		next.ServeHTTP(w, r)
	})
}
