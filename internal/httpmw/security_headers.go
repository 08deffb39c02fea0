package httpmw

import "net/http"

// Security note: CSRF protection is not implemented because it is not
// applicable. The addon API is stateless (no cookies, no sessions) and
// Stremio clients authenticate via the config segment in the URL.

// SecurityHeaders is middleware that adds common security headers to
// HTTP responses. The CSP allows inline style/script because the
// configure page is a single self-contained document.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data: https:; base-uri 'self'; form-action 'self'; frame-ancestors 'none'; object-src 'none'")

		// Disable MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Old Clickjacking protection - dont allow embedding in frames
		w.Header().Set("X-Frame-Options", "DENY")

		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		w.Header().Set("Permissions-Policy", "accelerometer=(), camera=(), geolocation=(), gyroscope=(), magnetometer=(), microphone=(), payment=(), usb=()")

		next.ServeHTTP(w, r)
	})
}

// CORS allows any origin. Stremio apps fetch manifests and streams
// cross-origin from web contexts, so the addon endpoints must answer
// preflight and expose themselves to every origin.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
