package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForPrefixes wraps a compression middleware handler so that
// requests under any of prefixes, and event streams, bypass it. Streamed
// media must be flushed to the client as it is produced.
func SkipCompressionForPrefixes(compressionHandler func(http.Handler) http.Handler, prefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
				next.ServeHTTP(w, r)
				return
			}
			for _, prefix := range prefixes {
				if r.URL.Path == prefix || strings.HasPrefix(r.URL.Path, prefix+"/") {
					next.ServeHTTP(w, r)
					return
				}
			}

			compressedHandler.ServeHTTP(w, r)
		})
	}
}
