package httpserver

import "net/http"

// Routes aggregates handlers for HTTP server.
type Routes struct {
	Sync       http.HandlerFunc
	Stream     http.HandlerFunc
	LastResult http.HandlerFunc
	Health     http.HandlerFunc
}

// NewRouter wires all HTTP routes. Everything except /health goes through auth.
func NewRouter(routes Routes, auth func(http.Handler) http.Handler) http.Handler {
	if auth == nil {
		auth = func(h http.Handler) http.Handler { return h }
	}
	mux := http.NewServeMux()
	if routes.Sync != nil {
		mux.Handle("/api/sync", auth(method(http.MethodPost, routes.Sync)))
	}
	if routes.Stream != nil {
		mux.Handle("/api/sync/stream", auth(method(http.MethodGet, routes.Stream)))
	}
	if routes.LastResult != nil {
		mux.Handle("/api/sync/last", auth(method(http.MethodGet, routes.LastResult)))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
