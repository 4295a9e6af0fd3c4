// Package router is a small method+path router over net/http with wildcard
// segments and structured request logging.
package router

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type HandlerFunc func(http.ResponseWriter, *http.Request)

type route struct {
	method   string
	segments []string
	handler  HandlerFunc
}

// Router dispatches by method and path. A "*" segment matches any single
// path segment; a trailing "*" matches the rest of the path.
type Router struct {
	routes []route
	log    zerolog.Logger
}

func New(log zerolog.Logger) *Router {
	return &Router{log: log}
}

func (r *Router) GET(path string, h HandlerFunc)    { r.register(http.MethodGet, path, h) }
func (r *Router) POST(path string, h HandlerFunc)   { r.register(http.MethodPost, path, h) }
func (r *Router) PUT(path string, h HandlerFunc)    { r.register(http.MethodPut, path, h) }
func (r *Router) DELETE(path string, h HandlerFunc) { r.register(http.MethodDelete, path, h) }

func (r *Router) register(method, path string, h HandlerFunc) {
	r.routes = append(r.routes, route{
		method:   method,
		segments: split(path),
		handler:  h,
	})
}

func split(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

func match(segments, request []string) bool {
	for i, seg := range segments {
		if seg == "*" && i == len(segments)-1 {
			// Trailing wildcard swallows the remaining segments.
			return len(request) >= i
		}
		if i >= len(request) {
			return false
		}
		if seg != "*" && seg != request[i] {
			return false
		}
	}
	return len(request) == len(segments)
}

// ServeHTTP implements http.Handler. Routes are matched in registration
// order, so more specific routes must be registered first.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	lw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	request := split(req.URL.Path)

	matched := false
	pathKnown := false
	for _, rt := range r.routes {
		if !match(rt.segments, request) {
			continue
		}
		pathKnown = true
		if rt.method != req.Method {
			continue
		}
		matched = true
		rt.handler(lw, req)
		break
	}
	if !matched {
		if pathKnown {
			http.Error(lw, "Method Not Allowed", http.StatusMethodNotAllowed)
		} else {
			http.Error(lw, "Not Found", http.StatusNotFound)
		}
	}

	r.log.Info().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", lw.status).
		Dur("took", time.Since(start)).
		Msg("request")
}

// Start runs the HTTP server on addr until it fails.
func (r *Router) Start(addr string) error {
	r.log.Info().Str("addr", addr).Msg("server listening")
	return http.ListenAndServe(addr, r)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
