package router

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/oraculocultural/oraculo/internal/domain"
)

// Router wraps http.ServeMux with middleware chaining. Requests that match no
// route get the API's JSON error envelope instead of ServeMux's plain text.
type Router struct {
	mux     *http.ServeMux
	chain   []Middleware
	methods *[]string
}

// Middleware is a function that wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// New creates a new Router with optional global middleware
func New(middleware ...Middleware) *Router {
	return &Router{
		mux:     http.NewServeMux(),
		chain:   middleware,
		methods: new([]string),
	}
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if _, pattern := r.mux.Handler(req); pattern != "" {
		r.mux.ServeHTTP(w, req)
		return
	}
	r.wrap(http.HandlerFunc(r.unmatched), nil).ServeHTTP(w, req)
}

// unmatched answers 405 with an Allow header when the path exists under
// another method, and 404 otherwise.
func (r *Router) unmatched(w http.ResponseWriter, req *http.Request) {
	var allowed []string
	for _, method := range *r.methods {
		alt := req.Clone(req.Context())
		alt.Method = method
		if _, pattern := r.mux.Handler(alt); pattern != "" {
			allowed = append(allowed, method)
		}
	}

	status, code, message := http.StatusNotFound, domain.ENOTFOUND, "Route not found"
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		status, code, message = http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}

// Get registers a GET route
func (r *Router) Get(pattern string, handler http.HandlerFunc, middleware ...Middleware) {
	r.Handle(http.MethodGet, pattern, handler, middleware...)
}

// Post registers a POST route
func (r *Router) Post(pattern string, handler http.HandlerFunc, middleware ...Middleware) {
	r.Handle(http.MethodPost, pattern, handler, middleware...)
}

// Handle registers a route with explicit method
func (r *Router) Handle(method, pattern string, handler http.Handler, middleware ...Middleware) {
	if !slices.Contains(*r.methods, method) {
		*r.methods = append(*r.methods, method)
	}
	r.mux.Handle(method+" "+pattern, r.wrap(handler, middleware))
}

// wrap applies middleware to a handler in reverse order
func (r *Router) wrap(handler http.Handler, middleware []Middleware) http.Handler {
	combined := append(slices.Clone(r.chain), middleware...)

	// Apply in reverse so they execute in the order defined
	slices.Reverse(combined)

	result := handler
	for _, m := range combined {
		result = m(result)
	}

	return result
}

// Group creates a sub-router with additional middleware
func (r *Router) Group(middleware ...Middleware) *Router {
	return &Router{
		mux:     r.mux,
		chain:   append(slices.Clone(r.chain), middleware...),
		methods: r.methods,
	}
}
