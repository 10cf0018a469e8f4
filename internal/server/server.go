package server

import (
	"net/http"
)

// Middleware decorates every route registered after it is installed.
type Middleware func(http.Handler) http.Handler

// Handler is an endpoint that knows the paths it answers.
type Handler interface {
	http.Handler
	Routes() []string
}

// Router registers GET endpoints behind a shared middleware chain.
type Router interface {
	Use(middleware ...Middleware)
	Handle(method, path string, handler http.Handler) // non-matching methods get 405
	Handler(handler Handler)                          // registers each of handler.Routes() as GET
	Paths() []string                                  // in registration order
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}
