package server

import (
	"net/http"
	"strings"
)

// BasicRouter is a [Router] on top of [http.ServeMux].
//
// Middleware registered with [BasicRouter.Use] only wraps handlers registered after it.
type BasicRouter struct {
	mux         *http.ServeMux
	middlewares []Middleware
	paths       []string
}

func NewBasicRouter() *BasicRouter {
	return &BasicRouter{mux: http.NewServeMux()}
}

// Use appends middleware; the first one added is the outermost.
func (r *BasicRouter) Use(middleware ...Middleware) {
	r.middlewares = append(r.middlewares, middleware...)
}

// Handle registers handler for path, answering 405 for any other method.
//
// HEAD is accepted wherever GET is.
func (r *BasicRouter) Handle(method, path string, handler http.Handler) {
	r.register(path, onlyMethod(method, handler))
}

// Handler registers h under each of its [Handler.Routes], restricted to GET.
func (r *BasicRouter) Handler(h Handler) {
	for _, route := range h.Routes() {
		r.register(route, onlyMethod(http.MethodGet, h))
	}
}

func (r *BasicRouter) Paths() []string {
	return append([]string(nil), r.paths...)
}

func (r *BasicRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Apply wraps handler with the registered middleware, last added innermost.
func (r *BasicRouter) Apply(handler http.Handler) http.Handler {
	wrapped := handler
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		wrapped = r.middlewares[i](wrapped)
	}
	return wrapped
}

func (r *BasicRouter) register(path string, h http.Handler) {
	r.mux.Handle(path, r.Apply(h))
	r.paths = append(r.paths, path)
}

func onlyMethod(method string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ok := strings.EqualFold(req.Method, method) ||
			(method == http.MethodGet && req.Method == http.MethodHead)
		if !ok {
			w.Header().Set("Allow", method)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, req)
	})
}
