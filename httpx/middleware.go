package httpx

import "net/http"

// Middleware is a standard net/http middleware.
type Middleware func(http.Handler) http.Handler

// Wrap applies mws to h; the first middleware is the outermost. Nil
// middlewares are ignored.
//
// It panics if h is nil (an assembly error).
func Wrap(h http.Handler, mws ...Middleware) http.Handler {
	if h == nil {
		panic("httpx: nil endpoint handler")
	}
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}
