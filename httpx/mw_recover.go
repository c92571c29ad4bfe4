package httpx

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/evan-idocoding/crashtrace"
)

// RecoverOption configures the Recover middleware.
type RecoverOption func(*recoverConfig)

type recoverConfig struct {
	onPanic PanicHandler
}

// PanicHandler is called after a recovered panic has been rendered (except
// http.ErrAbortHandler).
//
// Implementations must be fast. A panicking PanicHandler is contained and
// rendered through crashtrace like any other recovered panic.
type PanicHandler func(r *http.Request, rep crashtrace.Report)

// WithOnPanic sets a PanicHandler.
func WithOnPanic(fn PanicHandler) RecoverOption {
	return func(c *recoverConfig) { c.onPanic = fn }
}

// Recover returns a middleware that recovers from panics in downstream handlers
// and renders them with crashtrace.Notify. The trace header names the request
// ("GET /path").
//
// It re-panics http.ErrAbortHandler to preserve net/http semantics.
//
// If the response has not been written yet, it writes a 500 Internal Server Error.
// If the response has already started, it does not modify the response.
func Recover(opts ...RecoverOption) Middleware {
	cfg := recoverConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			panic("httpx: nil next handler")
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &recoverResponseWriter{w: w}

			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}

				rep := crashtrace.Notify(p, crashtrace.WithName(requestName(r)))
				if cfg.onPanic != nil {
					callOnPanicNoPanic(cfg.onPanic, r, rep)
				}

				// Only write 500 if the response hasn't started yet.
				if !sw.wroteHeader {
					http.Error(sw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(sw, r)
		})
	}
}

func requestName(r *http.Request) string {
	if r == nil {
		return ""
	}
	if r.URL == nil {
		return r.Method
	}
	return r.Method + " " + r.URL.Path
}

// recoverResponseWriter tracks whether the response has started.
// It forwards optional interfaces to avoid breaking streaming and hijacking.
type recoverResponseWriter struct {
	w           http.ResponseWriter
	wroteHeader bool
}

func (w *recoverResponseWriter) Header() http.Header { return w.w.Header() }

func (w *recoverResponseWriter) WriteHeader(statusCode int) {
	w.wroteHeader = true
	w.w.WriteHeader(statusCode)
}

func (w *recoverResponseWriter) Write(p []byte) (int, error) {
	// net/http implicitly writes headers on first Write.
	w.wroteHeader = true
	return w.w.Write(p)
}

// Unwrap returns the underlying ResponseWriter.
func (w *recoverResponseWriter) Unwrap() http.ResponseWriter { return w.w }

// Flush implements http.Flusher if supported by the underlying ResponseWriter.
func (w *recoverResponseWriter) Flush() {
	if f, ok := w.w.(http.Flusher); ok {
		w.wroteHeader = true
		f.Flush()
	}
}

// Hijack implements http.Hijacker if supported by the underlying ResponseWriter.
func (w *recoverResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.w.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("httpx: underlying ResponseWriter does not support hijacking")
	}
	c, rw, err := h.Hijack()
	if err == nil {
		w.wroteHeader = true
	}
	return c, rw, err
}

// Push implements http.Pusher if supported by the underlying ResponseWriter.
func (w *recoverResponseWriter) Push(target string, opts *http.PushOptions) error {
	p, ok := w.w.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return p.Push(target, opts)
}

// ReadFrom implements io.ReaderFrom if supported by the underlying ResponseWriter.
func (w *recoverResponseWriter) ReadFrom(r io.Reader) (int64, error) {
	rf, ok := w.w.(io.ReaderFrom)
	if !ok {
		// Through the wrapper, so Write marks the response as started.
		return io.Copy(struct{ io.Writer }{w}, r)
	}
	w.wroteHeader = true
	return rf.ReadFrom(r)
}

// callOnPanicNoPanic runs fn; a panic in fn is rendered through crashtrace
// like the request's own panic, and the request goes on to get its 500.
func callOnPanicNoPanic(fn PanicHandler, r *http.Request, rep crashtrace.Report) {
	defer func() {
		if p := recover(); p != nil {
			crashtrace.Notify(p, crashtrace.WithName("PanicHandler for "+requestName(r)))
		}
	}()
	fn(r, rep)
}
