// Package httpx connects net/http servers to crashtrace.
//
// net/http recovers handler panics itself and prints a terse stack to the
// server's error log. Recover takes over earlier: the panic is rendered through
// the active crashtrace handler (or one built from the environment), the client
// gets a 500 when the response has not started, and the server keeps running.
//
//	h := httpx.Wrap(mux, httpx.Recover())
//
// Recover never applies the handler's exit policy.
package httpx
