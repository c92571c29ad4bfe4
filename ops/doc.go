// Package ops keeps a journal of recently handled failures and serves it over
// net/http.
//
// A service that recovers and reports (crashtrace.RecoverAndReport, or the
// httpx.Recover middleware) keeps running after a panic, and its traces scroll
// away in the error stream. The journal keeps the last few reports in memory:
//
//	j := ops.NewJournal(32)
//	crashtrace.Install(
//		crashtrace.WithPolicy(crashtrace.RecoverAndReport),
//		crashtrace.WithReportHook(j.Hook()),
//	)
//	mux.Handle("/debug/failures", ops.FailuresHandler(j))
//
// ops does not choose routing paths and does not do authn/authz decisions.
// Rendered traces contain source lines; mount the handler behind your own
// authentication middleware.
//
// # Formats
//
// FailuresHandler renders text by default. The default can be configured by
// options, and can be overridden per request by URL query:
//   - ?format=text
//   - ?format=json
package ops
