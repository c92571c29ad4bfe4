// Package crashtrace replaces the Go runtime's panic output with a readable,
// colorized backtrace annotated with source snippets.
//
// The main entry points are:
//   - Install / Uninstall: make a handler the process-wide active one (and restore the previous one).
//   - Recover: the recover site to defer at the top of main and of goroutines.
//   - Go / Run: goroutine and synchronous wrappers that recover and report through the active handler.
//   - Notify: report a value recovered elsewhere without exiting (used by httpx.Recover).
//
// Go has no process-wide panic hook, so a panic is only rendered when it reaches a
// recover site. Panics that never do (and runtime fatal errors) are printed by the
// runtime itself; WithCrashFile saves that output so cmd/crashfmt can render it
// later with the same pipeline.
//
// # Quick start
//
//	func main() {
//		crashtrace.Install()
//		defer crashtrace.Recover()
//
//		crashtrace.Go(ctx, worker, crashtrace.WithName("indexer"))
//		...
//	}
//
// # Pipeline
//
// A failure goes through the same steps wherever it comes from:
//
//	capture -> trim panic machinery -> classify -> verbosity trim -> snippets -> render
//
// Frames are classified as application, dependency or runtime code. Defaults come
// from the binary's build information (the main module is the application); extra
// rules can be given with WithRules or a YAML/TOML file named by CRASHTRACE_RULES.
//
// The rendered trace is built in memory and written with a single Write under a
// process-wide lock, so concurrent failures never interleave. Report hooks run
// afterwards; see the sink and metrics subpackages.
//
// # Configuration
//
// Install starts from ConfigFromEnv (CRASHTRACE_VERBOSITY, GOTRACEBACK,
// CRASHTRACE_COLOR, NO_COLOR, FORCE_COLOR, CRASHTRACE_CONTEXT,
// CRASHTRACE_STRIP_HASH, CRASHTRACE_MAX_FRAMES, CRASHTRACE_RULES). Options
// override the environment.
//
// # Failure of the handler itself
//
// If rendering fails, the raw panic message, a one-line note and the raw runtime
// stack are printed instead. The policy (ExitProcess by default) is applied
// either way.
package crashtrace
