// Package engine runs a set of probes against one proxy and merges their
// results into a single report.
//
// Every invocation of Engine.Run walks the same states:
//
//	Idle -> PublicIPResolving -> ProbesRunning -> Merging -> Done
//
// The caller's public IP is resolved at most once per invocation and shared
// read-only with the probes. Probes run concurrently, each bounded by the
// target's timeout, and a failing probe only produces an error entry for
// itself. Run never returns an error: absence of data is always explicit in
// the report.
//
// BatchChecker feeds many invocations through an admission-controlled queue.
package engine
