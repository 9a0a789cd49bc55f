// Package model defines the data structures shared by the probe engine,
// the execution queue, the HTTP front-end, and the history database.
//
// This package contains the following main types:
//   - ProbeTarget: the immutable description of one proxy endpoint to check
//   - ProbeResult: the outcome of a single probe (a typed result or a ProbeError)
//   - AggregateReport: every requested probe result for one proxy, plus errors
//   - ProxyPerformance: the historical success ratio of a proxy
//
// Models live in their own package so that probe, engine, report, and
// database can all depend on them without importing each other.
package model
