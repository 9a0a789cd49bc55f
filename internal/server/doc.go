// Package server exposes the probe engine over HTTP.
//
// Every check request is validated before any network call is made and then
// submitted to a shared admission-controlled queue, so a burst of requests
// cannot open more proxy connections than the queue admits. Reports are
// returned as JSON and, when a history store is configured, recorded for the
// /performance endpoint.
package server
