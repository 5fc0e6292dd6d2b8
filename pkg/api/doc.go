// Package api exposes the reconciliation engine over HTTP.
//
// Mutating endpoints sit behind the access gate; the usage-info GET variants
// of the migration endpoints, the health endpoint and the metrics endpoint
// are open.
package api
