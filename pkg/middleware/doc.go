// Package middleware provides the HTTP access gate and request
// instrumentation for the reconciliation API.
package middleware
