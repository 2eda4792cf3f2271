// Package httputil provides shared HTTP response and request helpers so
// every handler produces the same JSON envelope.
package httputil
