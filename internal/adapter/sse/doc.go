// Package sse streams counter updates to clients as server-sent events.
package sse
