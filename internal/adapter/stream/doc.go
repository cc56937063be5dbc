// Package stream holds what the websocket and SSE adapters share: the
// global connection limit, the initial snapshot read and the wire encoding
// of a counter update.
package stream
