// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (counter.go, sink.go, errors.go) hold shared types
// and the contracts between the store, the notification bridge, the fan-out
// engine and the stream adapters. No implementation code, just contracts.
package domain
