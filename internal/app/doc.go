// Package app provides the application service layer and process lifecycle.
//
// Service exposes the counter use cases to HTTP handlers. Runtime owns the
// long-running components and tears them down in dependency order.
package app
