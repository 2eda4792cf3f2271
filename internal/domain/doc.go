// Package domain defines the core business types for the mailroom dispatch
// service.
//
// Types in this package are pure value objects with no behavior beyond
// validation, no storage dependencies, and no HTTP concerns. They are the
// shared language between the queue store, the suppression registry, the
// event log, the orchestrator and the API handlers.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No http.Request, no context.Context in struct fields
//   - JSON tags are allowed (they're metadata, not behavior)
//   - Validation methods are allowed (they're pure functions on the type)
//   - Constants and enums belong here
package domain
