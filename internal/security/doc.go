// Package security derives a read-only posture report from the engine's
// effective configuration.
//
// The root package copies its Config into a ReportInput and calls
// BuildReport; nothing here touches Redis or the credential store.
//
// # What this package must NOT do
//
//   - Import the root package.
//   - Expose secrets or key material.
package security
