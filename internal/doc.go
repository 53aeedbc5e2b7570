// Package internal holds helpers private to twofa: secure random codes,
// identifiers and device hashing.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - backupcodes: recovery code generation, canonicalization and salted hashing
//   - limiters: Redis fixed-window failure counters
//   - stores: Redis stores for email OTPs, pending enrollments, login challenges,
//     per-user locks and TOTP replay markers
//
// Nothing here appears in the public twofa API.
package internal
