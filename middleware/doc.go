// Package middleware holds the HTTP middleware the twofa service mounts in
// front of its handlers.
//
// # Middleware
//
//   - [ClientInfo] records the caller's IP address and User-Agent in the
//     request context, where the Engine reads them for throttling, audit
//     events and trusted-device binding.
//   - [RequireSession] verifies the session JWT (bearer header or cookie)
//     with jwtauth and exposes its subject through [UserIDFromContext].
//
// This package translates HTTP semantics only. Two-factor decisions stay in
// twofa.Engine.
package middleware
