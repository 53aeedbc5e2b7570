// Package stores keeps the short-lived second-factor records in Redis:
// email OTPs, pending TOTP enrollments, login challenges, per-user locks and
// TOTP replay markers.
//
// Each record is a versioned binary blob with a TTL. Email OTP issue, consume
// and rollback are single Lua scripts; challenge and enrollment mutations use
// WATCH/MULTI with retry. Plaintext codes never reach this package, only
// their hashes.
package stores
