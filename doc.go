// Package twofa is a two-factor authentication engine for Go services: email
// one-time codes, TOTP authenticator apps, single-use backup codes, signed
// trusted-device tokens, and the enrollment and login-challenge state
// machines that tie them together.
//
// An [Engine] is created once through [Builder] with a Redis client, a
// [CredentialStore] and a [Mailer], and is then safe for concurrent use.
// Short-lived state (pending codes, enrollments, challenges, locks, rate
// limit windows) lives in Redis; durable user state stays behind
// CredentialStore.
//
// # Architecture boundaries
//
// twofa is the public surface: Engine, Builder, Config, the sentinel errors
// and the value types. Record encoding, Lua scripts, locks and limiters live
// under internal/ and are never exported. Adapters (store/memory,
// store/postgres, mail, httpapi, middleware) depend on twofa, never the
// other way round, except for the mail message types.
//
// # Errors
//
// Every failure is one of the sentinels in errors.go, possibly wrapped.
// Match with errors.Is, or map to a stable string with [ErrorCodeOf].
package twofa
