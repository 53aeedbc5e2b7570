// Package jwt signs and verifies trusted-device tokens: compact JWTs that
// let a browser skip the second factor until they expire or the user's trust
// epoch moves on.
package jwt
