// Package password hashes and verifies passwords with Argon2id, encoded as
// PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// It is used for the re-authentication step in front of every 2FA state
// change and for OTP password resets.
package password
