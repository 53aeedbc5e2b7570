// Package memory is an in-process twofa.CredentialStore for tests, demos and
// the load test. All data is lost when the process exits.
package memory
