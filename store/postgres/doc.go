// Package postgres is a twofa.CredentialStore on PostgreSQL through pgxpool.
//
// Users live in twofa_users; backup codes live in twofa_backup_codes, one
// row per code, with used_at set when the code is spent. EnsureSchema
// creates both tables if they do not exist.
package postgres
