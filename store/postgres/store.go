package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrEthical07/twofa"
	"github.com/MrEthical07/twofa/internal"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// ErrEmailTaken is returned by CreateUser for an address already in use.
var ErrEmailTaken = errors.New("email already registered")

const pgUniqueViolation = "23505"

const userColumns = `id::text, email, password_hash, email_verified, two_factor_enabled, totp_secret, trust_epoch`

// Store is a CredentialStore backed by PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New returns a Store on pool. A nil logger uses slog.Default.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger.With("component", "postgres_store")}
}

// EnsureSchema creates the tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// CreateUser registers a user with an already hashed password.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (twofa.UserRecord, error) {
	email = internal.NormalizeEmail(email)
	if email == "" || passwordHash == "" {
		return twofa.UserRecord{}, twofa.ErrInvalidRequest
	}

	id := uuid.New()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO twofa_users (id, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns, id.String(), email, passwordHash)
	rec, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return twofa.UserRecord{}, ErrEmailTaken
		}
		return twofa.UserRecord{}, fmt.Errorf("create user: %w", err)
	}
	return rec, nil
}

// GetUserByID returns ErrUserNotFound for unknown or malformed IDs.
func (s *Store) GetUserByID(ctx context.Context, userID string) (twofa.UserRecord, error) {
	id, ok := parseID(userID)
	if !ok {
		return twofa.UserRecord{}, twofa.ErrUserNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM twofa_users WHERE id = $1`, id)
	return s.userResult(scanUser(row))
}

// GetUserByEmail looks up the normalized address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (twofa.UserRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM twofa_users WHERE email = $1`,
		internal.NormalizeEmail(email))
	return s.userResult(scanUser(row))
}

// UpdatePasswordHash replaces the stored hash.
func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return s.execUser(ctx, userID, `
		UPDATE twofa_users SET password_hash = $2, updated_at = now() WHERE id = $1`, hash)
}

// MarkEmailVerified sets email_verified.
func (s *Store) MarkEmailVerified(ctx context.Context, userID string) error {
	return s.execUser(ctx, userID, `
		UPDATE twofa_users SET email_verified = TRUE, updated_at = now() WHERE id = $1`)
}

// ActivateTwoFactor stores the secret and codes and bumps the trust epoch in one transaction.
func (s *Store) ActivateTwoFactor(ctx context.Context, userID, secret string, codes twofa.BackupCodeSet) error {
	id, ok := parseID(userID)
	if !ok {
		return twofa.ErrUserNotFound
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE twofa_users
			SET two_factor_enabled = TRUE, totp_secret = $2, trust_epoch = trust_epoch + 1, updated_at = now()
			WHERE id = $1`, id, secret); err != nil {
			return err
		}
		return replaceCodes(ctx, tx, id, codes)
	})
}

// DisableTwoFactor clears the secret and codes and bumps the trust epoch in one transaction.
func (s *Store) DisableTwoFactor(ctx context.Context, userID string) error {
	id, ok := parseID(userID)
	if !ok {
		return twofa.ErrUserNotFound
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE twofa_users
			SET two_factor_enabled = FALSE, totp_secret = '', backup_code_salt = NULL,
			    trust_epoch = trust_epoch + 1, updated_at = now()
			WHERE id = $1`, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM twofa_backup_codes WHERE user_id = $1`, id)
		return err
	})
}

// IncrementTrustEpoch returns the new epoch.
func (s *Store) IncrementTrustEpoch(ctx context.Context, userID string) (uint64, error) {
	id, ok := parseID(userID)
	if !ok {
		return 0, twofa.ErrUserNotFound
	}
	var epoch int64
	err := s.pool.QueryRow(ctx, `
		UPDATE twofa_users SET trust_epoch = trust_epoch + 1, updated_at = now()
		WHERE id = $1
		RETURNING trust_epoch`, id).Scan(&epoch)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, twofa.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment trust epoch: %w", err)
	}
	return uint64(epoch), nil
}

// GetBackupCodes reads the salt and the code rows in one statement so a
// concurrent ReplaceBackupCodes cannot pair an old salt with new hashes.
func (s *Store) GetBackupCodes(ctx context.Context, userID string) (twofa.BackupCodeSet, error) {
	id, ok := parseID(userID)
	if !ok {
		return twofa.BackupCodeSet{}, twofa.ErrUserNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT u.backup_code_salt, c.code_hash, c.used_at IS NOT NULL
		FROM twofa_users u
		LEFT JOIN twofa_backup_codes c ON c.user_id = u.id
		WHERE u.id = $1
		ORDER BY c.created_at, c.code_hash`, id)
	if err != nil {
		return twofa.BackupCodeSet{}, fmt.Errorf("get backup codes: %w", err)
	}
	defer rows.Close()

	var (
		set   twofa.BackupCodeSet
		found bool
	)
	for rows.Next() {
		var (
			salt []byte
			hash []byte
			used bool
		)
		if err := rows.Scan(&salt, &hash, &used); err != nil {
			return twofa.BackupCodeSet{}, fmt.Errorf("scan backup codes: %w", err)
		}
		if !found {
			set.Salt = salt
			found = true
		}
		if hash == nil {
			continue
		}
		rec := twofa.BackupCodeRecord{Used: used}
		if len(hash) != len(rec.Hash) {
			return twofa.BackupCodeSet{}, fmt.Errorf("backup code hash has %d bytes", len(hash))
		}
		copy(rec.Hash[:], hash)
		set.Codes = append(set.Codes, rec)
	}
	if err := rows.Err(); err != nil {
		return twofa.BackupCodeSet{}, fmt.Errorf("scan backup codes: %w", err)
	}
	if !found {
		return twofa.BackupCodeSet{}, twofa.ErrUserNotFound
	}
	return set, nil
}

// ReplaceBackupCodes swaps in a new set under the user row lock.
func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, codes twofa.BackupCodeSet) error {
	id, ok := parseID(userID)
	if !ok {
		return twofa.ErrUserNotFound
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, id); err != nil {
			return err
		}
		return replaceCodes(ctx, tx, id, codes)
	})
}

// ConsumeBackupCode marks the code used in a single conditional UPDATE, so
// two concurrent consumers cannot both succeed.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) error {
	id, ok := parseID(userID)
	if !ok {
		return twofa.ErrInvalidCode
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE twofa_backup_codes SET used_at = now()
		WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL`, id, hash[:])
	if err != nil {
		return fmt.Errorf("consume backup code: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var used bool
	err = s.pool.QueryRow(ctx, `
		SELECT used_at IS NOT NULL FROM twofa_backup_codes
		WHERE user_id = $1 AND code_hash = $2`, id, hash[:]).Scan(&used)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return twofa.ErrInvalidCode
	case err != nil:
		return fmt.Errorf("check backup code: %w", err)
	case used:
		return twofa.ErrAlreadyUsed
	default:
		// Unreachable unless the row was replaced in between.
		return twofa.ErrInvalidCode
	}
}

func (s *Store) execUser(ctx context.Context, userID, query string, args ...any) error {
	id, ok := parseID(userID)
	if !ok {
		return twofa.ErrUserNotFound
	}
	tag, err := s.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return twofa.ErrUserNotFound
	}
	return nil
}

func (s *Store) userResult(rec twofa.UserRecord, err error) (twofa.UserRecord, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return twofa.UserRecord{}, twofa.ErrUserNotFound
	}
	if err != nil {
		s.logger.Error("user query failed", "err", err)
		return twofa.UserRecord{}, fmt.Errorf("get user: %w", err)
	}
	return rec, nil
}

func lockUser(ctx context.Context, tx pgx.Tx, id string) error {
	var locked string
	err := tx.QueryRow(ctx, `SELECT id::text FROM twofa_users WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return twofa.ErrUserNotFound
	}
	return err
}

func replaceCodes(ctx context.Context, tx pgx.Tx, id string, codes twofa.BackupCodeSet) error {
	if _, err := tx.Exec(ctx, `DELETE FROM twofa_backup_codes WHERE user_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE twofa_users SET backup_code_salt = $2 WHERE id = $1`, id, codes.Salt); err != nil {
		return err
	}
	if len(codes.Codes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range codes.Codes {
		batch.Queue(`
			INSERT INTO twofa_backup_codes (user_id, code_hash, used_at)
			VALUES ($1, $2, CASE WHEN $3::boolean THEN now() END)`,
			id, c.Hash[:], c.Used)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func scanUser(row pgx.Row) (twofa.UserRecord, error) {
	var (
		rec   twofa.UserRecord
		epoch int64
	)
	err := row.Scan(&rec.UserID, &rec.Email, &rec.PasswordHash, &rec.EmailVerified,
		&rec.TwoFactorEnabled, &rec.TOTPSecret, &epoch)
	rec.TrustEpoch = uint64(epoch)
	return rec, err
}

func parseID(userID string) (string, bool) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

var _ twofa.CredentialStore = (*Store)(nil)
