package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"guardian.org/internal/auth"
	"guardian.org/internal/ids"
)

const adminColumns = `id, username, password_hash, is_super_admin, status, login_attempts,
	locked_until, two_fa_secret, last_login_at, created_at, updated_at`

type adminStore struct {
	db *sql.DB
}

func scanAdmin(row interface{ Scan(...any) error }) (auth.AdminIdentity, error) {
	var (
		a           auth.AdminIdentity
		status      string
		lockedUntil sql.NullTime
		secret      sql.NullString
		lastLogin   sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.IsSuperAdmin, &status, &a.LoginAttempts,
		&lockedUntil, &secret, &lastLogin, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.AdminIdentity{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.AdminIdentity{}, err
	}
	a.Status = auth.AdminStatus(status)
	a.LockedUntil = timePtr(lockedUntil)
	a.TwoFactorSecret = stringPtr(secret)
	a.LastLoginAt = timePtr(lastLogin)
	return a, nil
}

func (s adminStore) FindByID(ctx context.Context, id string) (auth.AdminIdentity, error) {
	if s.db == nil {
		return auth.AdminIdentity{}, errNoDB
	}
	return scanAdmin(s.db.QueryRowContext(ctx, `select `+adminColumns+` from admins where id = $1`, id))
}

func (s adminStore) FindByUsername(ctx context.Context, username string) (auth.AdminIdentity, error) {
	if s.db == nil {
		return auth.AdminIdentity{}, errNoDB
	}
	return scanAdmin(s.db.QueryRowContext(ctx, `select `+adminColumns+` from admins where username = $1`, username))
}

// RecordLoginFailure increments and locks in one statement so concurrent
// failures cannot lose an increment.
func (s adminStore) RecordLoginFailure(ctx context.Context, id string, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	if s.db == nil {
		return 0, nil, errNoDB
	}
	var (
		attempts int
		locked   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		update admins
		set login_attempts = login_attempts + 1,
		    locked_until = case when login_attempts + 1 >= $2 then $3 else locked_until end,
		    updated_at = now()
		where id = $1
		returning login_attempts, locked_until
	`, id, threshold, lockUntil).Scan(&attempts, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, auth.ErrNotFound
	}
	if err != nil {
		return 0, nil, err
	}
	return attempts, timePtr(locked), nil
}

func (s adminStore) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, `
		update admins
		set login_attempts = 0, locked_until = null, last_login_at = $2, updated_at = now()
		where id = $1
	`, id, at)
}

func (s adminStore) SetTwoFactorSecret(ctx context.Context, id string, secret *string) error {
	var value sql.NullString
	if secret != nil {
		value = nullIfEmpty(*secret)
	}
	return s.exec(ctx, `update admins set two_fa_secret = $2, updated_at = now() where id = $1`, id, value)
}

func (s adminStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.exec(ctx, `update admins set password_hash = $2, updated_at = now() where id = $1`, id, hash)
}

func (s adminStore) Unlock(ctx context.Context, id string) error {
	return s.exec(ctx, `update admins set login_attempts = 0, locked_until = null, updated_at = now() where id = $1`, id)
}

func (s adminStore) exec(ctx context.Context, query string, args ...any) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// BootstrapSuperAdmin creates the initial super administrator and assigns
// it the super_admin role. It does nothing when the username exists.
func (s *Store) BootstrapSuperAdmin(ctx context.Context, username, passwordHash string) (string, bool, error) {
	username = strings.TrimSpace(username)
	if username == "" || passwordHash == "" {
		return "", false, fmt.Errorf("%w: username and password hash are required", auth.ErrInvalidInput)
	}
	if s.db == nil {
		return "", false, errNoDB
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, err
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRowContext(ctx, `
		insert into admins (id, username, password_hash, is_super_admin, status)
		values ($1, $2, $3, true, 'active')
		on conflict (username) do nothing
		returning id
	`, ids.New(), username, passwordHash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return "", false, nil
		}
		return "", false, err
	}

	// The role row comes from the seed; without it the flag alone grants access.
	if _, err := tx.ExecContext(ctx, `
		insert into admin_roles (admin_id, role_id)
		select $1, id from roles where code = 'super_admin'
		on conflict do nothing
	`, id); err != nil {
		return "", false, err
	}

	if err := tx.Commit(); err != nil {
		return "", false, err
	}
	return id, true, nil
}
