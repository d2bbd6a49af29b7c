package pg

import (
	"context"
	"database/sql"
	"time"
)

type revocationStore struct {
	db *sql.DB
}

func (s revocationStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into token_blacklist (token_id, expires_at, created_at)
		values ($1, $2, now())
		on conflict (token_id) do nothing
	`, tokenID, expiresAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return nil
	}
	return err
}

func (s revocationStore) IsRevoked(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		select exists (
			select 1 from token_blacklist where token_id = $1 and expires_at > $2
		)
	`, tokenID, now).Scan(&revoked)
	if err != nil {
		return false, err
	}
	return revoked, nil
}

func (s revocationStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from token_blacklist where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
