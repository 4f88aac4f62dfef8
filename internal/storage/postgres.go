package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgconn"

	"session_auth/internal/models"
)

const (
	uniqueViolation = "23505"

	usernameConstraint = "users_username_key"
	emailConstraint    = "users_email_key"
)

// PostgresStorage implements UserStorage and TokenStorage on top of
// database/sql with the pgx driver.
type PostgresStorage struct {
	db DBTX
}

func NewPostgresStorage(db DBTX) *PostgresStorage {
	return &PostgresStorage{
		db: db,
	}
}

func (p *PostgresStorage) CreateUser(ctx context.Context, user models.User) error {
	const op = "storage.CreateUser"

	query := fmt.Sprintf(`INSERT INTO %s(id, username, email, password_hash, created_at)
	VALUES ($1, $2, $3, $4, $5)`, usersTable)

	_, err := p.db.ExecContext(ctx, query, user.ID, user.Username, user.Email, user.PasswordHash, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case usernameConstraint:
				return fmt.Errorf("%s: %w", op, ErrUsernameExists)
			case emailConstraint:
				return fmt.Errorf("%s: %w", op, ErrEmailExists)
			}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (p *PostgresStorage) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	const op = "storage.GetUserByUsername"

	user, err := p.getUser(ctx, "username", username)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (p *PostgresStorage) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	const op = "storage.GetUserByEmail"

	user, err := p.getUser(ctx, "email", email)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (p *PostgresStorage) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	const op = "storage.GetUserByID"

	user, err := p.getUser(ctx, "id", userID)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// getUser selects a single user by column. column is never user input.
func (p *PostgresStorage) getUser(ctx context.Context, column string, value any) (models.User, error) {
	var user models.User
	query := fmt.Sprintf("SELECT id, username, email, password_hash, created_at FROM %s WHERE %s=$1", usersTable, column)

	err := p.db.QueryRowContext(ctx, query, value).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user, ErrNotFound
		}
		return user, err
	}

	return user, nil
}

func (p *PostgresStorage) SetPasswordHash(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	const op = "storage.SetPasswordHash"

	query := fmt.Sprintf("UPDATE %s SET password_hash=$1 WHERE id=$2", usersTable)

	res, err := p.db.ExecContext(ctx, query, passwordHash, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	return nil
}

func (p *PostgresStorage) Store(ctx context.Context, token models.RefreshToken) error {
	const op = "storage.Store"

	query := fmt.Sprintf(`INSERT INTO %s(token_hash, user_id, used, expires_at, created_at)
	VALUES ($1, $2, FALSE, $3, $4)`, refreshTokensTable)

	_, err := p.db.ExecContext(ctx, query, token.TokenHash, token.UserID, token.ExpiresAt, token.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%s: %w", op, ErrDuplicateToken)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (p *PostgresStorage) FindActive(ctx context.Context, tokenHash string, userID uuid.UUID) (models.RefreshToken, error) {
	const op = "storage.FindActive"

	query := fmt.Sprintf(`SELECT token_hash, user_id, used, used_at, expires_at, created_at
	FROM %s WHERE token_hash=$1 AND user_id=$2`, refreshTokensTable)

	token, err := scanToken(p.db.QueryRowContext(ctx, query, tokenHash, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return token, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return token, fmt.Errorf("%s: %w", op, err)
	}

	return token, nil
}

func (p *PostgresStorage) MarkUsed(ctx context.Context, tokenHash string, userID uuid.UUID, now time.Time) error {
	const op = "storage.MarkUsed"

	query := fmt.Sprintf(`UPDATE %s SET used=TRUE, used_at=$3
	WHERE token_hash=$1 AND user_id=$2 AND used=FALSE`, refreshTokensTable)

	res, err := p.db.ExecContext(ctx, query, tokenHash, userID, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 1 {
		return nil
	}

	// Nothing changed: either the row is gone or someone else consumed it.
	var used bool
	check := fmt.Sprintf("SELECT used FROM %s WHERE token_hash=$1 AND user_id=$2", refreshTokensTable)
	if err := p.db.QueryRowContext(ctx, check, tokenHash, userID).Scan(&used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return fmt.Errorf("%s: %w", op, ErrTokenUsed)
}

func (p *PostgresStorage) PurgeExpired(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.RefreshToken, error) {
	const op = "storage.PurgeExpired"

	query := fmt.Sprintf(`DELETE FROM %s WHERE user_id=$1 AND expires_at < $2
	RETURNING token_hash, user_id, used, used_at, expires_at, created_at`, refreshTokensTable)

	rows, err := p.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var purged []models.RefreshToken
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return purged, fmt.Errorf("%s: %w", op, err)
		}

		purged = append(purged, token)
	}
	if err := rows.Err(); err != nil {
		return purged, fmt.Errorf("%s (rows): %w", op, err)
	}

	return purged, nil
}

func (p *PostgresStorage) PurgeAllExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.PurgeAllExpired"

	query := fmt.Sprintf("DELETE FROM %s WHERE expires_at < $1", refreshTokensTable)

	res, err := p.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func (p *PostgresStorage) RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	const op = "storage.RevokeAllForUser"

	query := fmt.Sprintf("UPDATE %s SET used=TRUE, used_at=$2 WHERE user_id=$1 AND used=FALSE", refreshTokensTable)

	res, err := p.db.ExecContext(ctx, query, userID, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (models.RefreshToken, error) {
	var (
		token  models.RefreshToken
		usedAt sql.NullTime
	)

	err := row.Scan(
		&token.TokenHash,
		&token.UserID,
		&token.Used,
		&usedAt,
		&token.ExpiresAt,
		&token.CreatedAt,
	)
	if err != nil {
		return token, err
	}

	if usedAt.Valid {
		t := usedAt.Time
		token.UsedAt = &t
	}

	return token, nil
}
