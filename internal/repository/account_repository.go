package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"profscore/api/internal/models"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrDuplicateAccount = errors.New("username or email already registered")
)

const accountColumns = `
	id, username, email, password_hash, first_name, last_name, role,
	email_verified, verification_token, reset_token, reset_token_expiry,
	created_at, updated_at
`

type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

func (r *AccountRepository) Create(ctx context.Context, account models.Account) error {
	const query = `
		INSERT INTO accounts (
			id, username, email, password_hash, first_name, last_name, role,
			email_verified, verification_token, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW()
		)
	`

	_, err := r.pool.Exec(ctx, query,
		account.ID,
		strings.ToLower(account.Username),
		account.Email,
		account.PasswordHash,
		account.FirstName,
		account.LastName,
		account.Role,
		account.EmailVerified,
		account.VerificationToken,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrDuplicateAccount
		}
		return err
	}
	return nil
}

func (r *AccountRepository) FindByUsername(ctx context.Context, username string) (models.Account, error) {
	const query = `
		SELECT ` + accountColumns + `
		FROM accounts WHERE username = lower($1)
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, username))
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (models.Account, error) {
	const query = `
		SELECT ` + accountColumns + `
		FROM accounts WHERE email = lower($1)
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, email))
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (models.Account, error) {
	const query = `
		SELECT ` + accountColumns + `
		FROM accounts WHERE id = $1
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *AccountRepository) FindByVerificationToken(ctx context.Context, token string) (models.Account, error) {
	const query = `
		SELECT ` + accountColumns + `
		FROM accounts WHERE verification_token = $1
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, token))
}

func (r *AccountRepository) FindByResetToken(ctx context.Context, token string) (models.Account, error) {
	const query = `
		SELECT ` + accountColumns + `
		FROM accounts WHERE reset_token = $1
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, token))
}

// MarkEmailVerified flips the verified flag and clears the verification
// token in one statement, so a replayed token no longer resolves.
func (r *AccountRepository) MarkEmailVerified(ctx context.Context, id string) error {
	const query = `
		UPDATE accounts
		SET email_verified = TRUE, verification_token = NULL, updated_at = NOW()
		WHERE id = $1
	`
	return r.exec(ctx, query, id)
}

func (r *AccountRepository) SetResetToken(ctx context.Context, id string, token string, expiry time.Time) error {
	const query = `
		UPDATE accounts
		SET reset_token = $2, reset_token_expiry = $3, updated_at = NOW()
		WHERE id = $1
	`
	return r.exec(ctx, query, id, token, expiry)
}

// ClearResetToken nulls any pending reset state without changing the hash.
func (r *AccountRepository) ClearResetToken(ctx context.Context, id string) error {
	const query = `
		UPDATE accounts
		SET reset_token = NULL, reset_token_expiry = NULL, updated_at = NOW()
		WHERE id = $1
	`
	return r.exec(ctx, query, id)
}

// ResetPassword replaces the stored hash and unconditionally clears the
// pending reset token and its expiry.
func (r *AccountRepository) ResetPassword(ctx context.Context, id string, passwordHash []byte) error {
	const query = `
		UPDATE accounts
		SET password_hash = $2, reset_token = NULL, reset_token_expiry = NULL, updated_at = NOW()
		WHERE id = $1
	`
	return r.exec(ctx, query, id, passwordHash)
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, id string, passwordHash []byte) error {
	const query = `
		UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1
	`
	return r.exec(ctx, query, id, passwordHash)
}

func (r *AccountRepository) UpdateRole(ctx context.Context, id string, role models.AccountRole) error {
	const query = `
		UPDATE accounts SET role = $2, updated_at = NOW() WHERE id = $1
	`
	return r.exec(ctx, query, id, role)
}

func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM accounts WHERE id = $1`
	return r.exec(ctx, query, id)
}

func (r *AccountRepository) List(ctx context.Context, limit, offset int) ([]models.Account, error) {
	const query = `
		SELECT ` + accountColumns + `
		FROM accounts ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		account, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// ClearExpiredResetTokens nulls reset tokens whose expiry has passed.
// Run periodically; consumption also rejects expired tokens, so this only
// keeps the table tidy.
func (r *AccountRepository) ClearExpiredResetTokens(ctx context.Context) (int64, error) {
	const query = `
		UPDATE accounts
		SET reset_token = NULL, reset_token_expiry = NULL, updated_at = NOW()
		WHERE reset_token IS NOT NULL AND reset_token_expiry < NOW()
	`
	cmd, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *AccountRepository) exec(ctx context.Context, query string, args ...any) error {
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) scanOne(row pgx.Row) (models.Account, error) {
	var account models.Account
	if err := row.Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&account.PasswordHash,
		&account.FirstName,
		&account.LastName,
		&account.Role,
		&account.EmailVerified,
		&account.VerificationToken,
		&account.ResetToken,
		&account.ResetTokenExpiry,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, ErrAccountNotFound
		}
		return models.Account{}, err
	}
	return account, nil
}
