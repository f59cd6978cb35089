package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/oops"

	"github.com/ovaphlow/pitchfork/service-identity/internal/account/entity"
)

var (
	ErrNotFound  = errors.New("account not found")
	ErrDuplicate = errors.New("username or email already taken")
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// IsUniqueViolation reports whether err is a postgres unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// IsForeignKeyViolation reports whether err is a postgres foreign key failure.
func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation
}

// AccountRepo provides data access for the accounts table using sqlx.
type AccountRepo struct {
	db *sqlx.DB
}

func NewAccountRepo(db *sqlx.DB) *AccountRepo { return &AccountRepo{db: db} }

const profileColumns = `id, username, email, full_name, avatar_url, cover_image_url, created_at, updated_at`

const accountColumns = `id, username, email, full_name, password_hash, password_algo,
	avatar_url, avatar_remote_id, cover_image_url, cover_image_remote_id,
	refresh_token, created_at, updated_at`

// Create inserts a new account row. Returns ErrDuplicate when username or
// email is already taken.
func (r *AccountRepo) Create(ctx context.Context, a *entity.Account) error {
	const q = `INSERT INTO accounts (id, username, email, full_name, password_hash, password_algo,
		avatar_url, avatar_remote_id, cover_image_url, cover_image_remote_id)
		VALUES (:id, :username, :email, :full_name, :password_hash, :password_algo,
		:avatar_url, :avatar_remote_id, :cover_image_url, :cover_image_remote_id)`
	if _, err := r.db.NamedExecContext(ctx, q, a); err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return oops.With("operation", "create account").With("account_id", a.ID).Wrap(err)
	}
	return nil
}

// ExistsByUsernameOrEmail reports whether any account already uses username or email.
func (r *AccountRepo) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM accounts WHERE username=$1 OR email=$2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, q, username, email); err != nil {
		return false, oops.With("operation", "check account uniqueness").Wrap(err)
	}
	return exists, nil
}

// FindByUsernameOrEmail returns the full row matched by username or email.
// Empty arguments never match.
func (r *AccountRepo) FindByUsernameOrEmail(ctx context.Context, username, email string) (*entity.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts
		WHERE ($1 <> '' AND username=$1) OR ($2 <> '' AND email=$2)
		ORDER BY created_at LIMIT 1`
	var a entity.Account
	if err := r.db.GetContext(ctx, &a, q, username, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, oops.With("operation", "find account by identity").Wrap(err)
	}
	return &a, nil
}

// GetByID fetches a full account row including the credential digest.
func (r *AccountRepo) GetByID(ctx context.Context, id string) (*entity.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE id=$1`
	var a entity.Account
	if err := r.db.GetContext(ctx, &a, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, oops.With("operation", "get account").With("account_id", id).Wrap(err)
	}
	return &a, nil
}

// GetProfile returns the safe projection. The credential and refresh token
// columns are never selected.
func (r *AccountRepo) GetProfile(ctx context.Context, id string) (*entity.Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM accounts WHERE id=$1`
	var p entity.Profile
	if err := r.db.GetContext(ctx, &p, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, oops.With("operation", "get profile").With("account_id", id).Wrap(err)
	}
	return &p, nil
}

// Exists reports whether an account with id is present.
func (r *AccountRepo) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id=$1)`, id); err != nil {
		return false, oops.With("operation", "check account exists").With("account_id", id).Wrap(err)
	}
	return exists, nil
}

// UpdatePassword replaces the password digest.
func (r *AccountRepo) UpdatePassword(ctx context.Context, id, hash, algo string) error {
	const q = `UPDATE accounts SET password_hash=$2, password_algo=$3, password_updated_at=NOW(), updated_at=NOW() WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, id, hash, algo)
	if err != nil {
		return oops.With("operation", "update password").With("account_id", id).Wrap(err)
	}
	return expectOneRow(res)
}

// UpdateDetails changes full name and email and returns the updated profile.
func (r *AccountRepo) UpdateDetails(ctx context.Context, id, fullName, email string) (*entity.Profile, error) {
	q := `UPDATE accounts SET full_name=$2, email=$3, updated_at=NOW() WHERE id=$1 RETURNING ` + profileColumns
	var p entity.Profile
	if err := r.db.GetContext(ctx, &p, q, id, fullName, email); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrNotFound
		case IsUniqueViolation(err):
			return nil, ErrDuplicate
		}
		return nil, oops.With("operation", "update details").With("account_id", id).Wrap(err)
	}
	return &p, nil
}

// SetRefreshToken overwrites the stored refresh token unconditionally.
func (r *AccountRepo) SetRefreshToken(ctx context.Context, id, token string) error {
	const q = `UPDATE accounts SET refresh_token=$2, updated_at=NOW() WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, id, token)
	if err != nil {
		return oops.With("operation", "set refresh token").With("account_id", id).Wrap(err)
	}
	return expectOneRow(res)
}

// SwapRefreshToken replaces the stored refresh token with next only if it
// currently equals expected. The comparison and the write happen in one
// statement so two concurrent rotations of the same token cannot both win.
func (r *AccountRepo) SwapRefreshToken(ctx context.Context, id, expected, next string) (bool, error) {
	const q = `UPDATE accounts SET refresh_token=$3, updated_at=NOW() WHERE id=$1 AND refresh_token=$2`
	res, err := r.db.ExecContext(ctx, q, id, expected, next)
	if err != nil {
		return false, oops.With("operation", "swap refresh token").With("account_id", id).Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, oops.With("operation", "swap refresh token").With("account_id", id).Wrap(err)
	}
	return n == 1, nil
}

// ClearRefreshToken removes the stored refresh token. Clearing an already
// empty token or an unknown account is not an error.
func (r *AccountRepo) ClearRefreshToken(ctx context.Context, id string) error {
	const q = `UPDATE accounts SET refresh_token=NULL, updated_at=NOW() WHERE id=$1 AND refresh_token IS NOT NULL`
	if _, err := r.db.ExecContext(ctx, q, id); err != nil {
		return oops.With("operation", "clear refresh token").With("account_id", id).Wrap(err)
	}
	return nil
}

// RefreshToken returns the stored refresh token, or "" when none is stored.
func (r *AccountRepo) RefreshToken(ctx context.Context, id string) (string, error) {
	var tok sql.NullString
	if err := r.db.GetContext(ctx, &tok, `SELECT refresh_token FROM accounts WHERE id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", oops.With("operation", "get refresh token").With("account_id", id).Wrap(err)
	}
	return tok.String, nil
}

// SwapAsset stores next under field and returns the reference it replaced.
// The previous value is read under a row lock in the same statement.
func (r *AccountRepo) SwapAsset(ctx context.Context, id string, field entity.AssetField, next entity.Asset) (entity.Asset, error) {
	urlCol, remoteCol, ok := field.Columns()
	if !ok {
		return entity.Asset{}, oops.With("field", string(field)).Errorf("unknown asset field")
	}
	q := fmt.Sprintf(`UPDATE accounts a SET %[1]s=$2, %[2]s=$3, updated_at=NOW()
		FROM (SELECT id, %[1]s, %[2]s FROM accounts WHERE id=$1 FOR UPDATE) old
		WHERE a.id = old.id
		RETURNING old.%[1]s AS url, old.%[2]s AS remote_id`, urlCol, remoteCol)
	var prev entity.Asset
	if err := r.db.GetContext(ctx, &prev, q, id, next.URL, next.RemoteID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.Asset{}, ErrNotFound
		}
		return entity.Asset{}, oops.With("operation", "swap asset").With("account_id", id).With("field", string(field)).Wrap(err)
	}
	return prev, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return oops.Wrap(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
