package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/iliyamo/loader-licensing/internal/model"
	"github.com/iliyamo/loader-licensing/internal/utils"
)

// AccountRepo provides persistence for accounts and their product grants.
type AccountRepo struct {
	db *sql.DB
}

func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{db: db} }

const accountColumns = `a.id, a.username, a.active, a.created_at, a.password, a.access_key, a.active_hardware_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(s rowScanner, extra ...any) (model.Account, error) {
	var (
		a        model.Account
		password sql.NullString
		hwID     sql.NullString
	)
	dest := append([]any{&a.ID, &a.Username, &a.Active, &a.CreatedAt, &password, &a.AccessKey, &hwID}, extra...)
	if err := s.Scan(dest...); err != nil {
		return a, err
	}
	a.Password = stringPtr(password)
	a.ActiveHardwareID = stringPtr(hwID)
	return a, nil
}

const qAccountInsert = `INSERT INTO accounts (id, username, active, access_key) VALUES (?, ?, ?, ?)`

// Create inserts a new account. ID and AccessKey are generated when empty
// and written back into a. Duplicate ids or usernames yield ErrConflict.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.AccessKey == "" {
		key, err := utils.NewAccessKey()
		if err != nil {
			return err
		}
		a.AccessKey = key
	}
	a.Username = strings.TrimSpace(a.Username)
	if _, err := r.db.ExecContext(ctx, qAccountInsert, a.ID, a.Username, a.Active, a.AccessKey); err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

const qAccountByID = `SELECT ` + accountColumns + ` FROM accounts a WHERE a.id = ?`

// GetByID fetches an account without relations.
func (r *AccountRepo) GetByID(ctx context.Context, id string) (*model.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, qAccountByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

const qAccountList = `SELECT ` + accountColumns + ` FROM accounts a ORDER BY a.username`

func (r *AccountRepo) List(ctx context.Context) ([]model.Account, error) {
	rows, err := r.db.QueryContext(ctx, qAccountList)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const qAccountUsernameTaken = `SELECT EXISTS(SELECT 1 FROM accounts WHERE username = ?)`

// UsernameTaken reports whether another account already uses username.
func (r *AccountRepo) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var taken bool
	err := r.db.QueryRowContext(ctx, qAccountUsernameTaken, strings.TrimSpace(username)).Scan(&taken)
	return taken, err
}

const qAccountRename = `UPDATE accounts SET username = ? WHERE id = ?`

func (r *AccountRepo) Rename(ctx context.Context, id, username string) error {
	err := affectedOrNotFound(r.db.ExecContext(ctx, qAccountRename, strings.TrimSpace(username), id))
	if isDuplicate(err) {
		return ErrConflict
	}
	return err
}

const qAccountSetActive = `UPDATE accounts SET active = ? WHERE id = ?`

func (r *AccountRepo) SetActive(ctx context.Context, id string, active bool) error {
	return affectedOrNotFound(r.db.ExecContext(ctx, qAccountSetActive, active, id))
}

const qAccountSetPassword = `UPDATE accounts SET password = ? WHERE id = ?`

// SetPassword stores a new password hash; nil clears it so the next login
// sets a fresh one.
func (r *AccountRepo) SetPassword(ctx context.Context, id string, hash *string) error {
	return affectedOrNotFound(r.db.ExecContext(ctx, qAccountSetPassword, nullString(hash), id))
}

const qAccountUnbind = `UPDATE accounts SET active_hardware_id = NULL WHERE id = ? AND active_hardware_id IS NOT NULL`

// UnbindHardware clears the bound device. It returns ErrNotFound when the
// account has no bound device.
func (r *AccountRepo) UnbindHardware(ctx context.Context, id string) error {
	return affectedOrNotFound(r.db.ExecContext(ctx, qAccountUnbind, id))
}

const qAccountDelete = `DELETE FROM accounts WHERE id = ?`

// Remove deletes the account; hardware rows and grants cascade.
func (r *AccountRepo) Remove(ctx context.Context, id string) error {
	return affectedOrNotFound(r.db.ExecContext(ctx, qAccountDelete, id))
}

const qGrantInsert = `INSERT INTO account_products (account_id, product_id) VALUES (?, ?)`

// Grant entitles an account to a product. An existing grant is ErrConflict.
func (r *AccountRepo) Grant(ctx context.Context, accountID, productID string) error {
	_, err := r.db.ExecContext(ctx, qGrantInsert, accountID, productID)
	if isDuplicate(err) {
		return ErrConflict
	}
	return err
}

const qGrantDelete = `DELETE FROM account_products WHERE account_id = ? AND product_id = ?`

// Revoke removes a grant. A missing grant is ErrNotFound.
func (r *AccountRepo) Revoke(ctx context.Context, accountID, productID string) error {
	return affectedOrNotFound(r.db.ExecContext(ctx, qGrantDelete, accountID, productID))
}

const qEntitledProducts = `SELECT p.id, p.name, p.status, p.created_at, p.process, p.version_id, p.last_update,
       v.id, v.product_id, v.version, v.created_at, v.last_update, v.secret_key
FROM account_products ap
JOIN products p ON p.id = ap.product_id
LEFT JOIN product_versions v ON v.id = p.version_id AND v.product_id = p.id
WHERE ap.account_id = ?
ORDER BY p.name`

// entitledProducts loads every product granted to accountID together with
// its active version.
func entitledProducts(ctx context.Context, q querier, accountID string) ([]model.EntitledProduct, error) {
	rows, err := q.QueryContext(ctx, qEntitledProducts, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.EntitledProduct{}
	for rows.Next() {
		ep, err := scanProductWithVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

const qAccountForLogin = `SELECT ` + accountColumns + `,
       h.id, h.created_at, h.state, h.hash, h.components,
       (SELECT COUNT(*) FROM hardware hh WHERE hh.account_id = a.id)
FROM accounts a
LEFT JOIN hardware h ON h.id = a.active_hardware_id
WHERE a.username = ?`

// FindForLogin loads the account with its bound device, its device history
// size and its entitlements from a single consistent snapshot.
func (r *AccountRepo) FindForLogin(ctx context.Context, username string) (*model.AccountWithHardwareAndProducts, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		out        model.AccountWithHardwareAndProducts
		hwID       sql.NullString
		hwCreated  sql.NullTime
		hwState    sql.NullInt64
		hwHash     sql.NullString
		components []byte
	)
	out.Account, err = scanAccount(tx.QueryRowContext(ctx, qAccountForLogin, strings.TrimSpace(username)),
		&hwID, &hwCreated, &hwState, &hwHash, &components, &out.History)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if hwID.Valid {
		out.ActiveHardware = &model.Hardware{
			ID:         hwID.String,
			CreatedAt:  hwCreated.Time,
			State:      model.HardwareState(hwState.Int64),
			Hash:       hwHash.String,
			Components: components,
			AccountID:  out.ID,
		}
	}
	if out.Products, err = entitledProducts(ctx, tx, out.ID); err != nil {
		return nil, err
	}
	return &out, tx.Commit()
}

const qAccountByAccessKey = `SELECT ` + accountColumns + ` FROM accounts a WHERE a.access_key = ?`

// FindWithProducts loads an account by id with its entitlements.
func (r *AccountRepo) FindWithProducts(ctx context.Context, id string) (*model.AccountWithProducts, error) {
	return r.findWithProducts(ctx, qAccountByID, id)
}

// FindByAccessKeyWithProducts loads an account by access key with its
// entitlements.
func (r *AccountRepo) FindByAccessKeyWithProducts(ctx context.Context, accessKey string) (*model.AccountWithProducts, error) {
	return r.findWithProducts(ctx, qAccountByAccessKey, accessKey)
}

func (r *AccountRepo) findWithProducts(ctx context.Context, query string, arg string) (*model.AccountWithProducts, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var out model.AccountWithProducts
	out.Account, err = scanAccount(tx.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if out.Products, err = entitledProducts(ctx, tx, out.ID); err != nil {
		return nil, err
	}
	return &out, tx.Commit()
}
