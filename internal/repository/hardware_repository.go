package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/loader-licensing/internal/model"
)

// HardwareRepo persists device-binding attempts.
type HardwareRepo struct {
	db *sql.DB
}

func NewHardwareRepo(db *sql.DB) *HardwareRepo { return &HardwareRepo{db: db} }

const qHardwareByAccount = `SELECT id, created_at, state, hash, components, account_id
FROM hardware WHERE account_id = ? ORDER BY created_at DESC`

// ListByAccount returns the binding history of an account, newest first.
func (r *HardwareRepo) ListByAccount(ctx context.Context, accountID string) ([]model.Hardware, error) {
	rows, err := r.db.QueryContext(ctx, qHardwareByAccount, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Hardware{}
	for rows.Next() {
		var h model.Hardware
		if err := rows.Scan(&h.ID, &h.CreatedAt, &h.State, &h.Hash, &h.Components, &h.AccountID); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

const qHardwareSetBoundState = `UPDATE hardware h
JOIN accounts a ON a.active_hardware_id = h.id
SET h.state = ?
WHERE a.id = ?`

// SetBoundState changes the approval state of the device currently bound to
// accountID. ErrNotFound is returned when nothing is bound.
func (r *HardwareRepo) SetBoundState(ctx context.Context, accountID string, state model.HardwareState) error {
	return affectedOrNotFound(r.db.ExecContext(ctx, qHardwareSetBoundState, state, accountID))
}

const (
	qBindLockAccount = `SELECT active_hardware_id FROM accounts WHERE id = ? FOR UPDATE`
	qBindHistory     = `SELECT COUNT(*) FROM hardware WHERE account_id = ?`
	qBindInsert      = `INSERT INTO hardware (id, created_at, state, hash, components, account_id) VALUES (?, ?, ?, ?, ?, ?)`
	qBindAccount     = `UPDATE accounts SET active_hardware_id = ? WHERE id = ?`
)

// Bind creates a hardware row for an unbound account and makes it the
// account's active device, all under a row lock on the account. decide
// receives the number of earlier bindings and returns the initial state.
// If the account got bound in the meantime ErrAlreadyBound is returned and
// nothing is written.
func (r *HardwareRepo) Bind(ctx context.Context, accountID, hash string, components []byte, decide func(history int) model.HardwareState) (*model.Hardware, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var bound sql.NullString
	if err := tx.QueryRowContext(ctx, qBindLockAccount, accountID).Scan(&bound); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock account: %w", err)
	}
	if bound.Valid {
		return nil, ErrAlreadyBound
	}

	var history int
	if err := tx.QueryRowContext(ctx, qBindHistory, accountID).Scan(&history); err != nil {
		return nil, fmt.Errorf("count hardware: %w", err)
	}

	h := &model.Hardware{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		State:      decide(history),
		Hash:       hash,
		Components: components,
		AccountID:  accountID,
	}
	if _, err := tx.ExecContext(ctx, qBindInsert, h.ID, h.CreatedAt, h.State, h.Hash, []byte(h.Components), h.AccountID); err != nil {
		return nil, fmt.Errorf("insert hardware: %w", err)
	}
	if _, err := tx.ExecContext(ctx, qBindAccount, h.ID, accountID); err != nil {
		return nil, fmt.Errorf("bind account: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return h, nil
}
