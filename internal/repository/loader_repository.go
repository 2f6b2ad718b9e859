package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/loader-licensing/internal/model"
)

// LoaderRepo reads and writes the singleton core_loader row.
type LoaderRepo struct {
	db *sql.DB
}

func NewLoaderRepo(db *sql.DB) *LoaderRepo { return &LoaderRepo{db: db} }

const qLoaderSelect = `SELECT id, active, version, last_update, public_key, private_key FROM core_loader WHERE id = ?`

// Get returns the loader row or ErrNotFound.
func (r *LoaderRepo) Get(ctx context.Context, id string) (*model.Loader, error) {
	var (
		l          model.Loader
		lastUpdate sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, qLoaderSelect, id).
		Scan(&l.ID, &l.Active, &l.Version, &lastUpdate, &l.PublicKey, &l.PrivateKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	l.LastUpdate = timePtr(lastUpdate)
	return &l, nil
}

const qLoaderInsert = `INSERT INTO core_loader (id, active, version, public_key, private_key) VALUES (?, ?, ?, ?, ?)`

// Insert seeds the loader row. A concurrent seed by another instance is
// reported as ErrConflict.
func (r *LoaderRepo) Insert(ctx context.Context, l *model.Loader) error {
	_, err := r.db.ExecContext(ctx, qLoaderInsert, l.ID, l.Active, l.Version, l.PublicKey, l.PrivateKey)
	if isDuplicate(err) {
		return ErrConflict
	}
	return err
}

const qLoaderUpdateKeys = `UPDATE core_loader SET public_key = ?, private_key = ? WHERE id = ?`

func (r *LoaderRepo) UpdateKeys(ctx context.Context, id, publicKey, privateKey string) error {
	return affectedOrNotFound(r.db.ExecContext(ctx, qLoaderUpdateKeys, publicKey, privateKey, id))
}

const qLoaderUpdateActive = `UPDATE core_loader SET active = ? WHERE id = ?`

func (r *LoaderRepo) UpdateActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.ExecContext(ctx, qLoaderUpdateActive, active, id)
	return err
}

const qLoaderUpdateRelease = `UPDATE core_loader SET version = ?, active = ?, last_update = ? WHERE id = ?`

// UpdateRelease records a new installer upload.
func (r *LoaderRepo) UpdateRelease(ctx context.Context, id, version string, active bool, at time.Time) error {
	_, err := r.db.ExecContext(ctx, qLoaderUpdateRelease, version, active, at, id)
	return err
}
