package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/loader-licensing/internal/model"
)

// ProductRepo provides persistence for products and their versions.
type ProductRepo struct {
	db *sql.DB
}

func NewProductRepo(db *sql.DB) *ProductRepo { return &ProductRepo{db: db} }

func scanProduct(s rowScanner) (model.Product, error) {
	var (
		p          model.Product
		versionID  sql.NullString
		lastUpdate sql.NullTime
	)
	if err := s.Scan(&p.ID, &p.Name, &p.Status, &p.CreatedAt, &p.Process, &versionID, &lastUpdate); err != nil {
		return p, err
	}
	p.VersionID = stringPtr(versionID)
	p.LastUpdate = timePtr(lastUpdate)
	return p, nil
}

// scanProductWithVersion scans a product row followed by the columns of a
// LEFT JOINed product_versions row.
func scanProductWithVersion(s rowScanner) (model.EntitledProduct, error) {
	var (
		ep         model.EntitledProduct
		versionID  sql.NullString
		lastUpdate sql.NullTime
		vID        sql.NullString
		vProduct   sql.NullString
		vVersion   sql.NullString
		vCreated   sql.NullTime
		vUpdated   sql.NullTime
		vKey       sql.NullString
	)
	err := s.Scan(&ep.ID, &ep.Name, &ep.Status, &ep.CreatedAt, &ep.Process, &versionID, &lastUpdate,
		&vID, &vProduct, &vVersion, &vCreated, &vUpdated, &vKey)
	if err != nil {
		return ep, err
	}
	ep.VersionID = stringPtr(versionID)
	ep.LastUpdate = timePtr(lastUpdate)
	if vID.Valid {
		ep.ActiveVersion = &model.ProductVersion{
			ID:         vID.String,
			ProductID:  vProduct.String,
			Version:    vVersion.String,
			CreatedAt:  vCreated.Time,
			LastUpdate: vUpdated.Time,
			Key:        vKey.String,
		}
	}
	return ep, nil
}

const qProductInsert = `INSERT INTO products (id, name, status, process) VALUES (?, ?, ?, ?)`

// Create inserts a product, generating its id when empty. A duplicate name
// yields ErrConflict.
func (r *ProductRepo) Create(ctx context.Context, p *model.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Name = strings.TrimSpace(p.Name)
	if _, err := r.db.ExecContext(ctx, qProductInsert, p.ID, p.Name, p.Status, p.Process); err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

const qProductByID = `SELECT id, name, status, created_at, process, version_id, last_update FROM products WHERE id = ?`

func (r *ProductRepo) GetByID(ctx context.Context, id string) (*model.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, qProductByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

const qProductList = `SELECT p.id, p.name, p.status, p.created_at, p.process, p.version_id, p.last_update,
       v.id, v.product_id, v.version, v.created_at, v.last_update, v.secret_key
FROM products p
LEFT JOIN product_versions v ON v.id = p.version_id AND v.product_id = p.id
ORDER BY p.name`

// List returns every product with its active version.
func (r *ProductRepo) List(ctx context.Context) ([]model.EntitledProduct, error) {
	rows, err := r.db.QueryContext(ctx, qProductList)
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

const qProductNameTaken = `SELECT EXISTS(SELECT 1 FROM products WHERE name = ?)`

func (r *ProductRepo) NameTaken(ctx context.Context, name string) (bool, error) {
	var taken bool
	err := r.db.QueryRowContext(ctx, qProductNameTaken, strings.TrimSpace(name)).Scan(&taken)
	return taken, err
}

const qProductRename = `UPDATE products SET name = ? WHERE id = ?`

func (r *ProductRepo) Rename(ctx context.Context, id, name string) error {
	err := affectedOrNotFound(r.db.ExecContext(ctx, qProductRename, strings.TrimSpace(name), id))
	if isDuplicate(err) {
		return ErrConflict
	}
	return err
}

const qProductSetStatus = `UPDATE products SET status = ? WHERE id = ?`

func (r *ProductRepo) SetStatus(ctx context.Context, id string, status model.ProductStatus) error {
	return affectedOrNotFound(r.db.ExecContext(ctx, qProductSetStatus, status, id))
}

const qProductSetProcess = `UPDATE products SET process = ? WHERE id = ?`

func (r *ProductRepo) SetProcess(ctx context.Context, id, process string) error {
	return affectedOrNotFound(r.db.ExecContext(ctx, qProductSetProcess, process, id))
}

const qProductDelete = `DELETE FROM products WHERE id = ?`

// Remove deletes the product; versions and grants cascade.
func (r *ProductRepo) Remove(ctx context.Context, id string) error {
	return affectedOrNotFound(r.db.ExecContext(ctx, qProductDelete, id))
}

const versionColumns = `id, product_id, version, created_at, last_update, secret_key`

func scanVersion(s rowScanner) (model.ProductVersion, error) {
	var v model.ProductVersion
	err := s.Scan(&v.ID, &v.ProductID, &v.Version, &v.CreatedAt, &v.LastUpdate, &v.Key)
	return v, err
}

const qVersionsByProduct = `SELECT ` + versionColumns + ` FROM product_versions WHERE product_id = ? ORDER BY created_at DESC`

// Versions lists every uploaded version of a product, newest first.
func (r *ProductRepo) Versions(ctx context.Context, productID string) ([]model.ProductVersion, error) {
	rows, err := r.db.QueryContext(ctx, qVersionsByProduct, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.ProductVersion{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

const qVersionFind = `SELECT ` + versionColumns + ` FROM product_versions WHERE product_id = ? AND version = ?`

// FindVersion looks a version up by its version string within a product.
func (r *ProductRepo) FindVersion(ctx context.Context, productID, version string) (*model.ProductVersion, error) {
	v, err := scanVersion(r.db.QueryRowContext(ctx, qVersionFind, productID, version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

const qVersionInsert = `INSERT INTO product_versions (id, product_id, version, secret_key, created_at, last_update) VALUES (?, ?, ?, ?, ?, ?)`

// CreateVersion inserts a version row; ID is generated when empty.
func (r *ProductRepo) CreateVersion(ctx context.Context, v *model.ProductVersion) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	if v.LastUpdate.IsZero() {
		v.LastUpdate = now
	}
	_, err := r.db.ExecContext(ctx, qVersionInsert, v.ID, v.ProductID, v.Version, v.Key, v.CreatedAt, v.LastUpdate)
	if isDuplicate(err) {
		return ErrConflict
	}
	return err
}

const qVersionUpdateKey = `UPDATE product_versions SET secret_key = ?, last_update = ? WHERE id = ?`

// UpdateVersionKey stores the key of a re-uploaded blob.
func (r *ProductRepo) UpdateVersionKey(ctx context.Context, versionID, key string, at time.Time) error {
	return affectedOrNotFound(r.db.ExecContext(ctx, qVersionUpdateKey, key, at, versionID))
}

const qProductSetVersion = `UPDATE products p
JOIN product_versions v ON v.id = ? AND v.product_id = p.id
SET p.version_id = v.id, p.last_update = ?
WHERE p.id = ?`

// SetActiveVersion points the product at versionID. The join guarantees the
// version belongs to the product; otherwise ErrNotFound is returned.
func (r *ProductRepo) SetActiveVersion(ctx context.Context, productID, versionID string, at time.Time) error {
	return affectedOrNotFound(r.db.ExecContext(ctx, qProductSetVersion, versionID, at, productID))
}
