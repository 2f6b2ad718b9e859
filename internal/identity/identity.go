// Package identity holds the process-wide Loader Identity: the deployment's
// active flag, required client version and sealed-channel key pair.
//
// Readers take a snapshot with Current and use it for the whole request.
// Writers persist first and then swap the snapshot, so requests already in
// flight finish under the value they started with.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/loader-licensing/internal/model"
	"github.com/iliyamo/loader-licensing/internal/repository"
	"github.com/iliyamo/loader-licensing/internal/sealed"
)

// DefaultVersion is the client version a freshly seeded loader expects.
const DefaultVersion = "1.0.0"

// ErrNotLoaded is returned by Current before Bootstrap succeeded.
var ErrNotLoaded = errors.New("identity: loader identity not loaded")

// ErrMisconfigured wraps failures that make the deployment unusable: the
// row cannot be seeded or its key pair does not decode.
var ErrMisconfigured = errors.New("identity: loader misconfigured")

// Identity is an immutable snapshot of the core_loader row.
type Identity struct {
	ID         string
	Active     bool
	Version    string
	LastUpdate *time.Time
	Keys       sealed.KeyPair
}

// Store is the persistence the holder needs. *repository.LoaderRepo
// satisfies it.
type Store interface {
	Get(ctx context.Context, id string) (*model.Loader, error)
	Insert(ctx context.Context, l *model.Loader) error
	UpdateKeys(ctx context.Context, id, publicKey, privateKey string) error
	UpdateActive(ctx context.Context, id string, active bool) error
	UpdateRelease(ctx context.Context, id, version string, active bool, at time.Time) error
}

// Holder owns the current Identity snapshot.
type Holder struct {
	id    string
	store Store
	log   *zap.Logger

	mu  sync.Mutex // serializes writers
	cur atomic.Pointer[Identity]
}

func NewHolder(id string, store Store, log *zap.Logger) *Holder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Holder{id: id, store: store, log: log}
}

// Current returns the snapshot requests should use.
func (h *Holder) Current() (*Identity, error) {
	if cur := h.cur.Load(); cur != nil {
		return cur, nil
	}
	return nil, ErrNotLoaded
}

// Bootstrap loads the loader row, seeding an inactive one with a fresh key
// pair when none exists. Any error wraps ErrMisconfigured and should abort
// startup.
func (h *Holder) Bootstrap(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	row, err := h.store.Get(ctx, h.id)
	if errors.Is(err, repository.ErrNotFound) {
		row, err = h.seed(ctx)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}
	id, err := fromRow(row)
	if err != nil {
		return err
	}
	h.cur.Store(id)
	h.log.Info("loader identity loaded", zap.String("id", id.ID), zap.Bool("active", id.Active), zap.String("version", id.Version))
	return nil
}

func (h *Holder) seed(ctx context.Context) (*model.Loader, error) {
	kp, err := sealed.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	row := &model.Loader{
		ID:         h.id,
		Version:    DefaultVersion,
		PublicKey:  kp.PublicHex(),
		PrivateKey: kp.PrivateHex(),
	}
	switch err := h.store.Insert(ctx, row); {
	case err == nil:
		h.log.Info("seeded loader identity", zap.String("id", h.id))
		return row, nil
	case errors.Is(err, repository.ErrConflict):
		// another instance seeded first
		return h.store.Get(ctx, h.id)
	default:
		return nil, err
	}
}

// Reload re-reads the row, picking up changes made by another instance.
func (h *Holder) Reload(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reload(ctx)
}

func (h *Holder) reload(ctx context.Context) error {
	row, err := h.store.Get(ctx, h.id)
	if err != nil {
		return fmt.Errorf("identity: reload: %w", err)
	}
	id, err := fromRow(row)
	if err != nil {
		return err
	}
	h.cur.Store(id)
	return nil
}

// RotateKeys generates and persists a new key pair and returns the new
// snapshot.
func (h *Holder) RotateKeys(ctx context.Context) (*Identity, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kp, err := sealed.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := h.store.UpdateKeys(ctx, h.id, kp.PublicHex(), kp.PrivateHex()); err != nil {
		return nil, fmt.Errorf("identity: persist keys: %w", err)
	}
	next := h.with(func(id *Identity) { id.Keys = kp })
	h.log.Info("loader keys rotated", zap.String("id", h.id))
	return next, nil
}

// SetActive toggles maintenance mode. It reports whether the flag changed.
func (h *Holder) SetActive(ctx context.Context, active bool) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur := h.cur.Load()
	if cur == nil {
		return false, ErrNotLoaded
	}
	if cur.Active == active {
		return false, nil
	}
	if err := h.store.UpdateActive(ctx, h.id, active); err != nil {
		return false, fmt.Errorf("identity: persist active: %w", err)
	}
	h.with(func(id *Identity) { id.Active = active })
	return true, nil
}

// SetRelease records a new installer version. A nil active keeps the
// current flag.
func (h *Holder) SetRelease(ctx context.Context, version string, active *bool, at time.Time) (*Identity, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur := h.cur.Load()
	if cur == nil {
		return nil, ErrNotLoaded
	}
	act := cur.Active
	if active != nil {
		act = *active
	}
	if err := h.store.UpdateRelease(ctx, h.id, version, act, at); err != nil {
		return nil, fmt.Errorf("identity: persist release: %w", err)
	}
	return h.with(func(id *Identity) {
		id.Version = version
		id.Active = act
		id.LastUpdate = &at
	}), nil
}

// with publishes a modified copy of the current snapshot. Callers hold mu.
func (h *Holder) with(mutate func(*Identity)) *Identity {
	next := &Identity{ID: h.id}
	if cur := h.cur.Load(); cur != nil {
		*next = *cur
	}
	mutate(next)
	h.cur.Store(next)
	return next
}

func fromRow(row *model.Loader) (*Identity, error) {
	kp, err := sealed.ParseKeyPair(row.PublicKey, row.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}
	return &Identity{
		ID:         row.ID,
		Active:     row.Active,
		Version:    row.Version,
		LastUpdate: row.LastUpdate,
		Keys:       kp,
	}, nil
}
