package activation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/loader-licensing/internal/identity"
	"github.com/iliyamo/loader-licensing/internal/model"
	"github.com/iliyamo/loader-licensing/internal/queue"
	"github.com/iliyamo/loader-licensing/internal/repository"
)

// ReviewHardware approves or rejects the device bound to an account.
func (s *Service) ReviewHardware(ctx context.Context, accountID string, approved bool) error {
	if err := s.requireAccount(ctx, accountID); err != nil {
		return err
	}
	state := model.HardwareRejected
	if approved {
		state = model.HardwareApproved
	}
	if err := s.Hardware.SetBoundState(ctx, accountID, state); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNoBoundHardware
		}
		return fmt.Errorf("set hardware state: %w", err)
	}
	s.Log.Info("hardware reviewed", zap.String("account_id", accountID), zap.Stringer("state", state))
	return nil
}

// UnbindHardware detaches the bound device. The hardware row stays in the
// history, so the next device requires approval.
func (s *Service) UnbindHardware(ctx context.Context, accountID string) error {
	if err := s.requireAccount(ctx, accountID); err != nil {
		return err
	}
	if err := s.Accounts.UnbindHardware(ctx, accountID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNoBoundHardware
		}
		return fmt.Errorf("unbind hardware: %w", err)
	}
	s.Log.Info("hardware unbound", zap.String("account_id", accountID))
	return nil
}

func (s *Service) requireAccount(ctx context.Context, id string) error {
	if _, err := s.Accounts.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("load account: %w", err)
	}
	return nil
}

// UploadVersion is an admin product upload.
type UploadVersion struct {
	ProductID string
	Version   string
	Bin       []byte
	Activate  bool
}

// UploadProductVersion stores bin under a fresh key. An existing version
// with the same string is overwritten; otherwise a new version is created.
// With Activate the version becomes the product's active one.
func (s *Service) UploadProductVersion(ctx context.Context, up UploadVersion) (*model.ProductVersion, error) {
	product, err := s.Products.GetByID(ctx, up.ProductID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("load product: %w", err)
	}

	now := s.now()
	v, err := s.Products.FindVersion(ctx, product.ID, up.Version)
	isNew := errors.Is(err, repository.ErrNotFound)
	switch {
	case isNew:
		v = &model.ProductVersion{ID: newID(), ProductID: product.ID, Version: up.Version, CreatedAt: now}
	case err != nil:
		return nil, fmt.Errorf("find version: %w", err)
	}

	key, err := s.Vault.Store(product.ID, v.ID, up.Bin)
	if err != nil {
		return nil, fmt.Errorf("store artifact: %w", err)
	}
	v.Key = key
	v.LastUpdate = now

	if isNew {
		err = s.Products.CreateVersion(ctx, v)
	} else {
		err = s.Products.UpdateVersionKey(ctx, v.ID, key, now)
	}
	if err != nil {
		return nil, fmt.Errorf("save version: %w", err)
	}

	if up.Activate && (product.VersionID == nil || *product.VersionID != v.ID) {
		if err := s.Products.SetActiveVersion(ctx, product.ID, v.ID, now); err != nil {
			return nil, fmt.Errorf("activate version: %w", err)
		}
	}
	s.Log.Info("product version uploaded",
		zap.String("product_id", product.ID), zap.String("version", v.Version),
		zap.Bool("created", isNew), zap.Bool("activated", up.Activate), zap.Int("bytes", len(up.Bin)))
	return v, nil
}

// RemoveProduct deletes the product with its versions, grants and stored
// artifacts.
func (s *Service) RemoveProduct(ctx context.Context, productID string) error {
	if err := s.Products.Remove(ctx, productID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrProductNotFound
		}
		return fmt.Errorf("remove product: %w", err)
	}
	if err := s.Vault.RemoveProduct(productID); err != nil {
		s.Log.Warn("remove product artifacts failed", zap.String("product_id", productID), zap.Error(err))
	}
	return nil
}

// RotateKeys replaces the loader key pair and returns the new base64
// public key. Clients must be rebuilt with it.
func (s *Service) RotateKeys(ctx context.Context) (string, error) {
	id, err := s.Identity.RotateKeys(ctx)
	if err != nil {
		return "", err
	}
	s.Metrics.KeyRotation()
	s.loaderChanged(ctx, queue.ReasonKeysRotated)
	s.Log.Info("loader keys rotated")
	return id.Keys.PublicBase64(), nil
}

// SetLoaderActive toggles maintenance mode and reports whether it changed.
func (s *Service) SetLoaderActive(ctx context.Context, active bool) (bool, error) {
	changed, err := s.Identity.SetActive(ctx, active)
	if err != nil {
		return false, err
	}
	if changed {
		s.loaderChanged(ctx, queue.ReasonActiveToggled)
		s.Log.Info("loader active toggled", zap.Bool("active", active))
	}
	return changed, nil
}

// UploadLoader replaces the installer archive and the required client
// version. A nil active keeps the current flag.
func (s *Service) UploadLoader(ctx context.Context, version string, bin []byte, active *bool) (*identity.Identity, error) {
	if err := s.Vault.WriteLoader(bin); err != nil {
		return nil, fmt.Errorf("write loader: %w", err)
	}
	id, err := s.Identity.SetRelease(ctx, version, active, s.now())
	if err != nil {
		return nil, err
	}
	s.loaderChanged(ctx, queue.ReasonReleased)
	s.Log.Info("loader released", zap.String("version", version), zap.Bool("active", id.Active))
	return id, nil
}

func (s *Service) loaderChanged(ctx context.Context, reason string) {
	if s.Events == nil {
		return
	}
	ev := queue.LoaderChangedEvent{Reason: reason, Origin: s.InstanceID, ChangedAt: s.now().Format(time.RFC3339)}
	if id, err := s.Identity.Current(); err == nil {
		ev.LoaderID = id.ID
	}
	if err := s.Events.LoaderChanged(ctx, ev); err != nil {
		s.Log.Warn("publish loader.changed failed", zap.String("reason", reason), zap.Error(err))
	}
}
