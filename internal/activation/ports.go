// Package activation runs the license activation protocol: sealed login
// with device binding, sealed product streaming, the unauthenticated
// installer download and the administrative transitions around them.
//
// The service owns no state. It works through the ports below, which the
// repository, vault, credential and identity packages implement.
package activation

import (
	"context"
	"time"

	"github.com/iliyamo/loader-licensing/internal/identity"
	"github.com/iliyamo/loader-licensing/internal/model"
	"github.com/iliyamo/loader-licensing/internal/queue"
)

// Accounts is implemented by *repository.AccountRepo.
type Accounts interface {
	GetByID(ctx context.Context, id string) (*model.Account, error)
	FindForLogin(ctx context.Context, username string) (*model.AccountWithHardwareAndProducts, error)
	FindWithProducts(ctx context.Context, id string) (*model.AccountWithProducts, error)
	FindByAccessKeyWithProducts(ctx context.Context, accessKey string) (*model.AccountWithProducts, error)
	SetPassword(ctx context.Context, id string, hash *string) error
	UnbindHardware(ctx context.Context, id string) error
}

// Hardware is implemented by *repository.HardwareRepo.
type Hardware interface {
	Bind(ctx context.Context, accountID, hash string, components []byte, decide func(history int) model.HardwareState) (*model.Hardware, error)
	SetBoundState(ctx context.Context, accountID string, state model.HardwareState) error
}

// Products is implemented by *repository.ProductRepo.
type Products interface {
	GetByID(ctx context.Context, id string) (*model.Product, error)
	FindVersion(ctx context.Context, productID, version string) (*model.ProductVersion, error)
	CreateVersion(ctx context.Context, v *model.ProductVersion) error
	UpdateVersionKey(ctx context.Context, versionID, key string, at time.Time) error
	SetActiveVersion(ctx context.Context, productID, versionID string, at time.Time) error
	Remove(ctx context.Context, id string) error
}

// Vault is implemented by *vault.Vault.
type Vault interface {
	Store(productID, versionID string, plaintext []byte) (string, error)
	Retrieve(productID, versionID, key string) ([]byte, error)
	RemoveProduct(productID string) error
	WriteLoader(bin []byte) error
	ReadLoader() ([]byte, error)
}

// Passwords is implemented by *credential.Hasher.
type Passwords interface {
	Hash(password string) (string, error)
	Verify(encoded, password string) (bool, error)
	NeedsRehash(encoded string) (bool, error)
}

// LoaderIdentity is implemented by *identity.Holder.
type LoaderIdentity interface {
	Current() (*identity.Identity, error)
	RotateKeys(ctx context.Context) (*identity.Identity, error)
	SetActive(ctx context.Context, active bool) (bool, error)
	SetRelease(ctx context.Context, version string, active *bool, at time.Time) (*identity.Identity, error)
}

// Events is implemented by *service.Publisher.
type Events interface {
	HardwarePending(ctx context.Context, ev queue.HardwarePendingEvent) error
	LoaderChanged(ctx context.Context, ev queue.LoaderChangedEvent) error
}
