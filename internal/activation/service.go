package activation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/loader-licensing/internal/fingerprint"
	"github.com/iliyamo/loader-licensing/internal/identity"
	"github.com/iliyamo/loader-licensing/internal/metrics"
	"github.com/iliyamo/loader-licensing/internal/model"
	"github.com/iliyamo/loader-licensing/internal/queue"
	"github.com/iliyamo/loader-licensing/internal/repository"
	"github.com/iliyamo/loader-licensing/internal/sealed"
	"github.com/iliyamo/loader-licensing/internal/vault"
)

// Deps wires the service. Events, Metrics and Log are optional.
type Deps struct {
	Accounts  Accounts
	Hardware  Hardware
	Products  Products
	Vault     Vault
	Passwords Passwords
	Identity  LoaderIdentity
	Codec     *sealed.Codec
	Events    Events
	Metrics   *metrics.Metrics
	Log       *zap.Logger
	// InstanceID tags loader.changed events so an instance skips its own.
	InstanceID string
}

type Service struct {
	Deps
	now func() time.Time
}

func New(d Deps) *Service {
	if d.Codec == nil {
		d.Codec = sealed.NewCodec(nil)
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Service{Deps: d, now: func() time.Time { return time.Now().UTC() }}
}

// LoginRequest is the sealed login payload.
type LoginRequest struct {
	Username  string                 `json:"username" validate:"required,max=64"`
	Password  string                 `json:"password" validate:"required"`
	PublicKey string                 `json:"publicKey" validate:"required,base64"`
	Hardware  fingerprint.Descriptor `json:"hardware" validate:"required"`
}

// ProductSummary is one entitlement in the login response. Version is nil
// when the product has no active version.
type ProductSummary struct {
	ID      string              `json:"id"`
	Name    string              `json:"name"`
	Status  model.ProductStatus `json:"status"`
	Version *string             `json:"version"`
}

// LoginResult is sealed back to the client on success.
type LoginResult struct {
	UserID   string           `json:"userId"`
	Username string           `json:"username"`
	Products []ProductSummary `json:"products"`
}

// StreamRequest is the sealed product stream payload.
type StreamRequest struct {
	User      string `json:"user" validate:"required,uuid4"`
	Product   string `json:"product" validate:"required,uuid4"`
	PublicKey string `json:"publicKey" validate:"required,base64"`
}

// StreamResult carries the decrypted artifact; Bin is base64 in JSON.
type StreamResult struct {
	Bin     []byte `json:"bin"`
	Process string `json:"process"`
}

// Download is the plaintext bootstrap response.
type Download struct {
	File     []byte `json:"file"`
	Filename string `json:"filename"`
	Version  string `json:"version"`
}

// HandleLogin opens a sealed login envelope, runs Login and seals the
// result to the client's one-time key.
func (s *Service) HandleLogin(ctx context.Context, data string) (string, error) {
	var req LoginRequest
	if err := s.open(data, &req); err != nil {
		s.Metrics.Login(outcome(err))
		return "", err
	}
	res, err := s.Login(ctx, req)
	s.Metrics.Login(outcome(err))
	if err != nil {
		return "", err
	}
	return s.seal(res, req.PublicKey)
}

// HandleStream opens a sealed stream envelope, runs StreamProduct and seals
// the artifact to the client's one-time key.
func (s *Service) HandleStream(ctx context.Context, data string) (string, error) {
	var req StreamRequest
	if err := s.open(data, &req); err != nil {
		s.Metrics.Stream(outcome(err))
		return "", err
	}
	res, err := s.StreamProduct(ctx, req)
	s.Metrics.Stream(outcome(err))
	if err != nil {
		return "", err
	}
	return s.seal(res, req.PublicKey)
}

// open decrypts with the identity snapshot taken at the start of the
// request and rejects unusable reply keys before any side effect runs.
func (s *Service) open(data string, dst any) error {
	id, err := s.Identity.Current()
	if err != nil {
		return configFailure(err)
	}
	if err := s.Codec.DecryptInbound(data, id.Keys, dst); err != nil {
		return decodeFailure(err)
	}
	var pub string
	switch r := dst.(type) {
	case *LoginRequest:
		pub = r.PublicKey
	case *StreamRequest:
		pub = r.PublicKey
	}
	if _, err := sealed.ParsePublicKey(pub); err != nil {
		return decodeFailure(err)
	}
	return nil
}

func (s *Service) seal(v any, recipient string) (string, error) {
	out, err := s.Codec.EncryptOutbound(v, recipient)
	if err != nil {
		return "", fmt.Errorf("seal response: %w", err)
	}
	return out, nil
}

// Login authenticates the account, binds or checks the device and returns
// the entitlements.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	acct, err := s.Accounts.FindForLogin(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	log := s.Log.With(zap.String("account_id", acct.ID))

	if err := s.authenticate(ctx, &acct.Account, req.Password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			log.Info("login rejected: bad password")
		}
		return nil, err
	}
	if !acct.Active {
		log.Info("login rejected: account disabled")
		return nil, ErrAccountDisabled
	}

	if err := s.checkDevice(ctx, acct, req.Hardware, log); err != nil {
		return nil, err
	}

	if len(acct.Products) == 0 {
		return nil, ErrNoEntitlements
	}
	res := &LoginResult{UserID: acct.ID, Username: acct.Username, Products: make([]ProductSummary, 0, len(acct.Products))}
	for _, p := range acct.Products {
		ps := ProductSummary{ID: p.ID, Name: p.Name, Status: p.Status}
		if p.ActiveVersion != nil {
			v := p.ActiveVersion.Version
			ps.Version = &v
		}
		res.Products = append(res.Products, ps)
	}
	log.Info("login accepted", zap.Int("products", len(res.Products)))
	return res, nil
}

// authenticate verifies the password and persists a fresh hash when none
// was stored or the stored one uses weaker parameters.
func (s *Service) authenticate(ctx context.Context, a *model.Account, password string) error {
	rehash := a.Password == nil
	if a.Password != nil {
		ok, err := s.Passwords.Verify(*a.Password, password)
		if err != nil {
			return fmt.Errorf("verify password: %w", err)
		}
		if !ok {
			return ErrInvalidCredentials
		}
		if rehash, err = s.Passwords.NeedsRehash(*a.Password); err != nil {
			return fmt.Errorf("inspect password hash: %w", err)
		}
	}
	if !rehash {
		return nil
	}
	hash, err := s.Passwords.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.Accounts.SetPassword(ctx, a.ID, &hash); err != nil {
		return fmt.Errorf("store password: %w", err)
	}
	a.Password = &hash
	return nil
}

// firstDevicePolicy auto-approves only an account's very first device.
func firstDevicePolicy(history int) model.HardwareState {
	if history == 0 {
		return model.HardwareApproved
	}
	return model.HardwarePending
}

func (s *Service) checkDevice(ctx context.Context, acct *model.AccountWithHardwareAndProducts, d fingerprint.Descriptor, log *zap.Logger) error {
	hwid := fingerprint.Compute(d)

	if acct.ActiveHardwareID == nil {
		components, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode hardware: %w", err)
		}
		hw, err := s.Hardware.Bind(ctx, acct.ID, hwid, components, firstDevicePolicy)
		switch {
		case errors.Is(err, repository.ErrAlreadyBound):
			// a concurrent login bound first; judge against that binding
			fresh, err := s.Accounts.FindForLogin(ctx, acct.Username)
			if err != nil {
				return fmt.Errorf("reload account: %w", err)
			}
			return checkBound(fresh.ActiveHardware, hwid)
		case err != nil:
			return fmt.Errorf("bind hardware: %w", err)
		}

		s.Metrics.Binding(hw.State.String())
		log.Info("hardware bound", zap.String("hardware_id", hw.ID), zap.Stringer("state", hw.State), zap.Int("history", acct.History))
		if hw.State != model.HardwareApproved {
			s.publishPending(ctx, acct, hw)
			return ErrApprovalPending
		}
		return nil
	}

	if err := checkBound(acct.ActiveHardware, hwid); err != nil {
		log.Info("login rejected by hardware check", zap.Error(err))
		return err
	}
	return nil
}

func checkBound(bound *model.Hardware, hwid string) error {
	if bound == nil || bound.Hash != hwid {
		return ErrHardwareMismatch
	}
	switch bound.State {
	case model.HardwareApproved:
		return nil
	case model.HardwarePending:
		return ErrApprovalPending
	default:
		return ErrApprovalRejected
	}
}

func (s *Service) publishPending(ctx context.Context, acct *model.AccountWithHardwareAndProducts, hw *model.Hardware) {
	if s.Events == nil {
		return
	}
	ev := queue.HardwarePendingEvent{
		AccountID:  acct.ID,
		Username:   acct.Username,
		HardwareID: hw.ID,
		Hash:       hw.Hash,
		History:    acct.History,
		CreatedAt:  hw.CreatedAt.Format(time.RFC3339),
	}
	if err := s.Events.HardwarePending(ctx, ev); err != nil {
		s.Log.Warn("publish hardware.pending failed", zap.String("account_id", acct.ID), zap.Error(err))
	}
}

// StreamProduct returns the decrypted active version of an entitled,
// online product.
func (s *Service) StreamProduct(ctx context.Context, req StreamRequest) (*StreamResult, error) {
	acct, err := s.Accounts.FindWithProducts(ctx, req.User)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnknownAccount
		}
		return nil, fmt.Errorf("load account: %w", err)
	}

	var product *model.EntitledProduct
	for i := range acct.Products {
		if acct.Products[i].ID == req.Product {
			product = &acct.Products[i]
			break
		}
	}
	switch {
	case product == nil:
		return nil, ErrProductNotEntitled
	case product.Status != model.ProductOnline:
		return nil, ErrProductOffline
	case product.ActiveVersion == nil:
		return nil, ErrNoActiveVersion
	}

	v := product.ActiveVersion
	bin, err := s.Vault.Retrieve(product.ID, v.ID, v.Key)
	if err != nil {
		if !errors.Is(err, vault.ErrNotFound) {
			s.Log.Error("vault read failed", zap.String("product_id", product.ID), zap.String("version_id", v.ID), zap.Error(err))
		}
		return nil, ErrArtifactUnavailable
	}
	s.Log.Info("product streamed", zap.String("account_id", acct.ID), zap.String("product_id", product.ID), zap.String("version", v.Version))
	return &StreamResult{Bin: bin, Process: product.Process}, nil
}

// Bootstrap serves the loader installer to an active, entitled account
// identified by its access key.
func (s *Service) Bootstrap(ctx context.Context, accessKey string) (*Download, error) {
	d, err := s.bootstrap(ctx, accessKey)
	s.Metrics.Download(outcome(err))
	return d, err
}

func (s *Service) bootstrap(ctx context.Context, accessKey string) (*Download, error) {
	acct, err := s.Accounts.FindByAccessKeyWithProducts(ctx, accessKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidAccessKey
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	if !acct.Active {
		return nil, ErrAccountDisabled
	}
	if len(acct.Products) == 0 {
		return nil, ErrNoEntitlements
	}

	id, err := s.Identity.Current()
	if err != nil {
		return nil, configFailure(err)
	}
	if !id.Active {
		return nil, ErrLoaderInactive
	}
	archive, err := s.Vault.ReadLoader()
	if err != nil {
		if !errors.Is(err, vault.ErrNotFound) {
			s.Log.Error("read loader archive failed", zap.Error(err))
		}
		return nil, ErrLoaderUnavailable
	}
	return &Download{File: archive, Filename: "loader-" + id.Version + ".zip", Version: id.Version}, nil
}

// CheckClient gates client routes on the loader state: maintenance mode
// first, then the exact client version.
func (s *Service) CheckClient(version string) error {
	id, err := s.Identity.Current()
	if err != nil {
		return configFailure(err)
	}
	if !id.Active {
		return ErrLoaderInactive
	}
	if version != id.Version {
		return ErrOutdatedClient
	}
	return nil
}

// Loader returns the current identity snapshot.
func (s *Service) Loader() (*identity.Identity, error) {
	id, err := s.Identity.Current()
	if err != nil {
		return nil, configFailure(err)
	}
	return id, nil
}

func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeOK
	}
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return "error"
}

func newID() string { return uuid.NewString() }
