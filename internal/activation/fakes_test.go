package activation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/loader-licensing/internal/identity"
	"github.com/iliyamo/loader-licensing/internal/model"
	"github.com/iliyamo/loader-licensing/internal/queue"
	"github.com/iliyamo/loader-licensing/internal/repository"
	"github.com/iliyamo/loader-licensing/internal/sealed"
)

// memDB is an in-memory stand-in for the MySQL repositories.
type memDB struct {
	mu       sync.Mutex
	accounts map[string]*model.Account
	hardware map[string]*model.Hardware
	products map[string]*model.Product
	versions map[string]*model.ProductVersion
	grants   map[string]map[string]bool
	binds    int
}

func newMemDB() *memDB {
	return &memDB{
		accounts: map[string]*model.Account{},
		hardware: map[string]*model.Hardware{},
		products: map[string]*model.Product{},
		versions: map[string]*model.ProductVersion{},
		grants:   map[string]map[string]bool{},
	}
}

func (m *memDB) addAccount(username string, active bool, password *string) *model.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &model.Account{ID: uuid.NewString(), Username: username, Active: active, Password: password, AccessKey: uuid.NewString()[:32], CreatedAt: time.Now()}
	m.accounts[a.ID] = a
	return a
}

func (m *memDB) addProduct(name string, status model.ProductStatus, process string) *model.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &model.Product{ID: uuid.NewString(), Name: name, Status: status, Process: process}
	m.products[p.ID] = p
	return p
}

func (m *memDB) grant(accountID, productID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grants[accountID] == nil {
		m.grants[accountID] = map[string]bool{}
	}
	m.grants[accountID][productID] = true
}

// addHistory records an old, unbound hardware row for the account.
func (m *memDB) addHistory(accountID string, state model.HardwareState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := &model.Hardware{ID: uuid.NewString(), AccountID: accountID, State: state, Hash: "old", CreatedAt: time.Now()}
	m.hardware[h.ID] = h
}

func (m *memDB) boundHardware(accountID string) *model.Hardware {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.accounts[accountID]
	if a == nil || a.ActiveHardwareID == nil {
		return nil
	}
	cp := *m.hardware[*a.ActiveHardwareID]
	return &cp
}

func (m *memDB) entitled(accountID string) []model.EntitledProduct {
	out := []model.EntitledProduct{}
	for pid := range m.grants[accountID] {
		p := m.products[pid]
		ep := model.EntitledProduct{Product: *p}
		if p.VersionID != nil {
			if v, ok := m.versions[*p.VersionID]; ok {
				cp := *v
				ep.ActiveVersion = &cp
			}
		}
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *memDB) history(accountID string) int {
	n := 0
	for _, h := range m.hardware {
		if h.AccountID == accountID {
			n++
		}
	}
	return n
}

type memAccounts struct{ *memDB }

func (r memAccounts) GetByID(_ context.Context, id string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r memAccounts) FindForLogin(_ context.Context, username string) (*model.AccountWithHardwareAndProducts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Username != username {
			continue
		}
		out := &model.AccountWithHardwareAndProducts{Account: *a, History: r.history(a.ID), Products: r.entitled(a.ID)}
		if a.ActiveHardwareID != nil {
			cp := *r.hardware[*a.ActiveHardwareID]
			out.ActiveHardware = &cp
		}
		return out, nil
	}
	return nil, repository.ErrNotFound
}

func (r memAccounts) FindWithProducts(_ context.Context, id string) (*model.AccountWithProducts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &model.AccountWithProducts{Account: *a, Products: r.entitled(id)}, nil
}

func (r memAccounts) FindByAccessKeyWithProducts(_ context.Context, key string) (*model.AccountWithProducts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.AccessKey == key {
			return &model.AccountWithProducts{Account: *a, Products: r.entitled(a.ID)}, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memAccounts) SetPassword(_ context.Context, id string, hash *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Password = hash
	return nil
}

func (r memAccounts) UnbindHardware(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok || a.ActiveHardwareID == nil {
		return repository.ErrNotFound
	}
	a.ActiveHardwareID = nil
	return nil
}

type memHardware struct{ *memDB }

func (r memHardware) Bind(_ context.Context, accountID, hash string, components []byte, decide func(int) model.HardwareState) (*model.Hardware, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if a.ActiveHardwareID != nil {
		return nil, repository.ErrAlreadyBound
	}
	h := &model.Hardware{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		State:      decide(r.history(accountID)),
		Hash:       hash,
		Components: components,
		AccountID:  accountID,
	}
	r.hardware[h.ID] = h
	a.ActiveHardwareID = &h.ID
	r.binds++
	cp := *h
	return &cp, nil
}

func (r memHardware) SetBoundState(_ context.Context, accountID string, state model.HardwareState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok || a.ActiveHardwareID == nil {
		return repository.ErrNotFound
	}
	r.hardware[*a.ActiveHardwareID].State = state
	return nil
}

type memProducts struct{ *memDB }

func (r memProducts) GetByID(_ context.Context, id string) (*model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r memProducts) FindVersion(_ context.Context, productID, version string) (*model.ProductVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.versions {
		if v.ProductID == productID && v.Version == version {
			cp := *v
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memProducts) CreateVersion(_ context.Context, v *model.ProductVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	cp := *v
	r.versions[v.ID] = &cp
	return nil
}

func (r memProducts) UpdateVersionKey(_ context.Context, versionID, key string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.versions[versionID]
	if !ok {
		return repository.ErrNotFound
	}
	v.Key, v.LastUpdate = key, at
	return nil
}

func (r memProducts) SetActiveVersion(_ context.Context, productID, versionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[productID]
	v, vok := r.versions[versionID]
	if !ok || !vok || v.ProductID != productID {
		return repository.ErrNotFound
	}
	p.VersionID, p.LastUpdate = &v.ID, &at
	return nil
}

func (r memProducts) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.products, id)
	for vid, v := range r.versions {
		if v.ProductID == id {
			delete(r.versions, vid)
		}
	}
	for _, g := range r.grants {
		delete(g, id)
	}
	return nil
}

// spyVault counts artifact reads on top of a real vault.
type spyVault struct {
	Vault
	mu        sync.Mutex
	retrieves int
}

func (s *spyVault) Retrieve(productID, versionID, key string) ([]byte, error) {
	s.mu.Lock()
	s.retrieves++
	s.mu.Unlock()
	return s.Vault.Retrieve(productID, versionID, key)
}

type fakeIdentity struct {
	mu  sync.Mutex
	cur *identity.Identity
}

func newFakeIdentity(active bool, version string) *fakeIdentity {
	kp, err := sealed.GenerateKeyPair()
	if err != nil {
		panic(err)
	}
	return &fakeIdentity{cur: &identity.Identity{ID: uuid.NewString(), Active: active, Version: version, Keys: kp}}
}

func (f *fakeIdentity) Current() (*identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cur == nil {
		return nil, identity.ErrNotLoaded
	}
	return f.cur, nil
}

func (f *fakeIdentity) RotateKeys(context.Context) (*identity.Identity, error) {
	kp, err := sealed.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	next := *f.cur
	next.Keys = kp
	f.cur = &next
	return f.cur, nil
}

func (f *fakeIdentity) SetActive(_ context.Context, active bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cur.Active == active {
		return false, nil
	}
	next := *f.cur
	next.Active = active
	f.cur = &next
	return true, nil
}

func (f *fakeIdentity) SetRelease(_ context.Context, version string, active *bool, at time.Time) (*identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := *f.cur
	next.Version = version
	if active != nil {
		next.Active = *active
	}
	next.LastUpdate = &at
	f.cur = &next
	return f.cur, nil
}

type recordedEvents struct {
	mu      sync.Mutex
	pending []queue.HardwarePendingEvent
	changed []queue.LoaderChangedEvent
}

func (r *recordedEvents) HardwarePending(_ context.Context, ev queue.HardwarePendingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, ev)
	return nil
}

func (r *recordedEvents) LoaderChanged(_ context.Context, ev queue.LoaderChangedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, ev)
	return nil
}
