package activation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/loader-licensing/internal/model"
	"github.com/iliyamo/loader-licensing/internal/queue"
)

func TestUploadProductVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.db.addProduct("Alpha", model.ProductOnline, "alpha.exe")

	v1, err := h.svc.UploadProductVersion(ctx, UploadVersion{ProductID: p.ID, Version: "1.0", Bin: []byte("one")})
	require.NoError(t, err)
	assert.Nil(t, h.db.products[p.ID].VersionID, "upload without activate keeps the active version")

	again, err := h.svc.UploadProductVersion(ctx, UploadVersion{ProductID: p.ID, Version: "1.0", Bin: []byte("uno"), Activate: true})
	require.NoError(t, err)
	assert.Equal(t, v1.ID, again.ID, "same version string reuses the row")
	assert.NotEqual(t, v1.Key, again.Key, "re-upload mints a fresh key")
	require.NotNil(t, h.db.products[p.ID].VersionID)
	assert.Equal(t, v1.ID, *h.db.products[p.ID].VersionID)

	bin, err := h.vault.Retrieve(p.ID, again.ID, h.db.versions[again.ID].Key)
	require.NoError(t, err)
	assert.Equal(t, []byte("uno"), bin)

	_, err = h.vault.Retrieve(p.ID, again.ID, v1.Key)
	assert.Error(t, err, "the old key no longer opens the blob")

	_, err = h.svc.UploadProductVersion(ctx, UploadVersion{ProductID: "2b0c1d6e-7f8a-4b9c-8d0e-1f2a3b4c5d6e", Version: "1.0", Bin: []byte("x")})
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestRemoveProduct(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.onlineProduct(t, "Alpha", []byte{1})
	v := h.db.versions[*h.db.products[p.ID].VersionID]

	require.NoError(t, h.svc.RemoveProduct(ctx, p.ID))
	_, err := h.vault.Retrieve(p.ID, v.ID, v.Key)
	assert.Error(t, err)
	assert.ErrorIs(t, h.svc.RemoveProduct(ctx, p.ID), ErrProductNotFound)
}

func TestReviewHardware_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.account(t, "quinn", "pw")

	assert.ErrorIs(t, h.svc.ReviewHardware(ctx, "5e6f7a8b-9c0d-4e1f-8a2b-3c4d5e6f7a8b", true), ErrAccountNotFound)
	assert.ErrorIs(t, h.svc.ReviewHardware(ctx, a.ID, true), ErrNoBoundHardware)
	assert.ErrorIs(t, h.svc.UnbindHardware(ctx, "5e6f7a8b-9c0d-4e1f-8a2b-3c4d5e6f7a8b"), ErrAccountNotFound)
}

func TestRotateKeys(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	before, _ := h.identity.Current()

	pub, err := h.svc.RotateKeys(ctx)
	require.NoError(t, err)
	after, _ := h.identity.Current()
	assert.Equal(t, after.Keys.PublicBase64(), pub)
	assert.NotEqual(t, before.Keys.PublicBase64(), pub)

	require.Len(t, h.events.changed, 1)
	ev := h.events.changed[0]
	assert.Equal(t, queue.ReasonKeysRotated, ev.Reason)
	assert.Equal(t, "test-instance", ev.Origin)
	assert.Equal(t, after.ID, ev.LoaderID)

	// envelopes sealed to the old key no longer open
	h.identity.mu.Lock()
	old := *after
	old.Keys = before.Keys
	h.identity.cur = &old
	h.identity.mu.Unlock()
	envelope := sealFor(t, h, loginReq("x", "y", "H"))
	h.identity.mu.Lock()
	h.identity.cur = after
	h.identity.mu.Unlock()
	_, err = h.svc.HandleLogin(ctx, envelope)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestSetLoaderActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	changed, err := h.svc.SetLoaderActive(ctx, true)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, h.events.changed)

	changed, err = h.svc.SetLoaderActive(ctx, false)
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, h.events.changed, 1)
	assert.Equal(t, queue.ReasonActiveToggled, h.events.changed[0].Reason)
}

func TestUploadLoader(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	off := false

	id, err := h.svc.UploadLoader(ctx, "3.1.4", []byte("MZ\x90"), &off)
	require.NoError(t, err)
	assert.Equal(t, "3.1.4", id.Version)
	assert.False(t, id.Active)
	require.NotNil(t, id.LastUpdate)

	archive, err := h.vault.ReadLoader()
	require.NoError(t, err)
	assert.NotEmpty(t, archive)
	require.Len(t, h.events.changed, 1)
	assert.Equal(t, queue.ReasonReleased, h.events.changed[0].Reason)
}
