package vault

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(t.TempDir())
	require.NoError(t, err)
	return v
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	v := newVault(t)
	p, ver := uuid.NewString(), uuid.NewString()

	for _, payload := range [][]byte{{1, 2, 3}, bytes.Repeat([]byte{0xAB}, 1<<16), []byte("x")} {
		key, err := v.Store(p, ver, payload)
		require.NoError(t, err)
		assert.Len(t, key, 2*KeySize)

		got, err := v.Retrieve(p, ver, key)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	}
}

func TestStoreMintsFreshKeyOnEveryWrite(t *testing.T) {
	v := newVault(t)
	p, ver := uuid.NewString(), uuid.NewString()

	k1, err := v.Store(p, ver, []byte{1, 2, 3})
	require.NoError(t, err)
	k2, err := v.Store(p, ver, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)

	_, err = v.Retrieve(p, ver, k1)
	assert.ErrorIs(t, err, ErrNotFound, "overwritten blob must not open with the old key")

	got, err := v.Retrieve(p, ver, k2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestRetrieveWrongKeyIsNotFound(t *testing.T) {
	v := newVault(t)
	p, ver := uuid.NewString(), uuid.NewString()
	_, err := v.Store(p, ver, []byte("secret"))
	require.NoError(t, err)
	other, err := v.Store(uuid.NewString(), uuid.NewString(), []byte("other"))
	require.NoError(t, err)

	_, err = v.Retrieve(p, ver, other)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = v.Retrieve(p, ver, "not-hex")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRetrieveTamperedBlobIsNotFound(t *testing.T) {
	v := newVault(t)
	p, ver := uuid.NewString(), uuid.NewString()
	key, err := v.Store(p, ver, []byte("secret"))
	require.NoError(t, err)

	path, err := v.blobPath(p, ver)
	require.NoError(t, err)
	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0x01
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	_, err = v.Retrieve(p, ver, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRetrieveMissingIsNotFound(t *testing.T) {
	v := newVault(t)
	_, err := v.Retrieve(uuid.NewString(), uuid.NewString(), "00")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRejectsPathLikeIDs(t *testing.T) {
	v := newVault(t)
	_, err := v.Store("../../etc", uuid.NewString(), []byte("x"))
	assert.Error(t, err)
	_, err = v.Retrieve(uuid.NewString(), "../x", "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRemoveProduct(t *testing.T) {
	v := newVault(t)
	p, ver := uuid.NewString(), uuid.NewString()
	key, err := v.Store(p, ver, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, v.RemoveProduct(p))
	_, err = v.Retrieve(p, ver, key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoDirExists(t, filepath.Join(v.root, "products", p))
}

func TestLoaderArchive(t *testing.T) {
	v := newVault(t)
	_, err := v.ReadLoader()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, v.WriteLoader([]byte("MZ-installer")))
	archive, err := v.ReadLoader()
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, LoaderEntry, zr.File[0].Name)
	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("MZ-installer"), content)
}
