// Package vault keeps distributed binaries encrypted at rest. Every write
// uses a fresh secretbox key and nonce; the key is handed back to the
// caller and never stored next to the blob.
//
// Blob layout: [nonce: 24 bytes][secretbox ciphertext + tag].
package vault

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	NonceSize = 24

	loaderArchive = "loader.zip"
	// LoaderEntry is the file name inside the installer archive.
	LoaderEntry = "loader.exe"
)

// ErrNotFound is returned by reads when the blob is absent or fails
// authentication. Both cases are reported the same way.
var ErrNotFound = errors.New("vault: artifact not found")

// Vault stores blobs below a root directory.
type Vault struct {
	root string
}

// New creates the root directory if needed.
func New(root string) (*Vault, error) {
	if err := os.MkdirAll(filepath.Join(root, "products"), 0o750); err != nil {
		return nil, fmt.Errorf("vault: create root: %w", err)
	}
	return &Vault{root: root}, nil
}

func (v *Vault) productDir(productID string) (string, error) {
	if _, err := uuid.Parse(productID); err != nil {
		return "", fmt.Errorf("vault: invalid product id %q", productID)
	}
	return filepath.Join(v.root, "products", productID), nil
}

func (v *Vault) blobPath(productID, versionID string) (string, error) {
	dir, err := v.productDir(productID)
	if err != nil {
		return "", err
	}
	if _, err := uuid.Parse(versionID); err != nil {
		return "", fmt.Errorf("vault: invalid version id %q", versionID)
	}
	return filepath.Join(dir, versionID+".bin"), nil
}

// Store encrypts plaintext under a new random key, overwrites the blob for
// (productID, versionID) and returns the hex key.
func (v *Vault) Store(productID, versionID string, plaintext []byte) (string, error) {
	path, err := v.blobPath(productID, versionID)
	if err != nil {
		return "", err
	}

	var key [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", fmt.Errorf("vault: generate key: %w", err)
	}
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}

	blob := make([]byte, NonceSize, NonceSize+len(plaintext)+secretbox.Overhead)
	copy(blob, nonce[:])
	blob = secretbox.Seal(blob, plaintext, &nonce, &key)

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("vault: create product dir: %w", err)
	}
	if err := writeFileAtomic(path, blob); err != nil {
		return "", err
	}
	return hex.EncodeToString(key[:]), nil
}

// Retrieve decrypts the blob for (productID, versionID) with the hex key.
// It returns ErrNotFound when the blob is missing, the key is unusable or
// authentication fails.
func (v *Vault) Retrieve(productID, versionID, keyHex string) ([]byte, error) {
	path, err := v.blobPath(productID, versionID)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("vault: read blob: %w", err)
	}

	rawKey, err := hex.DecodeString(keyHex)
	if err != nil || len(rawKey) != KeySize || len(blob) < NonceSize+secretbox.Overhead {
		return nil, ErrNotFound
	}
	var key [KeySize]byte
	copy(key[:], rawKey)
	var nonce [NonceSize]byte
	copy(nonce[:], blob[:NonceSize])

	plaintext, ok := secretbox.Open(nil, blob[NonceSize:], &nonce, &key)
	if !ok {
		return nil, ErrNotFound
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// RemoveProduct deletes every stored version of a product.
func (v *Vault) RemoveProduct(productID string) error {
	dir, err := v.productDir(productID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("vault: remove product: %w", err)
	}
	return nil
}

// WriteLoader replaces the installer archive with a zip holding bin.
func (v *Vault) WriteLoader(bin []byte) error {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(LoaderEntry)
	if err != nil {
		return fmt.Errorf("vault: create archive entry: %w", err)
	}
	if _, err := w.Write(bin); err != nil {
		return fmt.Errorf("vault: write archive entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("vault: close archive: %w", err)
	}
	return writeFileAtomic(filepath.Join(v.root, loaderArchive), buf.Bytes())
}

// ReadLoader returns the installer archive bytes or ErrNotFound.
func (v *Vault) ReadLoader() ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(v.root, loaderArchive))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("vault: read loader: %w", err)
	}
	return b, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("vault: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vault: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("vault: rename blob: %w", err)
	}
	return nil
}
