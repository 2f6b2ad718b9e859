package sealed

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// KeySize is the length of Curve25519 public and private keys.
const KeySize = 32

// KeyPair is a server or client Curve25519 key pair.
type KeyPair struct {
	Public  [KeySize]byte
	Private [KeySize]byte
}

// GenerateKeyPair creates a fresh key pair from crypto/rand.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("sealed: generate key pair: %w", err)
	}
	return KeyPair{Public: *pub, Private: *priv}, nil
}

// ParseKeyPair decodes a hex encoded key pair as stored in core_loader.
func ParseKeyPair(publicHex, privateHex string) (KeyPair, error) {
	var kp KeyPair
	if err := decodeHexKey(publicHex, &kp.Public); err != nil {
		return KeyPair{}, fmt.Errorf("sealed: public key: %w", err)
	}
	if err := decodeHexKey(privateHex, &kp.Private); err != nil {
		return KeyPair{}, fmt.Errorf("sealed: private key: %w", err)
	}
	return kp, nil
}

// PublicHex and PrivateHex return the storage encoding of the keys.
func (kp KeyPair) PublicHex() string  { return hex.EncodeToString(kp.Public[:]) }
func (kp KeyPair) PrivateHex() string { return hex.EncodeToString(kp.Private[:]) }

// PublicBase64 is the encoding handed to clients and administrators.
func (kp KeyPair) PublicBase64() string { return base64.StdEncoding.EncodeToString(kp.Public[:]) }

func decodeHexKey(s string, dst *[KeySize]byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != KeySize {
		return errors.New("invalid key length")
	}
	copy(dst[:], b)
	return nil
}

// ParsePublicKey decodes a base64 client public key.
func ParsePublicKey(b64 string) (*[KeySize]byte, error) {
	b, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, decodeErr(SchemaInvalid, fmt.Errorf("public key: %w", err))
	}
	if len(b) != KeySize {
		return nil, decodeErr(SchemaInvalid, errors.New("public key: invalid length"))
	}
	var key [KeySize]byte
	copy(key[:], b)
	return &key, nil
}
