// Package sealed implements the client channel: inbound payloads are
// anonymous sealed boxes addressed to the loader key pair, outbound
// payloads are sealed to a one-time public key chosen by the client.
// The format is libsodium's crypto_box_seal.
package sealed

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/nacl/box"
)

// Overhead is the size a sealed box adds to its plaintext
// (ephemeral public key + Poly1305 tag).
const Overhead = box.AnonymousOverhead

// Open decrypts an anonymous sealed box addressed to kp.
func Open(ciphertext []byte, kp KeyPair) ([]byte, error) {
	if len(ciphertext) < Overhead {
		return nil, decodeErr(Malformed, fmt.Errorf("ciphertext is %d bytes, minimum is %d", len(ciphertext), Overhead))
	}
	plaintext, ok := box.OpenAnonymous(nil, ciphertext, &kp.Public, &kp.Private)
	if !ok {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}

// Seal encrypts plaintext to recipient. No sender identity is embedded.
func Seal(plaintext []byte, recipient *[KeySize]byte) ([]byte, error) {
	out, err := box.SealAnonymous(nil, plaintext, recipient, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sealed: seal: %w", err)
	}
	return out, nil
}

// Codec moves structured JSON payloads through the sealed channel and
// validates inbound payloads against their struct tags.
type Codec struct {
	validate *validator.Validate
}

func NewCodec(v *validator.Validate) *Codec {
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	return &Codec{validate: v}
}

// DecryptInbound opens the base64 envelope data with kp and decodes the
// plaintext into dst, which must be a pointer to a tagged struct.
func (c *Codec) DecryptInbound(data string, kp KeyPair, dst any) error {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return decodeErr(Malformed, err)
	}
	plaintext, err := Open(raw, kp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, dst); err != nil {
		return decodeErr(SchemaInvalid, err)
	}
	if err := c.validate.Struct(dst); err != nil {
		return decodeErr(SchemaInvalid, err)
	}
	return nil
}

// EncryptOutbound marshals v and seals it to the base64 client key,
// returning the base64 envelope value.
func (c *Codec) EncryptOutbound(v any, recipientB64 string) (string, error) {
	recipient, err := ParsePublicKey(recipientB64)
	if err != nil {
		return "", err
	}
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("sealed: marshal: %w", err)
	}
	out, err := Seal(plaintext, recipient)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}
