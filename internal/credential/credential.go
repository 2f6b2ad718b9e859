// Package credential hashes and verifies account passwords with argon2id.
// Hashes use the PHC string format shared with libsodium's crypto_pwhash_str:
//
//	$argon2id$v=19$m=65536,t=2,p=1$<salt>$<hash>
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrMalformedHash is returned when a stored hash cannot be decoded.
var ErrMalformedHash = errors.New("credential: malformed password hash")

// Params is the argon2id work factor. Memory is in KiB.
type Params struct {
	Memory  uint32
	Time    uint32
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// InteractiveParams matches libsodium's OPSLIMIT/MEMLIMIT_INTERACTIVE.
var InteractiveParams = Params{Memory: 64 * 1024, Time: 2, Threads: 1, SaltLen: 16, KeyLen: 32}

// Hasher holds the process-wide work factor.
type Hasher struct {
	params Params
}

func NewHasher(p Params) *Hasher {
	if p.SaltLen == 0 {
		p.SaltLen = InteractiveParams.SaltLen
	}
	if p.KeyLen == 0 {
		p.KeyLen = InteractiveParams.KeyLen
	}
	if p.Threads == 0 {
		p.Threads = 1
	}
	return &Hasher{params: p}
}

// Params returns the configured work factor.
func (h *Hasher) Params() Params { return h.params }

// Hash derives a new PHC string for password with a fresh random salt.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("credential: read salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded. A wrong password is
// (false, nil); only an undecodable hash returns an error.
func (h *Hasher) Verify(encoded, password string) (bool, error) {
	d, err := decode(encoded)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(password), d.salt, d.params.Time, d.params.Memory, d.params.Threads, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(key, d.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced under weaker
// parameters than the configured ones.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	d, err := decode(encoded)
	if err != nil {
		return false, err
	}
	p := d.params
	return d.version != argon2.Version ||
		p.Memory < h.params.Memory ||
		p.Time < h.params.Time ||
		p.Threads < h.params.Threads ||
		uint32(len(d.key)) < h.params.KeyLen, nil
}

type decoded struct {
	version int
	params  Params
	salt    []byte
	key     []byte
}

func decode(encoded string) (decoded, error) {
	var d decoded
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return d, ErrMalformedHash
	}
	if _, err := fmt.Sscanf(parts[2], "v=%d", &d.version); err != nil {
		return d, ErrMalformedHash
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &d.params.Memory, &d.params.Time, &d.params.Threads); err != nil {
		return d, ErrMalformedHash
	}
	if d.params.Memory == 0 || d.params.Time == 0 || d.params.Threads == 0 {
		return d, ErrMalformedHash
	}
	var err error
	if d.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(d.salt) == 0 {
		return d, ErrMalformedHash
	}
	if d.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(d.key) == 0 {
		return d, ErrMalformedHash
	}
	d.params.SaltLen = uint32(len(d.salt))
	d.params.KeyLen = uint32(len(d.key))
	return d, nil
}
