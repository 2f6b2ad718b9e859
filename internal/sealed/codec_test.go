package sealed

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"
)

type streamRequest struct {
	User      string `json:"user" validate:"required,uuid4"`
	Product   string `json:"product" validate:"required,uuid4"`
	PublicKey string `json:"publicKey" validate:"required,base64"`
}

func mustKeyPair(t *testing.T) KeyPair {
	t.Helper()
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func TestSealOpenRoundTrip(t *testing.T) {
	server := mustKeyPair(t)
	msg := []byte(`{"hello":"world"}`)

	ct, err := Seal(msg, &server.Public)
	require.NoError(t, err)
	assert.Len(t, ct, len(msg)+Overhead)

	pt, err := Open(ct, server)
	require.NoError(t, err)
	assert.Equal(t, msg, pt)
}

func TestOpenDetectsEverySingleBitFlip(t *testing.T) {
	server := mustKeyPair(t)
	ct, err := Seal([]byte("payload"), &server.Public)
	require.NoError(t, err)

	for i := 0; i < len(ct)*8; i++ {
		corrupted := append([]byte(nil), ct...)
		corrupted[i/8] ^= 1 << (i % 8)
		_, err := Open(corrupted, server)
		require.ErrorIs(t, err, ErrAuthFailure, "bit %d", i)
	}
}

func TestOpenRejectsTruncation(t *testing.T) {
	server := mustKeyPair(t)
	_, err := Open(make([]byte, Overhead-1), server)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.NotErrorIs(t, err, ErrAuthFailure)
}

func TestOpenWithWrongKey(t *testing.T) {
	server := mustKeyPair(t)
	other := mustKeyPair(t)
	ct, err := Seal([]byte("payload"), &server.Public)
	require.NoError(t, err)
	_, err = Open(ct, other)
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func sealJSON(t *testing.T, v any, to KeyPair) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	ct, err := Seal(b, &to.Public)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(ct)
}

func TestDecryptInbound(t *testing.T) {
	server := mustKeyPair(t)
	client := mustKeyPair(t)
	codec := NewCodec(nil)

	data := sealJSON(t, map[string]string{
		"user":      "0b8f7f0e-8e5c-4f0a-9d6a-3f2b1c0d9e8f",
		"product":   "5a4b3c2d-1e0f-4a9b-8c7d-6e5f4a3b2c1d",
		"publicKey": client.PublicBase64(),
	}, server)

	var req streamRequest
	require.NoError(t, codec.DecryptInbound(data, server, &req))
	assert.Equal(t, "0b8f7f0e-8e5c-4f0a-9d6a-3f2b1c0d9e8f", req.User)
	assert.Equal(t, client.PublicBase64(), req.PublicKey)
}

func TestDecryptInboundErrors(t *testing.T) {
	server := mustKeyPair(t)
	codec := NewCodec(nil)

	var req streamRequest
	assert.ErrorIs(t, codec.DecryptInbound("%%%not-base64", server, &req), ErrMalformed)

	notJSON, err := Seal([]byte("not json"), &server.Public)
	require.NoError(t, err)
	assert.ErrorIs(t, codec.DecryptInbound(base64.StdEncoding.EncodeToString(notJSON), server, &req), ErrSchemaInvalid)

	missing := sealJSON(t, map[string]string{"user": "0b8f7f0e-8e5c-4f0a-9d6a-3f2b1c0d9e8f"}, server)
	assert.ErrorIs(t, codec.DecryptInbound(missing, server, &req), ErrSchemaInvalid)
}

func TestEncryptOutbound(t *testing.T) {
	client := mustKeyPair(t)
	codec := NewCodec(nil)

	out, err := codec.EncryptOutbound(map[string]string{"process": "game.exe"}, client.PublicBase64())
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(out)
	require.NoError(t, err)
	pt, ok := box.OpenAnonymous(nil, raw, &client.Public, &client.Private)
	require.True(t, ok)
	assert.JSONEq(t, `{"process":"game.exe"}`, string(pt))

	_, err = codec.EncryptOutbound("x", base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrSchemaInvalid)
}

func TestParseKeyPair(t *testing.T) {
	kp := mustKeyPair(t)
	parsed, err := ParseKeyPair(kp.PublicHex(), kp.PrivateHex())
	require.NoError(t, err)
	assert.Equal(t, kp, parsed)

	_, err = ParseKeyPair("abcd", kp.PrivateHex())
	assert.Error(t, err)
}
