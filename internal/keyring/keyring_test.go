package keyring

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apex-trading/apex/internal/position"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSeedHex = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte(testSeedHex+"\n"), 0o600))

	kr, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, kr.Ready())
	assert.Len(t, kr.PublicKey(), 64)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("TEST_APEX_KEY", testSeedHex)

	kr, err := LoadEnv("TEST_APEX_KEY")
	require.NoError(t, err)
	assert.True(t, kr.Ready())

	_, err = LoadEnv("TEST_APEX_KEY_MISSING")
	assert.Error(t, err)
}

func TestLoadRejectsBadSeeds(t *testing.T) {
	t.Setenv("TEST_APEX_KEY_SHORT", "abcd")
	_, err := LoadEnv("TEST_APEX_KEY_SHORT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")

	t.Setenv("TEST_APEX_KEY_BAD", "not-hex")
	_, err = LoadEnv("TEST_APEX_KEY_BAD")
	assert.Error(t, err)
}

func TestSign(t *testing.T) {
	t.Setenv("TEST_APEX_KEY", testSeedHex)
	kr, err := LoadEnv("TEST_APEX_KEY")
	require.NoError(t, err)

	tx := base64.StdEncoding.EncodeToString([]byte("serialized-transaction"))
	signed, err := kr.Sign(position.ChainSOL, tx)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(signed)
	require.NoError(t, err)
	var envelope signedEnvelope
	require.NoError(t, json.Unmarshal(raw, &envelope))

	assert.Equal(t, tx, envelope.Transaction)
	assert.Equal(t, kr.PublicKey(), envelope.PublicKey)

	// The signature must verify against the envelope's public key.
	pub, err := hex.DecodeString(envelope.PublicKey)
	require.NoError(t, err)
	sig, err := base64.StdEncoding.DecodeString(envelope.Signature)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, []byte("serialized-transaction"), sig))
}

func TestSignNeverLeaksKeyMaterial(t *testing.T) {
	t.Setenv("TEST_APEX_KEY", testSeedHex)
	kr, err := LoadEnv("TEST_APEX_KEY")
	require.NoError(t, err)

	tx := base64.StdEncoding.EncodeToString([]byte("payload"))
	signed, err := kr.Sign(position.ChainETH, tx)
	require.NoError(t, err)

	raw, _ := base64.StdEncoding.DecodeString(signed)
	assert.False(t, strings.Contains(string(raw), testSeedHex), "seed must never appear in output")
}

func TestSignRejectsEmptyAndBadInput(t *testing.T) {
	t.Setenv("TEST_APEX_KEY", testSeedHex)
	kr, err := LoadEnv("TEST_APEX_KEY")
	require.NoError(t, err)

	_, err = kr.Sign(position.ChainSOL, "")
	assert.Error(t, err)

	_, err = kr.Sign(position.ChainSOL, "!!! not base64 !!!")
	assert.Error(t, err)

	var nilKr *Keyring
	assert.False(t, nilKr.Ready())
}
