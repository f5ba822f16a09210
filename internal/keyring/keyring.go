// Package keyring is the local signing boundary. Key material is loaded once
// at boot and never leaves this package: it is not serialized, not logged,
// and not reachable through any accessor.
package keyring

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/apex-trading/apex/internal/position"
	"github.com/rs/zerolog/log"
)

// Keyring signs prepared transactions with a locally held ed25519 key.
// Implements execution.Signer.
type Keyring struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// LoadFile reads a hex-encoded 32-byte seed from a key file.
func LoadFile(path string) (*Keyring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keyring: read key file: %w", err)
	}
	return fromSeedHex(strings.TrimSpace(string(data)))
}

// LoadEnv reads a hex-encoded 32-byte seed from an environment variable.
func LoadEnv(name string) (*Keyring, error) {
	seed := os.Getenv(name)
	if seed == "" {
		return nil, fmt.Errorf("keyring: environment variable %s not set", name)
	}
	return fromSeedHex(seed)
}

func fromSeedHex(seedHex string) (*Keyring, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("keyring: decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keyring: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	kr := &Keyring{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
	log.Info().Str("pubkey", kr.PublicKey()).Msg("keyring: signing key loaded")
	return kr, nil
}

// Ready reports whether a key is loaded.
func (k *Keyring) Ready() bool {
	return k != nil && len(k.priv) == ed25519.PrivateKeySize
}

// PublicKey returns the hex-encoded public key. Safe to log.
func (k *Keyring) PublicKey() string {
	return hex.EncodeToString(k.pub)
}

// signedEnvelope is what the venue execute endpoint receives: the original
// transaction with a detached signature over its bytes.
type signedEnvelope struct {
	Transaction string `json:"transaction"`
	Signature   string `json:"signature"`
	PublicKey   string `json:"publicKey"`
}

// Sign signs the prepared transaction and returns the base64 signed envelope.
func (k *Keyring) Sign(chain position.ChainKey, unsignedTx string) (string, error) {
	if !k.Ready() {
		return "", fmt.Errorf("keyring: no key loaded")
	}
	if unsignedTx == "" {
		return "", fmt.Errorf("keyring: empty transaction")
	}

	txBytes, err := base64.StdEncoding.DecodeString(unsignedTx)
	if err != nil {
		return "", fmt.Errorf("keyring: decode transaction: %w", err)
	}

	sig := ed25519.Sign(k.priv, txBytes)
	envelope, err := json.Marshal(signedEnvelope{
		Transaction: unsignedTx,
		Signature:   base64.StdEncoding.EncodeToString(sig),
		PublicKey:   k.PublicKey(),
	})
	if err != nil {
		return "", fmt.Errorf("keyring: marshal envelope: %w", err)
	}

	return base64.StdEncoding.EncodeToString(envelope), nil
}
