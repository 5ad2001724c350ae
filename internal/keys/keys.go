// Package keys manages the chain's single writer identity: an Ed25519
// keypair stored alongside the journal as agent.key / agent.pub.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
)

const (
	PrivateKeyFile = "agent.key"
	PublicKeyFile  = "agent.pub"
)

// Pair holds the loaded writer identity.
type Pair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// Generate creates a fresh keypair and writes both halves under dir.
// The private key file is created 0600. Existing keys are never
// overwritten.
func Generate(dir string) (*Pair, error) {
	privPath := filepath.Join(dir, PrivateKeyFile)
	if _, err := os.Stat(privPath); err == nil {
		return nil, types.NewError(types.ErrConflict, "writer key already exists at %s", privPath)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}

	if err := os.WriteFile(privPath, []byte(hex.EncodeToString(priv)+"\n"), 0o600); err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	pubPath := filepath.Join(dir, PublicKeyFile)
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(pub)+"\n"), 0o644); err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	return &Pair{Private: priv, Public: pub}, nil
}

// Load reads the keypair from dir. keyPath, when non-empty, overrides
// the private key location (WRITER_KEY_PATH).
func Load(dir, keyPath string) (*Pair, error) {
	privPath := keyPath
	if privPath == "" {
		privPath = filepath.Join(dir, PrivateKeyFile)
	}
	priv, err := readHexKey(privPath, ed25519.PrivateKeySize)
	if err != nil {
		return nil, err
	}
	pair := &Pair{Private: ed25519.PrivateKey(priv)}

	pubPath := filepath.Join(dir, PublicKeyFile)
	if pub, err := readHexKey(pubPath, ed25519.PublicKeySize); err == nil {
		pair.Public = ed25519.PublicKey(pub)
	} else {
		pair.Public = pair.Private.Public().(ed25519.PublicKey)
	}
	return pair, nil
}

// LoadPublic reads only the public half, for verification paths that
// must work without the writer key present.
func LoadPublic(dir string) (ed25519.PublicKey, error) {
	pub, err := readHexKey(filepath.Join(dir, PublicKeyFile), ed25519.PublicKeySize)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(pub), nil
}

func readHexKey(path string, wantLen int) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewError(types.ErrInvalidInput, "key file not found: %s", path)
		}
		return nil, types.WrapError(types.ErrIo, err)
	}
	decoded, err := hex.DecodeString(trimNewlines(string(raw)))
	if err != nil {
		return nil, types.NewError(types.ErrCorrupt, "key file %s is not hex: %v", path, err)
	}
	if len(decoded) != wantLen {
		return nil, types.NewError(types.ErrCorrupt, "key file %s: got %d bytes, want %d", path, len(decoded), wantLen)
	}
	return decoded, nil
}

func trimNewlines(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
