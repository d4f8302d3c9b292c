// Package signing provides the Ed25519 keyring that signs audit records.
package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrUnknownKey   = errors.New("signing: unknown key id")
	ErrNoRootSecret = errors.New("signing: root secret is required to derive keys")
	ErrInvalidSeed  = errors.New("signing: invalid seed")
)

const derivationInfoPrefix = "auditchain:signing:"

// Keyring holds named Ed25519 keys.
type Keyring struct {
	keys map[string]ed25519.PrivateKey
}

func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]ed25519.PrivateKey)}
}

// Parse builds a keyring from config entries. An entry "id" derives the key
// from root; "id=<base64 seed>" loads an explicit 32-byte seed.
func Parse(root []byte, entries []string) (*Keyring, error) {
	k := NewKeyring()
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		keyID, encoded, explicit := strings.Cut(entry, "=")
		if !explicit {
			if err := k.Derive(root, keyID); err != nil {
				return nil, err
			}
			continue
		}

		seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
		if err != nil {
			return nil, fmt.Errorf("signing.Parse(%q): %w: %w", keyID, ErrInvalidSeed, err)
		}
		if err := k.AddSeed(keyID, seed); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// Derive adds keyID with a seed expanded from root by HKDF-SHA256.
func (k *Keyring) Derive(root []byte, keyID string) error {
	if len(root) == 0 {
		return fmt.Errorf("signing.Derive(%q): %w", keyID, ErrNoRootSecret)
	}
	seed := make([]byte, ed25519.SeedSize)
	r := hkdf.New(sha256.New, root, nil, []byte(derivationInfoPrefix+keyID))
	if _, err := io.ReadFull(r, seed); err != nil {
		return fmt.Errorf("signing.Derive(%q): %w", keyID, err)
	}
	return k.AddSeed(keyID, seed)
}

func (k *Keyring) AddSeed(keyID string, seed []byte) error {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return fmt.Errorf("signing.AddSeed: key id is required")
	}
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("signing.AddSeed(%q): %w: want %d bytes, got %d",
			keyID, ErrInvalidSeed, ed25519.SeedSize, len(seed))
	}
	k.keys[keyID] = ed25519.NewKeyFromSeed(seed)
	return nil
}

// KeyIDs returns configured key ids in sorted order.
func (k *Keyring) KeyIDs() []string {
	ids := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (k *Keyring) Has(keyID string) bool {
	_, ok := k.keys[keyID]
	return ok
}

func (k *Keyring) PublicKey(keyID string) (ed25519.PublicKey, error) {
	priv, ok := k.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("signing.PublicKey(%q): %w", keyID, ErrUnknownKey)
	}
	return slices.Clone(priv.Public().(ed25519.PublicKey)), nil
}

func (k *Keyring) Sign(_ context.Context, data []byte, keyID string) ([]byte, error) {
	priv, ok := k.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("signing.Sign(%q): %w", keyID, ErrUnknownKey)
	}
	return ed25519.Sign(priv, data), nil
}

// Verify reports whether signature is valid for data under keyID. An
// unknown key id is an error, not a false result.
func (k *Keyring) Verify(_ context.Context, data, signature []byte, keyID string) (bool, error) {
	priv, ok := k.keys[keyID]
	if !ok {
		return false, fmt.Errorf("signing.Verify(%q): %w", keyID, ErrUnknownKey)
	}
	pub := priv.Public().(ed25519.PublicKey)
	return ed25519.Verify(pub, data, signature), nil
}

// GenerateSecret returns a random base64 root secret suitable for
// AUDITCHAIN_SIGNING_SECRET.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("signing.GenerateSecret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
