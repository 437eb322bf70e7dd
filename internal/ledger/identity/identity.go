// Package identity holds the key pair a wallet session signs its ledger
// requests with.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/louisbranch/ledgerwallet/internal/ledger/principal"
	"golang.org/x/crypto/hkdf"
)

const (
	seedSalt = "ledgerwallet/identity/v1"
	seedInfo = "ed25519 signing key"
)

// Identity signs request payloads on behalf of a principal.
type Identity interface {
	// Principal returns the caller principal this identity authenticates as.
	Principal() principal.Principal
	// PublicKey returns the raw public key, or nil for the anonymous identity.
	PublicKey() []byte
	// Sign signs payload. The anonymous identity returns nil.
	Sign(payload []byte) ([]byte, error)
}

// Ed25519 is an Identity backed by an Ed25519 key pair.
type Ed25519 struct {
	private   ed25519.PrivateKey
	principal principal.Principal
}

// Generate creates a fresh, in-memory identity.
func Generate() (*Ed25519, error) {
	return generateFrom(rand.Reader)
}

// FromSeedPhrase derives a deterministic identity from a seed phrase using
// HKDF-SHA256. The same phrase always yields the same principal.
func FromSeedPhrase(phrase string) (*Ed25519, error) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return nil, errors.New("identity seed phrase is empty")
	}
	return generateFrom(hkdf.New(sha256.New, []byte(phrase), []byte(seedSalt), []byte(seedInfo)))
}

func generateFrom(r io.Reader) (*Ed25519, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("read identity seed: %w", err)
	}
	return FromPrivateKey(ed25519.NewKeyFromSeed(seed))
}

// FromPrivateKey wraps an existing Ed25519 private key.
func FromPrivateKey(key ed25519.PrivateKey) (*Ed25519, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ed25519 private key is %d bytes, want %d", len(key), ed25519.PrivateKeySize)
	}
	pub := key.Public().(ed25519.PublicKey)
	p, err := principal.SelfAuthenticating(pub)
	if err != nil {
		return nil, err
	}
	return &Ed25519{private: key, principal: p}, nil
}

// Principal implements Identity.
func (id *Ed25519) Principal() principal.Principal {
	return id.principal
}

// PublicKey implements Identity.
func (id *Ed25519) PublicKey() []byte {
	return []byte(id.private.Public().(ed25519.PublicKey))
}

// Sign implements Identity.
func (id *Ed25519) Sign(payload []byte) ([]byte, error) {
	return ed25519.Sign(id.private, payload), nil
}

// Anonymous is the unauthenticated identity. Requests carry no signature and
// the ledger attributes them to the anonymous principal.
type Anonymous struct{}

// Principal implements Identity.
func (Anonymous) Principal() principal.Principal {
	return principal.Anonymous()
}

// PublicKey implements Identity.
func (Anonymous) PublicKey() []byte {
	return nil
}

// Sign implements Identity.
func (Anonymous) Sign([]byte) ([]byte, error) {
	return nil, nil
}

// Verify checks an Ed25519 signature made by the holder of publicKey and
// returns the principal that key authenticates.
func Verify(publicKey, payload, signature []byte) (principal.Principal, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return principal.Principal{}, fmt.Errorf("sender public key is %d bytes, want %d", len(publicKey), ed25519.PublicKeySize)
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), payload, signature) {
		return principal.Principal{}, errors.New("sender signature does not verify")
	}
	return principal.SelfAuthenticating(ed25519.PublicKey(publicKey))
}
