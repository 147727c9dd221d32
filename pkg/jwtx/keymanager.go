package jwtx

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/aussiebroadwan/tabauth/pkg/cryptox"
)

// KeyManager owns the active signing keys and the KeySet used to verify and
// publish them. Signing picks a random active key; retired keys stay in the
// KeySet until their grace period ends.
type KeyManager struct {
	KeySet   *KeySet
	Verifier *Verifier

	algorithm string

	mu      sync.RWMutex
	signers []Signer
}

// KeyManagerOptions configures NewEphemeralKeyManager.
type KeyManagerOptions struct {
	// Algorithm is EdDSA or ES256. Empty means EdDSA.
	Algorithm string

	// Issuer is the iss claim enforced by the verifier.
	Issuer string

	// NumKeys is clamped to 1..10, defaulting to 3.
	NumKeys int
}

func clampNumKeys(n int) int {
	switch {
	case n <= 0:
		return 3
	case n > 10:
		return 10
	}
	return n
}

func normalizeAlgorithm(alg string) (string, error) {
	switch alg {
	case "":
		return AlgorithmEdDSA, nil
	case AlgorithmEdDSA, AlgorithmES256:
		return alg, nil
	}
	return "", fmt.Errorf("jwtx: unsupported algorithm %q (supported: EdDSA, ES256)", alg)
}

func newKeyManager(alg, issuer string) *KeyManager {
	keyset := NewKeySet()
	return &KeyManager{
		KeySet:    keyset,
		Verifier:  NewVerifier(keyset, issuer),
		algorithm: alg,
	}
}

// NewEphemeralKeyManager creates keys that only exist in memory. Every token
// becomes invalid when the process restarts.
func NewEphemeralKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	if opts.Issuer == "" {
		return nil, errors.New("jwtx: Issuer is required")
	}
	alg, err := normalizeAlgorithm(opts.Algorithm)
	if err != nil {
		return nil, err
	}

	km := newKeyManager(alg, opts.Issuer)
	for i := range clampNumKeys(opts.NumKeys) {
		kid, err := NewKeyID()
		if err != nil {
			return nil, err
		}
		signer, _, err := GenerateSigner(alg, kid)
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to generate signer %d: %w", i+1, err)
		}
		if err := km.AddSigner(signer); err != nil {
			return nil, err
		}
	}
	return km, nil
}

// Algorithm returns the algorithm new keys are generated with.
func (km *KeyManager) Algorithm() string { return km.algorithm }

// IsReady returns true if the KeyManager can both sign and verify.
func (km *KeyManager) IsReady() bool {
	return km.NumSigners() > 0 && km.KeySet.IsReady()
}

// GetSigner returns a randomly selected active signer, or nil when none exist.
func (km *KeyManager) GetSigner() Signer {
	km.mu.RLock()
	defer km.mu.RUnlock()

	switch len(km.signers) {
	case 0:
		return nil
	case 1:
		return km.signers[0]
	}
	return km.signers[rand.IntN(len(km.signers))]
}

// Sign signs claims with a random active key.
func (km *KeyManager) Sign(c Claims) (string, error) {
	s := km.GetSigner()
	if s == nil {
		return "", errors.New("jwtx: no active signing key")
	}
	return s.Sign(c)
}

// NumSigners returns the number of active signing keys.
func (km *KeyManager) NumSigners() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.signers)
}

// ActiveKIDs lists the kids currently used for signing.
func (km *KeyManager) ActiveKIDs() []string {
	km.mu.RLock()
	defer km.mu.RUnlock()
	kids := make([]string, len(km.signers))
	for i, s := range km.signers {
		kids[i] = s.KID()
	}
	return kids
}

// AddSigner makes signer active and publishes its public key.
func (km *KeyManager) AddSigner(signer Signer) error {
	if signer == nil {
		return errors.New("jwtx: signer cannot be nil")
	}
	if err := km.KeySet.AddSigner(signer); err != nil {
		return fmt.Errorf("jwtx: add signer to keyset: %w", err)
	}
	km.mu.Lock()
	km.signers = append(km.signers, signer)
	km.mu.Unlock()
	return nil
}

// RetireSignerByKid stops signing with kid. Its public key remains in the
// KeySet so already-issued tokens keep verifying.
func (km *KeyManager) RetireSignerByKid(kid string) error {
	km.mu.Lock()
	defer km.mu.Unlock()

	if len(km.signers) <= 1 {
		return errors.New("jwtx: cannot retire the last signing key")
	}
	for i, s := range km.signers {
		if s.KID() == kid {
			km.signers = append(km.signers[:i:i], km.signers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("jwtx: signer with kid %q not found", kid)
}

// NewKeyID returns a random kid of the form "tabauth-<token>".
func NewKeyID() (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", fmt.Errorf("jwtx: generate key ID: %w", err)
	}
	return "tabauth-" + token, nil
}
