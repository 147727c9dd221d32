package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/internal/auth/store"
	"github.com/aussiebroadwan/tabauth/pkg/cryptox"
	"github.com/aussiebroadwan/tabauth/pkg/idx"
	"github.com/aussiebroadwan/tabauth/pkg/jwtx"
	"github.com/aussiebroadwan/tabauth/pkg/slogx"
)

// DefaultKeyLifetime is how long a new signing key verifies tokens.
const DefaultKeyLifetime = 90 * 24 * time.Hour

// KeyRotationService adds and retires JWT signing keys at runtime.
//
// With a nil Store keys only live in the KeyManager and are lost on restart.
// Otherwise new keys are sealed with Cipher and persisted; retired keys keep
// verifying until they expire and housekeeping removes them.
type KeyRotationService struct {
	Store      store.Store
	Cipher     *cryptox.KeyCipher
	KeyManager *jwtx.KeyManager
	Lifetime   time.Duration
	Now        func() time.Time
}

// RotateKeyRequest controls RotateKey.
type RotateKeyRequest struct {
	// RetireExisting stops every other key from signing.
	RetireExisting bool `json:"retire_existing"`
}

// RotateKeyResponse describes the outcome of a rotation.
type RotateKeyResponse struct {
	Kid         string   `json:"kid"`
	Algorithm   string   `json:"algorithm"`
	RetiredKids []string `json:"retired_kids,omitempty"`
	ActiveKeys  int      `json:"active_keys"`
}

// SigningKeyInfo is a key as listed to administrators.
type SigningKeyInfo struct {
	Kid       string     `json:"kid"`
	Algorithm string     `json:"algorithm"`
	Active    bool       `json:"active"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	RetiredAt *time.Time `json:"retired_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *KeyRotationService) lifetime() time.Duration {
	if s.Lifetime <= 0 {
		return DefaultKeyLifetime
	}
	return s.Lifetime
}

// RotateKey generates a key with the manager's algorithm and makes it active.
func (s *KeyRotationService) RotateKey(ctx context.Context, req RotateKeyRequest) (RotateKeyResponse, error) {
	if s.KeyManager == nil {
		return RotateKeyResponse{}, errors.New("key manager is required")
	}
	alg := s.KeyManager.Algorithm()
	kid, err := jwtx.NewKeyID()
	if err != nil {
		return RotateKeyResponse{}, err
	}
	signer, pemData, err := jwtx.GenerateSigner(alg, kid)
	if err != nil {
		return RotateKeyResponse{}, fmt.Errorf("generate signing key: %w", err)
	}

	now := nowOr(s.Now)
	retire := []string{}
	if req.RetireExisting {
		retire = s.KeyManager.ActiveKIDs()
	}

	if s.Store != nil {
		if s.Cipher == nil {
			return RotateKeyResponse{}, errors.New("key cipher is required")
		}
		sealed, err := s.Cipher.Seal(pemData)
		if err != nil {
			return RotateKeyResponse{}, fmt.Errorf("seal signing key: %w", err)
		}
		key := domain.SigningKey{
			ID:                  idx.NewAt(now).String(),
			Kid:                 kid,
			Algorithm:           alg,
			PrivateKeyEncrypted: sealed,
			CreatedAt:           now,
			ExpiresAt:           now.Add(s.lifetime()),
		}
		err = s.Store.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.SigningKeys().CreateSigningKey(ctx, key); err != nil {
				return fmt.Errorf("store signing key: %w", err)
			}
			for _, old := range retire {
				if err := tx.SigningKeys().RetireSigningKey(ctx, old, now); err != nil && !errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("retire key %s: %w", old, err)
				}
			}
			return nil
		})
		if err != nil {
			return RotateKeyResponse{}, err
		}
	}

	if err := s.KeyManager.AddSigner(signer); err != nil {
		return RotateKeyResponse{}, err
	}
	for _, old := range retire {
		if err := s.KeyManager.RetireSignerByKid(old); err != nil {
			return RotateKeyResponse{}, err
		}
	}

	slogx.FromContext(ctx).Info("signing key rotated",
		slog.String("kid", kid), slog.Int("retired", len(retire)))
	return RotateKeyResponse{
		Kid:         kid,
		Algorithm:   alg,
		RetiredKids: retire,
		ActiveKeys:  s.KeyManager.NumSigners(),
	}, nil
}

// ListSigningKeys lists persisted keys, or the manager's active keys when
// running ephemeral.
func (s *KeyRotationService) ListSigningKeys(ctx context.Context) ([]SigningKeyInfo, error) {
	active := s.KeyManager.ActiveKIDs()
	if s.Store == nil {
		out := make([]SigningKeyInfo, len(active))
		for i, kid := range active {
			out[i] = SigningKeyInfo{Kid: kid, Algorithm: s.KeyManager.Algorithm(), Active: true}
		}
		return out, nil
	}

	keys, err := s.Store.SigningKeys().ListSigningKeys(ctx, nowOr(s.Now))
	if err != nil {
		return nil, fmt.Errorf("list signing keys: %w", err)
	}
	out := make([]SigningKeyInfo, len(keys))
	for i, k := range keys {
		out[i] = SigningKeyInfo{
			Kid:       k.Kid,
			Algorithm: k.Algorithm,
			Active:    slices.Contains(active, k.Kid),
			CreatedAt: &k.CreatedAt,
			RetiredAt: k.RetiredAt,
			ExpiresAt: &k.ExpiresAt,
		}
	}
	return out, nil
}

// RetireKey stops kid from signing. The last active key cannot be retired.
func (s *KeyRotationService) RetireKey(ctx context.Context, kid string) error {
	if !slices.Contains(s.KeyManager.ActiveKIDs(), kid) {
		return ErrSigningKeyNotFound
	}
	if s.KeyManager.NumSigners() <= 1 {
		return ErrInvalidRequest
	}
	if s.Store != nil {
		if err := s.Store.SigningKeys().RetireSigningKey(ctx, kid, nowOr(s.Now)); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("retire signing key: %w", err)
		}
	}
	if err := s.KeyManager.RetireSignerByKid(kid); err != nil {
		return fmt.Errorf("retire signer: %w", err)
	}
	slogx.FromContext(ctx).Info("signing key retired", slog.String("kid", kid))
	return nil
}
