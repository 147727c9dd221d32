package jwtx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tabauth/pkg/cryptox"
	"github.com/aussiebroadwan/tabauth/pkg/idx"
)

// SigningKeyRecord is a signing key as persisted by a KeyStore.
type SigningKeyRecord struct {
	ID                  string
	Kid                 string
	Algorithm           string
	PrivateKeyEncrypted []byte
	CreatedAt           time.Time
	RetiredAt           *time.Time
	ExpiresAt           time.Time
}

// Active reports whether the key may still sign at now.
func (r SigningKeyRecord) Active(now time.Time) bool {
	return r.RetiredAt == nil && now.Before(r.ExpiresAt)
}

// KeyStore is the persistence the KeyManager needs. It is declared here so
// jwtx stays free of store imports.
type KeyStore interface {
	// ListSigningKeys returns every key whose expiry has not passed.
	ListSigningKeys(ctx context.Context, now time.Time) ([]SigningKeyRecord, error)
	CreateSigningKey(ctx context.Context, key SigningKeyRecord) error
}

// PersistentKeyManagerOptions configures NewPersistentKeyManager.
type PersistentKeyManagerOptions struct {
	Store  KeyStore
	Cipher *cryptox.KeyCipher

	// Algorithm used for newly generated keys. Loaded keys keep their own.
	Algorithm string
	Issuer    string

	// NumKeys is the target number of active keys.
	NumKeys int

	// Lifetime of a new key before it stops verifying. Defaults to 90 days.
	Lifetime time.Duration

	Now func() time.Time
}

// NewPersistentKeyManager loads keys from the store, tops the active set up to
// NumKeys, and returns a manager that survives restarts.
func NewPersistentKeyManager(ctx context.Context, opts PersistentKeyManagerOptions) (*KeyManager, error) {
	if opts.Store == nil || opts.Cipher == nil {
		return nil, errors.New("jwtx: Store and Cipher are required for persistent key manager")
	}
	if opts.Issuer == "" {
		return nil, errors.New("jwtx: Issuer is required")
	}
	alg, err := normalizeAlgorithm(opts.Algorithm)
	if err != nil {
		return nil, err
	}
	if opts.Lifetime <= 0 {
		opts.Lifetime = 90 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	now := opts.Now()
	want := clampNumKeys(opts.NumKeys)

	records, err := opts.Store.ListSigningKeys(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("jwtx: failed to load keys: %w", err)
	}

	km := newKeyManager(alg, opts.Issuer)
	for _, rec := range records {
		pemData, err := opts.Cipher.Open(rec.PrivateKeyEncrypted)
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to decrypt key %s: %w", rec.Kid, err)
		}
		signer, err := NewSigner(rec.Algorithm, rec.Kid, pemData)
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to load key %s: %w", rec.Kid, err)
		}
		if rec.Active(now) {
			err = km.AddSigner(signer)
		} else {
			err = km.KeySet.AddSigner(signer)
		}
		if err != nil {
			return nil, err
		}
	}

	for km.NumSigners() < want {
		kid, err := NewKeyID()
		if err != nil {
			return nil, err
		}
		signer, pemData, err := GenerateSigner(alg, kid)
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to generate key: %w", err)
		}
		sealed, err := opts.Cipher.Seal(pemData)
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to encrypt key: %w", err)
		}
		rec := SigningKeyRecord{
			ID:                  idx.NewAt(now).String(),
			Kid:                 kid,
			Algorithm:           alg,
			PrivateKeyEncrypted: sealed,
			CreatedAt:           now,
			ExpiresAt:           now.Add(opts.Lifetime),
		}
		if err := opts.Store.CreateSigningKey(ctx, rec); err != nil {
			return nil, fmt.Errorf("jwtx: failed to store key: %w", err)
		}
		if err := km.AddSigner(signer); err != nil {
			return nil, err
		}
	}

	return km, nil
}
