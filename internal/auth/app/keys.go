package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/tabauth/internal/auth/store"
	"github.com/aussiebroadwan/tabauth/pkg/cryptox"
	"github.com/aussiebroadwan/tabauth/pkg/jwtx"
)

// InitAuthKeys creates the KeyManager for the configured storage mode.
//
// Storage modes:
//   - "ephemeral": keys live in memory and every token dies with the process.
//   - "persistent": keys are sealed with the master key and stored in the
//     database, so tokens survive restarts and rotation keeps history.
//
// The returned cipher is nil in ephemeral mode.
func InitAuthKeys(ctx context.Context, cfg Config, db store.Store, logger *slog.Logger) (*jwtx.KeyManager, *cryptox.KeyCipher, error) {
	if cfg.KeyStorageMode != "persistent" {
		logger.Info("initializing ephemeral key manager",
			"algorithm", cfg.Algorithm,
			"num_keys", cfg.NumKeys,
		)

		km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
			Algorithm: cfg.Algorithm,
			Issuer:    cfg.Issuer,
			NumKeys:   cfg.NumKeys,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize ephemeral key manager: %w", err)
		}

		logger.Info("generated ephemeral signing keys",
			"algorithm", km.Algorithm(),
			"num_keys", km.NumSigners(),
			"issuer", cfg.Issuer,
		)
		logger.Warn("all existing tokens are now invalid due to key rotation on startup")
		return km, nil, nil
	}

	cipher, err := cryptox.LoadKeyCipher(cfg.MasterKeyPath, cfg.MasterKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load master key: %w", err)
	}
	if cipher.Ephemeral() {
		logger.Warn("no master key configured, persisted signing keys will not survive a restart")
	}

	logger.Info("initializing persistent key manager",
		"algorithm", cfg.Algorithm,
		"num_keys", cfg.NumKeys,
		"key_lifetime", cfg.KeyLifetime,
	)

	km, err := jwtx.NewPersistentKeyManager(ctx, jwtx.PersistentKeyManagerOptions{
		Store:     store.NewKeyStoreAdapter(db),
		Cipher:    cipher,
		Algorithm: cfg.Algorithm,
		Issuer:    cfg.Issuer,
		NumKeys:   cfg.NumKeys,
		Lifetime:  cfg.KeyLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize persistent key manager: %w", err)
	}

	logger.Info("persistent signing keys loaded",
		"algorithm", km.Algorithm(),
		"num_keys", km.NumSigners(),
		"issuer", cfg.Issuer,
	)
	return km, cipher, nil
}
