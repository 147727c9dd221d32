package cryptox_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aussiebroadwan/tabauth/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestKeyCipher_RoundTrip(t *testing.T) {
	t.Parallel()

	kc, err := cryptox.LoadKeyCipher("", "test-master-key-for-encryption-12345")
	require.NoError(t, err)
	require.False(t, kc.Ephemeral())

	pemBytes, err := cryptox.GenerateSigningKey(cryptox.AlgES256)
	require.NoError(t, err)

	sealed1, err := kc.Seal(pemBytes)
	require.NoError(t, err)
	sealed2, err := kc.Seal(pemBytes)
	require.NoError(t, err)
	require.NotEqual(t, sealed1, sealed2, "nonce must differ per seal")

	for _, sealed := range [][]byte{sealed1, sealed2} {
		opened, err := kc.Open(sealed)
		require.NoError(t, err)
		require.Equal(t, pemBytes, opened)
	}
}

func TestKeyCipher_Rejects(t *testing.T) {
	t.Parallel()

	kc, err := cryptox.NewKeyCipher([]byte("test-master-key-tampered"))
	require.NoError(t, err)

	sealed, err := kc.Seal([]byte("original-data"))
	require.NoError(t, err)

	t.Run("tampered", func(t *testing.T) {
		tampered := append([]byte(nil), sealed...)
		tampered[len(tampered)-1] ^= 0xFF
		_, err := kc.Open(tampered)
		require.Error(t, err)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := kc.Open([]byte("short"))
		require.ErrorContains(t, err, "too short")
	})

	t.Run("other key", func(t *testing.T) {
		other, err := cryptox.NewKeyCipher([]byte("a-different-key"))
		require.NoError(t, err)
		_, err = other.Open(sealed)
		require.Error(t, err)
	})
}

func TestLoadKeyCipher_FromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "master.key")
	require.NoError(t, os.WriteFile(path, []byte("file-based-master-key-content-xyz"), 0o600))

	fromFile, err := cryptox.LoadKeyCipher(path, "ignored-env-value")
	require.NoError(t, err)
	same, err := cryptox.NewKeyCipher([]byte("file-based-master-key-content-xyz"))
	require.NoError(t, err)

	sealed, err := fromFile.Seal([]byte("data"))
	require.NoError(t, err)
	opened, err := same.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("data"), opened)

	_, err = cryptox.LoadKeyCipher(filepath.Join(t.TempDir(), "missing"), "")
	require.Error(t, err)
}

func TestLoadKeyCipher_Ephemeral(t *testing.T) {
	t.Parallel()

	kc, err := cryptox.LoadKeyCipher("", "")
	require.NoError(t, err)
	require.True(t, kc.Ephemeral())
}
