package i18nx_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/tabauth/pkg/i18nx"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestResolveTag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target string
		cookie string
		accept string
		want   language.Tag
	}{
		{"default", "/", "", "", language.English},
		{"query param wins", "/?lang=fr", "en", "en", language.French},
		{"cookie before header", "/", "fr", "en-US", language.French},
		{"accept language", "/", "", "fr-CA,fr;q=0.9,en;q=0.5", language.French},
		{"unsupported falls back", "/", "", "de-DE", language.English},
		{"garbage query ignored", "/?lang=!!", "", "fr", language.French},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: i18nx.LangCookieName, Value: tt.cookie})
			}
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			require.Equal(t, tt.want, i18nx.ResolveTag(req))
		})
	}
}

func TestTranslator(t *testing.T) {
	t.Parallel()

	en := i18nx.New(language.English)
	fr := i18nx.New(language.French)

	require.Equal(t, "Invalid email or password.", en("invalid_credentials"))
	require.Equal(t, "Adresse e-mail ou mot de passe invalide.", fr("invalid_credentials"))
	require.Equal(t, "The password must be between 8 and 128 characters.", en("weak_password", 8, 128))
	require.Equal(t, "unknown_key", en("unknown_key"))
}

func TestCatalogsCoverSameKeys(t *testing.T) {
	t.Parallel()

	keys := []string{
		"invalid_credentials", "invalid_token", "session_expired", "session_revoked",
		"two_factor_required", "two_factor_invalid_code", "two_factor_locked",
		"two_factor_setup_required", "concurrent_modification", "credential_not_found",
		"rate_limited", "webauthn_failed", "server_error",
	}
	fr := i18nx.New(language.French)
	en := i18nx.New(language.English)
	for _, k := range keys {
		require.NotEqual(t, k, en(k), "english missing %s", k)
		require.NotEqual(t, k, fr(k), "french missing %s", k)
	}
}
