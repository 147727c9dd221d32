package domain_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/stretchr/testify/require"
)

func TestTwoFactorState_NextPreferred(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		state    domain.TwoFactorState
		disabled domain.Method
		want     domain.Method
	}{
		{
			name: "last method leaves none",
			state: domain.TwoFactorState{
				PreferredMethod: domain.MethodApp,
				App:             domain.AppMethod{Enabled: true},
			},
			disabled: domain.MethodApp,
			want:     domain.MethodNone,
		},
		{
			name: "preferred disabled falls to app first",
			state: domain.TwoFactorState{
				PreferredMethod: domain.MethodEmail,
				Email:           domain.EmailMethod{Enabled: true},
				App:             domain.AppMethod{Enabled: true},
				WebAuthn:        domain.WebAuthnMethod{Enabled: true},
			},
			disabled: domain.MethodEmail,
			want:     domain.MethodApp,
		},
		{
			name: "webauthn before email",
			state: domain.TwoFactorState{
				PreferredMethod: domain.MethodApp,
				Email:           domain.EmailMethod{Enabled: true},
				App:             domain.AppMethod{Enabled: true},
				WebAuthn:        domain.WebAuthnMethod{Enabled: true},
			},
			disabled: domain.MethodApp,
			want:     domain.MethodWebAuthn,
		},
		{
			name: "non-preferred disable keeps preference",
			state: domain.TwoFactorState{
				PreferredMethod: domain.MethodEmail,
				Email:           domain.EmailMethod{Enabled: true},
				App:             domain.AppMethod{Enabled: true},
			},
			disabled: domain.MethodApp,
			want:     domain.MethodEmail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.state.NextPreferred(tt.disabled))
		})
	}
}

func TestTwoFactorState_Derived(t *testing.T) {
	t.Parallel()

	now := time.Now()
	used := now.Add(-time.Minute)
	lock := now.Add(time.Minute)

	s := domain.TwoFactorState{
		Email:       domain.EmailMethod{Enabled: true},
		LockUntil:   &lock,
		BackupCodes: []domain.BackupCode{{Hash: "a"}, {Hash: "b", UsedAt: &used}},
	}
	require.True(t, s.IsEnabled())
	require.Equal(t, []domain.Method{domain.MethodEmail}, s.EnabledMethods())
	require.True(t, s.IsLocked(now))
	require.False(t, s.IsLocked(lock))
	require.Equal(t, 1, s.UnusedBackupCodes())

	require.False(t, domain.TwoFactorState{}.IsEnabled())
}

func TestParseMethod(t *testing.T) {
	t.Parallel()

	_, ok := domain.ParseMethod("backup")
	require.False(t, ok)
	m, ok := domain.ParseLoginMethod("backup")
	require.True(t, ok)
	require.Equal(t, domain.MethodBackup, m)
	_, ok = domain.ParseMethod("sms")
	require.False(t, ok)
}
