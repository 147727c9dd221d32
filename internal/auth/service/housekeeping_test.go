package service

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/stretchr/testify/require"
)

func TestHousekeeping_Cleanup(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "janitor@example.com")

	_, err := env.sessions.CreateSession(ctx, u, testDevice, false)
	require.NoError(t, err)
	_, err = env.sessions.CreateSession(ctx, u, testDevice, true)
	require.NoError(t, err)
	require.NoError(t, env.store.LoginChallenges().CreateLoginChallenge(ctx, domain.LoginChallenge{
		TokenHash: "challenge",
		UserID:    u.ID,
		ExpiresAt: env.clock.Now().Add(domain.LoginChallengeTTL),
		CreatedAt: env.clock.Now(),
	}))

	hk := NewHousekeepingService(env.store, nil, 0)
	require.Equal(t, time.Hour, hk.Interval)
	hk.Now = env.clock.Now

	res := hk.Cleanup(ctx)
	require.Equal(t, CleanupResult{}, res)

	env.clock.Advance(2 * 24 * time.Hour)
	res = hk.Cleanup(ctx)
	require.EqualValues(t, 1, res.Sessions)
	require.EqualValues(t, 1, res.LoginChallenges)
	require.EqualValues(t, 1, res.VerificationTokens)

	views, err := env.sessions.ListActiveSessions(ctx, u.ID, "")
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.True(t, views[0].RememberMe)
}

func TestHousekeeping_StartStop(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	hk := NewHousekeepingService(env.store, nil, time.Millisecond)
	hk.Start()
	time.Sleep(5 * time.Millisecond)
	hk.Stop()
}
