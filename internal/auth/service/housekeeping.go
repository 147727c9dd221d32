package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/store"
)

// HousekeepingService periodically deletes expired sessions, login
// challenges, verification tokens and signing keys.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration
	Now      func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. A non-positive
// interval defaults to 1 hour.
func NewHousekeepingService(store store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HousekeepingService{
		Store:    store,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the worker in the background. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until any in-progress cleanup has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// CleanupResult counts the rows each pass removed.
type CleanupResult struct {
	Sessions           int64
	LoginChallenges    int64
	VerificationTokens int64
	SigningKeys        int64
}

// Cleanup runs one pass. Each deletion is independent; a failure is logged
// and the rest still run.
func (s *HousekeepingService) Cleanup(ctx context.Context) CleanupResult {
	now := nowOr(s.Now)
	var res CleanupResult

	steps := []struct {
		name string
		fn   func() (int64, error)
		out  *int64
	}{
		{"sessions", func() (int64, error) { return s.Store.Sessions().DeleteExpiredSessions(ctx, now) }, &res.Sessions},
		{"login challenges", func() (int64, error) { return s.Store.LoginChallenges().DeleteExpiredLoginChallenges(ctx, now) }, &res.LoginChallenges},
		{"verification tokens", func() (int64, error) {
			return s.Store.VerificationTokens().DeleteExpiredVerificationTokens(ctx, now)
		}, &res.VerificationTokens},
		{"signing keys", func() (int64, error) { return s.Store.SigningKeys().DeleteExpiredSigningKeys(ctx, now) }, &res.SigningKeys},
	}

	for _, step := range steps {
		n, err := step.fn()
		if err != nil {
			s.Logger.Error("failed to delete expired "+step.name, "error", err)
			continue
		}
		*step.out = n
	}

	s.Logger.Info("housekeeping cleanup completed",
		"sessions", res.Sessions,
		"login_challenges", res.LoginChallenges,
		"verification_tokens", res.VerificationTokens,
		"signing_keys", res.SigningKeys,
	)
	return res
}
