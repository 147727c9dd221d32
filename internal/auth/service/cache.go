package service

import (
	"context"

	"github.com/aussiebroadwan/tabauth/pkg/slogx"
)

// VersionCache caches each user's tokenVersion for the gateway. Every bump
// must Invalidate the entry. Callers treat cache errors as misses.
type VersionCache interface {
	Get(ctx context.Context, userID string) (version int64, ok bool, err error)
	Set(ctx context.Context, userID string, version int64) error
	Invalidate(ctx context.Context, userID string) error
}

// invalidateVersion drops the cached version, logging instead of failing
// because the store already holds the new value.
func invalidateVersion(ctx context.Context, c VersionCache, userID string) {
	if c == nil {
		return
	}
	if err := c.Invalidate(ctx, userID); err != nil {
		slogx.FromContext(ctx).Warn("version cache invalidate failed", "user_id", userID, "error", err)
	}
}
