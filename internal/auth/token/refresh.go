package token

import (
	"context"
	"log"
	"time"
)

const (
	refreshInterval = 15 * time.Minute
	refreshWindow   = 20 * time.Minute
)

// Refresher refreshes one user's access token for a single provider.
type Refresher interface {
	RefreshAccessToken(ctx context.Context, userID string) (string, error)
}

// RefresherFunc resolves the refresher for a provider key.
type RefresherFunc func(provider string) (Refresher, bool)

// StartRefreshLoop refreshes tokens that are about to expire until ctx is
// done. Linked accounts whose provider has no refresher are skipped.
func (s *Store) StartRefreshLoop(ctx context.Context, resolve RefresherFunc) {
	ticker := time.NewTicker(refreshInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RefreshExpiring(ctx, resolve)
			}
		}
	}()
	log.Printf("🔄 Token refresh loop started (interval: %s)", refreshInterval)
}

// RefreshExpiring refreshes every active account expiring within the
// refresh window and returns how many refreshes succeeded.
func (s *Store) RefreshExpiring(ctx context.Context, resolve RefresherFunc) int {
	accounts, err := s.ListExpiring(ctx, s.now().Add(refreshWindow))
	if err != nil {
		log.Printf("⚠️ [Token] Failed to list expiring accounts: %v", err)
		return 0
	}

	refreshed := 0
	for _, acc := range accounts {
		r, ok := resolve(acc.Provider)
		if !ok {
			continue
		}
		if _, err := r.RefreshAccessToken(ctx, acc.UserID); err != nil {
			log.Printf("❌ [Token] Refresh failed for %s/%s: %v", acc.UserID, acc.Provider, err)
			continue
		}
		refreshed++
	}
	if refreshed > 0 {
		log.Printf("✅ [Token] Refreshed %d of %d expiring accounts", refreshed, len(accounts))
	}
	return refreshed
}
