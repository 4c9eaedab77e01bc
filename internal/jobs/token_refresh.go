// token_refresh.go implements the TokenRefreshJob background job, which keeps the
// accounting integration's access token alive by renewing it ahead of expiry.
// Renewal state lives on the stored credential, so the job is safe to run in
// every instance of the server: whichever instance refreshes first wins and the
// others pick up the rotated token on their next read. A single failing tick
// never stops the loop; the credential manager logs the failure and the next
// tick retries.
package jobs

import (
	"context"
	"log"
	"time"
)

// CredentialRefresher is the slice of the credential manager this job drives.
type CredentialRefresher interface {
	CheckAndRefresh(ctx context.Context)
}

// TokenRefreshJob periodically renews the accounting credential before it expires.
type TokenRefreshJob struct {
	manager  CredentialRefresher
	interval time.Duration
	stopChan chan struct{}
}

// NewTokenRefreshJob creates a new TokenRefreshJob.
// intervalMinutes controls how often the check runs (default 15m).
func NewTokenRefreshJob(manager CredentialRefresher, intervalMinutes int) *TokenRefreshJob {
	minutes := intervalMinutes
	if minutes <= 0 {
		minutes = 15
	}
	return &TokenRefreshJob{
		manager:  manager,
		interval: time.Duration(minutes) * time.Minute,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background refresh loop.
// It runs an initial check immediately, so a server restarted after downtime
// recovers an expired-but-refreshable credential right away rather than
// waiting out a full interval. The loop exits when ctx is cancelled or Stop()
// is called.
func (j *TokenRefreshJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log.Printf("token refresh job started (check interval: %v)", j.interval)

	// Run once immediately on startup
	j.manager.CheckAndRefresh(ctx)

	for {
		select {
		case <-ticker.C:
			j.manager.CheckAndRefresh(ctx)
		case <-j.stopChan:
			log.Println("token refresh job stopped")
			return
		case <-ctx.Done():
			log.Println("token refresh job context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (j *TokenRefreshJob) Stop() {
	close(j.stopChan)
}
