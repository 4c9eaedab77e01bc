// audit_retention.go implements the AuditRetentionJob background job, which
// deletes audit log rows older than the configured retention period. Retention
// is expressed in days; a non-positive value disables the job entirely, so it
// is always safe to start regardless of deployment environment.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/chronobill/chronobill/internal/db/repositories"
)

// AuditRetentionJob periodically prunes audit logs past their retention window.
type AuditRetentionJob struct {
	auditRepo     *repositories.AuditRepository
	retentionDays int
	interval      time.Duration
	stopChan      chan struct{}
}

// NewAuditRetentionJob creates a new AuditRetentionJob.
// intervalHours controls how often the prune runs (default 24h).
func NewAuditRetentionJob(auditRepo *repositories.AuditRepository, retentionDays, intervalHours int) *AuditRetentionJob {
	hours := intervalHours
	if hours <= 0 {
		hours = 24
	}
	return &AuditRetentionJob{
		auditRepo:     auditRepo,
		retentionDays: retentionDays,
		interval:      time.Duration(hours) * time.Hour,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the background pruning loop.
// It runs an initial prune immediately, then repeats on the configured
// interval. The loop exits when ctx is cancelled or Stop() is called.
func (j *AuditRetentionJob) Start(ctx context.Context) {
	if j.retentionDays <= 0 {
		log.Println("audit retention job: disabled (audit.retention_days not set)")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log.Printf("audit retention job started (retention: %d days, check interval: %v)",
		j.retentionDays, j.interval)

	// Run once immediately on startup
	j.runCheck(ctx)

	for {
		select {
		case <-ticker.C:
			j.runCheck(ctx)
		case <-j.stopChan:
			log.Println("audit retention job stopped")
			return
		case <-ctx.Done():
			log.Println("audit retention job context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (j *AuditRetentionJob) Stop() {
	close(j.stopChan)
}

// runCheck deletes audit logs created before the retention cutoff.
func (j *AuditRetentionJob) runCheck(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -j.retentionDays)

	pruned, err := j.auditRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Printf("audit retention job: failed to prune audit logs: %v", err)
		return
	}

	if pruned > 0 {
		log.Printf("audit retention job: pruned %d audit log(s) older than %s",
			pruned, cutoff.UTC().Format(time.RFC3339))
	}
}
