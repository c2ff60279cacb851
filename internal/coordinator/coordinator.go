// Package coordinator turns an approved promotion into a deployed,
// health-verified release, compensating with a rollback when verification
// fails.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/helixops/promoter/internal/healthcheck"
	"github.com/helixops/promoter/internal/models"
	"github.com/helixops/promoter/internal/stage"
	"github.com/helixops/promoter/internal/store"
)

// ErrHealthCheckFailed marks a deployment whose verification did not pass.
var ErrHealthCheckFailed = errors.New("health check failed")

// AutoRollbackReason is recorded on rollbacks the coordinator triggers
// itself after a failed verification.
const AutoRollbackReason = "Auto-rollback on failure"

// Config tunes the coordinator's failure handling.
type Config struct {
	// AutoRollback reverts the stage to its previous release when the
	// health check fails.
	AutoRollback bool

	// HealthCheckTimeout bounds every verification; expiry is a failing
	// verdict. Defaults to 30s if zero.
	HealthCheckTimeout time.Duration

	// RollbackTimeout bounds the rollback path. Defaults to 60s if zero.
	RollbackTimeout time.Duration
}

// Coordinator executes approved promotions against the stage registry. The
// store, when present, receives write-through snapshots of every release
// mutation.
type Coordinator struct {
	registry *stage.Registry
	checker  healthcheck.Checker
	store    store.Store
	cfg      Config
}

func New(registry *stage.Registry, checker healthcheck.Checker, st store.Store, cfg Config) *Coordinator {
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = 30 * time.Second
	}
	if cfg.RollbackTimeout <= 0 {
		cfg.RollbackTimeout = 60 * time.Second
	}
	return &Coordinator{registry: registry, checker: checker, store: st, cfg: cfg}
}

// ExecutePromotion deploys the promotion's artifact to its destination stage
// and verifies health. On a failing verdict the promotion is marked failed
// and, when auto-rollback is configured, the stage is reverted before the
// original failure is re-signaled. There is no cancellation: once started,
// the promotion runs to completed, failed, or rolled-back.
func (c *Coordinator) ExecutePromotion(ctx context.Context, p *models.Promotion) error {
	now := time.Now().UTC()
	p.Status = models.PromotionStatusInProgress
	p.StartedAt = &now

	rel := models.Release{
		ID:          models.NewID(),
		Version:     p.Request.Version,
		Stage:       p.Request.ToStage,
		ArtifactIDs: []string{p.Request.ArtifactID},
		DeployedAt:  now,
		DeployedBy:  p.Request.RequestedBy,
		Metadata:    p.Request.Metadata,
	}
	rel = c.registry.Deploy(rel)
	p.ReleaseID = rel.ID
	c.persistStage(ctx, rel.Stage)

	if err := c.verify(ctx, rel); err != nil {
		p.Status = models.PromotionStatusFailed
		p.Error = err.Error()
		done := time.Now().UTC()
		p.CompletedAt = &done

		if c.cfg.AutoRollback {
			if rbErr := c.Rollback(ctx, p, models.ApproverSystem, AutoRollbackReason); rbErr != nil {
				log.Printf("[coordinator] auto-rollback of %s failed: %v", p.ID, rbErr)
			}
		}
		return err
	}

	p.Status = models.PromotionStatusCompleted
	done := time.Now().UTC()
	p.CompletedAt = &done
	return nil
}

func (c *Coordinator) verify(ctx context.Context, rel models.Release) error {
	checkCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthCheckTimeout)
	defer cancel()

	verdict, err := c.checker.Check(checkCtx, rel)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHealthCheckFailed, err)
	}
	if !verdict.Healthy {
		if verdict.Reason != "" {
			return fmt.Errorf("%w: %s", ErrHealthCheckFailed, verdict.Reason)
		}
		return ErrHealthCheckFailed
	}
	return nil
}

// Rollback restores the previous release at the promotion's destination
// stage and records provenance. A rollback with nothing to restore to is
// fatal: provenance is recorded with success=false, the promotion keeps its
// current status, and the failure is surfaced for operator escalation.
func (c *Coordinator) Rollback(ctx context.Context, p *models.Promotion, triggeredBy, reason string) error {
	if p.ReleaseID == "" {
		return fmt.Errorf("promotion %s has no deployed release", p.ID)
	}

	rbCtx, cancel := context.WithTimeout(ctx, c.cfg.RollbackTimeout)
	defer cancel()

	start := time.Now().UTC()
	info := models.RollbackInfo{
		TriggeredBy: triggeredBy,
		TriggeredAt: start,
		Reason:      reason,
	}

	restored, err := c.registry.RevertToPrevious(p.Request.ToStage)
	info.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		info.Success = false
		p.Rollback = &info
		return fmt.Errorf("rollback promotion %s: %w", p.ID, err)
	}

	info.Success = true
	info.RestoredVersion = restored.Version
	p.Rollback = &info
	p.Status = models.PromotionStatusRolledBack
	c.persistStage(rbCtx, p.Request.ToStage)
	return nil
}

// persistStage snapshots the stage's full history so demoted and reverted
// entries are captured along with the new one.
func (c *Coordinator) persistStage(ctx context.Context, s models.Stage) {
	if c.store == nil {
		return
	}
	for _, rel := range c.registry.History(s) {
		if err := c.store.SaveRelease(ctx, rel); err != nil {
			log.Printf("[coordinator] persist release %s: %v", rel.ID, err)
		}
	}
}
