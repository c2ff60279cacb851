// Package orchestrator is the public entry point of the promotion pipeline.
// It validates transitions, owns the promotion registry and metrics, and
// chains approval collection into execution.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/helixops/promoter/internal/approval"
	"github.com/helixops/promoter/internal/coordinator"
	"github.com/helixops/promoter/internal/events"
	"github.com/helixops/promoter/internal/models"
	"github.com/helixops/promoter/internal/stage"
	"github.com/helixops/promoter/internal/store"
)

var (
	// ErrInvalidTransition is returned for a stage pair outside the legal
	// graph. No promotion is created.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrPromotionNotFound is returned for an unknown promotion id.
	ErrPromotionNotFound = errors.New("promotion not found")

	// ErrAlreadyRolledBack is returned when a rollback is requested for a
	// promotion that has already been rolled back.
	ErrAlreadyRolledBack = errors.New("promotion already rolled back")
)

// Orchestrator wires the stage registry, approval workflow, and release
// coordinator into one request/response lifecycle. Every public operation
// runs to completion under the orchestrator lock before the next is
// processed.
type Orchestrator struct {
	mu       sync.Mutex
	registry *stage.Registry
	workflow *approval.Workflow
	coord    *coordinator.Coordinator
	store    store.Store
	pub      *events.Publisher

	promotions map[string]*models.Promotion
	byIdemKey  map[string]string

	metrics metricsState
}

type metricsState struct {
	total       int
	successful  int
	failed      int
	rejected    int
	rolledBack  int
	promotionMS int64
	rollbackMS  int64
	rollbacks   int
	executed    int
}

// New constructs an orchestrator. st and pub may be nil; persistence and
// event emission are then disabled.
func New(registry *stage.Registry, workflow *approval.Workflow, coord *coordinator.Coordinator, st store.Store, pub *events.Publisher) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		workflow:   workflow,
		coord:      coord,
		store:      st,
		pub:        pub,
		promotions: map[string]*models.Promotion{},
		byIdemKey:  map[string]string{},
	}
}

// RequestInput is the caller-supplied portion of a promotion request.
type RequestInput struct {
	ArtifactID     string            `json:"artifactId"`
	Version        string            `json:"version"`
	FromStage      models.Stage      `json:"fromStage"`
	ToStage        models.Stage      `json:"toStage"`
	RequestedBy    string            `json:"requestedBy"`
	Reason         string            `json:"reason,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// RequestPromotion validates the transition, creates the promotion, and
// collects approvals. Under an auto-approve policy execution happens
// synchronously before returning. A repeated idempotency key returns the
// existing promotion untouched.
func (o *Orchestrator) RequestPromotion(ctx context.Context, in RequestInput) (models.Promotion, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if in.ArtifactID == "" || in.Version == "" {
		return models.Promotion{}, fmt.Errorf("artifactId and version required")
	}
	if !stage.ValidTransition(in.FromStage, in.ToStage) {
		return models.Promotion{}, fmt.Errorf("%s -> %s: %w", in.FromStage, in.ToStage, ErrInvalidTransition)
	}
	if in.IdempotencyKey != "" {
		if id, ok := o.byIdemKey[in.IdempotencyKey]; ok {
			return o.promotions[id].Clone(), nil
		}
	}

	id := models.NewID()
	p := &models.Promotion{
		ID: id,
		Request: models.PromotionRequest{
			ID:             id,
			ArtifactID:     in.ArtifactID,
			Version:        in.Version,
			FromStage:      in.FromStage,
			ToStage:        in.ToStage,
			RequestedBy:    in.RequestedBy,
			RequestedAt:    time.Now().UTC(),
			Reason:         in.Reason,
			IdempotencyKey: in.IdempotencyKey,
			Metadata:       in.Metadata,
		},
		Status: models.PromotionStatusPending,
	}

	if err := o.workflow.RequestApproval(p); err != nil {
		// Misconfiguration; no partial state is kept.
		return models.Promotion{}, err
	}

	o.promotions[id] = p
	if in.IdempotencyKey != "" {
		o.byIdemKey[in.IdempotencyKey] = id
	}
	o.persist(ctx, p)
	o.publish(events.PromotionRequested, p)

	if o.workflow.IsFullyApproved(p) {
		p.Status = models.PromotionStatusApproved
		o.publish(events.PromotionApproved, p)
		o.execute(ctx, p)
	}
	return p.Clone(), nil
}

// ApprovePromotion records one approval. When quorum is reached the
// promotion executes synchronously before the call returns.
func (o *Orchestrator) ApprovePromotion(ctx context.Context, id, approverID, comment string) (models.Promotion, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.promotions[id]
	if !ok {
		return models.Promotion{}, fmt.Errorf("promotion %s: %w", id, ErrPromotionNotFound)
	}
	if o.workflow.IsRejected(p) {
		return models.Promotion{}, fmt.Errorf("promotion %s is rejected: %w", id, approval.ErrNoPendingApproval)
	}

	done, err := o.workflow.Approve(p, approverID, comment)
	if err != nil {
		return models.Promotion{}, err
	}
	o.persist(ctx, p)

	if done {
		p.Status = models.PromotionStatusApproved
		o.publish(events.PromotionApproved, p)
		o.execute(ctx, p)
	}
	return p.Clone(), nil
}

// RejectPromotion records one rejection, which is terminal for the
// promotion regardless of prior approvals.
func (o *Orchestrator) RejectPromotion(ctx context.Context, id, approverID, comment string) (models.Promotion, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.promotions[id]
	if !ok {
		return models.Promotion{}, fmt.Errorf("promotion %s: %w", id, ErrPromotionNotFound)
	}
	if p.Status.Terminal() {
		return models.Promotion{}, fmt.Errorf("promotion %s is %s: %w", id, p.Status, approval.ErrNoPendingApproval)
	}
	if err := o.workflow.Reject(p, approverID, comment); err != nil {
		return models.Promotion{}, err
	}
	p.Status = models.PromotionStatusRejected
	o.metrics.rejected++
	o.persist(ctx, p)
	o.publish(events.PromotionRejected, p)
	return p.Clone(), nil
}

// RollbackPromotion is the manual rollback path.
func (o *Orchestrator) RollbackPromotion(ctx context.Context, id, triggeredBy, reason string) (models.Promotion, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.promotions[id]
	if !ok {
		return models.Promotion{}, fmt.Errorf("promotion %s: %w", id, ErrPromotionNotFound)
	}
	if p.Status == models.PromotionStatusRolledBack {
		return models.Promotion{}, fmt.Errorf("promotion %s: %w", id, ErrAlreadyRolledBack)
	}
	wasCompleted := p.Status == models.PromotionStatusCompleted

	err := o.coord.Rollback(ctx, p, triggeredBy, reason)
	o.persist(ctx, p)
	if err != nil {
		return p.Clone(), err
	}

	// A rolled-back promotion counts against failed, not successful.
	if wasCompleted {
		o.metrics.successful--
		o.metrics.failed++
	}
	o.metrics.rolledBack++
	o.recordRollbackDuration(p)
	o.publish(events.PromotionRolledBack, p)
	return p.Clone(), nil
}

// execute runs the approved promotion through the coordinator and settles
// metrics and events for the terminal state. Caller holds the lock.
func (o *Orchestrator) execute(ctx context.Context, p *models.Promotion) {
	err := o.coord.ExecutePromotion(ctx, p)

	o.metrics.total++
	o.metrics.executed++
	if p.StartedAt != nil && p.CompletedAt != nil {
		o.metrics.promotionMS += p.CompletedAt.Sub(*p.StartedAt).Milliseconds()
	}

	if err == nil {
		o.metrics.successful++
		o.persist(ctx, p)
		o.publish(events.PromotionCompleted, p)
		return
	}

	o.metrics.failed++
	log.Printf("[orchestrator] promotion %s failed: %v", p.ID, err)
	o.persist(ctx, p)
	o.publish(events.PromotionFailed, p)

	if p.Status == models.PromotionStatusRolledBack {
		o.metrics.rolledBack++
		o.recordRollbackDuration(p)
		o.publish(events.PromotionRolledBack, p)
	}
}

func (o *Orchestrator) recordRollbackDuration(p *models.Promotion) {
	if p.Rollback != nil && p.Rollback.Success {
		o.metrics.rollbackMS += p.Rollback.DurationMS
		o.metrics.rollbacks++
	}
}

// GetPromotion returns a snapshot of one promotion.
func (o *Orchestrator) GetPromotion(id string) (models.Promotion, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.promotions[id]
	if !ok {
		return models.Promotion{}, fmt.Errorf("promotion %s: %w", id, ErrPromotionNotFound)
	}
	return p.Clone(), nil
}

// ListPromotions returns snapshots of promotions, optionally filtered by
// status and destination stage, ordered by request time.
func (o *Orchestrator) ListPromotions(status models.PromotionStatus, toStage models.Stage) []models.Promotion {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []models.Promotion
	for _, p := range o.promotions {
		if status != "" && p.Status != status {
			continue
		}
		if toStage != "" && p.Request.ToStage != toStage {
			continue
		}
		out = append(out, p.Clone())
	}
	sortPromotions(out)
	return out
}

// GetStageStats summarizes a stage's deployment state.
func (o *Orchestrator) GetStageStats(s models.Stage) models.StageStats {
	return o.registry.Stats(s)
}

// GetReleaseHistory returns the stage's release history, oldest first.
func (o *Orchestrator) GetReleaseHistory(s models.Stage) []models.Release {
	return o.registry.History(s)
}

// GetMetrics returns the aggregate metrics snapshot.
func (o *Orchestrator) GetMetrics() models.Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	m := models.Metrics{
		TotalPromotions: o.metrics.total,
		Successful:      o.metrics.successful,
		Failed:          o.metrics.failed,
		Rejected:        o.metrics.rejected,
		RolledBack:      o.metrics.rolledBack,
	}
	if o.metrics.executed > 0 {
		m.AvgPromotionMS = float64(o.metrics.promotionMS) / float64(o.metrics.executed)
	}
	if o.metrics.rollbacks > 0 {
		m.AvgRollbackMS = float64(o.metrics.rollbackMS) / float64(o.metrics.rollbacks)
	}
	return m
}

func (o *Orchestrator) persist(ctx context.Context, p *models.Promotion) {
	if o.store == nil {
		return
	}
	if err := o.store.SavePromotion(ctx, p.Clone()); err != nil {
		log.Printf("[orchestrator] persist promotion %s: %v", p.ID, err)
	}
}

func (o *Orchestrator) publish(name string, p *models.Promotion) {
	if o.pub == nil {
		return
	}
	o.pub.Publish(events.Event{Name: name, Promotion: p.Clone(), TS: time.Now().UTC()})
}

func sortPromotions(ps []models.Promotion) {
	sort.Slice(ps, func(i, j int) bool {
		return ps[i].Request.RequestedAt.Before(ps[j].Request.RequestedAt)
	})
}
