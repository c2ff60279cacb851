// Package approval adjudicates per-promotion approval decisions against the
// quorum policy configured for the promotion's destination stage.
package approval

import (
	"errors"
	"fmt"
	"time"

	"github.com/helixops/promoter/internal/models"
)

var (
	// ErrNoPolicy means no approval policy is configured for the
	// destination stage. Misconfiguration; fail fast.
	ErrNoPolicy = errors.New("no approval policy for stage")

	// ErrNoPendingApproval means the caller has no eligible pending slot:
	// the promotion is fully decided, the approver already voted, or the
	// approver is not eligible.
	ErrNoPendingApproval = errors.New("no pending approval slot for approver")
)

// Workflow allocates and adjudicates approval slots. Policies are immutable
// after construction.
type Workflow struct {
	policies map[models.Stage]models.ApprovalPolicy

	// RestrictToPolicy closes unassigned slots to principals outside the
	// policy's approver list. Off by default: any caller may claim an
	// unassigned slot.
	RestrictToPolicy bool
}

func NewWorkflow(policies []models.ApprovalPolicy) *Workflow {
	byStage := make(map[models.Stage]models.ApprovalPolicy, len(policies))
	for _, p := range policies {
		byStage[p.Stage] = p
	}
	return &Workflow{policies: byStage}
}

// Policy returns the policy for a destination stage.
func (w *Workflow) Policy(s models.Stage) (models.ApprovalPolicy, error) {
	p, ok := w.policies[s]
	if !ok {
		return models.ApprovalPolicy{}, fmt.Errorf("stage %s: %w", s, ErrNoPolicy)
	}
	return p, nil
}

// RequestApproval allocates the promotion's approval slots from the policy
// for its destination stage. Under auto-approve a single pre-approved slot
// attributed to the system principal is synthesized and the promotion is
// immediately fully approved. Otherwise one pending slot per required
// approval is created, pre-assigned from the policy's approver list in order;
// slots beyond the list stay unassigned.
func (w *Workflow) RequestApproval(p *models.Promotion) error {
	policy, err := w.Policy(p.Request.ToStage)
	if err != nil {
		return err
	}

	// A zero-quorum policy would deadlock the promotion; treat it as
	// auto-approve.
	if policy.AutoApprove || policy.RequiredApprovals <= 0 {
		now := time.Now().UTC()
		p.Approvals = []models.Approval{{
			ID:          models.NewID(),
			PromotionID: p.ID,
			Approver:    models.ApproverSystem,
			Status:      models.ApprovalStatusApproved,
			Level:       1,
			DecidedAt:   &now,
			Comment:     "auto-approved by policy",
		}}
		return nil
	}

	p.Approvals = make([]models.Approval, 0, policy.RequiredApprovals)
	for i := 0; i < policy.RequiredApprovals; i++ {
		approver := models.ApproverUnassigned
		if i < len(policy.Approvers) {
			approver = policy.Approvers[i]
		}
		p.Approvals = append(p.Approvals, models.Approval{
			ID:          models.NewID(),
			PromotionID: p.ID,
			Approver:    approver,
			Status:      models.ApprovalStatusPending,
			Level:       i + 1,
		})
	}
	return nil
}

// slot finds the first pending slot approverID may decide: its own named
// slot, or an unassigned one. An approver that already voted gets nothing.
func (w *Workflow) slot(p *models.Promotion, approverID string) (*models.Approval, error) {
	for i := range p.Approvals {
		if p.Approvals[i].Approver == approverID && p.Approvals[i].Status != models.ApprovalStatusPending {
			return nil, fmt.Errorf("approver %s already decided: %w", approverID, ErrNoPendingApproval)
		}
	}
	var unassigned *models.Approval
	for i := range p.Approvals {
		a := &p.Approvals[i]
		if a.Status != models.ApprovalStatusPending {
			continue
		}
		if a.Approver == approverID {
			return a, nil
		}
		if a.Approver == models.ApproverUnassigned && unassigned == nil {
			unassigned = a
		}
	}
	if unassigned != nil {
		if w.RestrictToPolicy && !w.eligible(p.Request.ToStage, approverID) {
			return nil, fmt.Errorf("approver %s not in policy: %w", approverID, ErrNoPendingApproval)
		}
		return unassigned, nil
	}
	return nil, fmt.Errorf("approver %s: %w", approverID, ErrNoPendingApproval)
}

func (w *Workflow) eligible(s models.Stage, approverID string) bool {
	policy, ok := w.policies[s]
	if !ok {
		return false
	}
	for _, a := range policy.Approvers {
		if a == approverID {
			return true
		}
	}
	return false
}

// Approve records approverID's approval on its eligible slot and reports
// whether the promotion is now fully approved.
func (w *Workflow) Approve(p *models.Promotion, approverID, comment string) (bool, error) {
	a, err := w.slot(p, approverID)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	a.Approver = approverID
	a.Status = models.ApprovalStatusApproved
	a.DecidedAt = &now
	a.Comment = comment
	return w.IsFullyApproved(p), nil
}

// Reject records approverID's rejection. A single rejection is final for the
// promotion; remaining approvers are not consulted.
func (w *Workflow) Reject(p *models.Promotion, approverID, comment string) error {
	a, err := w.slot(p, approverID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	a.Approver = approverID
	a.Status = models.ApprovalStatusRejected
	a.DecidedAt = &now
	a.Comment = comment
	return nil
}

// IsFullyApproved reports whether every approval slot is approved.
func (w *Workflow) IsFullyApproved(p *models.Promotion) bool {
	if len(p.Approvals) == 0 {
		return false
	}
	for i := range p.Approvals {
		if p.Approvals[i].Status != models.ApprovalStatusApproved {
			return false
		}
	}
	return true
}

// IsRejected reports whether any approval slot is rejected.
func (w *Workflow) IsRejected(p *models.Promotion) bool {
	for i := range p.Approvals {
		if p.Approvals[i].Status == models.ApprovalStatusRejected {
			return true
		}
	}
	return false
}
