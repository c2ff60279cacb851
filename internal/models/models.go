// Package models contains the canonical records moved through the promotion
// pipeline: releases, promotion requests, approvals, and rollback provenance.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Stage is one ordered step of the deployment pipeline.
type Stage string

const (
	StageDev     Stage = "dev"
	StageStaging Stage = "staging"
	StageProd    Stage = "prod"
)

// ValidStage reports whether s names a known pipeline stage.
func ValidStage(s Stage) bool {
	switch s {
	case StageDev, StageStaging, StageProd:
		return true
	}
	return false
}

// ReleaseStatus is the lifecycle state of a deployed release at a stage.
type ReleaseStatus string

const (
	ReleaseStatusActive     ReleaseStatus = "active"
	ReleaseStatusInactive   ReleaseStatus = "inactive"
	ReleaseStatusRolledBack ReleaseStatus = "rolled-back"
)

// Release is a deployed, versioned unit at a stage. Releases are never
// deleted; a stage's history only grows.
type Release struct {
	ID          string            `json:"id"`
	Version     string            `json:"version"`
	Stage       Stage             `json:"stage"`
	ArtifactIDs []string          `json:"artifactIds"`
	DeployedAt  time.Time         `json:"deployedAt"`
	DeployedBy  string            `json:"deployedBy"`
	Status      ReleaseStatus     `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PromotionRequest is the immutable statement of intent to move an artifact
// version from one stage to the next.
type PromotionRequest struct {
	ID             string            `json:"id"`
	ArtifactID     string            `json:"artifactId"`
	Version        string            `json:"version"`
	FromStage      Stage             `json:"fromStage"`
	ToStage        Stage             `json:"toStage"`
	RequestedBy    string            `json:"requestedBy"`
	RequestedAt    time.Time         `json:"requestedAt"`
	Reason         string            `json:"reason,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// PromotionStatus is the lifecycle state of a promotion workflow instance.
// Transitions are monotonic: pending → approved|rejected → in-progress →
// completed|failed|rolled-back.
type PromotionStatus string

const (
	PromotionStatusPending    PromotionStatus = "pending"
	PromotionStatusApproved   PromotionStatus = "approved"
	PromotionStatusRejected   PromotionStatus = "rejected"
	PromotionStatusInProgress PromotionStatus = "in-progress"
	PromotionStatusCompleted  PromotionStatus = "completed"
	PromotionStatusFailed     PromotionStatus = "failed"
	PromotionStatusRolledBack PromotionStatus = "rolled-back"
)

// Terminal reports whether a promotion in status s can never change again.
func (s PromotionStatus) Terminal() bool {
	switch s {
	case PromotionStatusRejected, PromotionStatusCompleted, PromotionStatusFailed, PromotionStatusRolledBack:
		return true
	}
	return false
}

// ApprovalStatus is the decision state of one approval slot.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// ApproverUnassigned marks an approval slot not yet bound to a principal.
// Any eligible caller may claim it.
const ApproverUnassigned = "unassigned"

// ApproverSystem is the principal attributed to auto-approved slots.
const ApproverSystem = "system"

// Approval is one decision slot within a promotion. A promotion is fully
// approved when every slot is approved; a single rejected slot is final.
type Approval struct {
	ID          string         `json:"id"`
	PromotionID string         `json:"promotionId"`
	Approver    string         `json:"approver"`
	Status      ApprovalStatus `json:"status"`
	Level       int            `json:"level"`
	DecidedAt   *time.Time     `json:"decidedAt,omitempty"`
	Comment     string         `json:"comment,omitempty"`
}

// RollbackInfo records the provenance of a rollback attempt against a
// promotion. Present iff the promotion reached rolled-back, or a rollback was
// attempted and failed.
type RollbackInfo struct {
	TriggeredBy     string    `json:"triggeredBy"`
	TriggeredAt     time.Time `json:"triggeredAt"`
	Reason          string    `json:"reason"`
	RestoredVersion string    `json:"restoredVersion,omitempty"`
	Success         bool      `json:"success"`
	DurationMS      int64     `json:"durationMs"`
}

// Promotion is the mutable workflow instance wrapping a PromotionRequest.
type Promotion struct {
	ID          string           `json:"id"`
	Request     PromotionRequest `json:"request"`
	Status      PromotionStatus  `json:"status"`
	Approvals   []Approval       `json:"approvals"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	Error       string           `json:"error,omitempty"`
	Rollback    *RollbackInfo    `json:"rollback,omitempty"`
	ReleaseID   string           `json:"releaseId,omitempty"`
}

// Clone returns a deep copy safe to hand to observers and HTTP responses.
func (p *Promotion) Clone() Promotion {
	out := *p
	out.Approvals = append([]Approval(nil), p.Approvals...)
	if p.Rollback != nil {
		rb := *p.Rollback
		out.Rollback = &rb
	}
	if p.StartedAt != nil {
		t := *p.StartedAt
		out.StartedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// ApprovalPolicy is the per-destination-stage quorum configuration. Supplied
// at construction and immutable thereafter.
type ApprovalPolicy struct {
	Stage             Stage    `json:"stage"`
	RequiredApprovals int      `json:"requiredApprovals"`
	Approvers         []string `json:"approvers"`
	AutoApprove       bool     `json:"autoApprove"`
}

// StageStats is the read-only projection of a stage's deployment state.
type StageStats struct {
	Stage          Stage      `json:"stage"`
	TotalReleases  int        `json:"totalReleases"`
	ActiveVersion  string     `json:"activeVersion,omitempty"`
	LastDeployedAt *time.Time `json:"lastDeployedAt,omitempty"`
}

// Metrics is an aggregate snapshot over executed promotions. A rolled-back
// promotion counts as failed, so TotalPromotions == Successful + Failed and
// RolledBack <= Failed hold at all times.
type Metrics struct {
	TotalPromotions int     `json:"totalPromotions"`
	Successful      int     `json:"successful"`
	Failed          int     `json:"failed"`
	Rejected        int     `json:"rejected"`
	RolledBack      int     `json:"rolledBack"`
	AvgPromotionMS  float64 `json:"avgPromotionMs"`
	AvgRollbackMS   float64 `json:"avgRollbackMs"`
}

// NewID returns a freshly generated identifier.
func NewID() string {
	return uuid.New().String()
}
