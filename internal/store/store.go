// Package store persists promotion, release, and policy snapshots. The
// orchestrator's in-memory state stays authoritative; the store is a
// write-through sink used for durability and for rehydrating policies at
// startup.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/helixops/promoter/internal/models"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	SavePromotion(ctx context.Context, p models.Promotion) error
	GetPromotion(ctx context.Context, id string) (models.Promotion, error)
	ListPromotions(ctx context.Context) ([]models.Promotion, error)
	SaveRelease(ctx context.Context, rel models.Release) error
	ListReleases(ctx context.Context, stage models.Stage) ([]models.Release, error)
	SavePolicy(ctx context.Context, policy models.ApprovalPolicy) error
	ListPolicies(ctx context.Context) ([]models.ApprovalPolicy, error)
	Ping(ctx context.Context) error
}

// PGStore keeps one row per entity keyed by identifier, with the full record
// as a JSON payload beside the columns used for filtering.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) SavePromotion(ctx context.Context, p models.Promotion) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal promotion: %w", err)
	}
	query := `
		INSERT INTO promotions (id, status, to_stage, idempotency_key, payload, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id)
		DO UPDATE SET status = EXCLUDED.status,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		p.ID, string(p.Status), string(p.Request.ToStage), p.Request.IdempotencyKey, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save promotion: %w", err)
	}
	return nil
}

func (s *PGStore) GetPromotion(ctx context.Context, id string) (models.Promotion, error) {
	const query = `SELECT payload FROM promotions WHERE id=$1`
	var payload []byte
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Promotion{}, ErrNotFound
		}
		return models.Promotion{}, fmt.Errorf("get promotion: %w", err)
	}
	var p models.Promotion
	if err := json.Unmarshal(payload, &p); err != nil {
		return models.Promotion{}, fmt.Errorf("decode promotion: %w", err)
	}
	return p, nil
}

func (s *PGStore) ListPromotions(ctx context.Context) ([]models.Promotion, error) {
	const query = `SELECT payload FROM promotions ORDER BY updated_at`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list promotions: %w", err)
	}
	defer rows.Close()

	var out []models.Promotion
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan promotion: %w", err)
		}
		var p models.Promotion
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode promotion: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PGStore) SaveRelease(ctx context.Context, rel models.Release) error {
	payload, err := json.Marshal(rel)
	if err != nil {
		return fmt.Errorf("marshal release: %w", err)
	}
	query := `
		INSERT INTO releases (id, stage, version, status, payload, deployed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id)
		DO UPDATE SET status = EXCLUDED.status,
			payload = EXCLUDED.payload
	`
	_, err = s.db.ExecContext(ctx, query,
		rel.ID, string(rel.Stage), rel.Version, string(rel.Status), payload, rel.DeployedAt)
	if err != nil {
		return fmt.Errorf("save release: %w", err)
	}
	return nil
}

func (s *PGStore) ListReleases(ctx context.Context, stage models.Stage) ([]models.Release, error) {
	const query = `SELECT payload FROM releases WHERE stage=$1 ORDER BY deployed_at`
	rows, err := s.db.QueryContext(ctx, query, string(stage))
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	defer rows.Close()

	var out []models.Release
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		var rel models.Release
		if err := json.Unmarshal(payload, &rel); err != nil {
			return nil, fmt.Errorf("decode release: %w", err)
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func (s *PGStore) SavePolicy(ctx context.Context, policy models.ApprovalPolicy) error {
	payload, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	query := `
		INSERT INTO approval_policies (stage, payload)
		VALUES ($1,$2)
		ON CONFLICT (stage)
		DO UPDATE SET payload = EXCLUDED.payload
	`
	if _, err := s.db.ExecContext(ctx, query, string(policy.Stage), payload); err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}

func (s *PGStore) ListPolicies(ctx context.Context) ([]models.ApprovalPolicy, error) {
	const query = `SELECT payload FROM approval_policies ORDER BY stage`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var out []models.ApprovalPolicy
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		var p models.ApprovalPolicy
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
