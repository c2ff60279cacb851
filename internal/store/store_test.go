package store_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixops/promoter/internal/models"
	"github.com/helixops/promoter/internal/store"
)

func samplePromotion() models.Promotion {
	id := models.NewID()
	return models.Promotion{
		ID:     id,
		Status: models.PromotionStatusPending,
		Request: models.PromotionRequest{
			ID:          id,
			ArtifactID:  "artifact-1",
			Version:     "1.0.0",
			FromStage:   models.StageDev,
			ToStage:     models.StageStaging,
			RequestedBy: "ci",
			RequestedAt: time.Now().UTC(),
		},
	}
}

func TestPGSavePromotion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.NewPGStore(db)
	p := samplePromotion()

	mock.ExpectExec("INSERT INTO promotions").
		WithArgs(p.ID, "pending", "staging", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.SavePromotion(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGGetPromotion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.NewPGStore(db)
	p := samplePromotion()
	payload, err := json.Marshal(p)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT payload FROM promotions WHERE id=").
		WithArgs(p.ID).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	got, err := s.GetPromotion(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Request.ToStage, got.Request.ToStage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGGetPromotionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.NewPGStore(db)

	mock.ExpectQuery("SELECT payload FROM promotions WHERE id=").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = s.GetPromotion(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPGSaveRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.NewPGStore(db)
	rel := models.Release{
		ID:         models.NewID(),
		Version:    "1.0.0",
		Stage:      models.StageStaging,
		Status:     models.ReleaseStatusActive,
		DeployedAt: time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO releases").
		WithArgs(rel.ID, "staging", "1.0.0", "active", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.SaveRelease(context.Background(), rel))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGListPolicies(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.NewPGStore(db)
	policy := models.ApprovalPolicy{
		Stage:             models.StageProd,
		RequiredApprovals: 2,
		Approvers:         []string{"tech-lead", "product-manager"},
	}
	payload, err := json.Marshal(policy)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT payload FROM approval_policies").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	got, err := s.ListPolicies(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, policy, got[0])
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()

	p := samplePromotion()
	require.NoError(t, m.SavePromotion(ctx, p))

	got, err := m.GetPromotion(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = m.GetPromotion(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	rel := models.Release{ID: models.NewID(), Stage: models.StageStaging, Version: "1.0.0", DeployedAt: time.Now().UTC()}
	require.NoError(t, m.SaveRelease(ctx, rel))
	rels, err := m.ListReleases(ctx, models.StageStaging)
	require.NoError(t, err)
	assert.Len(t, rels, 1)
	empty, err := m.ListReleases(ctx, models.StageProd)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStoreSnapshotsAreIsolated(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()

	p := samplePromotion()
	require.NoError(t, m.SavePromotion(ctx, p))

	got, err := m.GetPromotion(ctx, p.ID)
	require.NoError(t, err)
	got.Status = models.PromotionStatusFailed

	again, err := m.GetPromotion(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PromotionStatusPending, again.Status)
}
