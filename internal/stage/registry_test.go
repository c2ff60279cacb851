package stage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixops/promoter/internal/models"
	"github.com/helixops/promoter/internal/stage"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to models.Stage
		want     bool
	}{
		{models.StageDev, models.StageStaging, true},
		{models.StageStaging, models.StageProd, true},
		{models.StageDev, models.StageProd, false},
		{models.StageStaging, models.StageDev, false},
		{models.StageProd, models.StageStaging, false},
		{models.StageProd, models.StageDev, false},
		{models.StageDev, models.StageDev, false},
		{models.StageStaging, models.StageStaging, false},
		{models.StageProd, models.StageProd, false},
		{models.Stage("qa"), models.StageProd, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, stage.ValidTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func release(version string, s models.Stage) models.Release {
	return models.Release{
		ID:      models.NewID(),
		Version: version,
		Stage:   s,
	}
}

func TestDeployDemotesActive(t *testing.T) {
	r := stage.NewRegistry()

	first := r.Deploy(release("1.0.0", models.StageStaging))
	assert.Equal(t, models.ReleaseStatusActive, first.Status)

	second := r.Deploy(release("1.1.0", models.StageStaging))
	assert.Equal(t, models.ReleaseStatusActive, second.Status)

	history := r.History(models.StageStaging)
	require.Len(t, history, 2)
	assert.Equal(t, models.ReleaseStatusInactive, history[0].Status)
	assert.Equal(t, models.ReleaseStatusActive, history[1].Status)

	active, ok := r.Active(models.StageStaging)
	require.True(t, ok)
	assert.Equal(t, "1.1.0", active.Version)
}

func TestDeployIsolatedPerStage(t *testing.T) {
	r := stage.NewRegistry()
	r.Deploy(release("1.0.0", models.StageStaging))
	r.Deploy(release("2.0.0", models.StageProd))

	stagingActive, ok := r.Active(models.StageStaging)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", stagingActive.Version)

	prodActive, ok := r.Active(models.StageProd)
	require.True(t, ok)
	assert.Equal(t, "2.0.0", prodActive.Version)
}

func TestRevertToPrevious(t *testing.T) {
	r := stage.NewRegistry()
	r.Deploy(release("1.0.0", models.StageStaging))
	r.Deploy(release("1.1.0", models.StageStaging))

	restored, err := r.RevertToPrevious(models.StageStaging)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", restored.Version)

	history := r.History(models.StageStaging)
	require.Len(t, history, 2)
	assert.Equal(t, models.ReleaseStatusActive, history[0].Status)
	assert.Equal(t, models.ReleaseStatusRolledBack, history[1].Status)
}

func TestRevertNoActiveRelease(t *testing.T) {
	r := stage.NewRegistry()
	_, err := r.RevertToPrevious(models.StageStaging)
	assert.ErrorIs(t, err, stage.ErrNoActiveRelease)
}

func TestRevertFirstDeployment(t *testing.T) {
	r := stage.NewRegistry()
	r.Deploy(release("1.0.0", models.StageStaging))

	_, err := r.RevertToPrevious(models.StageStaging)
	assert.ErrorIs(t, err, stage.ErrNoPriorRelease)

	// Failed revert must not disturb the active release.
	active, ok := r.Active(models.StageStaging)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", active.Version)
}

func TestRevertTwiceWalksBack(t *testing.T) {
	r := stage.NewRegistry()
	r.Deploy(release("1.0.0", models.StageStaging))
	r.Deploy(release("1.1.0", models.StageStaging))
	r.Deploy(release("1.2.0", models.StageStaging))

	restored, err := r.RevertToPrevious(models.StageStaging)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", restored.Version)

	restored, err = r.RevertToPrevious(models.StageStaging)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", restored.Version)

	_, err = r.RevertToPrevious(models.StageStaging)
	assert.ErrorIs(t, err, stage.ErrNoPriorRelease)
}

func TestStats(t *testing.T) {
	r := stage.NewRegistry()

	empty := r.Stats(models.StageStaging)
	assert.Equal(t, 0, empty.TotalReleases)
	assert.Empty(t, empty.ActiveVersion)
	assert.Nil(t, empty.LastDeployedAt)

	r.Deploy(release("1.0.0", models.StageStaging))
	r.Deploy(release("1.1.0", models.StageStaging))

	stats := r.Stats(models.StageStaging)
	assert.Equal(t, 2, stats.TotalReleases)
	assert.Equal(t, "1.1.0", stats.ActiveVersion)
	require.NotNil(t, stats.LastDeployedAt)

	_, err := r.RevertToPrevious(models.StageStaging)
	require.NoError(t, err)

	stats = r.Stats(models.StageStaging)
	assert.Equal(t, 2, stats.TotalReleases)
	assert.Equal(t, "1.0.0", stats.ActiveVersion)
}
