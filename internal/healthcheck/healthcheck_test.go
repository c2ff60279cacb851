package healthcheck_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixops/promoter/internal/healthcheck"
	"github.com/helixops/promoter/internal/models"
)

func TestStaticChecker(t *testing.T) {
	verdict, err := healthcheck.NewStaticChecker(true).Check(context.Background(), models.Release{})
	require.NoError(t, err)
	assert.True(t, verdict.Healthy)

	verdict, err = healthcheck.NewStaticChecker(false).Check(context.Background(), models.Release{})
	require.NoError(t, err)
	assert.False(t, verdict.Healthy)
}

func TestHTTPCheckerHealthy(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := healthcheck.NewHTTPChecker(srv.URL+"/probe/{stage}/{version}", time.Second)
	verdict, err := c.Check(context.Background(), models.Release{
		Stage:   models.StageStaging,
		Version: "1.2.3",
	})
	require.NoError(t, err)
	assert.True(t, verdict.Healthy)
	assert.Equal(t, "/probe/staging/1.2.3", gotPath)
}

func TestHTTPCheckerUnhealthyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := healthcheck.NewHTTPChecker(srv.URL, time.Second)
	verdict, err := c.Check(context.Background(), models.Release{})
	require.NoError(t, err)
	assert.False(t, verdict.Healthy)
	assert.Contains(t, verdict.Reason, "503")
}

func TestHTTPCheckerConnectionErrorIsUnhealthy(t *testing.T) {
	// Closed server: connection refused is a failing verdict, not an error.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := healthcheck.NewHTTPChecker(srv.URL, 100*time.Millisecond)
	verdict, err := c.Check(context.Background(), models.Release{})
	require.NoError(t, err)
	assert.False(t, verdict.Healthy)
	assert.NotEmpty(t, verdict.Reason)
}

func TestHTTPCheckerRespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := healthcheck.NewHTTPChecker(srv.URL, 10*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	verdict, err := c.Check(ctx, models.Release{})
	require.NoError(t, err)
	assert.False(t, verdict.Healthy)
}
