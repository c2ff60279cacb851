package httpserver_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixops/promoter/internal/approval"
	"github.com/helixops/promoter/internal/coordinator"
	"github.com/helixops/promoter/internal/events"
	"github.com/helixops/promoter/internal/healthcheck"
	"github.com/helixops/promoter/internal/httpserver"
	"github.com/helixops/promoter/internal/models"
	"github.com/helixops/promoter/internal/orchestrator"
	"github.com/helixops/promoter/internal/stage"
	"github.com/helixops/promoter/internal/store"
)

func newTestServer(t *testing.T, authSecret string) *httptest.Server {
	t.Helper()
	registry := stage.NewRegistry()
	workflow := approval.NewWorkflow([]models.ApprovalPolicy{
		{Stage: models.StageStaging, RequiredApprovals: 1, Approvers: []string{"dev-lead"}},
		{Stage: models.StageProd, RequiredApprovals: 2, Approvers: []string{"tech-lead", "product-manager"}},
	})
	coord := coordinator.New(registry, healthcheck.NewStaticChecker(true), nil, coordinator.Config{AutoRollback: true})
	orch := orchestrator.New(registry, workflow, coord, store.NewMemoryStore(), events.NewPublisher())
	srv := httptest.NewServer(httpserver.New(orch, authSecret).Router())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodePromotion(t *testing.T, resp *http.Response) models.Promotion {
	t.Helper()
	defer resp.Body.Close()
	var p models.Promotion
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	return p
}

func TestPromotionLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, "")

	resp := postJSON(t, srv.URL+"/promotions", map[string]interface{}{
		"artifactId":  "artifact-1",
		"version":     "1.0.0",
		"fromStage":   "dev",
		"toStage":     "staging",
		"requestedBy": "ci",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	promo := decodePromotion(t, resp)
	assert.Equal(t, models.PromotionStatusPending, promo.Status)

	resp = postJSON(t, fmt.Sprintf("%s/promotions/%s/approve", srv.URL, promo.ID), map[string]string{
		"approver": "dev-lead",
		"comment":  "lgtm",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	promo = decodePromotion(t, resp)
	assert.Equal(t, models.PromotionStatusCompleted, promo.Status)

	statsResp, err := http.Get(srv.URL + "/stages/staging/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close()
	require.Equal(t, http.StatusOK, statsResp.StatusCode)
	var stats models.StageStats
	require.NoError(t, json.NewDecoder(statsResp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.TotalReleases)
	assert.Equal(t, "1.0.0", stats.ActiveVersion)
}

func TestInvalidTransitionOverHTTP(t *testing.T) {
	srv := newTestServer(t, "")

	resp := postJSON(t, srv.URL+"/promotions", map[string]string{
		"artifactId": "artifact-1",
		"version":    "1.0.0",
		"fromStage":  "dev",
		"toStage":    "prod",
	}, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownPromotionIs404(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/promotions/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRollbackFirstDeploymentIsConflict(t *testing.T) {
	srv := newTestServer(t, "")

	resp := postJSON(t, srv.URL+"/promotions", map[string]string{
		"artifactId": "artifact-1",
		"version":    "1.0.0",
		"fromStage":  "dev",
		"toStage":    "staging",
	}, nil)
	promo := decodePromotion(t, resp)

	resp = postJSON(t, fmt.Sprintf("%s/promotions/%s/approve", srv.URL, promo.ID), map[string]string{
		"approver": "dev-lead",
	}, nil)
	promo = decodePromotion(t, resp)
	require.Equal(t, models.PromotionStatusCompleted, promo.Status)

	resp = postJSON(t, fmt.Sprintf("%s/promotions/%s/rollback", srv.URL, promo.ID), map[string]string{
		"triggeredBy": "ops",
		"reason":      "incident",
	}, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRollbackRetryIsConflict(t *testing.T) {
	srv := newTestServer(t, "")

	for _, version := range []string{"1.0.0", "1.1.0"} {
		resp := postJSON(t, srv.URL+"/promotions", map[string]string{
			"artifactId": "artifact-1",
			"version":    version,
			"fromStage":  "dev",
			"toStage":    "staging",
		}, nil)
		promo := decodePromotion(t, resp)
		resp = postJSON(t, fmt.Sprintf("%s/promotions/%s/approve", srv.URL, promo.ID), map[string]string{
			"approver": "dev-lead",
		}, nil)
		promo = decodePromotion(t, resp)
		require.Equal(t, models.PromotionStatusCompleted, promo.Status)
	}

	listResp, err := http.Get(srv.URL + "/promotions?status=completed")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var promotions []models.Promotion
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&promotions))
	var target models.Promotion
	for _, p := range promotions {
		if p.Request.Version == "1.1.0" {
			target = p
		}
	}
	require.NotEmpty(t, target.ID)

	rollback := map[string]string{"triggeredBy": "ops", "reason": "incident"}
	resp := postJSON(t, fmt.Sprintf("%s/promotions/%s/rollback", srv.URL, target.ID), rollback, nil)
	promo := decodePromotion(t, resp)
	require.Equal(t, models.PromotionStatusRolledBack, promo.Status)

	// A retried rollback of the same promotion is refused.
	resp = postJSON(t, fmt.Sprintf("%s/promotions/%s/rollback", srv.URL, target.ID), rollback, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestUnknownStageIs404(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/stages/qa/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var m models.Metrics
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	assert.Equal(t, 0, m.TotalPromotions)
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	const secret = "test-secret"
	srv := newTestServer(t, secret)

	// No token: rejected.
	resp := postJSON(t, srv.URL+"/promotions", map[string]string{
		"artifactId": "artifact-1",
		"version":    "1.0.0",
		"fromStage":  "dev",
		"toStage":    "staging",
	}, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Valid token: the subject becomes the requesting principal.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "dev-lead",
		"iss": "promoter-test",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	resp = postJSON(t, srv.URL+"/promotions", map[string]string{
		"artifactId": "artifact-1",
		"version":    "1.0.0",
		"fromStage":  "dev",
		"toStage":    "staging",
	}, map[string]string{"Authorization": "Bearer " + signed})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	promo := decodePromotion(t, resp)
	assert.Equal(t, "dev-lead", promo.Request.RequestedBy)
}
