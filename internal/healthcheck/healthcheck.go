// Package healthcheck defines the verdict seam between the orchestrator and
// the deploy/health backend. Production deployments inject a real probe; the
// static checker exists for tests and local wiring.
package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/helixops/promoter/internal/models"
)

// ErrUnhealthy marks a failing verdict.
var ErrUnhealthy = errors.New("release unhealthy")

// Verdict is the outcome of one health check against a release.
type Verdict struct {
	Healthy bool   `json:"healthy"`
	Reason  string `json:"reason,omitempty"`
}

// Checker probes a freshly deployed release. Implementations must respect
// ctx cancellation; the coordinator treats deadline expiry as a failing
// verdict.
type Checker interface {
	Check(ctx context.Context, rel models.Release) (Verdict, error)
}

// StaticChecker returns a fixed verdict. Test and bootstrap use only.
type StaticChecker struct {
	Healthy bool
	Reason  string
}

func NewStaticChecker(healthy bool) *StaticChecker {
	return &StaticChecker{Healthy: healthy}
}

func (c *StaticChecker) Check(ctx context.Context, rel models.Release) (Verdict, error) {
	return Verdict{Healthy: c.Healthy, Reason: c.Reason}, nil
}

// HTTPChecker probes a per-stage endpoint over HTTP. The URL template may
// contain {stage} and {version} placeholders. Any 2xx response is healthy.
type HTTPChecker struct {
	URLTemplate string
	Client      *http.Client
}

func NewHTTPChecker(urlTemplate string, timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPChecker{
		URLTemplate: urlTemplate,
		Client:      &http.Client{Timeout: timeout},
	}
}

func (c *HTTPChecker) Check(ctx context.Context, rel models.Release) (Verdict, error) {
	url := strings.NewReplacer(
		"{stage}", string(rel.Stage),
		"{version}", rel.Version,
	).Replace(c.URLTemplate)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Verdict{}, fmt.Errorf("build probe request: %w", err)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return Verdict{Healthy: false, Reason: err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Verdict{Healthy: true}, nil
	}
	return Verdict{Healthy: false, Reason: fmt.Sprintf("probe returned %d", resp.StatusCode)}, nil
}
