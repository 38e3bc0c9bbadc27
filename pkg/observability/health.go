package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthStatus is the aggregate or per-probe health state.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is one named probe. Critical probes gate readiness; a failing
// non-critical probe only degrades the aggregate status.
type HealthCheck struct {
	Name      string
	CheckFunc func(context.Context) error
	Timeout   time.Duration
	Critical  bool
}

// CheckResult is the outcome of one probe run.
type CheckResult struct {
	Status   HealthStatus `json:"status"`
	Error    string       `json:"error,omitempty"`
	Duration string       `json:"duration"`
}

// HealthResponse is the aggregate health report.
type HealthResponse struct {
	Status HealthStatus           `json:"status"`
	Uptime string                 `json:"uptime"`
	Checks map[string]CheckResult `json:"checks"`
}

// HealthChecker runs registered probes on demand.
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]*HealthCheck
}

var (
	globalChecker  *HealthChecker
	startTime      = time.Now()
	initHealthOnce sync.Once
)

// InitHealthChecker initializes the global health checker.
func InitHealthChecker() *HealthChecker {
	initHealthOnce.Do(func() {
		globalChecker = &HealthChecker{checks: make(map[string]*HealthCheck)}
	})
	return globalChecker
}

// GetHealthChecker returns the global health checker.
func GetHealthChecker() *HealthChecker {
	return InitHealthChecker()
}

// RegisterCheck adds a probe, replacing any probe of the same name.
func (hc *HealthChecker) RegisterCheck(check *HealthCheck) {
	if check.Timeout == 0 {
		check.Timeout = 5 * time.Second
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[check.Name] = check
}

// Check runs every probe and aggregates the result. An unhealthy critical
// probe makes the whole service unhealthy.
func (hc *HealthChecker) Check(ctx context.Context) HealthResponse {
	hc.mu.RLock()
	checks := make([]*HealthCheck, 0, len(hc.checks))
	for _, c := range hc.checks {
		checks = append(checks, c)
	}
	hc.mu.RUnlock()

	resp := HealthResponse{
		Status: HealthStatusHealthy,
		Uptime: time.Since(startTime).Round(time.Second).String(),
		Checks: make(map[string]CheckResult, len(checks)),
	}
	for _, check := range checks {
		result := runCheck(ctx, check)
		resp.Checks[check.Name] = result
		switch {
		case result.Status == HealthStatusUnhealthy:
			resp.Status = HealthStatusUnhealthy
		case result.Status == HealthStatusDegraded && resp.Status == HealthStatusHealthy:
			resp.Status = HealthStatusDegraded
		}
	}
	return resp
}

func runCheck(ctx context.Context, check *HealthCheck) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	start := time.Now()
	errChan := make(chan error, 1)
	go func() { errChan <- check.CheckFunc(ctx) }()

	var err error
	select {
	case err = <-errChan:
	case <-ctx.Done():
		err = ctx.Err()
	}

	result := CheckResult{
		Status:   HealthStatusHealthy,
		Duration: time.Since(start).String(),
	}
	if err != nil {
		result.Error = err.Error()
		if check.Critical {
			result.Status = HealthStatusUnhealthy
		} else {
			result.Status = HealthStatusDegraded
		}
	}
	return result
}

// HealthHandler serves the full health report. Degraded still returns 200.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := GetHealthChecker().Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if resp.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// LivenessHandler answers as long as the process serves requests.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// ReadinessHandler answers ready only when every probe is healthy.
func ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := GetHealthChecker().Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		status := "ready"
		if resp.Status != HealthStatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			status = "not ready"
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}

// StoreCheck creates a session-store health check
func StoreCheck(pingFunc func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:      "session_store",
		CheckFunc: pingFunc,
		Timeout:   5 * time.Second,
		Critical:  true,
	}
}
