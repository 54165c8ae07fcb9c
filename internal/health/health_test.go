package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func fixed(status Status) CheckFunc {
	return func(context.Context) Check {
		return Check{Status: status, Timestamp: time.Now()}
	}
}

func TestCheckerHandler(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]Status
		wantCode   int
		wantStatus Status
	}{
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
		},
		{
			name:       "all healthy",
			checks:     map[string]Status{"docker": StatusHealthy, "last_run": StatusHealthy},
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
		},
		{
			name:       "failed run",
			checks:     map[string]Status{"docker": StatusHealthy, "last_run": StatusUnhealthy},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker()
			for name, status := range tt.checks {
				checker.RegisterCheck(name, fixed(status))
			}

			rr := httptest.NewRecorder()
			checker.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rr.Code != tt.wantCode {
				t.Errorf("status code = %v, want %v", rr.Code, tt.wantCode)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}

			var body struct {
				Status Status           `json:"status"`
				Checks map[string]Check `json:"checks"`
			}
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("overall status = %v, want %v", body.Status, tt.wantStatus)
			}
			for name, want := range tt.checks {
				if got := body.Checks[name].Status; got != want {
					t.Errorf("check %s = %v, want %v", name, got, want)
				}
			}
		})
	}
}

func TestReadiness(t *testing.T) {
	var r Readiness
	handler := r.Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("before SetReady: status = %v, want %v", rr.Code, http.StatusServiceUnavailable)
	}

	r.SetReady(true)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ready\n" {
		t.Errorf("after SetReady: status = %v, body = %q", rr.Code, rr.Body.String())
	}
}

func TestPingCheck(t *testing.T) {
	healthy := PingCheck(func(context.Context) error { return nil }, time.Second)
	if got := healthy(context.Background()); got.Status != StatusHealthy {
		t.Errorf("healthy ping status = %v", got.Status)
	}

	unhealthy := PingCheck(func(context.Context) error { return errors.New("connection refused") }, time.Second)
	got := unhealthy(context.Background())
	if got.Status != StatusUnhealthy || got.Details["error"] != "connection refused" {
		t.Errorf("unhealthy ping = %+v", got)
	}
}

func TestPingCheck_Timeout(t *testing.T) {
	slow := PingCheck(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 10*time.Millisecond)

	if got := slow(context.Background()); got.Status != StatusUnhealthy {
		t.Errorf("status = %v, want unhealthy", got.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	LivenessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/live", nil))

	if rr.Code != http.StatusOK || rr.Body.String() != "alive\n" {
		t.Errorf("liveness = %v %q", rr.Code, rr.Body.String())
	}
}
