package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/slkreddy/SafeLayer/internal/audit"
	"github.com/slkreddy/SafeLayer/internal/config"
	"github.com/slkreddy/SafeLayer/internal/logger"
	"github.com/slkreddy/SafeLayer/internal/policy"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func newTestServer(t *testing.T) (*Server, *audit.MemorySink, *policy.Store) {
	t.Helper()

	cfg := config.GetDefaults()
	cfg.Policy.Dir = t.TempDir()

	store, err := policy.NewStore(cfg.Policy.Dir, testLogger())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	sink := &audit.MemorySink{}
	srv, err := New(cfg, testLogger(), store, sink, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return srv, sink, store
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("Unexpected health body: %s", w.Body.String())
	}
}

func TestInfoEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/info", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var info map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if info["active_policy"] != "default" {
		t.Errorf("Expected default active policy, got %v", info["active_policy"])
	}
	if info["guards"] != float64(3) {
		t.Errorf("Expected 3 guards, got %v", info["guards"])
	}
}

func TestProcessEndpoint(t *testing.T) {
	srv, sink, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{
		"text": "Email me at foo@bar.com. This is crap.",
	})
	req := httptest.NewRequest("POST", "/v1/process", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Output string `json:"output"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if !strings.Contains(resp.Output, "[EMAIL MASKED]") {
		t.Errorf("Email not masked: %q", resp.Output)
	}
	if !strings.Contains(resp.Output, "****") {
		t.Errorf("Profanity not masked: %q", resp.Output)
	}
	if strings.Contains(resp.Output, "foo@bar.com") {
		t.Errorf("PII leaked: %q", resp.Output)
	}

	entries := sink.Entries()
	if len(entries) != 2 {
		t.Errorf("Expected 2 audit entries, got %d", len(entries))
	}
}

func TestProcessEndpointBadBody(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/v1/process", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestListPoliciesEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/v1/policies", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp struct {
		Policies []string `json:"policies"`
		Active   string   `json:"active"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if resp.Active != "default" {
		t.Errorf("Expected default active, got %q", resp.Active)
	}
	if len(resp.Policies) != 1 || resp.Policies[0] != "default" {
		t.Errorf("Unexpected policy list: %v", resp.Policies)
	}
}

func TestActivePolicyEndpoints(t *testing.T) {
	srv, _, store := newTestServer(t)

	t.Run("GetActive", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/v1/policies/active", nil)
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}

		var sum policy.Summary
		if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
			t.Fatalf("Invalid JSON: %v", err)
		}
		if sum.Name != "default" || sum.GuardCount != 3 {
			t.Errorf("Unexpected summary: %+v", sum)
		}
	})

	t.Run("SetUnknown", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"name": "ghost"})
		req := httptest.NewRequest("PUT", "/v1/policies/active", bytes.NewReader(body))
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})

	t.Run("SetLoaded", func(t *testing.T) {
		strict := store.Template("strict", []string{"pii"})
		path, err := store.Save(strict, "")
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if _, err := store.Load(path); err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		body, _ := json.Marshal(map[string]string{"name": "strict"})
		req := httptest.NewRequest("PUT", "/v1/policies/active", bytes.NewReader(body))
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if store.ActivePolicy().Name != "strict" {
			t.Errorf("Active policy not switched: %q", store.ActivePolicy().Name)
		}

		// Pipeline rebuilt under the new policy: only the pii guard remains,
		// so profanity passes through untouched.
		procBody, _ := json.Marshal(map[string]string{"text": "crap, call foo@bar.com"})
		procReq := httptest.NewRequest("POST", "/v1/process", bytes.NewReader(procBody))
		procW := httptest.NewRecorder()
		srv.Router().ServeHTTP(procW, procReq)

		var resp struct {
			Output string `json:"output"`
		}
		if err := json.Unmarshal(procW.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Invalid JSON: %v", err)
		}
		if !strings.Contains(resp.Output, "crap") {
			t.Errorf("Tone guard should be absent under strict policy: %q", resp.Output)
		}
		if !strings.Contains(resp.Output, "[EMAIL MASKED]") {
			t.Errorf("PII guard should still mask: %q", resp.Output)
		}
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.config.Server.RateLimit.Enabled = true
	srv.limiters = newIPLimiters(1, 1)

	body := []byte(`{"text":"hi"}`)
	first := httptest.NewRequest("POST", "/v1/process", bytes.NewReader(body))
	first.Header.Set("X-Real-IP", "10.0.0.1")
	w1 := httptest.NewRecorder()
	srv.Router().ServeHTTP(w1, first)
	if w1.Code != http.StatusOK {
		t.Fatalf("First request should pass, got %d", w1.Code)
	}

	second := httptest.NewRequest("POST", "/v1/process", bytes.NewReader(body))
	second.Header.Set("X-Real-IP", "10.0.0.1")
	w2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(w2, second)
	if w2.Code != http.StatusTooManyRequests {
		t.Errorf("Second request should be limited, got %d", w2.Code)
	}

	// A different client gets its own bucket.
	other := httptest.NewRequest("POST", "/v1/process", bytes.NewReader(body))
	other.Header.Set("X-Real-IP", "10.0.0.2")
	w3 := httptest.NewRecorder()
	srv.Router().ServeHTTP(w3, other)
	if w3.Code != http.StatusOK {
		t.Errorf("Other client should pass, got %d", w3.Code)
	}
}
