package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Malowking/MCP-Monitor/internal/auth"
	"github.com/Malowking/MCP-Monitor/internal/confirm"
	"github.com/Malowking/MCP-Monitor/internal/health"
	"github.com/Malowking/MCP-Monitor/internal/history"
	"github.com/Malowking/MCP-Monitor/internal/metrics"
	"github.com/Malowking/MCP-Monitor/internal/orchestrator"
	"github.com/Malowking/MCP-Monitor/internal/registry"
	"github.com/Malowking/MCP-Monitor/internal/router"
	"github.com/Malowking/MCP-Monitor/internal/rules"
	"github.com/Malowking/MCP-Monitor/internal/scoring"
	"github.com/Malowking/MCP-Monitor/internal/storage"
)

type stubAuth struct {
	admin bool
	fail  bool
}

func (a *stubAuth) Authenticate(_ context.Context, _ string) (*auth.ClientContext, error) {
	if a.fail {
		return nil, auth.ErrUnauthenticated
	}
	return &auth.ClientContext{ClientID: "test", Admin: a.admin}, nil
}

type constEmbedder struct{}

func (constEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

type okProber struct{}

func (okProber) Probe(_ context.Context, _ string) error { return nil }

func newTestServer(t *testing.T, authn auth.Authenticator, drafts orchestrator.DraftGenerator) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	services := registry.NewMemoryStore()
	breakers := health.NewBreakerSet(health.DefaultBreakerConfig())
	monitor := health.NewMonitor(services, okProber{}, breakers, health.DefaultMonitorConfig(), logger)
	rt := router.New(services, breakers, router.DefaultIntentKeywords(), logger)

	eng, err := rules.NewEngine(func() (*rules.Set, error) {
		return rules.ParseSet(nil, nil)
	}, logger)
	if err != nil {
		t.Fatalf("rules.NewEngine: %v", err)
	}

	retriever := history.NewRetriever(constEmbedder{}, history.NewMemoryIndex(),
		history.NewMemoryCaseStore(), history.DefaultRetrieverConfig(), logger)
	scorer := scoring.NewScorer(
		scoring.NewHistorySignal(retriever),
		scoring.NewRuleSignal(eng),
		scoring.NewBaseRiskSignal(),
		scoring.NewParameterSignal(),
		scoring.DefaultWeights(), scoring.DefaultThresholds(),
		2*time.Second, logger)

	orch := orchestrator.New(orchestrator.Deps{
		Router:        rt,
		Scorer:        scorer,
		Confirmations: confirm.NewManager(confirm.NewMemoryStore(), 30*time.Minute, logger),
		History:       retriever,
		Services:      services,
		Monitor:       monitor,
		Prefs:         orchestrator.NewMemoryPreferenceStore(),
		Drafts:        drafts,
		Rules:         eng,
		Events:        storage.NewLogWriter(logger),
		Stats:         metrics.NewCallStats(),
		Thresholds:    scoring.DefaultThresholds(),
		Logger:        logger,
	})
	return New(orch, authn, logger).Engine()
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	engine := newTestServer(t, &stubAuth{admin: true}, &orchestrator.StaticDraftGenerator{})
	w := doJSON(t, engine, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	engine := newTestServer(t, &stubAuth{fail: true}, &orchestrator.StaticDraftGenerator{})
	w := doJSON(t, engine, http.MethodPost, "/api/v1/query", gin.H{
		"user_id": "u1", "question": "hi",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestNonAdminCannotRegister(t *testing.T) {
	engine := newTestServer(t, &stubAuth{admin: false}, &orchestrator.StaticDraftGenerator{})
	w := doJSON(t, engine, http.MethodPost, "/api/v1/services/register", gin.H{
		"name": "x", "url": "http://x:1",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestQueryFlowOverHTTP(t *testing.T) {
	drafts := &orchestrator.StaticDraftGenerator{
		Calls: []orchestrator.ToolCall{
			{ToolName: "get_weather", Params: map[string]any{"city": "Berlin"}},
		},
	}
	engine := newTestServer(t, &stubAuth{admin: true}, drafts)

	w := doJSON(t, engine, http.MethodPost, "/api/v1/services/register", gin.H{
		"name":  "weather-svc",
		"url":   "http://weather.internal:8080",
		"layer": "L1",
		"tools": []gin.H{{"name": "get_weather", "description": "current weather"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("register status = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, engine, http.MethodPost, "/api/v1/query", gin.H{
		"user_id":  "u1",
		"question": "what is the weather in Berlin",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("query status = %d: %s", w.Code, w.Body.String())
	}
	var resp orchestrator.QueryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Drafts) != 1 {
		t.Fatalf("drafts = %d, want 1", len(resp.Drafts))
	}
	if resp.Drafts[0].State != confirm.StateAutoApproved {
		t.Fatalf("state = %s, want auto_approved", resp.Drafts[0].State)
	}

	w = doJSON(t, engine, http.MethodPost, "/api/v1/execution", gin.H{
		"request_id":  resp.Drafts[0].RequestID,
		"success":     true,
		"duration_ms": 42,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("execution status = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, engine, http.MethodGet, "/api/v1/history/u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d: %s", w.Code, w.Body.String())
	}
	var hist struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if hist.Count != 1 {
		t.Fatalf("history count = %d, want 1", hist.Count)
	}
}

func TestConfirmUnknownRequestReturns404(t *testing.T) {
	engine := newTestServer(t, &stubAuth{admin: true}, &orchestrator.StaticDraftGenerator{})
	w := doJSON(t, engine, http.MethodPost, "/api/v1/confirm", gin.H{
		"request_id": "missing",
		"confirmed":  true,
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Code      string `json:"code"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if resp.Code == "" || resp.RequestID == "" {
		t.Fatalf("envelope = %+v, want code and request_id", resp)
	}
}

func TestMalformedBodyReturns400(t *testing.T) {
	engine := newTestServer(t, &stubAuth{admin: true}, &orchestrator.StaticDraftGenerator{})
	w := doJSON(t, engine, http.MethodPost, "/api/v1/query", gin.H{"user_id": "u1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
}

func TestServiceEndpoints(t *testing.T) {
	engine := newTestServer(t, &stubAuth{admin: true}, &orchestrator.StaticDraftGenerator{})

	w := doJSON(t, engine, http.MethodPost, "/api/v1/services/register", gin.H{
		"name":  "files-svc",
		"url":   "http://files.internal:8080",
		"layer": "L2",
		"tools": []gin.H{{"name": "delete_file"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("register status = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, engine, http.MethodGet, "/api/v1/services", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 {
		t.Fatalf("count = %d, want 1", list.Count)
	}

	w = doJSON(t, engine, http.MethodGet, "/api/v1/services/files-svc/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", w.Code)
	}
	w = doJSON(t, engine, http.MethodGet, "/api/v1/services/files-svc/tools", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("tools endpoint = %d", w.Code)
	}

	w = doJSON(t, engine, http.MethodDelete, "/api/v1/services/files-svc", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doJSON(t, engine, http.MethodGet, "/api/v1/services/files-svc/status", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want 404", w.Code)
	}
}
