package router

import (
	"context"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Malowking/MCP-Monitor/internal/health"
	"github.com/Malowking/MCP-Monitor/internal/registry"
)

func seedRegistry(t *testing.T) registry.Store {
	t.Helper()
	store := registry.NewMemoryStore()
	ctx := context.Background()

	services := []*registry.ServiceRegistration{
		{
			Name:  "core-utils",
			URL:   "http://core-utils",
			Layer: registry.LayerCore,
			Tools: []registry.ToolDefinition{
				{Name: "get_time"}, {Name: "search_web"},
			},
			Active: true,
		},
		{
			Name:   "file-ops",
			URL:    "http://file-ops",
			Layer:  registry.LayerDomain,
			Domain: "file",
			Tools: []registry.ToolDefinition{
				{Name: "read_file"}, {Name: "delete_file"},
			},
			Active: true,
		},
		{
			Name:   "mailer",
			URL:    "http://mailer",
			Layer:  registry.LayerDomain,
			Domain: "email",
			Tools:  []registry.ToolDefinition{{Name: "send_email"}},
			Active: true,
		},
		{
			Name:   "payments",
			URL:    "http://payments",
			Layer:  registry.LayerElevated,
			Domain: "finance",
			Tools:  []registry.ToolDefinition{{Name: "transfer_funds"}},
			Active: true,
		},
	}
	for _, svc := range services {
		if err := store.Upsert(ctx, svc); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return store
}

func newRouter(t *testing.T, store registry.Store) (*Router, *health.BreakerSet) {
	t.Helper()
	breakers := health.NewBreakerSet(health.BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	return New(store, breakers, nil, zap.NewNop()), breakers
}

func toolNames(res *Result) []string {
	names := make([]string, len(res.Tools))
	for i, c := range res.Tools {
		names[i] = c.Tool.Name
	}
	return names
}

func TestRoute_CoreAlwaysIncluded(t *testing.T) {
	r, _ := newRouter(t, seedRegistry(t))
	res, err := r.Route(context.Background(), Request{Query: "what time is it"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	got := toolNames(res)
	want := []string{"get_time", "search_web"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tools = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(res.DetectedIntents, []string{"general"}) {
		t.Fatalf("intents = %v, want [general]", res.DetectedIntents)
	}
}

func TestRoute_DomainMatchAddsL2(t *testing.T) {
	r, _ := newRouter(t, seedRegistry(t))
	res, err := r.Route(context.Background(), Request{Query: "delete the report file in my folder"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Find("delete_file") == nil {
		t.Fatalf("expected file domain tools, got %v", toolNames(res))
	}
	if res.Find("send_email") != nil {
		t.Fatal("email tools must not be included for a file query")
	}
	if !reflect.DeepEqual(res.ActiveDomains, []string{"file"}) {
		t.Fatalf("active domains = %v", res.ActiveDomains)
	}
}

func TestRoute_ElevatedOnlyWithFlag(t *testing.T) {
	r, _ := newRouter(t, seedRegistry(t))
	ctx := context.Background()

	res, err := r.Route(ctx, Request{Query: "transfer funds to savings"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Find("transfer_funds") != nil {
		t.Fatal("L3 tool exposed without elevated authorization")
	}

	res, err = r.Route(ctx, Request{Query: "transfer funds to savings", Elevated: true})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Find("transfer_funds") == nil {
		t.Fatal("L3 tool missing despite elevated authorization")
	}
}

func TestRoute_OpenBreakerExcludesService(t *testing.T) {
	r, breakers := newRouter(t, seedRegistry(t))
	breakers.For("file-ops").RecordFailure(time.Now()) // threshold 1 -> open

	res, err := r.Route(context.Background(), Request{Query: "read the config file"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Find("read_file") != nil {
		t.Fatal("open-circuit service must be excluded from routing")
	}
	if len(res.ActiveDomains) != 0 {
		t.Fatalf("active domains = %v, want none", res.ActiveDomains)
	}
}

func TestRoute_HalfOpenFlagsElevatedRisk(t *testing.T) {
	r, breakers := newRouter(t, seedRegistry(t))
	b := breakers.For("file-ops")
	b.RecordFailure(time.Now().Add(-2 * time.Minute))
	b.ShouldProbe(time.Now()) // open -> half-open

	res, err := r.Route(context.Background(), Request{Query: "read the config file"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	c := res.Find("read_file")
	if c == nil {
		t.Fatal("half-open service should still be routable")
	}
	if !c.ElevatedRisk {
		t.Fatal("half-open service tools must be flagged elevated risk")
	}
}

func TestRoute_Deterministic(t *testing.T) {
	r, _ := newRouter(t, seedRegistry(t))
	ctx := context.Background()
	req := Request{Query: "send an email about the database file"}

	first, err := r.Route(ctx, req)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := r.Route(ctx, req)
		if err != nil {
			t.Fatalf("route: %v", err)
		}
		if !reflect.DeepEqual(toolNames(first), toolNames(again)) {
			t.Fatalf("routing not deterministic: %v vs %v", toolNames(first), toolNames(again))
		}
		if !reflect.DeepEqual(first.DetectedIntents, again.DetectedIntents) {
			t.Fatalf("intents not deterministic: %v vs %v", first.DetectedIntents, again.DetectedIntents)
		}
	}
}

func TestRoute_ExplicitToolsReplaceIntentSelection(t *testing.T) {
	r, _ := newRouter(t, seedRegistry(t))
	res, err := r.Route(context.Background(), Request{
		Query:         "anything at all",
		ExplicitTools: []string{"send_email"},
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Find("send_email") == nil {
		t.Fatal("explicit tool missing")
	}
	if res.Find("read_file") != nil {
		t.Fatal("intent-driven tools must not be added when explicit tools are given")
	}
	// Core stays regardless.
	if res.Find("get_time") == nil {
		t.Fatal("core tools must always be present")
	}
}

func TestRoute_ExplicitCannotPullElevated(t *testing.T) {
	r, _ := newRouter(t, seedRegistry(t))
	res, err := r.Route(context.Background(), Request{
		Query:         "pay the invoice",
		ExplicitTools: []string{"transfer_funds"},
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Find("transfer_funds") != nil {
		t.Fatal("explicit selection must not bypass L3 authorization")
	}
}

func TestDetectIntents_MultipleSorted(t *testing.T) {
	r, _ := newRouter(t, seedRegistry(t))
	got := r.DetectIntents("Email me the weather forecast")
	want := []string{"email", "weather"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("intents = %v, want %v", got, want)
	}
}
