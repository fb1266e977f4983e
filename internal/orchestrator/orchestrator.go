package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Malowking/MCP-Monitor/internal/apierror"
	"github.com/Malowking/MCP-Monitor/internal/confirm"
	"github.com/Malowking/MCP-Monitor/internal/health"
	"github.com/Malowking/MCP-Monitor/internal/history"
	"github.com/Malowking/MCP-Monitor/internal/metrics"
	"github.com/Malowking/MCP-Monitor/internal/registry"
	"github.com/Malowking/MCP-Monitor/internal/router"
	"github.com/Malowking/MCP-Monitor/internal/rules"
	"github.com/Malowking/MCP-Monitor/internal/scoring"
	"github.com/Malowking/MCP-Monitor/internal/storage"
)

const DefaultMaxServices = 50

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Router        *router.Router
	Scorer        *scoring.Scorer
	Confirmations *confirm.Manager
	History       *history.Retriever
	Services      registry.Store
	Monitor       *health.Monitor
	Prefs         PreferenceStore
	Drafts        DraftGenerator
	Rules         *rules.Engine
	Events        storage.EventWriter
	Stats         *metrics.CallStats
	Thresholds    scoring.Thresholds
	MaxServices   int
	Logger        *zap.Logger
}

// Orchestrator ties routing, drafting, scoring, and the confirmation
// lifecycle together behind the API surface.
type Orchestrator struct {
	router        *router.Router
	scorer        *scoring.Scorer
	confirmations *confirm.Manager
	history       *history.Retriever
	services      registry.Store
	monitor       *health.Monitor
	prefs         PreferenceStore
	drafts        DraftGenerator
	rules         *rules.Engine
	events        storage.EventWriter
	stats         *metrics.CallStats
	thresholds    scoring.Thresholds
	maxServices   int
	logger        *zap.Logger
}

func New(d Deps) *Orchestrator {
	if d.MaxServices <= 0 {
		d.MaxServices = DefaultMaxServices
	}
	o := &Orchestrator{
		router:        d.Router,
		scorer:        d.Scorer,
		confirmations: d.Confirmations,
		history:       d.History,
		services:      d.Services,
		monitor:       d.Monitor,
		prefs:         d.Prefs,
		drafts:        d.Drafts,
		rules:         d.Rules,
		events:        d.Events,
		stats:         d.Stats,
		thresholds:    d.Thresholds,
		maxServices:   d.MaxServices,
		logger:        d.Logger,
	}
	o.confirmations.SetTerminalHook(o.onTerminal)
	return o
}

// QueryRequest is one inbound query to gate.
type QueryRequest struct {
	UserID        string   `json:"user_id" binding:"required"`
	Question      string   `json:"question" binding:"required"`
	ExplicitTools []string `json:"explicit_tools,omitempty"`
	Elevated      bool     `json:"elevated,omitempty"`
}

// DraftResult is one gated tool call in a query response.
type DraftResult struct {
	RequestID   string              `json:"request_id"`
	ToolName    string              `json:"tool_name"`
	ServiceName string              `json:"service_name,omitempty"`
	Params      map[string]any      `json:"params,omitempty"`
	State       confirm.State       `json:"state"`
	Message     string              `json:"message,omitempty"`
	Assessment  *scoring.Assessment `json:"assessment"`
}

// QueryResponse is the gating verdict for one query.
type QueryResponse struct {
	QueryID         string        `json:"query_id"`
	Question        string        `json:"question"`
	DetectedIntents []string      `json:"detected_intents"`
	AvailableTools  int           `json:"available_tools"`
	Drafts          []DraftResult `json:"drafts"`
}

// ProcessQuery routes the query, asks the model collaborator for draft
// tool calls, scores each draft, and persists one confirmation record
// per draft.
func (o *Orchestrator) ProcessQuery(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	start := time.Now()

	if strings.TrimSpace(req.Question) == "" {
		return nil, apierror.Validation("question is required")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, apierror.Validation("user_id is required")
	}

	route, err := o.router.Route(ctx, router.Request{
		Query:         req.Question,
		ExplicitTools: req.ExplicitTools,
		Elevated:      req.Elevated,
	})
	if err != nil {
		metrics.RecordQuery("error", time.Since(start))
		return nil, err
	}

	resp := &QueryResponse{
		QueryID:         uuid.NewString(),
		Question:        req.Question,
		DetectedIntents: route.DetectedIntents,
		AvailableTools:  len(route.Tools),
	}

	calls, err := o.drafts.Draft(ctx, req.Question, route.Tools)
	if err != nil {
		metrics.RecordQuery("error", time.Since(start))
		return nil, err
	}

	pref, err := o.prefs.Get(ctx, req.UserID)
	if err != nil {
		o.logger.Warn("preference lookup failed, using defaults",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
	}
	if pref == nil {
		pref = &UserPreference{UserID: req.UserID}
	}

	for _, call := range calls {
		draft, err := o.gateDraft(ctx, req, resp.QueryID, route, pref, call)
		if err != nil {
			metrics.RecordQuery("error", time.Since(start))
			return nil, err
		}
		resp.Drafts = append(resp.Drafts, draft)
	}

	metrics.RecordQuery("ok", time.Since(start))
	return resp, nil
}

func (o *Orchestrator) gateDraft(ctx context.Context, req *QueryRequest, queryID string, route *router.Result, pref *UserPreference, call ToolCall) (DraftResult, error) {
	in := &scoring.Input{
		Question: req.Question,
		UserID:   req.UserID,
		ToolName: call.ToolName,
		Params:   call.Params,
	}
	serviceName := ""
	if cand := route.Find(call.ToolName); cand != nil {
		in.Schema = cand.Tool.Parameters
		in.ElevatedRisk = cand.ElevatedRisk
		serviceName = cand.Service
	}

	assessment := o.scorer.Assess(ctx, in)

	if !assessment.Blocked && pref.blocks(call.ToolName) {
		assessment.Blocked = true
		assessment.RequiresConfirmation = false
		assessment.Score = 1.0
		assessment.Level = scoring.RiskHigh
		assessment.Reasons = append([]string{"tool is blocked by user preference"}, assessment.Reasons...)
	}
	if !assessment.Blocked {
		if pref.RiskThreshold > 0 {
			assessment.RequiresConfirmation = assessment.ForceConfirm ||
				assessment.Score >= pref.RiskThreshold
		}
		if assessment.RequiresConfirmation && !assessment.ForceConfirm &&
			pref.autoConfirms(call.ToolName) {
			assessment.RequiresConfirmation = false
		}
	}

	state := confirm.StateAutoApproved
	switch {
	case assessment.Blocked:
		state = confirm.StateBlocked
	case assessment.RequiresConfirmation:
		state = confirm.StatePending
	}

	rec := &confirm.Record{
		RequestID:    uuid.NewString(),
		UserID:       req.UserID,
		Question:     req.Question,
		ToolName:     call.ToolName,
		ServiceName:  serviceName,
		Params:       call.Params,
		RiskScore:    assessment.Score,
		RiskLevel:    string(assessment.Level),
		State:        state,
		AutoApproved: state == confirm.StateAutoApproved,
	}
	if state == confirm.StatePending {
		rec.Message = buildConfirmationMessage(call.ToolName, call.Params, assessment)
	}

	if err := o.confirmations.Create(ctx, rec); err != nil {
		return DraftResult{}, err
	}

	metrics.RecordRiskAssessment(string(assessment.Level), string(state), assessment.Score)
	o.writeEvent(rec, assessment)

	o.logger.Info("draft gated",
		zap.String("query_id", queryID),
		zap.String("request_id", rec.RequestID),
		zap.String("tool", call.ToolName),
		zap.Float64("risk_score", assessment.Score),
		zap.String("state", string(state)),
	)

	return DraftResult{
		RequestID:   rec.RequestID,
		ToolName:    call.ToolName,
		ServiceName: serviceName,
		Params:      call.Params,
		State:       state,
		Message:     rec.Message,
		Assessment:  assessment,
	}, nil
}

// Confirm applies a user decision to a pending request.
func (o *Orchestrator) Confirm(ctx context.Context, requestID string, confirmed bool, feedback string) (*confirm.Record, error) {
	rec, err := o.confirmations.Decide(ctx, requestID, confirmed, feedback)
	if err != nil {
		return nil, err
	}
	metrics.RecordConfirmation(string(rec.State))
	return rec, nil
}

// RecordExecution applies an execution report and feeds the result into
// the health monitor and per-service call statistics.
func (o *Orchestrator) RecordExecution(ctx context.Context, requestID string, success bool, duration time.Duration) (*confirm.Record, error) {
	rec, err := o.confirmations.RecordExecution(ctx, requestID, success)
	if err != nil {
		return nil, err
	}
	if rec.ServiceName != "" {
		o.monitor.ReportExecution(rec.ServiceName, success)
		o.stats.Record(rec.ServiceName, success, duration)
		status := "success"
		if !success {
			status = "failed"
		}
		metrics.RecordServiceCall(rec.ServiceName, status, duration)
	}
	return rec, nil
}

// History returns the user's terminal decisions, most recent first.
func (o *Orchestrator) History(ctx context.Context, userID, toolName string, limit int) ([]*history.Case, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apierror.Validation("user_id is required")
	}
	if limit <= 0 {
		limit = 50
	}
	return o.history.Store().ListByUser(ctx, userID, toolName, limit)
}

// ReloadRules atomically swaps in freshly loaded rule documents.
func (o *Orchestrator) ReloadRules() error {
	return o.rules.Reload()
}

// onTerminal runs once per terminal transition: it appends the outcome
// to the historical store and updates the user's approval counters.
func (o *Orchestrator) onTerminal(ctx context.Context, rec *confirm.Record) {
	decision := decisionFor(rec)
	outcome := outcomeFor(rec)

	c := &history.Case{
		ID:        uuid.NewString(),
		RequestID: rec.RequestID,
		UserID:    rec.UserID,
		Question:  rec.Question,
		ToolName:  rec.ToolName,
		Params:    rec.Params,
		RiskScore: rec.RiskScore,
		Decision:  decision,
		Outcome:   outcome,
		Feedback:  rec.Feedback,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.history.Append(ctx, c); err != nil {
		o.logger.Error("historical append failed",
			zap.String("request_id", rec.RequestID),
			zap.Error(err),
		)
	}

	pref, err := o.prefs.Get(ctx, rec.UserID)
	if err != nil {
		o.logger.Warn("preference lookup failed on terminal record", zap.Error(err))
		return
	}
	if pref == nil {
		pref = &UserPreference{UserID: rec.UserID}
	}
	pref.TotalDecisions++
	if decision == history.DecisionConfirmed || decision == history.DecisionAutoApproved {
		pref.ApprovedDecisions++
	}
	if err := o.prefs.Upsert(ctx, pref); err != nil {
		o.logger.Warn("preference update failed", zap.Error(err))
	}
}

func decisionFor(rec *confirm.Record) history.Decision {
	switch rec.State {
	case confirm.StateBlocked:
		return history.DecisionBlocked
	case confirm.StateRejected:
		return history.DecisionRejected
	case confirm.StateExpired:
		return history.DecisionExpired
	case confirm.StateExecuted, confirm.StateExecutionFailed:
		if rec.AutoApproved {
			return history.DecisionAutoApproved
		}
		return history.DecisionConfirmed
	}
	return history.DecisionConfirmed
}

func outcomeFor(rec *confirm.Record) history.Outcome {
	switch rec.State {
	case confirm.StateExecuted:
		return history.OutcomeExecuted
	case confirm.StateExecutionFailed:
		return history.OutcomeFailed
	}
	return history.OutcomeNone
}

func (o *Orchestrator) writeEvent(rec *confirm.Record, a *scoring.Assessment) {
	paramsJSON := ""
	if len(rec.Params) > 0 {
		if raw, err := json.Marshal(rec.Params); err == nil {
			paramsJSON = string(raw)
		}
	}
	o.events.Write(&storage.DecisionEvent{
		RequestID:    rec.RequestID,
		Timestamp:    time.Now().UTC(),
		UserID:       rec.UserID,
		Question:     rec.Question,
		ToolName:     rec.ToolName,
		ServiceName:  rec.ServiceName,
		ParamsJSON:   paramsJSON,
		RiskScore:    a.Score,
		RiskLevel:    string(a.Level),
		Decision:     string(rec.State),
		Outcome:      string(history.OutcomeNone),
		Reasons:      a.Reasons,
		SimilarCases: int32(a.SimilarCaseCount),
		LatencyMs:    float32(a.Elapsed.Milliseconds()),
	})
}
