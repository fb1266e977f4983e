// Package rules implements the deterministic rule engine: a blacklist plus a
// set of pattern rules evaluated against every tool-call draft. Rule sets are
// immutable once loaded; a reload swaps the whole set atomically.
package rules

import (
	"fmt"
	"regexp"
	"sort"

	"go.uber.org/zap"
)

// Action is what a matched rule asks the scorer to do.
type Action string

const (
	// ActionLog records the match as a risk signal only.
	ActionLog Action = "log"

	// ActionForceConfirm requires user confirmation regardless of the fused score.
	ActionForceConfirm Action = "force_confirm"

	// ActionBlock blocks the draft outright.
	ActionBlock Action = "block"
)

// Rule is a compiled pattern rule.
type Rule struct {
	ID       string
	Name     string
	Message  string
	Action   Action
	Severity float64 // contribution to the rule signal, [0,1]

	toolName *regexp.Regexp            // nil = any tool
	params   map[string]*regexp.Regexp // all must match; key = parameter name
}

// BlockedTool is a blacklist entry matched against the tool name.
type BlockedTool struct {
	pattern *regexp.Regexp
	Reason  string
}

// BlockedParameter is a blacklist entry matched against "name=value" pairs.
type BlockedParameter struct {
	pattern *regexp.Regexp
	Reason  string
}

// Set is an immutable compiled rule set.
type Set struct {
	rules         []Rule
	blockedTools  []BlockedTool
	blockedParams []BlockedParameter
}

// NumRules returns the number of pattern rules in the set.
func (s *Set) NumRules() int { return len(s.rules) }

// NumBlacklistEntries returns the number of blacklist entries in the set.
func (s *Set) NumBlacklistEntries() int { return len(s.blockedTools) + len(s.blockedParams) }

// Match is one matched rule with its rendered message.
type Match struct {
	RuleID   string
	Name     string
	Message  string
	Action   Action
	Severity float64
}

// CheckResult is the outcome of evaluating a draft against the set.
type CheckResult struct {
	BlacklistHit bool
	Blocked      bool
	ForceConfirm bool
	Matched      []Match
	Messages     []string
	// MaxSeverity is the highest severity among matched rules, 1.0 on a
	// blacklist hit, 0 when nothing matched.
	MaxSeverity float64
}

// Check evaluates the tool name and parameters against the blacklist and all
// rules. Blacklist hits short-circuit: the draft is blocked unconditionally.
func (s *Set) Check(toolName string, params map[string]any) CheckResult {
	var res CheckResult

	for _, bt := range s.blockedTools {
		if bt.pattern.MatchString(toolName) {
			res.BlacklistHit = true
			res.Blocked = true
			res.MaxSeverity = 1.0
			res.Messages = append(res.Messages, "blacklisted tool: "+bt.Reason)
			return res
		}
	}

	// Parameter blacklist matches against "name=value" so a pattern can
	// constrain either side, mirroring how rules are authored.
	paramKeys := sortedKeys(params)
	for _, bp := range s.blockedParams {
		for _, k := range paramKeys {
			pair := fmt.Sprintf("%s=%v", k, params[k])
			if bp.pattern.MatchString(pair) {
				res.BlacklistHit = true
				res.Blocked = true
				res.MaxSeverity = 1.0
				res.Messages = append(res.Messages, "blacklisted parameter: "+bp.Reason)
				return res
			}
		}
	}

	for _, r := range s.rules {
		if !r.matches(toolName, params) {
			continue
		}
		res.Matched = append(res.Matched, Match{
			RuleID:   r.ID,
			Name:     r.Name,
			Message:  r.Message,
			Action:   r.Action,
			Severity: r.Severity,
		})
		if r.Severity > res.MaxSeverity {
			res.MaxSeverity = r.Severity
		}
		switch r.Action {
		case ActionBlock:
			res.Blocked = true
		case ActionForceConfirm:
			res.ForceConfirm = true
		}
		res.Messages = append(res.Messages, r.Message)
	}

	return res
}

func (r *Rule) matches(toolName string, params map[string]any) bool {
	if r.toolName != nil && !r.toolName.MatchString(toolName) {
		return false
	}
	for name, pattern := range r.params {
		v, ok := params[name]
		if !ok {
			return false
		}
		if !pattern.MatchString(fmt.Sprintf("%v", v)) {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Engine holds the active rule set and supports atomic reload.
type Engine struct {
	loader func() (*Set, error)
	active atomicSet
	logger *zap.Logger
}

// NewEngine loads the initial rule set via loader. A load failure here is
// fatal to the caller: a corrupt rule set must fail startup, not requests.
func NewEngine(loader func() (*Set, error), logger *zap.Logger) (*Engine, error) {
	set, err := loader()
	if err != nil {
		return nil, fmt.Errorf("rules: initial load: %w", err)
	}
	e := &Engine{loader: loader, logger: logger}
	e.active.store(set)
	logger.Info("rule engine loaded",
		zap.Int("rules", set.NumRules()),
		zap.Int("blacklist_entries", set.NumBlacklistEntries()),
	)
	return e, nil
}

// Check evaluates the draft against the currently active set.
func (e *Engine) Check(toolName string, params map[string]any) CheckResult {
	return e.active.load().Check(toolName, params)
}

// Reload loads a fresh set and swaps it in. On failure the previous set
// stays active.
func (e *Engine) Reload() error {
	set, err := e.loader()
	if err != nil {
		e.logger.Error("rule reload failed, keeping previous set", zap.Error(err))
		return fmt.Errorf("rules: reload: %w", err)
	}
	e.active.store(set)
	e.logger.Info("rule set reloaded",
		zap.Int("rules", set.NumRules()),
		zap.Int("blacklist_entries", set.NumBlacklistEntries()),
	)
	return nil
}
