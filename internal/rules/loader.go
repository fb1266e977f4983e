package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync/atomic"
)

// atomicSet wraps atomic.Pointer so the zero Engine value is unusable by
// accident rather than nil-dereferencing at check time.
type atomicSet struct {
	p atomic.Pointer[Set]
}

func (a *atomicSet) load() *Set   { return a.p.Load() }
func (a *atomicSet) store(s *Set) { a.p.Store(s) }

// ruleFile is the on-disk shape of the rules document.
type ruleFile struct {
	Rules []ruleSpec `json:"rules"`
}

type ruleSpec struct {
	RuleID    string        `json:"rule_id"`
	Name      string        `json:"name"`
	Message   string        `json:"message"`
	Action    string        `json:"action"`
	Severity  float64       `json:"severity"`
	Condition conditionSpec `json:"condition"`
}

type conditionSpec struct {
	ToolNamePattern string            `json:"tool_name_pattern"`
	ParameterCheck  map[string]string `json:"parameter_check"`
}

// blacklistFile is the on-disk shape of the blacklist document.
type blacklistFile struct {
	BlockedTools []struct {
		ToolName string `json:"tool_name"`
		Reason   string `json:"reason"`
	} `json:"blocked_tools"`
	BlockedParameters []struct {
		Pattern       string `json:"pattern"`
		CaseSensitive bool   `json:"case_sensitive"`
		Reason        string `json:"reason"`
	} `json:"blocked_parameters"`
}

// FileLoader returns a loader that reads and compiles the rule documents at
// the given paths. Either path may be empty, yielding an empty section.
func FileLoader(rulesPath, blacklistPath string) func() (*Set, error) {
	return func() (*Set, error) {
		set := &Set{}

		if rulesPath != "" {
			raw, err := os.ReadFile(rulesPath)
			if err != nil {
				return nil, fmt.Errorf("read rules file: %w", err)
			}
			var rf ruleFile
			if err := json.Unmarshal(raw, &rf); err != nil {
				return nil, fmt.Errorf("parse rules file: %w", err)
			}
			rules, err := compileRules(rf.Rules)
			if err != nil {
				return nil, err
			}
			set.rules = rules
		}

		if blacklistPath != "" {
			raw, err := os.ReadFile(blacklistPath)
			if err != nil {
				return nil, fmt.Errorf("read blacklist file: %w", err)
			}
			var bf blacklistFile
			if err := json.Unmarshal(raw, &bf); err != nil {
				return nil, fmt.Errorf("parse blacklist file: %w", err)
			}
			if err := compileBlacklist(set, bf); err != nil {
				return nil, err
			}
		}

		return set, nil
	}
}

// ParseSet compiles a rule set from raw JSON documents. Used by tests and by
// callers that keep rule documents somewhere other than local files.
func ParseSet(rulesJSON, blacklistJSON []byte) (*Set, error) {
	set := &Set{}
	if len(rulesJSON) > 0 {
		var rf ruleFile
		if err := json.Unmarshal(rulesJSON, &rf); err != nil {
			return nil, fmt.Errorf("parse rules: %w", err)
		}
		rules, err := compileRules(rf.Rules)
		if err != nil {
			return nil, err
		}
		set.rules = rules
	}
	if len(blacklistJSON) > 0 {
		var bf blacklistFile
		if err := json.Unmarshal(blacklistJSON, &bf); err != nil {
			return nil, fmt.Errorf("parse blacklist: %w", err)
		}
		if err := compileBlacklist(set, bf); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func compileRules(specs []ruleSpec) ([]Rule, error) {
	seen := make(map[string]bool, len(specs))
	rules := make([]Rule, 0, len(specs))
	for _, spec := range specs {
		if spec.RuleID == "" {
			return nil, fmt.Errorf("rule %q: missing rule_id", spec.Name)
		}
		if seen[spec.RuleID] {
			return nil, fmt.Errorf("rule %s: duplicate rule_id", spec.RuleID)
		}
		seen[spec.RuleID] = true

		action := Action(spec.Action)
		switch action {
		case "":
			action = ActionLog
		case ActionLog, ActionForceConfirm, ActionBlock:
		default:
			return nil, fmt.Errorf("rule %s: unknown action %q", spec.RuleID, spec.Action)
		}

		severity := spec.Severity
		if severity < 0 || severity > 1 {
			return nil, fmt.Errorf("rule %s: severity %v out of [0,1]", spec.RuleID, severity)
		}
		if severity == 0 {
			severity = 0.5
		}

		r := Rule{
			ID:       spec.RuleID,
			Name:     spec.Name,
			Message:  spec.Message,
			Action:   action,
			Severity: severity,
		}
		if r.Message == "" {
			r.Message = "matched rule: " + spec.Name
		}

		if spec.Condition.ToolNamePattern != "" {
			re, err := regexp.Compile("(?i)" + spec.Condition.ToolNamePattern)
			if err != nil {
				return nil, fmt.Errorf("rule %s: tool_name_pattern: %w", spec.RuleID, err)
			}
			r.toolName = re
		}
		if len(spec.Condition.ParameterCheck) > 0 {
			r.params = make(map[string]*regexp.Regexp, len(spec.Condition.ParameterCheck))
			for name, pattern := range spec.Condition.ParameterCheck {
				re, err := regexp.Compile("(?i)" + pattern)
				if err != nil {
					return nil, fmt.Errorf("rule %s: parameter_check[%s]: %w", spec.RuleID, name, err)
				}
				r.params[name] = re
			}
		}

		rules = append(rules, r)
	}
	return rules, nil
}

func compileBlacklist(set *Set, bf blacklistFile) error {
	for _, bt := range bf.BlockedTools {
		if bt.ToolName == "" {
			return fmt.Errorf("blacklist: blocked tool with empty tool_name")
		}
		re, err := regexp.Compile(bt.ToolName)
		if err != nil {
			return fmt.Errorf("blacklist: tool_name %q: %w", bt.ToolName, err)
		}
		reason := bt.Reason
		if reason == "" {
			reason = "tool is disabled"
		}
		set.blockedTools = append(set.blockedTools, BlockedTool{pattern: re, Reason: reason})
	}
	for _, bp := range bf.BlockedParameters {
		pattern := bp.Pattern
		if pattern == "" {
			return fmt.Errorf("blacklist: blocked parameter with empty pattern")
		}
		if !bp.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("blacklist: parameter pattern %q: %w", bp.Pattern, err)
		}
		reason := bp.Reason
		if reason == "" {
			reason = "parameter contains sensitive content"
		}
		set.blockedParams = append(set.blockedParams, BlockedParameter{pattern: re, Reason: reason})
	}
	return nil
}
