package rules

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

const testRules = `{
  "rules": [
    {
      "rule_id": "r-prod-db",
      "name": "production database writes",
      "message": "writes against production databases require confirmation",
      "action": "force_confirm",
      "severity": 0.7,
      "condition": {
        "tool_name_pattern": "^(update|insert|write)_",
        "parameter_check": {"database": "prod"}
      }
    },
    {
      "rule_id": "r-exec",
      "name": "arbitrary command execution",
      "message": "arbitrary command execution is high risk",
      "action": "log",
      "severity": 0.9,
      "condition": {"tool_name_pattern": "execute|exec|eval"}
    }
  ]
}`

const testBlacklist = `{
  "blocked_tools": [
    {"tool_name": "^format_disk$", "reason": "disk formatting is never allowed"}
  ],
  "blocked_parameters": [
    {"pattern": "path=/tmp/.*", "reason": "bulk operations under /tmp are blocked"}
  ]
}`

func mustSet(t *testing.T) *Set {
	t.Helper()
	set, err := ParseSet([]byte(testRules), []byte(testBlacklist))
	if err != nil {
		t.Fatalf("parse set: %v", err)
	}
	return set
}

func TestCheck_BlacklistedTool(t *testing.T) {
	res := mustSet(t).Check("format_disk", nil)
	if !res.BlacklistHit || !res.Blocked {
		t.Fatalf("expected blacklist block, got %+v", res)
	}
	if res.MaxSeverity != 1.0 {
		t.Fatalf("blacklist severity = %v, want 1.0", res.MaxSeverity)
	}
}

func TestCheck_BlacklistedParameter(t *testing.T) {
	res := mustSet(t).Check("delete_file", map[string]any{"path": "/tmp/scratch"})
	if !res.BlacklistHit || !res.Blocked {
		t.Fatalf("expected parameter blacklist block, got %+v", res)
	}
	if len(res.Messages) == 0 {
		t.Fatal("expected a blacklist message")
	}
}

func TestCheck_ForceConfirmRule(t *testing.T) {
	res := mustSet(t).Check("update_records", map[string]any{"database": "prod-eu"})
	if res.Blocked {
		t.Fatal("force_confirm must not block")
	}
	if !res.ForceConfirm {
		t.Fatal("expected force_confirm")
	}
	if len(res.Matched) != 1 || res.Matched[0].RuleID != "r-prod-db" {
		t.Fatalf("unexpected matches: %+v", res.Matched)
	}
}

func TestCheck_ParameterConditionRequiresPresence(t *testing.T) {
	// Missing "database" parameter: the rule must not match.
	res := mustSet(t).Check("update_records", map[string]any{"table": "users"})
	if len(res.Matched) != 0 {
		t.Fatalf("expected no matches, got %+v", res.Matched)
	}
}

func TestCheck_SeverityIsMaxAcrossMatches(t *testing.T) {
	res := mustSet(t).Check("execute_shell", nil)
	if res.MaxSeverity != 0.9 {
		t.Fatalf("severity = %v, want 0.9", res.MaxSeverity)
	}
	if res.Blocked || res.ForceConfirm {
		t.Fatalf("log action must neither block nor force confirm: %+v", res)
	}
}

func TestParseSet_MalformedRuleFailsLoad(t *testing.T) {
	_, err := ParseSet([]byte(`{"rules":[{"rule_id":"bad","condition":{"tool_name_pattern":"("}}]}`), nil)
	if err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestParseSet_DuplicateRuleID(t *testing.T) {
	doc := `{"rules":[{"rule_id":"a","name":"x"},{"rule_id":"a","name":"y"}]}`
	if _, err := ParseSet([]byte(doc), nil); err == nil {
		t.Fatal("expected duplicate rule_id error")
	}
}

func TestEngine_ReloadKeepsPreviousSetOnFailure(t *testing.T) {
	logger := zap.NewNop()
	calls := 0
	loader := func() (*Set, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("disk gone")
		}
		return ParseSet([]byte(testRules), []byte(testBlacklist))
	}

	eng, err := NewEngine(loader, logger)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	// Previous set still active.
	if res := eng.Check("format_disk", nil); !res.Blocked {
		t.Fatal("previous set should remain active after failed reload")
	}
}

func TestEngine_InitialLoadFailureIsFatal(t *testing.T) {
	_, err := NewEngine(func() (*Set, error) { return nil, errors.New("corrupt") }, zap.NewNop())
	if err == nil {
		t.Fatal("expected initial load failure to surface")
	}
}
