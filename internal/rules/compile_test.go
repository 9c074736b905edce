package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/APrinceGPT/procbench/internal/model"
)

func validRule(id string) Rule {
	return Rule{
		ID:         id,
		Name:       "rule " + id,
		Severity:   "high",
		Conditions: map[string]string{"process_name": "cmd.exe"},
	}
}

func TestCompile_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		defs      []Rule
		kind      RuleErrorKind
		condition string
	}{
		{
			name: "missing id",
			defs: []Rule{{Name: "anonymous", Severity: "low",
				Conditions: map[string]string{"process_name": "x"}}},
			kind: MissingID,
		},
		{
			name: "duplicate id",
			defs: []Rule{validRule("r1"), validRule("r1")},
			kind: DuplicateID,
		},
		{
			name: "no conditions",
			defs: []Rule{{ID: "r1", Severity: "low"}},
			kind: MissingCondition,
		},
		{
			name: "unknown field",
			defs: []Rule{{ID: "r1", Severity: "low",
				Conditions: map[string]string{"hostname": "x"}}},
			kind:      UnknownField,
			condition: "hostname",
		},
		{
			name: "unknown severity",
			defs: []Rule{{ID: "r1", Severity: "catastrophic",
				Conditions: map[string]string{"process_name": "x"}}},
			kind: UnknownSeverity,
		},
		{
			name: "invalid regex",
			defs: []Rule{{ID: "r1", Severity: "low", MatchType: MatchRegex,
				Conditions: map[string]string{"command_line": "(unclosed"}}},
			kind:      InvalidPattern,
			condition: "command_line",
		},
		{
			name: "invalid operator",
			defs: []Rule{{ID: "r1", Severity: "low", Operator: "XOR",
				Conditions: map[string]string{"process_name": "x"}}},
			kind: InvalidOperator,
		},
		{
			name: "invalid match type",
			defs: []Rule{{ID: "r1", Severity: "low", MatchType: "fuzzy",
				Conditions: map[string]string{"process_name": "x"}}},
			kind: InvalidMatchType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.defs)
			require.Error(t, err)

			var re *RuleError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.kind, re.Kind)
			if tt.condition != "" {
				assert.Equal(t, tt.condition, re.Condition)
			}
		})
	}
}

func TestCompile_MatchTypeHeuristic(t *testing.T) {
	tests := []struct {
		pattern string
		regex   bool
	}{
		{"cmd.exe", false}, // a bare dot stays literal
		{"powershell.exe", false},
		{`.*-enc.*`, true},
		{`(a|b)`, true},
		{`C:\\Temp`, true},
		{`^start`, true},
		{"plainword", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			set, err := Compile([]Rule{{ID: "r", Severity: "low",
				Conditions: map[string]string{"command_line": tt.pattern}}})
			require.NoError(t, err)
			assert.Equal(t, tt.regex, set.All()[0].Conditions[0].Regex)
		})
	}
}

func TestCompile_ExplicitMatchTypeOverridesHeuristic(t *testing.T) {
	set, err := Compile([]Rule{{ID: "r", Severity: "low", MatchType: MatchLiteral,
		Conditions: map[string]string{"command_line": "a+b"}}})
	require.NoError(t, err)

	cond := set.All()[0].Conditions[0]
	assert.False(t, cond.Regex)
	assert.True(t, cond.Match("A+B"))
	assert.False(t, cond.Match("aab"))
}

func TestCondition_MatchSemantics(t *testing.T) {
	set, err := Compile([]Rule{
		{ID: "lit", Severity: "low", Conditions: map[string]string{"process_name": "cmd.exe"}},
		{ID: "re", Severity: "low", Conditions: map[string]string{"command_line": `.*-enc.*`}},
	})
	require.NoError(t, err)

	var lit, re Condition
	for _, r := range set.All() {
		if r.ID == "lit" {
			lit = r.Conditions[0]
		} else {
			re = r.Conditions[0]
		}
	}

	// Literal: case-insensitive whole-value comparison.
	assert.True(t, lit.Match("CMD.EXE"))
	assert.False(t, lit.Match("not-cmd.exe"))
	assert.False(t, lit.Match(""))

	// Regex: case-insensitive substring search.
	assert.True(t, re.Match(`powershell.exe -ENC ZAB=`))
	assert.False(t, re.Match(`powershell.exe -nop`))
}

func TestCompile_SortsByID(t *testing.T) {
	set, err := Compile([]Rule{validRule("zzz"), validRule("aaa"), validRule("mmm")})
	require.NoError(t, err)

	ids := make([]string, 0, set.Len())
	for _, r := range set.All() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"aaa", "mmm", "zzz"}, ids)
}

func TestSet_EnabledExcludesDisabled(t *testing.T) {
	off := false
	disabled := validRule("off")
	disabled.Enabled = &off

	set, err := Compile([]Rule{validRule("on"), disabled})
	require.NoError(t, err)

	assert.Equal(t, 2, set.Len())
	require.Len(t, set.Enabled(), 1)
	assert.Equal(t, "on", set.Enabled()[0].ID)
}

func TestCompile_RelationshipFlag(t *testing.T) {
	set, err := Compile([]Rule{{ID: "rel", Severity: "high", Conditions: map[string]string{
		"parent_process": "winword.exe",
		"child_process":  "cmd.exe",
	}}})
	require.NoError(t, err)

	r := set.All()[0]
	assert.True(t, r.Relationship)
	assert.Equal(t, model.SeverityHigh, r.Severity)
	require.Len(t, r.Conditions, 2)
	// Conditions sort by field name.
	assert.Equal(t, FieldChildProcess, r.Conditions[0].Field)
	assert.Equal(t, FieldParentProcess, r.Conditions[1].Field)
}

func TestBuiltin_Compiles(t *testing.T) {
	set, err := Compile(Builtin())
	require.NoError(t, err)
	assert.Greater(t, set.Len(), 100)
	assert.Equal(t, set.Len(), len(set.Enabled()))
}

func TestBuiltin_SuspiciousPathMatches(t *testing.T) {
	set, err := Compile(Builtin())
	require.NoError(t, err)

	var tempRule *CompiledRule
	for _, r := range set.All() {
		if r.ID == "suspicious-path:temp-exe" {
			tempRule = r
		}
	}
	require.NotNil(t, tempRule)

	cond := tempRule.Conditions[0]
	assert.True(t, cond.Match(`C:\Users\a\AppData\Local\Temp\payload.exe`))
	assert.False(t, cond.Match(`C:\Program Files\app\app.exe`))
}

func TestCompile_ExpectedParentField(t *testing.T) {
	set, err := Compile([]Rule{{ID: "mp", Severity: "medium", MatchType: "regex", Conditions: map[string]string{
		"process_name":    `^lsass\.exe$`,
		"expected_parent": `^wininit\.exe$`,
	}}})
	require.NoError(t, err)

	r := set.All()[0]
	assert.True(t, r.Relationship)
	assert.Equal(t, FieldExpectedParent, r.Conditions[0].Field)
}

func TestBuiltin_UnexpectedParentRules(t *testing.T) {
	set, err := Compile(Builtin())
	require.NoError(t, err)

	var svc *CompiledRule
	for _, r := range set.All() {
		if r.ID == "unexpected-parent:svchost" {
			svc = r
		}
	}
	require.NotNil(t, svc)
	assert.Equal(t, model.SeverityMedium, svc.Severity)

	var parentCond *Condition
	for i := range svc.Conditions {
		if svc.Conditions[i].Field == FieldExpectedParent {
			parentCond = &svc.Conditions[i]
		}
	}
	require.NotNil(t, parentCond)
	// The pattern names the legitimate parent; the engine inverts it.
	assert.True(t, parentCond.Match("services.exe"))
	assert.False(t, parentCond.Match("winword.exe"))
}
