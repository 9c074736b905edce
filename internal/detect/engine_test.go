package detect

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/APrinceGPT/procbench/internal/model"
	"github.com/APrinceGPT/procbench/internal/proctree"
	"github.com/APrinceGPT/procbench/internal/rules"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func compile(t *testing.T, defs ...rules.Rule) *rules.Set {
	t.Helper()
	set, err := rules.Compile(defs)
	require.NoError(t, err)
	return set
}

func evaluate(t *testing.T, set *rules.Set, records []*model.ProcessRecord) []model.Finding {
	t.Helper()
	engine := NewEngine(set, discardLogger(), WithWorkers(2))
	findings, err := engine.Evaluate(context.Background(), proctree.Build(records))
	require.NoError(t, err)
	return findings
}

func TestEvaluate_AndAcrossProcessAndEventFields(t *testing.T) {
	set := compile(t, rules.Rule{
		ID:       "encoded-powershell",
		Name:     "Encoded PowerShell",
		Severity: "high",
		Conditions: map[string]string{
			"process_name": "powershell.exe",
			"command_line": `.*-enc.*`,
		},
	})

	records := []*model.ProcessRecord{
		{PID: 1, Name: "powershell.exe", CommandLine: `powershell.exe -enc ZABpAHIA`},
		{PID: 2, Name: "powershell.exe", CommandLine: `powershell.exe -noprofile`},
		{PID: 3, Name: "cmd.exe", CommandLine: `cmd.exe -enc whatever`},
	}

	findings := evaluate(t, set, records)

	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, uint32(1), f.PID)
	assert.Equal(t, "encoded-powershell", f.RuleID)
	assert.Equal(t, model.SeverityHigh, f.Severity)
	assert.Equal(t, "powershell.exe", f.Matched["process_name"])
	assert.Contains(t, f.Matched["command_line"], "-enc")
	assert.NotEmpty(t, f.ID)
}

func TestEvaluate_EventSampleSatisfiesAnd(t *testing.T) {
	set := compile(t, rules.Rule{
		ID:       "ps-enc-path",
		Severity: "high",
		Conditions: map[string]string{
			"process_name":  "powershell.exe",
			"path_accessed": `.*-enc.*`,
		},
	})

	records := []*model.ProcessRecord{
		{PID: 1, Name: "powershell.exe", Files: []string{`C:\x\-Command.txt`, `C:\x\-enc-payload.bin`}},
		{PID: 2, Name: "powershell.exe", Files: []string{`C:\x\-Command.txt`}},
	}

	findings := evaluate(t, set, records)

	require.Len(t, findings, 1)
	assert.Equal(t, uint32(1), findings[0].PID)
	assert.Equal(t, `C:\x\-enc-payload.bin`, findings[0].Matched["path_accessed"])
}

func TestEvaluate_OrSemantics(t *testing.T) {
	set := compile(t, rules.Rule{
		ID:       "either",
		Severity: "medium",
		Operator: "OR",
		Conditions: map[string]string{
			"process_name": "mimikatz.exe",
			"command_line": `sekurlsa::.*`,
		},
	})

	records := []*model.ProcessRecord{
		{PID: 1, Name: "renamed.exe", CommandLine: `renamed.exe "sekurlsa::logonpasswords"`},
		{PID: 2, Name: "mimikatz.exe"},
		{PID: 3, Name: "notepad.exe", CommandLine: "notepad.exe doc.txt"},
	}

	findings := evaluate(t, set, records)

	require.Len(t, findings, 2)
	assert.Equal(t, uint32(1), findings[0].PID)
	assert.Equal(t, uint32(2), findings[1].PID)
	// Only the condition that actually matched is reported.
	assert.NotContains(t, findings[1].Matched, "command_line")
}

func TestEvaluate_RelationshipNeedsEdge(t *testing.T) {
	set := compile(t, rules.Rule{
		ID:       "office-spawns-shell",
		Severity: "high",
		Conditions: map[string]string{
			"parent_process": "winword.exe",
			"child_process":  "cmd.exe",
		},
	})

	records := []*model.ProcessRecord{
		{PID: 10, Name: "winword.exe"},
		{PID: 20, Name: "cmd.exe", ParentPID: 10, HasParent: true},
		// Same names, no edge between them.
		{PID: 30, Name: "winword.exe"},
		{PID: 40, Name: "cmd.exe", ParentPID: 9999, HasParent: true},
	}

	findings := evaluate(t, set, records)

	require.Len(t, findings, 1)
	assert.Equal(t, uint32(20), findings[0].PID)
	assert.Equal(t, "winword.exe", findings[0].Matched["parent_process"])
	assert.Equal(t, "cmd.exe", findings[0].Matched["child_process"])
}

func TestEvaluate_UnexpectedParent(t *testing.T) {
	set := compile(t, rules.Rule{
		ID:        "svchost-masquerade",
		Severity:  "medium",
		MatchType: "regex",
		Conditions: map[string]string{
			"process_name":    `^svchost\.exe$`,
			"expected_parent": `^services\.exe$`,
		},
	})

	records := []*model.ProcessRecord{
		{PID: 1, Name: "services.exe"},
		{PID: 2, Name: "winword.exe"},
		// Legitimate: under services.exe.
		{PID: 10, Name: "svchost.exe", ParentPID: 1, HasParent: true},
		// Masquerading: under winword.exe.
		{PID: 20, Name: "svchost.exe", ParentPID: 2, HasParent: true},
		// No resolved parent: nothing to judge.
		{PID: 30, Name: "svchost.exe"},
	}

	findings := evaluate(t, set, records)

	require.Len(t, findings, 1)
	assert.Equal(t, uint32(20), findings[0].PID)
	assert.Equal(t, "winword.exe", findings[0].Matched["expected_parent"])
}

func TestEvaluate_EventLevelFields(t *testing.T) {
	set := compile(t,
		rules.Rule{
			ID:       "sam-read",
			Severity: "critical",
			Conditions: map[string]string{
				"path_accessed": `\\config\\sam$`,
			},
			MatchType: "regex",
		},
		rules.Rule{
			ID:       "run-key",
			Severity: "medium",
			Conditions: map[string]string{
				"registry_key": `\\CurrentVersion\\Run`,
			},
			MatchType: "regex",
		},
		rules.Rule{
			ID:       "delete-op",
			Severity: "low",
			Conditions: map[string]string{
				"operation": "DeleteFile",
			},
		},
	)

	records := []*model.ProcessRecord{
		{
			PID: 1, Name: "procdump.exe",
			Files: []string{`C:\Windows\System32\config\SAM`},
		},
		{
			PID: 2, Name: "installer.exe",
			RegistryKeys: []string{`HKCU\Software\Microsoft\Windows\CurrentVersion\Run\svc`},
			Operations:   []string{"RegSetValue", "DeleteFile"},
		},
	}

	findings := evaluate(t, set, records)

	require.Len(t, findings, 3)
	assert.Equal(t, "sam-read", findings[0].RuleID)
	assert.Equal(t, uint32(1), findings[0].PID)
	assert.Equal(t, "delete-op", findings[1].RuleID)
	assert.Equal(t, uint32(2), findings[1].PID)
	assert.Equal(t, "run-key", findings[2].RuleID)
}

func TestEvaluate_MissingFieldNeverMatches(t *testing.T) {
	and := compile(t, rules.Rule{
		ID:       "needs-cmdline",
		Severity: "low",
		Conditions: map[string]string{
			"process_name": "cmd.exe",
			"command_line": "whoami",
		},
	})
	records := []*model.ProcessRecord{{PID: 1, Name: "cmd.exe"}} // no command line

	assert.Empty(t, evaluate(t, and, records))

	or := compile(t, rules.Rule{
		ID:       "needs-either",
		Severity: "low",
		Operator: "OR",
		Conditions: map[string]string{
			"process_name": "cmd.exe",
			"command_line": "whoami",
		},
	})
	findings := evaluate(t, or, records)
	require.Len(t, findings, 1)
	assert.Equal(t, "cmd.exe", findings[0].Matched["process_name"])
}

func TestEvaluate_Deterministic(t *testing.T) {
	set := compile(t,
		rules.Rule{ID: "b-rule", Severity: "low", Conditions: map[string]string{"process_name": "a.exe"}},
		rules.Rule{ID: "a-rule", Severity: "low", Conditions: map[string]string{"process_name": "a.exe"}},
	)

	records := make([]*model.ProcessRecord, 0, 50)
	for i := 0; i < 50; i++ {
		records = append(records, &model.ProcessRecord{PID: uint32(i + 1), Name: "a.exe"})
	}

	extract := func(fs []model.Finding) [][2]interface{} {
		out := make([][2]interface{}, 0, len(fs))
		for _, f := range fs {
			out = append(out, [2]interface{}{f.PID, f.RuleID})
		}
		return out
	}

	first := extract(evaluate(t, set, records))
	require.Len(t, first, 100)
	// Within one node, rules fire in ID order.
	assert.Equal(t, "a-rule", first[0][1])
	assert.Equal(t, "b-rule", first[1][1])

	for i := 0; i < 5; i++ {
		assert.Equal(t, first, extract(evaluate(t, set, records)))
	}
}

func TestEvaluate_Cancellation(t *testing.T) {
	set := compile(t, rules.Rule{ID: "r", Severity: "low",
		Conditions: map[string]string{"process_name": "a.exe"}})

	records := []*model.ProcessRecord{{PID: 1, Name: "a.exe"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewEngine(set, discardLogger())
	findings, err := engine.Evaluate(ctx, proctree.Build(records))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, findings)
}

func TestEvaluate_EmptyInputs(t *testing.T) {
	set := compile(t, rules.Rule{ID: "r", Severity: "low",
		Conditions: map[string]string{"process_name": "a.exe"}})
	engine := NewEngine(set, discardLogger())

	findings, err := engine.Evaluate(context.Background(), proctree.Build(nil))
	require.NoError(t, err)
	assert.Empty(t, findings)
}
