// Package rules defines the detection rule schema, the built-in rule
// catalog, and the compiler that turns rule documents into executable
// matchers.
package rules

import "fmt"

// Field names a condition may reference. The set is closed so the compiler
// can validate every rule exhaustively at load time instead of failing at
// evaluation.
type Field string

const (
	FieldProcessName   Field = "process_name"
	FieldProcessPath   Field = "process_path"
	FieldCommandLine   Field = "command_line"
	FieldParentProcess Field = "parent_process"
	FieldChildProcess  Field = "child_process"
	// FieldExpectedParent is a negated parent match: the condition holds
	// when the process HAS a parent and that parent does NOT match the
	// pattern. A process with no resolved parent never matches.
	FieldExpectedParent Field = "expected_parent"
	FieldOperation      Field = "operation"
	FieldPathAccessed   Field = "path_accessed"
	FieldRegistryKey    Field = "registry_key"
)

var knownFields = map[Field]bool{
	FieldProcessName:    true,
	FieldProcessPath:    true,
	FieldCommandLine:    true,
	FieldParentProcess:  true,
	FieldChildProcess:   true,
	FieldExpectedParent: true,
	FieldOperation:      true,
	FieldPathAccessed:   true,
	FieldRegistryKey:    true,
}

// Relationship reports whether the field spans a parent/child edge rather
// than a single process.
func (f Field) Relationship() bool {
	return f == FieldParentProcess || f == FieldChildProcess || f == FieldExpectedParent
}

// EventLevel reports whether the field matches against a process's events
// rather than the process record itself.
func (f Field) EventLevel() bool {
	return f == FieldOperation || f == FieldPathAccessed || f == FieldRegistryKey
}

// Operators combining a rule's conditions.
const (
	OperatorAnd = "AND"
	OperatorOr  = "OR"
)

// Match types a rule may declare for its condition values. When absent the
// compiler applies the documented metacharacter heuristic (see MatchType in
// compile.go).
const (
	MatchLiteral = "literal"
	MatchRegex   = "regex"
	MatchAuto    = ""
)

// Rule is one declarative detection rule as authored in YAML or produced by
// the built-in catalog. Immutable after compilation.
type Rule struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Severity    string `yaml:"severity" json:"severity"`
	// Enabled defaults to true when the document omits it.
	Enabled        *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Conditions     map[string]string `yaml:"conditions" json:"conditions"`
	Operator       string            `yaml:"operator,omitempty" json:"operator,omitempty"`
	MatchType      string            `yaml:"match_type,omitempty" json:"match_type,omitempty"`
	Tags           []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	MitreTechnique string            `yaml:"mitre_technique,omitempty" json:"mitre_technique,omitempty"`
	Category       string            `yaml:"-" json:"category,omitempty"`
	SourceFile     string            `yaml:"-" json:"source_file,omitempty"`
}

// IsEnabled resolves the enabled flag with its default.
func (r *Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// RuleErrorKind classifies rule compilation failures.
type RuleErrorKind int

const (
	MissingID RuleErrorKind = iota
	DuplicateID
	MissingCondition
	UnknownField
	UnknownSeverity
	InvalidPattern
	InvalidOperator
	InvalidMatchType
)

func (k RuleErrorKind) String() string {
	switch k {
	case MissingID:
		return "missing id"
	case DuplicateID:
		return "duplicate id"
	case MissingCondition:
		return "missing condition"
	case UnknownField:
		return "unknown field"
	case UnknownSeverity:
		return "unknown severity"
	case InvalidPattern:
		return "invalid pattern"
	case InvalidOperator:
		return "invalid operator"
	case InvalidMatchType:
		return "invalid match type"
	}
	return "unknown"
}

// RuleError reports why a rule failed to compile. Condition names the
// offending condition field when one is responsible.
type RuleError struct {
	Kind      RuleErrorKind
	RuleID    string
	Condition string
	Err       error
}

func (e *RuleError) Error() string {
	msg := fmt.Sprintf("rule %q: %s", e.RuleID, e.Kind)
	if e.Condition != "" {
		msg += fmt.Sprintf(" (condition %q)", e.Condition)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RuleError) Unwrap() error { return e.Err }
