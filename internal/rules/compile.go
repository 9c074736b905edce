package rules

import (
	"regexp"
	"sort"
	"strings"

	"github.com/APrinceGPT/procbench/internal/model"
)

// regexMeta is the metacharacter set the auto heuristic sniffs for. A bare
// dot is deliberately excluded so plain file names like cmd.exe stay
// literal; authors who need a lone-dot regex set match_type explicitly.
const regexMeta = `*+?()[]{}|^$\`

// Condition is one compiled field matcher.
type Condition struct {
	Field   Field
	Pattern string
	Regex   bool

	re      *regexp.Regexp
	literal string
}

// Match tests a single field value. Literal conditions compare
// case-insensitively; regex conditions search anywhere in the value.
func (c *Condition) Match(value string) bool {
	if value == "" {
		return false
	}
	if c.re != nil {
		return c.re.MatchString(value)
	}
	return strings.EqualFold(value, c.literal)
}

// CompiledRule is a Rule plus its pre-compiled matchers. Built once and
// shared read-only across evaluation workers.
type CompiledRule struct {
	Rule
	Severity     model.Severity
	Or           bool
	Relationship bool
	Conditions   []Condition
}

// Set is an immutable compiled rule set. Disabled rules are compiled but
// excluded from Enabled until re-enabled and recompiled.
type Set struct {
	rules []*CompiledRule
}

// Compile validates and compiles every rule. Any invalid rule fails the
// whole compilation so a bad rule set never produces a partially-evaluated
// result. Compilation is deterministic, idempotent, and side-effect-free.
func Compile(defs []Rule) (*Set, error) {
	seen := make(map[string]bool, len(defs))
	out := make([]*CompiledRule, 0, len(defs))

	for i := range defs {
		def := defs[i]
		if strings.TrimSpace(def.ID) == "" {
			return nil, &RuleError{Kind: MissingID, RuleID: def.Name}
		}
		if seen[def.ID] {
			return nil, &RuleError{Kind: DuplicateID, RuleID: def.ID}
		}
		seen[def.ID] = true

		cr, err := compileOne(def)
		if err != nil {
			return nil, err
		}
		out = append(out, cr)
	}

	// Stable order regardless of catalog/file ordering; evaluation must not
	// depend on it, but deterministic output makes runs comparable.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return &Set{rules: out}, nil
}

func compileOne(def Rule) (*CompiledRule, error) {
	if len(def.Conditions) == 0 {
		return nil, &RuleError{Kind: MissingCondition, RuleID: def.ID}
	}
	sev, ok := model.ParseSeverity(def.Severity)
	if !ok {
		return nil, &RuleError{Kind: UnknownSeverity, RuleID: def.ID}
	}

	var or bool
	switch strings.ToUpper(strings.TrimSpace(def.Operator)) {
	case "", OperatorAnd:
	case OperatorOr:
		or = true
	default:
		return nil, &RuleError{Kind: InvalidOperator, RuleID: def.ID}
	}

	switch def.MatchType {
	case MatchAuto, MatchLiteral, MatchRegex:
	default:
		return nil, &RuleError{Kind: InvalidMatchType, RuleID: def.ID}
	}

	cr := &CompiledRule{Rule: def, Severity: sev, Or: or}

	// Deterministic condition order.
	names := make([]string, 0, len(def.Conditions))
	for name := range def.Conditions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := Field(strings.ToLower(strings.TrimSpace(name)))
		if !knownFields[field] {
			return nil, &RuleError{Kind: UnknownField, RuleID: def.ID, Condition: name}
		}
		if field.Relationship() {
			cr.Relationship = true
		}

		pattern := def.Conditions[name]
		cond := Condition{Field: field, Pattern: pattern}
		switch def.MatchType {
		case MatchRegex:
			cond.Regex = true
		case MatchLiteral:
			cond.Regex = false
		default:
			cond.Regex = strings.ContainsAny(pattern, regexMeta)
		}

		if cond.Regex {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return nil, &RuleError{Kind: InvalidPattern, RuleID: def.ID, Condition: name, Err: err}
			}
			cond.re = re
		} else {
			cond.literal = pattern
		}
		cr.Conditions = append(cr.Conditions, cond)
	}

	return cr, nil
}

// All returns every compiled rule, disabled ones included.
func (s *Set) All() []*CompiledRule { return s.rules }

// Enabled returns the rules eligible for evaluation.
func (s *Set) Enabled() []*CompiledRule {
	out := make([]*CompiledRule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.IsEnabled() {
			out = append(out, r)
		}
	}
	return out
}

// Len reports the total rule count.
func (s *Set) Len() int { return len(s.rules) }
