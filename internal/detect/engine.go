// Package detect evaluates compiled rule sets against process trees and
// aggregates findings into per-process risk summaries.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/APrinceGPT/procbench/internal/model"
	"github.com/APrinceGPT/procbench/internal/proctree"
	"github.com/APrinceGPT/procbench/internal/rules"
)

// matchCacheSize bounds the condition-match memo. Capture files repeat the
// same process names and paths heavily, so even a small cache removes most
// regex work.
const matchCacheSize = 8192

// Engine evaluates one compiled rule set. Safe for concurrent use; the
// rule set is read-only and the memo cache is internally synchronized.
type Engine struct {
	enabled []*rules.CompiledRule
	workers int
	cache   *lru.Cache[string, bool]
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the evaluation worker count. Values below one fall back
// to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// NewEngine builds an engine over the enabled rules of set.
func NewEngine(set *rules.Set, logger *slog.Logger, opts ...Option) *Engine {
	cache, _ := lru.New[string, bool](matchCacheSize)
	e := &Engine{
		enabled: set.Enabled(),
		cache:   cache,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs every enabled rule against every node of the tree and
// returns the findings in tree order, then rule-ID order within a node.
// Output is deterministic apart from finding IDs. Cancellation is honored
// between nodes; a canceled context returns ctx.Err() and no findings.
func (e *Engine) Evaluate(ctx context.Context, tree *proctree.Tree) ([]model.Finding, error) {
	n := tree.Len()
	if n == 0 || len(e.enabled) == 0 {
		return nil, ctx.Err()
	}

	workers := e.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}

	// One result slot per node keeps output order independent of worker
	// scheduling.
	slots := make([][]model.Finding, n)
	work := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				if ctx.Err() != nil {
					return
				}
				slots[i] = e.evaluateNode(tree, i)
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case work <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []model.Finding
	for _, fs := range slots {
		out = append(out, fs...)
	}
	e.logger.Debug("rule evaluation complete",
		"processes", n, "rules", len(e.enabled), "findings", len(out))
	return out, nil
}

// evaluateNode applies every enabled rule to one tree node. Rules arrive
// pre-sorted by ID from the compiler, so per-node finding order is stable.
func (e *Engine) evaluateNode(tree *proctree.Tree, i int) []model.Finding {
	rec := tree.Node(i).Record
	var out []model.Finding

	for _, r := range e.enabled {
		matched, ok := e.matchRule(tree, i, r)
		if !ok {
			continue
		}
		out = append(out, model.Finding{
			ID:             newFindingID(),
			RuleID:         r.ID,
			RuleName:       r.Name,
			PID:            rec.PID,
			Seq:            rec.Seq,
			Severity:       r.Severity,
			Matched:        matched,
			Tags:           append([]string(nil), r.Tags...),
			MitreTechnique: r.MitreTechnique,
		})
	}
	return out
}

// matchRule evaluates one rule against one node. AND rules require every
// condition to match; OR rules require at least one. A condition whose
// field is absent from the record never matches.
func (e *Engine) matchRule(tree *proctree.Tree, i int, r *rules.CompiledRule) (map[string]string, bool) {
	matched := make(map[string]string, len(r.Conditions))
	any := false

	for ci := range r.Conditions {
		c := &r.Conditions[ci]
		value, ok := e.matchCondition(tree, i, r.ID, c)
		if ok {
			matched[string(c.Field)] = value
			any = true
			continue
		}
		if !r.Or {
			return nil, false
		}
	}
	if !any {
		return nil, false
	}
	return matched, true
}

// matchCondition resolves a condition's field against the node and returns
// the first value that satisfied it. Relationship fields resolve across the
// parent edge: parent_process against the parent's name, child_process
// against this node's name, so a relationship rule fires on the child.
func (e *Engine) matchCondition(tree *proctree.Tree, i int, ruleID string, c *rules.Condition) (string, bool) {
	rec := tree.Node(i).Record

	switch c.Field {
	case rules.FieldProcessName:
		return rec.Name, e.match(ruleID, c, rec.Name)
	case rules.FieldProcessPath:
		return rec.ImagePath, e.match(ruleID, c, rec.ImagePath)
	case rules.FieldCommandLine:
		return rec.CommandLine, e.match(ruleID, c, rec.CommandLine)
	case rules.FieldParentProcess:
		parent := tree.ParentOf(i)
		if parent == nil {
			return "", false
		}
		return parent.Record.Name, e.match(ruleID, c, parent.Record.Name)
	case rules.FieldExpectedParent:
		// Negated: holds when the parent exists and does NOT match. A root
		// has no parent to judge, so it never matches.
		parent := tree.ParentOf(i)
		if parent == nil {
			return "", false
		}
		return parent.Record.Name, !e.match(ruleID, c, parent.Record.Name)
	case rules.FieldChildProcess:
		return rec.Name, e.match(ruleID, c, rec.Name)
	case rules.FieldOperation:
		return e.matchAny(ruleID, c, rec.Operations)
	case rules.FieldPathAccessed:
		if v, ok := e.matchAny(ruleID, c, rec.Files); ok {
			return v, true
		}
		return e.matchAny(ruleID, c, rec.NetworkEndpoints)
	case rules.FieldRegistryKey:
		return e.matchAny(ruleID, c, rec.RegistryKeys)
	}
	return "", false
}

// matchAny returns the first sample the condition matches.
func (e *Engine) matchAny(ruleID string, c *rules.Condition, values []string) (string, bool) {
	for _, v := range values {
		if e.match(ruleID, c, v) {
			return v, true
		}
	}
	return "", false
}

// match memoizes Condition.Match per (rule, field, value). The same image
// names and paths recur across thousands of events, so cache hits dominate
// once the capture warms up.
func (e *Engine) match(ruleID string, c *rules.Condition, value string) bool {
	if value == "" {
		return false
	}
	key := ruleID + "\x00" + string(c.Field) + "\x00" + value
	if hit, ok := e.cache.Get(key); ok {
		return hit
	}
	m := c.Match(value)
	e.cache.Add(key, m)
	return m
}

func newFindingID() string {
	u := uuid.New()
	return fmt.Sprintf("FND-%X", u[:4])
}
