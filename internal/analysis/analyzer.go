// Package analysis drives one end-to-end capture analysis: stream decode,
// process registration, tree construction, rule evaluation, and risk
// aggregation, producing a single serializable Result.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/APrinceGPT/procbench/internal/capture"
	"github.com/APrinceGPT/procbench/internal/detect"
	"github.com/APrinceGPT/procbench/internal/metrics"
	"github.com/APrinceGPT/procbench/internal/model"
	"github.com/APrinceGPT/procbench/internal/proctree"
	"github.com/APrinceGPT/procbench/internal/registry"
	"github.com/APrinceGPT/procbench/internal/rules"
)

// Risk bucket boundaries for the report rollup.
const (
	highRiskMin   = 70
	mediumRiskMin = 30
	topThreats    = 10
)

// Buckets counts processes per risk band.
type Buckets struct {
	High   int `json:"high_risk"`
	Medium int `json:"medium_risk"`
	Low    int `json:"low_risk"`
}

// Result is the complete output of one analysis run.
type Result struct {
	AnalysisID  string    `json:"analysis_id"`
	File        string    `json:"file"`
	GeneratedAt time.Time `json:"generated_at"`
	Duration    string    `json:"duration"`

	EventCount   int `json:"event_count"`
	ProcessCount int `json:"process_count"`
	RuleCount    int `json:"rule_count"`
	FindingCount int `json:"finding_count"`

	Buckets    Buckets                `json:"risk_buckets"`
	Summaries  []model.ProcessSummary `json:"processes"`
	TopThreats []model.ProcessSummary `json:"top_threats,omitempty"`
	Findings   []model.Finding        `json:"findings,omitempty"`
	Tree       *proctree.Tree         `json:"process_tree"`
	Heatmap    []PathHeat             `json:"path_heatmap,omitempty"`
	Warnings   []string               `json:"warnings,omitempty"`
}

// Analyzer runs analyses against one compiled rule set. Safe to reuse
// across files.
type Analyzer struct {
	set     *rules.Set
	workers int
	topN    int
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithWorkers sets the rule evaluation worker count.
func WithWorkers(n int) Option {
	return func(a *Analyzer) { a.workers = n }
}

// WithHeatmapTopN bounds the heatmap output.
func WithHeatmapTopN(n int) Option {
	return func(a *Analyzer) { a.topN = n }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// New builds an analyzer over a compiled rule set.
func New(set *rules.Set, logger *slog.Logger, opts ...Option) *Analyzer {
	a := &Analyzer{set: set, topN: 15, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run streams every event out of src, builds the process tree, evaluates
// the rule set, and aggregates risk. Decoding stops early on context
// cancellation; a canceled run returns ctx.Err() rather than a partial
// Result. Source warnings (skipped rows, truncated tails) surface on the
// Result, not as errors.
func (a *Analyzer) Run(ctx context.Context, src capture.EventSource, filename string) (*Result, error) {
	start := time.Now()

	reg := a.newRegistry(src)
	heat := NewHeatmap(a.topN)

	eventCount := 0
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ev, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode failed after %d events: %w", eventCount, err)
		}
		reg.Observe(ev)
		heat.Observe(ev)
		eventCount++
	}

	records := reg.Records()
	tree := proctree.Build(records)

	engine := detect.NewEngine(a.set, a.logger, detect.WithWorkers(a.workers))
	findings, err := engine.Evaluate(ctx, tree)
	if err != nil {
		return nil, err
	}

	summaries := detect.NewAggregator(nil).Summarize(records, findings)

	// Risk-ordered tree: riskiest subtrees list first in the report.
	scores := make(map[procKey]int, len(summaries))
	for _, s := range summaries {
		scores[procKey{s.PID, s.Seq}] = s.RiskScore
	}
	tree.OrderByScore(func(rec *model.ProcessRecord) int {
		return scores[procKey{rec.PID, rec.Seq}]
	})

	res := &Result{
		AnalysisID:   newAnalysisID(),
		File:         filename,
		GeneratedAt:  time.Now().UTC(),
		Duration:     time.Since(start).Round(time.Millisecond).String(),
		EventCount:   eventCount,
		ProcessCount: len(records),
		RuleCount:    len(a.set.Enabled()),
		FindingCount: len(findings),
		Summaries:    summaries,
		Findings:     findings,
		Tree:         tree,
		Heatmap:      heat.Top(),
		Warnings:     src.Warnings(),
	}

	for _, s := range summaries {
		switch {
		case s.RiskScore >= highRiskMin:
			res.Buckets.High++
		case s.RiskScore >= mediumRiskMin:
			res.Buckets.Medium++
		default:
			res.Buckets.Low++
		}
		if s.Flagged && len(res.TopThreats) < topThreats {
			res.TopThreats = append(res.TopThreats, s)
		}
	}

	a.observeMetrics(res, time.Since(start))
	a.logger.Info("analysis complete",
		"analysis_id", res.AnalysisID,
		"file", filename,
		"events", eventCount,
		"processes", len(records),
		"findings", len(findings),
		"warnings", len(res.Warnings),
		"duration", res.Duration)
	return res, nil
}

type procKey struct {
	pid uint32
	seq int
}

// newRegistry seeds process metadata from the container's process table
// when the source is a binary capture session.
func (a *Analyzer) newRegistry(src capture.EventSource) *registry.Registry {
	if s, ok := src.(interface{ Processes() []capture.ProcessMeta }); ok {
		return registry.New(registry.WithProcessTable(s.Processes()))
	}
	return registry.New()
}

func (a *Analyzer) observeMetrics(res *Result, elapsed time.Duration) {
	if a.metrics == nil {
		return
	}
	a.metrics.EventsDecodedTotal.Add(float64(res.EventCount))
	a.metrics.RecordsSkippedTotal.Add(float64(len(res.Warnings)))
	a.metrics.RulesEvaluatedTotal.Add(float64(res.RuleCount * res.ProcessCount))
	a.metrics.FindingsTotal.Add(float64(res.FindingCount))
	a.metrics.AnalysesTotal.Inc()
	a.metrics.AnalysisDuration.Observe(elapsed.Seconds())
}

func newAnalysisID() string {
	u := uuid.New()
	return fmt.Sprintf("ANL-%X", u[:4])
}
