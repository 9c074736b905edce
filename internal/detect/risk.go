package detect

import (
	"sort"

	"github.com/APrinceGPT/procbench/internal/model"
)

// Weights maps finding severity to a risk contribution.
type Weights map[model.Severity]int

// DefaultWeights is the standard severity weighting.
var DefaultWeights = Weights{
	model.SeverityCritical: 90,
	model.SeverityHigh:     65,
	model.SeverityMedium:   35,
	model.SeverityLow:      10,
}

// MaxRiskScore caps every process score.
const MaxRiskScore = 100

// FlagThreshold is the minimum score at which a process is flagged.
const FlagThreshold = 20

// Aggregator folds findings into per-process risk summaries.
type Aggregator struct {
	weights Weights
}

// NewAggregator builds an aggregator; nil weights selects DefaultWeights.
func NewAggregator(weights Weights) *Aggregator {
	if weights == nil {
		weights = DefaultWeights
	}
	return &Aggregator{weights: weights}
}

// Summarize produces one summary per process record, zero-finding processes
// included. A process's score is the weight of its single worst finding:
// many findings of one severity never score higher than one, so noisy rules
// cannot stack a benign process into the flagged range. Output is sorted by
// score descending, ties broken by PID then Seq.
func (a *Aggregator) Summarize(records []*model.ProcessRecord, findings []model.Finding) []model.ProcessSummary {
	type key struct {
		pid uint32
		seq int
	}

	byProc := make(map[key][]model.Finding, len(records))
	for _, f := range findings {
		k := key{f.PID, f.Seq}
		byProc[k] = append(byProc[k], f)
	}

	out := make([]model.ProcessSummary, 0, len(records))
	for _, rec := range records {
		fs := byProc[key{rec.PID, rec.Seq}]

		score := 0
		tags := make(map[string]bool)
		ruleIDs := make([]string, 0, len(fs))
		for _, f := range fs {
			if w := a.weights[f.Severity]; w > score {
				score = w
			}
			for _, t := range f.Tags {
				tags[t] = true
			}
			ruleIDs = append(ruleIDs, f.RuleID)
		}
		if score > MaxRiskScore {
			score = MaxRiskScore
		}

		tagList := make([]string, 0, len(tags))
		for t := range tags {
			tagList = append(tagList, t)
		}
		sort.Strings(tagList)
		sort.Strings(ruleIDs)

		out = append(out, model.ProcessSummary{
			PID:          rec.PID,
			Seq:          rec.Seq,
			Name:         rec.Name,
			RiskScore:    score,
			Tags:         tagList,
			MatchedRules: ruleIDs,
			Flagged:      score >= FlagThreshold,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RiskScore != out[j].RiskScore {
			return out[i].RiskScore > out[j].RiskScore
		}
		if out[i].PID != out[j].PID {
			return out[i].PID < out[j].PID
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}
