package analysis

import (
	"sort"
	"strings"

	"github.com/APrinceGPT/procbench/internal/model"
)

// registryPrefixDepth bounds how many key segments identify a registry
// bucket, so every value under a run key folds into one cell.
const registryPrefixDepth = 4

// PathHeat is one heatmap cell: a filesystem directory or registry key
// prefix with its access count and per-operation breakdown.
type PathHeat struct {
	Path       string         `json:"path"`
	Kind       string         `json:"kind"`
	Count      int            `json:"count"`
	Operations map[string]int `json:"operations,omitempty"`
}

// Heatmap accumulates file and registry access density across a capture.
type Heatmap struct {
	topN  int
	cells map[string]*PathHeat
}

// NewHeatmap builds a heatmap reporting the topN hottest paths.
func NewHeatmap(topN int) *Heatmap {
	return &Heatmap{topN: topN, cells: make(map[string]*PathHeat)}
}

// Observe folds one event into the map. Only file and registry events with
// a path contribute.
func (h *Heatmap) Observe(ev *model.RawEvent) {
	if ev.Path == "" {
		return
	}

	var bucket, kind string
	switch ev.Class {
	case model.ClassFile:
		bucket, kind = parentDir(ev.Path), "file"
	case model.ClassRegistry:
		bucket, kind = registryPrefix(ev.Path), "registry"
	default:
		return
	}
	if bucket == "" {
		return
	}

	cell, ok := h.cells[bucket]
	if !ok {
		cell = &PathHeat{Path: bucket, Kind: kind, Operations: make(map[string]int)}
		h.cells[bucket] = cell
	}
	cell.Count++
	cell.Operations[ev.Operation]++
}

// Top returns the hottest cells, count descending with path as tiebreak.
func (h *Heatmap) Top() []PathHeat {
	out := make([]PathHeat, 0, len(h.cells))
	for _, cell := range h.cells {
		out = append(out, *cell)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Path < out[j].Path
	})
	if h.topN > 0 && len(out) > h.topN {
		out = out[:h.topN]
	}
	return out
}

// parentDir strips the final component of a Windows path. A path with no
// separator buckets as itself.
func parentDir(p string) string {
	if i := strings.LastIndexByte(p, '\\'); i > 0 {
		return p[:i]
	}
	return p
}

// registryPrefix truncates a registry key to its leading segments.
func registryPrefix(key string) string {
	parts := strings.Split(key, `\`)
	if len(parts) > registryPrefixDepth {
		parts = parts[:registryPrefixDepth]
	}
	return strings.Join(parts, `\`)
}
