package model

import (
	"strings"
	"time"
)

// Severity levels for rules and findings.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity normalizes a severity string from a rule document.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow, true
	case SeverityMedium:
		return SeverityMedium, true
	case SeverityHigh:
		return SeverityHigh, true
	case SeverityCritical:
		return SeverityCritical, true
	}
	return "", false
}

// Rank orders severities for comparison; higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// EventClass is the broad operation category a capture event belongs to.
type EventClass uint16

const (
	ClassUnknown EventClass = iota
	ClassProcess
	ClassRegistry
	ClassFile
	ClassNetwork
	ClassProfiling
)

func (c EventClass) String() string {
	switch c {
	case ClassProcess:
		return "process"
	case ClassRegistry:
		return "registry"
	case ClassFile:
		return "file"
	case ClassNetwork:
		return "network"
	case ClassProfiling:
		return "profiling"
	}
	return "unknown"
}

// RawEvent is one normalized capture event. Immutable once decoded.
type RawEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	PID       uint32            `json:"pid"`
	TID       uint32            `json:"tid"`
	Class     EventClass        `json:"class"`
	Operation string            `json:"operation"`
	Path      string            `json:"path,omitempty"`
	Result    string            `json:"result,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Stack     []uint64          `json:"stack,omitempty"`
}

// Detail keys the decoder emits with canonical names.
const (
	DetailProcessName = "process_name"
	DetailImagePath   = "image_path"
	DetailCommandLine = "command_line"
	DetailParentPID   = "parent_pid"
	DetailUser        = "user"
)

// ProcessRecord aggregates everything observed for one logical process.
// PIDs may be reused within a capture; (PID, Seq) identifies one logical
// process, with Seq incremented per reuse. Mutated only by the registry
// while the stream is live, frozen afterwards.
type ProcessRecord struct {
	PID         uint32 `json:"pid"`
	Seq         int    `json:"seq"`
	Name        string `json:"process_name"`
	ImagePath   string `json:"image_path,omitempty"`
	CommandLine string `json:"command_line,omitempty"`
	User        string `json:"user,omitempty"`

	ParentPID uint32 `json:"parent_pid,omitempty"`
	HasParent bool   `json:"-"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	FileOps     int `json:"file_operations"`
	RegistryOps int `json:"registry_operations"`
	NetworkOps  int `json:"network_operations"`
	ProcessOps  int `json:"process_operations"`
	TotalEvents int `json:"event_count"`

	// Bounded distinct samples kept for rule evaluation and reporting.
	Operations       []string `json:"operations,omitempty"`
	Files            []string `json:"accessed_files,omitempty"`
	RegistryKeys     []string `json:"accessed_registry,omitempty"`
	NetworkEndpoints []string `json:"network_connections,omitempty"`
}

// Finding is one rule-to-process match. Never mutated after creation.
type Finding struct {
	ID             string            `json:"id"`
	RuleID         string            `json:"rule_id"`
	RuleName       string            `json:"rule_name"`
	PID            uint32            `json:"pid"`
	Seq            int               `json:"seq"`
	Severity       Severity          `json:"severity"`
	Matched        map[string]string `json:"matched_fields,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	MitreTechnique string            `json:"mitre_technique,omitempty"`
}

// ProcessSummary is the aggregated per-process detection output handed to
// downstream consumers. The legitimacy bucket is derived from RiskScore by
// those consumers, not here.
type ProcessSummary struct {
	PID          uint32   `json:"pid"`
	Seq          int      `json:"seq"`
	Name         string   `json:"process_name"`
	RiskScore    int      `json:"risk_score"`
	Tags         []string `json:"behavior_tags,omitempty"`
	MatchedRules []string `json:"matched_rules,omitempty"`
	Flagged      bool     `json:"is_flagged"`
}
