// Package registry folds the decoded event stream into per-process
// aggregates. It is strictly streaming and single-pass: events must arrive
// in capture order and no prior event is ever re-read.
package registry

import (
	"strconv"
	"strings"

	"github.com/APrinceGPT/procbench/internal/capture"
	"github.com/APrinceGPT/procbench/internal/model"
)

// DefaultSampleCap bounds the distinct path samples kept per process and
// class. Counters keep counting past the cap.
const DefaultSampleCap = 200

// Registry accumulates ProcessRecord entries as events stream through.
// A PID observed with an explicit process-start operation after it already
// has activity, or with a materially different image path, opens a new
// logical process so reuse never merges two unrelated processes.
type Registry struct {
	records   []*model.ProcessRecord
	live      map[uint32]int // PID -> index of current version in records
	meta      map[uint32]capture.ProcessMeta
	sampleCap int

	seen map[sampleKey]struct{}
}

type sampleKey struct {
	rec  int
	kind model.EventClass
	path string
}

// Option configures a Registry.
type Option func(*Registry)

// WithSampleCap overrides the per-class distinct path sample bound.
func WithSampleCap(n int) Option {
	return func(r *Registry) { r.sampleCap = n }
}

// WithProcessTable seeds static metadata from the container's process
// table; records are still created lazily on a PID's first event.
func WithProcessTable(metas []capture.ProcessMeta) Option {
	return func(r *Registry) {
		for _, m := range metas {
			r.meta[m.PID] = m
		}
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		live:      make(map[uint32]int),
		meta:      make(map[uint32]capture.ProcessMeta),
		sampleCap: DefaultSampleCap,
		seen:      make(map[sampleKey]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe folds one event into the registry.
func (r *Registry) Observe(ev *model.RawEvent) {
	idx, ok := r.live[ev.PID]
	if ok && r.shouldVersion(r.records[idx], ev) {
		ok = false
	}
	if !ok {
		idx = r.create(ev)
		r.live[ev.PID] = idx
	}
	rec := r.records[idx]

	rec.TotalEvents++
	rec.LastSeen = ev.Timestamp
	switch ev.Class {
	case model.ClassFile:
		rec.FileOps++
		r.sample(idx, &rec.Files, model.ClassFile, ev.Path)
	case model.ClassRegistry:
		rec.RegistryOps++
		r.sample(idx, &rec.RegistryKeys, model.ClassRegistry, ev.Path)
	case model.ClassNetwork:
		rec.NetworkOps++
		r.sample(idx, &rec.NetworkEndpoints, model.ClassNetwork, ev.Path)
	case model.ClassProcess:
		rec.ProcessOps++
	}
	r.sample(idx, &rec.Operations, model.ClassUnknown, ev.Operation)

	// Later events may carry metadata the first one lacked.
	if rec.CommandLine == "" {
		rec.CommandLine = ev.Details[model.DetailCommandLine]
	}
	if rec.User == "" {
		rec.User = ev.Details[model.DetailUser]
	}
	if rec.ImagePath == "" {
		if ip := ev.Details[model.DetailImagePath]; ip != "" {
			rec.ImagePath = ip
			if rec.Name == "" || rec.Name == "Unknown" {
				rec.Name = capture.BaseName(ip)
			}
		}
	}
}

// shouldVersion decides whether ev belongs to a new logical process that
// reused rec's PID.
func (r *Registry) shouldVersion(rec *model.ProcessRecord, ev *model.RawEvent) bool {
	if isProcessStart(ev.Operation) && rec.TotalEvents > 0 {
		return true
	}
	ip := ev.Details[model.DetailImagePath]
	if ip != "" && rec.ImagePath != "" && !strings.EqualFold(ip, rec.ImagePath) {
		return true
	}
	return false
}

func (r *Registry) create(ev *model.RawEvent) int {
	rec := &model.ProcessRecord{
		PID:       ev.PID,
		FirstSeen: ev.Timestamp,
		LastSeen:  ev.Timestamp,
	}
	if prev, ok := r.live[ev.PID]; ok {
		rec.Seq = r.records[prev].Seq + 1
	}

	if m, ok := r.meta[ev.PID]; ok && rec.Seq == 0 {
		rec.Name = m.Name
		rec.ImagePath = m.ImagePath
		rec.CommandLine = m.CommandLine
		rec.User = m.User
		rec.ParentPID = m.ParentPID
		rec.HasParent = m.HasParent
	}

	// Event-embedded fields win over nothing, not over table metadata.
	if rec.ImagePath == "" {
		rec.ImagePath = ev.Details[model.DetailImagePath]
	}
	if rec.Name == "" {
		if n := ev.Details[model.DetailProcessName]; n != "" {
			rec.Name = n
		} else if rec.ImagePath != "" {
			rec.Name = capture.BaseName(rec.ImagePath)
		} else {
			rec.Name = "Unknown"
		}
	}
	if rec.CommandLine == "" {
		rec.CommandLine = ev.Details[model.DetailCommandLine]
	}
	if rec.User == "" {
		rec.User = ev.Details[model.DetailUser]
	}
	if !rec.HasParent {
		if pp, ok := parsePPID(ev.Details[model.DetailParentPID]); ok && pp != ev.PID {
			rec.ParentPID = pp
			rec.HasParent = true
		}
	}

	r.records = append(r.records, rec)
	return len(r.records) - 1
}

func (r *Registry) sample(idx int, list *[]string, kind model.EventClass, val string) {
	if val == "" || len(*list) >= r.sampleCap {
		return
	}
	key := sampleKey{rec: idx, kind: kind, path: val}
	if _, dup := r.seen[key]; dup {
		return
	}
	r.seen[key] = struct{}{}
	*list = append(*list, val)
}

// Records returns all logical processes in first-seen order. The slice is
// frozen once the stream completes; callers must not mutate it.
func (r *Registry) Records() []*model.ProcessRecord {
	return r.records
}

func isProcessStart(op string) bool {
	switch op {
	case "Process Create", "Process Start":
		return true
	}
	return false
}

func parsePPID(s string) (uint32, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint32(v), true
}
