package capture

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/APrinceGPT/procbench/internal/model"
)

// CSVSource adapts a CSV export to the EventSource contract. Malformed rows
// are skipped with a warning; only an unreadable stream is fatal.
type CSVSource struct {
	r        *csv.Reader
	cols     map[string]int
	row      int64
	warnings []string
	closer   io.Closer
}

// NewCSVSource reads the header row and prepares the adapter. The input may
// be gzip-compressed.
func NewCSVSource(r io.Reader) (*CSVSource, error) {
	raw, err := maybeGunzip(r)
	if err != nil {
		return nil, fmt.Errorf("csv source: %w", err)
	}
	cr := csv.NewReader(raw)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("csv source: reading header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		// The first column of an export often carries a BOM.
		name = strings.TrimPrefix(name, "\ufeff")
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["operation"]; !ok {
		return nil, fmt.Errorf("csv source: header has no Operation column")
	}
	src := &CSVSource{r: cr, cols: cols}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return src, nil
}

func (s *CSVSource) Next() (*model.RawEvent, error) {
	for {
		record, err := s.r.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		s.row++
		if err != nil {
			if _, ok := err.(*csv.ParseError); ok {
				s.warn("unparseable row")
				continue
			}
			return nil, fmt.Errorf("csv source: %w", err)
		}

		field := func(name string) string {
			i, ok := s.cols[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		pid, ok := parsePID(field("pid"))
		if !ok {
			s.warn("missing or non-numeric PID")
			continue
		}
		ts, ok := parseExportTime(field("time of day"))
		if !ok {
			s.warn("unparseable timestamp")
			continue
		}
		op := field("operation")
		tid, _ := parsePID(field("tid"))

		details := exportDetails(
			field("image path"),
			field("command line"),
			field("parent pid"),
			field("user"),
		)
		if name := field("process name"); name != "" {
			if details == nil {
				details = make(map[string]string)
			}
			details[model.DetailProcessName] = name
		}

		return &model.RawEvent{
			Timestamp: ts,
			PID:       pid,
			TID:       tid,
			Class:     ClassifyOperation(op),
			Operation: op,
			Path:      field("path"),
			Result:    field("result"),
			Duration:  parseExportDuration(field("duration")),
			Details:   details,
		}, nil
	}
}

func (s *CSVSource) Warnings() []string { return s.warnings }

func (s *CSVSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *CSVSource) warn(msg string) {
	s.warnings = append(s.warnings, fmt.Sprintf("csv row %d skipped: %s", s.row, msg))
}
