package capture

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/APrinceGPT/procbench/internal/model"
)

// xmlEvent mirrors one <event> element of an XML export.
type xmlEvent struct {
	TimeOfDay   string `xml:"Time_of_Day"`
	ProcessName string `xml:"Process_Name"`
	PID         string `xml:"PID"`
	TID         string `xml:"TID"`
	Operation   string `xml:"Operation"`
	Path        string `xml:"Path"`
	Result      string `xml:"Result"`
	Duration    string `xml:"Duration"`
	ParentPID   string `xml:"Parent_PID"`
	CommandLine string `xml:"Command_Line"`
	ImagePath   string `xml:"Image_Path"`
	User        string `xml:"User"`
}

// XMLSource adapts an XML export to the EventSource contract, decoding
// <event> elements incrementally so large files never load whole.
type XMLSource struct {
	dec      *xml.Decoder
	n        int64
	warnings []string
	closer   io.Closer
}

// NewXMLSource prepares the adapter. The input may be gzip-compressed.
func NewXMLSource(r io.Reader) (*XMLSource, error) {
	raw, err := maybeGunzip(r)
	if err != nil {
		return nil, fmt.Errorf("xml source: %w", err)
	}
	src := &XMLSource{dec: xml.NewDecoder(raw)}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return src, nil
}

func (s *XMLSource) Next() (*model.RawEvent, error) {
	for {
		tok, err := s.dec.Token()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("xml source: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || !strings.EqualFold(start.Name.Local, "event") {
			continue
		}
		s.n++

		var raw xmlEvent
		if err := s.dec.DecodeElement(&raw, &start); err != nil {
			s.warn("undecodable element")
			continue
		}
		pid, ok := parsePID(raw.PID)
		if !ok {
			s.warn("missing or non-numeric PID")
			continue
		}
		ts, ok := parseExportTime(raw.TimeOfDay)
		if !ok {
			s.warn("unparseable timestamp")
			continue
		}
		tid, _ := parsePID(raw.TID)

		details := exportDetails(raw.ImagePath, raw.CommandLine, raw.ParentPID, raw.User)
		if raw.ProcessName != "" {
			if details == nil {
				details = make(map[string]string)
			}
			details[model.DetailProcessName] = raw.ProcessName
		}

		return &model.RawEvent{
			Timestamp: ts,
			PID:       pid,
			TID:       tid,
			Class:     ClassifyOperation(raw.Operation),
			Operation: raw.Operation,
			Path:      raw.Path,
			Result:    raw.Result,
			Duration:  parseExportDuration(raw.Duration),
			Details:   details,
		}, nil
	}
}

func (s *XMLSource) Warnings() []string { return s.warnings }

func (s *XMLSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *XMLSource) warn(msg string) {
	s.warnings = append(s.warnings, fmt.Sprintf("xml event %d skipped: %s", s.n, msg))
}
