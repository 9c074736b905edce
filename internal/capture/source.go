// Package capture decodes recorded system-activity logs into a normalized
// event stream. The native binary container is handled by Session; CSV and
// XML exports are handled by adapters that satisfy the same EventSource
// contract, so downstream consumers see one producer shape regardless of
// input format.
package capture

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/APrinceGPT/procbench/internal/model"
)

// EventSource is the producer contract shared by the binary decoder and the
// CSV/XML adapters. Next returns io.EOF at end of stream; any other error is
// fatal for the decode. Sources are single-consumer and forward-only.
type EventSource interface {
	Next() (*model.RawEvent, error)
	Warnings() []string
	Close() error
}

var gzipMagic = []byte{0x1f, 0x8b}

// maybeGunzip wraps r with a gzip reader when the stream starts with the
// gzip magic, so compressed exports can be fed to the text adapters
// directly.
func maybeGunzip(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err != nil {
		// Too short to be compressed; let the adapter report the real issue.
		return br, nil
	}
	if !bytes.Equal(head, gzipMagic) {
		return br, nil
	}
	return gzip.NewReader(br)
}

// exportTimeFormats are the timestamp shapes the text exports use.
var exportTimeFormats = []string{
	"3:04:05.000000 PM",
	"3:04:05 PM",
	"15:04:05.000000",
	"15:04:05",
	"2006-01-02T15:04:05.000000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05",
}

// parseExportTime parses a timestamp string from a CSV/XML export. Exports
// that carry only a time of day get today's date attached.
func parseExportTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range exportTimeFormats {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() == 0 {
			now := time.Now()
			t = time.Date(now.Year(), now.Month(), now.Day(),
				t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.Local)
		}
		return t, true
	}
	return time.Time{}, false
}

func parsePID(s string) (uint32, bool) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// parseExportDuration reads the fractional-seconds duration column.
func parseExportDuration(s string) time.Duration {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

// exportDetails assembles the canonical detail map the adapters emit.
func exportDetails(imagePath, commandLine, parentPID, user string) map[string]string {
	var details map[string]string
	set := func(k, v string) {
		if v == "" {
			return
		}
		if details == nil {
			details = make(map[string]string)
		}
		details[k] = v
	}
	set(model.DetailImagePath, imagePath)
	set(model.DetailCommandLine, commandLine)
	set(model.DetailParentPID, parentPID)
	set(model.DetailUser, user)
	return details
}
