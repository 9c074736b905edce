package capture

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/APrinceGPT/procbench/internal/model"
)

const sampleCSV = `"Time of Day","Process Name","PID","Operation","Path","Result","Duration","Command Line","Parent PID"
"9:15:30.123456 AM","powershell.exe","4211","CreateFile","C:\Temp\payload.ps1","SUCCESS","0.0000213","powershell.exe -enc ZAB=","812"
"9:15:30.200000 AM","powershell.exe","4211","RegSetValue","HKCU\Software\Run\x","SUCCESS","0.0000019","",""
"9:15:31.000000 AM","broken","not-a-pid","ReadFile","C:\x","SUCCESS","0",""
"9:15:32.000000 AM","cmd.exe","5000","TCP Connect","10.0.0.5:443","SUCCESS","0.5","",""
`

func TestCSVSource_DecodesRows(t *testing.T) {
	src, err := NewCSVSource(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	var events []*model.RawEvent
	for {
		ev, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		events = append(events, ev)
	}

	require.Len(t, events, 3)

	ev := events[0]
	assert.Equal(t, uint32(4211), ev.PID)
	assert.Equal(t, "CreateFile", ev.Operation)
	assert.Equal(t, model.ClassFile, ev.Class)
	assert.Equal(t, `C:\Temp\payload.ps1`, ev.Path)
	assert.Equal(t, "powershell.exe", ev.Details[model.DetailProcessName])
	assert.Equal(t, "powershell.exe -enc ZAB=", ev.Details[model.DetailCommandLine])
	assert.Equal(t, "812", ev.Details[model.DetailParentPID])
	assert.Equal(t, 9, ev.Timestamp.Hour())
	assert.Equal(t, 15, ev.Timestamp.Minute())

	assert.Equal(t, model.ClassRegistry, events[1].Class)
	assert.Equal(t, model.ClassNetwork, events[2].Class)
	assert.Equal(t, "10.0.0.5:443", events[2].Path)

	// The non-numeric PID row is skipped, not fatal.
	require.Len(t, src.Warnings(), 1)
	assert.Contains(t, src.Warnings()[0], "PID")
}

func TestCSVSource_GzipInput(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	src, err := NewCSVSource(&buf)
	require.NoError(t, err)

	count := 0
	for {
		_, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 3, count)
}

func TestCSVSource_MissingOperationColumn(t *testing.T) {
	_, err := NewCSVSource(strings.NewReader("Time of Day,PID\n1,2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Operation")
}

func TestCSVSource_BOMHeader(t *testing.T) {
	data := "\ufeffOperation,PID,Time of Day\nReadFile,10,12:00:00\n"
	src, err := NewCSVSource(strings.NewReader(data))
	require.NoError(t, err)

	ev, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, "ReadFile", ev.Operation)
	assert.Equal(t, uint32(10), ev.PID)
}

func TestParseExportTime(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"9:15:30.123456 AM", true},
		{"21:15:30", true},
		{"2026-03-14T09:30:00", true},
		{"2026-03-14 09:30:00.000001", true},
		{"yesterday", false},
		{"", false},
	}
	for _, tt := range tests {
		_, ok := parseExportTime(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}
