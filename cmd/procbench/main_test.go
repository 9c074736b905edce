package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/APrinceGPT/procbench/internal/capture"
)

const exportHeader = "Time of Day,Process Name,PID,Operation,Path,Result,Detail\n"

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestOpenSource_CSV(t *testing.T) {
	path := writeTemp(t, "export.csv", exportHeader)

	src, err := openSource(path)
	require.NoError(t, err)
	defer src.Close()

	assert.IsType(t, &capture.CSVSource{}, src)
}

func TestOpenSource_CompressedCaptureRejected(t *testing.T) {
	path := writeTemp(t, "capture.pml.gz", "\x1f\x8b")

	_, err := openSource(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decompress")
}

func TestOpenSource_UnsupportedExtension(t *testing.T) {
	_, err := openSource(writeTemp(t, "dump.evtx", "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported capture format")
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logLevel("debug"))
	assert.Equal(t, slog.LevelWarn, logLevel("WARN"))
	assert.Equal(t, slog.LevelError, logLevel("error"))
	assert.Equal(t, slog.LevelInfo, logLevel(""))
	assert.Equal(t, slog.LevelInfo, logLevel("verbose"))
}
