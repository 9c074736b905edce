package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/APrinceGPT/procbench/internal/analysis"
	"github.com/APrinceGPT/procbench/internal/capture"
	"github.com/APrinceGPT/procbench/internal/config"
	"github.com/APrinceGPT/procbench/internal/metrics"
	"github.com/APrinceGPT/procbench/internal/rules"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <capture.pml|export.csv[.gz]|export.xml[.gz]>\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	if err := run(cfg, logger, os.Args[1]); err != nil {
		logger.Error("analysis failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, path string) error {
	logger.Info("starting analysis",
		"file", path,
		"max_file_mb", cfg.MaxFileMB,
		"timeout_sec", cfg.DecodeTimeoutSec,
		"rules_dir", cfg.RulesDir,
		"workers", cfg.Workers)

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if maxBytes := int64(cfg.MaxFileMB) << 20; info.Size() > maxBytes {
		return fmt.Errorf("file %s is %d bytes, limit is %d MB", path, info.Size(), cfg.MaxFileMB)
	}

	set, err := loadRules(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("rules compiled", "enabled", len(set.Enabled()), "total", set.Len())

	src, err := openSource(path)
	if err != nil {
		return err
	}
	defer src.Close()

	ctx := context.Background()
	if cfg.DecodeTimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.DecodeTimeoutSec)*time.Second)
		defer cancel()
	}

	analyzer := analysis.New(set, logger,
		analysis.WithWorkers(cfg.Workers),
		analysis.WithHeatmapTopN(cfg.HeatmapTopN),
		analysis.WithMetrics(metrics.New(prometheus.NewRegistry())))

	res, err := analyzer.Run(ctx, src, filepath.Base(path))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// loadRules compiles the built-in catalog plus any user rules from the
// configured directory.
func loadRules(cfg *config.Config, logger *slog.Logger) (*rules.Set, error) {
	defs := rules.Builtin()
	if cfg.RulesDir != "" {
		user, err := rules.NewLoader(cfg.RulesDir, logger).LoadDir()
		if err != nil {
			return nil, err
		}
		defs = append(defs, user...)
	}
	return rules.Compile(defs)
}

// openSource picks a decoder by extension. A trailing .gz is transparent
// for the CSV and XML exports only; the binary decoder needs random access
// and cannot read a compressed stream.
func openSource(path string) (capture.EventSource, error) {
	name := strings.ToLower(path)
	compressed := strings.HasSuffix(name, ".gz")
	name = strings.TrimSuffix(name, ".gz")

	switch filepath.Ext(name) {
	case ".pml":
		if compressed {
			return nil, fmt.Errorf("compressed captures are not supported: decompress %s first", path)
		}
		return capture.OpenFile(path)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		return capture.NewCSVSource(f)
	case ".xml":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		return capture.NewXMLSource(f)
	}
	return nil, fmt.Errorf("unsupported capture format: %s", filepath.Ext(name))
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
