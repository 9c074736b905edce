package rules

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader reads rule documents from a directory tree. Parsing happens here;
// semantic validation is Compile's job so that a malformed rule fails the
// whole load with a RuleError naming the rule and condition.
type Loader struct {
	dir    string
	logger *slog.Logger
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	return &Loader{dir: dir, logger: logger}
}

// LoadDir parses every .yaml/.yml file under the loader's directory, sorted
// by path for deterministic ordering. A file may hold a single rule document
// or a list of rules.
func (l *Loader) LoadDir() ([]Rule, error) {
	files, err := l.ruleFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to scan rules dir: %w", err)
	}

	var all []Rule
	for _, file := range files {
		rules, err := loadRulesFromFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
		for i := range rules {
			rules[i].SourceFile = file
			if rules[i].Category == "" {
				rules[i].Category = "custom"
			}
		}
		l.logger.Debug("loaded rules from file", "file", file, "count", len(rules))
		all = append(all, rules...)
	}

	l.logger.Info("rule documents loaded", "dir", l.dir, "files", len(files), "rules", len(all))
	return all, nil
}

// ruleFiles walks the directory and collects rule file paths, sorted by
// filename for consistent loading order.
func (l *Loader) ruleFiles() ([]string, error) {
	var files []string

	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// loadRulesFromFile parses one document as either a single rule or a list.
func loadRulesFromFile(filename string) ([]Rule, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		var one Rule
		if err := yaml.Unmarshal(data, &one); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		rules = append(rules, one)
	}
	return rules, nil
}
