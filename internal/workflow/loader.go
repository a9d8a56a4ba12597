package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// document is the YAML shape of a workflow definition file. Durations are
// authored as strings ("1h", "30m") and parsed here.
type document struct {
	ID      string          `yaml:"id"`
	Version string          `yaml:"version"`
	Entry   string          `yaml:"entryPoint"`
	TTL     string          `yaml:"ttl"`
	Steps   map[string]Step `yaml:"steps"`
}

// ParseDefinition decodes one YAML workflow document.
func ParseDefinition(data []byte) (*Definition, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workflow document: %w", err)
	}

	def := &Definition{
		ID:      doc.ID,
		Version: doc.Version,
		Entry:   doc.Entry,
		Steps:   doc.Steps,
	}
	if doc.TTL != "" {
		ttl, err := time.ParseDuration(doc.TTL)
		if err != nil {
			return nil, fmt.Errorf("workflow %q: invalid ttl %q: %w", doc.ID, doc.TTL, err)
		}
		def.TTL = ttl
	}
	return def, nil
}

// LoadDirectory reads every *.yaml / *.yml file under dir and registers the
// definitions it finds. Each file must hold exactly one definition; a file
// that fails to parse or validate fails the whole load, with every problem
// reported.
func LoadDirectory(dir string, registry *Registry) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read workflow directory: %w", err)
	}

	var problems []string
	loaded := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
			continue
		}

		def, err := ParseDefinition(data)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
			continue
		}

		if errs := registry.Register(def); len(errs) > 0 {
			for _, e := range errs {
				problems = append(problems, fmt.Sprintf("%s: %s", name, e))
			}
			continue
		}
		loaded++
	}

	if len(problems) > 0 {
		return loaded, fmt.Errorf("workflow definitions failed to load:\n  %s", strings.Join(problems, "\n  "))
	}
	return loaded, nil
}
