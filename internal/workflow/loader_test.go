package workflow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
id: feedback
version: 1.0.0
entryPoint: rating
ttl: 30m
steps:
  rating:
    type: choice
    content: How was your experience?
    options:
      - id: good
        label: "Good"
      - id: bad
        label: "Bad"
    transitions:
      good: thanks
      bad: details
  details:
    type: text-input
    content: What went wrong?
    validation:
      minLength: 5
    next: thanks
  thanks:
    type: info
    content: Thanks for the feedback.
    terminal: true
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseDefinition failed: %v", err)
	}
	if def.ID != "feedback" || def.Entry != "rating" {
		t.Errorf("Unexpected definition header: %+v", def)
	}
	if def.TTL != 30*time.Minute {
		t.Errorf("TTL not parsed: %v", def.TTL)
	}
	if len(def.Steps) != 3 {
		t.Fatalf("Expected 3 steps, got %d", len(def.Steps))
	}

	rating := def.Steps["rating"]
	if rating.Type != StepChoice || len(rating.Options) != 2 {
		t.Errorf("Choice step not decoded: %+v", rating)
	}
	if rating.Transitions["bad"] != "details" {
		t.Errorf("Transitions not decoded: %v", rating.Transitions)
	}
	details := def.Steps["details"]
	if details.Validation == nil || details.Validation.MinLength != 5 {
		t.Errorf("Validation not decoded: %+v", details.Validation)
	}

	if errs := def.Validate(); len(errs) != 0 {
		t.Errorf("Sample document should validate, got %v", errs)
	}
}

func TestParseDefinition_BadTTL(t *testing.T) {
	doc := strings.Replace(sampleYAML, "ttl: 30m", "ttl: soon", 1)
	if _, err := ParseDefinition([]byte(doc)); err == nil {
		t.Fatal("Expected an error for an unparseable ttl")
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "feedback.yaml"), []byte(sampleYAML), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	loaded, err := LoadDirectory(dir, r)
	if err != nil {
		t.Fatalf("LoadDirectory failed: %v", err)
	}
	if loaded != 1 || r.Len() != 1 {
		t.Errorf("Expected 1 definition loaded, got loaded=%d len=%d", loaded, r.Len())
	}
}

func TestLoadDirectory_ReportsBadFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "good.yaml"), []byte(sampleYAML), 0644); err != nil {
		t.Fatal(err)
	}
	broken := strings.Replace(sampleYAML, "id: feedback", "id: broken", 1)
	broken = strings.Replace(broken, "entryPoint: rating", "entryPoint: missing", 1)
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(broken), 0644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	loaded, err := LoadDirectory(dir, r)
	if err == nil {
		t.Fatal("Expected an error for the broken file")
	}
	if !strings.Contains(err.Error(), "broken.yaml") {
		t.Errorf("Error does not name the offending file: %v", err)
	}
	// The good file still loads.
	if loaded != 1 || r.Get("feedback") == nil {
		t.Errorf("Expected good file loaded despite broken sibling, loaded=%d", loaded)
	}
}

func TestLoadDirectory_MissingDir(t *testing.T) {
	r := NewRegistry()
	loaded, err := LoadDirectory(filepath.Join(t.TempDir(), "nope"), r)
	if err != nil || loaded != 0 {
		t.Errorf("Expected empty result for missing directory, got loaded=%d err=%v", loaded, err)
	}
}
