package categorize

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
threshold: 0.5
categories:
  - name: Food & Dining
    keywords:
      - coffee
      - restaurant
  - name: Transportation
    keywords:
      - uber
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Threshold != 0.5 {
		t.Errorf("threshold = %v, want 0.5", cfg.Threshold)
	}
	if len(cfg.Rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(cfg.Rules))
	}
	if cfg.Rules[0].Category != "Food & Dining" {
		t.Errorf("first category = %q", cfg.Rules[0].Category)
	}
	if got := cfg.Categories(); got[1] != "Transportation" {
		t.Errorf("Categories()[1] = %q, want Transportation", got[1])
	}
}

func TestParseConfigDefaultThreshold(t *testing.T) {
	cfg, err := ParseConfig([]byte("categories:\n  - name: Misc\n    keywords: [misc]\n"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Threshold != DefaultThreshold {
		t.Errorf("threshold = %v, want default %v", cfg.Threshold, DefaultThreshold)
	}
}

func TestParseConfigErrors(t *testing.T) {
	if _, err := ParseConfig([]byte("categories: []")); err == nil {
		t.Error("expected error for empty category list")
	}
	if _, err := ParseConfig([]byte("{not yaml")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestLoadConfigLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Rules) != 2 {
		t.Errorf("rules = %d, want 2", len(cfg.Rules))
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(context.Background(), filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestExemplarText(t *testing.T) {
	r := Rule{Category: "Food & Dining", Patterns: []string{"coffee", "restaurant"}}
	if got := r.ExemplarText(); got != "Food & Dining coffee restaurant" {
		t.Errorf("ExemplarText = %q", got)
	}
	empty := Rule{Category: "Misc"}
	if got := empty.ExemplarText(); got != "Misc" {
		t.Errorf("ExemplarText = %q, want Misc", got)
	}
}

func TestDefaultConfigIsValidTaxonomy(t *testing.T) {
	cfg := DefaultConfig()
	if len(cfg.Rules) == 0 {
		t.Fatal("default config has no categories")
	}
	if cfg.Threshold != DefaultThreshold {
		t.Errorf("threshold = %v, want %v", cfg.Threshold, DefaultThreshold)
	}
	seen := make(map[string]bool)
	for _, r := range cfg.Rules {
		if r.Category == "" {
			t.Error("category with empty name")
		}
		if seen[r.Category] {
			t.Errorf("duplicate category %q", r.Category)
		}
		seen[r.Category] = true
		if len(r.Patterns) == 0 {
			t.Errorf("category %q has no keywords", r.Category)
		}
	}
}
