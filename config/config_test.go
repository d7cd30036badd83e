package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"houseprice/pipeline"
)

const sampleConfig = `
http:
  port: 9000
  timeout: 5s
artifacts:
  preprocessor_path: ./prep.json
  model_path: ./model.json
validation:
  locations: [urban, suburban, rural]
  conditions: [Poor, Fair, Good, Excellent]
batch:
  max_size: 10
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9000 {
		t.Fatalf("expected port 9000, got %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.Timeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %v", cfg.HTTP.Timeout)
	}
	if cfg.Batch.MaxSize != 10 || cfg.Batch.Workers != 1 {
		t.Fatalf("unexpected batch config: %+v", cfg.Batch)
	}
	if cfg.Validation.YearBuiltMin != 1800 {
		t.Fatalf("expected default year_built_min 1800, got %d", cfg.Validation.YearBuiltMin)
	}
	if cfg.HTTP.MaxRequestBytes != 1<<20 {
		t.Fatalf("unexpected max request bytes %d", cfg.HTTP.MaxRequestBytes)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HOUSEPRICE_PORT", "9100")
	t.Setenv("HOUSEPRICE_MODEL_PATH", "/srv/model.json")
	t.Setenv("HOUSEPRICE_MAX_BATCH_SIZE", "25")

	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9100 {
		t.Fatalf("expected env port, got %d", cfg.HTTP.Port)
	}
	if cfg.Artifacts.ModelPath != "/srv/model.json" {
		t.Fatalf("expected env model path, got %s", cfg.Artifacts.ModelPath)
	}
	if cfg.Batch.MaxSize != 25 {
		t.Fatalf("expected env batch size, got %d", cfg.Batch.MaxSize)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("HOUSEPRICE_PORT", "eighty")
	if _, err := Load(writeConfig(t, sampleConfig)); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name: "missing enumerations",
			content: `
artifacts:
  preprocessor_path: a
  model_path: b
`,
			want: "validation.locations must not be empty",
		},
		{
			name: "missing artifacts",
			content: `
validation:
  locations: [urban]
  conditions: [Good]
`,
			want: "artifacts.model_path is required",
		},
		{
			name: "negative batch size",
			content: sampleConfig + `
  workers: -1
`,
			want: "batch.workers must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %v", tt.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidationRulesFeedValidator(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	now := func() time.Time { return time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC) }
	rules := cfg.Validation.Rules(now)
	if strings.Join(rules.Locations, ",") != "urban,suburban,rural" {
		t.Errorf("locations = %v", rules.Locations)
	}
	if rules.YearBuiltMin != 1800 || rules.Now().Year() != 2026 {
		t.Errorf("unexpected rules %+v", rules)
	}
	if _, err := pipeline.NewValidator(rules); err != nil {
		t.Errorf("NewValidator: %v", err)
	}
}
