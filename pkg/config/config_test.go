package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvAPIKey, EnvModel, EnvPort} {
		t.Setenv(key, "")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Load of a missing file = %+v, want defaults", cfg)
	}
}

func TestLoadYAMLAndEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "safelink.yaml", `
extraction:
  call_deadline: 3s
  domain_timeout: 2s
  page_timeout: 2s
  external_timeout: 1s
  probe_timeout: 100ms
  workers: 4
rank:
  api_key: from-file
model:
  path: model.json
server:
  allowed_origins: ["https://example.com"]
`)
	t.Setenv(EnvAPIKey, "from-env")
	t.Setenv(EnvPort, "8080")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Extraction.CallDeadline != 3*time.Second {
		t.Errorf("CallDeadline = %s", cfg.Extraction.CallDeadline)
	}
	if cfg.Extraction.Workers != 4 {
		t.Errorf("Workers = %d", cfg.Extraction.Workers)
	}
	if cfg.Rank.APIKey != "from-env" {
		t.Errorf("APIKey = %q, want env value", cfg.Rank.APIKey)
	}
	if cfg.Model.Path != "model.json" {
		t.Errorf("Model.Path = %q", cfg.Model.Path)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	// Untouched sections keep their defaults.
	if cfg.DNS.Resolver != Default().DNS.Resolver {
		t.Errorf("Resolver = %q", cfg.DNS.Resolver)
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "malformed yaml", content: "extraction: [", wantErr: "parse config"},
		{name: "timeout above deadline", content: "extraction:\n  call_deadline: 1s\n", wantErr: "exceeds call_deadline"},
		{name: "zero workers", content: "extraction:\n  workers: 0\n", wantErr: "workers"},
		{name: "empty resolver", content: "dns:\n  resolver: \"\"\n", wantErr: "resolver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "bad.yaml", tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Load error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv(EnvModel, "")
	os.Unsetenv(EnvModel)

	path := writeFile(t, ".env", EnvModel+"=from-dotenv.json\n")
	missing := filepath.Join(t.TempDir(), ".env.local")
	if err := LoadDotEnv(missing, path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(EnvModel); got != "from-dotenv.json" {
		t.Errorf("%s = %q", EnvModel, got)
	}
}

func TestDatasetRow(t *testing.T) {
	header := DatasetHeader([]string{"UsingIP", "LongURL"})
	if want := []string{"Index", "UsingIP", "LongURL", "class"}; !reflect.DeepEqual(header, want) {
		t.Errorf("DatasetHeader = %v, want %v", header, want)
	}

	row := Vector{Phishing, Suspicious, Legitimate}.ToCSVRow(7, ClassPhishing)
	if want := []string{"7", "-1", "0", "1", "-1"}; !reflect.DeepEqual(row, want) {
		t.Errorf("ToCSVRow = %v, want %v", row, want)
	}
}

func TestReportAccessors(t *testing.T) {
	r := &Report{
		Vector: Vector{1, -1},
		Names:  []string{"UsingIP", "LongURL"},
		Slots: map[string]Slot{
			"UsingIP": {Index: 0, Value: 1},
			"LongURL": {Index: 1, Value: -1, FallbackUsed: true},
		},
	}
	if got := r.Features(); got["UsingIP"] != 1 || got["LongURL"] != -1 {
		t.Errorf("Features = %v", got)
	}
	if got := r.FallbackCount(); got != 1 {
		t.Errorf("FallbackCount = %d, want 1", got)
	}

	clone := r.Vector.Clone()
	clone[0] = 0
	if r.Vector[0] != 1 {
		t.Error("Clone shares the backing array")
	}
}
