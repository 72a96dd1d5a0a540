// cliparse/cliparse_test.go
package cliparse

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestParseFlags_EnvVars(t *testing.T) {
	// Set env vars
	os.Setenv("PORT", "9000")
	os.Setenv("IDENTITY_SECRET", "test-secret")
	os.Setenv("SESSION_TTL", "10m")
	os.Setenv("REQUIRE_REASONING", "false")
	os.Setenv("TALLY_WEIGHTING", "unit")
	os.Setenv("SUBNET_DAILY_CAP", "7")
	os.Setenv("REQUESTS_PER_SECOND", "2.5")
	os.Setenv("TRUST_PROXY", "true")
	os.Setenv("ALLOWED_ORIGINS", "app.example.com, *.example.org,")
	defer os.Clearenv()

	cfg, err := ParseFlags([]string{})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.SessionTTL != 10*time.Minute {
		t.Errorf("expected session TTL 10m, got %v", cfg.SessionTTL)
	}
	if cfg.RequireReasoning {
		t.Error("expected REQUIRE_REASONING=false to be honoured")
	}
	if cfg.TallyWeighting != "unit" {
		t.Errorf("expected unit weighting, got %q", cfg.TallyWeighting)
	}
	if cfg.SubnetDailyCap != 7 {
		t.Errorf("expected subnet cap 7, got %d", cfg.SubnetDailyCap)
	}
	if cfg.RequestsPerSecond != 2.5 {
		t.Errorf("expected 2.5 requests per second, got %v", cfg.RequestsPerSecond)
	}
	if !cfg.TrustProxy {
		t.Error("expected TRUST_PROXY=true to be honoured")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "app.example.com" || cfg.AllowedOrigins[1] != "*.example.org" {
		t.Errorf("expected two allowed origins, got %q", cfg.AllowedOrigins)
	}
}

func TestParseFlags_Defaults(t *testing.T) {
	os.Clearenv()
	os.Setenv("IDENTITY_SECRET", "test-secret")
	defer os.Clearenv()

	cfg, err := ParseFlags([]string{})
	if err != nil {
		t.Fatal(err)
	}

	want := Defaults()
	want.IdentitySecret = "test-secret"
	if !reflect.DeepEqual(cfg, want) {
		t.Errorf("expected defaults %+v, got %+v", want, cfg)
	}
}

func TestParseFlags_CLIOverridesEnv(t *testing.T) {
	os.Setenv("PORT", "9000")
	os.Setenv("STORAGE_BACKEND", "redis")
	defer os.Clearenv()

	cfg, err := ParseFlags([]string{"-p", "8080", "-s", "sqlite", "-d", "file:test.db", "-secret", "s1"})
	if err != nil {
		t.Fatal(err)
	}

	// CLI should override env
	if cfg.Port != 8080 {
		t.Errorf("CLI should override env: expected 8080, got %d", cfg.Port)
	}
	if cfg.StorageBackend != "sqlite" {
		t.Errorf("CLI should override env: expected sqlite, got %s", cfg.StorageBackend)
	}
}

func TestParseFlags_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{"missing secret", nil, nil},
		{"redis without url", map[string]string{"IDENTITY_SECRET": "s"}, []string{"-s", "redis"}},
		{"postgres without url", map[string]string{"IDENTITY_SECRET": "s", "STORAGE_BACKEND": "postgres"}, nil},
		{"unknown backend", map[string]string{"IDENTITY_SECRET": "s"}, []string{"-s", "etcd"}},
		{"bad port", map[string]string{"IDENTITY_SECRET": "s", "PORT": "abc"}, nil},
		{"bad ttl", map[string]string{"IDENTITY_SECRET": "s", "SESSION_TTL": "soon"}, nil},
		{"bad weighting", map[string]string{"IDENTITY_SECRET": "s", "TALLY_WEIGHTING": "raw"}, nil},
		{"missing env file", map[string]string{"IDENTITY_SECRET": "s"}, []string{"-env", "/nonexistent/.env"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.env {
				os.Setenv(k, v)
			}
			defer os.Clearenv()

			if _, err := ParseFlags(tt.args); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestParseFlags_EnvFile(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	path := filepath.Join(t.TempDir(), "test.env")
	content := "IDENTITY_SECRET=from-file\nPORT=7000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	// Real environment wins over the file
	os.Setenv("PORT", "7100")

	cfg, err := ParseFlags([]string{"-env", path})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.IdentitySecret != "from-file" {
		t.Errorf("expected secret from env file, got %q", cfg.IdentitySecret)
	}
	if cfg.Port != 7100 {
		t.Errorf("expected existing env to win, got port %d", cfg.Port)
	}
}
