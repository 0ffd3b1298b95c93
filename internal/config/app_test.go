package config

import (
	"testing"
	"time"

	"sadhana-metering/pkg/metering"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %s, want 8080", cfg.Server.Port)
	}
	if cfg.LLM.Provider != ProviderOpenRouter {
		t.Errorf("LLM.Provider = %s, want %s", cfg.LLM.Provider, ProviderOpenRouter)
	}
	if cfg.LLM.HistoryTurns != 10 {
		t.Errorf("LLM.HistoryTurns = %d, want 10", cfg.LLM.HistoryTurns)
	}
	if cfg.Usage.Store != UsageStorePostgres {
		t.Errorf("Usage.Store = %s, want %s", cfg.Usage.Store, UsageStorePostgres)
	}
	if cfg.Usage.ReferenceTimezone != metering.DefaultReferenceTimezone {
		t.Errorf("Usage.ReferenceTimezone = %s", cfg.Usage.ReferenceTimezone)
	}
	if cfg.Auth.TokenExpiration != 24*time.Hour {
		t.Errorf("Auth.TokenExpiration = %v, want 24h", cfg.Auth.TokenExpiration)
	}
	if cfg.Vision.BaseURL != cfg.LLM.OpenRouterBaseURL {
		t.Errorf("Vision.BaseURL = %s, want the OpenRouter base URL", cfg.Vision.BaseURL)
	}
	if err := cfg.Plans.Validate(); err != nil {
		t.Errorf("Plans.Validate() error = %v", err)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"JWT_SECRET": ""}},
		{"short secret", map[string]string{"JWT_SECRET": "short"}},
		{"unknown provider", map[string]string{"JWT_SECRET": testSecret, "LLM_PROVIDER": "carrier-pigeon"}},
		{"unknown usage store", map[string]string{"JWT_SECRET": testSecret, "USAGE_STORE": "redis"}},
		{"zero history", map[string]string{"JWT_SECRET": testSecret, "CHAT_HISTORY_TURNS": "0"}},
		{"missing plans file", map[string]string{"JWT_SECRET": testSecret, "PLANS_CONFIG_PATH": "/nonexistent/plans.json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Error("LoadConfig() error = nil, want error")
			}
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "not-a-number")
	if got := getEnvAsInt("TEST_INT", 7); got != 7 {
		t.Errorf("getEnvAsInt() = %d, want default 7", got)
	}
	t.Setenv("TEST_FLOAT", "2.5")
	if got := getEnvAsFloat("TEST_FLOAT", 1); got != 2.5 {
		t.Errorf("getEnvAsFloat() = %v, want 2.5", got)
	}
	t.Setenv("TEST_DURATION", "90s")
	if got := getEnvAsDuration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvAsDuration() = %v, want 90s", got)
	}
}

func TestDatabaseConfig_GetDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	want := "host=db port=5432 user=u password=p dbname=n sslmode=disable"
	if got := c.GetDSN(); got != want {
		t.Errorf("GetDSN() = %s, want %s", got, want)
	}
}
