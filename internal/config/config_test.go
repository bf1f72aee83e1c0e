package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Workers != 14 {
		t.Errorf("Workers = %d, want 14", cfg.Workers)
	}
	if cfg.FetchCap != 500 {
		t.Errorf("FetchCap = %d, want 500", cfg.FetchCap)
	}
	if cfg.PageSize != 20 {
		t.Errorf("PageSize = %d, want 20", cfg.PageSize)
	}
	if cfg.BatchSize != 1000 {
		t.Errorf("BatchSize = %d, want 1000", cfg.BatchSize)
	}
	if cfg.CallTimeout != 60*time.Second {
		t.Errorf("CallTimeout = %v, want 60s", cfg.CallTimeout)
	}
	if cfg.Backend != BackendSQLite {
		t.Errorf("Backend = %q, want sqlite", cfg.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("INGEST_WORKERS", "4")
	t.Setenv("INGEST_CALL_TIMEOUT", "5s")
	t.Setenv("DESCRIBE_PROVIDER", "openai")
	t.Setenv("EMBED_PROVIDER", "none")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.CallTimeout != 5*time.Second {
		t.Errorf("CallTimeout = %v, want 5s", cfg.CallTimeout)
	}
	if cfg.DescribeProvider != ProviderOpenAI {
		t.Errorf("DescribeProvider = %q", cfg.DescribeProvider)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero workers", func(c *Config) { c.Workers = 0 }, "INGEST_WORKERS"},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, "INGEST_BATCH_SIZE"},
		{"bad provider", func(c *Config) { c.DescribeProvider = "claude" }, "DESCRIBE_PROVIDER"},
		{"bad embedder", func(c *Config) { c.EmbedProvider = "x" }, "EMBED_PROVIDER"},
		{"aurora without arns", func(c *Config) { c.Backend = BackendAurora }, "AURORA_CLUSTER_ARN"},
		{"unknown backend", func(c *Config) { c.Backend = "mysql" }, "REPOSITORY_BACKEND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %s", err, tt.wantErr)
			}
		})
	}
}
