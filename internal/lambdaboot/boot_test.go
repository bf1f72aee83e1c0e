package lambdaboot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fpang/media-ingest/internal/config"
)

func localConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "media.db")
	cfg.DescribeProvider = config.ProviderNone
	cfg.EmbedProvider = config.ProviderNone
	return cfg
}

func TestBuild_Local(t *testing.T) {
	app, err := Build(context.Background(), localConfig(t), nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()

	if app.Service == nil || app.Repo == nil || app.Instagram == nil {
		t.Fatalf("incomplete app: %+v", app)
	}
	if app.Ledger != nil {
		t.Error("ledger must be nil without AWS")
	}
	// No stored credential: the run fails without panicking.
	res := app.Service.Run(context.Background(), "user-1", "")
	if res.Status != "failed" {
		t.Errorf("status = %s", res.Status)
	}
}

func TestBuildRepository_AuroraNeedsAWS(t *testing.T) {
	cfg := localConfig(t)
	cfg.Backend = config.BackendAurora
	if _, _, err := BuildRepository(cfg, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestBuildDescriber(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		provider string
		openai   string
		wantNil  bool
		wantErr  bool
	}{
		{"none", config.ProviderNone, "", true, false},
		{"openai without key", config.ProviderOpenAI, "", true, true},
		{"openai", config.ProviderOpenAI, "sk-test", false, false},
		{"gemini without key", config.ProviderGemini, "", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.DescribeProvider = tt.provider
			cfg.OpenAIAPIKey = tt.openai
			d, err := BuildDescriber(ctx, cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if (d == nil) != tt.wantNil {
				t.Errorf("describer = %v", d)
			}
		})
	}
}

func TestBuildEmbedder(t *testing.T) {
	cfg := config.Default()

	cfg.EmbedProvider = config.ProviderTitan
	if e, err := BuildEmbedder(cfg, nil); err != nil || e != nil {
		t.Errorf("titan without AWS = %v, %v", e, err)
	}

	cfg.EmbedProvider = config.ProviderOpenAI
	if _, err := BuildEmbedder(cfg, nil); err == nil {
		t.Error("openai without key should fail")
	}
	cfg.OpenAIAPIKey = "sk-test"
	if e, err := BuildEmbedder(cfg, nil); err != nil || e == nil {
		t.Errorf("openai = %v, %v", e, err)
	}
}
