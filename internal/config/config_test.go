package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("FAL_KEY", "")
	t.Setenv("FAL_API_KEY", "")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DISPATCH_MODE", "")
	t.Setenv("WORKER_CONCURRENCY", "")
	t.Setenv("FAL_POLL_INTERVAL_MS", "")

	cfg := Load()
	if cfg.DBDriver != "sqlite" {
		t.Fatalf("DBDriver = %q, want sqlite", cfg.DBDriver)
	}
	if cfg.DispatchMode != DispatchInline {
		t.Fatalf("DispatchMode = %q, want inline", cfg.DispatchMode)
	}
	if cfg.FalModel != "fal-ai/bytedance/seedream/v4/edit" {
		t.Fatalf("FalModel = %q", cfg.FalModel)
	}
	if cfg.WorkerConcurrency != 2 {
		t.Fatalf("WorkerConcurrency = %d, want 2", cfg.WorkerConcurrency)
	}
	if cfg.FalPollInterval != time.Second {
		t.Fatalf("FalPollInterval = %s, want 1s", cfg.FalPollInterval)
	}
	if !cfg.ResumeOnStart {
		t.Fatalf("expected ResumeOnStart by default")
	}
}

func TestValidate_RequiresAPIKey(t *testing.T) {
	t.Setenv("FAL_KEY", "")
	t.Setenv("FAL_API_KEY", "")

	if err := Load().Validate(); err == nil {
		t.Fatalf("expected missing api key to fail validation")
	}

	t.Setenv("FAL_API_KEY", "secret")
	cfg := Load()
	if cfg.FalAPIKey != "secret" {
		t.Fatalf("FalAPIKey = %q, want fallback to FAL_API_KEY", cfg.FalAPIKey)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidate_RejectsUnknownModes(t *testing.T) {
	t.Setenv("FAL_KEY", "secret")

	t.Setenv("DB_DRIVER", "oracle")
	if err := Load().Validate(); err == nil {
		t.Fatalf("expected unsupported driver to fail")
	}

	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DISPATCH_MODE", "kafka")
	if err := Load().Validate(); err == nil {
		t.Fatalf("expected unsupported dispatch mode to fail")
	}
}

func TestWorkerConcurrency_Clamped(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "500")
	if n := Load().WorkerConcurrency; n != 50 {
		t.Fatalf("WorkerConcurrency = %d, want 50", n)
	}
	t.Setenv("WORKER_CONCURRENCY", "-3")
	if n := Load().WorkerConcurrency; n != 2 {
		t.Fatalf("WorkerConcurrency = %d, want 2", n)
	}
}
