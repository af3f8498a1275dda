package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"ambia/internal/config"
	"ambia/internal/services"

	"github.com/prometheus/client_golang/prometheus"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(t.TempDir(), "engine_test.db"))
	t.Setenv("MONGODB_URI", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("GENERATOR_URL", "")
	t.Setenv("ENRICHER_URL", "")
	return config.Load()
}

func TestNew_OptionalCollaboratorsDisabled(t *testing.T) {
	e, err := New(context.Background(), testConfig(t), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer e.Close()

	if e.Mongo != nil || e.Audit != nil || e.Redis != nil {
		t.Error("Expected Mongo, audit and Redis to stay disabled without URLs")
	}

	_, err = e.Orch.SmartGenerate(context.Background(), "u1", "weather", nil)
	if !errors.Is(err, services.ErrGeneratorUnavailable) {
		t.Errorf("Expected ErrGeneratorUnavailable without GENERATOR_URL, got %v", err)
	}

	// Activity still lands without a generator
	if err := e.Orch.RecordActivity(context.Background(), "u1", "weather"); err != nil {
		t.Errorf("RecordActivity failed: %v", err)
	}
}

func TestNew_BadDatabaseURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabaseURL = ""

	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Error("Expected an empty DATABASE_URL to fail")
	}
}
