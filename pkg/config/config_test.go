package config

import (
	"testing"
	"time"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

func TestValidateRejectsMissingPassword(t *testing.T) {
	cfg := Config{
		Database: DatabaseConfig{MaxOpenConns: 10, MaxIdleConns: 5},
		Defaults: Defaults{IsolationLevel: model.IsolationFilter, KeyframeInterval: 100},
		WorkerCount: 1,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing DB_PASSWORD")
	}
}

func TestValidateRejectsIdleExceedingOpen(t *testing.T) {
	cfg := Config{
		Database: DatabaseConfig{Password: "x", MaxOpenConns: 5, MaxIdleConns: 10},
		Defaults: Defaults{IsolationLevel: model.IsolationFilter, KeyframeInterval: 100},
		WorkerCount: 1,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when idle conns exceed open conns")
	}
}

func TestValidateRejectsOutOfRangeIsolationLevel(t *testing.T) {
	cfg := Config{
		Database: DatabaseConfig{Password: "x", MaxOpenConns: 5, MaxIdleConns: 1},
		Defaults: Defaults{IsolationLevel: model.IsolationLevel(9), KeyframeInterval: 100},
		WorkerCount: 1,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for out-of-range isolation level")
	}
}

func TestDatabaseConfigDSN(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	dsn := cfg.DSN()
	if dsn != "host=db port=5432 user=u password=p dbname=d sslmode=disable" {
		t.Fatalf("unexpected DSN: %s", dsn)
	}
}

func TestValidatePassesWithGoodDefaults(t *testing.T) {
	cfg := Config{
		Database: DatabaseConfig{Password: "p", MaxOpenConns: 25, MaxIdleConns: 10, ConnMaxLifetime: time.Hour},
		Defaults: Defaults{IsolationLevel: model.IsolationFilter, KeyframeInterval: 100, SeedStrategy: model.SeedStrategyFixed},
		WorkerCount: 5,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
