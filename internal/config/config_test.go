package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Payment.FeeBps != 500 || cfg.Payment.GraceDays != 7 || cfg.Payment.CancelAfterDays != 3 ||
		cfg.Payment.ProcessingTimeout != 15*time.Minute {
		t.Fatalf("payment defaults = %+v", cfg.Payment)
	}
	if cfg.Sweep.ProjectInterval != time.Hour || cfg.Sweep.MilestoneInterval != 2*time.Hour ||
		cfg.Sweep.PaymentInterval != 6*time.Hour || cfg.Sweep.ReminderInterval != 24*time.Hour {
		t.Fatalf("sweep cadences = %+v", cfg.Sweep)
	}
	if len(cfg.Sweep.ReminderLeadDays) != 3 || cfg.Sweep.ReminderLeadDays[0] != 7 {
		t.Fatalf("lead days = %v", cfg.Sweep.ReminderLeadDays)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("server:\n  port: \"9090\"\ndatabase:\n  driver: sqlite\nsweep:\n  project_interval: 30m\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("COMMISSION_PAYMENT_FEE_BPS", "250")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Database.Driver != "sqlite" {
		t.Fatalf("file values not applied: %+v %+v", cfg.Server, cfg.Database)
	}
	if cfg.Sweep.ProjectInterval != 30*time.Minute {
		t.Fatalf("project interval = %v", cfg.Sweep.ProjectInterval)
	}
	if cfg.Payment.FeeBps != 250 {
		t.Fatalf("env override not applied, fee_bps = %d", cfg.Payment.FeeBps)
	}
}

func TestLoadRejectsBadFee(t *testing.T) {
	t.Setenv("COMMISSION_PAYMENT_FEE_BPS", "10000")
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected validation error for fee_bps=10000")
	}
}
