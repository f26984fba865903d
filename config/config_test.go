package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Dispatch.Steps != 6 || cfg.Dispatch.StepDelay != 900*time.Millisecond {
		t.Errorf("dispatch defaults = %+v", cfg.Dispatch)
	}
}

func TestLoadFileAndSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetwatch.yaml")
	data := []byte("simulation:\n  interval: 500ms\n  move_radius: 0.002\nbus:\n  driver: redis\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Simulation.Interval != 500*time.Millisecond {
		t.Errorf("Interval = %v, want 500ms", cfg.Simulation.Interval)
	}
	if cfg.Simulation.MoveRadius != 0.002 {
		t.Errorf("MoveRadius = %v", cfg.Simulation.MoveRadius)
	}
	if cfg.Bus.Driver != "redis" {
		t.Errorf("Bus.Driver = %q", cfg.Bus.Driver)
	}
	// Untouched fields keep defaults.
	if cfg.Simulation.IdleChance != 0.15 {
		t.Errorf("IdleChance = %v, want default", cfg.Simulation.IdleChance)
	}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Simulation.Interval != 500*time.Millisecond {
		t.Errorf("reloaded Interval = %v", again.Simulation.Interval)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SIMULATION_INTERVAL_MS":       "1000",
		"OFFLINE_AFTER_MS":             "3000",
		"ZONE_ALLOW_SELF_INTERSECTION": "true",
		"DATABASE_URL":                 "postgres://u:p@db/fleet",
		"SIMULATION_ENABLED":           "false",
		"PORT":                         "not-a-number",
	}
	cfg := Defaults()
	cfg.applyEnv(func(k string) string { return env[k] })

	if cfg.Simulation.Interval != time.Second {
		t.Errorf("Interval = %v", cfg.Simulation.Interval)
	}
	if cfg.Simulation.OfflineAfter != 3*time.Second {
		t.Errorf("OfflineAfter = %v", cfg.Simulation.OfflineAfter)
	}
	if !cfg.Zones.AllowSelfIntersection {
		t.Error("AllowSelfIntersection should be true")
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.URL == "" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Simulation.Enabled {
		t.Error("Enabled should be false")
	}
	if cfg.Web.Port != 3001 {
		t.Errorf("Port = %d, want default on bad input", cfg.Web.Port)
	}
}

func TestPatchSimulation(t *testing.T) {
	cfg := Defaults()
	interval := 250 * time.Millisecond
	badChance := 1.5
	radius := 0.005
	got := cfg.PatchSimulation(SimulationPatch{
		Interval:      &interval,
		OfflineChance: &badChance,
		MoveRadius:    &radius,
	})
	if got.Interval != interval {
		t.Errorf("Interval = %v", got.Interval)
	}
	if got.OfflineChance != 0.02 {
		t.Errorf("OfflineChance = %v, out-of-range patch should be ignored", got.OfflineChance)
	}
	if cfg.SimulationSnapshot().MoveRadius != radius {
		t.Errorf("snapshot MoveRadius = %v", cfg.SimulationSnapshot().MoveRadius)
	}
}
