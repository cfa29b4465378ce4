package config

import (
	"os"
	"path/filepath"
	"testing"
)

const testDoc = `
vertex_force_radius = 0.3
vertex_force_strength = 12
central_force_overshoot = 0.04
central_force_strength = 9
attenuation = 0.95
time_factor = 2
linear_damp = 0.1
angular_damp = 0.2

[domain]
min = [-10.0, -10.0, -10.0]
max = [10.0, 10.0, 10.0]

[unittypes.sphere]
radius = 0.5
mass = 1.0
moment_of_inertia = [1.0, 1.0, 1.0]

[unittypes.rod]
radius = 0.3
mass = 2.0
moment_of_inertia = [2.0, 1.0, 1.0]
bond_sites = [[0.5, 0.0, 0.0], [-0.5, 0.0, 0.0]]
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nck.toml")
	if err := os.WriteFile(path, []byte(testDoc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadDecodesAllSections(t *testing.T) {
	cfg, err := Load(writeTestConfig(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VertexForceRadius != 0.3 || cfg.CentralForceStrength != 9 {
		t.Fatalf("unexpected constants: %+v", cfg)
	}
	if cfg.Attenuation != 0.95 || cfg.TimeFactor != 2 {
		t.Fatalf("unexpected parameters: %+v", cfg)
	}
	if len(cfg.UnitTypes) != 2 {
		t.Fatalf("expected 2 unit types, got %d", len(cfg.UnitTypes))
	}
}

func TestLoadAppliesDefaultsWhenConstantsOmitted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minimal.toml")
	doc := `
[domain]
min = [-1.0, -1.0, -1.0]
max = [1.0, 1.0, 1.0]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VertexForceRadius != 0.25 || cfg.DeltaTMax != 0.06 {
		t.Fatalf("expected DefaultConstants values to apply, got %+v", cfg)
	}
}

func TestSessionBuildsOrderedRegistry(t *testing.T) {
	cfg, err := Load(writeTestConfig(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	session, err := cfg.Session()
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if session.UnitTypes.Len() != 2 {
		t.Fatalf("expected 2 registered unit types, got %d", session.UnitTypes.Len())
	}
	rod, ok := session.UnitTypes.Get(0)
	if !ok || rod.Name != "rod" {
		t.Fatalf("expected alphabetically-first type to be 'rod' at id 0, got %+v (ok=%v)", rod, ok)
	}
	if len(rod.BondSites) != 2 {
		t.Fatalf("expected rod to carry 2 bond sites, got %d", len(rod.BondSites))
	}
}

func TestSessionRejectsZeroMassUnitType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	doc := `
[domain]
min = [-1.0, -1.0, -1.0]
max = [1.0, 1.0, 1.0]

[unittypes.broken]
radius = 0.5
mass = 0.0
moment_of_inertia = [1.0, 1.0, 1.0]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := cfg.Session(); err == nil {
		t.Fatal("expected Session to reject a zero-mass unit type")
	}
}
