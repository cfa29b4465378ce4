// Package config loads the hierarchical, section-based settings document
// spec §6 describes only abstractly ("a hierarchical section-based text
// file"): a TOML/YAML/JSON document — whichever extension the path names —
// read once at startup via github.com/spf13/viper, exposing exactly the
// fields spec §6 names (vertex_force_radius, central_force_strength,
// attenuation, time_factor, the named unit-type list, the domain box).
// CLI flag parsing and file-dialog wiring stay out of scope per spec.md's
// Non-goals; this package only defines the schema and Load.
package config

import (
	"fmt"
	"sort"

	"github.com/spf13/viper"

	"github.com/vrui-vr/nck/internal/geom"
	"github.com/vrui-vr/nck/internal/sim"
	"github.com/vrui-vr/nck/internal/unittype"
)

// UnitTypeConfig is one [unittypes.<name>] section.
type UnitTypeConfig struct {
	Radius          float32     `mapstructure:"radius"`
	Mass            float32     `mapstructure:"mass"`
	MomentOfInertia [3]float32  `mapstructure:"moment_of_inertia"`
	BondSites       [][3]float32 `mapstructure:"bond_sites"`
	MeshVertices    [][3]float32 `mapstructure:"mesh_vertices"`
	MeshTriangles   [][3]uint32  `mapstructure:"mesh_triangles"`
}

// DomainConfig is the [domain] section: the toroidal simulation volume.
type DomainConfig struct {
	Min [3]float32 `mapstructure:"min"`
	Max [3]float32 `mapstructure:"max"`
}

// Config is the fully decoded settings document.
type Config struct {
	VertexForceRadius     float32 `mapstructure:"vertex_force_radius"`
	VertexForceStrength   float32 `mapstructure:"vertex_force_strength"`
	CentralForceOvershoot float32 `mapstructure:"central_force_overshoot"`
	CentralForceStrength  float32 `mapstructure:"central_force_strength"`
	DeltaTMax             float32 `mapstructure:"delta_t_max"`

	Attenuation float32 `mapstructure:"attenuation"`
	TimeFactor  float32 `mapstructure:"time_factor"`
	LinearDamp  float32 `mapstructure:"linear_damp"`
	AngularDamp float32 `mapstructure:"angular_damp"`

	Domain    DomainConfig               `mapstructure:"domain"`
	UnitTypes map[string]UnitTypeConfig `mapstructure:"unittypes"`
}

// Load reads and decodes the settings document at path. viper infers the
// format from the file extension (.toml, .yaml, .json, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := sim.DefaultConstants()
	v.SetDefault("vertex_force_radius", defaults.VertexForceRadius)
	v.SetDefault("vertex_force_strength", defaults.VertexForceStrength)
	v.SetDefault("central_force_overshoot", defaults.CentralOvershoot)
	v.SetDefault("central_force_strength", defaults.CentralStrength)
	v.SetDefault("delta_t_max", defaults.DeltaTMax)
	v.SetDefault("attenuation", float32(0.98))
	v.SetDefault("time_factor", float32(1.0))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return &cfg, nil
}

// Session builds a fresh sim.Session (session id 1, the startup session)
// from the loaded config, constructing the unit-type registry in
// alphabetical name order so Load is deterministic across runs.
func (c *Config) Session() (sim.Session, error) {
	names := make([]string, 0, len(c.UnitTypes))
	for name := range c.UnitTypes {
		names = append(names, name)
	}
	sort.Strings(names)

	types := make([]unittype.Type, 0, len(names))
	for _, name := range names {
		ut := c.UnitTypes[name]

		bondSites := make([]unittype.BondSite, len(ut.BondSites))
		for i, o := range ut.BondSites {
			bondSites[i] = unittype.BondSite{Offset: geom.Vector{o[0], o[1], o[2]}}
		}
		verts := make([]geom.Vector, len(ut.MeshVertices))
		for i, v := range ut.MeshVertices {
			verts[i] = geom.Vector{v[0], v[1], v[2]}
		}
		tris := make([]unittype.MeshTriangle, len(ut.MeshTriangles))
		for i, t := range ut.MeshTriangles {
			tris[i] = unittype.MeshTriangle{A: t[0], B: t[1], C: t[2]}
		}

		types = append(types, unittype.Type{
			Name:            name,
			Radius:          ut.Radius,
			Mass:            ut.Mass,
			MomentOfInertia: unittype.DiagonalTensor(ut.MomentOfInertia[0], ut.MomentOfInertia[1], ut.MomentOfInertia[2]),
			BondSites:       bondSites,
			MeshVertices:    verts,
			MeshTriangles:   tris,
		})
	}

	reg, err := unittype.NewRegistry(types)
	if err != nil {
		return sim.Session{}, fmt.Errorf("config: building unit-type registry: %w", err)
	}

	return sim.Session{
		ID: 1,
		Domain: geom.Box{
			Min: geom.Vector{c.Domain.Min[0], c.Domain.Min[1], c.Domain.Min[2]},
			Max: geom.Vector{c.Domain.Max[0], c.Domain.Max[1], c.Domain.Max[2]},
		},
		UnitTypes: reg,
		Parameters: sim.Parameters{
			LinearDamp:  c.LinearDamp,
			AngularDamp: c.AngularDamp,
			Attenuation: c.Attenuation,
			TimeFactor:  c.TimeFactor,
		},
		Constants: sim.Constants{
			VertexForceRadius:   c.VertexForceRadius,
			VertexForceStrength: c.VertexForceStrength,
			CentralOvershoot:    c.CentralForceOvershoot,
			CentralStrength:     c.CentralForceStrength,
			DeltaTMax:           c.DeltaTMax,
		},
	}, nil
}
