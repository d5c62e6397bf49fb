package j1939

import (
	"fmt"
	"io/ioutil"
	"sort"

	"github.com/Masterminds/semver"
	"gopkg.in/yaml.v2"
)

// Catalog files are gated on a schema version so an old generator binary
// refuses signal sets it does not understand.
const CATALOG_SCHEMA = ">= 1.0.0, < 2.0.0"

// SignalDefinition describes one addressable signal: where its raw value
// lives inside the 8 byte data field and how raw maps to physical
// (physical = raw*resolution + offset). StartByte and StartBit are 1-based,
// with bit 1 being the least significant bit of the start byte.
type SignalDefinition struct {
	ID               string  `yaml:"id"`
	PGN              uint32  `yaml:"pgn"`
	SPN              uint32  `yaml:"spn"`
	Name             string  `yaml:"name"`
	Unit             string  `yaml:"unit"`
	Resolution       float64 `yaml:"resolution"`
	Offset           float64 `yaml:"offset"`
	StartByte        uint8   `yaml:"start_byte"`
	StartBit         uint8   `yaml:"start_bit"`
	LengthBits       uint8   `yaml:"length_bits"`
	TransmissionRate uint32  `yaml:"transmission_rate"` // ms between emissions in the simulator
	MinPhysical      float64 `yaml:"min_physical"`
	MaxPhysical      float64 `yaml:"max_physical"`
}

// Validate checks that the definition addresses a bit span that actually fits
// inside an 8 byte frame.
func (def *SignalDefinition) Validate() error {
	if def.Resolution == 0 {
		return SignalDefinitionError{def.ID, "resolution cannot be zero"}
	}
	if def.StartByte < 1 {
		return SignalDefinitionError{def.ID, "start_byte is 1-based"}
	}
	if def.StartBit < 1 || def.StartBit > 8 {
		return SignalDefinitionError{def.ID, "start_bit must be within 1..8"}
	}
	if def.LengthBits < 1 {
		return SignalDefinitionError{def.ID, "length_bits must be at least 1"}
	}
	span := uint(def.StartByte-1)*8 + uint(def.StartBit-1) + uint(def.LengthBits)
	if span > 64 {
		return SignalDefinitionError{def.ID, fmt.Sprintf("bit span ends at %d, beyond the 64 bit frame", span)}
	}
	if def.MinPhysical > def.MaxPhysical {
		return SignalDefinitionError{def.ID, "min_physical exceeds max_physical"}
	}
	return nil
}

// ParameterGroup is one PGN worth of catalog data. Priority is informational
// only; the encoder transmits everything at priority 6 (see ComputeCANID).
type ParameterGroup struct {
	PGN      uint32                       `yaml:"pgn"`
	Name     string                       `yaml:"name"`
	Priority uint8                        `yaml:"priority"`
	SPNs     map[uint32]*SignalDefinition `yaml:"spns"`
}

// Catalog is the static signal registry. It is built once at startup and
// read-only afterwards, so it is safe to share between the HTTP views, the
// shell and the simulation worker without locking.
type Catalog struct {
	groups map[uint32]*ParameterGroup
	live   map[string]*SignalDefinition
	order  []string // live signal declaration order; the simulator's round-robin follows it
}

func NewCatalog(groups []*ParameterGroup, live []*SignalDefinition) (c *Catalog, err error) {
	c = new(Catalog)
	c.groups = make(map[uint32]*ParameterGroup, len(groups))
	c.live = make(map[string]*SignalDefinition, len(live))

	for _, group := range groups {
		c.groups[group.PGN] = group
	}

	for _, def := range live {
		if err = def.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.live[def.ID]; dup {
			return nil, SignalDefinitionError{def.ID, "duplicate signal id"}
		}
		c.live[def.ID] = def
		c.order = append(c.order, def.ID)
	}

	return c, nil
}

// ParameterGroups returns every catalog group in ascending PGN order.
func (c *Catalog) ParameterGroups() (groups []*ParameterGroup) {
	groups = make([]*ParameterGroup, 0, len(c.groups))
	for _, group := range c.groups {
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].PGN < groups[j].PGN })
	return
}

// SPNs returns the signal definitions of one group in ascending SPN order.
// An unknown PGN yields an empty slice, not an error.
func (c *Catalog) SPNs(pgn uint32) (defs []*SignalDefinition) {
	defs = make([]*SignalDefinition, 0)
	group, ok := c.groups[pgn]
	if !ok {
		return
	}
	for _, def := range group.SPNs {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].SPN < defs[j].SPN })
	return
}

// LiveSignals returns the simulated signal set in declaration order.
func (c *Catalog) LiveSignals() (defs []*SignalDefinition) {
	defs = make([]*SignalDefinition, 0, len(c.order))
	for _, id := range c.order {
		defs = append(defs, c.live[id])
	}
	return
}

func (c *Catalog) LiveSignal(id string) (*SignalDefinition, error) {
	def, ok := c.live[id]
	if !ok {
		return nil, UnknownSignalError{id}
	}
	return def, nil
}

type catalogFile struct {
	Version string              `yaml:"version"`
	Groups  []*ParameterGroup   `yaml:"groups"`
	Signals []*SignalDefinition `yaml:"signals"`
}

// LoadCatalog reads a signal catalog from a yaml file. Signals are declared as
// a list so their simulation order survives the parse.
func LoadCatalog(path string) (c *Catalog, err error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read catalog file: %v", err)
	}

	var file catalogFile
	if err = yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("unable to unmarshal catalog: %v", err)
	}

	version, err := semver.NewVersion(file.Version)
	if err != nil {
		return nil, fmt.Errorf("catalog version %q is not a semver: %v", file.Version, err)
	}
	constraint, err := semver.NewConstraint(CATALOG_SCHEMA)
	if err != nil {
		return nil, err
	}
	if !constraint.Check(version) {
		return nil, fmt.Errorf("catalog version %s does not satisfy %s", version, CATALOG_SCHEMA)
	}

	for _, group := range file.Groups {
		for spn, def := range group.SPNs {
			// group entries inherit their map key and owning pgn
			def.SPN = spn
			def.PGN = group.PGN
		}
	}

	return NewCatalog(file.Groups, file.Signals)
}

// DefaultCatalog is the built-in signal set used when no catalog file is
// provided. Values taken from the SAE J1939-71 signal tables.
func DefaultCatalog() *Catalog {
	groups := []*ParameterGroup{
		{
			PGN:      61444, // 0xF004
			Name:     "Engine Torque / Speed",
			Priority: 3,
			SPNs: map[uint32]*SignalDefinition{
				190: {
					PGN: 61444, SPN: 190,
					Name:       "Engine Speed",
					Unit:       "rpm",
					Resolution: 0.125, Offset: 0,
					StartByte: 4, StartBit: 1, LengthBits: 16,
					MinPhysical: 0, MaxPhysical: 8031.875,
				},
				512: {
					PGN: 61444, SPN: 512,
					Name:       "Driver Demand Engine % Torque",
					Unit:       "%",
					Resolution: 1.0, Offset: -125,
					StartByte: 2, StartBit: 1, LengthBits: 8,
					MinPhysical: -125, MaxPhysical: 125,
				},
			},
		},
		{
			PGN:      65265, // 0xFEF1
			Name:     "Vehicle Speed",
			Priority: 6,
			SPNs: map[uint32]*SignalDefinition{
				84: {
					PGN: 65265, SPN: 84,
					Name:       "Wheel-Based Vehicle Speed",
					Unit:       "km/h",
					Resolution: 1.0 / 256, Offset: 0,
					StartByte: 2, StartBit: 1, LengthBits: 16,
					MinPhysical: 0, MaxPhysical: 250.996,
				},
			},
		},
		{
			PGN:      65269, // 0xFEF5
			Name:     "Environmental Data",
			Priority: 6,
			SPNs: map[uint32]*SignalDefinition{
				170: {
					PGN: 65269, SPN: 170,
					Name:       "Cab Interior Temperature",
					Unit:       "°C",
					Resolution: 0.03125, Offset: -273,
					StartByte: 2, StartBit: 1, LengthBits: 16,
					MinPhysical: -273, MaxPhysical: 1735,
				},
			},
		},
	}

	live := []*SignalDefinition{
		{
			ID: "engine_speed", PGN: 61444, SPN: 190,
			Name: "Engine Speed", Unit: "rpm",
			Resolution: 0.125, Offset: 0,
			StartByte: 4, StartBit: 1, LengthBits: 16,
			TransmissionRate: 50,
			MinPhysical:      0, MaxPhysical: 8031.875,
		},
		{
			ID: "vehicle_speed", PGN: 65265, SPN: 84,
			Name: "Vehicle Speed", Unit: "km/h",
			Resolution: 1.0 / 256, Offset: 0,
			StartByte: 2, StartBit: 1, LengthBits: 16,
			TransmissionRate: 100,
			MinPhysical:      0, MaxPhysical: 250.996,
		},
		{
			ID: "cab_temperature", PGN: 65269, SPN: 170,
			Name: "Cab Temperature", Unit: "°C",
			Resolution: 0.03125, Offset: -273,
			StartByte: 2, StartBit: 1, LengthBits: 16,
			TransmissionRate: 1000,
			MinPhysical:      -273, MaxPhysical: 1735,
		},
		{
			ID: "driver_torque", PGN: 61444, SPN: 512,
			Name: "Driver Torque", Unit: "%",
			Resolution: 1.0, Offset: -125,
			StartByte: 2, StartBit: 1, LengthBits: 8,
			TransmissionRate: 50,
			MinPhysical:      -125, MaxPhysical: 125,
		},
	}

	c, err := NewCatalog(groups, live)
	if err != nil {
		// the built-in set is static and known good
		panic(err)
	}
	return c
}
