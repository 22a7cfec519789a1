package material

// AirID names the empty material. A zero Material is also air.
const AirID = "air"

// Air is the canonical empty material.
var Air = Material{ID: AirID, Color: "#000000"}

// Material is a comparable value describing what occupies a cell. Two
// materials are the same material when all of their fields are equal.
type Material struct {
	ID      string `json:"id" yaml:"id"`
	Color   string `json:"color,omitempty" yaml:"color,omitempty"`
	Liquid  bool   `json:"liquid,omitempty" yaml:"liquid,omitempty"`
	Reliant bool   `json:"reliant,omitempty" yaml:"reliant,omitempty"`
}

func (m Material) IsAir() bool {
	return m.ID == "" || m.ID == AirID
}

func (m Material) IsLiquid() bool {
	return m.Liquid
}

// IsReliantOnEnvironment reports whether the material needs a supporting
// cell beneath it to stay in place.
func (m Material) IsReliantOnEnvironment() bool {
	return m.Reliant
}

// Sensitive reports whether writing around this material in the wrong order
// can disturb it: liquids flow and reliant materials break.
func (m Material) Sensitive() bool {
	return m.Liquid || m.Reliant
}

// Supports reports whether a reliant material can rest on top of m.
func (m Material) Supports() bool {
	return !m.IsAir() && !m.Liquid && !m.Reliant
}

func (m Material) String() string {
	if m.ID == "" {
		return AirID
	}
	return m.ID
}
