package config

import "voxeledit/internal/material"

// MaterialDefinition describes a material available to edits.
type MaterialDefinition struct {
	ID      string `yaml:"id" json:"id"`
	Color   string `yaml:"color" json:"color"`
	Liquid  bool   `yaml:"liquid,omitempty" json:"liquid,omitempty"`
	Reliant bool   `yaml:"reliant,omitempty" json:"reliant,omitempty"`
}

// Material converts the definition into its runtime value.
func (d MaterialDefinition) Material() material.Material {
	return material.Material{
		ID:      d.ID,
		Color:   d.Color,
		Liquid:  d.Liquid,
		Reliant: d.Reliant,
	}
}

// MaterialList converts every definition.
func (c *Config) MaterialList() []material.Material {
	out := make([]material.Material, 0, len(c.Materials))
	for _, def := range c.Materials {
		out = append(out, def.Material())
	}
	return out
}

// DefaultMaterials returns the built-in material set. The terrain generator
// places bedrock, stone, dirt, grass, sand, water and flower.
func DefaultMaterials() []MaterialDefinition {
	return []MaterialDefinition{
		{ID: material.AirID, Color: "#000000"},
		{ID: "bedrock", Color: "#1F1F1F"},
		{ID: "stone", Color: "#7D7D7D"},
		{ID: "cobblestone", Color: "#8A8A8A"},
		{ID: "dirt", Color: "#8B5A2B"},
		{ID: "grass", Color: "#5D9B3D"},
		{ID: "sand", Color: "#C2B280"},
		{ID: "gravel", Color: "#857F7B"},
		{ID: "glass", Color: "#C8E6F0"},
		{ID: "planks", Color: "#A0824B"},
		{ID: "water", Color: "#2F5FD0", Liquid: true},
		{ID: "lava", Color: "#D4580F", Liquid: true},
		{ID: "torch", Color: "#F8D35E", Reliant: true},
		{ID: "flower", Color: "#E04A6A", Reliant: true},
		{ID: "snow_layer", Color: "#F4F8FA", Reliant: true},
		{ID: "rail", Color: "#6E6253", Reliant: true},
	}
}
