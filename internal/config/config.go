package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so configuration files can use human readable
// strings such as "150ms" in both YAML and JSON. Numeric values are treated
// as nanoseconds.
type Duration time.Duration

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON encodes the duration using the canonical string representation.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON decodes a duration from either a string (e.g. "250ms") or a
// numeric value representing nanoseconds. Empty strings and null values decode
// to zero.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("duration: empty value")
	}
	if string(b) == "null" {
		*d = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("duration: decode string: %w", err)
		}
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*d = Duration(time.Duration(n))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*d = Duration(time.Duration(f))
		return nil
	}
	return fmt.Errorf("duration: invalid value %s", string(b))
}

// MarshalYAML encodes the duration as its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts the same forms as UnmarshalJSON.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration: expected scalar at line %d", node.Line)
	}
	if node.Tag == "!!int" {
		var n int64
		if err := node.Decode(&n); err != nil {
			return fmt.Errorf("duration: decode int: %w", err)
		}
		*d = Duration(time.Duration(n))
		return nil
	}
	if node.Tag == "!!null" {
		*d = 0
		return nil
	}
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: parse %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config captures the tunable parameters of the edit server.
type Config struct {
	Server    ServerConfig         `yaml:"server" json:"server"`
	Edit      EditConfig           `yaml:"edit" json:"edit"`
	World     WorldConfig          `yaml:"world" json:"world"`
	Storage   StorageConfig        `yaml:"storage" json:"storage"`
	Materials []MaterialDefinition `yaml:"materials" json:"materials"`
	Journal   JournalConfig        `yaml:"journal" json:"journal"`
	Log       LogConfig            `yaml:"log" json:"log"`
}

type ServerConfig struct {
	ID               string   `yaml:"id" json:"id"`
	ListenAddress    string   `yaml:"listenAddress" json:"listenAddress"`       // ":28090"
	DeltaStreamRate  Duration `yaml:"deltaStreamRate" json:"deltaStreamRate"`   // how often voxel deltas are broadcast
	SessionRateLimit float64  `yaml:"sessionRateLimit" json:"sessionRateLimit"` // edit requests per second per session, 0 disables
	SessionBurst     int      `yaml:"sessionBurst" json:"sessionBurst"`
	MetricsEnabled   bool     `yaml:"metricsEnabled" json:"metricsEnabled"`
	PreviewEnabled   bool     `yaml:"previewEnabled" json:"previewEnabled"`
}

type EditConfig struct {
	BlockChangesPerSecond int      `yaml:"blockChangesPerSecond" json:"blockChangesPerSecond"`
	ChangeInterval        Duration `yaml:"changeInterval" json:"changeInterval"` // scheduler tick, e.g. "100ms"
	UndoHistorySize       int      `yaml:"undoHistorySize" json:"undoHistorySize"`
	OfflineUndoTTL        Duration `yaml:"offlineUndoTTL" json:"offlineUndoTTL"`
	OfflineSweepInterval  Duration `yaml:"offlineSweepInterval" json:"offlineSweepInterval"`
	MaxUndoVolume         int      `yaml:"maxUndoVolume" json:"maxUndoVolume"`   // edits above this many cells keep no history
	MaxShapeVolume        int      `yaml:"maxShapeVolume" json:"maxShapeVolume"` // larger shape requests are rejected, 0 disables
	IntermediateMaterial  string   `yaml:"intermediateMaterial" json:"intermediateMaterial"`
	ProgressEveryTicks    int      `yaml:"progressEveryTicks" json:"progressEveryTicks"`
	ApplyPhysics          bool     `yaml:"applyPhysics" json:"applyPhysics"`
}

type WorldConfig struct {
	ChunkWidth    int           `yaml:"chunkWidth" json:"chunkWidth"`
	ChunkLength   int           `yaml:"chunkLength" json:"chunkLength"`
	ChunkHeight   int           `yaml:"chunkHeight" json:"chunkHeight"`
	ChunksPerAxis int           `yaml:"chunksPerAxis" json:"chunksPerAxis"`
	Origin        ChunkIndex    `yaml:"origin" json:"origin"`
	DefaultBiome  string        `yaml:"defaultBiome" json:"defaultBiome"`
	Terrain       TerrainConfig `yaml:"terrain" json:"terrain"`
}

type TerrainConfig struct {
	Seed             int64   `yaml:"seed" json:"seed"`
	Frequency        float64 `yaml:"frequency" json:"frequency"`
	Amplitude        float64 `yaml:"amplitude" json:"amplitude"`
	Octaves          int     `yaml:"octaves" json:"octaves"`
	Persistence      float64 `yaml:"persistence" json:"persistence"`
	Lacunarity       float64 `yaml:"lacunarity" json:"lacunarity"`
	SurfaceLevel     int     `yaml:"surfaceLevel" json:"surfaceLevel"`
	SeaLevel         int     `yaml:"seaLevel" json:"seaLevel"`
	DecorationChance float64 `yaml:"decorationChance" json:"decorationChance"`
	Workers          int     `yaml:"workers" json:"workers"`
}

type ChunkIndex struct {
	X int `yaml:"x" json:"x"`
	Z int `yaml:"z" json:"z"`
}

type StorageConfig struct {
	Backend    string `yaml:"backend" json:"backend"` // memory, disk or badger
	Path       string `yaml:"path" json:"path"`
	SyncWrites bool   `yaml:"syncWrites" json:"syncWrites"`
}

type JournalConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Dir        string `yaml:"dir" json:"dir"`
	SQLitePath string `yaml:"sqlitePath" json:"sqlitePath"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // text or json
}

const (
	StorageMemory = "memory"
	StorageDisk   = "disk"
	StorageBadger = "badger"
)

// Load reads configuration from a YAML or JSON file. Values in the file
// overlay the defaults. An empty path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := Decode(data, filepath.Ext(path), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Decode unmarshals data into cfg, choosing JSON for a ".json" extension and
// YAML otherwise.
func Decode(data []byte, ext string, cfg *Config) error {
	// Materials are replaced wholesale rather than merged element by element.
	defaults := cfg.Materials
	cfg.Materials = nil

	var err error
	if strings.EqualFold(ext, ".json") {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if cfg.Materials == nil {
		cfg.Materials = defaults
	}
	return err
}

func (c *Config) Validate() error {
	if c.Server.ID == "" {
		return errors.New("server.id must be set")
	}
	if c.Server.ListenAddress == "" {
		return errors.New("server.listenAddress must be set")
	}
	if c.Server.DeltaStreamRate <= 0 {
		return errors.New("server.deltaStreamRate must be positive")
	}
	if c.Server.SessionRateLimit < 0 || c.Server.SessionBurst < 0 {
		return errors.New("server session rate limits cannot be negative")
	}
	if c.Edit.BlockChangesPerSecond <= 0 {
		return errors.New("edit.blockChangesPerSecond must be positive")
	}
	if c.Edit.ChangeInterval <= 0 {
		return errors.New("edit.changeInterval must be positive")
	}
	if c.Edit.UndoHistorySize <= 0 {
		return errors.New("edit.undoHistorySize must be positive")
	}
	if c.Edit.OfflineUndoTTL <= 0 {
		return errors.New("edit.offlineUndoTTL must be positive")
	}
	if c.Edit.MaxUndoVolume <= 0 {
		return errors.New("edit.maxUndoVolume must be positive")
	}
	if c.Edit.MaxShapeVolume < 0 {
		return errors.New("edit.maxShapeVolume cannot be negative")
	}
	if c.Edit.ProgressEveryTicks <= 0 {
		return errors.New("edit.progressEveryTicks must be positive")
	}
	if c.World.ChunkWidth <= 0 || c.World.ChunkLength <= 0 || c.World.ChunkHeight <= 0 {
		return errors.New("world chunk dimensions must be positive")
	}
	if c.World.ChunksPerAxis <= 0 {
		return errors.New("world.chunksPerAxis must be positive")
	}
	if c.World.Terrain.Workers < 0 {
		return errors.New("world.terrain.workers cannot be negative")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageDisk, StorageBadger:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path must be set for the %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}

	seen := make(map[string]int, len(c.Materials))
	for i, m := range c.Materials {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("materials[%d].id must be set", i)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("materials[%d].id %q is duplicated", i, m.ID)
		}
		seen[m.ID] = i
	}
	idx, ok := seen[c.Edit.IntermediateMaterial]
	if !ok {
		return errors.New("edit.intermediateMaterial must reference a defined material")
	}
	if c.Materials[idx].Liquid || c.Materials[idx].Reliant {
		return errors.New("edit.intermediateMaterial cannot be liquid or reliant")
	}

	if c.Journal.Enabled && c.Journal.Dir == "" {
		return errors.New("journal.dir must be set when the journal is enabled")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not supported", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q is not supported", c.Log.Format)
	}
	return nil
}
