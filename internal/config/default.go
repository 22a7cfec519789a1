package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns a configuration populated with sensible defaults so that a
// server can be started without any prior configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ID:               "voxeledit-0",
			ListenAddress:    ":28090",
			DeltaStreamRate:  Duration(200 * time.Millisecond),
			SessionRateLimit: 20,
			SessionBurst:     40,
			MetricsEnabled:   true,
			PreviewEnabled:   true,
		},
		Edit: EditConfig{
			BlockChangesPerSecond: 20_000,
			ChangeInterval:        Duration(100 * time.Millisecond),
			UndoHistorySize:       30,
			OfflineUndoTTL:        Duration(60 * time.Minute),
			OfflineSweepInterval:  Duration(time.Minute),
			MaxUndoVolume:         2_000_000,
			MaxShapeVolume:        8_000_000,
			IntermediateMaterial:  "stone",
			ProgressEveryTicks:    10,
			ApplyPhysics:          true,
		},
		World: WorldConfig{
			ChunkWidth:    16,
			ChunkLength:   16,
			ChunkHeight:   128,
			ChunksPerAxis: 16,
			Origin:        ChunkIndex{X: 0, Z: 0},
			DefaultBiome:  "plains",
			Terrain: TerrainConfig{
				Seed:             1337,
				Frequency:        0.01,
				Amplitude:        12,
				Octaves:          4,
				Persistence:      0.5,
				Lacunarity:       2.0,
				SurfaceLevel:     48,
				SeaLevel:         44,
				DecorationChance: 0.04,
			},
		},
		Storage: StorageConfig{
			Backend: StorageMemory,
			Path:    "./data/chunks",
		},
		Materials: DefaultMaterials(),
		Journal: JournalConfig{
			Enabled:    false,
			Dir:        "./data/journal",
			SQLitePath: "./data/journal/index.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefault writes the default configuration to the provided path as YAML.
func WriteDefault(path string) error {
	return Write(path, Default())
}

// Write stores cfg at path as YAML, creating parent directories as needed.
func Write(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
