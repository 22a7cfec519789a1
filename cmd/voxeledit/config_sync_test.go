package main

import (
	"encoding/base64"
	"encoding/json"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"voxeledit/internal/config"
)

func TestWriteConfigFromEnvJSON(t *testing.T) {
	t.Setenv(envConfigYAMLB64, "")
	t.Setenv(envConfigJSON, `{"server":{"id":"json-config"},"edit":{"blockChangesPerSecond":500}}`)

	path := filepath.Join(t.TempDir(), "nested", "config.json")
	wrote, err := writeConfigFromEnv(path)
	if err != nil {
		t.Fatalf("writeConfigFromEnv: %v", err)
	}
	if !wrote {
		t.Fatalf("expected config to be written")
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if cfg.Server.ID != "json-config" {
		t.Fatalf("unexpected server id: %q", cfg.Server.ID)
	}
	if cfg.Edit.BlockChangesPerSecond != 500 {
		t.Fatalf("unexpected block change rate: %d", cfg.Edit.BlockChangesPerSecond)
	}
	if cfg.Edit.UndoHistorySize != config.Default().Edit.UndoHistorySize {
		t.Fatalf("expected unset fields to keep defaults, got undo history %d", cfg.Edit.UndoHistorySize)
	}
}

func TestWriteConfigFromEnvYAML(t *testing.T) {
	cfg := config.Default()
	cfg.Server.ID = "yaml-config"
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal yaml: %v", err)
	}
	t.Setenv(envConfigJSON, "")
	t.Setenv(envConfigYAMLB64, base64.StdEncoding.EncodeToString(data))

	path := filepath.Join(t.TempDir(), "config.yaml")
	wrote, err := writeConfigFromEnv(path)
	if err != nil {
		t.Fatalf("writeConfigFromEnv: %v", err)
	}
	if !wrote {
		t.Fatalf("expected config to be written")
	}
	loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if loaded.Server.ID != "yaml-config" {
		t.Fatalf("unexpected server id: %q", loaded.Server.ID)
	}
}

func TestWriteConfigFromEnvNoop(t *testing.T) {
	t.Setenv(envConfigJSON, "")
	t.Setenv(envConfigYAMLB64, "")

	wrote, err := writeConfigFromEnv(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wrote {
		t.Fatalf("expected nothing to be written")
	}
}

func TestWriteConfigFromEnvRejectsInvalid(t *testing.T) {
	bad := config.Default()
	bad.Edit.BlockChangesPerSecond = -1
	data, err := json.Marshal(bad)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	t.Setenv(envConfigYAMLB64, "")
	t.Setenv(envConfigJSON, string(data))

	if _, err := writeConfigFromEnv(filepath.Join(t.TempDir(), "config.json")); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := writeConfigFromEnv(""); err == nil {
		t.Fatalf("expected error without a config path")
	}
}
