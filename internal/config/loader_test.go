package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "cfg.yaml", "addr: \":9090\"\nmodels_dir: /srv/models\ngpu_layers: 32\nreload_every: 10\ncors_enabled: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.ModelsDir != "/srv/models" {
		t.Fatalf("cfg: %+v", cfg)
	}
	if cfg.GPULayers != 32 || cfg.ReloadEvery != 10 || !cfg.CORSEnabled {
		t.Fatalf("cfg: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "cfg.json", `{"addr": ":7070", "loras_dir": "/srv/loras", "max_body_bytes": 2097152}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.LorasDir != "/srv/loras" || cfg.MaxBodyBytes != 2097152 {
		t.Fatalf("cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "cfg.toml", "addr = \":6060\"\ncompletion_model = \"tiny.gguf\"\nctx_size = 8192\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":6060" || cfg.CompletionModel != "tiny.gguf" || cfg.CtxSize != 8192 {
		t.Fatalf("cfg: %+v", cfg)
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "cfg.ini", "addr=:1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("unsupported extension accepted")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("empty path accepted")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/cfg.yaml"); err == nil {
		t.Fatal("missing file accepted")
	}
}
