package registry

import (
	"os"
	"path/filepath"
	"testing"

	"inferd/pkg/types"
)

func tempRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "models.json"))
}

func TestAddListRemove(t *testing.T) {
	reg := tempRegistry(t)

	models, err := reg.List()
	if err != nil {
		t.Fatalf("List on missing file: %v", err)
	}
	if len(models) != 0 {
		t.Fatalf("missing file not treated as empty: %v", models)
	}

	if err := reg.Add(types.ModelSpec{Name: "beta", Path: "/m/b.safetensors", Pipeline: "flux"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := reg.Add(types.ModelSpec{Name: "alpha", Path: "/m/a.safetensors", Pipeline: "sdxl"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	models, err = reg.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(models) != 2 || models[0].Name != "alpha" || models[1].Name != "beta" {
		t.Fatalf("sorted list: %v", models)
	}

	removed, err := reg.Remove("alpha")
	if err != nil || !removed {
		t.Fatalf("Remove: removed=%v err=%v", removed, err)
	}
	removed, err = reg.Remove("alpha")
	if err != nil || removed {
		t.Fatalf("second Remove: removed=%v err=%v", removed, err)
	}

	m, ok, err := reg.Get("beta")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if m.Pipeline != "flux" {
		t.Fatalf("entry: %+v", m)
	}
}

func TestAddReplacesExisting(t *testing.T) {
	reg := tempRegistry(t)
	if err := reg.Add(types.ModelSpec{Name: "m", Path: "/old.safetensors", Pipeline: "flux"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Add(types.ModelSpec{Name: "m", Path: "/new.safetensors", Pipeline: "flux", LocalOnly: true}); err != nil {
		t.Fatal(err)
	}
	models, err := reg.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 1 || models[0].Path != "/new.safetensors" || !models[0].LocalOnly {
		t.Fatalf("replace: %v", models)
	}
}

func TestAddRejectsIncomplete(t *testing.T) {
	reg := tempRegistry(t)
	if err := reg.Add(types.ModelSpec{Path: "/x.safetensors"}); err == nil {
		t.Fatal("Add without name accepted")
	}
	if err := reg.Add(types.ModelSpec{Name: "x"}); err == nil {
		t.Fatal("Add without path accepted")
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path).List(); err == nil {
		t.Fatal("corrupt side-table accepted")
	}
}

func TestListAdapters(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"b.safetensors", "a.safetensors", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.safetensors"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err := ListAdapters(dir)
	if err != nil {
		t.Fatalf("ListAdapters: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files: %v", files)
	}
	if files[0].Name != "a.safetensors" || files[1].Name != "b.safetensors" {
		t.Fatalf("sort order: %v", files)
	}

	empty, err := ListAdapters(filepath.Join(dir, "missing"))
	if err != nil {
		t.Fatalf("missing dir: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("missing dir not empty: %v", empty)
	}
}
