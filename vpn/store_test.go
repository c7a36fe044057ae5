package vpn

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/yllada/ovpnctl/common"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func newTestStore(t *testing.T) *ConfigStore {
	t.Helper()
	store, err := NewConfigStoreAt(filepath.Join(t.TempDir(), "configs"))
	if err != nil {
		t.Fatalf("NewConfigStoreAt() error = %v", err)
	}
	return store
}

func TestImport_BundlesReferencedFiles(t *testing.T) {
	srcDir := t.TempDir()
	writeTestFile(t, filepath.Join(srcDir, "work.ovpn"),
		"client\nca ca.crt\ncert client.crt\nkey client.key\nremote vpn.example.com 1194\n")
	writeTestFile(t, filepath.Join(srcDir, "ca.crt"), "CA")
	writeTestFile(t, filepath.Join(srcDir, "client.crt"), "CERT")
	writeTestFile(t, filepath.Join(srcDir, "client.key"), "KEY")

	store := newTestStore(t)
	name, err := store.Import(filepath.Join(srcDir, "work.ovpn"))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if name != "work" {
		t.Errorf("Import() name = %q, want work", name)
	}

	for _, f := range []string{"work.ovpn", "ca.crt", "client.crt", "client.key"} {
		path := filepath.Join(store.Root(), "work", f)
		if !common.FileExists(path) {
			t.Errorf("bundle is missing %s", f)
		}
	}
}

func TestImport_AbsoluteReference(t *testing.T) {
	srcDir := t.TempDir()
	caPath := filepath.Join(srcDir, "shared-ca.crt")
	writeTestFile(t, caPath, "CA")
	writeTestFile(t, filepath.Join(srcDir, "office.ovpn"), "ca "+caPath+"\n")

	store := newTestStore(t)
	if _, err := store.Import(filepath.Join(srcDir, "office.ovpn")); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if !common.FileExists(filepath.Join(store.Root(), "office", "shared-ca.crt")) {
		t.Error("absolute reference was not copied into the bundle")
	}
}

func TestImport_MissingReferenceIsSkipped(t *testing.T) {
	srcDir := t.TempDir()
	writeTestFile(t, filepath.Join(srcDir, "home.ovpn"), "ca nope.crt\nremote x 1194\n")

	store := newTestStore(t)
	if _, err := store.Import(filepath.Join(srcDir, "home.ovpn")); err != nil {
		t.Fatalf("Import() error = %v, missing references must not fail the import", err)
	}
	if !common.FileExists(filepath.Join(store.Root(), "home", "home.ovpn")) {
		t.Error("primary file was not copied")
	}
}

func TestImport_Duplicate(t *testing.T) {
	srcDir := t.TempDir()
	path := filepath.Join(srcDir, "work.ovpn")
	writeTestFile(t, path, "client\n")

	store := newTestStore(t)
	if _, err := store.Import(path); err != nil {
		t.Fatalf("first Import() error = %v", err)
	}
	if _, err := store.Import(path); !errors.Is(err, common.ErrDuplicateConfig) {
		t.Errorf("second Import() error = %v, want ErrDuplicateConfig", err)
	}
}

func TestImport_BadExtension(t *testing.T) {
	srcDir := t.TempDir()
	path := filepath.Join(srcDir, "notes.txt")
	writeTestFile(t, path, "hello")

	store := newTestStore(t)
	if _, err := store.Import(path); !errors.Is(err, common.ErrInvalidConfig) {
		t.Errorf("Import() error = %v, want ErrInvalidConfig", err)
	}
}

func TestImport_UppercaseExtensionNormalized(t *testing.T) {
	srcDir := t.TempDir()
	path := filepath.Join(srcDir, "work.OVPN")
	writeTestFile(t, path, "client\n")

	store := newTestStore(t)
	name, err := store.Import(path)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if name != "work" {
		t.Errorf("Import() name = %q, want work", name)
	}

	// The imported bundle must be connectable.
	got, err := store.PrimaryFile("work")
	if err != nil {
		t.Fatalf("PrimaryFile() error = %v", err)
	}
	if want := filepath.Join(store.Root(), "work", "work.ovpn"); got != want {
		t.Errorf("PrimaryFile() = %q, want %q", got, want)
	}
}

func TestImport_NonexistentSource(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Import(filepath.Join(t.TempDir(), "ghost.ovpn")); !errors.Is(err, common.ErrInvalidConfig) {
		t.Errorf("Import() error = %v, want ErrInvalidConfig", err)
	}
}

func TestList(t *testing.T) {
	srcDir := t.TempDir()
	store := newTestStore(t)

	names, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 0 {
		t.Errorf("List() = %v, want empty", names)
	}

	for _, n := range []string{"alpha", "beta"} {
		path := filepath.Join(srcDir, n+".ovpn")
		writeTestFile(t, path, "client\n")
		if _, err := store.Import(path); err != nil {
			t.Fatalf("Import(%s) error = %v", n, err)
		}
	}

	names, err = store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !reflect.DeepEqual(names, []string{"alpha", "beta"}) {
		t.Errorf("List() = %v, want [alpha beta]", names)
	}
}

func TestPrimaryFile(t *testing.T) {
	srcDir := t.TempDir()
	store := newTestStore(t)

	writeTestFile(t, filepath.Join(srcDir, "work.ovpn"), "client\n")
	if _, err := store.Import(filepath.Join(srcDir, "work.ovpn")); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(srcDir, "legacy.conf"), "client\n")
	if _, err := store.Import(filepath.Join(srcDir, "legacy.conf")); err != nil {
		t.Fatal(err)
	}

	path, err := store.PrimaryFile("work")
	if err != nil {
		t.Fatalf("PrimaryFile(work) error = %v", err)
	}
	if want := filepath.Join(store.Root(), "work", "work.ovpn"); path != want {
		t.Errorf("PrimaryFile(work) = %q, want %q", path, want)
	}

	path, err = store.PrimaryFile("legacy")
	if err != nil {
		t.Fatalf("PrimaryFile(legacy) error = %v", err)
	}
	if want := filepath.Join(store.Root(), "legacy", "legacy.conf"); path != want {
		t.Errorf("PrimaryFile(legacy) = %q, want %q", path, want)
	}

	if _, err := store.PrimaryFile("ghost"); !errors.Is(err, common.ErrConfigNotFound) {
		t.Errorf("PrimaryFile(ghost) error = %v, want ErrConfigNotFound", err)
	}
}

func TestRemove(t *testing.T) {
	srcDir := t.TempDir()
	store := newTestStore(t)

	path := filepath.Join(srcDir, "work.ovpn")
	writeTestFile(t, path, "client\n")
	if _, err := store.Import(path); err != nil {
		t.Fatal(err)
	}

	if err := store.Remove("work"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := store.PrimaryFile("work"); !errors.Is(err, common.ErrConfigNotFound) {
		t.Error("configuration should be gone after Remove")
	}

	if err := store.Remove("work"); !errors.Is(err, common.ErrConfigNotFound) {
		t.Errorf("Remove() on missing config error = %v, want ErrConfigNotFound", err)
	}
}
