package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	d, err := Load(filepath.Join(t.TempDir(), "nope", FileName))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != (Device{}) {
		t.Errorf("expected empty device, got %+v", d)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultDir, FileName)
	want := Device{Token: "tok", Host: "speaker.example.com", Version: "1.2.0"}
	if err := Save(path, want); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected 0600 permissions, got %v", info.Mode().Perm())
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestMergeAndValidate(t *testing.T) {
	d := Device{Token: "file", Host: "file.host"}.Merge(Device{Host: "env.host"})
	if d.Token != "file" || d.Host != "env.host" {
		t.Errorf("unexpected merge result %+v", d)
	}
	if err := d.Validate(); err != nil {
		t.Errorf("expected valid device, got %v", err)
	}
	if err := (Device{Host: "h"}).Validate(); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
	if err := (Device{Token: "t"}).Validate(); err == nil {
		t.Error("expected error without host")
	}
}
