package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedCatalogRenders(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("errors.room_not_found", map[string]any{"RoomID": "abc"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(got, "abc") {
		t.Fatalf("room id not interpolated: %q", got)
	}
	url, _ := c.Render("invite.url", map[string]any{"RoomID": "r1", "TimeControl": "blitz"})
	if url != "chess://room/r1?timeControl=blitz" {
		t.Fatalf("invite url = %q", url)
	}
}

func TestMissingVariableIsError(t *testing.T) {
	c := MustDefault()
	if _, err := c.Render("errors.room_not_found", map[string]any{}); err == nil {
		t.Fatalf("missing template variable should fail")
	}
	if got := c.Text("errors.room_not_found", map[string]any{}, "fallback"); got != "fallback" {
		t.Fatalf("Text should fall back, got %q", got)
	}
	if _, err := c.Render("errors.nope", nil); err == nil {
		t.Fatalf("unknown key should fail")
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("errors:\n  internal: \"custom\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got, _ := c.Render("errors.internal", nil); got != "custom" {
		t.Fatalf("override not applied: %q", got)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.yml"), []byte("errors:\n  internal: \"again\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("duplicate override keys across files should fail")
	}
}

func TestRejectsNonStringLeaves(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "x.yaml"), []byte("errors:\n  internal: 5\n"), 0o644)
	if _, err := New(dir); err == nil {
		t.Fatalf("numeric leaf should be rejected")
	}
}
