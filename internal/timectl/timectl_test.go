package timectl

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	p := Defaults()
	cases := map[string]int64{"bullet": 60000, "blitz": 300000, "rapid": 600000, "classical": 1800000}
	for name, want := range cases {
		c, err := p.Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", name, err)
		}
		if c.InitialMs() != want || c.IncrementMs() != 0 {
			t.Fatalf("%s: got %d+%d, want %d+0", name, c.InitialMs(), c.IncrementMs(), want)
		}
	}
	if _, err := p.Lookup(" BLITZ "); err != nil {
		t.Fatalf("case-insensitive lookup failed: %v", err)
	}
	if _, err := p.Lookup("hyper"); !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
}

func TestApplyYAMLOverridesAndAdds(t *testing.T) {
	p := Defaults()
	doc := []byte("classical: { initial: 10m }\nblitz3: { initial: 3m, increment: 2s }\n")
	if err := p.ApplyYAML(doc); err != nil {
		t.Fatalf("ApplyYAML: %v", err)
	}
	c, _ := p.Lookup("classical")
	if c.InitialMs() != 600000 {
		t.Fatalf("classical override not applied: %d", c.InitialMs())
	}
	b, err := p.Lookup("blitz3")
	if err != nil {
		t.Fatalf("Lookup blitz3: %v", err)
	}
	if b.IncrementMs() != 2000 {
		t.Fatalf("blitz3 increment: %d", b.IncrementMs())
	}
	if len(p.Names()) != 5 {
		t.Fatalf("expected 5 presets, got %v", p.Names())
	}
}

func TestApplyYAMLRejectsBadDurations(t *testing.T) {
	p := Defaults()
	if err := p.ApplyYAML([]byte("bad: { initial: soon }\n")); err == nil {
		t.Fatalf("expected error for unparsable initial")
	}
	if err := p.ApplyYAML([]byte("bad: { initial: 1m, increment: -1s }\n")); err == nil {
		t.Fatalf("expected error for negative increment")
	}
	if _, err := p.Lookup("bad"); err == nil {
		t.Fatalf("rejected document must not be partially applied")
	}
}

func TestApplyFile(t *testing.T) {
	p := Defaults()
	if err := p.ApplyFile(""); err != nil {
		t.Fatalf("empty path: %v", err)
	}
	path := filepath.Join(t.TempDir(), "tc.yaml")
	if err := os.WriteFile(path, []byte("rapid: { initial: 15m, increment: 10s }\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := p.ApplyFile(path); err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}
	c, _ := p.Lookup("rapid")
	if c.Initial != 15*time.Minute || c.Increment != 10*time.Second {
		t.Fatalf("rapid not overridden: %+v", c)
	}
}

func TestCharge(t *testing.T) {
	if got := Charge(1000, 300, 0); got != 700 {
		t.Fatalf("Charge = %d, want 700", got)
	}
	if got := Charge(1000, 1500, 0); got != 0 {
		t.Fatalf("Charge must floor at zero, got %d", got)
	}
	if got := Charge(1000, 200, 200); got != 1000 {
		t.Fatalf("increment offsetting elapsed should keep value, got %d", got)
	}
	if got := Charge(1000, -50, 0); got != 1000 {
		t.Fatalf("negative elapsed treated as zero, got %d", got)
	}
}

func TestRemaining(t *testing.T) {
	base := time.Unix(1000, 0)
	if got := Remaining(5000, base, base.Add(1200*time.Millisecond)); got != 3800 {
		t.Fatalf("Remaining = %d", got)
	}
}
