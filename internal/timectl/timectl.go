// Package timectl defines named clock presets and the clock arithmetic applied on each move.
package timectl

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	yaml "gopkg.in/yaml.v3"
)

var ErrUnknown = errors.New("unknown time control")

// Control is a named preset: initial allowance per side plus a per-move increment.
type Control struct {
	Name      string
	Initial   time.Duration
	Increment time.Duration
}

func (c Control) InitialMs() int64   { return c.Initial.Milliseconds() }
func (c Control) IncrementMs() int64 { return c.Increment.Milliseconds() }

// Presets is a concurrency-safe name → Control table.
type Presets struct {
	mu    sync.RWMutex
	table map[string]Control
}

// Defaults returns bullet/blitz/rapid/classical. Classical is 30 minutes.
func Defaults() *Presets {
	return &Presets{table: map[string]Control{
		"bullet":    {Name: "bullet", Initial: time.Minute},
		"blitz":     {Name: "blitz", Initial: 5 * time.Minute},
		"rapid":     {Name: "rapid", Initial: 10 * time.Minute},
		"classical": {Name: "classical", Initial: 30 * time.Minute},
	}}
}

// Lookup resolves a preset name case-insensitively.
func (p *Presets) Lookup(name string) (Control, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	p.mu.RLock()
	c, ok := p.table[key]
	p.mu.RUnlock()
	if !ok {
		return Control{}, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return c, nil
}

// Names lists preset names in sorted order.
func (p *Presets) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.table))
	for k := range p.table {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type yamlControl struct {
	Initial   string `yaml:"initial"`
	Increment string `yaml:"increment"`
}

// ApplyYAML overrides or adds presets from a document of the form
//
//	classical: { initial: 30m, increment: 0s }
func (p *Presets) ApplyYAML(raw []byte) error {
	var doc map[string]yamlControl
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse time controls: %w", err)
	}
	parsed := make(map[string]Control, len(doc))
	for name, v := range doc {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return errors.New("time control with empty name")
		}
		initial, err := time.ParseDuration(strings.TrimSpace(v.Initial))
		if err != nil || initial <= 0 {
			return fmt.Errorf("time control %s: invalid initial %q", key, v.Initial)
		}
		var inc time.Duration
		if s := strings.TrimSpace(v.Increment); s != "" {
			inc, err = time.ParseDuration(s)
			if err != nil || inc < 0 {
				return fmt.Errorf("time control %s: invalid increment %q", key, v.Increment)
			}
		}
		parsed[key] = Control{Name: key, Initial: initial, Increment: inc}
	}
	p.mu.Lock()
	for k, c := range parsed {
		p.table[k] = c
	}
	p.mu.Unlock()
	return nil
}

// ApplyFile reads path and applies it with ApplyYAML. Empty path is a no-op.
func (p *Presets) ApplyFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read time controls: %w", err)
	}
	return p.ApplyYAML(raw)
}

// Charge returns the mover's remaining time after spending elapsedMs and
// receiving incrementMs, floored at zero.
func Charge(remainingMs, elapsedMs, incrementMs int64) int64 {
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	left := remainingMs - elapsedMs + incrementMs
	if left < 0 {
		return 0
	}
	return left
}

// Remaining is the live value for the side on turn, without increment, floored at zero.
func Remaining(remainingMs int64, since, now time.Time) int64 {
	return Charge(remainingMs, now.Sub(since).Milliseconds(), 0)
}
