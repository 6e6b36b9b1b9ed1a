// Package flags evaluates feature flags with deterministic percentage
// bucketing. The payment router uses it for provider-selection experiments.
package flags

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Control is the variant meaning "no override".
const Control = "control"

// ProviderRouting is the experiment whose variants name provider types.
const ProviderRouting = "payment_provider_routing"

var (
	// ErrInvalidFlag is returned for flags that fail validation.
	ErrInvalidFlag = errors.New("invalid flag")
)

// Variant is one arm of an experiment. Weights are percentages.
type Variant struct {
	Name   string `yaml:"name"`
	Weight int    `yaml:"weight"`
}

// Flag is a feature flag definition.
type Flag struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Enabled     bool      `yaml:"enabled"`
	Rollout     int       `yaml:"rollout"`
	Groups      []string  `yaml:"groups,omitempty"`
	Variants    []Variant `yaml:"variants,omitempty"`
}

// Validate checks percentages.
func (f Flag) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidFlag)
	}
	if f.Rollout < 0 || f.Rollout > 100 {
		return fmt.Errorf("%w: %s: rollout must be between 0 and 100", ErrInvalidFlag, f.Name)
	}
	total := 0
	for _, v := range f.Variants {
		if v.Name == "" || v.Weight < 0 {
			return fmt.Errorf("%w: %s: variants need a name and a non-negative weight", ErrInvalidFlag, f.Name)
		}
		total += v.Weight
	}
	if total > 100 {
		return fmt.Errorf("%w: %s: variant weights add up to %d", ErrInvalidFlag, f.Name, total)
	}
	return nil
}

// Context identifies who a flag is evaluated for.
type Context struct {
	UserID string
	Groups []string
}

// Bucket maps an id to [0, 100) with FNV-1a. The same id always lands in
// the same bucket.
func Bucket(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % 100)
}

func (f Flag) targets(fc Context) bool {
	if len(f.Groups) == 0 {
		return true
	}
	for _, want := range f.Groups {
		for _, have := range fc.Groups {
			if want == have {
				return true
			}
		}
	}
	return false
}

func (f Flag) enabledFor(fc Context) bool {
	if !f.Enabled || !f.targets(fc) {
		return false
	}
	if f.Rollout >= 100 {
		return true
	}
	if fc.UserID == "" {
		return false
	}
	return Bucket(fc.UserID) < f.Rollout
}

// variantFor walks cumulative weights. Buckets past the last weight fall
// into Control.
func (f Flag) variantFor(fc Context) string {
	if !f.enabledFor(fc) || fc.UserID == "" {
		return Control
	}
	b := Bucket(fc.UserID)
	cumulative := 0
	for _, v := range f.Variants {
		cumulative += v.Weight
		if b < cumulative {
			return v.Name
		}
	}
	return Control
}

// Set is a concurrency-safe collection of flags.
type Set struct {
	mu    sync.RWMutex
	flags map[string]Flag
}

// NewSet validates and indexes flags.
func NewSet(flags ...Flag) (*Set, error) {
	s := &Set{flags: make(map[string]Flag, len(flags))}
	for _, f := range flags {
		if err := s.Upsert(f); err != nil {
			return nil, err
		}
	}
	return s, nil
}

type file struct {
	Flags []Flag `yaml:"flags"`
}

// Parse reads a YAML document with a top-level "flags" list.
func Parse(data []byte) (*Set, error) {
	var doc file
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	return NewSet(doc.Flags...)
}

// Load reads flags from a YAML file.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flags file: %w", err)
	}
	return Parse(data)
}

// Upsert adds or replaces a flag.
func (s *Set) Upsert(f Flag) error {
	if err := f.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[f.Name] = f
	return nil
}

// Get returns a flag by name.
func (s *Set) Get(name string) (Flag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flags[name]
	return f, ok
}

// Flags returns every flag sorted by name.
func (s *Set) Flags() []Flag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Flag, 0, len(s.flags))
	for _, f := range s.flags {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsEnabled reports whether the flag is on for fc. Unknown flags are off.
func (s *Set) IsEnabled(name string, fc Context) bool {
	f, ok := s.Get(name)
	return ok && f.enabledFor(fc)
}

// Variant returns the experiment arm for fc. The boolean is false when the
// flag does not exist.
func (s *Set) Variant(name string, fc Context) (string, bool) {
	f, ok := s.Get(name)
	if !ok {
		return Control, false
	}
	return f.variantFor(fc), true
}
