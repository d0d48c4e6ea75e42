package experiment

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// Technique names for the hardening techniques covered by the evaluation.
const (
	TechniqueVAH       = "vah"
	TechniqueRehashing = "rehashing"
	TechniqueBLIP      = "blip"
	TechniqueRBBF      = "rbbf"
	TechniqueWindowXOR = "wxor"
	TechniqueDiffusion = "diffusion"
)

// requiredParams lists, per technique, the hyperparameters a preset must
// provide.
var requiredParams = map[string][]string{
	TechniqueVAH:       {"vulnerable_qgrams", "ref_set_length"},
	TechniqueRehashing: {"window_length", "step_size", "k_re"},
	TechniqueBLIP:      {"flip_probability"},
	TechniqueRBBF:      {"ref_set_size", "threshold"},
	TechniqueWindowXOR: {"window_length", "step_size"},
	TechniqueDiffusion: {"iterations"},
}

// Preset is a named hardening technique together with its hyperparameter
// values. Parameters are kept as float64 so that counts and probabilities
// share one representation in preset files.
type Preset struct {
	Name      string             `yaml:"name"`
	Technique string             `yaml:"technique"`
	Params    map[string]float64 `yaml:"params"`
	Notes     string             `yaml:"notes,omitempty"`
}

// Executable reports whether this repository can actually run the preset's
// technique. The baseline techniques exist only as configuration.
func (p Preset) Executable() bool {
	return p.Technique == TechniqueVAH
}

// Validate checks that the preset names a known technique and carries all
// of its required hyperparameters with sane values.
func (p Preset) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("preset has no name")
	}
	required, ok := requiredParams[p.Technique]
	if !ok {
		return fmt.Errorf("preset %q: unknown technique %q", p.Name, p.Technique)
	}
	for _, key := range required {
		value, ok := p.Params[key]
		if !ok {
			return fmt.Errorf("preset %q: missing parameter %q for technique %q", p.Name, key, p.Technique)
		}
		if key == "flip_probability" || key == "threshold" {
			if value < 0 || value > 1 {
				return fmt.Errorf("preset %q: parameter %q must be in [0, 1], got %g", p.Name, key, value)
			}
		} else if value <= 0 {
			return fmt.Errorf("preset %q: parameter %q must be positive, got %g", p.Name, key, value)
		}
	}
	return nil
}

// Defaults returns the built-in presets for every technique in the
// evaluation, with the hyperparameter values used for the published
// comparison where known.
func Defaults() []Preset {
	return []Preset{
		{
			Name:      "vah",
			Technique: TechniqueVAH,
			Params: map[string]float64{
				"vulnerable_qgrams": 10,
				"ref_set_length":    8,
			},
		},
		{
			Name:      "rehashing",
			Technique: TechniqueRehashing,
			Params: map[string]float64{
				"window_length": 8,
				"step_size":     8,
				"k_re":          3,
			},
		},
		{
			Name:      "blip",
			Technique: TechniqueBLIP,
			Params: map[string]float64{
				"flip_probability": 0.05,
			},
		},
		{
			Name:      "rbbf",
			Technique: TechniqueRBBF,
			Params: map[string]float64{
				"ref_set_size": 50,
				"threshold":    0.5,
			},
		},
		{
			Name:      "wxor",
			Technique: TechniqueWindowXOR,
			Params: map[string]float64{
				"window_length": 8,
				"step_size":     8,
			},
		},
		{
			Name:      "diffusion",
			Technique: TechniqueDiffusion,
			Params: map[string]float64{
				"iterations": 2,
			},
		},
	}
}

// presetFile is the on-disk YAML layout of a preset collection.
type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// LoadPresets reads and validates a YAML preset file.
func LoadPresets(path string) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preset file: %w", err)
	}

	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse preset file: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Presets))
	for _, p := range file.Presets {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("duplicate preset name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return file.Presets, nil
}

// SavePresets writes a preset collection to a YAML file atomically.
func SavePresets(path string, presets []Preset) error {
	for _, p := range presets {
		if err := p.Validate(); err != nil {
			return err
		}
	}

	sorted := append([]Preset(nil), presets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	data, err := yaml.Marshal(presetFile{Presets: sorted})
	if err != nil {
		return fmt.Errorf("failed to marshal presets: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write preset file: %w", err)
	}
	return nil
}

// FindPreset returns the preset with the given name from a collection.
func FindPreset(presets []Preset, name string) (Preset, error) {
	for _, p := range presets {
		if p.Name == name {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("no preset named %q", name)
}
