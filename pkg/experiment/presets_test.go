package experiment

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	defaults := Defaults()
	if len(defaults) != 6 {
		t.Fatalf("expected 6 built-in presets, got %d", len(defaults))
	}
	for _, p := range defaults {
		if err := p.Validate(); err != nil {
			t.Errorf("built-in preset %q is invalid: %v", p.Name, err)
		}
	}
}

func TestOnlyVAHIsExecutable(t *testing.T) {
	for _, p := range Defaults() {
		if p.Technique == TechniqueVAH {
			if !p.Executable() {
				t.Errorf("preset %q should be executable", p.Name)
			}
		} else if p.Executable() {
			t.Errorf("baseline preset %q must not be executable", p.Name)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		preset  Preset
		wantErr bool
	}{
		{
			"valid rehashing",
			Preset{Name: "r", Technique: TechniqueRehashing, Params: map[string]float64{"window_length": 8, "step_size": 8, "k_re": 3}},
			false,
		},
		{
			"unknown technique",
			Preset{Name: "x", Technique: "xor-cascade", Params: map[string]float64{}},
			true,
		},
		{
			"missing parameter",
			Preset{Name: "b", Technique: TechniqueBLIP, Params: map[string]float64{}},
			true,
		},
		{
			"probability out of range",
			Preset{Name: "b", Technique: TechniqueBLIP, Params: map[string]float64{"flip_probability": 1.5}},
			true,
		},
		{
			"non-positive count",
			Preset{Name: "d", Technique: TechniqueDiffusion, Params: map[string]float64{"iterations": 0}},
			true,
		},
		{
			"unnamed",
			Preset{Technique: TechniqueDiffusion, Params: map[string]float64{"iterations": 1}},
			true,
		},
	}
	for _, c := range cases {
		err := c.preset.Validate()
		if c.wantErr && err == nil {
			t.Errorf("%s: expected an error", c.name)
		}
		if !c.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", c.name, err)
		}
	}
}

func TestSaveAndLoadPresets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")

	defaults := Defaults()
	if err := SavePresets(path, defaults); err != nil {
		t.Fatalf("SavePresets failed: %v", err)
	}

	loaded, err := LoadPresets(path)
	if err != nil {
		t.Fatalf("LoadPresets failed: %v", err)
	}
	if len(loaded) != len(defaults) {
		t.Fatalf("expected %d presets, got %d", len(defaults), len(loaded))
	}

	rehashing, err := FindPreset(loaded, "rehashing")
	if err != nil {
		t.Fatalf("FindPreset failed: %v", err)
	}
	want := map[string]float64{"window_length": 8, "step_size": 8, "k_re": 3}
	if !reflect.DeepEqual(rehashing.Params, want) {
		t.Errorf("unexpected rehashing parameters: %v", rehashing.Params)
	}

	if _, err := FindPreset(loaded, "nope"); err == nil {
		t.Error("expected an error for an unknown preset name")
	}
}

func TestLoadPresetsRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	p := Preset{Name: "dup", Technique: TechniqueDiffusion, Params: map[string]float64{"iterations": 1}}
	if err := SavePresets(path, []Preset{p}); err != nil {
		t.Fatalf("SavePresets failed: %v", err)
	}
	// SavePresets refuses invalid collections, so write the duplicate by hand.
	dup := "presets:\n" +
		"  - name: dup\n    technique: diffusion\n    params:\n      iterations: 1\n" +
		"  - name: dup\n    technique: diffusion\n    params:\n      iterations: 2\n"
	if err := os.WriteFile(path, []byte(dup), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := LoadPresets(path); err == nil {
		t.Error("expected an error for duplicate preset names")
	}
}
