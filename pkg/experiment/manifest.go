package experiment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
)

// Manifest describes a single hardening run: which preset was applied to
// which datasets, and when. The secret seed is deliberately not part of
// the manifest; it lives only in the environment of the run.
type Manifest struct {
	ID            string             `json:"id"`
	Preset        string             `json:"preset"`
	Technique     string             `json:"technique"`
	Params        map[string]float64 `json:"params"`
	SensitivePath string             `json:"sensitive_path"`
	PublicPath    string             `json:"public_path,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// NewManifest creates a manifest for a run of the given preset over the
// given dataset paths.
func NewManifest(preset Preset, sensitivePath, publicPath string) Manifest {
	return Manifest{
		ID:            uuid.NewString(),
		Preset:        preset.Name,
		Technique:     preset.Technique,
		Params:        preset.Params,
		SensitivePath: sensitivePath,
		PublicPath:    publicPath,
		CreatedAt:     time.Now().UTC(),
	}
}

// Write stores the manifest as indented JSON at the given path atomically.
func (m Manifest) Write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
