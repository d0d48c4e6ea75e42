package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vah-pprl/vah/pkg/experiment"
)

var presetsFile string

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "Manage hardening technique presets",
	Long: `Presets name the hardening techniques of the evaluation together with
their hyperparameters. Only the vah technique is runnable here; the
baseline presets exist so experiment configurations can be kept and
compared in one place.`,
}

var presetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List presets",
	Args:  cobra.NoArgs,
	RunE:  runPresetsList,
}

var presetsShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show a preset as YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runPresetsShow,
}

var presetsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the built-in presets to the preset file",
	Args:  cobra.NoArgs,
	RunE:  runPresetsInit,
}

func init() {
	presetsCmd.PersistentFlags().StringVar(&presetsFile, "file", "./presets.yaml", "path to the preset YAML file")
	presetsCmd.AddCommand(presetsListCmd)
	presetsCmd.AddCommand(presetsShowCmd)
	presetsCmd.AddCommand(presetsInitCmd)
}

// loadPresetFile returns the presets from the configured file, falling
// back to the built-ins when the file doesn't exist yet.
func loadPresetFile() ([]experiment.Preset, error) {
	presets, err := experiment.LoadPresets(presetsFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return experiment.Defaults(), nil
		}
		return nil, err
	}
	return presets, nil
}

func runPresetsList(cmd *cobra.Command, args []string) error {
	presets, err := loadPresetFile()
	if err != nil {
		return err
	}

	fmt.Printf("%-14s %-10s %s\n", "NAME", "TECHNIQUE", "")
	for _, p := range presets {
		note := ""
		if !p.Executable() {
			note = "(config only)"
		}
		fmt.Printf("%-14s %-10s %s\n", p.Name, p.Technique, note)
	}
	return nil
}

func runPresetsShow(cmd *cobra.Command, args []string) error {
	presets, err := loadPresetFile()
	if err != nil {
		return err
	}
	preset, err := experiment.FindPreset(presets, args[0])
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(preset)
	if err != nil {
		return fmt.Errorf("failed to marshal preset: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

func runPresetsInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(presetsFile); err == nil {
		return fmt.Errorf("preset file %s already exists", presetsFile)
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := experiment.SavePresets(presetsFile, experiment.Defaults()); err != nil {
		return err
	}
	fmt.Printf("wrote %d presets to %s\n", len(experiment.Defaults()), presetsFile)
	return nil
}
