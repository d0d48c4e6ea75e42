package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
)

var refsetsCmd = &cobra.Command{
	Use:   "refsets",
	Short: "Manage stored reference set plans",
}

var refsetsGenerateFlags struct {
	vulnCount int
	refSetLen int
}

var refsetsGenerateCmd = &cobra.Command{
	Use:   "generate [public-corpus]",
	Short: "Generate and store a reference plan for a public corpus",
	Long: `Selects the most frequent q-grams of the corpus as vulnerable, derives
reference sets from their co-occurring q-grams, and stores the plan in the
database, replacing any previous plan for the corpus. Requires
VAH_SECRET_SEED.`,
	Args: cobra.ExactArgs(1),
	RunE: runRefsetsGenerate,
}

var refsetsExportCmd = &cobra.Command{
	Use:   "export [public-corpus] [file]",
	Short: "Export the stored reference plan as JSON",
	Long: `Writes the stored reference plan of the corpus as indented JSON to the
given file, or to stdout when the file is "-".`,
	Args: cobra.ExactArgs(2),
	RunE: runRefsetsExport,
}

var refsetsImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import a reference plan from a JSON export",
	Long: `Reads a plan exported by "vah refsets export" and stores it under the
corpus named in the file, creating the corpus if necessary. Replaces any
existing plan for that corpus.`,
	Args: cobra.ExactArgs(1),
	RunE: runRefsetsImport,
}

func init() {
	refsetsGenerateCmd.Flags().IntVar(&refsetsGenerateFlags.vulnCount, "vulnerable", 0, "number of vulnerable q-grams (default from config)")
	refsetsGenerateCmd.Flags().IntVar(&refsetsGenerateFlags.refSetLen, "ref-set-length", 0, "reference set length (default from config)")

	refsetsCmd.AddCommand(refsetsGenerateCmd)
	refsetsCmd.AddCommand(refsetsExportCmd)
	refsetsCmd.AddCommand(refsetsImportCmd)
}

func runRefsetsGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	seed, err := runtimeEnv.RequireSeed()
	if err != nil {
		return err
	}
	vulnCount := refsetsGenerateFlags.vulnCount
	if vulnCount <= 0 {
		vulnCount = config.VulnerableCount
	}
	refSetLen := refsetsGenerateFlags.refSetLen
	if refSetLen <= 0 {
		refSetLen = config.RefSetLength
	}

	db, h, err := openHardener()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	defer h.Close()

	pub, err := getCorpus(cmd, h, args[0])
	if err != nil {
		return err
	}

	vuln, nonVuln, err := h.VulnerableQGrams(ctx, pub, vulnCount)
	if err != nil {
		return fmt.Errorf("failed to select vulnerable q-grams: %w", err)
	}
	plan, err := h.GenerateReferenceSets(ctx, pub, vuln, nonVuln, refSetLen, seed)
	if err != nil {
		return fmt.Errorf("failed to generate reference sets: %w", err)
	}
	if err = h.SavePlan(ctx, pub, plan); err != nil {
		return fmt.Errorf("failed to store reference plan: %w", err)
	}

	logger.Info("Reference plan stored",
		"corpus", pub.Name,
		"vulnerable_qgrams", len(plan.Vulnerable),
		"ref_set_length", plan.RefSetLen,
	)
	return nil
}

func runRefsetsExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	db, h, err := openHardener()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	defer h.Close()

	pub, err := getCorpus(cmd, h, args[0])
	if err != nil {
		return err
	}

	if args[1] == "-" {
		return h.ExportPlan(ctx, pub, os.Stdout)
	}

	var buf bytes.Buffer
	if err = h.ExportPlan(ctx, pub, &buf); err != nil {
		return err
	}
	if err = atomic.WriteFile(args[1], bytes.NewReader(buf.Bytes())); err != nil {
		return fmt.Errorf("failed to write plan export: %w", err)
	}
	return nil
}

func runRefsetsImport(cmd *cobra.Command, args []string) error {
	db, h, err := openHardener()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	defer h.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err = h.ImportPlan(cmd.Context(), f); err != nil {
		return fmt.Errorf("failed to import plan from %s: %w", args[0], err)
	}
	return nil
}
