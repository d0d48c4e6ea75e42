package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vah-pprl/vah/pkg/experiment"
	"github.com/vah-pprl/vah/pkg/hardening"
	"github.com/vah-pprl/vah/pkg/qgram"
)

var hardenFlags struct {
	sensitive   string
	public      string
	idColumn    int
	attrColumns []int
	noHeader    bool
	vulnCount   int
	refSetLen   int
	outputDir   string
}

var hardenCmd = &cobra.Command{
	Use:   "harden",
	Short: "Run the full hardening pipeline over a sensitive dataset",
	Long: `Loads the sensitive and public datasets, selects the most frequent
q-grams of the public dataset as vulnerable, generates reference sets from
their co-occurring q-grams, and writes the hardened sensitive dataset as a
CSV with columns rec_id, og_q_gram_set and hd_q_gram_set.

Both corpora, the reference plan and a run manifest are stored in the
database, so the run can be inspected or the plan exported later.

Examples:
  VAH_SECRET_SEED=42 vah harden --sensitive data/patients.csv --public data/voters.csv.gz
  VAH_SECRET_SEED=42 vah harden --sensitive s.csv --public p.csv --attr-columns 1,2 --vulnerable 25`,
	RunE: runHarden,
}

func init() {
	hardenCmd.Flags().StringVar(&hardenFlags.sensitive, "sensitive", "", "path to the sensitive dataset CSV (.gz supported)")
	hardenCmd.Flags().StringVar(&hardenFlags.public, "public", "", "path to the public dataset CSV (.gz supported)")
	hardenCmd.Flags().IntVar(&hardenFlags.idColumn, "id-column", 0, "zero-based record id column")
	hardenCmd.Flags().IntSliceVar(&hardenFlags.attrColumns, "attr-columns", []int{1}, "zero-based attribute columns to extract q-grams from")
	hardenCmd.Flags().BoolVar(&hardenFlags.noHeader, "no-header", false, "datasets have no header row")
	hardenCmd.Flags().IntVar(&hardenFlags.vulnCount, "vulnerable", 0, "number of vulnerable q-grams (default from config)")
	hardenCmd.Flags().IntVar(&hardenFlags.refSetLen, "ref-set-length", 0, "reference set length (default from config)")
	hardenCmd.Flags().StringVar(&hardenFlags.outputDir, "output-dir", "", "output directory (default from config)")
	_ = hardenCmd.MarkFlagRequired("sensitive")
	_ = hardenCmd.MarkFlagRequired("public")
}

func runHarden(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	seed, err := runtimeEnv.RequireSeed()
	if err != nil {
		return err
	}

	vulnCount := hardenFlags.vulnCount
	if vulnCount <= 0 {
		vulnCount = config.VulnerableCount
	}
	refSetLen := hardenFlags.refSetLen
	if refSetLen <= 0 {
		refSetLen = config.RefSetLength
	}
	outputDir := hardenFlags.outputDir
	if outputDir == "" {
		outputDir = config.OutputDir
	}

	src := qgram.NewCSVSource(
		qgram.WithIDColumn(hardenFlags.idColumn),
		qgram.WithAttributeColumns(hardenFlags.attrColumns...),
		qgram.WithGramLength(config.GramLength),
		qgram.WithHeader(!hardenFlags.noHeader),
	)

	// The two datasets are independent, so parse them in parallel. Ingest
	// stays sequential: SQLite allows a single writer.
	var sensRecs, pubRecs []*qgram.Record
	var g errgroup.Group
	g.Go(func() error {
		var err error
		sensRecs, err = loadDataset(hardenFlags.sensitive, src)
		return err
	})
	g.Go(func() error {
		var err error
		pubRecs, err = loadDataset(hardenFlags.public, src)
		return err
	})
	if err = g.Wait(); err != nil {
		return err
	}

	db, h, err := openHardener()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	defer h.Close()

	sens, err := freshCorpus(ctx, h, "sensitive:"+datasetName(hardenFlags.sensitive))
	if err != nil {
		return err
	}
	pub, err := freshCorpus(ctx, h, "public:"+datasetName(hardenFlags.public))
	if err != nil {
		return err
	}
	if err = h.IngestRecords(ctx, sens, sensRecs); err != nil {
		return fmt.Errorf("failed to ingest sensitive dataset: %w", err)
	}
	if err = h.IngestRecords(ctx, pub, pubRecs); err != nil {
		return fmt.Errorf("failed to ingest public dataset: %w", err)
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

	result, err := h.Harden(ctx, sens, pub, plan, seed)
	if err != nil {
		return fmt.Errorf("hardening failed: %w", err)
	}

	if err = os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	outPath := filepath.Join(outputDir, datasetName(hardenFlags.sensitive))
	if err = writeHardened(outPath, sensRecs, result); err != nil {
		return fmt.Errorf("failed to write hardened dataset: %w", err)
	}

	// The manifest records what ran, never the seed.
	preset := experiment.Preset{
		Name:      "vah",
		Technique: experiment.TechniqueVAH,
		Params: map[string]float64{
			"vulnerable_qgrams": float64(len(vuln)),
			"ref_set_length":    float64(plan.RefSetLen),
		},
	}
	manifest := experiment.NewManifest(preset, hardenFlags.sensitive, hardenFlags.public)
	manifest.ID = result.RunID
	if err = manifest.Write(outPath + ".manifest.json"); err != nil {
		return err
	}

	logger.Info("Hardening completed",
		"run_id", result.RunID,
		"records", len(sensRecs),
		"hardened_records", result.HardenedRecords,
		"vulnerable_qgrams", len(vuln),
		"output", outPath,
	)
	return nil
}

// datasetName returns the output file name for a dataset path, dropping a
// trailing .gz so hardened output is written uncompressed.
func datasetName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".gz")
}

// freshCorpus creates the named corpus, replacing any previous corpus of
// the same name so repeated runs don't accumulate stale memberships.
func freshCorpus(ctx context.Context, h *hardening.Hardener, name string) (hardening.CorpusInfo, error) {
	existing, err := h.GetCorpusInfo(ctx, name)
	if err == nil {
		if err = h.RemoveCorpus(ctx, existing); err != nil {
			return hardening.CorpusInfo{}, fmt.Errorf("failed to replace corpus %q: %w", name, err)
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return hardening.CorpusInfo{}, err
	}
	if err = h.InsertCorpus(ctx, hardening.CorpusInfo{Name: name, GramLen: config.GramLength}); err != nil {
		return hardening.CorpusInfo{}, fmt.Errorf("failed to create corpus %q: %w", name, err)
	}
	return h.GetCorpusInfo(ctx, name)
}

// loadDataset parses a whole dataset file into memory.
func loadDataset(path string, src qgram.Source) ([]*qgram.Record, error) {
	rc, err := qgram.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	recs, err := qgram.Records(src.NewStream(rc))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return recs, nil
}

// writeHardened writes the output CSV atomically. Records keep their input
// order; both q-gram sets are rendered as space-joined sorted grams. Rows
// sharing a rec_id were unioned into one record at ingest, so their
// original sets are merged here too and each record gets one output row.
func writeHardened(path string, recs []*qgram.Record, result *hardening.RunResult) error {
	original := make(map[string]qgram.Set, len(recs))
	order := make([]string, 0, len(recs))
	for _, rec := range recs {
		if set, ok := original[rec.ID]; ok {
			for g := range rec.Grams {
				set.Add(g)
			}
			continue
		}
		original[rec.ID] = rec.Grams.Clone()
		order = append(order, rec.ID)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"rec_id", "og_q_gram_set", "hd_q_gram_set"}); err != nil {
		return err
	}
	for _, recID := range order {
		hardened, ok := result.Hardened[recID]
		if !ok {
			hardened = original[recID]
		}
		row := []string{recID, joinSet(original[recID]), joinSet(hardened)}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(buf.Bytes()))
}

func joinSet(s qgram.Set) string {
	return strings.Join(s.Sorted(), " ")
}
