package main

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/vah-pprl/vah/pkg/hardening"
	"github.com/vah-pprl/vah/pkg/qgram"
)

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage stored corpora",
}

var corpusIngestFlags struct {
	idColumn    int
	attrColumns []int
	noHeader    bool
}

var corpusIngestCmd = &cobra.Command{
	Use:   "ingest [name] [file]",
	Short: "Ingest a dataset file into a corpus",
	Long: `Ingests a CSV dataset (plain or gzipped) into the named corpus. The
corpus is created with the configured q-gram length if it doesn't exist;
otherwise the new records are added to it.`,
	Args: cobra.ExactArgs(2),
	RunE: runCorpusIngest,
}

var corpusListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all corpora in the database",
	Args:  cobra.NoArgs,
	RunE:  runCorpusList,
}

var corpusStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database and per-corpus statistics",
	Args:  cobra.NoArgs,
	RunE:  runCorpusStats,
}

var corpusPruneMinCount int

var corpusPruneCmd = &cobra.Command{
	Use:   "prune [name]",
	Short: "Remove rare q-grams from a corpus",
	Long: `Removes all memberships of q-grams that appear in fewer records than
the threshold, then drops vocabulary entries no corpus or reference set
uses anymore.`,
	Args: cobra.ExactArgs(1),
	RunE: runCorpusPrune,
}

var corpusRmCmd = &cobra.Command{
	Use:   "rm [name]",
	Short: "Remove a corpus and its reference plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runCorpusRm,
}

func init() {
	corpusIngestCmd.Flags().IntVar(&corpusIngestFlags.idColumn, "id-column", 0, "zero-based record id column")
	corpusIngestCmd.Flags().IntSliceVar(&corpusIngestFlags.attrColumns, "attr-columns", []int{1}, "zero-based attribute columns to extract q-grams from")
	corpusIngestCmd.Flags().BoolVar(&corpusIngestFlags.noHeader, "no-header", false, "dataset has no header row")
	corpusPruneCmd.Flags().IntVar(&corpusPruneMinCount, "min-count", 2, "remove q-grams appearing in fewer records than this")

	corpusCmd.AddCommand(corpusIngestCmd)
	corpusCmd.AddCommand(corpusListCmd)
	corpusCmd.AddCommand(corpusStatsCmd)
	corpusCmd.AddCommand(corpusPruneCmd)
	corpusCmd.AddCommand(corpusRmCmd)
}

// getCorpus looks up a corpus by name, translating the no-rows case into a
// friendlier error than the raw sql sentinel.
func getCorpus(cmd *cobra.Command, h *hardening.Hardener, name string) (hardening.CorpusInfo, error) {
	corpus, err := h.GetCorpusInfo(cmd.Context(), name)
	if errors.Is(err, sql.ErrNoRows) {
		return hardening.CorpusInfo{}, fmt.Errorf("no corpus named %q", name)
	}
	return corpus, err
}

func runCorpusIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name, path := args[0], args[1]

	db, h, err := openHardener()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	defer h.Close()

	corpus, err := h.GetCorpusInfo(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		if err = h.InsertCorpus(ctx, hardening.CorpusInfo{Name: name, GramLen: config.GramLength}); err != nil {
			return fmt.Errorf("failed to create corpus %q: %w", name, err)
		}
		if corpus, err = h.GetCorpusInfo(ctx, name); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	src := qgram.NewCSVSource(
		qgram.WithIDColumn(corpusIngestFlags.idColumn),
		qgram.WithAttributeColumns(corpusIngestFlags.attrColumns...),
		qgram.WithGramLength(corpus.GramLen),
		qgram.WithHeader(!corpusIngestFlags.noHeader),
	)

	rc, err := qgram.OpenFile(path)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	if err = h.Ingest(ctx, corpus, src, rc); err != nil {
		return fmt.Errorf("failed to ingest %s: %w", path, err)
	}
	return nil
}

func runCorpusList(cmd *cobra.Command, args []string) error {
	db, h, err := openHardener()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	defer h.Close()

	corpora, err := h.GetCorpusInfos(cmd.Context())
	if err != nil {
		return err
	}
	if len(corpora) == 0 {
		fmt.Println("no corpora stored")
		return nil
	}

	names := make([]string, 0, len(corpora))
	for name := range corpora {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("%-4s %-40s %s\n", "ID", "NAME", "Q")
	for _, name := range names {
		c := corpora[name]
		fmt.Printf("%-4d %-40s %d\n", c.Id, c.Name, c.GramLen)
	}
	return nil
}

func runCorpusStats(cmd *cobra.Command, args []string) error {
	db, h, err := openHardener()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	defer h.Close()

	stats, err := h.GetStats(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("vocabulary: %d q-grams, runs recorded: %d\n", stats.QGramCount, stats.RunCount)
	for _, corpus := range stats.Corpora {
		s := stats.Stats[corpus.Id]
		fmt.Printf("%-40s records=%-8d distinct=%-8d memberships=%d\n",
			corpus.Name, s.Records, s.DistinctQGrams, s.Memberships)
	}
	return nil
}

func runCorpusPrune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	db, h, err := openHardener()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	defer h.Close()

	corpus, err := getCorpus(cmd, h, args[0])
	if err != nil {
		return err
	}
	if err = h.PruneRare(ctx, corpus, corpusPruneMinCount); err != nil {
		return fmt.Errorf("failed to prune corpus %q: %w", corpus.Name, err)
	}
	return h.VocabularyCompact(ctx)
}

func runCorpusRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	db, h, err := openHardener()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	defer h.Close()

	corpus, err := getCorpus(cmd, h, args[0])
	if err != nil {
		return err
	}
	if err = h.RemoveCorpus(ctx, corpus); err != nil {
		return fmt.Errorf("failed to remove corpus %q: %w", corpus.Name, err)
	}
	return h.VocabularyCompact(ctx)
}
