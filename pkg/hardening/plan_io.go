package hardening

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"

	"github.com/vah-pprl/vah/pkg/qgram"
)

// ExportedPlan is the serializable representation of a stored reference
// plan, used for JSON-based import and export. Reference sets are keyed by
// their qualifier index (as a string, since JSON object keys are strings)
// and carry their members as sorted q-gram text, so an export is
// independent of the database's internal q-gram IDs.
type ExportedPlan struct {
	Corpus     string                         `json:"corpus"`
	GramLen    int                            `json:"gram_len"`
	RefSetLen  int                            `json:"ref_set_len"`
	Vulnerable []string                       `json:"vulnerable"`
	RefSets    map[string]map[string][]string `json:"ref_sets"`
}

// ExportPlan serializes the stored reference plan of a corpus into a JSON
// format and writes it to the provided io.Writer. This is useful for
// backups or for transferring a plan between databases.
func (h *Hardener) ExportPlan(ctx context.Context, pub CorpusInfo, w io.Writer) error {
	plan, err := h.LoadPlan(ctx, pub)
	if err != nil {
		return err
	}

	exported := ExportedPlan{
		Corpus:     pub.Name,
		GramLen:    pub.GramLen,
		RefSetLen:  plan.RefSetLen,
		Vulnerable: plan.Vulnerable,
		RefSets:    make(map[string]map[string][]string, len(plan.RefSets)),
	}

	setCount := 0
	for qv, indexed := range plan.RefSets {
		sets := make(map[string][]string, len(indexed))
		for index, set := range indexed {
			sets[strconv.Itoa(index)] = set.Sorted()
			setCount++
		}
		exported.RefSets[qv] = sets
	}

	h.logger.InfoContext(ctx, "Reference plan exported",
		slog.String("corpus_name", pub.Name),
		slog.Int("vulnerable_qgrams", len(exported.Vulnerable)),
		slog.Int("reference_sets", setCount),
	)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exported)
}

// ImportPlan reads a JSON representation of a reference plan from an
// io.Reader and stores it in the database, replacing any plan previously
// stored for the named corpus. If the corpus does not exist yet, it is
// created. Q-gram IDs are remapped implicitly: the plan carries q-gram
// text, and SavePlan interns each q-gram into the target database's
// vocabulary.
func (h *Hardener) ImportPlan(ctx context.Context, r io.Reader) error {
	var imported ExportedPlan
	if err := json.NewDecoder(r).Decode(&imported); err != nil {
		return fmt.Errorf("failed to decode json plan: %w", err)
	}
	if imported.RefSetLen <= 0 {
		return fmt.Errorf("imported plan has invalid reference set length %d", imported.RefSetLen)
	}

	refSets := make(map[string]map[int]qgram.Set, len(imported.RefSets))
	for qv, sets := range imported.RefSets {
		indexed := make(map[int]qgram.Set, len(sets))
		for key, members := range sets {
			index, err := strconv.Atoi(key)
			if err != nil {
				return fmt.Errorf("invalid qualifier index %q in imported plan: %w", key, err)
			}
			set := qgram.NewSet(members...)
			if len(set) != imported.RefSetLen {
				return fmt.Errorf("reference set %s[%d] has %d members, expected %d", qv, index, len(set), imported.RefSetLen)
			}
			indexed[index] = set
		}
		refSets[qv] = indexed
	}

	vulnerable := make([]string, 0, len(refSets))
	for qv := range refSets {
		vulnerable = append(vulnerable, qv)
	}
	sort.Strings(vulnerable)

	corpus, err := h.GetCorpusInfo(ctx, imported.Corpus)
	if errors.Is(err, sql.ErrNoRows) {
		if err = h.InsertCorpus(ctx, CorpusInfo{Name: imported.Corpus, GramLen: imported.GramLen}); err != nil {
			return fmt.Errorf("failed to create corpus '%s' for imported plan: %w", imported.Corpus, err)
		}
		corpus, err = h.GetCorpusInfo(ctx, imported.Corpus)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve corpus '%s': %w", imported.Corpus, err)
	}

	plan := &Plan{
		RefSetLen:  imported.RefSetLen,
		Vulnerable: vulnerable,
		RefSets:    refSets,
	}

	if err := h.SavePlan(ctx, corpus, plan); err != nil {
		return err
	}

	h.logger.InfoContext(ctx, "Reference plan imported",
		slog.String("corpus_name", corpus.Name),
		slog.Int("vulnerable_qgrams", len(vulnerable)),
	)

	return nil
}
