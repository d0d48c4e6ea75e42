package hardening

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vah-pprl/vah/pkg/qgram"
)

// RunResult holds the outcome of a hardening pass over a sensitive corpus.
type RunResult struct {
	// RunID is the unique identifier of the recorded run manifest.
	RunID string
	// Hardened maps every record of the sensitive corpus to its (possibly
	// unchanged) q-gram set after hardening.
	Hardened map[string]qgram.Set
	// Replacements maps each vulnerable q-gram to the replacement tokens
	// that were actually used for it, in order of first use.
	Replacements map[string][]string
	// Frequencies is the corpus q-gram frequency distribution after
	// hardening: original counts decremented per replacement, zero entries
	// removed, replacement tokens counted.
	Frequencies map[string]int
	// HardenedRecords is the number of records that contained at least one
	// vulnerable q-gram.
	HardenedRecords int
}

// RunInfo describes a recorded hardening run.
type RunInfo struct {
	RunID           string
	CorpusName      string
	RefCorpusName   string
	VulnCount       int
	RefSetLen       int
	HardenedRecords int
	CreatedAt       string
}

// Harden applies a reference plan to a sensitive corpus. Every occurrence
// of a vulnerable q-gram is replaced by the q-gram concatenated with the
// qualifier of the most Dice-similar reference set; ties between maximal
// reference sets are broken by a seeded random choice, so the whole pass is
// reproducible for a given (corpus, plan, seed).
//
// Records and the vulnerable q-grams within a record are processed in
// sorted order. A record's set mutates as its q-grams are replaced, so
// later similarity scores see the replacements made by earlier ones.
//
// A run manifest row is recorded on success.
func (h *Hardener) Harden(ctx context.Context, sens, ref CorpusInfo, plan *Plan, seed uint64) (*RunResult, error) {
	records, err := h.Records(ctx, sens)
	if err != nil {
		return nil, err
	}
	freq, err := h.Frequencies(ctx, sens)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	vulnSet := qgram.NewSet(plan.Vulnerable...)

	recIDs := make([]string, 0, len(records))
	for recID := range records {
		recIDs = append(recIDs, recID)
	}
	sort.Strings(recIDs)

	result := &RunResult{
		Hardened:     make(map[string]qgram.Set, len(records)),
		Replacements: make(map[string][]string),
		Frequencies:  freq,
	}

	for _, recID := range recIDs {
		grams := records[recID].Clone()
		result.Hardened[recID] = grams

		present := grams.Intersect(vulnSet)
		if len(present) == 0 {
			continue
		}

		for _, qv := range present.Sorted() {
			qualifier, err := h.chooseQualifier(grams, plan.RefSets[qv], rng)
			if err != nil {
				return nil, fmt.Errorf("record %q: %w", recID, err)
			}

			replacement := qv + strconv.Itoa(qualifier)
			grams.Remove(qv)
			grams.Add(replacement)

			used := result.Replacements[qv]
			if !contains(used, replacement) {
				result.Replacements[qv] = append(used, replacement)
			}

			count, ok := freq[qv]
			if !ok {
				return nil, fmt.Errorf("q-gram %q missing from the frequency distribution", qv)
			}
			if count == 1 {
				delete(freq, qv)
			} else {
				freq[qv] = count - 1
			}
			freq[replacement]++
		}

		result.HardenedRecords++
	}

	result.RunID = uuid.NewString()
	createdAt := time.Now().UTC().Format(time.RFC3339)
	_, err = h.stmtInsertRun.ExecContext(ctx, result.RunID, sens.Name, ref.Name,
		len(plan.Vulnerable), plan.RefSetLen, result.HardenedRecords, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record run manifest: %w", err)
	}

	h.logger.InfoContext(ctx, "Hardening completed",
		slog.String("run_id", result.RunID),
		slog.String("corpus_name", sens.Name),
		slog.String("ref_corpus_name", ref.Name),
		slog.Int("records_hardened", result.HardenedRecords),
		slog.Int("records_total", len(records)),
	)

	return result, nil
}

// chooseQualifier scores every reference set of a vulnerable q-gram against
// the record's current q-gram set and returns the qualifier of the most
// similar one. All maximally similar reference sets are collected and the
// winner is picked by a seeded random choice among them, in ascending
// qualifier order for reproducibility.
func (h *Hardener) chooseQualifier(grams qgram.Set, refSets map[int]qgram.Set, rng *rand.Rand) (int, error) {
	if len(refSets) == 0 {
		return 0, fmt.Errorf("no reference sets available")
	}

	qualifiers := make([]int, 0, len(refSets))
	for index := range refSets {
		qualifiers = append(qualifiers, index)
	}
	sort.Ints(qualifiers)

	maxSim := -1.0
	var maxKeys []int
	for _, index := range qualifiers {
		sim := qgram.DiceSim(grams, refSets[index])
		if sim > maxSim {
			maxSim = sim
			maxKeys = maxKeys[:0]
			maxKeys = append(maxKeys, index)
		} else if sim == maxSim {
			maxKeys = append(maxKeys, index)
		}
	}

	return maxKeys[rng.IntN(len(maxKeys))], nil
}

// Runs returns all recorded hardening run manifests, oldest first.
func (h *Hardener) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := h.stmtGetRuns.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var runs []RunInfo
	for rows.Next() {
		var run RunInfo
		if err = rows.Scan(&run.RunID, &run.CorpusName, &run.RefCorpusName,
			&run.VulnCount, &run.RefSetLen, &run.HardenedRecords, &run.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
