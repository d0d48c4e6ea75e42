package hardening

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"

	"github.com/vah-pprl/vah/pkg/qgram"
)

// ErrNoPlan is returned by LoadPlan when no reference plan has been stored
// for the given corpus.
var ErrNoPlan = errors.New("no reference plan stored for corpus")

// Plan holds the indexed reference sets for a set of vulnerable q-grams.
// Every reference set is identified by a qualifier index that is unique
// across the whole plan; the qualifier of the winning reference set becomes
// part of the replacement token during hardening.
type Plan struct {
	RefSetLen  int
	Vulnerable []string
	RefSets    map[string]map[int]qgram.Set
}

// GenerateReferenceSets derives a reference plan for the given vulnerable
// q-grams from a public corpus. For each vulnerable q-gram, the pool of
// q-grams co-occurring with it in the public records is split into sets of
// refSetLen members; a short final set is filled with seeded random draws
// from the pool, or from the non-vulnerable list when the pool itself is
// smaller than refSetLen. Every reference set is then assigned a qualifier
// index drawn without replacement from the full qualifier space and
// shuffled, so that the index reveals nothing about which vulnerable q-gram
// it belongs to.
//
// The co-occurrence pools and the non-vulnerable list are consumed in
// sorted order, so the resulting plan is a pure function of the corpus
// content, the vulnerable split, refSetLen, and the seed.
func (h *Hardener) GenerateReferenceSets(ctx context.Context, pub CorpusInfo, vuln, nonVuln []string, refSetLen int, seed uint64) (*Plan, error) {
	if refSetLen <= 0 {
		return nil, fmt.Errorf("reference set length must be positive, got %d", refSetLen)
	}
	if len(vuln) == 0 {
		return nil, errors.New("no vulnerable q-grams to generate reference sets for")
	}

	records, err := h.Records(ctx, pub)
	if err != nil {
		return nil, err
	}

	// Co-occurrence pool per vulnerable q-gram: every q-gram that appears
	// alongside it in some public record, minus the q-gram itself.
	vulnSet := qgram.NewSet(vuln...)
	pools := make(map[string]qgram.Set, len(vuln))
	for _, qv := range vuln {
		pools[qv] = make(qgram.Set)
	}
	for _, grams := range records {
		present := grams.Intersect(vulnSet)
		if len(present) == 0 {
			continue
		}
		for qv := range present {
			pool := pools[qv]
			for g := range grams {
				if g != qv {
					pool.Add(g)
				}
			}
		}
	}

	rng := rand.New(rand.NewPCG(seed, seed))

	sortedVuln := append([]string(nil), vuln...)
	sort.Strings(sortedVuln)

	// padFromList fills the set with random draws from list until it has
	// refSetLen members. Draws that are already present do not grow the set,
	// matching the draw-until-full semantics of the reference design.
	padFromList := func(set qgram.Set, list []string) error {
		distinct := set.Clone()
		for _, g := range list {
			distinct.Add(g)
		}
		if len(distinct) < refSetLen {
			return fmt.Errorf("cannot build a reference set of length %d from %d distinct candidates", refSetLen, len(distinct))
		}
		for len(set) < refSetLen {
			set.Add(list[rng.IntN(len(list))])
		}
		return nil
	}

	ordered := make(map[string][]qgram.Set, len(vuln))
	totalSets := 0
	for _, qv := range sortedVuln {
		poolList := pools[qv].Sorted()

		var sets []qgram.Set
		if len(poolList) == 0 {
			// A vulnerable q-gram that only ever appears alone has no
			// co-occurrence pool; build a single set from the
			// non-vulnerable list so hardening never dead-ends.
			set := make(qgram.Set)
			if err := padFromList(set, nonVuln); err != nil {
				return nil, fmt.Errorf("empty co-occurrence pool for %q: %w", qv, err)
			}
			sets = append(sets, set)
		} else {
			for i := 0; i < len(poolList); i += refSetLen {
				end := i + refSetLen
				if end > len(poolList) {
					end = len(poolList)
				}
				set := qgram.NewSet(poolList[i:end]...)

				if len(set) < refSetLen && len(sets) > 0 {
					if err := padFromList(set, poolList); err != nil {
						return nil, fmt.Errorf("padding reference set for %q: %w", qv, err)
					}
				} else if len(set) < refSetLen {
					h.logger.DebugContext(ctx, "Co-occurrence pool smaller than reference set length",
						slog.String("vulnerable_qgram", qv),
						slog.Int("pool_size", len(poolList)),
						slog.Int("ref_set_len", refSetLen),
					)
					if err := padFromList(set, nonVuln); err != nil {
						return nil, fmt.Errorf("padding reference set for %q from non-vulnerable q-grams: %w", qv, err)
					}
				}

				if len(set) != refSetLen {
					return nil, fmt.Errorf("reference set for %q has %d members, expected %d", qv, len(set), refSetLen)
				}
				sets = append(sets, set)
			}
		}
		ordered[qv] = sets
		totalSets += len(sets)
	}

	// Assign every reference set a globally unique qualifier index, sampled
	// without replacement from the full qualifier space and shuffled.
	perm := rng.Perm(totalSets * len(vuln))
	indices := perm[:totalSets]

	plan := &Plan{
		RefSetLen:  refSetLen,
		Vulnerable: sortedVuln,
		RefSets:    make(map[string]map[int]qgram.Set, len(vuln)),
	}
	next := 0
	for _, qv := range sortedVuln {
		indexed := make(map[int]qgram.Set, len(ordered[qv]))
		for _, set := range ordered[qv] {
			indexed[indices[next]] = set
			next++
		}
		plan.RefSets[qv] = indexed
	}

	h.logger.InfoContext(ctx, "Reference sets generated",
		slog.String("corpus_name", pub.Name),
		slog.Int("vulnerable_qgrams", len(vuln)),
		slog.Int("reference_sets", totalSets),
		slog.Int("ref_set_len", refSetLen),
	)

	return plan, nil
}

// SavePlan persists a reference plan under the corpus it was derived from,
// replacing any previously stored plan for that corpus. The operation is
// performed within a transaction.
func (h *Hardener) SavePlan(ctx context.Context, pub CorpusInfo, plan *Plan) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.ExecContext(ctx, "DELETE FROM vah_ref_sets WHERE corpus_id = ?", pub.Id); err != nil {
		return fmt.Errorf("failed to clear existing plan for corpus %d: %w", pub.Id, err)
	}

	stmtInsertQGram := tx.StmtContext(ctx, h.stmtInsertQGram)
	stmtInsertRefMember := tx.StmtContext(ctx, h.stmtInsertRefMember)

	gramCache := make(map[string]int)
	intern := func(gram string) (int, error) {
		if id, ok := gramCache[gram]; ok {
			return id, nil
		}
		var id int
		if err := stmtInsertQGram.QueryRowContext(ctx, gram).Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to intern q-gram '%s': %w", gram, err)
		}
		gramCache[gram] = id
		return id, nil
	}

	rowCount := 0
	for _, qv := range plan.Vulnerable {
		vulnID, err := intern(qv)
		if err != nil {
			return err
		}
		for index, set := range plan.RefSets[qv] {
			for _, member := range set.Sorted() {
				memberID, err := intern(member)
				if err != nil {
					return err
				}
				if _, err := stmtInsertRefMember.ExecContext(ctx, pub.Id, vulnID, index, memberID); err != nil {
					return fmt.Errorf("failed to insert reference member (%s[%d] -> %s): %w", qv, index, member, err)
				}
				rowCount++
			}
		}
	}

	h.logger.InfoContext(ctx, "Reference plan saved",
		slog.String("corpus_name", pub.Name),
		slog.Int("member_rows", rowCount),
	)

	return tx.Commit()
}

// LoadPlan reads the stored reference plan for a corpus back into memory.
// It returns ErrNoPlan when the corpus has no stored plan.
func (h *Hardener) LoadPlan(ctx context.Context, pub CorpusInfo) (*Plan, error) {
	rows, err := h.stmtGetRefSets.QueryContext(ctx, pub.Id)
	if err != nil {
		return nil, fmt.Errorf("could not query reference plan for corpus %d: %w", pub.Id, err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	refSets := make(map[string]map[int]qgram.Set)
	for rows.Next() {
		var vulnGram, member string
		var index int
		if err = rows.Scan(&vulnGram, &index, &member); err != nil {
			return nil, err
		}
		indexed, ok := refSets[vulnGram]
		if !ok {
			indexed = make(map[int]qgram.Set)
			refSets[vulnGram] = indexed
		}
		set, ok := indexed[index]
		if !ok {
			set = make(qgram.Set)
			indexed[index] = set
		}
		set.Add(member)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if len(refSets) == 0 {
		return nil, ErrNoPlan
	}

	plan := &Plan{RefSets: refSets}
	for qv, indexed := range refSets {
		plan.Vulnerable = append(plan.Vulnerable, qv)
		for _, set := range indexed {
			if plan.RefSetLen == 0 {
				plan.RefSetLen = len(set)
			} else if len(set) != plan.RefSetLen {
				return nil, fmt.Errorf("stored plan is inconsistent: reference set of %q has %d members, expected %d", qv, len(set), plan.RefSetLen)
			}
		}
	}
	sort.Strings(plan.Vulnerable)

	return plan, nil
}
