package hardening

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	"github.com/vah-pprl/vah/pkg/qgram"
)

// CorpusInfo holds the essential metadata for an ingested record corpus,
// including its unique ID, name, and the q-gram length its records were
// extracted with.
type CorpusInfo struct {
	Id      int
	Name    string
	GramLen int
}

// GetCorpusInfos retrieves metadata for all corpora currently in the
// database, returning them in a map keyed by corpus name.
func (h *Hardener) GetCorpusInfos(ctx context.Context) (map[string]CorpusInfo, error) {
	rows, err := h.stmtGetCorpora.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	corpora := make(map[string]CorpusInfo)
	for rows.Next() {
		var corpus CorpusInfo
		if err = rows.Scan(&corpus.Id, &corpus.Name, &corpus.GramLen); err != nil {
			return nil, err
		}
		corpora[corpus.Name] = corpus
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return corpora, nil
}

// GetCorpusInfo retrieves the metadata for a single corpus specified by
// name. If multiple corpora are needed, GetCorpusInfos is more efficient.
func (h *Hardener) GetCorpusInfo(ctx context.Context, corpusName string) (CorpusInfo, error) {
	var corpusId, gramLen int
	err := h.stmtGetCorpusInfo.QueryRowContext(ctx, corpusName).Scan(&corpusId, &gramLen)
	if err != nil {
		return CorpusInfo{}, err
	}
	return CorpusInfo{
		Id:      corpusId,
		Name:    corpusName,
		GramLen: gramLen,
	}, nil
}

// InsertCorpus creates a new corpus entry in the database.
func (h *Hardener) InsertCorpus(ctx context.Context, corpus CorpusInfo) error {
	_, err := h.stmtAddCorpus.ExecContext(ctx, corpus.Name, corpus.GramLen)
	return err
}

// RemoveCorpus deletes a corpus, its record memberships, and any reference
// sets derived from it. The operation is performed within a transaction.
func (h *Hardener) RemoveCorpus(ctx context.Context, corpus CorpusInfo) error {

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.ExecContext(ctx, "DELETE FROM vah_records WHERE corpus_id = ?", corpus.Id); err != nil {
		return fmt.Errorf("failed to remove records for corpus %d: %w", corpus.Id, err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM vah_ref_sets WHERE corpus_id = ?", corpus.Id); err != nil {
		return fmt.Errorf("failed to remove reference sets for corpus %d: %w", corpus.Id, err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM vah_corpora WHERE corpus_id = ?", corpus.Id); err != nil {
		return fmt.Errorf("failed to remove corpus %d: %w", corpus.Id, err)
	}

	h.logger.InfoContext(ctx, "Corpus removed successfully",
		slog.String("corpus_name", corpus.Name),
		slog.Int("corpus_id", corpus.Id),
	)

	return tx.Commit()
}

// Records loads every record of a corpus together with its q-gram set,
// keyed by record identifier.
func (h *Hardener) Records(ctx context.Context, corpus CorpusInfo) (map[string]qgram.Set, error) {
	rows, err := h.stmtCorpusGrams.QueryContext(ctx, corpus.Id)
	if err != nil {
		return nil, fmt.Errorf("could not query records for corpus %d: %w", corpus.Id, err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	records := make(map[string]qgram.Set)
	for rows.Next() {
		var recID, gram string
		if err = rows.Scan(&recID, &gram); err != nil {
			return nil, err
		}
		set, ok := records[recID]
		if !ok {
			set = make(qgram.Set)
			records[recID] = set
		}
		set.Add(gram)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Frequencies returns the q-gram frequency distribution of a corpus: for
// every q-gram, the number of records whose set contains it.
func (h *Hardener) Frequencies(ctx context.Context, corpus CorpusInfo) (map[string]int, error) {
	rows, err := h.stmtFrequencies.QueryContext(ctx, corpus.Id)
	if err != nil {
		return nil, fmt.Errorf("could not query frequencies for corpus %d: %w", corpus.Id, err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	freq := make(map[string]int)
	for rows.Next() {
		var gram string
		var count int
		if err = rows.Scan(&gram, &count); err != nil {
			return nil, err
		}
		freq[gram] = count
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return freq, nil
}

// VulnerableQGrams identifies the n most frequent q-grams of a corpus as
// the vulnerable set and returns the remaining q-grams, ordered by
// ascending frequency, as the non-vulnerable list. Frequency ties are
// broken by q-gram text so the split is a pure function of the corpus.
func (h *Hardener) VulnerableQGrams(ctx context.Context, corpus CorpusInfo, n int) (vuln []string, nonVuln []string, err error) {
	freq, err := h.Frequencies(ctx, corpus)
	if err != nil {
		return nil, nil, err
	}
	if n <= 0 || n > len(freq) {
		return nil, nil, fmt.Errorf("vulnerable q-gram count %d out of range for corpus with %d distinct q-grams", n, len(freq))
	}

	grams := make([]string, 0, len(freq))
	for g := range freq {
		grams = append(grams, g)
	}
	sort.Slice(grams, func(i, j int) bool {
		if freq[grams[i]] != freq[grams[j]] {
			return freq[grams[i]] < freq[grams[j]]
		}
		return grams[i] < grams[j]
	})

	vuln = grams[len(grams)-n:]
	nonVuln = grams[:len(grams)-n]

	h.logger.InfoContext(ctx, "Vulnerable q-grams identified",
		slog.String("corpus_name", corpus.Name),
		slog.Int("vulnerable", len(vuln)),
		slog.Int("non_vulnerable", len(nonVuln)),
	)

	return vuln, nonVuln, nil
}
