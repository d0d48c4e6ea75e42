package hardening

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// PruneRare removes all q-grams from a corpus's records that appear in
// fewer than minCount of its records. This is useful for shrinking a
// corpus by dropping rare, and often noisy, q-grams before analysis.
func (h *Hardener) PruneRare(ctx context.Context, corpus CorpusInfo, minCount int) error {
	res, err := h.db.ExecContext(ctx, `
		DELETE FROM vah_records WHERE corpus_id = ? AND qgram_id IN (
			SELECT qgram_id FROM vah_records WHERE corpus_id = ? GROUP BY qgram_id HAVING COUNT(*) < ?
		);`, corpus.Id, corpus.Id, minCount)
	if err != nil {
		return fmt.Errorf("could not prune corpus %d: %w", corpus.Id, err)
	}
	rowsAffected, _ := res.RowsAffected()

	h.logger.InfoContext(ctx, "Corpus pruned",
		slog.String("corpus_name", corpus.Name),
		slog.Int("corpus_id", corpus.Id),
		slog.Int("min_count", minCount),
		slog.Int64("memberships_removed", rowsAffected),
	)
	return nil
}

// VocabularyCompact performs a database-wide cleanup, removing q-grams from
// the global vocabulary that are no longer referenced by any corpus's
// records or by any stored reference plan. It should be run after corpus
// removal or pruning to reclaim space.
func (h *Hardener) VocabularyCompact(ctx context.Context) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction for compaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	rows, err := tx.QueryContext(ctx, `
		SELECT qgram_id FROM vah_qgrams
		WHERE qgram_id NOT IN (SELECT qgram_id FROM vah_records)
		  AND qgram_id NOT IN (SELECT vuln_qgram_id FROM vah_ref_sets)
		  AND qgram_id NOT IN (SELECT member_qgram_id FROM vah_ref_sets);`)
	if err != nil {
		return fmt.Errorf("failed to query for unreferenced q-grams: %w", err)
	}

	var unreferencedIDs []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan unreferenced q-gram id: %w", err)
		}
		unreferencedIDs = append(unreferencedIDs, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error after iterating unreferenced q-gram rows: %w", err)
	}

	if len(unreferencedIDs) == 0 {
		h.logger.InfoContext(ctx, "No vocabulary to compact")
		return tx.Commit() // Nothing to do
	}

	if err := h.batchDelete(ctx, tx, "vah_qgrams", "qgram_id", intSliceToInterface(unreferencedIDs)); err != nil {
		return fmt.Errorf("failed to delete unreferenced q-grams: %w", err)
	}

	h.logger.InfoContext(ctx, "Vocabulary compacted",
		slog.Int("qgrams_removed", len(unreferencedIDs)),
	)

	return tx.Commit()
}

// batchDelete is a private helper to robustly delete from a table. It handles empty lists and splits large lists into smaller batches to avoid SQL limits.
func (h *Hardener) batchDelete(ctx context.Context, tx *sql.Tx, table, column string, ids []interface{}) error {
	if len(ids) == 0 {
		return nil
	}

	// SQLite's default variable limit is 999, so around half that is good
	const batchSize = 500

	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[i:end]

		query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (?%s)", table, column, strings.Repeat(",?", len(batch)-1))

		if _, err := tx.ExecContext(ctx, query, batch...); err != nil {
			return err
		}
	}
	return nil
}

// intSliceToInterface is a helper to convert []int to []interface{} for SQL args.
func intSliceToInterface(s []int) []interface{} {
	if s == nil {
		return nil
	}
	i := make([]interface{}, len(s))
	for j, v := range s {
		i[j] = v
	}
	return i
}
