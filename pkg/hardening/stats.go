package hardening

import (
	"context"
)

// DBStats holds aggregated statistics for the entire database, including a
// list of all corpora and their individual stats.
type DBStats struct {
	Corpora    []CorpusInfo        // A list of corpora in the database
	Stats      map[int]CorpusStats // A mapping of corpus ids to their stats
	QGramCount int                 // The number of unique q-grams across all corpora
	RunCount   int                 // The number of recorded hardening runs
}

// CorpusStats holds aggregated statistics for a single corpus.
type CorpusStats struct {
	Records        int // The number of distinct records in the corpus.
	DistinctQGrams int // The number of distinct q-grams appearing in the corpus.
	Memberships    int // The total number of record->q-gram membership rows.
}

// GetStats returns a snapshot of statistics for the entire database,
// including global counts and per-corpus stats.
func (h *Hardener) GetStats(ctx context.Context) (*DBStats, error) {
	corpusInfos, err := h.GetCorpusInfos(ctx)
	if err != nil {
		return nil, err
	}

	var qgramCount int
	err = h.stmtQGramCount.QueryRowContext(ctx).Scan(&qgramCount)
	if err != nil {
		return nil, err
	}

	var runCount int
	err = h.stmtRunCount.QueryRowContext(ctx).Scan(&runCount)
	if err != nil {
		return nil, err
	}

	corpora := make([]CorpusInfo, 0)
	corpusStats := make(map[int]CorpusStats)
	for _, v := range corpusInfos {
		corpora = append(corpora, v)
		var records, distinct, memberships int
		err = h.stmtCorpusRecords.QueryRowContext(ctx, v.Id).Scan(&records)
		if err != nil {
			return nil, err
		}
		err = h.stmtCorpusDistinct.QueryRowContext(ctx, v.Id).Scan(&distinct)
		if err != nil {
			return nil, err
		}
		err = h.stmtCorpusTotal.QueryRowContext(ctx, v.Id).Scan(&memberships)
		if err != nil {
			return nil, err
		}
		corpusStats[v.Id] = CorpusStats{
			Records:        records,
			DistinctQGrams: distinct,
			Memberships:    memberships,
		}
	}

	return &DBStats{
		Corpora:    corpora,
		Stats:      corpusStats,
		QGramCount: qgramCount,
		RunCount:   runCount,
	}, nil
}
