package hardening

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/vah-pprl/vah/pkg/qgram"
)

// membership is a struct used for batching record membership inserts.
type membership struct {
	recID   string
	qgramID int
}

// sliceStream adapts a slice of pre-parsed records to the qgram.Stream
// contract, so in-memory datasets share the ingest path with file streams.
type sliceStream struct {
	recs []*qgram.Record
}

func (s *sliceStream) Next() (*qgram.Record, error) {
	if len(s.recs) == 0 {
		return nil, io.EOF
	}
	rec := s.recs[0]
	s.recs = s.recs[1:]
	return rec, nil
}

// Ingest processes a stream of records from an io.Reader using the given
// source, and stores their q-gram sets under the specified corpus. The
// ingest is optimized with an in-memory q-gram intern cache and database
// batching, and the entire operation is performed within a single database
// transaction to ensure data integrity.
func (h *Hardener) Ingest(ctx context.Context, corpus CorpusInfo, src qgram.Source, data io.Reader) error {
	if src.GramLength() != corpus.GramLen {
		return fmt.Errorf("source gram length %d does not match corpus gram length %d", src.GramLength(), corpus.GramLen)
	}
	return h.ingestStream(ctx, corpus, src.NewStream(data))
}

// IngestRecords stores records that were already parsed into memory, for
// example by qgram.Records. The records must have been extracted with the
// corpus's q-gram length.
func (h *Hardener) IngestRecords(ctx context.Context, corpus CorpusInfo, recs []*qgram.Record) error {
	return h.ingestStream(ctx, corpus, &sliceStream{recs: recs})
}

func (h *Hardener) ingestStream(ctx context.Context, corpus CorpusInfo, stream qgram.Stream) error {
	// membershipBatchSize determines how many membership rows are buffered in memory before being written to the database in a single batch.
	const membershipBatchSize = 1000

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	// All transaction-specific statements will also be closed with this or the .Commit()
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	gramCache := make(map[string]int)
	batch := make([]membership, 0, membershipBatchSize)

	stmtInsertQGram := tx.StmtContext(ctx, h.stmtInsertQGram)
	stmtInsertMembership := tx.StmtContext(ctx, h.stmtInsertMembership)

	commitBatch := func(batch *[]membership) error {
		if len(*batch) == 0 {
			return nil
		}
		for _, m := range *batch {
			if _, err := stmtInsertMembership.ExecContext(ctx, corpus.Id, m.recID, m.qgramID); err != nil {
				return fmt.Errorf("failed during batch insert of membership (%s -> %d): %w", m.recID, m.qgramID, err)
			}
		}
		*batch = (*batch)[:0]
		return nil
	}

	var recordCount, gramCount int64

	for {
		rec, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("record source error: %w", err)
		}

		for _, gram := range rec.Grams.Sorted() {
			gramID, ok := gramCache[gram]
			if !ok {
				if err = stmtInsertQGram.QueryRowContext(ctx, gram).Scan(&gramID); err != nil {
					return fmt.Errorf("sql insert q-gram error for '%s': %w", gram, err)
				}
				gramCache[gram] = gramID
			}
			batch = append(batch, membership{recID: rec.ID, qgramID: gramID})
			gramCount++
		}
		recordCount++

		if len(batch) >= membershipBatchSize {
			if err := commitBatch(&batch); err != nil {
				return err
			}
		}
	}

	if err := commitBatch(&batch); err != nil {
		return err
	}

	h.logger.InfoContext(ctx, "Ingest completed",
		slog.String("corpus_name", corpus.Name),
		slog.Int("corpus_id", corpus.Id),
		slog.Int64("records_ingested", recordCount),
		slog.Int64("memberships_written", gramCount),
	)

	return tx.Commit()
}
