package hardening

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
)

// SetupSchema initializes the necessary tables in the provided database.
// This function should be called once on a new database before any other
// operations are performed. It is idempotent and safe to call on an
// already-initialized database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaCorpora = `
CREATE TABLE IF NOT EXISTS vah_corpora (
    corpus_id INTEGER PRIMARY KEY,
    corpus_name TEXT NOT NULL UNIQUE,
    gram_len INTEGER NOT NULL
);
`
		schemaQGrams = `
CREATE TABLE IF NOT EXISTS vah_qgrams (
    qgram_id INTEGER PRIMARY KEY,
    qgram_text TEXT NOT NULL UNIQUE
);
`
		schemaRecords = `
CREATE TABLE IF NOT EXISTS vah_records (
    corpus_id INTEGER NOT NULL,
    rec_id TEXT NOT NULL,
    qgram_id INTEGER NOT NULL,
    PRIMARY KEY (corpus_id, rec_id, qgram_id)
);
`
		schemaRefSets = `
CREATE TABLE IF NOT EXISTS vah_ref_sets (
    corpus_id INTEGER NOT NULL,
    vuln_qgram_id INTEGER NOT NULL,
    ref_index INTEGER NOT NULL,
    member_qgram_id INTEGER NOT NULL,
    PRIMARY KEY (corpus_id, vuln_qgram_id, ref_index, member_qgram_id)
);
`
		schemaRuns = `
CREATE TABLE IF NOT EXISTS vah_runs (
    run_id TEXT PRIMARY KEY,
    corpus_name TEXT NOT NULL,
    ref_corpus_name TEXT NOT NULL,
    vuln_count INTEGER NOT NULL,
    ref_set_len INTEGER NOT NULL,
    hardened_records INTEGER NOT NULL,
    created_at TEXT NOT NULL
);
`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	// If the transaction succeeds, tx.Commit() will be called first, and the rollback will do nothing. If it fails, this will clean up.
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	for _, schema := range []string{schemaCorpora, schemaQGrams, schemaRecords, schemaRefSets, schemaRuns} {
		if _, err = tx.Exec(schema); err != nil {
			return fmt.Errorf("could not create schema: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// Hardener is the main entry point for interacting with the hardening
// library. It holds the database connection and prepared SQL statements
// for efficient database interaction.
type Hardener struct {
	db                   *sql.DB
	stmtGetCorpusInfo    *sql.Stmt
	stmtGetCorpora       *sql.Stmt
	stmtAddCorpus        *sql.Stmt
	stmtInsertQGram      *sql.Stmt
	stmtGetQGramID       *sql.Stmt
	stmtGetQGramText     *sql.Stmt
	stmtInsertMembership *sql.Stmt
	stmtCorpusRecords    *sql.Stmt
	stmtCorpusDistinct   *sql.Stmt
	stmtCorpusTotal      *sql.Stmt
	stmtFrequencies      *sql.Stmt
	stmtCorpusGrams      *sql.Stmt
	stmtQGramCount       *sql.Stmt
	stmtRunCount         *sql.Stmt
	stmtInsertRun        *sql.Stmt
	stmtGetRuns          *sql.Stmt
	stmtGetRefSets       *sql.Stmt
	stmtInsertRefMember  *sql.Stmt
	logger               *slog.Logger
}

// NewHardener creates and returns a new Hardener. It takes a database
// connection on which SetupSchema has been run. It pre-compiles all
// necessary SQL statements, returning an error if any preparation fails.
func NewHardener(db *sql.DB) (*Hardener, error) {
	stmtGetCorpusInfo, err := db.Prepare(`SELECT corpus_id, gram_len FROM vah_corpora WHERE corpus_name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtGetCorpora, err := db.Prepare(`SELECT corpus_id, corpus_name, gram_len FROM vah_corpora;`)
	if err != nil {
		return nil, err
	}

	stmtAddCorpus, err := db.Prepare(`INSERT INTO vah_corpora (corpus_name, gram_len) VALUES (?, ?);`)
	if err != nil {
		return nil, err
	}

	stmtInsertQGram, err := db.Prepare(`INSERT INTO vah_qgrams (qgram_text) VALUES (?) ON CONFLICT(qgram_text) DO UPDATE SET qgram_text=excluded.qgram_text RETURNING qgram_id;`)
	if err != nil {
		return nil, err
	}

	stmtGetQGramID, err := db.Prepare(`SELECT qgram_id FROM vah_qgrams WHERE qgram_text = ?;`)
	if err != nil {
		return nil, err
	}

	stmtGetQGramText, err := db.Prepare(`SELECT qgram_text FROM vah_qgrams WHERE qgram_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtInsertMembership, err := db.Prepare(`INSERT OR IGNORE INTO vah_records (corpus_id, rec_id, qgram_id) VALUES (?, ?, ?);`)
	if err != nil {
		return nil, err
	}

	stmtCorpusRecords, err := db.Prepare(`SELECT COUNT(DISTINCT rec_id) FROM vah_records WHERE corpus_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtCorpusDistinct, err := db.Prepare(`SELECT COUNT(DISTINCT qgram_id) FROM vah_records WHERE corpus_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtCorpusTotal, err := db.Prepare(`SELECT COUNT(*) FROM vah_records WHERE corpus_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtFrequencies, err := db.Prepare(`SELECT q.qgram_text, COUNT(*) FROM vah_records r JOIN vah_qgrams q ON q.qgram_id = r.qgram_id WHERE r.corpus_id = ? GROUP BY q.qgram_text;`)
	if err != nil {
		return nil, err
	}

	stmtCorpusGrams, err := db.Prepare(`SELECT r.rec_id, q.qgram_text FROM vah_records r JOIN vah_qgrams q ON q.qgram_id = r.qgram_id WHERE r.corpus_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtQGramCount, err := db.Prepare(`SELECT COUNT(*) FROM vah_qgrams;`)
	if err != nil {
		return nil, err
	}

	stmtRunCount, err := db.Prepare(`SELECT COUNT(*) FROM vah_runs;`)
	if err != nil {
		return nil, err
	}

	stmtInsertRun, err := db.Prepare(`INSERT INTO vah_runs (run_id, corpus_name, ref_corpus_name, vuln_count, ref_set_len, hardened_records, created_at) VALUES (?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return nil, err
	}

	stmtGetRuns, err := db.Prepare(`SELECT run_id, corpus_name, ref_corpus_name, vuln_count, ref_set_len, hardened_records, created_at FROM vah_runs ORDER BY created_at;`)
	if err != nil {
		return nil, err
	}

	stmtGetRefSets, err := db.Prepare(`SELECT v.qgram_text, s.ref_index, m.qgram_text FROM vah_ref_sets s JOIN vah_qgrams v ON v.qgram_id = s.vuln_qgram_id JOIN vah_qgrams m ON m.qgram_id = s.member_qgram_id WHERE s.corpus_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtInsertRefMember, err := db.Prepare(`INSERT OR IGNORE INTO vah_ref_sets (corpus_id, vuln_qgram_id, ref_index, member_qgram_id) VALUES (?, ?, ?, ?);`)
	if err != nil {
		return nil, err
	}

	return &Hardener{
		db:                   db,
		stmtGetCorpusInfo:    stmtGetCorpusInfo,
		stmtGetCorpora:       stmtGetCorpora,
		stmtAddCorpus:        stmtAddCorpus,
		stmtInsertQGram:      stmtInsertQGram,
		stmtGetQGramID:       stmtGetQGramID,
		stmtGetQGramText:     stmtGetQGramText,
		stmtInsertMembership: stmtInsertMembership,
		stmtCorpusRecords:    stmtCorpusRecords,
		stmtCorpusDistinct:   stmtCorpusDistinct,
		stmtCorpusTotal:      stmtCorpusTotal,
		stmtFrequencies:      stmtFrequencies,
		stmtCorpusGrams:      stmtCorpusGrams,
		stmtQGramCount:       stmtQGramCount,
		stmtRunCount:         stmtRunCount,
		stmtInsertRun:        stmtInsertRun,
		stmtGetRuns:          stmtGetRuns,
		stmtGetRefSets:       stmtGetRefSets,
		stmtInsertRefMember:  stmtInsertRefMember,
		logger:               slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// Close releases all prepared SQL statements held by the Hardener. It
// should be called when the Hardener is no longer needed to free up
// database resources.
func (h *Hardener) Close() {
	_ = h.stmtGetCorpusInfo.Close()
	_ = h.stmtGetCorpora.Close()
	_ = h.stmtAddCorpus.Close()
	_ = h.stmtInsertQGram.Close()
	_ = h.stmtGetQGramID.Close()
	_ = h.stmtGetQGramText.Close()
	_ = h.stmtInsertMembership.Close()
	_ = h.stmtCorpusRecords.Close()
	_ = h.stmtCorpusDistinct.Close()
	_ = h.stmtCorpusTotal.Close()
	_ = h.stmtFrequencies.Close()
	_ = h.stmtCorpusGrams.Close()
	_ = h.stmtQGramCount.Close()
	_ = h.stmtRunCount.Close()
	_ = h.stmtInsertRun.Close()
	_ = h.stmtGetRuns.Close()
	_ = h.stmtGetRefSets.Close()
	_ = h.stmtInsertRefMember.Close()
}

// SetLogger sets the logger for the Hardener. By default, all logs are
// discarded. Providing a `log/slog.Logger` will enable logging for ingest,
// reference set generation, hardening, and maintenance operations.
func (h *Hardener) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logger
	}
}
