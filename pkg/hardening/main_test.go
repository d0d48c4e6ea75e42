package hardening

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vah-pprl/vah/pkg/qgram"
)

const sensitiveCSV = `rec_id,first_name
S1,Peter
S2,Petra
S3,Maria
`

const publicCSV = `rec_id,first_name
P1,Peter
P2,Peter
P3,Petra
P4,Mary
`

// setupTestDB creates a new temp-dir SQLite database and a Hardener for
// testing. It uses t.Cleanup to ensure resources are released.
func setupTestDB(t *testing.T) (*sql.DB, *Hardener) {
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-4000")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	h, err := NewHardener(db)
	if err != nil {
		t.Fatalf("NewHardener() error = %v", err)
	}
	t.Cleanup(h.Close)

	return db, h
}

// ingestCorpus creates a corpus with q-gram length 2 and ingests a CSV
// dataset into it.
func ingestCorpus(t *testing.T, ctx context.Context, h *Hardener, name, data string) CorpusInfo {
	t.Helper()

	src := qgram.NewCSVSource(
		qgram.WithIDColumn(0),
		qgram.WithAttributeColumns(1),
		qgram.WithGramLength(2),
		qgram.WithHeader(true),
	)

	if err := h.InsertCorpus(ctx, CorpusInfo{Name: name, GramLen: 2}); err != nil {
		t.Fatalf("setup: InsertCorpus(%s) failed: %v", name, err)
	}
	corpus, err := h.GetCorpusInfo(ctx, name)
	if err != nil {
		t.Fatalf("setup: GetCorpusInfo(%s) failed: %v", name, err)
	}
	if err := h.Ingest(ctx, corpus, src, strings.NewReader(data)); err != nil {
		t.Fatalf("setup: Ingest(%s) failed: %v", name, err)
	}
	return corpus
}

// setupTestDBWithCorpora is a convenience helper that also ingests a small
// sensitive and public corpus with q-gram length 2.
func setupTestDBWithCorpora(t *testing.T) (context.Context, *Hardener, CorpusInfo, CorpusInfo) {
	_, h := setupTestDB(t)
	ctx := context.Background()

	sens := ingestCorpus(t, ctx, h, "sensitive", sensitiveCSV)
	pub := ingestCorpus(t, ctx, h, "public", publicCSV)
	return ctx, h, sens, pub
}
