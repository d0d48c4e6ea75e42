package hardening

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/vah-pprl/vah/pkg/qgram"
)

func TestCorpusLifecycle(t *testing.T) {
	_, h := setupTestDB(t)
	ctx := context.Background()

	if err := h.InsertCorpus(ctx, CorpusInfo{Name: "census", GramLen: 2}); err != nil {
		t.Fatalf("InsertCorpus failed: %v", err)
	}

	corpus, err := h.GetCorpusInfo(ctx, "census")
	if err != nil {
		t.Fatalf("GetCorpusInfo failed: %v", err)
	}
	if corpus.GramLen != 2 {
		t.Errorf("expected gram length 2, got %d", corpus.GramLen)
	}

	infos, err := h.GetCorpusInfos(ctx)
	if err != nil {
		t.Fatalf("GetCorpusInfos failed: %v", err)
	}
	if _, ok := infos["census"]; !ok {
		t.Error("expected 'census' in corpus infos")
	}

	if err := h.RemoveCorpus(ctx, corpus); err != nil {
		t.Fatalf("RemoveCorpus failed: %v", err)
	}
	if _, err := h.GetCorpusInfo(ctx, "census"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows after removal, got %v", err)
	}
}

func TestIngestAndRecords(t *testing.T) {
	ctx, h, sens, _ := setupTestDBWithCorpora(t)

	records, err := h.Records(ctx, sens)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	want := qgram.ExtractSet(2, "Peter")
	if !reflect.DeepEqual(records["s1"], want) {
		t.Errorf("expected record s1 set %v, got %v", want.Sorted(), records["s1"].Sorted())
	}
}

func TestIngestMergesDuplicateRecordIDs(t *testing.T) {
	_, h := setupTestDB(t)
	ctx := context.Background()

	corpus := ingestCorpus(t, ctx, h, "dup", "rec_id,first_name\nR1,Peter\nR1,Mary\n")

	records, err := h.Records(ctx, corpus)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected rows sharing a rec_id to form one record, got %d", len(records))
	}
	want := qgram.ExtractSet(2, "Peter").Union(qgram.ExtractSet(2, "Mary"))
	if !reflect.DeepEqual(records["r1"], want) {
		t.Errorf("expected the union of both rows' q-gram sets %v, got %v", want.Sorted(), records["r1"].Sorted())
	}
}

func TestIngestGramLengthMismatch(t *testing.T) {
	_, h := setupTestDB(t)
	ctx := context.Background()

	if err := h.InsertCorpus(ctx, CorpusInfo{Name: "trigram", GramLen: 3}); err != nil {
		t.Fatalf("InsertCorpus failed: %v", err)
	}
	corpus, err := h.GetCorpusInfo(ctx, "trigram")
	if err != nil {
		t.Fatalf("GetCorpusInfo failed: %v", err)
	}

	src := qgram.NewCSVSource(qgram.WithGramLength(2))
	if err := h.Ingest(ctx, corpus, src, strings.NewReader(sensitiveCSV)); err == nil {
		t.Fatal("expected an error for mismatched gram lengths")
	}
}

func TestFrequencies(t *testing.T) {
	ctx, h, _, pub := setupTestDBWithCorpora(t)

	freq, err := h.Frequencies(ctx, pub)
	if err != nil {
		t.Fatalf("Frequencies failed: %v", err)
	}

	// "pe" and "et" appear in peter (x2 records) and petra.
	if freq["pe"] != 3 {
		t.Errorf("expected frequency 3 for 'pe', got %d", freq["pe"])
	}
	if freq["et"] != 3 {
		t.Errorf("expected frequency 3 for 'et', got %d", freq["et"])
	}
	// "ma" appears only in mary.
	if freq["ma"] != 1 {
		t.Errorf("expected frequency 1 for 'ma', got %d", freq["ma"])
	}
}

func TestVulnerableQGrams(t *testing.T) {
	ctx, h, _, pub := setupTestDBWithCorpora(t)

	vuln, nonVuln, err := h.VulnerableQGrams(ctx, pub, 2)
	if err != nil {
		t.Fatalf("VulnerableQGrams failed: %v", err)
	}

	// The two most frequent q-grams of the public corpus are "pe" and "et".
	vulnSet := qgram.NewSet(vuln...)
	if !vulnSet.Contains("pe") || !vulnSet.Contains("et") {
		t.Errorf("expected vulnerable q-grams 'pe' and 'et', got %v", vuln)
	}
	for _, g := range nonVuln {
		if vulnSet.Contains(g) {
			t.Errorf("vulnerable q-gram %q must not appear in the non-vulnerable list", g)
		}
	}

	freq, err := h.Frequencies(ctx, pub)
	if err != nil {
		t.Fatalf("Frequencies failed: %v", err)
	}
	if len(vuln)+len(nonVuln) != len(freq) {
		t.Errorf("vulnerable and non-vulnerable lists must partition the %d distinct q-grams, got %d + %d",
			len(freq), len(vuln), len(nonVuln))
	}

	// Out-of-range counts are rejected.
	if _, _, err := h.VulnerableQGrams(ctx, pub, 0); err == nil {
		t.Error("expected an error for a zero vulnerable count")
	}
	if _, _, err := h.VulnerableQGrams(ctx, pub, len(freq)+1); err == nil {
		t.Error("expected an error for a vulnerable count exceeding the vocabulary")
	}
}
