package hardening

import (
	"context"
	"testing"
)

func TestGetStats(t *testing.T) {
	ctx, h, sens, pub := setupTestDBWithCorpora(t)

	stats, err := h.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}

	if len(stats.Corpora) != 2 {
		t.Fatalf("expected 2 corpora, got %d", len(stats.Corpora))
	}
	if stats.Stats[sens.Id].Records != 3 {
		t.Errorf("expected 3 sensitive records, got %d", stats.Stats[sens.Id].Records)
	}
	if stats.Stats[pub.Id].Records != 4 {
		t.Errorf("expected 4 public records, got %d", stats.Stats[pub.Id].Records)
	}
	if stats.QGramCount == 0 {
		t.Error("expected a non-zero global q-gram count")
	}
	if stats.RunCount != 0 {
		t.Errorf("expected no recorded runs yet, got %d", stats.RunCount)
	}

	// Membership rows per corpus equal the summed set sizes.
	freq, err := h.Frequencies(ctx, pub)
	if err != nil {
		t.Fatalf("Frequencies failed: %v", err)
	}
	var total int
	for _, count := range freq {
		total += count
	}
	if stats.Stats[pub.Id].Memberships != total {
		t.Errorf("expected %d membership rows for the public corpus, got %d", total, stats.Stats[pub.Id].Memberships)
	}
}

func TestGetStatsEmpty(t *testing.T) {
	_, h := setupTestDB(t)

	stats, err := h.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if len(stats.Corpora) != 0 || stats.QGramCount != 0 || stats.RunCount != 0 {
		t.Errorf("expected empty stats for a fresh database, got %+v", stats)
	}
}
