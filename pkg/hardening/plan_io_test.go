package hardening

import (
	"bytes"
	"context"
	"reflect"
	"testing"
)

func TestExportImportPlan(t *testing.T) {
	ctx, h, _, pub := setupTestDBWithCorpora(t)

	vuln, nonVuln, err := h.VulnerableQGrams(ctx, pub, 2)
	if err != nil {
		t.Fatalf("VulnerableQGrams failed: %v", err)
	}
	plan, err := h.GenerateReferenceSets(ctx, pub, vuln, nonVuln, 3, 42)
	if err != nil {
		t.Fatalf("GenerateReferenceSets failed: %v", err)
	}
	if err := h.SavePlan(ctx, pub, plan); err != nil {
		t.Fatalf("SavePlan failed: %v", err)
	}

	var buf bytes.Buffer
	if err := h.ExportPlan(ctx, pub, &buf); err != nil {
		t.Fatalf("ExportPlan failed: %v", err)
	}

	// Import into a completely fresh database; q-gram IDs will differ, but
	// the plan is text-based and must survive the round trip unchanged.
	_, h2 := setupTestDB(t)
	ctx2 := context.Background()
	if err := h2.ImportPlan(ctx2, &buf); err != nil {
		t.Fatalf("ImportPlan failed: %v", err)
	}

	imported, err := h2.GetCorpusInfo(ctx2, "public")
	if err != nil {
		t.Fatalf("imported corpus was not created: %v", err)
	}
	if imported.GramLen != 2 {
		t.Errorf("expected imported corpus gram length 2, got %d", imported.GramLen)
	}

	loaded, err := h2.LoadPlan(ctx2, imported)
	if err != nil {
		t.Fatalf("LoadPlan after import failed: %v", err)
	}
	if !reflect.DeepEqual(plan, loaded) {
		t.Error("plan differs after an export/import round trip")
	}
}

func TestImportPlanRejectsInvalid(t *testing.T) {
	_, h := setupTestDB(t)
	ctx := context.Background()

	cases := []struct {
		name string
		data string
	}{
		{"garbage", `{`},
		{"zero ref set length", `{"corpus":"x","gram_len":2,"ref_set_len":0,"ref_sets":{}}`},
		{"bad qualifier", `{"corpus":"x","gram_len":2,"ref_set_len":1,"ref_sets":{"pe":{"abc":["er"]}}}`},
		{"wrong set size", `{"corpus":"x","gram_len":2,"ref_set_len":2,"ref_sets":{"pe":{"0":["er"]}}}`},
	}
	for _, c := range cases {
		if err := h.ImportPlan(ctx, bytes.NewReader([]byte(c.data))); err == nil {
			t.Errorf("%s: expected an error", c.name)
		}
	}
}
