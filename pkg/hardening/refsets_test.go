package hardening

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/vah-pprl/vah/pkg/qgram"
)

func generateTestPlan(t *testing.T, seed uint64) (*Plan, []string, []string) {
	t.Helper()
	ctx, h, _, pub := setupTestDBWithCorpora(t)

	vuln, nonVuln, err := h.VulnerableQGrams(ctx, pub, 2)
	if err != nil {
		t.Fatalf("VulnerableQGrams failed: %v", err)
	}
	plan, err := h.GenerateReferenceSets(ctx, pub, vuln, nonVuln, 3, seed)
	if err != nil {
		t.Fatalf("GenerateReferenceSets failed: %v", err)
	}
	return plan, vuln, nonVuln
}

func TestGenerateReferenceSets(t *testing.T) {
	plan, vuln, _ := generateTestPlan(t, 42)

	if plan.RefSetLen != 3 {
		t.Errorf("expected plan ref set length 3, got %d", plan.RefSetLen)
	}
	if len(plan.RefSets) != len(vuln) {
		t.Fatalf("expected reference sets for %d vulnerable q-grams, got %d", len(vuln), len(plan.RefSets))
	}

	totalSets := 0
	seen := make(map[int]string)
	for qv, indexed := range plan.RefSets {
		if len(indexed) == 0 {
			t.Errorf("vulnerable q-gram %q has no reference sets", qv)
		}
		for index, set := range indexed {
			if len(set) != 3 {
				t.Errorf("reference set %s[%d] has %d members, expected 3", qv, index, len(set))
			}
			if set.Contains(qv) {
				t.Errorf("reference set %s[%d] must not contain its own vulnerable q-gram", qv, index)
			}
			if owner, dup := seen[index]; dup {
				t.Errorf("qualifier index %d assigned to both %q and %q", index, owner, qv)
			}
			seen[index] = qv
			totalSets++
		}
	}

	// Qualifier indices are drawn from [0, totalSets * len(vuln)).
	for index := range seen {
		if index < 0 || index >= totalSets*len(vuln) {
			t.Errorf("qualifier index %d outside the qualifier space [0, %d)", index, totalSets*len(vuln))
		}
	}
}

func TestGenerateReferenceSetsDeterministic(t *testing.T) {
	planA, _, _ := generateTestPlan(t, 1234)
	planB, _, _ := generateTestPlan(t, 1234)

	if !reflect.DeepEqual(planA, planB) {
		t.Error("identical inputs and seed must produce identical plans")
	}
}

func TestGenerateReferenceSetsEmptyPool(t *testing.T) {
	_, h := setupTestDB(t)
	ctx := context.Background()

	// "aa" is the most frequent public q-gram and only ever appears alone,
	// so its co-occurrence pool is empty.
	pub := ingestCorpus(t, ctx, h, "public", "rec_id,first_name\np1,aa\np2,aa\np3,aa\np4,abcd\n")
	sens := ingestCorpus(t, ctx, h, "sensitive", "rec_id,first_name\ns1,aa\n")

	vuln, nonVuln, err := h.VulnerableQGrams(ctx, pub, 1)
	if err != nil {
		t.Fatalf("VulnerableQGrams failed: %v", err)
	}
	if len(vuln) != 1 || vuln[0] != "aa" {
		t.Fatalf("expected 'aa' as the vulnerable q-gram, got %v", vuln)
	}

	plan, err := h.GenerateReferenceSets(ctx, pub, vuln, nonVuln, 3, 42)
	if err != nil {
		t.Fatalf("GenerateReferenceSets failed: %v", err)
	}

	// A single reference set is synthesized entirely from non-vulnerable
	// q-grams.
	sets := plan.RefSets["aa"]
	if len(sets) != 1 {
		t.Fatalf("expected one synthesized reference set, got %d", len(sets))
	}
	nonVulnSet := qgram.NewSet(nonVuln...)
	for index, set := range sets {
		if len(set) != 3 {
			t.Errorf("reference set aa[%d] has %d members, expected 3", index, len(set))
		}
		for _, g := range set.Sorted() {
			if !nonVulnSet.Contains(g) {
				t.Errorf("reference set member %q is not a non-vulnerable q-gram", g)
			}
		}
	}

	// Hardening against the synthesized set replaces the q-gram normally.
	result, err := h.Harden(ctx, sens, pub, plan, 42)
	if err != nil {
		t.Fatalf("Harden failed: %v", err)
	}
	grams := result.Hardened["s1"]
	if grams.Contains("aa") {
		t.Error("expected 'aa' to be replaced in the hardened record")
	}
	var replaced bool
	for _, g := range grams.Sorted() {
		if len(g) > 2 && strings.HasPrefix(g, "aa") {
			replaced = true
		}
	}
	if !replaced {
		t.Errorf("expected a replacement token for 'aa', got %v", grams.Sorted())
	}
}

func TestGenerateReferenceSetsValidation(t *testing.T) {
	ctx, h, _, pub := setupTestDBWithCorpora(t)

	vuln, nonVuln, err := h.VulnerableQGrams(ctx, pub, 2)
	if err != nil {
		t.Fatalf("VulnerableQGrams failed: %v", err)
	}

	if _, err := h.GenerateReferenceSets(ctx, pub, vuln, nonVuln, 0, 1); err == nil {
		t.Error("expected an error for a non-positive reference set length")
	}
	if _, err := h.GenerateReferenceSets(ctx, pub, nil, nonVuln, 3, 1); err == nil {
		t.Error("expected an error for an empty vulnerable list")
	}
	// More distinct members required than the corpus can provide.
	if _, err := h.GenerateReferenceSets(ctx, pub, vuln, nonVuln, 100, 1); err == nil {
		t.Error("expected an error when reference sets cannot be filled")
	}
}

func TestSaveAndLoadPlan(t *testing.T) {
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

	loaded, err := h.LoadPlan(ctx, pub)
	if err != nil {
		t.Fatalf("LoadPlan failed: %v", err)
	}
	if !reflect.DeepEqual(plan, loaded) {
		t.Error("loaded plan differs from the saved plan")
	}

	// Saving again replaces the stored plan instead of accumulating rows.
	if err := h.SavePlan(ctx, pub, plan); err != nil {
		t.Fatalf("second SavePlan failed: %v", err)
	}
	loaded, err = h.LoadPlan(ctx, pub)
	if err != nil {
		t.Fatalf("LoadPlan after re-save failed: %v", err)
	}
	if !reflect.DeepEqual(plan, loaded) {
		t.Error("re-saved plan differs from the original")
	}
}

func TestLoadPlanMissing(t *testing.T) {
	ctx, h, sens, _ := setupTestDBWithCorpora(t)

	if _, err := h.LoadPlan(ctx, sens); !errors.Is(err, ErrNoPlan) {
		t.Errorf("expected ErrNoPlan, got %v", err)
	}
}
