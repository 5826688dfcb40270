package spam

import (
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Hola", "hola"},
		{"  ¿CÓMO   VOTO? ", "como voto"},
		{"adiós!!!", "adios"},
		{"Elección,   2026.", "eleccion 2026"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if sim := Similarity("hola", "hola"); sim != 1 {
		t.Errorf("identical strings should score 1, got %v", sim)
	}
	if sim := Similarity("hola", "xyzw"); sim != 0 {
		t.Errorf("disjoint strings should score 0, got %v", sim)
	}
	if sim := Similarity("", ""); sim != 0 {
		t.Errorf("empty strings should score 0, got %v", sim)
	}
	// "night" vs "nacht": bigrams ni gh ht / na ac ch ht -> one shared bigram.
	sim := Similarity("night", "nacht")
	if sim < 0.24 || sim > 0.26 {
		t.Errorf("expected Dice similarity 0.25, got %v", sim)
	}
}

func TestFourRepeatsBlock(t *testing.T) {
	guard := NewGuard()

	var v Verdict
	for i := 0; i < 4; i++ {
		v = guard.Evaluate("57300111", "hola")
	}
	if !v.ShouldBlock {
		t.Error("4th identical message should block")
	}
	if v.ConsecutiveCount != 4 {
		t.Errorf("expected consecutive count 4, got %d", v.ConsecutiveCount)
	}
	if !guard.IsBlocked("57300111") {
		t.Error("guard should remember the blocked run")
	}
}

func TestThirdRepeatWarnsOnly(t *testing.T) {
	guard := NewGuard()
	var v Verdict
	for i := 0; i < 3; i++ {
		v = guard.Evaluate("57300111", "hola")
	}
	if !v.IsSpam {
		t.Error("3rd identical message should be flagged as spam")
	}
	if v.ShouldBlock {
		t.Error("3rd identical message must not block yet")
	}
}

func TestDistinctMessageResetsRun(t *testing.T) {
	guard := NewGuard()
	guard.Evaluate("57300111", "hola")
	guard.Evaluate("57300111", "hola")
	guard.Evaluate("57300111", "adios")
	v := guard.Evaluate("57300111", "hola")
	if v.ConsecutiveCount != 1 {
		t.Errorf("expected counter reset to 1 after distinct message, got %d", v.ConsecutiveCount)
	}
}

func TestAccentAndCaseVariantsCountAsRepeats(t *testing.T) {
	guard := NewGuard()
	guard.Evaluate("57300111", "¿Cómo voto?")
	v := guard.Evaluate("57300111", "como voto")
	if v.ConsecutiveCount != 2 {
		t.Errorf("normalized variants should continue the run, got count %d", v.ConsecutiveCount)
	}
}

func TestRunsAreIndependentPerParticipant(t *testing.T) {
	guard := NewGuard()
	for i := 0; i < 4; i++ {
		guard.Evaluate("blocked-one", "hola")
	}
	v := guard.Evaluate("other-one", "hola")
	if v.ConsecutiveCount != 1 || v.ShouldBlock {
		t.Errorf("other participants must not inherit the run: %+v", v)
	}
}

func TestResetClearsBlock(t *testing.T) {
	guard := NewGuard()
	for i := 0; i < 4; i++ {
		guard.Evaluate("57300111", "hola")
	}
	guard.Reset("57300111")
	if guard.IsBlocked("57300111") {
		t.Error("reset should clear the blocked flag")
	}
	if v := guard.Evaluate("57300111", "hola"); v.ConsecutiveCount != 1 {
		t.Errorf("expected fresh run after reset, got count %d", v.ConsecutiveCount)
	}
}

func TestSweepIdle(t *testing.T) {
	guard := NewGuard()
	guard.Evaluate("stale", "hola")
	// Entries seen just now survive a generous TTL.
	if removed := guard.SweepIdle(time.Hour); removed != 0 {
		t.Errorf("expected no removals, got %d", removed)
	}
	// A zero TTL expires everything seen before this instant.
	time.Sleep(2 * time.Millisecond)
	if removed := guard.SweepIdle(time.Millisecond); removed != 1 {
		t.Errorf("expected 1 removal, got %d", removed)
	}
}
