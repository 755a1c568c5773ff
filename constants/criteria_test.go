package constants

import "testing"

func TestCanonicalCriterion(t *testing.T) {
	cases := []struct {
		in   string
		want Criterion
		ok   bool
	}{
		{"tese", Tese, true},
		{"  Coesão ", Coesao, true},
		{"Repertório Sociocultural", Repertorio, true},
		{"norma culta", Norma, true},
		{"ARGUMENTOS", Argumentos, true},
		{"ortografia", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := CanonicalCriterion(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("CanonicalCriterion(%q) = %q,%v; want %q,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	if !StatusExtracted.Scoreable() || !StatusScoringFailed.Scoreable() {
		t.Fatalf("EXTRACTED and SCORING_FAILED must be scoreable")
	}
	if StatusScored.Scoreable() || StatusExtractionFailed.Scoreable() {
		t.Fatalf("SCORED and EXTRACTION_FAILED must not be scoreable")
	}
	if st, ok := ParseStatus("SCORING_FAILED"); !ok || st != StatusScoringFailed {
		t.Fatalf("ParseStatus round trip failed: %q %v", st, ok)
	}
	if _, ok := ParseStatus("LLM_OK"); ok {
		t.Fatalf("unknown status accepted")
	}
}
