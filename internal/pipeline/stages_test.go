package pipeline

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/joseph-ayodele/essay-grader/constants"
	"github.com/joseph-ayodele/essay-grader/internal/common"
	"github.com/joseph-ayodele/essay-grader/internal/entity"
	"github.com/joseph-ayodele/essay-grader/internal/provider"
)

func TestComputeStats(t *testing.T) {
	text := "Primeiro parágrafo com frase. Outra frase!\n\nSegundo parágrafo\ncontinua aqui?"
	got := ComputeStats(text)
	want := entity.TextStats{Words: 10, Characters: len([]rune(text)), Lines: 3, Paragraphs: 2, Sentences: 3}
	if got != want {
		t.Errorf("ComputeStats = %+v, want %+v", got, want)
	}
	if ComputeStats("   ") != (entity.TextStats{}) {
		t.Errorf("blank text should have zero stats")
	}
}

func TestAssessOCRQuality(t *testing.T) {
	cases := []struct {
		name        string
		text        string
		level       string
		reliability int
		problem     string
	}{
		{"empty", "", QualityLow, 0, problemNoText},
		{"clean", "A educação transforma a sociedade brasileira. Portanto, deve ser prioridade.", QualityHigh, 100, ""},
		{"fragmented", "a b c d e f g h i j k l m n o p q r s t u v w x y z casa", QualityMedium, 60, problemFragmented},
		{"glued", "Otextonaotemespacosentreaspalavras, veja.", QualityHigh, 85, problemGluedWords},
		{"no punctuation", "texto longo sem nenhuma marca de pontuacao em lugar algum desta linha", QualityHigh, 90, problemNoPunctuation},
		{"repetition", "lalalalala cantava a multidão animada durante todo o show.", QualityHigh, 85, problemRepetition},
		{"symbols", "Texto com símbolo ☺ estranho.", QualityHigh, 80, problemStrangeChars},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := AssessOCRQuality(tc.text)
			if q.Level != tc.level || q.Reliability != tc.reliability {
				t.Errorf("quality = %s/%d %q, want %s/%d", q.Level, q.Reliability, q.Problems, tc.level, tc.reliability)
			}
			if tc.problem != "" && !slices.Contains(q.Problems, tc.problem) {
				t.Errorf("problems %q missing %q", q.Problems, tc.problem)
			}
			if q.Problems == nil {
				t.Errorf("problems must not be nil")
			}
		})
	}
}

func TestHasRepetition(t *testing.T) {
	for text, want := range map[string]bool{
		"ababab":              true,
		"abcabcabc":           true,
		"abab":                false,
		"uma frase comum.":    false,
		"ab\nab\nab":          false,
		"kkkkkk rindo demais": true,
	} {
		if got := hasRepetition(text); got != want {
			t.Errorf("hasRepetition(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestValidateImage(t *testing.T) {
	info, err := ValidateImage(pngBytes(t, 3, 2))
	if err != nil {
		t.Fatalf("ValidateImage: %v", err)
	}
	if info.Format != "png" || info.Width != 3 || info.Height != 2 {
		t.Errorf("info = %+v", info)
	}
	for _, bad := range [][]byte{nil, []byte("GIF89a"), []byte("%PDF-1.4")} {
		if _, err := ValidateImage(bad); !errors.Is(err, common.ErrInvalidInput) {
			t.Errorf("ValidateImage(%q) err = %v", bad, err)
		}
	}
}

func TestFilterCorrections(t *testing.T) {
	input := "Os aluno foi para a escola."
	in := []entity.Correction{
		{Original: "Os aluno foi", Suggested: "Os alunos foram", Reason: "concordância"},
		{Original: " escola ", Suggested: "escola", Reason: "espaço"},
		{Original: "professor", Suggested: "professora"},
		{Original: "", Suggested: "algo"},
		{Original: "para a", Suggested: "à"},
	}
	got := FilterCorrections(input, in)
	if len(got) != 2 {
		t.Fatalf("kept %d corrections: %+v", len(got), got)
	}
	if got[0].Suggested != "Os alunos foram" || got[1].Original != "para a" {
		t.Errorf("kept wrong corrections: %+v", got)
	}
	for _, c := range got {
		if !strings.Contains(input, c.Original) {
			t.Errorf("correction %q not in input", c.Original)
		}
	}
}

type recordingAnalyzer struct {
	text string
	res  provider.AnalyzeResult
}

func (r *recordingAnalyzer) Analyze(_ context.Context, text string) (provider.AnalyzeResult, error) {
	r.text = text
	return r.res, nil
}

func TestScoringStageFallsBackToInputWhenNoCorrectedText(t *testing.T) {
	an := &recordingAnalyzer{res: provider.AnalyzeResult{
		Breakdown: entity.Breakdown{Tese: 5, Argumentos: 5, Coesao: 5, Repertorio: 5, Norma: 5},
	}}
	stage := NewCorrectionScoringStage(an, quietLogger())
	a, err := stage.Run(context.Background(), "Texto curto.")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.CorrectedText != "Texto curto." || a.OverallScore != 5 {
		t.Errorf("analysis = %q %.1f", a.CorrectedText, a.OverallScore)
	}
	if a.Strengths == nil || a.Corrections == nil {
		t.Errorf("lists must be empty, not nil")
	}
	if an.text != "Texto curto." {
		t.Errorf("analyzer got %q", an.text)
	}

	an.text = ""
	empty, err := stage.Run(context.Background(), "\n\t ")
	if err != nil {
		t.Fatalf("Run blank: %v", err)
	}
	if an.text != "" || empty.TextUsed != constants.EmptyTextMarker {
		t.Errorf("blank text reached analyzer or marker missing: %q", empty.TextUsed)
	}
}
