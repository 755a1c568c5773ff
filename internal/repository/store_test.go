package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/essay-grader/constants"
	"github.com/joseph-ayodele/essay-grader/internal/common"
	"github.com/joseph-ayodele/essay-grader/internal/entity"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// forEachStore runs fn against every backend that needs no external service.
func forEachStore(t *testing.T, fn func(t *testing.T, s EssayStore)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore(quietLogger()))
	})
	t.Run("sqlite", func(t *testing.T) {
		dsn := filepath.Join(t.TempDir(), "essays.db")
		s, err := OpenSQLite(context.Background(), dsn, quietLogger())
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		fn(t, s)
	})
}

func sampleAnalysis(text string, score float64) *entity.Analysis {
	b := entity.Breakdown{Tese: score, Argumentos: score, Coesao: score, Repertorio: score, Norma: score}
	return &entity.Analysis{
		TextUsed:      text,
		CorrectedText: text,
		Breakdown:     b,
		OverallScore:  b.OverallScore(),
		Strengths:     []string{"boa tese"},
		Improvements:  []string{},
		Suggestions:   []string{"revise a conclusão"},
		Comments:      []string{},
		Corrections:   []entity.Correction{{Original: "a gente", Suggested: "nós", Reason: "registro formal"}},
		Model:         "test-model",
	}
}

func TestEssayLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s EssayStore) {
		ctx := context.Background()
		id, err := s.CreateEssay(ctx, NewEssay{Title: "Redação 1", ImageRef: "essays/x.png", ImageMime: "image/png"})
		if err != nil {
			t.Fatalf("CreateEssay: %v", err)
		}

		e, err := s.GetEssay(ctx, id)
		if err != nil {
			t.Fatalf("GetEssay: %v", err)
		}
		if e.Status != constants.StatusCreated || e.ExtractedText != nil {
			t.Fatalf("new essay = %+v, want CREATED without text", e)
		}

		if err := s.SetStatus(ctx, id, constants.StatusExtracting, ""); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
		out := ExtractionOutcome{
			Text:       "A gente precisa agir.",
			Stats:      entity.TextStats{Words: 4, Characters: 21, Lines: 1, Paragraphs: 1, Sentences: 1},
			Quality:    entity.OCRQuality{Level: "alta", Problems: []string{}, Reliability: 95},
			Method:     "azure-vision",
			Confidence: 0.9,
			Status:     constants.StatusExtracted,
		}
		if err := s.SetExtractedText(ctx, id, out); err != nil {
			t.Fatalf("SetExtractedText: %v", err)
		}
		e, _ = s.GetEssay(ctx, id)
		if e.Text() != out.Text || e.Status != constants.StatusExtracted {
			t.Fatalf("after extraction = %q/%s", e.Text(), e.Status)
		}
		if e.Stats == nil || e.Stats.Words != 4 {
			t.Errorf("stats = %+v", e.Stats)
		}
		if e.OCRQuality == nil || e.OCRQuality.Level != "alta" {
			t.Errorf("quality = %+v", e.OCRQuality)
		}

		if _, err := s.GetCurrentAnalysis(ctx, id); !errors.Is(err, common.ErrNotFound) {
			t.Fatalf("GetCurrentAnalysis before scoring err = %v, want not found", err)
		}

		first, err := s.AppendAnalysis(ctx, id, sampleAnalysis(out.Text, 6))
		if err != nil {
			t.Fatalf("AppendAnalysis: %v", err)
		}
		e, _ = s.GetEssay(ctx, id)
		if e.Status != constants.StatusScored {
			t.Fatalf("status after append = %s, want SCORED", e.Status)
		}

		second, err := s.AppendAnalysis(ctx, id, sampleAnalysis(out.Text, 8))
		if err != nil {
			t.Fatalf("AppendAnalysis second: %v", err)
		}
		cur, err := s.GetCurrentAnalysis(ctx, id)
		if err != nil {
			t.Fatalf("GetCurrentAnalysis: %v", err)
		}
		if cur.ID != second || cur.OverallScore != 8 {
			t.Errorf("current = %s (%.1f), want %s (8.0)", cur.ID, cur.OverallScore, second)
		}
		if len(cur.Corrections) != 1 || cur.Corrections[0].Suggested != "nós" {
			t.Errorf("corrections = %+v", cur.Corrections)
		}

		all, err := s.ListAnalyses(ctx, id)
		if err != nil {
			t.Fatalf("ListAnalyses: %v", err)
		}
		if len(all) != 2 || all[0].ID != first || all[1].ID != second {
			t.Errorf("history order wrong: %+v", all)
		}

		// history never rewrites the essay text
		e, _ = s.GetEssay(ctx, id)
		if e.Text() != out.Text {
			t.Errorf("extracted text changed to %q", e.Text())
		}
	})
}

func TestMissingEssay(t *testing.T) {
	forEachStore(t, func(t *testing.T, s EssayStore) {
		ctx := context.Background()
		missing := uuid.New()
		checks := map[string]error{
			"get":    func() error { _, err := s.GetEssay(ctx, missing); return err }(),
			"status": s.SetStatus(ctx, missing, constants.StatusScoring, ""),
			"title":  s.UpdateTitle(ctx, missing, "x"),
			"delete": s.DeleteEssay(ctx, missing),
			"append": func() error { _, err := s.AppendAnalysis(ctx, missing, sampleAnalysis("x", 5)); return err }(),
			"list":   func() error { _, err := s.ListAnalyses(ctx, missing); return err }(),
		}
		for name, err := range checks {
			if !errors.Is(err, common.ErrNotFound) {
				t.Errorf("%s: err = %v, want ErrNotFound", name, err)
			}
		}
	})
}

func TestListAndDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s EssayStore) {
		ctx := context.Background()
		var ids []uuid.UUID
		for _, title := range []string{"a", "b", "c"} {
			id, err := s.CreateEssay(ctx, NewEssay{Title: title, ImageRef: title, ImageMime: "image/png"})
			if err != nil {
				t.Fatalf("CreateEssay: %v", err)
			}
			ids = append(ids, id)
		}
		if err := s.SetStatus(ctx, ids[1], constants.StatusScoringFailed, "provider timeout"); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}

		list, err := s.ListEssays(ctx, ListFilter{})
		if err != nil {
			t.Fatalf("ListEssays: %v", err)
		}
		if len(list) != 3 || list[0].ID != ids[2] {
			t.Fatalf("ListEssays newest first failed: %+v", list)
		}

		failed, err := s.ListEssays(ctx, ListFilter{Status: constants.StatusScoringFailed})
		if err != nil {
			t.Fatalf("ListEssays filtered: %v", err)
		}
		if len(failed) != 1 || failed[0].ErrorMessage == nil || *failed[0].ErrorMessage != "provider timeout" {
			t.Fatalf("filtered = %+v", failed)
		}

		byStatus, err := s.ListByStatus(ctx, constants.StatusCreated, constants.StatusScoringFailed)
		if err != nil {
			t.Fatalf("ListByStatus: %v", err)
		}
		if len(byStatus) != 3 {
			t.Errorf("ListByStatus = %d essays, want 3", len(byStatus))
		}

		if err := s.UpdateTitle(ctx, ids[0], "renamed"); err != nil {
			t.Fatalf("UpdateTitle: %v", err)
		}
		if e, _ := s.GetEssay(ctx, ids[0]); e.Title != "renamed" {
			t.Errorf("title = %q", e.Title)
		}

		if _, err := s.AppendAnalysis(ctx, ids[0], sampleAnalysis("t", 5)); err != nil {
			t.Fatalf("AppendAnalysis: %v", err)
		}
		if err := s.DeleteEssay(ctx, ids[0]); err != nil {
			t.Fatalf("DeleteEssay: %v", err)
		}
		if _, err := s.GetCurrentAnalysis(ctx, ids[0]); !errors.Is(err, common.ErrNotFound) {
			t.Errorf("analysis survived delete: %v", err)
		}
	})
}

func TestClaimEssay(t *testing.T) {
	forEachStore(t, func(t *testing.T, s EssayStore) {
		ctx := context.Background()
		id, err := s.CreateEssay(ctx, NewEssay{Title: "claimed", ImageRef: "r", ImageMime: "image/png", Owner: "daemon", Lease: time.Hour})
		if err != nil {
			t.Fatalf("CreateEssay: %v", err)
		}

		if err := s.ClaimEssay(ctx, id, "batch", time.Hour); !errors.Is(err, common.ErrAlreadyProcessing) {
			t.Fatalf("claim over live lease err = %v", err)
		}
		if err := s.ClaimEssay(ctx, id, "daemon", time.Hour); !errors.Is(err, common.ErrAlreadyProcessing) {
			t.Errorf("claim is reentrant: %v", err)
		}

		// only the holder can release
		if err := s.ReleaseEssay(ctx, id, "batch"); err != nil {
			t.Fatalf("ReleaseEssay: %v", err)
		}
		if err := s.ClaimEssay(ctx, id, "batch", time.Hour); !errors.Is(err, common.ErrAlreadyProcessing) {
			t.Errorf("foreign release dropped the claim: %v", err)
		}
		if err := s.ReleaseEssay(ctx, id, "daemon"); err != nil {
			t.Fatalf("ReleaseEssay: %v", err)
		}
		if err := s.ClaimEssay(ctx, id, "batch", time.Millisecond); err != nil {
			t.Fatalf("claim after release: %v", err)
		}

		time.Sleep(10 * time.Millisecond)
		if err := s.ClaimEssay(ctx, id, "recovery", time.Hour); err != nil {
			t.Fatalf("expired claim not taken over: %v", err)
		}
		// the old holder releasing late must not drop the new claim
		if err := s.ReleaseEssay(ctx, id, "batch"); err != nil {
			t.Fatalf("ReleaseEssay: %v", err)
		}
		if err := s.ClaimEssay(ctx, id, "daemon", time.Hour); !errors.Is(err, common.ErrAlreadyProcessing) {
			t.Errorf("late release dropped the takeover: %v", err)
		}

		if err := s.ClaimEssay(ctx, uuid.New(), "x", time.Hour); !errors.Is(err, common.ErrNotFound) {
			t.Errorf("missing essay err = %v", err)
		}
		if err := s.ReleaseEssay(ctx, uuid.New(), "x"); err != nil {
			t.Errorf("release of missing essay err = %v", err)
		}
	})
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore(quietLogger())
	ctx := context.Background()
	id, _ := s.CreateEssay(ctx, NewEssay{Title: "orig"})
	e, _ := s.GetEssay(ctx, id)
	e.Title = "mutated"
	again, _ := s.GetEssay(ctx, id)
	if again.Title != "orig" {
		t.Fatalf("store leaked internal state: %q", again.Title)
	}
}

func TestRebind(t *testing.T) {
	q := "UPDATE essays SET a = ?, b = ? WHERE id = ?"
	if got := postgresDialect.rebind(q); got != "UPDATE essays SET a = $1, b = $2 WHERE id = $3" {
		t.Errorf("postgres rebind = %q", got)
	}
	if got := sqliteDialect.rebind(q); got != q {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}
