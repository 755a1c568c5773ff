package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/essay-grader/constants"
	"github.com/joseph-ayodele/essay-grader/internal/common"
	"github.com/joseph-ayodele/essay-grader/internal/entity"
	"github.com/joseph-ayodele/essay-grader/internal/repository"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seed(t *testing.T) (repository.EssayStore, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore(quietLogger())
	id, err := store.CreateEssay(ctx, repository.NewEssay{Title: "Redação", ImageRef: "r", ImageMime: "image/png"})
	if err != nil {
		t.Fatalf("CreateEssay: %v", err)
	}
	_ = store.SetExtractedText(ctx, id, repository.ExtractionOutcome{
		Text:   "A gente vai.",
		Stats:  entity.TextStats{Words: 3},
		Status: constants.StatusExtracted,
	})
	for _, score := range []float64{5, 8} {
		b := entity.Breakdown{Tese: score, Argumentos: score, Coesao: score, Repertorio: score, Norma: score}
		_, err := store.AppendAnalysis(ctx, id, &entity.Analysis{
			TextUsed:     "A gente vai.",
			Breakdown:    b,
			Strengths:    []string{"clareza", "objetividade"},
			Corrections:  []entity.Correction{{Original: "A gente", Suggested: "Nós", Reason: "registro formal"}},
			OverallScore: b.OverallScore(),
		})
		if err != nil {
			t.Fatalf("AppendAnalysis: %v", err)
		}
	}
	return store, id
}

func TestExportAnalysesXLSX(t *testing.T) {
	store, id := seed(t)
	svc := NewService(store, quietLogger())

	data, err := svc.ExportAnalysesXLSX(context.Background(), id)
	if err != nil {
		t.Fatalf("ExportAnalysesXLSX: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetAnalyses)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("analysis rows = %d, want header + 2", len(rows))
	}
	if rows[0][3] != "tese" || rows[0][7] != "norma" {
		t.Errorf("criteria headers = %v", rows[0][3:8])
	}
	if rows[2][2] != "8" || rows[1][9] != "clareza; objetividade" {
		t.Errorf("row values = %v / %v", rows[1], rows[2])
	}

	corr, err := f.GetRows(SheetCorrections)
	if err != nil {
		t.Fatalf("GetRows corrections: %v", err)
	}
	if len(corr) != 3 || corr[1][1] != "A gente" || corr[2][0] != "2" {
		t.Errorf("corrections sheet = %v", corr)
	}
}

func TestExportAnalysesMissingEssay(t *testing.T) {
	store, _ := seed(t)
	svc := NewService(store, quietLogger())
	if _, err := svc.ExportAnalysesXLSX(context.Background(), uuid.New()); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestExportEssaysXLSX(t *testing.T) {
	store, id := seed(t)
	if _, err := store.CreateEssay(context.Background(), repository.NewEssay{Title: "Sem nota"}); err != nil {
		t.Fatalf("CreateEssay: %v", err)
	}
	svc := NewService(store, quietLogger())

	data, err := svc.ExportEssaysXLSX(context.Background(), repository.ListFilter{})
	if err != nil {
		t.Fatalf("ExportEssaysXLSX: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetEssays)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d", len(rows))
	}
	// newest first: the unscored essay, then the scored one
	if rows[1][1] != "Sem nota" || rows[2][0] != id.String() {
		t.Errorf("order = %v", rows)
	}
	if rows[2][2] != string(constants.StatusScored) || rows[2][6] != "8" {
		t.Errorf("scored row = %v", rows[2])
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("redação", 4); got != "red…" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("curto", 10); got != "curto" {
		t.Errorf("truncate = %q", got)
	}
}
