package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/essay-grader/constants"
	"github.com/joseph-ayodele/essay-grader/internal/common"
	"github.com/joseph-ayodele/essay-grader/internal/entity"
	"github.com/joseph-ayodele/essay-grader/internal/repository"
)

const (
	SheetAnalyses    = "Analises"
	SheetCorrections = "Correcoes"
	SheetEssays      = "Redacoes"
)

// Reader is the read side of repository.EssayStore the exports need.
type Reader interface {
	GetEssay(ctx context.Context, id uuid.UUID) (*entity.Essay, error)
	ListEssays(ctx context.Context, filter repository.ListFilter) ([]entity.Essay, error)
	ListAnalyses(ctx context.Context, essayID uuid.UUID) ([]entity.Analysis, error)
	GetCurrentAnalysis(ctx context.Context, essayID uuid.UUID) (*entity.Analysis, error)
}

// Service produces XLSX bytes for essay exports.
type Service struct {
	store  Reader
	logger *slog.Logger
}

func NewService(store Reader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// ExportAnalysesXLSX returns a workbook with the essay's whole analysis
// history, oldest first, and every correction of every analysis.
func (s *Service) ExportAnalysesXLSX(ctx context.Context, essayID uuid.UUID) ([]byte, error) {
	start := time.Now()

	essay, err := s.store.GetEssay(ctx, essayID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.ListAnalyses(ctx, essayID)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", SheetAnalyses); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetCorrections); err != nil {
		return nil, err
	}

	headers := []any{"#", "Data", "Nota geral"}
	for _, c := range constants.CriteriaStrings() {
		headers = append(headers, c)
	}
	headers = append(headers, "Modelo", "Pontos favoráveis", "Pontos de melhoria", "Sugestões", "Comentários", "Texto usado")
	if err := writeRow(f, SheetAnalyses, 1, headers); err != nil {
		return nil, err
	}
	if err := writeRow(f, SheetCorrections, 1, []any{"#", "Original", "Sugerido", "Motivo"}); err != nil {
		return nil, err
	}

	corrRow := 2
	for i, a := range history {
		row := []any{i + 1, a.CreatedAt.UTC().Format(time.RFC3339), a.OverallScore}
		for _, c := range constants.AllCriteria() {
			row = append(row, a.Breakdown.Get(c))
		}
		row = append(row,
			a.Model,
			strings.Join(a.Strengths, "; "),
			strings.Join(a.Improvements, "; "),
			strings.Join(a.Suggestions, "; "),
			strings.Join(a.Comments, "; "),
			truncate(a.TextUsed, 2000),
		)
		if err := writeRow(f, SheetAnalyses, i+2, row); err != nil {
			return nil, err
		}
		for _, c := range a.Corrections {
			if err := writeRow(f, SheetCorrections, corrRow, []any{i + 1, c.Original, c.Suggested, c.Reason}); err != nil {
				return nil, err
			}
			corrRow++
		}
	}

	_ = f.SetColWidth(SheetAnalyses, "B", "B", 22) // date
	_ = f.SetColWidth(SheetAnalyses, "J", "M", 40) // lists
	_ = f.SetColWidth(SheetAnalyses, "N", "N", 80) // text
	_ = f.SetColWidth(SheetCorrections, "B", "D", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.analyses.ok",
		"essay_id", essay.ID,
		"rows", len(history),
		"corrections", corrRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// ExportEssaysXLSX returns one row per essay with its current overall score,
// if it has one.
func (s *Service) ExportEssaysXLSX(ctx context.Context, filter repository.ListFilter) ([]byte, error) {
	start := time.Now()
	essays, err := s.store.ListEssays(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query essays: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", SheetEssays); err != nil {
		return nil, err
	}
	headers := []any{"ID", "Título", "Status", "Criada em", "Palavras", "Qualidade OCR", "Nota geral", "Erro"}
	if err := writeRow(f, SheetEssays, 1, headers); err != nil {
		return nil, err
	}

	for i, e := range essays {
		var words any
		if e.Stats != nil {
			words = e.Stats.Words
		}
		var quality any
		if e.OCRQuality != nil {
			quality = e.OCRQuality.Level
		}
		var score any
		if e.Status == constants.StatusScored {
			a, err := s.store.GetCurrentAnalysis(ctx, e.ID)
			switch {
			case err == nil:
				score = a.OverallScore
			case !errors.Is(err, common.ErrNotFound):
				return nil, fmt.Errorf("current analysis %s: %w", e.ID, err)
			}
		}
		var errMsg string
		if e.ErrorMessage != nil {
			errMsg = *e.ErrorMessage
		}
		row := []any{e.ID.String(), e.Title, string(e.Status), e.CreatedAt.UTC().Format(time.RFC3339), words, quality, score, errMsg}
		if err := writeRow(f, SheetEssays, i+2, row); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(SheetEssays, "A", "A", 38)
	_ = f.SetColWidth(SheetEssays, "B", "B", 40)
	_ = f.SetColWidth(SheetEssays, "H", "H", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.essays.ok", "rows", len(essays), "elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
