package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/essay-grader/constants"
	"github.com/joseph-ayodele/essay-grader/internal/common"
	"github.com/joseph-ayodele/essay-grader/internal/entity"
	"github.com/joseph-ayodele/essay-grader/internal/repository"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// analysisView renders a standalone analysis with a null redacaoId.
type analysisView struct {
	*entity.Analysis
	EssayID *uuid.UUID `json:"redacaoId"`
}

func viewAnalysis(a *entity.Analysis) analysisView {
	v := analysisView{Analysis: a}
	if a.EssayID != uuid.Nil {
		id := a.EssayID
		v.EssayID = &id
	}
	return v
}

type analysisResponse struct {
	Analise   analysisView        `json:"analise"`
	Correcoes []entity.Correction `json:"correcoes"`
}

type reanalyzeResponse struct {
	Analise        analysisView        `json:"analise"`
	Correcoes      []entity.Correction `json:"correcoes"`
	TextoCorrigido string              `json:"textoCorrigido"`
}

type reanalyzeRequest struct {
	Texto     string `json:"texto"`
	RedacaoID string `json:"redacaoId,omitempty"`
}

type updateRequest struct {
	Titulo string `json:"titulo"`
}

type textReport struct {
	ID           uuid.UUID             `json:"id"`
	Status       constants.EssayStatus `json:"status"`
	Estatisticas *entity.TextStats     `json:"estatisticas"`
	QualidadeOCR *entity.OCRQuality    `json:"qualidadeOCR"`
}

func essayID(r *http.Request) (uuid.UUID, error) {
	return common.ParseUUID("id", chi.URLParam(r, "id"))
}

func listFilter(r *http.Request) (repository.ListFilter, error) {
	var f repository.ListFilter
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st, ok := constants.ParseStatus(strings.ToUpper(raw))
		if !ok {
			return f, common.InvalidInputf("unknown status %q", raw)
		}
		f.Status = st
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, common.InvalidInputf("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) error {
	sub, err := s.readSubmission(w, r)
	if err != nil {
		return err
	}
	e, err := s.essays.Submit(r.Context(), sub.Title, sub.Image, sub.Mime)
	if err != nil {
		return err
	}
	w.Header().Set("Location", "/api/redacoes/"+e.ID.String())
	writeJSON(w, http.StatusCreated, e)
	return nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) error {
	f, err := listFilter(r)
	if err != nil {
		return err
	}
	list, err := s.essays.List(r.Context(), f)
	if err != nil {
		return err
	}
	if list == nil {
		list = []entity.Essay{}
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) error {
	id, err := essayID(r)
	if err != nil {
		return err
	}
	e, err := s.essays.Get(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, e)
	return nil
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) error {
	id, err := essayID(r)
	if err != nil {
		return err
	}
	var req updateRequest
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		return err
	}
	e, err := s.essays.UpdateTitle(r.Context(), id, req.Titulo)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, e)
	return nil
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) error {
	id, err := essayID(r)
	if err != nil {
		return err
	}
	if err := s.essays.Delete(r.Context(), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) error {
	id, err := essayID(r)
	if err != nil {
		return err
	}
	data, mt, err := s.essays.Image(r.Context(), id)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", mt)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	return nil
}

// handleTextReport returns the local text statistics and OCR quality without
// calling any provider.
func (s *Server) handleTextReport(w http.ResponseWriter, r *http.Request) error {
	id, err := essayID(r)
	if err != nil {
		return err
	}
	e, err := s.essays.Get(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, textReport{
		ID:           e.ID,
		Status:       e.Status,
		Estatisticas: e.Stats,
		QualidadeOCR: e.OCRQuality,
	})
	return nil
}

func (s *Server) handleCurrentAnalysis(w http.ResponseWriter, r *http.Request) error {
	id, err := essayID(r)
	if err != nil {
		return err
	}
	a, err := s.essays.CurrentAnalysis(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, analysisResponse{Analise: viewAnalysis(a), Correcoes: a.Corrections})
	return nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) error {
	id, err := essayID(r)
	if err != nil {
		return err
	}
	list, err := s.essays.History(r.Context(), id)
	if err != nil {
		return err
	}
	views := make([]analysisView, 0, len(list))
	for i := range list {
		views = append(views, viewAnalysis(&list[i]))
	}
	writeJSON(w, http.StatusOK, views)
	return nil
}

func (s *Server) handleReanalyze(w http.ResponseWriter, r *http.Request) error {
	var req reanalyzeRequest
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		return err
	}

	var (
		a   *entity.Analysis
		err error
	)
	if strings.TrimSpace(req.RedacaoID) != "" {
		id, perr := common.ParseUUID("redacaoId", req.RedacaoID)
		if perr != nil {
			return perr
		}
		a, err = s.essays.Reanalyze(r.Context(), id, req.Texto)
	} else {
		a, err = s.essays.ReanalyzeText(r.Context(), req.Texto)
	}
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, reanalyzeResponse{
		Analise:        viewAnalysis(a),
		Correcoes:      a.Corrections,
		TextoCorrigido: a.CorrectedText,
	})
	return nil
}

func (s *Server) handleExportAnalyses(w http.ResponseWriter, r *http.Request) error {
	id, err := essayID(r)
	if err != nil {
		return err
	}
	data, err := s.exports.ExportAnalysesXLSX(r.Context(), id)
	if err != nil {
		return err
	}
	writeAttachment(w, fmt.Sprintf("redacao-%s-analises.xlsx", id), data)
	return nil
}

func (s *Server) handleExportEssays(w http.ResponseWriter, r *http.Request) error {
	f, err := listFilter(r)
	if err != nil {
		return err
	}
	data, err := s.exports.ExportEssaysXLSX(r.Context(), f)
	if err != nil {
		return err
	}
	writeAttachment(w, "redacoes.xlsx", data)
	return nil
}

func writeAttachment(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
