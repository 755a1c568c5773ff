package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/essay-grader/constants"
)

// TextStats are observational counts over extracted text.
type TextStats struct {
	Words      int `json:"palavras"`
	Characters int `json:"caracteres"`
	Lines      int `json:"linhas"`
	Paragraphs int `json:"paragrafos"`
	Sentences  int `json:"frases"`
}

// OCRQuality is a heuristic judgement of how trustworthy the extracted text looks.
type OCRQuality struct {
	Level       string   `json:"nivel"` // baixa | media | alta
	Problems    []string `json:"problemas"`
	Reliability int      `json:"confiabilidade"` // 0..100
}

// Essay represents a submitted essay for data transfer between layers.
type Essay struct {
	ID               uuid.UUID             `json:"id"`
	Title            string                `json:"titulo"`
	ImageRef         string                `json:"imagemRef"`
	ImageMime        string                `json:"imagemMime"`
	ExtractedText    *string               `json:"textoExtraido"`
	Stats            *TextStats            `json:"estatisticas,omitempty"`
	OCRQuality       *OCRQuality           `json:"qualidadeOCR,omitempty"`
	ExtractionMethod string                `json:"metodoExtracao,omitempty"`
	Confidence       float32               `json:"confianca"`
	Status           constants.EssayStatus `json:"status"`
	ErrorMessage     *string               `json:"erro,omitempty"`
	CreatedAt        time.Time             `json:"createdAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
}

// Text returns the extracted text, or "" while none is persisted.
func (e *Essay) Text() string {
	if e == nil || e.ExtractedText == nil {
		return ""
	}
	return *e.ExtractedText
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (e *Essay) Clone() *Essay {
	if e == nil {
		return nil
	}
	c := *e
	if e.ExtractedText != nil {
		t := *e.ExtractedText
		c.ExtractedText = &t
	}
	if e.Stats != nil {
		s := *e.Stats
		c.Stats = &s
	}
	if e.OCRQuality != nil {
		q := *e.OCRQuality
		q.Problems = append([]string(nil), e.OCRQuality.Problems...)
		c.OCRQuality = &q
	}
	if e.ErrorMessage != nil {
		m := *e.ErrorMessage
		c.ErrorMessage = &m
	}
	return &c
}
