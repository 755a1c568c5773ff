package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/essay-grader/constants"
	"github.com/joseph-ayodele/essay-grader/internal/entity"
)

// EssayStore persists essays and their analyses. Every method is atomic; an
// analysis is never observable before it is fully written.
type EssayStore interface {
	CreateEssay(ctx context.Context, in NewEssay) (uuid.UUID, error)
	GetEssay(ctx context.Context, id uuid.UUID) (*entity.Essay, error)
	ListEssays(ctx context.Context, filter ListFilter) ([]entity.Essay, error)
	ListByStatus(ctx context.Context, statuses ...constants.EssayStatus) ([]entity.Essay, error)
	SetStatus(ctx context.Context, id uuid.UUID, status constants.EssayStatus, errMsg string) error
	SetExtractedText(ctx context.Context, id uuid.UUID, out ExtractionOutcome) error
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) error
	DeleteEssay(ctx context.Context, id uuid.UUID) error

	// ClaimEssay gives owner the run lease on an essay for the next lease. It
	// fails with common.ErrAlreadyProcessing while a different claim is live;
	// an expired claim is taken over. Processes sharing the store exclude each
	// other through it.
	ClaimEssay(ctx context.Context, id uuid.UUID, owner string, lease time.Duration) error
	// ReleaseEssay drops owner's claim. A claim that is gone or was taken over
	// is left alone.
	ReleaseEssay(ctx context.Context, id uuid.UUID, owner string) error

	// AppendAnalysis stores a new analysis and marks the essay SCORED in the same write.
	AppendAnalysis(ctx context.Context, essayID uuid.UUID, a *entity.Analysis) (uuid.UUID, error)
	GetCurrentAnalysis(ctx context.Context, essayID uuid.UUID) (*entity.Analysis, error)
	ListAnalyses(ctx context.Context, essayID uuid.UUID) ([]entity.Analysis, error)

	Ping(ctx context.Context) error
	Close() error
}

// NewEssay is the input to CreateEssay. The essay starts CREATED, already
// claimed by Owner when it is set.
type NewEssay struct {
	Title     string
	ImageRef  string
	ImageMime string
	Owner     string
	Lease     time.Duration
}

// ExtractionOutcome is written by SetExtractedText together with the new status.
type ExtractionOutcome struct {
	Text       string
	Stats      entity.TextStats
	Quality    entity.OCRQuality
	Method     string
	Confidence float32
	Status     constants.EssayStatus
}

// ListFilter narrows ListEssays. Results are newest first.
type ListFilter struct {
	Status constants.EssayStatus
	Limit  int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f ListFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	}
	return f.Limit
}

func nowUTC() time.Time { return time.Now().UTC() }

// claimExpiry is stored as unix milliseconds so both dialects compare it as a number.
func claimExpiry(lease time.Duration) int64 { return nowUTC().Add(lease).UnixMilli() }
