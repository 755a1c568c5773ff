package repository

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/essay-grader/constants"
	"github.com/joseph-ayodele/essay-grader/internal/common"
	"github.com/joseph-ayodele/essay-grader/internal/entity"
)

// memoryStore keeps everything in process. Reads hand out clones.
type memoryStore struct {
	mu       sync.RWMutex
	essays   map[uuid.UUID]*entity.Essay
	order    []uuid.UUID
	analyses map[uuid.UUID][]*entity.Analysis
	claims   map[uuid.UUID]memoryClaim
	logger   *slog.Logger
}

type memoryClaim struct {
	owner   string
	expires int64
}

// NewMemoryStore returns an EssayStore backed by maps. Used by tests and the
// "memory" store driver.
func NewMemoryStore(logger *slog.Logger) EssayStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &memoryStore{
		essays:   make(map[uuid.UUID]*entity.Essay),
		analyses: make(map[uuid.UUID][]*entity.Analysis),
		claims:   make(map[uuid.UUID]memoryClaim),
		logger:   logger,
	}
}

func (m *memoryStore) CreateEssay(_ context.Context, in NewEssay) (uuid.UUID, error) {
	now := nowUTC()
	e := &entity.Essay{
		ID:        uuid.New(),
		Title:     in.Title,
		ImageRef:  in.ImageRef,
		ImageMime: in.ImageMime,
		Status:    constants.StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.essays[e.ID] = e
	m.order = append(m.order, e.ID)
	if in.Owner != "" {
		m.claims[e.ID] = memoryClaim{owner: in.Owner, expires: claimExpiry(in.Lease)}
	}
	return e.ID, nil
}

func (m *memoryStore) GetEssay(_ context.Context, id uuid.UUID) (*entity.Essay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.essays[id]
	if !ok {
		return nil, common.NotFoundf("essay %s", id)
	}
	return e.Clone(), nil
}

func (m *memoryStore) ListEssays(_ context.Context, filter ListFilter) ([]entity.Essay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit := filter.limit()
	out := make([]entity.Essay, 0, min(limit, len(m.order)))
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.essays[m.order[i]]
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, *e.Clone())
	}
	return out, nil
}

func (m *memoryStore) ListByStatus(_ context.Context, statuses ...constants.EssayStatus) ([]entity.Essay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []entity.Essay
	for _, id := range m.order {
		e := m.essays[id]
		if slices.Contains(statuses, e.Status) {
			out = append(out, *e.Clone())
		}
	}
	return out, nil
}

func (m *memoryStore) SetStatus(_ context.Context, id uuid.UUID, status constants.EssayStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.essays[id]
	if !ok {
		return common.NotFoundf("essay %s", id)
	}
	e.Status = status
	e.ErrorMessage = optionalString(errMsg)
	e.UpdatedAt = nowUTC()
	return nil
}

func (m *memoryStore) SetExtractedText(_ context.Context, id uuid.UUID, out ExtractionOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.essays[id]
	if !ok {
		return common.NotFoundf("essay %s", id)
	}
	text := out.Text
	stats := out.Stats
	quality := out.Quality
	quality.Problems = append([]string(nil), out.Quality.Problems...)
	e.ExtractedText = &text
	e.Stats = &stats
	e.OCRQuality = &quality
	e.ExtractionMethod = out.Method
	e.Confidence = out.Confidence
	e.Status = out.Status
	e.ErrorMessage = nil
	e.UpdatedAt = nowUTC()
	return nil
}

func (m *memoryStore) UpdateTitle(_ context.Context, id uuid.UUID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.essays[id]
	if !ok {
		return common.NotFoundf("essay %s", id)
	}
	e.Title = title
	e.UpdatedAt = nowUTC()
	return nil
}

func (m *memoryStore) DeleteEssay(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.essays[id]; !ok {
		return common.NotFoundf("essay %s", id)
	}
	delete(m.essays, id)
	delete(m.analyses, id)
	delete(m.claims, id)
	m.order = slices.DeleteFunc(m.order, func(x uuid.UUID) bool { return x == id })
	return nil
}

func (m *memoryStore) ClaimEssay(_ context.Context, id uuid.UUID, owner string, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.essays[id]; !ok {
		return common.NotFoundf("essay %s", id)
	}
	if c, ok := m.claims[id]; ok && c.expires > nowUTC().UnixMilli() {
		return fmt.Errorf("essay %s claimed by %s: %w", id, c.owner, common.ErrAlreadyProcessing)
	}
	m.claims[id] = memoryClaim{owner: owner, expires: claimExpiry(lease)}
	return nil
}

func (m *memoryStore) ReleaseEssay(_ context.Context, id uuid.UUID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.claims[id]; ok && c.owner == owner {
		delete(m.claims, id)
	}
	return nil
}

func (m *memoryStore) AppendAnalysis(_ context.Context, essayID uuid.UUID, a *entity.Analysis) (uuid.UUID, error) {
	if a == nil {
		return uuid.Nil, fmt.Errorf("append analysis: %w", common.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.essays[essayID]
	if !ok {
		return uuid.Nil, common.NotFoundf("essay %s", essayID)
	}
	stored := a.Clone()
	stored.ID = uuid.New()
	stored.EssayID = essayID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = nowUTC()
	}
	m.analyses[essayID] = append(m.analyses[essayID], stored)
	e.Status = constants.StatusScored
	e.ErrorMessage = nil
	e.UpdatedAt = nowUTC()
	return stored.ID, nil
}

func (m *memoryStore) GetCurrentAnalysis(_ context.Context, essayID uuid.UUID) (*entity.Analysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.analyses[essayID]
	if len(list) == 0 {
		return nil, common.NotFoundf("analysis for essay %s", essayID)
	}
	return list[len(list)-1].Clone(), nil
}

func (m *memoryStore) ListAnalyses(_ context.Context, essayID uuid.UUID) ([]entity.Analysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.essays[essayID]; !ok {
		return nil, common.NotFoundf("essay %s", essayID)
	}
	list := m.analyses[essayID]
	out := make([]entity.Analysis, 0, len(list))
	for _, a := range list {
		out = append(out, *a.Clone())
	}
	return out, nil
}

func (m *memoryStore) Ping(context.Context) error { return nil }

func (m *memoryStore) Close() error { return nil }

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
