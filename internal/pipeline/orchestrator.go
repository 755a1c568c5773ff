// Package pipeline turns a submitted essay image into extracted text and then
// into corrections plus a rubric score, persisting every transition.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/essay-grader/constants"
	"github.com/joseph-ayodele/essay-grader/internal/common"
	"github.com/joseph-ayodele/essay-grader/internal/entity"
	"github.com/joseph-ayodele/essay-grader/internal/repository"
	"github.com/joseph-ayodele/essay-grader/internal/storage"
)

const (
	maxTitleLength     = 200
	maxTextLength      = 20000
	interruptedMessage = "interrupted"
	defaultRunTimeout  = 15 * time.Minute
)

// Orchestrator sequences the stages for an essay and is the only writer of
// essay rows. At most one run per essay is in flight, across every process
// sharing the store; a second one fails with common.ErrAlreadyProcessing
// instead of waiting.
type Orchestrator struct {
	store         repository.EssayStore
	images        storage.ImageStore
	extraction    *ExtractionStage
	scoring       *CorrectionScoringStage
	texts         *textClaims
	owner         string
	maxImageBytes int64
	runTimeout    time.Duration
	logger        *slog.Logger
}

type Option func(*Orchestrator)

func WithMaxImageBytes(n int64) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxImageBytes = n
		}
	}
}

// WithRunTimeout bounds a single run. Runs ignore caller cancellation but keep
// an earlier caller deadline. Claims outlive this by a minute.
func WithRunTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.runTimeout = d
		}
	}
}

// WithOwner names this process on the claims it takes. The default combines
// host, pid and a random suffix.
func WithOwner(name string) Option {
	return func(o *Orchestrator) {
		if name != "" {
			o.owner = name
		}
	}
}

func NewOrchestrator(
	store repository.EssayStore,
	images storage.ImageStore,
	extraction *ExtractionStage,
	scoring *CorrectionScoringStage,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:         store,
		images:        images,
		extraction:    extraction,
		scoring:       scoring,
		texts:         newTextClaims(),
		owner:         defaultOwner(),
		maxImageBytes: constants.MaxImageBytes,
		runTimeout:    defaultRunTimeout,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// detach cuts the run loose from caller cancellation. Values such as the
// request id are kept, and so is a caller deadline earlier than runTimeout.
func (o *Orchestrator) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline := time.Now().Add(o.runTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return context.WithDeadline(context.WithoutCancel(ctx), deadline)
}

func (o *Orchestrator) log(ctx context.Context, id uuid.UUID) *slog.Logger {
	l := common.LoggerWithRequest(ctx, o.logger)
	if id != uuid.Nil {
		l = l.With("essay_id", id)
	}
	return l
}

// Submit stores the image, creates the essay and extracts its text before
// returning. On extraction failure the essay is left in EXTRACTION_FAILED and
// a *StageError is returned.
func (o *Orchestrator) Submit(ctx context.Context, title string, image []byte, mime string) (*entity.Essay, error) {
	mime = constants.NormalizeMime(mime)
	err := common.NewValidator().
		Field("titulo", title, common.Required, common.MaxLength(maxTitleLength)).
		Field("imagem", image, common.Required, common.MaxBytes(o.maxImageBytes)).
		Field("mime", mime, common.OneOf(slices.Sorted(maps.Keys(constants.AllowedImageTypes))...)).
		Err()
	if err != nil {
		return nil, err
	}
	if _, err := ValidateImage(image); err != nil {
		return nil, err
	}

	ctx, cancel := o.detach(ctx)
	defer cancel()

	ref, err := o.images.Put(ctx, storage.ImageKey(mime), image, mime)
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}
	id, err := o.store.CreateEssay(ctx, repository.NewEssay{
		Title:     strings.TrimSpace(title),
		ImageRef:  ref,
		ImageMime: mime,
		Owner:     o.owner,
		Lease:     o.lease(),
	})
	if err != nil {
		if derr := o.images.Delete(ctx, ref); derr != nil {
			o.log(ctx, uuid.Nil).Warn("pipeline.submit.image_cleanup_failed", "ref", ref, "error", derr)
		}
		return nil, fmt.Errorf("create essay: %w", err)
	}
	defer o.releaser(ctx, id)()

	if err := o.extract(ctx, o.log(ctx, id), id, image); err != nil {
		return nil, err
	}
	return o.store.GetEssay(ctx, id)
}

// extract runs EXTRACTING → EXTRACTED | EXTRACTION_FAILED. The caller holds the claim.
func (o *Orchestrator) extract(ctx context.Context, log *slog.Logger, id uuid.UUID, image []byte) error {
	start := time.Now()
	if err := o.store.SetStatus(ctx, id, constants.StatusExtracting, ""); err != nil {
		return err
	}

	out, err := o.extraction.Run(ctx, image)
	if err == nil {
		if err = o.store.SetExtractedText(ctx, id, out); err != nil {
			err = fmt.Errorf("persist extracted text: %w", err)
		}
	} else {
		err = &StageError{Stage: StageExtraction, EssayID: id, Err: err}
	}
	if err != nil {
		log.Error("pipeline.extract.failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		wctx, cancel := cleanup(ctx)
		defer cancel()
		if serr := o.store.SetStatus(wctx, id, constants.StatusExtractionFailed, errorMessage(err)); serr != nil {
			log.Error("pipeline.extract.status_update_failed", "error", serr)
		}
		return err
	}

	log.Info("pipeline.extract.ok",
		"method", out.Method,
		"words", out.Stats.Words,
		"confidence", out.Confidence,
		"quality", out.Quality.Level,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Score runs correction and scoring for an EXTRACTED or SCORING_FAILED essay.
// A SCORED essay gets its current analysis back without a new run. An essay
// left SCORING by a run whose claim expired is scored again.
func (o *Orchestrator) Score(ctx context.Context, id uuid.UUID) (*entity.Analysis, error) {
	release, err := o.claimEssay(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := o.detach(ctx)
	defer cancel()

	e, err := o.claimedEssay(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case e.Status == constants.StatusScored:
		return o.store.GetCurrentAnalysis(ctx, id)
	case e.Status == constants.StatusExtractionFailed:
		return nil, extractionFailed(e)
	case !e.Status.Scoreable():
		return nil, alreadyProcessing(e)
	}
	return o.score(ctx, o.log(ctx, id), e, e.Text())
}

// score runs the scoring stage on text and appends the analysis. A SCORED
// essay stays SCORED whatever happens; any other essay passes through SCORING.
// The caller holds the claim.
func (o *Orchestrator) score(ctx context.Context, log *slog.Logger, e *entity.Essay, text string) (*entity.Analysis, error) {
	start := time.Now()
	wasScored := e.Status == constants.StatusScored
	if !wasScored {
		if err := o.store.SetStatus(ctx, e.ID, constants.StatusScoring, ""); err != nil {
			return nil, err
		}
	}

	a, err := o.scoring.Run(ctx, text)
	if err == nil {
		a.EssayID = e.ID
		if a.ID, err = o.store.AppendAnalysis(ctx, e.ID, a); err != nil {
			err = fmt.Errorf("persist analysis: %w", err)
		}
	} else {
		err = &StageError{Stage: StageScoring, EssayID: e.ID, Err: err}
	}
	if err != nil {
		log.Error("pipeline.score.failed", "error", err, "was_scored", wasScored,
			"elapsed_ms", time.Since(start).Milliseconds())
		if !wasScored {
			wctx, cancel := cleanup(ctx)
			defer cancel()
			if serr := o.store.SetStatus(wctx, e.ID, constants.StatusScoringFailed, errorMessage(err)); serr != nil {
				log.Error("pipeline.score.status_update_failed", "error", serr)
			}
		}
		return nil, err
	}

	log.Info("pipeline.score.ok",
		"analysis_id", a.ID,
		"overall", a.OverallScore,
		"corrections", len(a.Corrections),
		"model", a.Model,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return a, nil
}

// CurrentAnalysis returns the latest analysis. When none exists yet and the
// essay is ready for scoring, it scores it first. In-flight essays go through
// Score too, which answers ErrAlreadyProcessing while their claim is live.
func (o *Orchestrator) CurrentAnalysis(ctx context.Context, id uuid.UUID) (*entity.Analysis, error) {
	a, err := o.store.GetCurrentAnalysis(ctx, id)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	e, err := o.store.GetEssay(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case e.Status.Scoreable(), e.Status.InFlight():
		return o.Score(ctx, id)
	case e.Status == constants.StatusExtractionFailed:
		return nil, extractionFailed(e)
	}
	// SCORED with no analysis; a concurrent delete can get here.
	return nil, fmt.Errorf("essay %s is %s without analysis: %w", id, e.Status, common.ErrInternal)
}

// Reanalyze scores text for an existing essay, or its extracted text when text
// is blank, and appends the result to its history. The extracted text is never
// modified. With both blank the essay gets the zero-rubric analysis, as Score
// would give it.
func (o *Orchestrator) Reanalyze(ctx context.Context, id uuid.UUID, text string) (*entity.Analysis, error) {
	if err := common.NewValidator().Field("texto", text, common.MaxLength(maxTextLength)).Err(); err != nil {
		return nil, err
	}

	release, err := o.claimEssay(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := o.detach(ctx)
	defer cancel()

	e, err := o.claimedEssay(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case e.Status == constants.StatusExtractionFailed:
		return nil, extractionFailed(e)
	case !e.Status.HasText():
		return nil, alreadyProcessing(e)
	}

	if strings.TrimSpace(text) == "" {
		text = e.Text()
	}
	return o.score(ctx, o.log(ctx, id), e, text)
}

// ReanalyzeText scores free text that belongs to no essay. Nothing is
// persisted; the analysis comes back with a fresh ID and a nil EssayID.
func (o *Orchestrator) ReanalyzeText(ctx context.Context, text string) (*entity.Analysis, error) {
	err := common.NewValidator().
		Field("texto", text, common.Required, common.MaxLength(maxTextLength)).
		Err()
	if err != nil {
		return nil, err
	}

	release, err := o.texts.acquire(text)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := o.detach(ctx)
	defer cancel()

	log := o.log(ctx, uuid.Nil)
	start := time.Now()
	a, err := o.scoring.Run(ctx, text)
	if err != nil {
		log.Error("pipeline.reanalyze_text.failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, &StageError{Stage: StageScoring, Err: err}
	}
	a.ID = uuid.New()
	a.EssayID = uuid.Nil
	log.Info("pipeline.reanalyze_text.ok",
		"overall", a.OverallScore,
		"corrections", len(a.Corrections),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return a, nil
}

// Delete removes the essay, its analyses and its image. A missing image is
// not an error.
func (o *Orchestrator) Delete(ctx context.Context, id uuid.UUID) error {
	release, err := o.claimEssay(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := o.detach(ctx)
	defer cancel()

	log := o.log(ctx, id)
	e, err := o.store.GetEssay(ctx, id)
	if err != nil {
		return err
	}
	if err := o.store.DeleteEssay(ctx, id); err != nil {
		return err
	}
	if err := o.images.Delete(ctx, e.ImageRef); err != nil && !errors.Is(err, common.ErrNotFound) {
		log.Warn("pipeline.delete.image_failed", "ref", e.ImageRef, "error", err)
	}
	log.Info("pipeline.delete.ok")
	return nil
}

// UpdateTitle renames an essay. It does not take the claim because no stage
// touches the title.
func (o *Orchestrator) UpdateTitle(ctx context.Context, id uuid.UUID, title string) (*entity.Essay, error) {
	err := common.NewValidator().
		Field("titulo", title, common.Required, common.MaxLength(maxTitleLength)).
		Err()
	if err != nil {
		return nil, err
	}
	if err := o.store.UpdateTitle(ctx, id, strings.TrimSpace(title)); err != nil {
		return nil, err
	}
	return o.store.GetEssay(ctx, id)
}

// RecoverInterrupted fails every essay whose run died mid-way: it is in
// flight but its claim has expired or was never taken. Essays claimed by a
// live run, in this process or another, are skipped. It returns how many
// essays were moved.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	stuck, err := o.store.ListByStatus(ctx, constants.StatusCreated, constants.StatusExtracting, constants.StatusScoring)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range stuck {
		release, err := o.claimEssay(ctx, e.ID)
		switch {
		case errors.Is(err, common.ErrAlreadyProcessing):
			o.logger.Debug("pipeline.recover.skipped", "essay_id", e.ID, "status", e.Status, "error", err)
			continue
		case errors.Is(err, common.ErrNotFound):
			continue
		case err != nil:
			return n, fmt.Errorf("recover essay %s: %w", e.ID, err)
		}
		fresh, err := o.store.GetEssay(ctx, e.ID)
		var moved bool
		if err == nil {
			moved, err = o.failInterrupted(ctx, fresh)
		}
		release()
		switch {
		case errors.Is(err, common.ErrNotFound):
			continue
		case err != nil:
			return n, fmt.Errorf("recover essay %s: %w", e.ID, err)
		case moved:
			n++
		}
	}
	return n, nil
}

// claimedEssay loads an essay the caller holds the claim on. Holding the claim
// means no run is live, so an in-flight status is left over from a run that
// died and is failed before anything else looks at the essay.
func (o *Orchestrator) claimedEssay(ctx context.Context, id uuid.UUID) (*entity.Essay, error) {
	e, err := o.store.GetEssay(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := o.failInterrupted(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// failInterrupted moves a claimed in-flight essay to the matching failed
// status, updating e in place. It reports whether it moved it.
func (o *Orchestrator) failInterrupted(ctx context.Context, e *entity.Essay) (bool, error) {
	if !e.Status.InFlight() {
		return false, nil
	}
	next := constants.StatusExtractionFailed
	if e.Status == constants.StatusScoring {
		next = constants.StatusScoringFailed
	}
	if err := o.store.SetStatus(ctx, e.ID, next, interruptedMessage); err != nil {
		return false, err
	}
	o.log(ctx, e.ID).Warn("pipeline.recover.interrupted", "from", e.Status, "to", next)
	msg := interruptedMessage
	e.Status, e.ErrorMessage = next, &msg
	return true, nil
}

// PendingScoring lists essays that have text but no analysis: EXTRACTED and
// SCORING_FAILED, oldest first.
func (o *Orchestrator) PendingScoring(ctx context.Context) ([]uuid.UUID, error) {
	essays, err := o.store.ListByStatus(ctx, constants.StatusExtracted, constants.StatusScoringFailed)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(essays))
	for _, e := range essays {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*entity.Essay, error) {
	return o.store.GetEssay(ctx, id)
}

func (o *Orchestrator) List(ctx context.Context, filter repository.ListFilter) ([]entity.Essay, error) {
	return o.store.ListEssays(ctx, filter)
}

// History returns every analysis of the essay, oldest first.
func (o *Orchestrator) History(ctx context.Context, id uuid.UUID) ([]entity.Analysis, error) {
	return o.store.ListAnalyses(ctx, id)
}

// Image returns the stored source image and its MIME type.
func (o *Orchestrator) Image(ctx context.Context, id uuid.UUID) ([]byte, string, error) {
	e, err := o.store.GetEssay(ctx, id)
	if err != nil {
		return nil, "", err
	}
	data, err := o.images.Get(ctx, e.ImageRef)
	if err != nil {
		return nil, "", err
	}
	return data, e.ImageMime, nil
}

func extractionFailed(e *entity.Essay) error {
	msg := "extraction failed"
	if e.ErrorMessage != nil {
		msg = *e.ErrorMessage
	}
	return &StageError{Stage: StageExtraction, EssayID: e.ID, Err: errors.New(msg)}
}

func alreadyProcessing(e *entity.Essay) error {
	return fmt.Errorf("essay %s is %s: %w", e.ID, e.Status, common.ErrAlreadyProcessing)
}
