package pipeline

import (
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/essay-grader/internal/common"
)

// Stage names used in StageError and persisted error messages.
const (
	StageExtraction = "extraction"
	StageScoring    = "scoring"
)

// StageError reports a failed pipeline stage. It matches
// common.ErrExtractionFailed or common.ErrScoringFailed and unwraps to the
// cause, usually a *provider.Error or *provider.TimeoutError.
type StageError struct {
	Stage   string
	EssayID uuid.UUID
	Err     error
}

func (e *StageError) Error() string {
	if e.EssayID == uuid.Nil {
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failed for essay %s: %v", e.Stage, e.EssayID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Is(target error) bool {
	switch e.Stage {
	case StageExtraction:
		return target == common.ErrExtractionFailed
	case StageScoring:
		return target == common.ErrScoringFailed
	}
	return false
}

const maxErrorMessage = 500

// errorMessage is what gets persisted on the essay row.
func errorMessage(err error) string {
	msg := err.Error()
	if len(msg) <= maxErrorMessage {
		return msg
	}
	cut := maxErrorMessage
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
