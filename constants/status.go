package constants

// EssayStatus is the canonical processing status of an essay row.
type EssayStatus string

// Stable values (store these exact strings in DB).
const (
	StatusCreated          EssayStatus = "CREATED"
	StatusExtracting       EssayStatus = "EXTRACTING"
	StatusExtracted        EssayStatus = "EXTRACTED"
	StatusExtractionFailed EssayStatus = "EXTRACTION_FAILED" // terminal: the image must be resubmitted
	StatusScoring          EssayStatus = "SCORING"
	StatusScored           EssayStatus = "SCORED"
	StatusScoringFailed    EssayStatus = "SCORING_FAILED" // terminal, retry-eligible via reanalysis
)

var allStatuses = []EssayStatus{
	StatusCreated,
	StatusExtracting,
	StatusExtracted,
	StatusExtractionFailed,
	StatusScoring,
	StatusScored,
	StatusScoringFailed,
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []EssayStatus {
	out := make([]EssayStatus, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus maps a stored or user supplied string to a known status.
func ParseStatus(s string) (EssayStatus, bool) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// InFlight reports whether a pipeline run owns the essay in this status.
func (s EssayStatus) InFlight() bool {
	return s == StatusCreated || s == StatusExtracting || s == StatusScoring
}

// Scoreable reports whether correction+scoring may start from this status.
func (s EssayStatus) Scoreable() bool {
	return s == StatusExtracted || s == StatusScoringFailed
}

// HasText reports whether the essay carries persisted extracted text.
func (s EssayStatus) HasText() bool {
	return s == StatusExtracted || s == StatusScoring || s == StatusScored || s == StatusScoringFailed
}
