package async

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job asks for one essay to be scored.
type Job struct {
	EssayID     uuid.UUID
	SubmittedAt time.Time
	Reason      string // recovery | batch | ingest
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
