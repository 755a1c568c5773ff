package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/essay-grader/constants"
)

// ImageStore keeps the original essay images. The returned ref is what the
// essay row stores; Get and Delete take it back.
type ImageStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
	Ping(ctx context.Context) error
}

// ImageKey builds the object key for a new upload of the given mime type.
func ImageKey(mime string) string {
	ext, ok := constants.ExtForMime(mime)
	if !ok {
		ext = "bin"
	}
	return fmt.Sprintf("essays/%s.%s", uuid.NewString(), ext)
}
