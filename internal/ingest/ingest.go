// Package ingest submits essay images found on disk.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/essay-grader/constants"
	"github.com/joseph-ayodele/essay-grader/internal/entity"
)

const maxTitleRunes = 200

// Submitter is the part of the orchestrator ingest needs.
type Submitter interface {
	Submit(ctx context.Context, title string, image []byte, mime string) (*entity.Essay, error)
}

type FileResult struct {
	Path    string
	EssayID uuid.UUID
	Status  constants.EssayStatus
	Err     string
}

type DirStats struct {
	Scanned   uint32
	Matched   uint32
	Succeeded uint32
	Failed    uint32
}

type Ingestor struct {
	submitter Submitter
	logger    *slog.Logger
}

func New(submitter Submitter, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{submitter: submitter, logger: logger}
}

// AllowedPath reports whether path has an image extension we accept.
func AllowedPath(path string) bool {
	_, ok := constants.MimeForExt(filepath.Ext(path))
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// TitleFromPath derives an essay title from the file name.
func TitleFromPath(path string) string {
	base := filepath.Base(path)
	title := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes])
	}
	if title == "" {
		title = base
	}
	return title
}

// IngestPath submits one file. Extraction runs synchronously inside Submit, so
// the returned essay already carries its extraction outcome.
func (in *Ingestor) IngestPath(ctx context.Context, path string) (*entity.Essay, error) {
	mime, ok := constants.MimeForExt(filepath.Ext(path))
	if !ok {
		return nil, fmt.Errorf("%s: unsupported extension", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	e, err := in.submitter.Submit(ctx, TitleFromPath(path), data, mime)
	if err != nil {
		in.logger.Warn("ingest.file.failed", "path", path, "error", err)
		return nil, err
	}
	in.logger.Info("ingest.file.ok", "path", path, "essay_id", e.ID, "status", e.Status)
	return e, nil
}

// IngestDirectory walks root and submits every accepted image. A failing file
// is recorded and the walk goes on.
func (in *Ingestor) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var results []FileResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !AllowedPath(path) {
			return nil
		}
		stats.Matched++

		e, err := in.IngestPath(ctx, path)
		if err != nil {
			res := FileResult{Path: path, Err: err.Error()}
			if e != nil {
				res.EssayID = e.ID
			}
			results = append(results, res)
			stats.Failed++
			return nil
		}
		results = append(results, FileResult{Path: path, EssayID: e.ID, Status: e.Status})
		stats.Succeeded++
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	in.logger.Info("ingest.dir.done", "root", root,
		"scanned", stats.Scanned, "matched", stats.Matched, "succeeded", stats.Succeeded, "failed", stats.Failed)
	return results, stats, nil
}
