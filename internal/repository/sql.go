package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/essay-grader/constants"
	"github.com/joseph-ayodele/essay-grader/internal/common"
	"github.com/joseph-ayodele/essay-grader/internal/entity"
)

type sqlStore struct {
	db     *sql.DB
	d      dialect
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore wraps pool as *sql.DB and makes sure the schema exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (EssayStore, error) {
	s := &sqlStore{db: stdlib.OpenDBFromPool(pool), d: postgresDialect, pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens (creating if needed) a SQLite database at dsn.
func OpenSQLite(ctx context.Context, dsn string, logger *slog.Logger) (EssayStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w: %w", common.ErrDatabase, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	s := &sqlStore{db: db, d: sqliteDialect, logger: logger}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.logger.Error("schema migration failed", "dialect", s.d.name, "error", err)
			return dbErr("migrate", err)
		}
	}
	s.logger.Debug("schema ready", "dialect", s.d.name)
	return nil
}

func dbErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, common.ErrDatabase, err)
}

const essayColumns = `id, title, image_ref, image_mime, extracted_text, stats_json, quality_json,
	extraction_method, confidence, status, error_message, created_at, updated_at`

func (s *sqlStore) CreateEssay(ctx context.Context, in NewEssay) (uuid.UUID, error) {
	id := uuid.New()
	now := nowUTC()
	var expires int64
	if in.Owner != "" {
		expires = claimExpiry(in.Lease)
	}
	_, err := s.db.ExecContext(ctx, s.d.rebind(`INSERT INTO essays
	(id, title, image_ref, image_mime, status, claim_owner, claim_expires, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		id.String(), in.Title, in.ImageRef, in.ImageMime, string(constants.StatusCreated),
		nullString(in.Owner), expires, now, now)
	if err != nil {
		s.logger.Error("failed to create essay", "error", err)
		return uuid.Nil, dbErr("create essay", err)
	}
	return id, nil
}

func (s *sqlStore) GetEssay(ctx context.Context, id uuid.UUID) (*entity.Essay, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT `+essayColumns+` FROM essays WHERE id = ?`), id.String())
	e, err := scanEssay(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFoundf("essay %s", id)
	}
	if err != nil {
		s.logger.Error("failed to get essay", "essay_id", id, "error", err)
		return nil, dbErr("get essay", err)
	}
	return e, nil
}

func (s *sqlStore) ListEssays(ctx context.Context, filter ListFilter) ([]entity.Essay, error) {
	q := `SELECT ` + essayColumns + ` FROM essays`
	var args []any
	if filter.Status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	q += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, filter.limit())
	return s.queryEssays(ctx, "list essays", q, args...)
}

func (s *sqlStore) ListByStatus(ctx context.Context, statuses ...constants.EssayStatus) ([]entity.Essay, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, 0, len(statuses))
	for _, st := range statuses {
		args = append(args, string(st))
	}
	q := `SELECT ` + essayColumns + ` FROM essays WHERE status IN (` + marks + `) ORDER BY seq`
	return s.queryEssays(ctx, "list essays by status", q, args...)
}

func (s *sqlStore) queryEssays(ctx context.Context, op, q string, args ...any) ([]entity.Essay, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		s.logger.Error("essay query failed", "op", op, "error", err)
		return nil, dbErr(op, err)
	}
	defer rows.Close()

	var out []entity.Essay
	for rows.Next() {
		e, err := scanEssay(rows)
		if err != nil {
			return nil, dbErr(op, err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(op, err)
	}
	return out, nil
}

func (s *sqlStore) SetStatus(ctx context.Context, id uuid.UUID, status constants.EssayStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx, s.d.rebind(`UPDATE essays SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`),
		string(status), nullString(errMsg), nowUTC(), id.String())
	return s.checkUpdate("set status", id, res, err)
}

func (s *sqlStore) SetExtractedText(ctx context.Context, id uuid.UUID, out ExtractionOutcome) error {
	stats, err := json.Marshal(out.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	quality, err := json.Marshal(out.Quality)
	if err != nil {
		return fmt.Errorf("encode quality: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.d.rebind(`UPDATE essays SET extracted_text = ?, stats_json = ?, quality_json = ?,
	extraction_method = ?, confidence = ?, status = ?, error_message = NULL, updated_at = ? WHERE id = ?`),
		out.Text, string(stats), string(quality), out.Method, float64(out.Confidence), string(out.Status), nowUTC(), id.String())
	return s.checkUpdate("set extracted text", id, res, err)
}

func (s *sqlStore) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	res, err := s.db.ExecContext(ctx, s.d.rebind(`UPDATE essays SET title = ?, updated_at = ? WHERE id = ?`),
		title, nowUTC(), id.String())
	return s.checkUpdate("update title", id, res, err)
}

func (s *sqlStore) checkUpdate(op string, id uuid.UUID, res sql.Result, err error) error {
	if err != nil {
		s.logger.Error("essay update failed", "op", op, "essay_id", id, "error", err)
		return dbErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr(op, err)
	}
	if n == 0 {
		return common.NotFoundf("essay %s", id)
	}
	return nil
}

func (s *sqlStore) ClaimEssay(ctx context.Context, id uuid.UUID, owner string, lease time.Duration) error {
	res, err := s.db.ExecContext(ctx, s.d.rebind(`UPDATE essays SET claim_owner = ?, claim_expires = ?
	WHERE id = ? AND (claim_owner IS NULL OR claim_expires <= ?)`),
		owner, claimExpiry(lease), id.String(), nowUTC().UnixMilli())
	if err != nil {
		s.logger.Error("essay claim failed", "essay_id", id, "error", err)
		return dbErr("claim essay", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr("claim essay", err)
	}
	if n == 1 {
		return nil
	}

	var holder sql.NullString
	err = s.db.QueryRowContext(ctx, s.d.rebind(`SELECT claim_owner FROM essays WHERE id = ?`), id.String()).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return common.NotFoundf("essay %s", id)
	}
	if err != nil {
		return dbErr("claim essay", err)
	}
	return fmt.Errorf("essay %s claimed by %s: %w", id, holder.String, common.ErrAlreadyProcessing)
}

func (s *sqlStore) ReleaseEssay(ctx context.Context, id uuid.UUID, owner string) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(`UPDATE essays SET claim_owner = NULL, claim_expires = 0
	WHERE id = ? AND claim_owner = ?`), id.String(), owner)
	if err != nil {
		s.logger.Error("essay release failed", "essay_id", id, "error", err)
		return dbErr("release essay", err)
	}
	return nil
}

func (s *sqlStore) DeleteEssay(ctx context.Context, id uuid.UUID) error {
	return s.inTx(ctx, "delete essay", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.d.rebind(`DELETE FROM analyses WHERE essay_id = ?`), id.String()); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.d.rebind(`DELETE FROM essays WHERE id = ?`), id.String())
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return common.NotFoundf("essay %s", id)
		}
		return nil
	})
}

// analysisDetails holds the list-valued analysis fields stored as one JSON column.
type analysisDetails struct {
	Strengths    []string            `json:"pontosFavoraveis"`
	Improvements []string            `json:"pontosMelhoria"`
	Suggestions  []string            `json:"sugestoes"`
	Comments     []string            `json:"comentarios"`
	Corrections  []entity.Correction `json:"correcoes"`
}

func (s *sqlStore) AppendAnalysis(ctx context.Context, essayID uuid.UUID, a *entity.Analysis) (uuid.UUID, error) {
	if a == nil {
		return uuid.Nil, fmt.Errorf("append analysis: %w", common.ErrInvalidInput)
	}
	details, err := json.Marshal(analysisDetails{
		Strengths:    a.Strengths,
		Improvements: a.Improvements,
		Suggestions:  a.Suggestions,
		Comments:     a.Comments,
		Corrections:  a.Corrections,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode analysis details: %w", err)
	}
	id := uuid.New()
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = nowUTC()
	}

	err = s.inTx(ctx, "append analysis", func(tx *sql.Tx) error {
		now := nowUTC()
		res, err := tx.ExecContext(ctx, s.d.rebind(`UPDATE essays SET status = ?, error_message = NULL, updated_at = ? WHERE id = ?`),
			string(constants.StatusScored), now, essayID.String())
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return common.NotFoundf("essay %s", essayID)
		}
		b := a.Breakdown
		_, err = tx.ExecContext(ctx, s.d.rebind(`INSERT INTO analyses
	(id, essay_id, text_used, corrected_text, overall_score, tese, argumentos, coesao, repertorio, norma, details_json, model, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			id.String(), essayID.String(), a.TextUsed, a.CorrectedText, a.OverallScore,
			b.Tese, b.Argumentos, b.Coesao, b.Repertorio, b.Norma, string(details), a.Model, createdAt)
		return err
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

const analysisColumns = `id, essay_id, text_used, corrected_text, overall_score,
	tese, argumentos, coesao, repertorio, norma, details_json, model, created_at`

func (s *sqlStore) GetCurrentAnalysis(ctx context.Context, essayID uuid.UUID) (*entity.Analysis, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT `+analysisColumns+` FROM analyses
	WHERE essay_id = ? ORDER BY seq DESC LIMIT 1`), essayID.String())
	a, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFoundf("analysis for essay %s", essayID)
	}
	if err != nil {
		s.logger.Error("failed to get current analysis", "essay_id", essayID, "error", err)
		return nil, dbErr("get current analysis", err)
	}
	return a, nil
}

func (s *sqlStore) ListAnalyses(ctx context.Context, essayID uuid.UUID) ([]entity.Analysis, error) {
	if _, err := s.GetEssay(ctx, essayID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`SELECT `+analysisColumns+` FROM analyses
	WHERE essay_id = ? ORDER BY seq`), essayID.String())
	if err != nil {
		return nil, dbErr("list analyses", err)
	}
	defer rows.Close()

	out := []entity.Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, dbErr("list analyses", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list analyses", err)
	}
	return out, nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	if s.pool != nil {
		return HealthCheck(ctx, s.pool, 0, s.logger)
	}
	if err := s.db.PingContext(ctx); err != nil {
		return dbErr("ping", err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	s.logger.Info("closing database connections")
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	if err != nil {
		s.logger.Error("failed to close database", "error", err)
		return err
	}
	s.logger.Info("database connections closed")
	return nil
}

func (s *sqlStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, common.ErrNotFound) {
			return err
		}
		s.logger.Error("transaction failed", "op", op, "error", err)
		return dbErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return dbErr(op, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEssay(r rowScanner) (*entity.Essay, error) {
	var (
		e                   entity.Essay
		id, status          string
		text, stats, qual   sql.NullString
		errMsg              sql.NullString
		confidence          float64
		createdAt, updateAt time.Time
	)
	if err := r.Scan(&id, &e.Title, &e.ImageRef, &e.ImageMime, &text, &stats, &qual,
		&e.ExtractionMethod, &confidence, &status, &errMsg, &createdAt, &updateAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("essay id %q: %w", id, err)
	}
	e.ID = parsed
	e.Status = constants.EssayStatus(status)
	e.Confidence = float32(confidence)
	e.CreatedAt = createdAt.UTC()
	e.UpdatedAt = updateAt.UTC()
	if text.Valid {
		t := text.String
		e.ExtractedText = &t
	}
	if errMsg.Valid {
		m := errMsg.String
		e.ErrorMessage = &m
	}
	if stats.Valid && stats.String != "" {
		var st entity.TextStats
		if err := json.Unmarshal([]byte(stats.String), &st); err != nil {
			return nil, fmt.Errorf("decode stats: %w", err)
		}
		e.Stats = &st
	}
	if qual.Valid && qual.String != "" {
		var q entity.OCRQuality
		if err := json.Unmarshal([]byte(qual.String), &q); err != nil {
			return nil, fmt.Errorf("decode quality: %w", err)
		}
		e.OCRQuality = &q
	}
	return &e, nil
}

func scanAnalysis(r rowScanner) (*entity.Analysis, error) {
	var (
		a           entity.Analysis
		id, essayID string
		details     string
		b           entity.Breakdown
		createdAt   time.Time
	)
	if err := r.Scan(&id, &essayID, &a.TextUsed, &a.CorrectedText, &a.OverallScore,
		&b.Tese, &b.Argumentos, &b.Coesao, &b.Repertorio, &b.Norma, &details, &a.Model, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("analysis id %q: %w", id, err)
	}
	if a.EssayID, err = uuid.Parse(essayID); err != nil {
		return nil, fmt.Errorf("analysis essay id %q: %w", essayID, err)
	}
	var d analysisDetails
	if err := json.Unmarshal([]byte(details), &d); err != nil {
		return nil, fmt.Errorf("decode analysis details: %w", err)
	}
	a.Breakdown = b
	a.Strengths = nonNil(d.Strengths)
	a.Improvements = nonNil(d.Improvements)
	a.Suggestions = nonNil(d.Suggestions)
	a.Comments = nonNil(d.Comments)
	a.Corrections = d.Corrections
	if a.Corrections == nil {
		a.Corrections = []entity.Correction{}
	}
	a.CreatedAt = createdAt.UTC()
	return &a, nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
