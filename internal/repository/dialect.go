package repository

import (
	"strconv"
	"strings"
)

// dialect covers the few places where Postgres and SQLite disagree.
type dialect struct {
	name      string
	dollar    bool // $1.. placeholders instead of ?
	serialPK  string
	timestamp string
	float     string
}

var (
	postgresDialect = dialect{
		name:      "postgres",
		dollar:    true,
		serialPK:  "BIGSERIAL PRIMARY KEY",
		timestamp: "TIMESTAMPTZ",
		float:     "DOUBLE PRECISION",
	}
	sqliteDialect = dialect{
		name:      "sqlite",
		serialPK:  "INTEGER PRIMARY KEY AUTOINCREMENT",
		timestamp: "TIMESTAMP",
		float:     "REAL",
	}
)

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(q string) string {
	if !d.dollar {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS essays (
	seq ` + d.serialPK + `,
	id TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	image_ref TEXT NOT NULL,
	image_mime TEXT NOT NULL,
	extracted_text TEXT,
	stats_json TEXT,
	quality_json TEXT,
	extraction_method TEXT NOT NULL DEFAULT '',
	confidence ` + d.float + ` NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT,
	claim_owner TEXT,
	claim_expires BIGINT NOT NULL DEFAULT 0,
	created_at ` + d.timestamp + ` NOT NULL,
	updated_at ` + d.timestamp + ` NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS essays_status_idx ON essays (status)`,
		`CREATE TABLE IF NOT EXISTS analyses (
	seq ` + d.serialPK + `,
	id TEXT NOT NULL UNIQUE,
	essay_id TEXT NOT NULL,
	text_used TEXT NOT NULL,
	corrected_text TEXT NOT NULL,
	overall_score ` + d.float + ` NOT NULL,
	tese ` + d.float + ` NOT NULL,
	argumentos ` + d.float + ` NOT NULL,
	coesao ` + d.float + ` NOT NULL,
	repertorio ` + d.float + ` NOT NULL,
	norma ` + d.float + ` NOT NULL,
	details_json TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	created_at ` + d.timestamp + ` NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS analyses_essay_idx ON analyses (essay_id, seq)`,
	}
}
