package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                  TEXT PRIMARY KEY,
	namespace_id        TEXT NOT NULL,
	creator_id          TEXT NOT NULL,
	section_id          TEXT NOT NULL,
	section_name        TEXT NOT NULL DEFAULT '',
	join_code           TEXT NOT NULL,
	problem             JSONB,
	participants        JSONB NOT NULL DEFAULT '[]',
	students            JSONB NOT NULL DEFAULT '{}',
	featured_student_id TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	last_activity       TIMESTAMPTZ NOT NULL
);

-- Join codes only have to be unique while the session is active.
CREATE UNIQUE INDEX IF NOT EXISTS sessions_active_join_code
	ON sessions (namespace_id, join_code) WHERE status = 'active';

CREATE INDEX IF NOT EXISTS sessions_section
	ON sessions (namespace_id, section_id, status);

CREATE TABLE IF NOT EXISTS problems (
	id                 TEXT PRIMARY KEY,
	author_id          TEXT NOT NULL,
	title              TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	starter_code       TEXT NOT NULL DEFAULT '',
	test_cases         JSONB,
	execution_settings JSONB
);

CREATE TABLE IF NOT EXISTS sections (
	id             TEXT PRIMARY KEY,
	namespace_id   TEXT NOT NULL,
	name           TEXT NOT NULL,
	instructor_ids JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS revisions (
	session_id TEXT NOT NULL,
	student_id TEXT NOT NULL,
	code       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS revisions_by_student
	ON revisions (session_id, student_id, created_at);
`

// Migrate creates the schema when it does not exist yet.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
