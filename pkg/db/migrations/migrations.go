// Package migrations lists the schema migrations for the skillbuilder
// database. Append new migrations to All.
package migrations

import (
	"database/sql"

	"github.com/jingkaihe/skillbuilder/pkg/db"
	"github.com/pkg/errors"
)

// All returns every registered migration.
func All() []db.Migration {
	return []db.Migration{
		createAgentRuns(),
		createReasoningSessions(),
		addSkillIndexToAgentRuns(),
	}
}

func createAgentRuns() db.Migration {
	return db.Migration{
		Version:     20260901100000,
		Description: "Create agent_runs table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS agent_runs (
					id TEXT PRIMARY KEY,
					status TEXT NOT NULL,
					label TEXT NOT NULL DEFAULT '',
					skill_name TEXT NOT NULL DEFAULT '',
					step_index INTEGER NOT NULL DEFAULT -1,
					session_id TEXT NOT NULL DEFAULT '',
					model TEXT NOT NULL DEFAULT '',
					messages TEXT NOT NULL DEFAULT '[]',
					usage TEXT NOT NULL DEFAULT '{}',
					total_cost REAL NOT NULL DEFAULT 0,
					num_turns INTEGER NOT NULL DEFAULT 0,
					error TEXT NOT NULL DEFAULT '',
					start_time DATETIME NOT NULL,
					end_time DATETIME
				)
			`)
			return errors.Wrap(err, "failed to create agent_runs table")
		},
	}
}

func createReasoningSessions() db.Migration {
	return db.Migration{
		Version:     20260901100100,
		Description: "Create reasoning_sessions table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS reasoning_sessions (
					skill_name TEXT PRIMARY KEY,
					snapshot TEXT NOT NULL,
					updated_at DATETIME NOT NULL
				)
			`)
			return errors.Wrap(err, "failed to create reasoning_sessions table")
		},
	}
}

func addSkillIndexToAgentRuns() db.Migration {
	return db.Migration{
		Version:     20260915090000,
		Description: "Index agent_runs by skill and start time",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_agent_runs_skill_start ON agent_runs(skill_name, start_time DESC)`)
			return errors.Wrap(err, "failed to create agent_runs index")
		},
	}
}
