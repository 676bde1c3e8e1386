package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbuilder/pkg/types/agent"
)

// SQLStore keeps finished runs in the agent_runs table.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps an already migrated database.
func NewSQLStore(conn *sqlx.DB) *SQLStore {
	return &SQLStore{db: conn}
}

type runRow struct {
	ID        string       `db:"id"`
	Status    string       `db:"status"`
	Label     string       `db:"label"`
	SkillName string       `db:"skill_name"`
	StepIndex int          `db:"step_index"`
	SessionID string       `db:"session_id"`
	Model     string       `db:"model"`
	Messages  string       `db:"messages"`
	Usage     string       `db:"usage"`
	TotalCost float64      `db:"total_cost"`
	NumTurns  int          `db:"num_turns"`
	Error     string       `db:"error"`
	StartTime time.Time    `db:"start_time"`
	EndTime   sql.NullTime `db:"end_time"`
}

func toRow(run agent.AgentRun) (runRow, error) {
	messages, err := json.Marshal(run.Messages)
	if err != nil {
		return runRow{}, errors.Wrap(err, "failed to marshal run messages")
	}
	usage, err := json.Marshal(run.Usage)
	if err != nil {
		return runRow{}, errors.Wrap(err, "failed to marshal run usage")
	}

	row := runRow{
		ID:        run.ID,
		Status:    string(run.Status),
		Label:     run.Label,
		SkillName: run.SkillName,
		StepIndex: run.StepIndex,
		SessionID: run.SessionID,
		Model:     run.Model,
		Messages:  string(messages),
		Usage:     string(usage),
		TotalCost: run.TotalCost,
		NumTurns:  run.NumTurns,
		Error:     run.Error,
		StartTime: run.StartTime,
	}
	if run.EndTime != nil {
		row.EndTime = sql.NullTime{Time: *run.EndTime, Valid: true}
	}
	return row, nil
}

func (row runRow) toRun() (agent.AgentRun, error) {
	run := agent.AgentRun{
		ID:        row.ID,
		Status:    agent.RunStatus(row.Status),
		Label:     row.Label,
		SkillName: row.SkillName,
		StepIndex: row.StepIndex,
		SessionID: row.SessionID,
		Model:     row.Model,
		TotalCost: row.TotalCost,
		NumTurns:  row.NumTurns,
		Error:     row.Error,
		StartTime: row.StartTime,
	}
	if row.EndTime.Valid {
		end := row.EndTime.Time
		run.EndTime = &end
	}
	if err := json.Unmarshal([]byte(row.Messages), &run.Messages); err != nil {
		return run, errors.Wrapf(err, "failed to unmarshal messages of run %s", row.ID)
	}
	if err := json.Unmarshal([]byte(row.Usage), &run.Usage); err != nil {
		return run, errors.Wrapf(err, "failed to unmarshal usage of run %s", row.ID)
	}
	return run, nil
}

// SaveRun upserts run.
func (s *SQLStore) SaveRun(ctx context.Context, run agent.AgentRun) error {
	row, err := toRow(run)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO agent_runs (
			id, status, label, skill_name, step_index, session_id, model,
			messages, usage, total_cost, num_turns, error, start_time, end_time
		) VALUES (
			:id, :status, :label, :skill_name, :step_index, :session_id, :model,
			:messages, :usage, :total_cost, :num_turns, :error, :start_time, :end_time
		)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			session_id = excluded.session_id,
			model = excluded.model,
			messages = excluded.messages,
			usage = excluded.usage,
			total_cost = excluded.total_cost,
			num_turns = excluded.num_turns,
			error = excluded.error,
			end_time = excluded.end_time
	`, row)
	return errors.Wrap(err, "failed to save agent run")
}

// ListRuns returns the most recent runs, optionally restricted to one skill.
// A non-positive limit means no limit.
func (s *SQLStore) ListRuns(ctx context.Context, skillName string, limit int) ([]agent.AgentRun, error) {
	query := "SELECT * FROM agent_runs"
	var args []any
	if skillName != "" {
		query += " WHERE skill_name = ?"
		args = append(args, skillName)
	}
	query += " ORDER BY start_time DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list agent runs")
	}

	out := make([]agent.AgentRun, 0, len(rows))
	for _, row := range rows {
		run, err := row.toRun()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}
