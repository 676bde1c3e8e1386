package reasoning

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"

	"github.com/jingkaihe/skillbuilder/pkg/logger"
)

// SessionFile is the artifact path of the snapshot, relative to a skill's
// workspace directory.
const SessionFile = "context/reasoning-session.json"

// Store persists session snapshots keyed by skill name. Implementations
// must tolerate absent and corrupt data by returning NewState.
type Store interface {
	Load(ctx context.Context, skillName string) (State, error)
	Save(ctx context.Context, skillName string, state State) error
	Delete(ctx context.Context, skillName string) error
}

// decodeSnapshot parses raw snapshot bytes. Unusable data yields NewState
// and a warning; it is never an error.
func decodeSnapshot(ctx context.Context, skillName string, data []byte) State {
	if len(data) == 0 {
		return NewState()
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		logger.G(ctx).WithError(err).WithField("skill", skillName).Warn("corrupt reasoning session, starting over")
		return NewState()
	}
	if !state.normalize() {
		logger.G(ctx).WithField("skill", skillName).WithField("phase", state.Phase).Warn("invalid reasoning session, starting over")
		return NewState()
	}
	return state
}

// FileStore keeps each snapshot as JSON inside the skill's workspace.
type FileStore struct {
	workspace string
}

// NewFileStore creates a store rooted at workspace.
func NewFileStore(workspace string) *FileStore {
	return &FileStore{workspace: workspace}
}

// Path returns the snapshot file of skillName.
func (s *FileStore) Path(skillName string) string {
	return filepath.Join(s.workspace, skillName, filepath.FromSlash(SessionFile))
}

// Load reads the snapshot of skillName.
func (s *FileStore) Load(ctx context.Context, skillName string) (State, error) {
	data, err := lockedfile.Read(s.Path(skillName))
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return NewState(), errors.Wrap(err, "failed to read reasoning session")
	}
	return decodeSnapshot(ctx, skillName, data), nil
}

// Save writes state, with agent_running rewritten to summary.
func (s *FileStore) Save(_ context.Context, skillName string, state State) error {
	data, err := json.MarshalIndent(state.ForStorage(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal reasoning session")
	}

	path := s.Path(skillName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create session directory")
	}
	if err := lockedfile.Write(path, bytes.NewReader(data), 0o644); err != nil {
		return errors.Wrap(err, "failed to write reasoning session")
	}
	return nil
}

// Delete removes the snapshot of skillName.
func (s *FileStore) Delete(_ context.Context, skillName string) error {
	if err := os.Remove(s.Path(skillName)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove reasoning session")
	}
	return nil
}

// SQLStore keeps snapshots in the reasoning_sessions table.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps a migrated database.
func NewSQLStore(conn *sqlx.DB) *SQLStore {
	return &SQLStore{db: conn}
}

// Load reads the snapshot of skillName.
func (s *SQLStore) Load(ctx context.Context, skillName string) (State, error) {
	var snapshot string
	err := s.db.GetContext(ctx, &snapshot, "SELECT snapshot FROM reasoning_sessions WHERE skill_name = ?", skillName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewState(), nil
		}
		return NewState(), errors.Wrap(err, "failed to load reasoning session")
	}
	return decodeSnapshot(ctx, skillName, []byte(snapshot)), nil
}

// Save upserts state, with agent_running rewritten to summary.
func (s *SQLStore) Save(ctx context.Context, skillName string, state State) error {
	data, err := json.Marshal(state.ForStorage())
	if err != nil {
		return errors.Wrap(err, "failed to marshal reasoning session")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reasoning_sessions (skill_name, snapshot, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(skill_name) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at
	`, skillName, string(data), time.Now())
	return errors.Wrap(err, "failed to save reasoning session")
}

// Delete removes the snapshot of skillName.
func (s *SQLStore) Delete(ctx context.Context, skillName string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM reasoning_sessions WHERE skill_name = ?", skillName)
	return errors.Wrap(err, "failed to delete reasoning session")
}
