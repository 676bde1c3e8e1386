// Package artifacts reads and writes the files workflow steps produce
// inside a skill's workspace directory.
package artifacts

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/aymanbagabas/go-udiff"
	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"

	"github.com/jingkaihe/skillbuilder/pkg/workflow"
)

// ErrOutsideSkill is returned for paths that escape the skill directory.
var ErrOutsideSkill = errors.New("path escapes the skill directory")

// Store resolves artifacts below a workspace root.
type Store struct {
	workspace string
}

// NewStore creates a store rooted at workspace.
func NewStore(workspace string) *Store {
	return &Store{workspace: workspace}
}

// Workspace returns the root directory.
func (s *Store) Workspace() string {
	return s.workspace
}

// Resolve returns the absolute path of relPath inside skillName.
func (s *Store) Resolve(skillName, relPath string) (string, error) {
	if skillName == "" || strings.ContainsAny(skillName, `/\`) || skillName == "." || skillName == ".." {
		return "", errors.Errorf("invalid skill name %q", skillName)
	}
	if relPath == "" || filepath.IsAbs(relPath) {
		return "", errors.Wrapf(ErrOutsideSkill, "%q", relPath)
	}

	root := workflow.SkillDir(s.workspace, skillName)
	full := filepath.Join(root, filepath.FromSlash(relPath))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrOutsideSkill, "%q", relPath)
	}
	return full, nil
}

// Read returns the content of relPath for a step of skillName.
func (s *Store) Read(skillName string, step int, relPath string) (string, error) {
	if _, err := workflow.StepAt(step); err != nil {
		return "", err
	}
	path, err := s.Resolve(skillName, relPath)
	if err != nil {
		return "", err
	}
	data, err := lockedfile.Read(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read artifact %s", relPath)
	}
	return string(data), nil
}

// Save writes content to relPath and returns a unified diff against the
// previous content. The diff is empty when nothing changed.
func (s *Store) Save(skillName string, step int, relPath, content string) (string, error) {
	if _, err := workflow.StepAt(step); err != nil {
		return "", err
	}
	path, err := s.Resolve(skillName, relPath)
	if err != nil {
		return "", err
	}

	old := ""
	if data, err := lockedfile.Read(path); err == nil {
		old = string(data)
	} else if !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "failed to read artifact %s", relPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create artifact directory")
	}
	if err := lockedfile.Write(path, bytes.NewReader([]byte(content)), 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write artifact %s", relPath)
	}

	if old == content {
		return "", nil
	}
	return udiff.Unified("a/"+relPath, "b/"+relPath, old, content), nil
}

// Capture reads every declared output of a step. Outputs that do not exist
// yet are left out.
func (s *Store) Capture(skillName string, step int) (map[string]string, error) {
	st, err := workflow.StepAt(step)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(st.Outputs))
	for _, rel := range st.Outputs {
		path, err := s.Resolve(skillName, rel)
		if err != nil {
			return nil, err
		}
		data, err := lockedfile.Read(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "failed to read artifact %s", rel)
		}
		out[rel] = string(data)
	}
	return out, nil
}
